package assets

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Failure kinds. Match with errors.Is.
var (
	ErrValidation  = errors.New("validation failure")
	ErrNotFound    = errors.New("not found")
	ErrReferential = errors.New("referential failure")
	ErrStorage     = errors.New("storage failure")
)

// Failure is the single outcome type returned by the service for every failed operation.
type Failure struct {
	Kind    error
	Message string
	// Details is diagnostic text safe to show to callers; only referential failures set it.
	Details string
	Cause   error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %v", f.Message, f.Cause)
	}
	return f.Message
}

func (f *Failure) Is(target error) bool {
	return target == f.Kind
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

func invalid(message string) *Failure {
	return &Failure{Kind: ErrValidation, Message: message}
}

func notFound(message string) *Failure {
	return &Failure{Kind: ErrNotFound, Message: message}
}

func referential(message, details string, cause error) *Failure {
	return &Failure{Kind: ErrReferential, Message: message, Details: details, Cause: cause}
}

// classify maps a store error onto the failure taxonomy. Errors that already carry a kind
// pass through untouched.
func classify(op, missing string, err error) error {
	if err == nil {
		return nil
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notFound(missing)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return referential(msgMaterialCreateFailed, "referenced model does not exist", err)
	default:
		return &Failure{Kind: ErrStorage, Message: op + " failed", Cause: err}
	}
}
