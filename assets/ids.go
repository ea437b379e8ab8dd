package assets

import (
	"path"
	"strconv"
	"strings"
)

const (
	msgInvalidModelID   = "Invalid model ID."
	msgModelNotFound    = "Model not found"
	msgMaterialNotFound = "Material not found"
)

// ParseModelID accepts only a base-10 positive integer with no sign or padding. Ids
// are capped at the signed 64-bit range every supported database can store.
func ParseModelID(raw string) (uint64, error) {
	if raw == "" || raw[0] < '0' || raw[0] > '9' {
		return 0, invalid(msgInvalidModelID)
	}
	id, err := strconv.ParseUint(raw, 10, 63)
	if err != nil || id == 0 {
		return 0, invalid(msgInvalidModelID)
	}
	return id, nil
}

// FileTypeOf returns the uppercased extension of ref without its dot. Names without an
// extension and dotfiles such as ".env" yield "".
func FileTypeOf(ref string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(ref), "\\", "/"))
	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return ""
	}
	return strings.ToUpper(base[idx+1:])
}
