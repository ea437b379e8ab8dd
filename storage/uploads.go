package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"modelhub_back/metrics"
)

const defaultMaxUploadBytes int64 = 512 * 1024 * 1024

var (
	ErrNoPayload = errors.New("storage: no file uploaded")
	ErrTooLarge  = errors.New("storage: upload exceeds size limit")
)

// StoredFile describes a file accepted by Save.
type StoredFile struct {
	Ref  string
	Name string
	Size int64
}

// StoredEntry is one regular file found in the uploads directory.
type StoredEntry struct {
	Name    string
	Ref     string
	Size    int64
	ModTime time.Time
}

// Uploads is the flat directory holding every stored file. A reference is the uploads
// prefix followed by the file name, e.g. "/uploads/1712345678901-chair.glb".
type Uploads struct {
	dir      string
	prefix   string
	maxBytes int64
	mirror   *Mirror
	logger   *logrus.Logger
	now      func() time.Time
}

type Option func(*Uploads)

func WithMaxBytes(n int64) Option {
	return func(u *Uploads) {
		if n > 0 {
			u.maxBytes = n
		}
	}
}

func WithMirror(m *Mirror) Option {
	return func(u *Uploads) { u.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(u *Uploads) {
		if now != nil {
			u.now = now
		}
	}
}

// NewUploads prepares dir (creating it if needed) and serves references under prefix.
func NewUploads(dir, prefix string, logger *logrus.Logger, opts ...Option) (*Uploads, error) {
	trimmed := strings.TrimSpace(dir)
	if trimmed == "" {
		trimmed = "./uploads"
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve uploads dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure uploads dir: %w", err)
	}

	normalized := "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if normalized == "/" {
		normalized = "/uploads"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	u := &Uploads{
		dir:      abs,
		prefix:   normalized,
		maxBytes: defaultMaxUploadBytes,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u, nil
}

func (u *Uploads) Dir() string {
	if u == nil {
		return ""
	}
	return u.dir
}

func (u *Uploads) Prefix() string {
	if u == nil {
		return ""
	}
	return u.prefix
}

// Save writes src under a timestamp-prefixed copy of originalName and returns its reference.
func (u *Uploads) Save(ctx context.Context, originalName string, src io.Reader) (StoredFile, error) {
	if u == nil {
		return StoredFile{}, errors.New("storage: uploads not configured")
	}
	if src == nil {
		return StoredFile{}, ErrNoPayload
	}

	name := fmt.Sprintf("%d-%s", u.now().UnixMilli(), sanitizeFileName(originalName))
	target := filepath.Join(u.dir, name)

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("storage: create %s: %w", name, err)
	}

	written, err := io.Copy(dst, io.LimitReader(src, u.maxBytes+1))
	closeErr := dst.Close()
	switch {
	case err != nil:
		os.Remove(target)
		return StoredFile{}, fmt.Errorf("storage: write %s: %w", name, err)
	case closeErr != nil:
		os.Remove(target)
		return StoredFile{}, fmt.Errorf("storage: close %s: %w", name, closeErr)
	case written > u.maxBytes:
		os.Remove(target)
		return StoredFile{}, fmt.Errorf("%w (%d bytes)", ErrTooLarge, u.maxBytes)
	}

	if u.mirror != nil {
		if err := u.mirror.Put(ctx, name, target); err != nil {
			u.logger.WithError(err).WithField("name", name).Warn("storage: mirror upload failed")
		}
	}

	return StoredFile{Ref: u.prefix + "/" + name, Name: name, Size: written}, nil
}

// Remove deletes the file behind ref and reports whether it is gone afterwards. Missing
// files count as gone. Failures are logged and counted, never returned.
func (u *Uploads) Remove(ctx context.Context, ref string) bool {
	if u == nil || strings.TrimSpace(ref) == "" {
		return false
	}

	name, ok := u.NameOf(ref)
	if !ok {
		metrics.RecordCleanup(metrics.CleanupSkipped)
		u.logger.WithField("ref", ref).Warn("storage: reference outside uploads dir, skipping removal")
		return false
	}

	full := filepath.Join(u.dir, name)
	err := os.Remove(full)
	gone := true
	switch {
	case err == nil:
		metrics.RecordCleanup(metrics.CleanupRemoved)
		u.logger.WithField("path", full).Info("storage: removed file")
	case errors.Is(err, fs.ErrNotExist):
		metrics.RecordCleanup(metrics.CleanupAbsent)
		u.logger.WithField("path", full).Debug("storage: file already absent")
	default:
		gone = false
		metrics.RecordCleanup(metrics.CleanupFailed)
		u.logger.WithError(err).WithFields(logrus.Fields{"ref": ref, "path": full}).Warn("storage: failed to remove file")
	}

	if u.mirror != nil {
		if err := u.mirror.Remove(ctx, name); err != nil {
			u.logger.WithError(err).WithField("name", name).Warn("storage: mirror removal failed")
		}
	}
	return gone
}

// NameOf returns the file name a reference points to inside the uploads directory.
func (u *Uploads) NameOf(ref string) (string, bool) {
	if u == nil {
		return "", false
	}
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return "", false
	}

	cleaned := path.Clean("/" + strings.ReplaceAll(trimmed, "\\", "/"))
	name, found := strings.CutPrefix(cleaned, u.prefix+"/")
	if !found || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// Resolve maps ref to its absolute path inside the uploads directory.
func (u *Uploads) Resolve(ref string) (string, bool) {
	name, ok := u.NameOf(ref)
	if !ok {
		return "", false
	}
	return filepath.Join(u.dir, name), true
}

// List enumerates the regular files currently stored.
func (u *Uploads) List(ctx context.Context) ([]StoredEntry, error) {
	if u == nil {
		return nil, nil
	}
	entries, err := os.ReadDir(u.dir)
	if err != nil {
		return nil, fmt.Errorf("storage: read uploads dir: %w", err)
	}

	result := make([]StoredEntry, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("storage: stat %s: %w", entry.Name(), err)
		}
		result = append(result, StoredEntry{
			Name:    entry.Name(),
			Ref:     u.prefix + "/" + entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return result, nil
}

func sanitizeFileName(name string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	base := path.Base(normalized)
	base = strings.TrimLeft(base, ".")
	if base == "" || base == "/" {
		return "file"
	}
	return base
}
