// Package storage persists uploaded survey files. Backends are addressed by
// URI so a batch row records exactly where its blob lives: file:// for the
// local filesystem, s3:// for object storage.
package storage

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/skawano/lecfeed/internal/config"
)

// Error marks a storage backend failure. Backend errors are transient from
// the pipeline's point of view and eligible for retry.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

// Store persists and retrieves uploaded files.
type Store interface {
	// Save writes data under the given relative path and returns the URI of
	// the stored object.
	Save(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// Load reads back a blob by the URI Save returned.
	Load(ctx context.Context, uri string) ([]byte, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, uri string) error
}

// New builds the store selected by the storage configuration.
func New(cfg *config.Config) (Store, error) {
	switch cfg.Storage.Backend {
	case "s3":
		return NewS3Store(cfg.Storage.S3)
	case "local", "":
		return NewLocalStore(cfg.UploadDir())
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// BuildPath constructs the relative storage path for an upload:
// <course-slug>/<date>-lecture-<n>/<uuid-hex>_<safe filename>.
func BuildPath(courseName, lectureDate string, lectureNumber int, filename string) string {
	if filename == "" {
		filename = "uploaded.csv"
	}
	return strings.Join([]string{
		slugify(courseName, false),
		fmt.Sprintf("%s-lecture-%d", lectureDate, lectureNumber),
		fmt.Sprintf("%x_%s", [16]byte(uuid.New()), slugify(filename, true)),
	}, "/")
}

var (
	slugPattern     = regexp.MustCompile(`[^a-z0-9_-]+`)
	slugFilePattern = regexp.MustCompile(`[^a-z0-9._-]+`)
	dashRun         = regexp.MustCompile(`-{2,}`)
)

// slugify lowercases and replaces anything outside the safe character set
// with dashes. Filenames additionally keep periods for their extension.
func slugify(raw string, allowPeriod bool) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	pattern := slugPattern
	if allowPeriod {
		pattern = slugFilePattern
	}
	value = pattern.ReplaceAllString(value, "-")
	value = dashRun.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-")
	if value == "" {
		return "value"
	}
	return value
}

// apiKeyFromEnv reads a credential named by an env-var key, tolerating an
// unset variable.
func apiKeyFromEnv(envKey string) string {
	if envKey == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envKey))
}
