// Package receipts stores uploaded payment receipts.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotPDF is returned when an upload is not a PDF document.
	ErrNotPDF = errors.New("receipt is not a pdf")
	// ErrReceiptNotFound is returned when no object exists under a key.
	ErrReceiptNotFound = errors.New("receipt not found")
)

// Store persists receipt files and hands back an opaque key.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (key string, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// ValidatePDF accepts a file only when both its extension and its declared
// content type say pdf.
func ValidatePDF(filename, contentType string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext != ".pdf" || !strings.Contains(strings.ToLower(contentType), "pdf") {
		return ErrNotPDF
	}
	return nil
}

// newKey builds "<unix-millis>-<uuid>-<name>" with name reduced to a safe base name.
func newKey(now time.Time, name string) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), uuid.NewString(), sanitize(name))
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.TrimLeft(b.String(), ".")
	if s == "" {
		return "receipt.pdf"
	}
	return s
}

// validKey rejects keys that could escape the store's namespace.
func validKey(key string) bool {
	return key != "" && key == sanitize(key) && !strings.Contains(key, "..")
}
