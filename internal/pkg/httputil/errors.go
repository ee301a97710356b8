package httputil

import (
	"context"
	"errors"
	"net/http"

	"github.com/bissquit/payments-admin/internal/pkg/ctxlog"
)

// ErrorMapping defines how a domain error maps to an HTTP response.
type ErrorMapping struct {
	Error   error
	Status  int
	Message string // if empty, uses err.Error()
}

// HandleError maps err to a response using mappings. Unmapped errors are
// logged and answered with 500 and fallback as the message.
func HandleError(ctx context.Context, w http.ResponseWriter, err error, fallback string, mappings ...ErrorMapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Error) {
			msg := m.Message
			if msg == "" {
				msg = err.Error()
			}
			Error(w, m.Status, msg)
			return
		}
	}
	ctxlog.FromContext(ctx).Error("internal error", "error", err)
	Error(w, http.StatusInternalServerError, fallback)
}
