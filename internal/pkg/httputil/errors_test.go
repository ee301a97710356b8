package httputil

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errMissing = errors.New("missing")

func TestHandleError(t *testing.T) {
	mappings := []ErrorMapping{
		{Error: errMissing, Status: http.StatusNotFound, Message: "Pago no encontrado"},
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"mapped", errMissing, http.StatusNotFound, `{"error":"Pago no encontrado"}`},
		{"wrapped", fmt.Errorf("get: %w", errMissing), http.StatusNotFound, `{"error":"Pago no encontrado"}`},
		{"unmapped", errors.New("pg: connection refused"), http.StatusInternalServerError, `{"error":"Error al obtener el pago"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			HandleError(context.Background(), rec, tt.err, "Error al obtener el pago", mappings...)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestHandleError_DefaultsToErrorText(t *testing.T) {
	rec := httptest.NewRecorder()
	HandleError(context.Background(), rec, errMissing, "fallback",
		ErrorMapping{Error: errMissing, Status: http.StatusBadRequest})

	assert.JSONEq(t, `{"error":"missing"}`, rec.Body.String())
}
