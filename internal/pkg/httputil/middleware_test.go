package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubValidator accepts tokens of the form "<role>" and returns id 7.
type stubValidator struct{}

func (stubValidator) ValidateToken(_ context.Context, token string) (int64, domain.Role, error) {
	role := domain.Role(token)
	if !role.Valid() {
		return 0, "", errors.New("invalid")
	}
	return 7, role, nil
}

func gated(role domain.Role) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]any{
			"id":   GetUserID(r.Context()),
			"role": GetRole(r.Context()),
		})
	})
	return AuthMiddleware(stubValidator{})(RequireRole(role)(ok))
}

func serve(t *testing.T, h http.Handler, header string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no scheme", "admin"},
		{"basic scheme", "Basic admin"},
		{"empty bearer", "Bearer "},
		{"invalid token", "Bearer nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serve(t, gated(""), tt.header)
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, MsgInvalidToken, body["error"])
		})
	}
}

func TestAuthMiddleware_AttachesIdentity(t *testing.T) {
	code, body := serve(t, gated(""), "Bearer user")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(7), body["id"])
	assert.Equal(t, "user", body["role"])
}

func TestAuthMiddleware_SchemeCaseInsensitive(t *testing.T) {
	code, _ := serve(t, gated(domain.RoleAdmin), "bearer admin")
	assert.Equal(t, http.StatusOK, code)
}

func TestRequireRole_ExactMatch(t *testing.T) {
	tests := []struct {
		required domain.Role
		caller   domain.Role
		want     int
	}{
		{domain.RoleAdmin, domain.RoleAdmin, http.StatusOK},
		{domain.RoleSuperadmin, domain.RoleSuperadmin, http.StatusOK},
		{domain.RoleAdmin, domain.RoleSuperadmin, http.StatusForbidden},
		{domain.RoleSuperadmin, domain.RoleAdmin, http.StatusForbidden},
		{domain.RoleAdmin, domain.RoleUser, http.StatusForbidden},
		{domain.RoleUser, domain.RoleAdmin, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(string(tt.required)+"/"+string(tt.caller), func(t *testing.T) {
			code, body := serve(t, gated(tt.required), "Bearer "+string(tt.caller))
			assert.Equal(t, tt.want, code)
			if tt.want == http.StatusForbidden {
				assert.Equal(t, MsgForbidden, body["error"])
			}
		})
	}
}

func TestRequireRole_WithoutAuth(t *testing.T) {
	h := RequireRole(domain.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	code, body := serve(t, h, "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, MsgInvalidToken, body["error"])
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, ok := BearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer   abc.def  ")
	token, ok := BearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "abc.def", token)
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"https://admin.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/pay", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://admin.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/pay", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
