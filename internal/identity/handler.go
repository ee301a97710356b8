package identity

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/bissquit/payments-admin/internal/domain"
	"github.com/bissquit/payments-admin/internal/pkg/ctxlog"
	"github.com/bissquit/payments-admin/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Response messages.
const (
	msgDuplicateSuperadmin = "Ya existe un superadmin"
	msgRegisterFailed      = "Error al registrar usuario"
	msgInvalidCredentials  = "Credenciales incorrectas"
	msgLoginFailed         = "Error en el login"
	msgListFailed          = "Error al obtener los usuarios"
	msgUserNotFound        = "Usuario no encontrado"
	msgGetFailed           = "Error al obtener el usuario"
	msgUpdateFailed        = "Error al actualizar el usuario"
	msgDeleteFailed        = "Error al eliminar el usuario"
	msgUserDeleted         = "Usuario eliminado"
	msgInvalidRole         = "Rol inválido"
	msgUsernameTaken       = "El nombre de usuario ya existe"
	msgInvalidBody         = "Solicitud inválida"
)

// Handler handles HTTP requests for the identity module.
type Handler struct {
	service   *Service
	validator *validator.Validate
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(),
	}
}

// RegisterPublicRoutes registers the unauthenticated credential routes.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Post("/register", h.Register)
	r.Post("/login", h.Login)
}

// RegisterRoutes registers user administration routes. The caller applies the role gate.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.ListUsers)
	r.Get("/{id}", h.GetUser)
	r.Put("/{id}", h.UpdateUser)
	r.Delete("/{id}", h.DeleteUser)
}

// RegisterRequest represents registration request body.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required,oneof=superadmin admin user"`
}

// Register handles POST /register.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgRegisterFailed)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		ctxlog.FromContext(r.Context()).Debug("invalid registration", "error", err)
		httputil.Error(w, http.StatusBadRequest, msgRegisterFailed)
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		Username: req.Username,
		Password: req.Password,
		Role:     domain.Role(req.Role),
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSuperadmin) {
			httputil.Error(w, http.StatusBadRequest, msgDuplicateSuperadmin)
			return
		}
		ctxlog.FromContext(r.Context()).Warn("registration failed", "error", err)
		httputil.Error(w, http.StatusBadRequest, msgRegisterFailed)
		return
	}

	httputil.JSON(w, http.StatusCreated, user)
}

// LoginRequest represents login request body.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token string `json:"token"`
}

// Login handles POST /login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	// Missing fields get the same answer as wrong ones.
	if err := h.validator.Struct(req); err != nil {
		httputil.Error(w, http.StatusUnauthorized, msgInvalidCredentials)
		return
	}

	token, err := h.service.Login(r.Context(), LoginInput(req))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgLoginFailed,
			httputil.ErrorMapping{Error: ErrInvalidCredentials, Status: http.StatusUnauthorized, Message: msgInvalidCredentials},
		)
		return
	}

	httputil.JSON(w, http.StatusOK, LoginResponse{Token: token})
}

// ListUsers handles GET /.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgListFailed)
		return
	}

	httputil.JSON(w, http.StatusOK, users)
}

// GetUser handles GET /{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.Error(w, http.StatusNotFound, msgUserNotFound)
		return
	}

	user, err := h.service.GetUserByID(r.Context(), id)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgGetFailed, notFoundMapping)
		return
	}

	httputil.JSON(w, http.StatusOK, user)
}

// UpdateUserRequest represents the partial update body. Empty fields are ignored.
type UpdateUserRequest struct {
	Username string `json:"username" validate:"omitempty,max=255"`
	Role     string `json:"role" validate:"omitempty,oneof=superadmin admin user"`
}

// UpdateUser handles PUT /{id}.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.Error(w, http.StatusNotFound, msgUserNotFound)
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	if err := h.validator.Struct(req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgInvalidRole)
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, UpdateInput{
		Username: req.Username,
		Role:     domain.Role(req.Role),
	})
	if err != nil {
		httputil.HandleError(r.Context(), w, err, msgUpdateFailed,
			notFoundMapping,
			httputil.ErrorMapping{Error: ErrDuplicateSuperadmin, Status: http.StatusBadRequest, Message: msgDuplicateSuperadmin},
			httputil.ErrorMapping{Error: ErrUsernameTaken, Status: http.StatusBadRequest, Message: msgUsernameTaken},
			httputil.ErrorMapping{Error: ErrInvalidRole, Status: http.StatusBadRequest, Message: msgInvalidRole},
		)
		return
	}

	httputil.JSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /{id}.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(r)
	if !ok {
		httputil.Error(w, http.StatusNotFound, msgUserNotFound)
		return
	}

	if err := h.service.DeleteUser(r.Context(), id); err != nil {
		httputil.HandleError(r.Context(), w, err, msgDeleteFailed, notFoundMapping)
		return
	}

	httputil.Message(w, http.StatusOK, msgUserDeleted)
}

var notFoundMapping = httputil.ErrorMapping{Error: ErrUserNotFound, Status: http.StatusNotFound, Message: msgUserNotFound}

// parseID reads the {id} path parameter. Ids that are not positive integers
// cannot exist, so callers answer them with 404.
func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
