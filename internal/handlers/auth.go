package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/services"
)

const maxAuthBodySize = 16 * 1024

// AuthHandlers exposes registration and login endpoints.
type AuthHandlers struct {
	users services.UserService
}

// NewAuthHandlers constructs a new AuthHandlers instance.
func NewAuthHandlers(users services.UserService) *AuthHandlers {
	return &AuthHandlers{users: users}
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/register", h.register)
	r.Post("/login", h.login)
}

type registerRequest struct {
	Name     string         `json:"name"`
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Role     string         `json:"role"`
	Phone    string         `json:"phone,omitempty"`
	Address  addressPayload `json:"address,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      userPayload `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt string      `json:"expires_at"`
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req registerRequest
	if err := decodeBody(ctx, w, r, maxAuthBodySize, &req); err != nil {
		return
	}

	session, err := h.users.Register(ctx, services.RegisterUserCommand{
		Name:     strings.TrimSpace(req.Name),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Role:     domain.UserRole(strings.ToLower(strings.TrimSpace(req.Role))),
		Phone:    strings.TrimSpace(req.Phone),
		Address:  req.Address.toDomain(),
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildSessionResponse(session))
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req loginRequest
	if err := decodeBody(ctx, w, r, maxAuthBodySize, &req); err != nil {
		return
	}

	session, err := h.users.Login(ctx, services.LoginCommand{
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildSessionResponse(session))
}

func buildSessionResponse(session services.AuthSession) sessionResponse {
	return sessionResponse{
		User:      buildUserPayload(session.User),
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
	}
}

// decodeBody reads and unmarshals the request body, writing the error response
// itself so callers can simply return.
func decodeBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	err := decodeJSONBody(r, limit, dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
	return err
}

func writeUserError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		apiErr := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
		if details := validationDetails(err); details != nil {
			apiErr = apiErr.WithDetails(details)
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrUserEmailTaken):
		httpx.WriteError(ctx, w, httpx.NewError("email_taken", "an account with this email already exists", http.StatusConflict))
	case errors.Is(err, services.ErrUserBadCredentials):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "email or password is incorrect", http.StatusUnauthorized))
	case errors.Is(err, services.ErrUserDeactivated):
		httpx.WriteError(ctx, w, httpx.NewError("account_deactivated", "this account has been deactivated", http.StatusForbidden))
	case errors.Is(err, services.ErrUserNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("user_not_found", "user not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("user_error", "failed to process user request", http.StatusInternalServerError))
	}
}
