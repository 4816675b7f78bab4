package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/services"
)

const maxProfileBodySize = 32 * 1024

// UserHandlers exposes profile endpoints for the authenticated account.
type UserHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewUserHandlers constructs a new UserHandlers instance.
func NewUserHandlers(authn *auth.Authenticator, users services.UserService) *UserHandlers {
	return &UserHandlers{authn: authn, users: users}
}

// Routes registers the /users endpoints.
func (h *UserHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.Get("/me", h.getProfile)
	r.Patch("/me", h.updateProfile)
	r.Post("/me/password", h.changePassword)
}

type userPayload struct {
	ID                 string                  `json:"id"`
	Name               string                  `json:"name"`
	Email              string                  `json:"email"`
	Role               string                  `json:"role"`
	Phone              string                  `json:"phone,omitempty"`
	Address            *addressPayload         `json:"address,omitempty"`
	ProfileImageURL    string                  `json:"profile_image_url,omitempty"`
	Business           *businessDetailsPayload `json:"business,omitempty"`
	IsVerified         bool                    `json:"is_verified"`
	IsExporterApproved bool                    `json:"is_exporter_approved,omitempty"`
	IsActive           bool                    `json:"is_active"`
	LastLoginAt        string                  `json:"last_login_at,omitempty"`
	CreatedAt          string                  `json:"created_at"`
	UpdatedAt          string                  `json:"updated_at,omitempty"`
}

// businessDetailsPayload carries the role-specific business profile. Farmers
// fill in the farm fields, exporters the company ones.
type businessDetailsPayload struct {
	FarmName      string `json:"farm_name,omitempty"`
	FarmSize      string `json:"farm_size,omitempty"`
	CompanyName   string `json:"company_name,omitempty"`
	LicenseNumber string `json:"license_number,omitempty"`
}

type userResponse struct {
	User userPayload `json:"user"`
}

type updateProfileRequest struct {
	Name            *string                 `json:"name"`
	Phone           *string                 `json:"phone"`
	Address         *addressPayload         `json:"address"`
	ProfileImageURL *string                 `json:"profile_image_url"`
	Business        *businessDetailsPayload `json:"business"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *UserHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	user, err := h.users.GetProfile(ctx, identity.ID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(user)})
}

func (h *UserHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req updateProfileRequest
	if err := decodeBody(ctx, w, r, maxProfileBodySize, &req); err != nil {
		return
	}

	cmd := services.UpdateProfileCommand{
		UserID:          identity.ID,
		Name:            req.Name,
		Phone:           req.Phone,
		ProfileImageURL: req.ProfileImageURL,
	}
	if req.Address != nil {
		addr := req.Address.toDomain()
		cmd.Address = &addr
	}
	if req.Business != nil {
		cmd.Business = &domain.BusinessDetails{
			FarmName:      strings.TrimSpace(req.Business.FarmName),
			FarmSize:      strings.TrimSpace(req.Business.FarmSize),
			CompanyName:   strings.TrimSpace(req.Business.CompanyName),
			LicenseNumber: strings.TrimSpace(req.Business.LicenseNumber),
		}
	}

	user, err := h.users.UpdateProfile(ctx, cmd)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(user)})
}

func (h *UserHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req changePasswordRequest
	if err := decodeBody(ctx, w, r, maxAuthBodySize, &req); err != nil {
		return
	}

	err := h.users.ChangePassword(ctx, services.ChangePasswordCommand{
		UserID:          identity.ID,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"status": "password_changed"})
}

func buildUserPayload(user services.User) userPayload {
	payload := userPayload{
		ID:                 strings.TrimSpace(user.ID),
		Name:               strings.TrimSpace(user.Name),
		Email:              strings.TrimSpace(user.Email),
		Role:               string(user.Role),
		Phone:              strings.TrimSpace(user.Phone),
		IsVerified:         user.IsVerified,
		IsExporterApproved: user.IsExporterApproved,
		IsActive:           user.IsActive,
		LastLoginAt:        formatTime(pointerTime(user.LastLoginAt)),
		CreatedAt:          formatTime(user.CreatedAt),
		UpdatedAt:          formatTime(user.UpdatedAt),
	}
	if user.Address != (services.Address{}) {
		addr := buildAddressPayload(user.Address)
		payload.Address = &addr
	}
	payload.ProfileImageURL = strings.TrimSpace(user.ProfileImageURL)
	if user.Business != nil {
		payload.Business = &businessDetailsPayload{
			FarmName:      user.Business.FarmName,
			FarmSize:      user.Business.FarmSize,
			CompanyName:   user.Business.CompanyName,
			LicenseNumber: user.Business.LicenseNumber,
		}
	}
	return payload
}
