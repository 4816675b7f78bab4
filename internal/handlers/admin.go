package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/repositories"
	"github.com/agrilink/api/internal/services"
)

// AdminHandlers exposes the moderation surface: account verification, the
// exporter approval switch, and listing verification.
type AdminHandlers struct {
	authn    *auth.Authenticator
	users    services.UserService
	products services.ProductService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, users services.UserService, products services.ProductService) *AdminHandlers {
	return &AdminHandlers{authn: authn, users: users, products: products}
}

// Routes registers the /admin endpoints. Every route requires the admin role.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.Use(auth.RequireRoles(auth.RoleAdmin))

	r.Get("/users", h.listUsers)
	r.Post("/users/{userID}/verify", h.verifyUser)
	r.Post("/users/{userID}/deactivate", h.deactivateUser)
	r.Post("/users/{userID}/approve-exporter", h.approveExporter)
	r.Post("/products/{productID}/verify", h.verifyProduct)
}

type userListResponse struct {
	Items []userPayload `json:"items"`
}

func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("user_service_unavailable", "user service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := repositories.UserListFilter{
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("role"))); raw != "" {
		role := domain.UserRole(raw)
		if !domain.ValidUserRole(role) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "role is not recognised", http.StatusBadRequest))
			return
		}
		filter.Role = &role
	}
	verified, err := parseBoolParam(query.Get("is_verified"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "is_verified "+err.Error(), http.StatusBadRequest))
		return
	}
	filter.IsVerified = verified
	active, err := parseBoolParam(query.Get("is_active"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "is_active "+err.Error(), http.StatusBadRequest))
		return
	}
	filter.IsActive = active

	users, err := h.users.ListUsers(ctx, filter)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}

	items := make([]userPayload, 0, len(users))
	for _, user := range users {
		items = append(items, buildUserPayload(user))
	}
	writeJSONResponse(w, http.StatusOK, userListResponse{Items: items})
}

func (h *AdminHandlers) verifyUser(w http.ResponseWriter, r *http.Request) {
	h.runUserAction(w, r, func(userID, actorID string) (services.User, error) {
		return h.users.VerifyUser(r.Context(), services.VerifyUserCommand{UserID: userID, ActorID: actorID})
	})
}

func (h *AdminHandlers) deactivateUser(w http.ResponseWriter, r *http.Request) {
	h.runUserAction(w, r, func(userID, actorID string) (services.User, error) {
		return h.users.Deactivate(r.Context(), services.DeactivateUserCommand{UserID: userID, ActorID: actorID})
	})
}

func (h *AdminHandlers) approveExporter(w http.ResponseWriter, r *http.Request) {
	h.runUserAction(w, r, func(userID, actorID string) (services.User, error) {
		return h.users.ApproveExporter(r.Context(), services.ApproveExporterCommand{UserID: userID, ActorID: actorID})
	})
}

func (h *AdminHandlers) runUserAction(w http.ResponseWriter, r *http.Request, action func(userID, actorID string) (services.User, error)) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "user id is required", http.StatusBadRequest))
		return
	}

	user, err := action(userID, identity.ID)
	if err != nil {
		writeUserError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, userResponse{User: buildUserPayload(user)})
}

func (h *AdminHandlers) verifyProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.products.VerifyProduct(ctx, services.VerifyProductCommand{
		ProductID: productID,
		ActorID:   identity.ID,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product, identity)})
}
