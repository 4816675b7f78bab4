package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/agrilink/api/internal/platform/httpx"
)

const defaultLoadTimeout = 5 * time.Second

// TokenVerifier validates bearer tokens and returns their claims.
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

// IdentityLoader resolves the current account state for the authenticated user ID.
// Tokens only prove who the caller was at issuance; account flags such as
// deactivation or exporter approval are always read from the current record.
type IdentityLoader func(ctx context.Context, userID string) (*Identity, error)

// ResourceFetcher loads a protected resource by its route identifier.
type ResourceFetcher func(ctx context.Context, id string) (OwnedResource, error)

// NotFoundChecker reports whether a fetch error means the resource does not exist.
type NotFoundChecker func(err error) bool

// Authenticator wires token verification and account lookup into HTTP middleware.
type Authenticator struct {
	tokens   TokenVerifier
	loadUser IdentityLoader
	timeout  time.Duration
}

// AuthenticatorOption customises Authenticator behaviour.
type AuthenticatorOption func(*Authenticator)

// WithLoadTimeout sets the timeout used when loading account state.
func WithLoadTimeout(d time.Duration) AuthenticatorOption {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(tokens TokenVerifier, loadUser IdentityLoader, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		tokens:   tokens,
		loadUser: loadUser,
		timeout:  defaultLoadTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Require verifies the Authorization bearer token and attaches the identity to the context.
// Deactivated accounts are rejected.
func (a *Authenticator) Require() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.authenticate(r)
			if err != nil {
				writeAuthError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// Optional attaches the identity when a valid bearer token is present and
// passes the request through unauthenticated otherwise.
func (a *Authenticator) Optional() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.authenticate(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRoles rejects authenticated requests whose role is not in the allowed set.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if normalised := normaliseRole(role); normalised != "" {
			allowed[normalised] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, r, errUnauthenticated)
				return
			}
			if _, ok := allowed[normaliseRole(identity.Role)]; !ok {
				httpx.WriteError(r.Context(), w, httpx.NewError("insufficient_role", "you do not have permission to perform this action", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireVerified rejects unverified accounts, admins included. Verification
// is a property of the account, not of its role.
func RequireVerified() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, r, errUnauthenticated)
				return
			}
			if !identity.IsVerified {
				httpx.WriteError(r.Context(), w, httpx.NewError("account_not_verified", "account must be verified to perform this action", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireExporterApproval rejects exporters that have not been approved yet.
// Other roles pass unchanged.
func RequireExporterApproval() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, r, errUnauthenticated)
				return
			}
			if identity.HasRole(RoleExporter) && !identity.IsExporterApproved {
				httpx.WriteError(r.Context(), w, httpx.NewError("exporter_not_approved", "exporter approval is required for this action", http.StatusForbidden))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnership fetches the resource named by the route parameter extractor and
// rejects callers who do not own it. Administrators bypass the ownership check.
// The fetched resource is attached to the context so handlers avoid a second read.
func RequireOwnership(fetch ResourceFetcher, isNotFound NotFoundChecker, paramValue func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeAuthError(w, r, errUnauthenticated)
				return
			}

			id := strings.TrimSpace(paramValue(r))
			if id == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "resource id is required", http.StatusBadRequest))
				return
			}

			resource, err := fetch(r.Context(), id)
			if err != nil {
				if isNotFound != nil && isNotFound(err) {
					httpx.WriteError(r.Context(), w, httpx.NewError("not_found", "resource not found", http.StatusNotFound))
					return
				}
				httpx.WriteError(r.Context(), w, httpx.NewError("internal_server_error", "failed to load resource", http.StatusInternalServerError))
				return
			}

			if !identity.IsAdmin() && resource.ResourceOwnerID() != identity.ID {
				httpx.WriteError(r.Context(), w, httpx.NewError("forbidden", "you do not own this resource", http.StatusForbidden))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithResource(r.Context(), resource)))
		})
	}
}

var (
	errUnauthenticated = errors.New("auth: missing or invalid credentials")
	errAccountInactive = errors.New("auth: account deactivated")
)

func (a *Authenticator) authenticate(r *http.Request) (*Identity, error) {
	if a == nil || a.tokens == nil || a.loadUser == nil {
		return nil, errUnauthenticated
	}

	tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, errUnauthenticated
	}

	claims, err := a.tokens.Verify(tokenStr)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	identity, err := a.loadUser(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if identity == nil || !identity.IsActive {
		return nil, errAccountInactive
	}
	return identity, nil
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		httpx.WriteError(r.Context(), w, httpx.NewError("token_expired", "access token expired", http.StatusUnauthorized))
	case errors.Is(err, errAccountInactive):
		httpx.WriteError(r.Context(), w, httpx.NewError("account_deactivated", "account has been deactivated", http.StatusUnauthorized))
	default:
		httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	}
}
