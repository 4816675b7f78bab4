package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/repositories"
	"github.com/agrilink/api/internal/services"
)

type stubUserService struct {
	registerFn func(context.Context, services.RegisterUserCommand) (services.AuthSession, error)
	loginFn    func(context.Context, services.LoginCommand) (services.AuthSession, error)
	passwordFn func(context.Context, services.ChangePasswordCommand) error
	profileFn  func(context.Context, string) (services.User, error)
	updateFn   func(context.Context, services.UpdateProfileCommand) (services.User, error)
	listFn     func(context.Context, repositories.UserListFilter) ([]services.User, error)
	actionFn   func(kind, userID, actorID string) (services.User, error)
}

func (s *stubUserService) Register(ctx context.Context, cmd services.RegisterUserCommand) (services.AuthSession, error) {
	if s.registerFn != nil {
		return s.registerFn(ctx, cmd)
	}
	return services.AuthSession{}, errors.New("not implemented")
}

func (s *stubUserService) Login(ctx context.Context, cmd services.LoginCommand) (services.AuthSession, error) {
	if s.loginFn != nil {
		return s.loginFn(ctx, cmd)
	}
	return services.AuthSession{}, errors.New("not implemented")
}

func (s *stubUserService) ChangePassword(ctx context.Context, cmd services.ChangePasswordCommand) error {
	if s.passwordFn != nil {
		return s.passwordFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func (s *stubUserService) GetProfile(ctx context.Context, userID string) (services.User, error) {
	if s.profileFn != nil {
		return s.profileFn(ctx, userID)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubUserService) UpdateProfile(ctx context.Context, cmd services.UpdateProfileCommand) (services.User, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubUserService) Deactivate(ctx context.Context, cmd services.DeactivateUserCommand) (services.User, error) {
	if s.actionFn != nil {
		return s.actionFn("deactivate", cmd.UserID, cmd.ActorID)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubUserService) VerifyUser(ctx context.Context, cmd services.VerifyUserCommand) (services.User, error) {
	if s.actionFn != nil {
		return s.actionFn("verify", cmd.UserID, cmd.ActorID)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubUserService) ApproveExporter(ctx context.Context, cmd services.ApproveExporterCommand) (services.User, error) {
	if s.actionFn != nil {
		return s.actionFn("approve-exporter", cmd.UserID, cmd.ActorID)
	}
	return services.User{}, errors.New("not implemented")
}

func (s *stubUserService) ListUsers(ctx context.Context, filter repositories.UserListFilter) ([]services.User, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubUserService) EnsureAdmin(ctx context.Context, cmd services.EnsureAdminCommand) (services.User, error) {
	return services.User{}, errors.New("not implemented")
}

func sampleUser() services.User {
	return services.User{
		ID:        "usr_buyer",
		Name:      "Nimal Perera",
		Email:     "nimal@example.com",
		Role:      domain.UserRoleBuyer,
		IsActive:  true,
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newAuthRouter(service *stubUserService) chi.Router {
	handler := NewAuthHandlers(service)
	router := chi.NewRouter()
	router.Route("/auth", handler.Routes)
	return router
}

func TestAuthHandlersRegisterReturnsSession(t *testing.T) {
	var captured services.RegisterUserCommand
	service := &stubUserService{
		registerFn: func(_ context.Context, cmd services.RegisterUserCommand) (services.AuthSession, error) {
			captured = cmd
			return services.AuthSession{
				User:      sampleUser(),
				Token:     "jwt-token",
				ExpiresAt: time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	router := newAuthRouter(service)

	body := `{
		"name": "Nimal Perera",
		"email": "Nimal@Example.com",
		"password": "correct horse",
		"role": "Buyer",
		"address": {"city": "Colombo", "country": "LK"}
	}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.Role != domain.UserRoleBuyer {
		t.Fatalf("role = %q", captured.Role)
	}
	if captured.Address.City != "Colombo" {
		t.Fatalf("address = %+v", captured.Address)
	}

	var resp sessionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Token != "jwt-token" || resp.User.ID != "usr_buyer" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAuthHandlersRegisterMapsValidationDetails(t *testing.T) {
	service := &stubUserService{
		registerFn: func(context.Context, services.RegisterUserCommand) (services.AuthSession, error) {
			validation := &services.ValidationError{Fields: []services.FieldError{
				{Field: "email", Reason: "must be a valid email address"},
			}}
			return services.AuthSession{}, fmt.Errorf("%w: %w", services.ErrUserInvalidInput, validation)
		},
	}
	router := newAuthRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email": "nope"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "must be a valid email address") {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestAuthHandlersRegisterMapsEmailTaken(t *testing.T) {
	service := &stubUserService{
		registerFn: func(context.Context, services.RegisterUserCommand) (services.AuthSession, error) {
			return services.AuthSession{}, fmt.Errorf("%w: nimal@example.com", services.ErrUserEmailTaken)
		},
	}
	router := newAuthRouter(service)

	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(`{"email": "nimal@example.com"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestAuthHandlersLoginMapsCredentialErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "bad credentials", err: services.ErrUserBadCredentials, wantCode: http.StatusUnauthorized},
		{name: "deactivated", err: services.ErrUserDeactivated, wantCode: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service := &stubUserService{
				loginFn: func(context.Context, services.LoginCommand) (services.AuthSession, error) {
					return services.AuthSession{}, fmt.Errorf("%w: login", tc.err)
				},
			}
			router := newAuthRouter(service)

			req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email": "a@b.c", "password": "x"}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tc.wantCode)
			}
		})
	}
}

func TestAuthHandlersRejectsOversizedBody(t *testing.T) {
	router := newAuthRouter(&stubUserService{})

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email": "`+strings.Repeat("a", maxAuthBodySize)+`"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rr.Code)
	}
}
