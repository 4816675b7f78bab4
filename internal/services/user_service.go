package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/repositories"
)

const userIDPrefix = "usr_"

var (
	// ErrUserInvalidInput indicates the request payload failed validation.
	ErrUserInvalidInput = errors.New("user: invalid input")
	// ErrUserNotFound indicates the referenced account does not exist.
	ErrUserNotFound = errors.New("user: not found")
	// ErrUserEmailTaken indicates the email address is already registered.
	ErrUserEmailTaken = errors.New("user: email already registered")
	// ErrUserBadCredentials indicates the email/password pair did not match.
	ErrUserBadCredentials = errors.New("user: invalid credentials")
	// ErrUserDeactivated indicates the account exists but has been disabled.
	ErrUserDeactivated = errors.New("user: account deactivated")

	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\-\s]{6,20}$`)
)

const minPasswordLength = 8

// TokenIssuer mints signed session tokens for authenticated identities.
type TokenIssuer interface {
	Issue(identity auth.Identity) (string, time.Time, error)
}

// UserServiceDeps bundles the dependencies required to construct a user service instance.
type UserServiceDeps struct {
	Users       repositories.UserRepository
	Tokens      TokenIssuer
	Mailer      Mailer
	BcryptCost  int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type userService struct {
	users      repositories.UserRepository
	tokens     TokenIssuer
	mailer     Mailer
	bcryptCost int
	clock      func() time.Time
	newID      func() string
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewUserService wires dependencies into a concrete UserService implementation.
func NewUserService(deps UserServiceDeps) (UserService, error) {
	if deps.Users == nil {
		return nil, errors.New("user service requires a user repository")
	}
	if deps.Tokens == nil {
		return nil, errors.New("user service requires a token issuer")
	}

	cost := deps.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &userService{
		users:      deps.Users,
		tokens:     deps.Tokens,
		mailer:     deps.Mailer,
		bcryptCost: cost,
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *userService) Register(ctx context.Context, cmd RegisterUserCommand) (AuthSession, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	name := strings.TrimSpace(cmd.Name)
	phone := strings.TrimSpace(cmd.Phone)

	rules := []fieldRule{
		{field: "name", check: func() string {
			if name == "" {
				return "name is required"
			}
			if utf8.RuneCountInString(name) > 120 {
				return "name must be at most 120 characters"
			}
			return ""
		}},
		{field: "email", check: func() string {
			if email == "" {
				return "email is required"
			}
			if !emailPattern.MatchString(email) {
				return "email is malformed"
			}
			return ""
		}},
		{field: "password", check: func() string {
			if utf8.RuneCountInString(cmd.Password) < minPasswordLength {
				return fmt.Sprintf("password must be at least %d characters", minPasswordLength)
			}
			return ""
		}},
		{field: "role", check: func() string {
			if !domain.ValidUserRole(cmd.Role) || cmd.Role == domain.UserRoleAdmin {
				return "role must be one of farmer, buyer, exporter"
			}
			return ""
		}},
		{field: "phone", check: func() string {
			if phone != "" && !phonePattern.MatchString(phone) {
				return "phone is malformed"
			}
			return ""
		}},
	}
	if err := runRules(rules); err != nil {
		return AuthSession{}, fmt.Errorf("%w: %w", ErrUserInvalidInput, err)
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return AuthSession{}, ErrUserEmailTaken
	} else if !repositories.IsNotFound(err) {
		return AuthSession{}, s.mapRepositoryError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.bcryptCost)
	if err != nil {
		return AuthSession{}, fmt.Errorf("user: hash password: %w", err)
	}

	now := s.now()
	user := User{
		ID:           userIDPrefix + s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         cmd.Role,
		Phone:        phone,
		Address:      cmd.Address,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Insert(ctx, user); err != nil {
		if repositories.IsConflict(err) {
			return AuthSession{}, fmt.Errorf("%w: %v", ErrUserEmailTaken, err)
		}
		return AuthSession{}, s.mapRepositoryError(err)
	}

	s.sendMail(ctx, "user.mail.welcome", user.ID, func() error {
		return s.mailer.SendWelcome(ctx, user)
	})

	return s.session(user)
}

func (s *userService) Login(ctx context.Context, cmd LoginCommand) (AuthSession, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" || cmd.Password == "" {
		return AuthSession{}, fmt.Errorf("%w: email and password are required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if repositories.IsNotFound(err) {
			return AuthSession{}, ErrUserBadCredentials
		}
		return AuthSession{}, s.mapRepositoryError(err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.Password)) != nil {
		return AuthSession{}, ErrUserBadCredentials
	}
	if !user.IsActive {
		return AuthSession{}, ErrUserDeactivated
	}

	now := s.now()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		// Login still succeeds when the lastLogin stamp cannot be persisted.
		s.logger(ctx, "user.login.stamp.failed", map[string]any{
			"user":  user.ID,
			"error": err.Error(),
		})
	}

	return s.session(user)
}

func (s *userService) ChangePassword(ctx context.Context, cmd ChangePasswordCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	if utf8.RuneCountInString(cmd.NewPassword) < minPasswordLength {
		return fmt.Errorf("%w: new password must be at least %d characters", ErrUserInvalidInput, minPasswordLength)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(cmd.CurrentPassword)) != nil {
		return ErrUserBadCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.NewPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("user: hash password: %w", err)
	}

	user.PasswordHash = string(hash)
	user.UpdatedAt = s.now()
	return s.mapRepositoryError(s.users.Update(ctx, user))
}

func (s *userService) GetProfile(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name cannot be empty", ErrUserInvalidInput)
		}
		user.Name = name
	}
	if cmd.Phone != nil {
		phone := strings.TrimSpace(*cmd.Phone)
		if phone != "" && !phonePattern.MatchString(phone) {
			return User{}, fmt.Errorf("%w: phone is malformed", ErrUserInvalidInput)
		}
		user.Phone = phone
	}
	if cmd.Address != nil {
		user.Address = *cmd.Address
	}
	if cmd.ProfileImageURL != nil {
		user.ProfileImageURL = strings.TrimSpace(*cmd.ProfileImageURL)
	}
	if cmd.Business != nil {
		business := *cmd.Business
		user.Business = &business
	}

	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) Deactivate(ctx context.Context, cmd DeactivateUserCommand) (User, error) {
	return s.setFlag(ctx, cmd.UserID, func(user *User) {
		user.IsActive = false
	})
}

func (s *userService) VerifyUser(ctx context.Context, cmd VerifyUserCommand) (User, error) {
	return s.setFlag(ctx, cmd.UserID, func(user *User) {
		user.IsVerified = true
	})
}

func (s *userService) ApproveExporter(ctx context.Context, cmd ApproveExporterCommand) (User, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	if user.Role != domain.UserRoleExporter {
		return User{}, fmt.Errorf("%w: account is not an exporter", ErrUserInvalidInput)
	}

	user.IsExporterApproved = true
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return User{}, s.mapRepositoryError(err)
	}

	s.sendMail(ctx, "user.mail.exporter_approval", user.ID, func() error {
		return s.mailer.SendExporterApproval(ctx, user)
	})
	return user, nil
}

func (s *userService) ListUsers(ctx context.Context, filter repositories.UserListFilter) ([]User, error) {
	users, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return users, nil
}

// EnsureAdmin creates the bootstrap admin account when it does not exist yet.
// Called once at startup; an existing account is returned untouched.
func (s *userService) EnsureAdmin(ctx context.Context, cmd EnsureAdminCommand) (User, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" || cmd.Password == "" {
		return User{}, fmt.Errorf("%w: admin email and password are required", ErrUserInvalidInput)
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !repositories.IsNotFound(err) {
		return User{}, s.mapRepositoryError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cmd.Password), s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("user: hash password: %w", err)
	}

	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		name = "Administrator"
	}

	now := s.now()
	admin := User{
		ID:           userIDPrefix + s.newID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         domain.UserRoleAdmin,
		IsVerified:   true,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Insert(ctx, admin); err != nil {
		if repositories.IsConflict(err) {
			// Raced with another instance seeding the same account.
			return s.users.FindByEmail(ctx, email)
		}
		return User{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "user.admin.seeded", map[string]any{"user": admin.ID, "email": admin.Email})
	return admin, nil
}

func (s *userService) setFlag(ctx context.Context, userID string, mutate func(*User)) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, fmt.Errorf("%w: user id is required", ErrUserInvalidInput)
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return User{}, s.mapRepositoryError(err)
	}

	mutate(&user)
	user.UpdatedAt = s.now()
	if err := s.users.Update(ctx, user); err != nil {
		return User{}, s.mapRepositoryError(err)
	}
	return user, nil
}

func (s *userService) session(user User) (AuthSession, error) {
	token, expiresAt, err := s.tokens.Issue(auth.Identity{
		ID:                 user.ID,
		Email:              user.Email,
		Role:               string(user.Role),
		IsVerified:         user.IsVerified,
		IsExporterApproved: user.IsExporterApproved,
		IsActive:           user.IsActive,
	})
	if err != nil {
		return AuthSession{}, fmt.Errorf("user: issue token: %w", err)
	}

	user.PasswordHash = ""
	return AuthSession{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *userService) sendMail(ctx context.Context, event, userID string, send func() error) {
	if s.mailer == nil {
		return
	}
	if err := send(); err != nil {
		s.logger(ctx, event+".failed", map[string]any{
			"user":  userID,
			"error": err.Error(),
		})
	}
}

func (s *userService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrUserNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrUserEmailTaken, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("user: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *userService) now() time.Time {
	return s.clock()
}
