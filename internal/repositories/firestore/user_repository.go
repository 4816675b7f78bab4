package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/agrilink/api/internal/domain"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
	"github.com/agrilink/api/internal/repositories"
)

const userCollection = "users"

type addressDocument struct {
	Street   string `firestore:"street"`
	City     string `firestore:"city"`
	District string `firestore:"district"`
	Country  string `firestore:"country"`
}

type businessDetailsDocument struct {
	FarmName      string `firestore:"farmName,omitempty"`
	FarmSize      string `firestore:"farmSize,omitempty"`
	CompanyName   string `firestore:"companyName,omitempty"`
	LicenseNumber string `firestore:"licenseNumber,omitempty"`
}

type userDocument struct {
	Name               string                   `firestore:"name"`
	Email              string                   `firestore:"email"`
	PasswordHash       string                   `firestore:"passwordHash"`
	Role               string                   `firestore:"role"`
	Phone              string                   `firestore:"phone"`
	Address            addressDocument          `firestore:"address"`
	ProfileImageURL    string                   `firestore:"profileImageUrl,omitempty"`
	Business           *businessDetailsDocument `firestore:"business,omitempty"`
	IsVerified         bool                     `firestore:"isVerified"`
	IsExporterApproved bool                     `firestore:"isExporterApproved"`
	IsActive           bool                     `firestore:"isActive"`
	LastLoginAt        *time.Time               `firestore:"lastLoginAt,omitempty"`
	CreatedAt          time.Time                `firestore:"createdAt"`
	UpdatedAt          time.Time                `firestore:"updatedAt"`
}

// UserRepository implements repositories.UserRepository backed by Firestore.
type UserRepository struct {
	base     *pfirestore.BaseRepository[userDocument]
	provider *pfirestore.Provider
}

var _ repositories.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs a Firestore-backed user repository.
func NewUserRepository(provider *pfirestore.Provider) (*UserRepository, error) {
	if provider == nil {
		return nil, errors.New("user repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[userDocument](provider, userCollection, nil, nil)
	return &UserRepository{base: base, provider: provider}, nil
}

// Insert creates the user document, failing with a conflict when the ID exists.
func (r *UserRepository) Insert(ctx context.Context, user domain.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}

	_, err := r.base.Create(ctx, user.ID, fromDomainUser(user))
	return err
}

// Update overwrites the user document.
func (r *UserRepository) Update(ctx context.Context, user domain.User) error {
	if strings.TrimSpace(user.ID) == "" {
		return errors.New("user id is required")
	}
	_, err := r.base.Set(ctx, user.ID, fromDomainUser(user))
	return err
}

// FindByID loads the user by document ID.
func (r *UserRepository) FindByID(ctx context.Context, userID string) (domain.User, error) {
	doc, err := r.base.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return toDomainUser(doc.ID, doc.Data), nil
}

// FindByEmail loads the user owning the given email. Emails are stored lowercase.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return domain.User{}, errors.New("email is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("email", "==", email).Limit(1)
	})
	if err != nil {
		return domain.User{}, err
	}
	if len(docs) == 0 {
		return domain.User{}, pfirestore.WrapError("users.findByEmail", status.Error(codes.NotFound, "user not found"))
	}
	return toDomainUser(docs[0].ID, docs[0].Data), nil
}

// List returns users matching the filter ordered by creation time descending.
func (r *UserRepository) List(ctx context.Context, filter repositories.UserListFilter) ([]domain.User, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.Role != nil {
			q = q.Where("role", "==", string(*filter.Role))
		}
		if filter.IsVerified != nil {
			q = q.Where("isVerified", "==", *filter.IsVerified)
		}
		if filter.IsActive != nil {
			q = q.Where("isActive", "==", *filter.IsActive)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Pagination.PageSize > 0 {
			q = q.Limit(filter.Pagination.PageSize)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, toDomainUser(doc.ID, doc.Data))
	}
	return users, nil
}

func fromDomainUser(user domain.User) userDocument {
	var business *businessDetailsDocument
	if user.Business != nil {
		business = &businessDetailsDocument{
			FarmName:      user.Business.FarmName,
			FarmSize:      user.Business.FarmSize,
			CompanyName:   user.Business.CompanyName,
			LicenseNumber: user.Business.LicenseNumber,
		}
	}
	return userDocument{
		Name:               user.Name,
		Email:              strings.ToLower(strings.TrimSpace(user.Email)),
		PasswordHash:       user.PasswordHash,
		Role:               string(user.Role),
		Phone:              user.Phone,
		Address:            fromDomainAddress(user.Address),
		ProfileImageURL:    user.ProfileImageURL,
		Business:           business,
		IsVerified:         user.IsVerified,
		IsExporterApproved: user.IsExporterApproved,
		IsActive:           user.IsActive,
		LastLoginAt:        user.LastLoginAt,
		CreatedAt:          user.CreatedAt,
		UpdatedAt:          user.UpdatedAt,
	}
}

func toDomainUser(id string, doc userDocument) domain.User {
	var business *domain.BusinessDetails
	if doc.Business != nil {
		business = &domain.BusinessDetails{
			FarmName:      doc.Business.FarmName,
			FarmSize:      doc.Business.FarmSize,
			CompanyName:   doc.Business.CompanyName,
			LicenseNumber: doc.Business.LicenseNumber,
		}
	}
	return domain.User{
		ID:                 id,
		Name:               doc.Name,
		Email:              doc.Email,
		PasswordHash:       doc.PasswordHash,
		Role:               domain.UserRole(doc.Role),
		Phone:              doc.Phone,
		Address:            toDomainAddress(doc.Address),
		ProfileImageURL:    doc.ProfileImageURL,
		Business:           business,
		IsVerified:         doc.IsVerified,
		IsExporterApproved: doc.IsExporterApproved,
		IsActive:           doc.IsActive,
		LastLoginAt:        doc.LastLoginAt,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
}

func fromDomainAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Street:   addr.Street,
		City:     addr.City,
		District: addr.District,
		Country:  addr.Country,
	}
}

func toDomainAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Street:   doc.Street,
		City:     doc.City,
		District: doc.District,
		Country:  doc.Country,
	}
}
