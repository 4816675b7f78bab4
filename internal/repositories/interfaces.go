package repositories

import (
	"context"
	"time"

	"github.com/agrilink/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserRepository persists marketplace accounts.
type UserRepository interface {
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	List(ctx context.Context, filter UserListFilter) ([]domain.User, error)
}

// ProductRepository persists produce listings and their inquiry logs.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) ([]domain.Product, error)
	AppendInquiry(ctx context.Context, productID string, inquiry domain.Inquiry) error
	IncrementViews(ctx context.Context, productIDs ...string) error
	// DecrementQuantities atomically reduces available stock for all listed
	// products, marking a product sold when it reaches zero. Fails with a
	// conflict error when any remaining quantity is insufficient, in which
	// case no product is modified. Implementations perform all reads before
	// the first write so the batch can run inside an ambient transaction.
	DecrementQuantities(ctx context.Context, decrements []QuantityDecrement, at time.Time) ([]domain.Product, error)
}

// QuantityDecrement names one product's stock reduction inside a batch.
type QuantityDecrement struct {
	ProductID string
	Amount    float64
}

// OrderRepository persists orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	Update(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// Filter DTOs shared across repositories ------------------------------------

// UserListFilter narrows account listings.
type UserListFilter struct {
	Role       *domain.UserRole
	IsVerified *bool
	IsActive   *bool
	Pagination domain.Pagination
}

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	FarmerID    string
	Category    *domain.ProductCategory
	District    string
	Grade       *domain.QualityGrade
	Status      *domain.ProductStatus
	ExportReady *bool
	Verified    *bool
	MinPrice    int64
	MaxPrice    int64
	Pagination  domain.Pagination
}

// OrderListFilter narrows order listings. Actor filters are mutually exclusive.
type OrderListFilter struct {
	BuyerID    string
	FarmerID   string
	ExporterID string
	Status     *domain.OrderStatus
	Pagination domain.Pagination
}
