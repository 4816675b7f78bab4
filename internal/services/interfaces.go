package services

import (
	"context"
	"time"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	User               = domain.User
	UserRole           = domain.UserRole
	Address            = domain.Address
	Product            = domain.Product
	ProductImage       = domain.ProductImage
	Inquiry            = domain.Inquiry
	Quantity           = domain.Quantity
	Price              = domain.Price
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderDetails       = domain.OrderDetails
	OrderStatus        = domain.OrderStatus
	OrderType          = domain.OrderType
	Payment            = domain.Payment
	ExportDetails      = domain.ExportDetails
	Shipping           = domain.Shipping
	CommunicationEntry = domain.CommunicationEntry
	Timeline           = domain.Timeline
	OrderStatGroup     = domain.OrderStatGroup
)

// UserService owns account lifecycle: registration, credentials, and the
// admin verification/approval switches.
type UserService interface {
	Register(ctx context.Context, cmd RegisterUserCommand) (AuthSession, error)
	Login(ctx context.Context, cmd LoginCommand) (AuthSession, error)
	ChangePassword(ctx context.Context, cmd ChangePasswordCommand) error
	GetProfile(ctx context.Context, userID string) (User, error)
	UpdateProfile(ctx context.Context, cmd UpdateProfileCommand) (User, error)
	Deactivate(ctx context.Context, cmd DeactivateUserCommand) (User, error)
	VerifyUser(ctx context.Context, cmd VerifyUserCommand) (User, error)
	ApproveExporter(ctx context.Context, cmd ApproveExporterCommand) (User, error)
	ListUsers(ctx context.Context, filter repositories.UserListFilter) ([]User, error)
	EnsureAdmin(ctx context.Context, cmd EnsureAdminCommand) (User, error)
}

// ProductService owns listing lifecycle and the inquiry ledger.
type ProductService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	RemoveProduct(ctx context.Context, cmd RemoveProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string, opts ProductReadOptions) (Product, error)
	ListProducts(ctx context.Context, filter repositories.ProductListFilter, opts ProductReadOptions) ([]Product, error)
	AddInquiry(ctx context.Context, cmd AddInquiryCommand) (Product, error)
	VerifyProduct(ctx context.Context, cmd VerifyProductCommand) (Product, error)
	CategorySummaries(ctx context.Context) ([]ProductCategorySummary, error)
	DistrictSummaries(ctx context.Context) ([]ProductDistrictSummary, error)
}

// OrderService is the order lifecycle engine: creation with derived fields,
// the status state machine, the communication log, and role-scoped stats.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	AddCommunication(ctx context.Context, cmd AddCommunicationCommand) (Order, error)
	UpdatePayment(ctx context.Context, cmd UpdateOrderPaymentCommand) (Order, error)
	OrderStats(ctx context.Context, query OrderStatsQuery) ([]OrderStatGroup, error)
}

// Mailer delivers outbound notification email. Every send is best-effort:
// services log failures and never fail the triggering operation.
type Mailer interface {
	SendWelcome(ctx context.Context, user User) error
	SendOrderConfirmation(ctx context.Context, order Order, buyer User, farmer User) error
	SendOrderStatusUpdate(ctx context.Context, order Order, recipient User, status OrderStatus) error
	SendPaymentConfirmation(ctx context.Context, order Order, recipient User) error
	SendExporterApproval(ctx context.Context, user User) error
}

// Command and DTO definitions ------------------------------------------------

// AuthSession is the result of a successful registration or login.
type AuthSession struct {
	User      User
	Token     string
	ExpiresAt time.Time
}

type RegisterUserCommand struct {
	Name     string
	Email    string
	Password string
	Role     UserRole
	Phone    string
	Address  Address
}

type LoginCommand struct {
	Email    string
	Password string
}

type ChangePasswordCommand struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
}

type UpdateProfileCommand struct {
	UserID          string
	Name            *string
	Phone           *string
	Address         *Address
	ProfileImageURL *string
	Business        *domain.BusinessDetails
}

type DeactivateUserCommand struct {
	UserID  string
	ActorID string
}

type VerifyUserCommand struct {
	UserID  string
	ActorID string
}

type ApproveExporterCommand struct {
	UserID  string
	ActorID string
}

// EnsureAdminCommand seeds the bootstrap admin account at startup.
type EnsureAdminCommand struct {
	Email    string
	Password string
	Name     string
}

type CreateProductCommand struct {
	FarmerID          string
	Name              string
	Variety           string
	Description       string
	Category          domain.ProductCategory
	FarmLocation      string
	District          string
	Coordinates       *domain.GeoPoint
	Images            []ProductImage
	Quantity          Quantity
	Grade             domain.QualityGrade
	Certifications    []string
	Price             Price
	BulkDiscount      *domain.BulkDiscount
	HarvestDate       time.Time
	ExpiryDate        time.Time
	StorageConditions string
	ExportReady       bool
}

type UpdateProductCommand struct {
	ProductID         string
	ActorID           string
	Name              *string
	Variety           *string
	Description       *string
	FarmLocation      *string
	District          *string
	Coordinates       *domain.GeoPoint
	Images            []ProductImage
	Quantity          *Quantity
	Grade             *domain.QualityGrade
	Certifications    []string
	Price             *Price
	BulkDiscount      *domain.BulkDiscount
	HarvestDate       *time.Time
	ExpiryDate        *time.Time
	StorageConditions *string
	ExportReady       *bool
	Status            *domain.ProductStatus
}

type RemoveProductCommand struct {
	ProductID string
	ActorID   string
}

type ProductReadOptions struct {
	CountView bool
}

type AddInquiryCommand struct {
	ProductID string
	BuyerID   string
	Message   string
	Quantity  float64
}

type VerifyProductCommand struct {
	ProductID string
	ActorID   string
}

// ProductCategorySummary is one row of the per-category catalog aggregation.
type ProductCategorySummary struct {
	Category     domain.ProductCategory
	Count        int
	AveragePrice int64
}

// ProductDistrictSummary is one row of the per-district catalog aggregation.
// Listings without a district are folded under an empty district name.
type ProductDistrictSummary struct {
	District     string
	Count        int
	AveragePrice int64
}

type CreateOrderCommand struct {
	BuyerID       string
	FarmerID      string
	ExporterID    *string
	Type          OrderType
	Items         []OrderItem
	Details       OrderDetails
	PaymentMethod domain.PaymentMethod
	Export        *ExportDetails
	Shipping      Shipping
	Notes         string
	IsUrgent      bool
}

type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
	Reason  string
}

type AddCommunicationCommand struct {
	OrderID    string
	SenderID   string
	Message    string
	IsInternal bool
}

type UpdateOrderPaymentCommand struct {
	OrderID       string
	Status        domain.PaymentStatus
	TransactionID string
	ActorID       string
}

type OrderStatsQuery struct {
	ActorID string
	Role    UserRole
}
