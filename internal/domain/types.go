package domain

import (
	"time"
)

// Pagination defines standard paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// UserRole enumerates the actor roles recognised by the marketplace.
type UserRole string

const (
	// UserRoleFarmer lists produce and fulfils orders.
	UserRoleFarmer UserRole = "farmer"
	// UserRoleBuyer places orders for listed produce.
	UserRoleBuyer UserRole = "buyer"
	// UserRoleExporter handles cross-border orders and requires approval.
	UserRoleExporter UserRole = "exporter"
	// UserRoleAdmin administers the marketplace.
	UserRoleAdmin UserRole = "admin"
)

// ValidUserRole reports whether the role is a member of the closed role set.
func ValidUserRole(role UserRole) bool {
	switch role {
	case UserRoleFarmer, UserRoleBuyer, UserRoleExporter, UserRoleAdmin:
		return true
	default:
		return false
	}
}

// Address captures a physical location used for profiles and shipping.
type Address struct {
	Street   string
	City     string
	District string
	Country  string
}

// BusinessDetails carries the role-specific trade particulars an account may
// declare. Farmers fill the farm fields, exporters the company fields.
type BusinessDetails struct {
	FarmName      string
	FarmSize      string
	CompanyName   string
	LicenseNumber string
}

// User represents a registered marketplace actor.
// PasswordHash never leaves the service layer.
type User struct {
	ID                 string
	Name               string
	Email              string
	PasswordHash       string
	Role               UserRole
	Phone              string
	Address            Address
	ProfileImageURL    string
	Business           *BusinessDetails
	IsVerified         bool
	IsExporterApproved bool
	IsActive           bool
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProductCategory enumerates supported produce categories.
type ProductCategory string

const (
	ProductCategoryVegetables ProductCategory = "vegetables"
	ProductCategoryFruits     ProductCategory = "fruits"
	ProductCategoryGrains     ProductCategory = "grains"
	ProductCategoryPulses     ProductCategory = "pulses"
	ProductCategorySpices     ProductCategory = "spices"
	ProductCategoryDairy      ProductCategory = "dairy"
	ProductCategoryOther      ProductCategory = "other"
)

// ValidProductCategory reports whether the category is a member of the closed set.
func ValidProductCategory(category ProductCategory) bool {
	switch category {
	case ProductCategoryVegetables, ProductCategoryFruits, ProductCategoryGrains,
		ProductCategoryPulses, ProductCategorySpices, ProductCategoryDairy, ProductCategoryOther:
		return true
	default:
		return false
	}
}

// ProductStatus describes lifecycle states for product listings.
// Removal and expiry are statuses rather than deletions so listing history stays auditable.
type ProductStatus string

const (
	// ProductStatusAvailable indicates the listing can accept orders.
	ProductStatusAvailable ProductStatus = "available"
	// ProductStatusReserved indicates the remaining quantity is held for a pending order.
	ProductStatusReserved ProductStatus = "reserved"
	// ProductStatusSold indicates the available quantity reached zero.
	ProductStatusSold ProductStatus = "sold"
	// ProductStatusExpired indicates the produce passed its expiry date.
	ProductStatusExpired ProductStatus = "expired"
	// ProductStatusRemoved indicates the farmer or an admin withdrew the listing.
	ProductStatusRemoved ProductStatus = "removed"
)

// QualityGrade enumerates produce quality tiers.
type QualityGrade string

const (
	QualityGradePremium  QualityGrade = "premium"
	QualityGradeA        QualityGrade = "grade_a"
	QualityGradeB        QualityGrade = "grade_b"
	QualityGradeStandard QualityGrade = "standard"
)

// Quantity describes available stock for a listing.
type Quantity struct {
	Available    float64
	Unit         string
	MinimumOrder float64
}

// Price carries a monetary amount in minor units alongside its currency.
type Price struct {
	Amount   int64
	Currency string
}

// BulkDiscount reduces the unit price for orders at or above a threshold quantity.
type BulkDiscount struct {
	MinimumQuantity float64
	Percent         float64
}

// GeoPoint locates a farm on the map.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// ProductImage references an uploaded listing image.
type ProductImage struct {
	URL       string
	PublicID  string
	Caption   string
	IsPrimary bool
}

// Inquiry records a buyer question against a listing. The inquiry log is append-only.
type Inquiry struct {
	BuyerID   string
	Message   string
	Quantity  float64
	CreatedAt time.Time
}

// Product represents a produce listing owned by a farmer.
type Product struct {
	ID                string
	FarmerID          string
	Name              string
	Variety           string
	Description       string
	Category          ProductCategory
	FarmLocation      string
	District          string
	Coordinates       *GeoPoint
	Images            []ProductImage
	Quantity          Quantity
	Grade             QualityGrade
	Certifications    []string
	Price             Price
	BulkDiscount      *BulkDiscount
	HarvestDate       time.Time
	ExpiryDate        time.Time
	StorageConditions string
	ExportReady       bool
	IsVerified        bool
	Status            ProductStatus
	Views             int64
	Inquiries         []Inquiry
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// AvailableForExport reports whether the product can be sold cross-border right now.
func AvailableForExport(p Product, now time.Time) bool {
	return p.Status == ProductStatusAvailable &&
		p.ExportReady &&
		p.IsVerified &&
		p.Quantity.Available > 0 &&
		now.Before(p.ExpiryDate)
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits farmer confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates the farmer accepted the order.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the order is being prepared.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the farm.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the buyer received the order.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled indicates the order was cancelled before delivery.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates payment was returned to the buyer.
	OrderStatusRefunded OrderStatus = "refunded"
)

// ValidOrderStatus reports whether the status is a member of the closed set.
func ValidOrderStatus(status OrderStatus) bool {
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// TerminalOrderStatus reports whether no further transitions are allowed from the status.
func TerminalOrderStatus(status OrderStatus) bool {
	switch status {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// OrderType distinguishes domestic sales from export sales.
type OrderType string

const (
	// OrderTypeDomestic is an in-country sale between buyer and farmer.
	OrderTypeDomestic OrderType = "domestic"
	// OrderTypeExport is a cross-border sale requiring an exporter.
	OrderTypeExport OrderType = "export"
)

// PaymentMethod enumerates accepted payment instruments.
type PaymentMethod string

const (
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodMobilePayment  PaymentMethod = "mobile_payment"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodLetterOfCredit PaymentMethod = "letter_of_credit"
	PaymentMethodCard           PaymentMethod = "card"
)

// ValidPaymentMethod reports whether the method is a member of the closed set.
func ValidPaymentMethod(method PaymentMethod) bool {
	switch method {
	case PaymentMethodBankTransfer, PaymentMethodMobilePayment,
		PaymentMethodCashOnDelivery, PaymentMethodLetterOfCredit, PaymentMethodCard:
		return true
	default:
		return false
	}
}

// PaymentStatus describes the settlement state of an order payment.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// OrderItem is a single product line within an order.
type OrderItem struct {
	ProductID   string
	ProductName string
	Quantity    float64
	Unit        string
	UnitPrice   int64
	TotalPrice  int64
}

// OrderDetails aggregates order pricing. All amounts are minor units and non-negative.
type OrderDetails struct {
	Currency     string
	TotalAmount  int64
	Discount     int64
	Tax          int64
	ShippingCost int64
	FinalAmount  int64
}

// Payment tracks settlement progress for an order.
type Payment struct {
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
	PaidAt        *time.Time
	RefundedAt    *time.Time
}

// ExportDetails carries the paperwork references required for export orders.
type ExportDetails struct {
	LicenseNumber string
	Incoterm      string
	Certificates  []string
}

// Shipping describes how and where an order moves.
type Shipping struct {
	Method             string
	Carrier            string
	TrackingNumber     string
	PickupAddress      Address
	DeliveryAddress    Address
	ExpectedDeliveryAt *time.Time
	ActualDeliveryAt   *time.Time
}

// CommunicationEntry is one message in an order's append-only communication log.
// Internal entries are visible to farmers, exporters, and admins only.
type CommunicationEntry struct {
	SenderID   string
	Message    string
	IsInternal bool
	CreatedAt  time.Time
}

// Timeline records the first time an order entered each milestone.
// A stamped milestone is never cleared or overwritten.
type Timeline struct {
	OrderPlaced       time.Time
	OrderConfirmed    *time.Time
	ProcessingStarted *time.Time
	Shipped           *time.Time
	Delivered         *time.Time
	Cancelled         *time.Time
	Refunded          *time.Time
}

// Order is the marketplace's core entity tracking a sale from placement to settlement.
type Order struct {
	ID                 string
	OrderNumber        string
	BuyerID            string
	FarmerID           string
	ExporterID         *string
	Type               OrderType
	Status             OrderStatus
	Items              []OrderItem
	Details            OrderDetails
	Payment            Payment
	Export             *ExportDetails
	Shipping           Shipping
	Communication      []CommunicationEntry
	Timeline           Timeline
	Notes              string
	CancellationReason string
	RefundReason       string
	IsUrgent           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderStatGroup is one row of the per-status order aggregation.
type OrderStatGroup struct {
	Status      OrderStatus
	Count       int
	TotalAmount int64
}
