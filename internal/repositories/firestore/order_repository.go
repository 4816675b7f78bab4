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

const orderCollection = "orders"

type orderItemDocument struct {
	ProductID   string  `firestore:"productId"`
	ProductName string  `firestore:"productName"`
	Quantity    float64 `firestore:"quantity"`
	Unit        string  `firestore:"unit"`
	UnitPrice   int64   `firestore:"unitPrice"`
	TotalPrice  int64   `firestore:"totalPrice"`
}

type orderDetailsDocument struct {
	Currency     string `firestore:"currency"`
	TotalAmount  int64  `firestore:"totalAmount"`
	Discount     int64  `firestore:"discount"`
	Tax          int64  `firestore:"tax"`
	ShippingCost int64  `firestore:"shippingCost"`
	FinalAmount  int64  `firestore:"finalAmount"`
}

type paymentDocument struct {
	Method        string     `firestore:"method"`
	Status        string     `firestore:"status"`
	TransactionID string     `firestore:"transactionId"`
	PaidAt        *time.Time `firestore:"paidAt,omitempty"`
	RefundedAt    *time.Time `firestore:"refundedAt,omitempty"`
}

type exportDetailsDocument struct {
	LicenseNumber string   `firestore:"licenseNumber"`
	Incoterm      string   `firestore:"incoterm"`
	Certificates  []string `firestore:"certificates"`
}

type shippingDocument struct {
	Method             string          `firestore:"method"`
	Carrier            string          `firestore:"carrier"`
	TrackingNumber     string          `firestore:"trackingNumber"`
	PickupAddress      addressDocument `firestore:"pickupAddress"`
	DeliveryAddress    addressDocument `firestore:"deliveryAddress"`
	ExpectedDeliveryAt *time.Time      `firestore:"expectedDeliveryAt,omitempty"`
	ActualDeliveryAt   *time.Time      `firestore:"actualDeliveryAt,omitempty"`
}

type communicationDocument struct {
	SenderID   string    `firestore:"senderId"`
	Message    string    `firestore:"message"`
	IsInternal bool      `firestore:"isInternal"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

type timelineDocument struct {
	OrderPlaced       time.Time  `firestore:"orderPlaced"`
	OrderConfirmed    *time.Time `firestore:"orderConfirmed,omitempty"`
	ProcessingStarted *time.Time `firestore:"processingStarted,omitempty"`
	Shipped           *time.Time `firestore:"shipped,omitempty"`
	Delivered         *time.Time `firestore:"delivered,omitempty"`
	Cancelled         *time.Time `firestore:"cancelled,omitempty"`
	Refunded          *time.Time `firestore:"refunded,omitempty"`
}

type orderDocument struct {
	OrderNumber        string                  `firestore:"orderNumber"`
	BuyerID            string                  `firestore:"buyerId"`
	FarmerID           string                  `firestore:"farmerId"`
	ExporterID         *string                 `firestore:"exporterId,omitempty"`
	Type               string                  `firestore:"orderType"`
	Status             string                  `firestore:"status"`
	Items              []orderItemDocument     `firestore:"items"`
	Details            orderDetailsDocument    `firestore:"orderDetails"`
	Payment            paymentDocument         `firestore:"payment"`
	Export             *exportDetailsDocument  `firestore:"exportDetails,omitempty"`
	Shipping           shippingDocument        `firestore:"shipping"`
	Communication      []communicationDocument `firestore:"communication"`
	Timeline           timelineDocument        `firestore:"timeline"`
	Notes              string                  `firestore:"notes"`
	CancellationReason string                  `firestore:"cancellationReason"`
	RefundReason       string                  `firestore:"refundReason"`
	IsUrgent           bool                    `firestore:"isUrgent"`
	CreatedAt          time.Time               `firestore:"createdAt"`
	UpdatedAt          time.Time               `firestore:"updatedAt"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	base     *pfirestore.BaseRepository[orderDocument]
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[orderDocument](provider, orderCollection, nil, nil)
	return &OrderRepository{base: base, provider: provider}, nil
}

// Insert creates the order document, failing with a conflict when the ID exists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}

	_, err := r.base.Create(ctx, order.ID, fromDomainOrder(order))
	return err
}

// Update overwrites the order document.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order id is required")
	}
	_, err := r.base.Set(ctx, order.ID, fromDomainOrder(order))
	return err
}

// FindByID loads the order by document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return toDomainOrder(doc.ID, doc.Data), nil
}

// FindByNumber loads the order carrying the given human-readable order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return domain.Order{}, errors.New("order number is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", orderNumber).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber", status.Error(codes.NotFound, "order not found"))
	}
	return toDomainOrder(docs[0].ID, docs[0].Data), nil
}

// List returns orders matching the filter ordered by creation time descending.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.BuyerID != "" {
			q = q.Where("buyerId", "==", filter.BuyerID)
		}
		if filter.FarmerID != "" {
			q = q.Where("farmerId", "==", filter.FarmerID)
		}
		if filter.ExporterID != "" {
			q = q.Where("exporterId", "==", filter.ExporterID)
		}
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
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

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, toDomainOrder(doc.ID, doc.Data))
	}
	return orders, nil
}

func fromDomainOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	communication := make([]communicationDocument, 0, len(order.Communication))
	for _, entry := range order.Communication {
		communication = append(communication, communicationDocument{
			SenderID:   entry.SenderID,
			Message:    entry.Message,
			IsInternal: entry.IsInternal,
			CreatedAt:  entry.CreatedAt,
		})
	}

	var export *exportDetailsDocument
	if order.Export != nil {
		export = &exportDetailsDocument{
			LicenseNumber: order.Export.LicenseNumber,
			Incoterm:      order.Export.Incoterm,
			Certificates:  append([]string(nil), order.Export.Certificates...),
		}
	}

	return orderDocument{
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		FarmerID:    order.FarmerID,
		ExporterID:  order.ExporterID,
		Type:        string(order.Type),
		Status:      string(order.Status),
		Items:       items,
		Details: orderDetailsDocument{
			Currency:     order.Details.Currency,
			TotalAmount:  order.Details.TotalAmount,
			Discount:     order.Details.Discount,
			Tax:          order.Details.Tax,
			ShippingCost: order.Details.ShippingCost,
			FinalAmount:  order.Details.FinalAmount,
		},
		Payment: paymentDocument{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionID: order.Payment.TransactionID,
			PaidAt:        order.Payment.PaidAt,
			RefundedAt:    order.Payment.RefundedAt,
		},
		Export: export,
		Shipping: shippingDocument{
			Method:             order.Shipping.Method,
			Carrier:            order.Shipping.Carrier,
			TrackingNumber:     order.Shipping.TrackingNumber,
			PickupAddress:      fromDomainAddress(order.Shipping.PickupAddress),
			DeliveryAddress:    fromDomainAddress(order.Shipping.DeliveryAddress),
			ExpectedDeliveryAt: order.Shipping.ExpectedDeliveryAt,
			ActualDeliveryAt:   order.Shipping.ActualDeliveryAt,
		},
		Communication: communication,
		Timeline: timelineDocument{
			OrderPlaced:       order.Timeline.OrderPlaced,
			OrderConfirmed:    order.Timeline.OrderConfirmed,
			ProcessingStarted: order.Timeline.ProcessingStarted,
			Shipped:           order.Timeline.Shipped,
			Delivered:         order.Timeline.Delivered,
			Cancelled:         order.Timeline.Cancelled,
			Refunded:          order.Timeline.Refunded,
		},
		Notes:              order.Notes,
		CancellationReason: order.CancellationReason,
		RefundReason:       order.RefundReason,
		IsUrgent:           order.IsUrgent,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
	}
}

func toDomainOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	communication := make([]domain.CommunicationEntry, 0, len(doc.Communication))
	for _, entry := range doc.Communication {
		communication = append(communication, domain.CommunicationEntry{
			SenderID:   entry.SenderID,
			Message:    entry.Message,
			IsInternal: entry.IsInternal,
			CreatedAt:  entry.CreatedAt,
		})
	}

	var export *domain.ExportDetails
	if doc.Export != nil {
		export = &domain.ExportDetails{
			LicenseNumber: doc.Export.LicenseNumber,
			Incoterm:      doc.Export.Incoterm,
			Certificates:  append([]string(nil), doc.Export.Certificates...),
		}
	}

	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		BuyerID:     doc.BuyerID,
		FarmerID:    doc.FarmerID,
		ExporterID:  doc.ExporterID,
		Type:        domain.OrderType(doc.Type),
		Status:      domain.OrderStatus(doc.Status),
		Items:       items,
		Details: domain.OrderDetails{
			Currency:     doc.Details.Currency,
			TotalAmount:  doc.Details.TotalAmount,
			Discount:     doc.Details.Discount,
			Tax:          doc.Details.Tax,
			ShippingCost: doc.Details.ShippingCost,
			FinalAmount:  doc.Details.FinalAmount,
		},
		Payment: domain.Payment{
			Method:        domain.PaymentMethod(doc.Payment.Method),
			Status:        domain.PaymentStatus(doc.Payment.Status),
			TransactionID: doc.Payment.TransactionID,
			PaidAt:        doc.Payment.PaidAt,
			RefundedAt:    doc.Payment.RefundedAt,
		},
		Export: export,
		Shipping: domain.Shipping{
			Method:             doc.Shipping.Method,
			Carrier:            doc.Shipping.Carrier,
			TrackingNumber:     doc.Shipping.TrackingNumber,
			PickupAddress:      toDomainAddress(doc.Shipping.PickupAddress),
			DeliveryAddress:    toDomainAddress(doc.Shipping.DeliveryAddress),
			ExpectedDeliveryAt: doc.Shipping.ExpectedDeliveryAt,
			ActualDeliveryAt:   doc.Shipping.ActualDeliveryAt,
		},
		Communication: communication,
		Timeline: domain.Timeline{
			OrderPlaced:       doc.Timeline.OrderPlaced,
			OrderConfirmed:    doc.Timeline.OrderConfirmed,
			ProcessingStarted: doc.Timeline.ProcessingStarted,
			Shipped:           doc.Timeline.Shipped,
			Delivered:         doc.Timeline.Delivered,
			Cancelled:         doc.Timeline.Cancelled,
			Refunded:          doc.Timeline.Refunded,
		},
		Notes:              doc.Notes,
		CancellationReason: doc.CancellationReason,
		RefundReason:       doc.RefundReason,
		IsUrgent:           doc.IsUrgent,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
}
