package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/payments"
	"github.com/agrilink/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	orderEventCreated        = "order.created"
	orderEventStatusChanged  = "order.status.changed"
	orderEventPaymentUpdated = "order.payment.updated"
)

var (
	// ErrOrderInvalidInput indicates the request payload failed validation.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the referenced order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates the mutation collided with concurrent state.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderInvalidState indicates the requested status transition is not a
	// legal edge of the lifecycle state machine.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
)

// orderStateTransitions is the authoritative edge set of the order lifecycle.
// delivered, cancelled, and refunded have no outgoing edges.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded},
}

func canTransition(from, to domain.OrderStatus) bool {
	for _, next := range orderStateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// statGroupOrder fixes the emission order of stats rows.
var statGroupOrder = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
	domain.OrderStatusRefunded,
}

// OrderEvent is the envelope published on order lifecycle changes.
type OrderEvent struct {
	EventID        string
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderEventPublisher fans order lifecycle events out to interested consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderServiceDeps bundles the dependencies required to construct an order service instance.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Users       repositories.UserRepository
	Counters    repositories.CounterRepository
	UnitOfWork  repositories.UnitOfWork
	Events      OrderEventPublisher
	Mailer      Mailer
	Payments    payments.Provider
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	users      repositories.UserRepository
	counters   repositories.CounterRepository
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	mailer     Mailer
	payments   payments.Provider
	sanitizer  *bluemonday.Policy
	clock      func() time.Time
	newID      func() string
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service requires an order repository")
	}
	if deps.Products == nil {
		return nil, errors.New("order service requires a product repository")
	}
	if deps.Users == nil {
		return nil, errors.New("order service requires a user repository")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service requires a counter repository")
	}

	unitOfWork := deps.UnitOfWork
	if unitOfWork == nil {
		unitOfWork = noopUnitOfWork{}
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

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		users:      deps.Users,
		counters:   deps.Counters,
		unitOfWork: unitOfWork,
		events:     deps.Events,
		mailer:     deps.Mailer,
		payments:   deps.Payments,
		sanitizer:  bluemonday.StrictPolicy(),
		clock:      func() time.Time { return clock().UTC() },
		newID:      idGen,
		logger:     logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := s.validateCreate(cmd); err != nil {
		return Order{}, err
	}

	buyer, err := s.users.FindByID(ctx, strings.TrimSpace(cmd.BuyerID))
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	farmer, err := s.users.FindByID(ctx, strings.TrimSpace(cmd.FarmerID))
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if farmer.Role != domain.UserRoleFarmer {
		return Order{}, fmt.Errorf("%w: farmer %s is not a farmer account", ErrOrderInvalidInput, farmer.ID)
	}

	var exporterID *string
	if cmd.Type == domain.OrderTypeExport {
		exporter, err := s.users.FindByID(ctx, strings.TrimSpace(*cmd.ExporterID))
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		if exporter.Role != domain.UserRoleExporter || !exporter.IsExporterApproved {
			return Order{}, fmt.Errorf("%w: exporter %s is not approved", ErrOrderInvalidInput, exporter.ID)
		}
		exporterID = &exporter.ID
	}

	now := s.now()

	items, details, err := s.buildPricing(ctx, cmd, now)
	if err != nil {
		return Order{}, err
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:          orderIDPrefix + s.newID(),
		OrderNumber: number,
		BuyerID:     buyer.ID,
		FarmerID:    farmer.ID,
		ExporterID:  exporterID,
		Type:        cmd.Type,
		Status:      domain.OrderStatusPending,
		Items:       items,
		Details:     details,
		Payment: Payment{
			Method: cmd.PaymentMethod,
			Status: domain.PaymentStatusPending,
		},
		Export:    cloneExport(cmd.Export),
		Shipping:  cmd.Shipping,
		Timeline:  Timeline{OrderPlaced: now},
		Notes:     s.sanitizer.Sanitize(strings.TrimSpace(cmd.Notes)),
		IsUrgent:  cmd.IsUrgent,
		CreatedAt: now,
		UpdatedAt: now,
	}

	decrements := make([]repositories.QuantityDecrement, 0, len(order.Items))
	for _, item := range order.Items {
		decrements = append(decrements, repositories.QuantityDecrement{
			ProductID: item.ProductID,
			Amount:    item.Quantity,
		})
	}

	// Stock reads happen before the order write; Firestore transactions
	// reject reads issued after the first buffered write.
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if _, err := s.products.DecrementQuantities(txCtx, decrements, now); err != nil {
			return s.mapRepositoryError(err)
		}
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       buyer.ID,
		OccurredAt:    now,
	})

	s.sendMail(ctx, "order.mail.confirmation", order.ID, func() error {
		return s.mailer.SendOrderConfirmation(ctx, order, buyer, farmer)
	})

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetOrderByNumber(ctx context.Context, orderNumber string) (Order, error) {
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return Order{}, fmt.Errorf("%w: order number is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByNumber(ctx, orderNumber)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]Order, error) {
	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actorID := strings.TrimSpace(cmd.ActorID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if actorID == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	if !domain.ValidOrderStatus(cmd.Status) {
		return Order{}, fmt.Errorf("%w: status %q is not recognised", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !canTransition(order.Status, cmd.Status) {
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, cmd.Status)
	}

	now := s.now()
	prevStatus := order.Status
	reason := strings.TrimSpace(cmd.Reason)

	order.Status = cmd.Status
	stampTimeline(&order.Timeline, cmd.Status, now)
	switch cmd.Status {
	case domain.OrderStatusCancelled:
		order.CancellationReason = reason
	case domain.OrderStatusRefunded:
		order.RefundReason = reason
		if err := s.refundThroughProvider(ctx, order, order.Payment.TransactionID); err != nil {
			return Order{}, err
		}
		order.Payment.Status = domain.PaymentStatusRefunded
		if order.Payment.RefundedAt == nil {
			order.Payment.RefundedAt = &now
		}
	case domain.OrderStatusDelivered:
		if order.Shipping.ActualDeliveryAt == nil {
			order.Shipping.ActualDeliveryAt = &now
		}
	}

	note := fmt.Sprintf("Order status changed from %s to %s", prevStatus, cmd.Status)
	if reason != "" {
		note += ": " + reason
	}
	order.Communication = append(order.Communication, CommunicationEntry{
		SenderID:   actorID,
		Message:    note,
		IsInternal: true,
		CreatedAt:  now,
	})
	order.UpdatedAt = now

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Update(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     now,
		Metadata:       metadata,
	})

	s.notifyStatusChange(ctx, order)

	return order, nil
}

func (s *orderService) AddCommunication(ctx context.Context, cmd AddCommunicationCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	senderID := strings.TrimSpace(cmd.SenderID)
	message := s.sanitizer.Sanitize(strings.TrimSpace(cmd.Message))

	rules := []fieldRule{
		{field: "orderId", check: requireString(orderID, "order id is required")},
		{field: "senderId", check: requireString(senderID, "sender id is required")},
		{field: "message", check: requireString(message, "message is required")},
	}
	if err := runRules(rules); err != nil {
		return Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	order.Communication = append(order.Communication, CommunicationEntry{
		SenderID:   senderID,
		Message:    message,
		IsInternal: cmd.IsInternal,
		CreatedAt:  now,
	})
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) UpdatePayment(ctx context.Context, cmd UpdateOrderPaymentCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	switch cmd.Status {
	case domain.PaymentStatusPending, domain.PaymentStatusPaid,
		domain.PaymentStatusFailed, domain.PaymentStatusRefunded:
	default:
		return Order{}, fmt.Errorf("%w: payment status %q is not recognised", ErrOrderInvalidInput, cmd.Status)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	transactionID := strings.TrimSpace(cmd.TransactionID)
	switch cmd.Status {
	case domain.PaymentStatusPaid:
		if s.payments != nil && transactionID != "" {
			charge, err := s.payments.LookupPayment(ctx, transactionID)
			if err != nil {
				return Order{}, s.mapPaymentError(err)
			}
			if charge.Status != payments.StatusSucceeded {
				return Order{}, fmt.Errorf("%w: transaction %s has not settled", ErrOrderInvalidInput, transactionID)
			}
		}
	case domain.PaymentStatusRefunded:
		refundID := transactionID
		if refundID == "" {
			refundID = order.Payment.TransactionID
		}
		if err := s.refundThroughProvider(ctx, order, refundID); err != nil {
			return Order{}, err
		}
	}

	now := s.now()
	order.Payment.Status = cmd.Status
	if transactionID != "" {
		order.Payment.TransactionID = transactionID
	}
	switch cmd.Status {
	case domain.PaymentStatusPaid:
		if order.Payment.PaidAt == nil {
			order.Payment.PaidAt = &now
		}
	case domain.PaymentStatusRefunded:
		if order.Payment.RefundedAt == nil {
			order.Payment.RefundedAt = &now
		}
	}
	order.UpdatedAt = now

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentUpdated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       strings.TrimSpace(cmd.ActorID),
		OccurredAt:    now,
		Metadata:      map[string]any{"paymentStatus": string(cmd.Status)},
	})

	if cmd.Status == domain.PaymentStatusPaid {
		s.sendMail(ctx, "order.mail.payment_confirmation", order.ID, func() error {
			buyer, err := s.users.FindByID(ctx, order.BuyerID)
			if err != nil {
				return err
			}
			return s.mailer.SendPaymentConfirmation(ctx, order, buyer)
		})
	}

	return order, nil
}

// OrderStats groups the actor's visible orders by status. Admins see every
// order; other roles only the orders naming them in their own role field.
func (s *orderService) OrderStats(ctx context.Context, query OrderStatsQuery) ([]OrderStatGroup, error) {
	actorID := strings.TrimSpace(query.ActorID)

	filter := repositories.OrderListFilter{}
	switch query.Role {
	case domain.UserRoleAdmin:
	case domain.UserRoleFarmer:
		filter.FarmerID = actorID
	case domain.UserRoleBuyer:
		filter.BuyerID = actorID
	case domain.UserRoleExporter:
		filter.ExporterID = actorID
	default:
		return nil, fmt.Errorf("%w: role %q is not recognised", ErrOrderInvalidInput, query.Role)
	}
	if query.Role != domain.UserRoleAdmin && actorID == "" {
		return nil, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	byStatus := make(map[domain.OrderStatus]*OrderStatGroup)
	for _, order := range orders {
		group := byStatus[order.Status]
		if group == nil {
			group = &OrderStatGroup{Status: order.Status}
			byStatus[order.Status] = group
		}
		group.Count++
		group.TotalAmount += order.Details.FinalAmount
	}

	groups := make([]OrderStatGroup, 0, len(byStatus))
	for _, status := range statGroupOrder {
		if group, ok := byStatus[status]; ok {
			groups = append(groups, *group)
		}
	}
	return groups, nil
}

func (s *orderService) validateCreate(cmd CreateOrderCommand) error {
	rules := []fieldRule{
		{field: "buyerId", check: requireString(cmd.BuyerID, "buyer id is required")},
		{field: "farmerId", check: requireString(cmd.FarmerID, "farmer id is required")},
		{field: "orderType", check: func() string {
			if cmd.Type != domain.OrderTypeDomestic && cmd.Type != domain.OrderTypeExport {
				return "order type must be domestic or export"
			}
			return ""
		}},
		{field: "exporterId", check: func() string {
			if cmd.Type == domain.OrderTypeExport && (cmd.ExporterID == nil || strings.TrimSpace(*cmd.ExporterID) == "") {
				return "exporter is required for export orders"
			}
			return ""
		}},
		{field: "items", check: func() string {
			if len(cmd.Items) == 0 {
				return "at least one line item is required"
			}
			return ""
		}},
		{field: "paymentMethod", check: func() string {
			if !domain.ValidPaymentMethod(cmd.PaymentMethod) {
				return "payment method is not recognised"
			}
			return ""
		}},
		{field: "shipping.method", check: requireString(cmd.Shipping.Method, "shipping method is required")},
		{field: "orderDetails", check: func() string {
			if cmd.Details.Discount < 0 || cmd.Details.Tax < 0 || cmd.Details.ShippingCost < 0 {
				return "amounts cannot be negative"
			}
			return ""
		}},
	}
	for i, item := range cmd.Items {
		i, item := i, item
		rules = append(rules, fieldRule{
			field: fmt.Sprintf("items[%d]", i),
			check: func() string {
				if strings.TrimSpace(item.ProductID) == "" {
					return "product id is required"
				}
				if item.Quantity <= 0 {
					return "quantity must be positive"
				}
				if item.UnitPrice < 0 {
					return "unit price cannot be negative"
				}
				return ""
			},
		})
	}
	if err := runRules(rules); err != nil {
		return fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
	}
	return nil
}

// buildPricing resolves line items against the catalog and recomputes every
// derived amount. Caller-supplied totals are cross-checked, never trusted.
func (s *orderService) buildPricing(ctx context.Context, cmd CreateOrderCommand, now time.Time) ([]OrderItem, OrderDetails, error) {
	items := make([]OrderItem, 0, len(cmd.Items))
	var total int64

	for _, line := range cmd.Items {
		product, err := s.products.FindByID(ctx, strings.TrimSpace(line.ProductID))
		if err != nil {
			return nil, OrderDetails{}, s.mapRepositoryError(err)
		}
		if product.FarmerID != strings.TrimSpace(cmd.FarmerID) {
			return nil, OrderDetails{}, fmt.Errorf("%w: product %s does not belong to farmer %s",
				ErrOrderInvalidInput, product.ID, cmd.FarmerID)
		}
		if product.Status != domain.ProductStatusAvailable {
			return nil, OrderDetails{}, fmt.Errorf("%w: product %s is %s",
				ErrOrderInvalidInput, product.ID, product.Status)
		}
		if line.Quantity < product.Quantity.MinimumOrder {
			return nil, OrderDetails{}, fmt.Errorf("%w: product %s requires a minimum order of %.2f %s",
				ErrOrderInvalidInput, product.ID, product.Quantity.MinimumOrder, product.Quantity.Unit)
		}
		if cmd.Type == domain.OrderTypeExport && !domain.AvailableForExport(product, now) {
			return nil, OrderDetails{}, fmt.Errorf("%w: product %s is not available for export",
				ErrOrderInvalidInput, product.ID)
		}

		unitPrice := line.UnitPrice
		if unitPrice == 0 {
			unitPrice = product.Price.Amount
		}
		lineTotal := int64(math.Round(line.Quantity * float64(unitPrice)))
		if line.TotalPrice != 0 && line.TotalPrice != lineTotal {
			return nil, OrderDetails{}, fmt.Errorf("%w: line total for product %s must equal quantity times unit price",
				ErrOrderInvalidInput, product.ID)
		}

		name := strings.TrimSpace(line.ProductName)
		if name == "" {
			name = product.Name
		}
		unit := strings.TrimSpace(line.Unit)
		if unit == "" {
			unit = product.Quantity.Unit
		}

		items = append(items, OrderItem{
			ProductID:   product.ID,
			ProductName: name,
			Quantity:    line.Quantity,
			Unit:        unit,
			UnitPrice:   unitPrice,
			TotalPrice:  lineTotal,
		})
		total += lineTotal
	}

	details := cmd.Details
	if details.TotalAmount != 0 && details.TotalAmount != total {
		return nil, OrderDetails{}, fmt.Errorf("%w: total amount must equal the sum of line totals", ErrOrderInvalidInput)
	}
	details.TotalAmount = total

	finalAmount := total - details.Discount + details.Tax + details.ShippingCost
	if finalAmount < 0 {
		return nil, OrderDetails{}, fmt.Errorf("%w: final amount cannot be negative", ErrOrderInvalidInput)
	}
	if details.FinalAmount != 0 && details.FinalAmount != finalAmount {
		return nil, OrderDetails{}, fmt.Errorf("%w: final amount must equal total minus discount plus tax plus shipping", ErrOrderInvalidInput)
	}
	details.FinalAmount = finalAmount

	return items, details, nil
}

// stampTimeline records the first entry into each milestone. Stamped
// milestones are never overwritten.
func stampTimeline(timeline *Timeline, status domain.OrderStatus, now time.Time) {
	switch status {
	case domain.OrderStatusConfirmed:
		if timeline.OrderConfirmed == nil {
			timeline.OrderConfirmed = &now
		}
	case domain.OrderStatusProcessing:
		if timeline.ProcessingStarted == nil {
			timeline.ProcessingStarted = &now
		}
	case domain.OrderStatusShipped:
		if timeline.Shipped == nil {
			timeline.Shipped = &now
		}
	case domain.OrderStatusDelivered:
		if timeline.Delivered == nil {
			timeline.Delivered = &now
		}
	case domain.OrderStatusCancelled:
		if timeline.Cancelled == nil {
			timeline.Cancelled = &now
		}
	case domain.OrderStatusRefunded:
		if timeline.Refunded == nil {
			timeline.Refunded = &now
		}
	}
}

// generateOrderNumber allocates the next daily sequence from a per-day
// counter document, so same-day creations cannot collide.
func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	day := now.Format("060102")
	seq, err := s.counters.Next(ctx, "orders:"+day, 1)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	return fmt.Sprintf("AL%s%04d", day, seq), nil
}

// refundThroughProvider issues the card refund for the order. The idempotency
// key is derived from the order number, so the provider collapses repeated
// submissions for the same order into a single refund.
func (s *orderService) refundThroughProvider(ctx context.Context, order Order, transactionID string) error {
	transactionID = strings.TrimSpace(transactionID)
	if s.payments == nil || transactionID == "" {
		return nil
	}
	if _, err := s.payments.Refund(ctx, payments.RefundRequest{
		PaymentID:      transactionID,
		OrderID:        order.ID,
		Reason:         order.RefundReason,
		IdempotencyKey: "refund-" + order.OrderNumber,
	}); err != nil {
		return s.mapPaymentError(err)
	}
	return nil
}

func (s *orderService) notifyStatusChange(ctx context.Context, order Order) {
	s.sendMail(ctx, "order.mail.status_update", order.ID, func() error {
		buyer, err := s.users.FindByID(ctx, order.BuyerID)
		if err != nil {
			return err
		}
		return s.mailer.SendOrderStatusUpdate(ctx, order, buyer, order.Status)
	})
}

func (s *orderService) sendMail(ctx context.Context, event, orderID string, send func() error) {
	if s.mailer == nil {
		return
	}
	if err := send(); err != nil {
		s.logger(ctx, event+".failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repositories.ErrInsufficientQuantity) {
		return fmt.Errorf("%w: %v", ErrOrderConflict, err)
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) mapPaymentError(err error) error {
	switch {
	case errors.Is(err, payments.ErrPaymentNotFound):
		return fmt.Errorf("%w: payment transaction not found", ErrOrderInvalidInput)
	case errors.Is(err, payments.ErrInvalidRequest):
		return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	default:
		return fmt.Errorf("order: payment provider unavailable: %w", err)
	}
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func cloneExport(export *ExportDetails) *ExportDetails {
	if export == nil {
		return nil
	}
	cloned := *export
	cloned.Certificates = append([]string(nil), export.Certificates...)
	return &cloned
}
