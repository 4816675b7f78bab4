package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/payments"
	"github.com/agrilink/api/internal/repositories"
)

type stubRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubRepoError) Error() string       { return "stub repository error" }
func (e *stubRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubRepoError) IsConflict() bool    { return e.conflict }
func (e *stubRepoError) IsUnavailable() bool { return e.unavailable }

var errStubNotFound = &stubRepoError{notFound: true}

type stubUserRepo struct {
	insertFn      func(context.Context, domain.User) error
	updateFn      func(context.Context, domain.User) error
	findByIDFn    func(context.Context, string) (domain.User, error)
	findByEmailFn func(context.Context, string) (domain.User, error)
	listFn        func(context.Context, repositories.UserListFilter) ([]domain.User, error)
}

func (s *stubUserRepo) Insert(ctx context.Context, user domain.User) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, user)
	}
	return nil
}

func (s *stubUserRepo) Update(ctx context.Context, user domain.User) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, user)
	}
	return nil
}

func (s *stubUserRepo) FindByID(ctx context.Context, userID string) (domain.User, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, userID)
	}
	return domain.User{}, errStubNotFound
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (domain.User, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return domain.User{}, errStubNotFound
}

func (s *stubUserRepo) List(ctx context.Context, filter repositories.UserListFilter) ([]domain.User, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

type stubProductRepo struct {
	insertFn         func(context.Context, domain.Product) error
	updateFn         func(context.Context, domain.Product) error
	findByIDFn       func(context.Context, string) (domain.Product, error)
	listFn           func(context.Context, repositories.ProductListFilter) ([]domain.Product, error)
	appendInquiryFn  func(context.Context, string, domain.Inquiry) error
	incrementViewsFn func(context.Context, ...string) error
	decrementFn      func(context.Context, []repositories.QuantityDecrement, time.Time) ([]domain.Product, error)
}

func (s *stubProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) Update(ctx context.Context, product domain.Product) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, productID)
	}
	return domain.Product{}, errStubNotFound
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubProductRepo) AppendInquiry(ctx context.Context, productID string, inquiry domain.Inquiry) error {
	if s.appendInquiryFn != nil {
		return s.appendInquiryFn(ctx, productID, inquiry)
	}
	return nil
}

func (s *stubProductRepo) IncrementViews(ctx context.Context, productIDs ...string) error {
	if s.incrementViewsFn != nil {
		return s.incrementViewsFn(ctx, productIDs...)
	}
	return nil
}

func (s *stubProductRepo) DecrementQuantities(ctx context.Context, decrements []repositories.QuantityDecrement, at time.Time) ([]domain.Product, error) {
	if s.decrementFn != nil {
		return s.decrementFn(ctx, decrements, at)
	}
	return nil, nil
}

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	updateFn       func(context.Context, domain.Order) error
	findByIDFn     func(context.Context, string) (domain.Order, error)
	findByNumberFn func(context.Context, string) (domain.Order, error)
	listFn         func(context.Context, repositories.OrderListFilter) ([]domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) Update(ctx context.Context, order domain.Order) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findByIDFn != nil {
		return s.findByIDFn(ctx, orderID)
	}
	return domain.Order{}, errStubNotFound
}

func (s *stubOrderRepo) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	if s.findByNumberFn != nil {
		return s.findByNumberFn(ctx, orderNumber)
	}
	return domain.Order{}, errStubNotFound
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 1, nil
}

type stubMailer struct {
	welcome       int
	confirmations int
	statusUpdates int
	payments      int
	approvals     int
	err           error
}

func (s *stubMailer) SendWelcome(context.Context, User) error {
	s.welcome++
	return s.err
}

func (s *stubMailer) SendOrderConfirmation(context.Context, Order, User, User) error {
	s.confirmations++
	return s.err
}

func (s *stubMailer) SendOrderStatusUpdate(context.Context, Order, User, OrderStatus) error {
	s.statusUpdates++
	return s.err
}

func (s *stubMailer) SendPaymentConfirmation(context.Context, Order, User) error {
	s.payments++
	return s.err
}

func (s *stubMailer) SendExporterApproval(context.Context, User) error {
	s.approvals++
	return s.err
}

type stubPublisher struct {
	events []OrderEvent
	err    error
}

func (s *stubPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	s.events = append(s.events, event)
	return s.err
}

var testClock = func() time.Time {
	return time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func marketplaceUsers() *stubUserRepo {
	users := map[string]domain.User{
		"usr_buyer": {
			ID: "usr_buyer", Name: "Bindu", Email: "bindu@example.com",
			Role: domain.UserRoleBuyer, IsVerified: true, IsActive: true,
		},
		"usr_farmer": {
			ID: "usr_farmer", Name: "Farhan", Email: "farhan@example.com",
			Role: domain.UserRoleFarmer, IsVerified: true, IsActive: true,
		},
		"usr_exporter": {
			ID: "usr_exporter", Name: "Ela", Email: "ela@example.com",
			Role: domain.UserRoleExporter, IsVerified: true, IsExporterApproved: true, IsActive: true,
		},
	}
	return &stubUserRepo{
		findByIDFn: func(_ context.Context, id string) (domain.User, error) {
			user, ok := users[id]
			if !ok {
				return domain.User{}, errStubNotFound
			}
			return user, nil
		},
	}
}

func availableProduct() domain.Product {
	return domain.Product{
		ID:          "prd_rice",
		FarmerID:    "usr_farmer",
		Name:        "Basmati Rice",
		Category:    domain.ProductCategoryGrains,
		Quantity:    domain.Quantity{Available: 10, Unit: "kg", MinimumOrder: 1},
		Price:       domain.Price{Amount: 500, Currency: "USD"},
		ExpiryDate:  testClock().AddDate(0, 1, 0),
		ExportReady: true,
		IsVerified:  true,
		Status:      domain.ProductStatusAvailable,
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Users == nil {
		deps.Users = marketplaceUsers()
	}
	if deps.Products == nil {
		product := availableProduct()
		deps.Products = &stubProductRepo{
			findByIDFn: func(_ context.Context, id string) (domain.Product, error) {
				if id != product.ID {
					return domain.Product{}, errStubNotFound
				}
				return product, nil
			},
		}
	}
	if deps.Orders == nil {
		deps.Orders = &stubOrderRepo{}
	}
	if deps.Counters == nil {
		deps.Counters = &stubCounterRepo{}
	}
	if deps.Clock == nil {
		deps.Clock = testClock
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return svc
}

func domesticOrderCommand() CreateOrderCommand {
	return CreateOrderCommand{
		BuyerID:       "usr_buyer",
		FarmerID:      "usr_farmer",
		Type:          domain.OrderTypeDomestic,
		Items:         []OrderItem{{ProductID: "prd_rice", Quantity: 3}},
		PaymentMethod: domain.PaymentMethodBankTransfer,
		Shipping:      Shipping{Method: "road"},
	}
}

func TestCreateOrderAssignsNumberAndDerivedFields(t *testing.T) {
	var inserted domain.Order
	var decremented float64
	orders := &stubOrderRepo{insertFn: func(_ context.Context, order domain.Order) error {
		inserted = order
		return nil
	}}
	product := availableProduct()
	products := &stubProductRepo{
		findByIDFn: func(context.Context, string) (domain.Product, error) { return product, nil },
		decrementFn: func(_ context.Context, decrements []repositories.QuantityDecrement, _ time.Time) ([]domain.Product, error) {
			for _, decrement := range decrements {
				decremented += decrement.Amount
				product.Quantity.Available -= decrement.Amount
			}
			return []domain.Product{product}, nil
		},
	}
	var counterScope string
	counters := &stubCounterRepo{nextFn: func(_ context.Context, counterID string, _ int64) (int64, error) {
		counterScope = counterID
		return 1, nil
	}}
	publisher := &stubPublisher{}
	mailer := &stubMailer{}

	svc := newTestOrderService(t, OrderServiceDeps{
		Orders:   orders,
		Products: products,
		Counters: counters,
		Events:   publisher,
		Mailer:   mailer,
	})

	order, err := svc.CreateOrder(context.Background(), domesticOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.OrderNumber != "AL2503140001" {
		t.Fatalf("order number = %q, want AL2503140001", order.OrderNumber)
	}
	if counterScope != "orders:250314" {
		t.Fatalf("counter scope = %q, want orders:250314", counterScope)
	}
	if order.Status != domain.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}
	if got := order.Items[0].TotalPrice; got != 1500 {
		t.Fatalf("line total = %d, want 1500", got)
	}
	if order.Details.FinalAmount != 1500 {
		t.Fatalf("final amount = %d, want 1500", order.Details.FinalAmount)
	}
	if order.Timeline.OrderPlaced.IsZero() {
		t.Fatal("timeline.orderPlaced not stamped")
	}
	if decremented != 3 {
		t.Fatalf("decremented quantity = %.1f, want 3", decremented)
	}
	if inserted.ID != order.ID {
		t.Fatalf("inserted order id = %q, want %q", inserted.ID, order.ID)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("order id %q missing ord_ prefix", order.ID)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != orderEventCreated {
		t.Fatalf("published events = %+v, want one order.created", publisher.events)
	}
	if publisher.events[0].EventID == "" {
		t.Fatal("published event missing event id")
	}
	if mailer.confirmations != 1 {
		t.Fatalf("confirmation mails = %d, want 1", mailer.confirmations)
	}
}

func TestCreateOrderValidation(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	tests := []struct {
		name   string
		mutate func(*CreateOrderCommand)
	}{
		{"missing buyer", func(cmd *CreateOrderCommand) { cmd.BuyerID = "" }},
		{"missing items", func(cmd *CreateOrderCommand) { cmd.Items = nil }},
		{"bad payment method", func(cmd *CreateOrderCommand) { cmd.PaymentMethod = "barter" }},
		{"missing shipping method", func(cmd *CreateOrderCommand) { cmd.Shipping.Method = "" }},
		{"export without exporter", func(cmd *CreateOrderCommand) { cmd.Type = domain.OrderTypeExport }},
		{"zero quantity", func(cmd *CreateOrderCommand) { cmd.Items[0].Quantity = 0 }},
		{"negative discount", func(cmd *CreateOrderCommand) { cmd.Details.Discount = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := domesticOrderCommand()
			tc.mutate(&cmd)
			if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
				t.Fatalf("err = %v, want ErrOrderInvalidInput", err)
			}
		})
	}
}

func TestCreateOrderRejectsFinalAmountMismatch(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{})

	cmd := domesticOrderCommand()
	cmd.Details = OrderDetails{Discount: 100, Tax: 50, ShippingCost: 200, FinalAmount: 9999}
	if _, err := svc.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("err = %v, want ErrOrderInvalidInput", err)
	}

	cmd.Details.FinalAmount = 1500 - 100 + 50 + 200
	order, err := svc.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Details.FinalAmount != 1650 {
		t.Fatalf("final amount = %d, want 1650", order.Details.FinalAmount)
	}
}

func TestCreateOrderInsufficientQuantityIsConflict(t *testing.T) {
	product := availableProduct()
	products := &stubProductRepo{
		findByIDFn: func(context.Context, string) (domain.Product, error) { return product, nil },
		decrementFn: func(context.Context, []repositories.QuantityDecrement, time.Time) ([]domain.Product, error) {
			return nil, repositories.ErrInsufficientQuantity
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Products: products})

	if _, err := svc.CreateOrder(context.Background(), domesticOrderCommand()); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("err = %v, want ErrOrderConflict", err)
	}
}

func TestUpdateStatusEnforcesTransitionTable(t *testing.T) {
	tests := []struct {
		from domain.OrderStatus
		to   domain.OrderStatus
		ok   bool
	}{
		{domain.OrderStatusPending, domain.OrderStatusConfirmed, true},
		{domain.OrderStatusPending, domain.OrderStatusDelivered, false},
		{domain.OrderStatusPending, domain.OrderStatusCancelled, true},
		{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, true},
		{domain.OrderStatusConfirmed, domain.OrderStatusPending, false},
		{domain.OrderStatusShipped, domain.OrderStatusDelivered, true},
		{domain.OrderStatusShipped, domain.OrderStatusRefunded, true},
		{domain.OrderStatusDelivered, domain.OrderStatusProcessing, false},
		{domain.OrderStatusCancelled, domain.OrderStatusConfirmed, false},
		{domain.OrderStatusRefunded, domain.OrderStatusPending, false},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s_to_%s", tc.from, tc.to), func(t *testing.T) {
			orders := &stubOrderRepo{findByIDFn: func(context.Context, string) (domain.Order, error) {
				return domain.Order{ID: "ord_1", Status: tc.from, Timeline: domain.Timeline{OrderPlaced: testClock()}}, nil
			}}
			svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

			_, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
				OrderID: "ord_1", Status: tc.to, ActorID: "usr_admin",
			})
			if tc.ok && err != nil {
				t.Fatalf("UpdateStatus: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrOrderInvalidState) {
				t.Fatalf("err = %v, want ErrOrderInvalidState", err)
			}
		})
	}
}

func TestUpdateStatusStampsTimelineAndCommunication(t *testing.T) {
	var persisted domain.Order
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", OrderNumber: "AL2503140001", BuyerID: "usr_buyer",
				Status: domain.OrderStatusPending, Timeline: domain.Timeline{OrderPlaced: testClock()}}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			persisted = order
			return nil
		},
	}
	publisher := &stubPublisher{}
	mailer := &stubMailer{}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Events: publisher, Mailer: mailer})

	order, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1", Status: domain.OrderStatusConfirmed, ActorID: "usr_farmer",
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	if order.Timeline.OrderConfirmed == nil || !order.Timeline.OrderConfirmed.Equal(testClock()) {
		t.Fatalf("timeline.orderConfirmed = %v, want %v", order.Timeline.OrderConfirmed, testClock())
	}
	if len(order.Communication) != 1 {
		t.Fatalf("communication entries = %d, want 1", len(order.Communication))
	}
	entry := order.Communication[0]
	if !entry.IsInternal || entry.SenderID != "usr_farmer" {
		t.Fatalf("unexpected communication entry %+v", entry)
	}
	if persisted.Status != domain.OrderStatusConfirmed {
		t.Fatalf("persisted status = %s, want confirmed", persisted.Status)
	}
	if len(publisher.events) != 1 || publisher.events[0].PreviousStatus != "pending" {
		t.Fatalf("published events = %+v, want one status change from pending", publisher.events)
	}
	if mailer.statusUpdates != 1 {
		t.Fatalf("status update mails = %d, want 1", mailer.statusUpdates)
	}
}

func TestUpdateStatusRefundRecordsReasonAndMilestone(t *testing.T) {
	orders := &stubOrderRepo{findByIDFn: func(context.Context, string) (domain.Order, error) {
		return domain.Order{ID: "ord_1", Status: domain.OrderStatusConfirmed,
			Payment:  domain.Payment{Status: domain.PaymentStatusPaid},
			Timeline: domain.Timeline{OrderPlaced: testClock()}}, nil
	}}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	order, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1", Status: domain.OrderStatusRefunded, ActorID: "usr_admin", Reason: "crop failed inspection",
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if order.RefundReason != "crop failed inspection" {
		t.Fatalf("refund reason = %q", order.RefundReason)
	}
	if order.Timeline.Refunded == nil {
		t.Fatal("timeline.refunded not stamped")
	}
	if order.Payment.Status != domain.PaymentStatusRefunded || order.Payment.RefundedAt == nil {
		t.Fatalf("payment = %+v, want refunded with timestamp", order.Payment)
	}
}

func TestOrderLifecycleEndToEnd(t *testing.T) {
	product := availableProduct()
	var stored domain.Order
	orders := &stubOrderRepo{
		insertFn: func(_ context.Context, order domain.Order) error {
			stored = order
			return nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			stored = order
			return nil
		},
		findByIDFn: func(_ context.Context, id string) (domain.Order, error) {
			if stored.ID != id {
				return domain.Order{}, errStubNotFound
			}
			return stored, nil
		},
		listFn: func(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
			if filter.BuyerID != "" && filter.BuyerID != stored.BuyerID {
				return nil, nil
			}
			return []domain.Order{stored}, nil
		},
	}
	products := &stubProductRepo{
		findByIDFn: func(context.Context, string) (domain.Product, error) { return product, nil },
		decrementFn: func(_ context.Context, decrements []repositories.QuantityDecrement, _ time.Time) ([]domain.Product, error) {
			for _, decrement := range decrements {
				product.Quantity.Available -= decrement.Amount
			}
			return []domain.Product{product}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Products: products})

	order, err := svc.CreateOrder(context.Background(), domesticOrderCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.OrderNumber != "AL2503140001" {
		t.Fatalf("order number = %q, want AL2503140001", order.OrderNumber)
	}
	if product.Quantity.Available != 7 {
		t.Fatalf("available quantity = %.1f, want 7", product.Quantity.Available)
	}

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	} {
		if order, err = svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
			OrderID: order.ID, Status: status, ActorID: "usr_admin",
		}); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", status, err)
		}
	}

	if order.Timeline.Delivered == nil {
		t.Fatal("timeline.delivered not stamped")
	}
	if len(order.Communication) != 4 {
		t.Fatalf("communication entries = %d, want 4", len(order.Communication))
	}
	for _, entry := range order.Communication {
		if !entry.IsInternal {
			t.Fatalf("expected internal entry, got %+v", entry)
		}
	}

	groups, err := svc.OrderStats(context.Background(), OrderStatsQuery{ActorID: "usr_buyer", Role: domain.UserRoleBuyer})
	if err != nil {
		t.Fatalf("OrderStats: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("stat groups = %d, want 1", len(groups))
	}
	if groups[0].Status != domain.OrderStatusDelivered || groups[0].Count != 1 || groups[0].TotalAmount != order.Details.FinalAmount {
		t.Fatalf("stat group = %+v", groups[0])
	}
}

func TestOrderStatsScopesByRole(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepo{listFn: func(_ context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
		captured = filter
		return []domain.Order{
			{Status: domain.OrderStatusPending, Details: domain.OrderDetails{FinalAmount: 100}},
			{Status: domain.OrderStatusPending, Details: domain.OrderDetails{FinalAmount: 250}},
			{Status: domain.OrderStatusDelivered, Details: domain.OrderDetails{FinalAmount: 900}},
		}, nil
	}}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	groups, err := svc.OrderStats(context.Background(), OrderStatsQuery{ActorID: "usr_farmer", Role: domain.UserRoleFarmer})
	if err != nil {
		t.Fatalf("OrderStats: %v", err)
	}
	if captured.FarmerID != "usr_farmer" || captured.BuyerID != "" {
		t.Fatalf("filter = %+v, want farmer scope", captured)
	}
	if len(groups) != 2 {
		t.Fatalf("stat groups = %d, want 2", len(groups))
	}
	if groups[0].Status != domain.OrderStatusPending || groups[0].Count != 2 || groups[0].TotalAmount != 350 {
		t.Fatalf("pending group = %+v", groups[0])
	}
	if groups[1].Status != domain.OrderStatusDelivered || groups[1].TotalAmount != 900 {
		t.Fatalf("delivered group = %+v", groups[1])
	}

	if _, err := svc.OrderStats(context.Background(), OrderStatsQuery{Role: domain.UserRoleAdmin}); err != nil {
		t.Fatalf("OrderStats(admin): %v", err)
	}
	if captured.FarmerID != "" || captured.BuyerID != "" || captured.ExporterID != "" {
		t.Fatalf("admin filter = %+v, want unscoped", captured)
	}
}

func TestAddCommunicationAppendsSanitisedEntry(t *testing.T) {
	var persisted domain.Order
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", Status: domain.OrderStatusPending}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) error {
			persisted = order
			return nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	order, err := svc.AddCommunication(context.Background(), AddCommunicationCommand{
		OrderID:  "ord_1",
		SenderID: "usr_buyer",
		Message:  "<script>alert(1)</script>When will this ship?",
	})
	if err != nil {
		t.Fatalf("AddCommunication: %v", err)
	}
	if len(order.Communication) != 1 {
		t.Fatalf("communication entries = %d, want 1", len(order.Communication))
	}
	entry := order.Communication[0]
	if strings.Contains(entry.Message, "<script>") {
		t.Fatalf("message not sanitised: %q", entry.Message)
	}
	if entry.IsInternal {
		t.Fatal("entry should default to buyer-visible")
	}
	if len(persisted.Communication) != 1 {
		t.Fatal("entry not persisted")
	}
}

func TestUpdatePaymentPaidStampsAndNotifies(t *testing.T) {
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", BuyerID: "usr_buyer", Status: domain.OrderStatusConfirmed,
				Payment: domain.Payment{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPending}}, nil
		},
	}
	mailer := &stubMailer{}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Mailer: mailer})

	order, err := svc.UpdatePayment(context.Background(), UpdateOrderPaymentCommand{
		OrderID: "ord_1", Status: domain.PaymentStatusPaid, TransactionID: "pi_123",
	})
	if err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusPaid || order.Payment.PaidAt == nil {
		t.Fatalf("payment = %+v, want paid with timestamp", order.Payment)
	}
	if order.Payment.TransactionID != "pi_123" {
		t.Fatalf("transaction id = %q", order.Payment.TransactionID)
	}
	if mailer.payments != 1 {
		t.Fatalf("payment mails = %d, want 1", mailer.payments)
	}
}

type stubPaymentProvider struct {
	lookupFn func(context.Context, string) (payments.Payment, error)
	refundFn func(context.Context, payments.RefundRequest) (payments.Payment, error)
}

func (s *stubPaymentProvider) Charge(context.Context, payments.ChargeRequest) (payments.Payment, error) {
	return payments.Payment{}, errors.New("not implemented")
}

func (s *stubPaymentProvider) Refund(ctx context.Context, req payments.RefundRequest) (payments.Payment, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return payments.Payment{Status: payments.StatusRefunded}, nil
}

func (s *stubPaymentProvider) LookupPayment(ctx context.Context, paymentID string) (payments.Payment, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, paymentID)
	}
	return payments.Payment{}, payments.ErrPaymentNotFound
}

func TestUpdatePaymentVerifiesProviderCharge(t *testing.T) {
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", BuyerID: "usr_buyer", Status: domain.OrderStatusConfirmed,
				Payment: domain.Payment{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPending}}, nil
		},
	}
	provider := &stubPaymentProvider{
		lookupFn: func(_ context.Context, paymentID string) (payments.Payment, error) {
			if paymentID != "pi_123" {
				return payments.Payment{}, payments.ErrPaymentNotFound
			}
			return payments.Payment{ID: paymentID, Status: payments.StatusPending}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Payments: provider})

	_, err := svc.UpdatePayment(context.Background(), UpdateOrderPaymentCommand{
		OrderID: "ord_1", Status: domain.PaymentStatusPaid, TransactionID: "pi_123",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("unsettled charge error = %v, want ErrOrderInvalidInput", err)
	}

	_, err = svc.UpdatePayment(context.Background(), UpdateOrderPaymentCommand{
		OrderID: "ord_1", Status: domain.PaymentStatusPaid, TransactionID: "pi_missing",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("unknown charge error = %v, want ErrOrderInvalidInput", err)
	}

	provider.lookupFn = func(_ context.Context, paymentID string) (payments.Payment, error) {
		return payments.Payment{ID: paymentID, Status: payments.StatusSucceeded}, nil
	}
	order, err := svc.UpdatePayment(context.Background(), UpdateOrderPaymentCommand{
		OrderID: "ord_1", Status: domain.PaymentStatusPaid, TransactionID: "pi_123",
	})
	if err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusPaid {
		t.Fatalf("payment status = %q, want paid", order.Payment.Status)
	}
}

func TestUpdatePaymentRefundGoesThroughProvider(t *testing.T) {
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", OrderNumber: "AL2503140001", BuyerID: "usr_buyer",
				Status: domain.OrderStatusRefunded, RefundReason: "damaged in transit",
				Payment: domain.Payment{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPaid}}, nil
		},
	}
	var refunded payments.RefundRequest
	provider := &stubPaymentProvider{
		refundFn: func(_ context.Context, req payments.RefundRequest) (payments.Payment, error) {
			refunded = req
			return payments.Payment{ID: "re_1", Status: payments.StatusRefunded}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Payments: provider})

	order, err := svc.UpdatePayment(context.Background(), UpdateOrderPaymentCommand{
		OrderID: "ord_1", Status: domain.PaymentStatusRefunded, TransactionID: "pi_123",
	})
	if err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusRefunded || order.Payment.RefundedAt == nil {
		t.Fatalf("payment = %+v, want refunded with timestamp", order.Payment)
	}
	if refunded.PaymentID != "pi_123" || refunded.OrderID != "ord_1" {
		t.Fatalf("refund request = %+v", refunded)
	}
	if refunded.Reason != "damaged in transit" {
		t.Fatalf("refund reason = %q", refunded.Reason)
	}
	if refunded.IdempotencyKey != "refund-AL2503140001" {
		t.Fatalf("idempotency key = %q", refunded.IdempotencyKey)
	}
}

func TestRefundTransitionIssuesProviderRefund(t *testing.T) {
	stored := domain.Order{ID: "ord_1", OrderNumber: "AL2503140001", BuyerID: "usr_buyer",
		Status: domain.OrderStatusConfirmed,
		Payment: domain.Payment{Method: domain.PaymentMethodCard, Status: domain.PaymentStatusPaid,
			TransactionID: "pi_123"}}
	orders := &stubOrderRepo{
		findByIDFn: func(context.Context, string) (domain.Order, error) { return stored, nil },
		updateFn: func(_ context.Context, order domain.Order) error {
			stored = order
			return nil
		},
	}
	var refunds []payments.RefundRequest
	provider := &stubPaymentProvider{
		refundFn: func(_ context.Context, req payments.RefundRequest) (payments.Payment, error) {
			refunds = append(refunds, req)
			return payments.Payment{ID: "re_1", Status: payments.StatusRefunded}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders, Payments: provider})

	order, err := svc.UpdateStatus(context.Background(), UpdateOrderStatusCommand{
		OrderID: "ord_1", Status: domain.OrderStatusRefunded, ActorID: "usr_admin", Reason: "shipment spoiled",
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if len(refunds) != 1 {
		t.Fatalf("provider refunds after transition = %d, want 1", len(refunds))
	}
	if refunds[0].PaymentID != "pi_123" || refunds[0].Reason != "shipment spoiled" {
		t.Fatalf("refund request = %+v", refunds[0])
	}
	if order.Payment.Status != domain.PaymentStatusRefunded || order.Payment.RefundedAt == nil {
		t.Fatalf("payment = %+v, want refunded with timestamp", order.Payment)
	}

	// Recording the payment afterwards resubmits under the same idempotency
	// key, so the provider deduplicates instead of double refunding.
	if _, err := svc.UpdatePayment(context.Background(), UpdateOrderPaymentCommand{
		OrderID: "ord_1", Status: domain.PaymentStatusRefunded,
	}); err != nil {
		t.Fatalf("UpdatePayment: %v", err)
	}
	if len(refunds) != 2 {
		t.Fatalf("provider refunds after payment update = %d, want 2", len(refunds))
	}
	if refunds[1].PaymentID != "pi_123" {
		t.Fatalf("second refund payment id = %q, want stored pi_123", refunds[1].PaymentID)
	}
	if refunds[0].IdempotencyKey != "refund-AL2503140001" || refunds[1].IdempotencyKey != refunds[0].IdempotencyKey {
		t.Fatalf("idempotency keys = %q, %q, want both refund-AL2503140001",
			refunds[0].IdempotencyKey, refunds[1].IdempotencyKey)
	}
}

func TestNotificationFailureDoesNotFailOperation(t *testing.T) {
	var logged []string
	mailer := &stubMailer{err: errors.New("smtp down")}
	svc := newTestOrderService(t, OrderServiceDeps{
		Mailer: mailer,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})

	if _, err := svc.CreateOrder(context.Background(), domesticOrderCommand()); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if len(logged) == 0 || logged[0] != "order.mail.confirmation.failed" {
		t.Fatalf("logged events = %v, want mail failure", logged)
	}
}
