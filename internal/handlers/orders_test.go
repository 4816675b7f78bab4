package handlers

import (
	"bytes"
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
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/repositories"
	"github.com/agrilink/api/internal/services"
)

type stubOrderService struct {
	createFn      func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn         func(context.Context, string) (services.Order, error)
	getByNumberFn func(context.Context, string) (services.Order, error)
	listFn        func(context.Context, repositories.OrderListFilter) ([]services.Order, error)
	statusFn      func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error)
	commFn        func(context.Context, services.AddCommunicationCommand) (services.Order, error)
	paymentFn     func(context.Context, services.UpdateOrderPaymentCommand) (services.Order, error)
	statsFn       func(context.Context, services.OrderStatsQuery) ([]services.OrderStatGroup, error)
}

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (services.Order, error) {
	if s.getByNumberFn != nil {
		return s.getByNumberFn(ctx, orderNumber)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) ([]services.Order, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return nil, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	if s.statusFn != nil {
		return s.statusFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) AddCommunication(ctx context.Context, cmd services.AddCommunicationCommand) (services.Order, error) {
	if s.commFn != nil {
		return s.commFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdatePayment(ctx context.Context, cmd services.UpdateOrderPaymentCommand) (services.Order, error) {
	if s.paymentFn != nil {
		return s.paymentFn(ctx, cmd)
	}
	return services.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) OrderStats(ctx context.Context, query services.OrderStatsQuery) ([]services.OrderStatGroup, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, query)
	}
	return nil, nil
}

func identityRequest(req *http.Request, identity *auth.Identity) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func buyerIdentity() *auth.Identity {
	return &auth.Identity{ID: "usr_buyer", Role: auth.RoleBuyer, IsVerified: true, IsActive: true}
}

func farmerIdentity() *auth.Identity {
	return &auth.Identity{ID: "usr_farmer", Role: auth.RoleFarmer, IsVerified: true, IsActive: true}
}

func adminIdentity() *auth.Identity {
	return &auth.Identity{ID: "usr_admin", Role: auth.RoleAdmin, IsVerified: true, IsActive: true}
}

func sampleOrder() services.Order {
	placed := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	return services.Order{
		ID:          "ord_123",
		OrderNumber: "AL2503140001",
		BuyerID:     "usr_buyer",
		FarmerID:    "usr_farmer",
		Type:        domain.OrderTypeDomestic,
		Status:      domain.OrderStatusPending,
		Items: []domain.OrderItem{
			{ProductID: "prd_rice", ProductName: "Basmati Rice", Quantity: 3, Unit: "kg", UnitPrice: 500, TotalPrice: 1500},
		},
		Details: domain.OrderDetails{
			Currency:    "usd",
			TotalAmount: 1500,
			Tax:         150,
			FinalAmount: 1650,
		},
		Payment: domain.Payment{
			Method: domain.PaymentMethodBankTransfer,
			Status: domain.PaymentStatusPending,
		},
		Communication: []domain.CommunicationEntry{
			{SenderID: "usr_farmer", Message: "packed and ready", IsInternal: true, CreatedAt: placed},
			{SenderID: "usr_buyer", Message: "please deliver before friday", CreatedAt: placed},
		},
		Timeline:  domain.Timeline{OrderPlaced: placed},
		CreatedAt: placed,
	}
}

func newOrderRouter(service *stubOrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func TestOrderHandlersCreateOrderSetsBuyerFromIdentity(t *testing.T) {
	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
			captured = cmd
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(service)

	body := `{
		"farmer_id": "usr_farmer",
		"type": "domestic",
		"items": [{"product_id": "prd_rice", "quantity": 3}],
		"currency": "usd",
		"tax": 150,
		"payment_method": "bank_transfer",
		"shipping": {"method": "truck", "delivery_address": {"city": "Colombo", "country": "LK"}}
	}`
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body)), buyerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "usr_buyer" {
		t.Fatalf("buyer id = %q", captured.BuyerID)
	}
	if captured.Details.Currency != "USD" {
		t.Fatalf("currency = %q", captured.Details.Currency)
	}
	if captured.Shipping.DeliveryAddress.City != "Colombo" {
		t.Fatalf("delivery city = %q", captured.Shipping.DeliveryAddress.City)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if resp.Order.OrderNumber != "AL2503140001" {
		t.Fatalf("order number = %q", resp.Order.OrderNumber)
	}
}

func TestOrderHandlersCreateOrderRejectsNonBuyers(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := identityRequest(httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(`{}`)), farmerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestOrderHandlersListScopesToActorRole(t *testing.T) {
	cases := []struct {
		name     string
		identity *auth.Identity
		check    func(t *testing.T, filter repositories.OrderListFilter)
	}{
		{
			name:     "buyer sees own purchases",
			identity: buyerIdentity(),
			check: func(t *testing.T, filter repositories.OrderListFilter) {
				if filter.BuyerID != "usr_buyer" || filter.FarmerID != "" {
					t.Fatalf("filter = %+v", filter)
				}
			},
		},
		{
			name:     "farmer sees own sales",
			identity: farmerIdentity(),
			check: func(t *testing.T, filter repositories.OrderListFilter) {
				if filter.FarmerID != "usr_farmer" || filter.BuyerID != "" {
					t.Fatalf("filter = %+v", filter)
				}
			},
		},
		{
			name:     "exporter sees assigned orders",
			identity: &auth.Identity{ID: "usr_exp", Role: auth.RoleExporter, IsActive: true},
			check: func(t *testing.T, filter repositories.OrderListFilter) {
				if filter.ExporterID != "usr_exp" {
					t.Fatalf("filter = %+v", filter)
				}
			},
		},
		{
			name:     "admin passes explicit filters",
			identity: adminIdentity(),
			check: func(t *testing.T, filter repositories.OrderListFilter) {
				if filter.BuyerID != "usr_other" {
					t.Fatalf("filter = %+v", filter)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var captured repositories.OrderListFilter
			service := &stubOrderService{
				listFn: func(_ context.Context, filter repositories.OrderListFilter) ([]services.Order, error) {
					captured = filter
					return []services.Order{sampleOrder()}, nil
				},
			}
			router := newOrderRouter(service)

			req := identityRequest(httptest.NewRequest(http.MethodGet, "/orders/?buyer_id=usr_other", nil), tc.identity)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
			}
			tc.check(t, captured)
		})
	}
}

func TestOrderHandlersGetOrderHidesNonParticipants(t *testing.T) {
	service := &stubOrderService{
		getFn: func(_ context.Context, orderID string) (services.Order, error) {
			if orderID != "ord_123" {
				return services.Order{}, fmt.Errorf("%w: no order", services.ErrOrderNotFound)
			}
			return sampleOrder(), nil
		},
	}
	router := newOrderRouter(service)

	stranger := &auth.Identity{ID: "usr_stranger", Role: auth.RoleBuyer, IsActive: true}
	req := identityRequest(httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil), stranger)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("stranger status = %d, want 404", rr.Code)
	}

	req = identityRequest(httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil), buyerIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("participant status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersBuyerSeesNoInternalCommunication(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) { return sampleOrder(), nil },
	}
	router := newOrderRouter(service)

	req := identityRequest(httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil), buyerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Order.Communication) != 1 {
		t.Fatalf("communication entries = %d, want 1", len(resp.Order.Communication))
	}
	if resp.Order.Communication[0].IsInternal {
		t.Fatal("internal entry leaked to buyer")
	}

	req = identityRequest(httptest.NewRequest(http.MethodGet, "/orders/ord_123", nil), farmerIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Order.Communication) != 2 {
		t.Fatalf("farmer communication entries = %d, want 2", len(resp.Order.Communication))
	}
}

func TestOrderHandlersUpdateStatusBuyerMayOnlyCancel(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) { return sampleOrder(), nil },
		statusFn: func(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
			order := sampleOrder()
			order.Status = cmd.Status
			return order, nil
		},
	}
	router := newOrderRouter(service)

	body := bytes.NewBufferString(`{"status": "confirmed"}`)
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_123/status", body), buyerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("buyer confirm status = %d, want 403", rr.Code)
	}

	body = bytes.NewBufferString(`{"status": "cancelled", "reason": "changed my mind"}`)
	req = identityRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_123/status", body), buyerIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("buyer cancel status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestOrderHandlersUpdateStatusMapsInvalidState(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string) (services.Order, error) { return sampleOrder(), nil },
		statusFn: func(context.Context, services.UpdateOrderStatusCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: pending to delivered", services.ErrOrderInvalidState)
		},
	}
	router := newOrderRouter(service)

	body := bytes.NewBufferString(`{"status": "delivered"}`)
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_123/status", body), farmerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestOrderHandlersUpdatePaymentRejectsBuyers(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	body := bytes.NewBufferString(`{"status": "paid"}`)
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_123/payment", body), buyerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestOrderHandlersStatsUsesIdentityRole(t *testing.T) {
	var captured services.OrderStatsQuery
	service := &stubOrderService{
		statsFn: func(_ context.Context, query services.OrderStatsQuery) ([]services.OrderStatGroup, error) {
			captured = query
			return []services.OrderStatGroup{{Status: domain.OrderStatusDelivered, Count: 2, TotalAmount: 3300}}, nil
		},
	}
	router := newOrderRouter(service)

	req := identityRequest(httptest.NewRequest(http.MethodGet, "/orders/stats", nil), farmerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.ActorID != "usr_farmer" || captured.Role != domain.UserRoleFarmer {
		t.Fatalf("query = %+v", captured)
	}
	if !strings.Contains(rr.Body.String(), `"total_amount":3300`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}
