package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/repositories"
	"github.com/agrilink/api/internal/services"
)

const maxOrderBodySize = 256 * 1024

// OrderHandlers exposes order lifecycle endpoints for authenticated users.
// Every read is scoped to the order participants; admins see everything.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{authn: authn, orders: orders}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.Require())
	}
	r.With(auth.RequireRoles(auth.RoleBuyer)).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/stats", h.orderStats)
	r.Get("/number/{orderNumber}", h.getOrderByNumber)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/communications", h.addCommunication)
	r.Post("/{orderID}/payment", h.updatePayment)
}

type orderItemRequest struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
	UnitPrice int64   `json:"unit_price,omitempty"`
}

type shippingRequest struct {
	Method             string         `json:"method"`
	Carrier            string         `json:"carrier,omitempty"`
	PickupAddress      addressPayload `json:"pickup_address,omitempty"`
	DeliveryAddress    addressPayload `json:"delivery_address"`
	ExpectedDeliveryAt string         `json:"expected_delivery_at,omitempty"`
}

type exportDetailsRequest struct {
	LicenseNumber string   `json:"license_number"`
	Incoterm      string   `json:"incoterm,omitempty"`
	Certificates  []string `json:"certificates,omitempty"`
}

type createOrderRequest struct {
	FarmerID      string                `json:"farmer_id"`
	ExporterID    *string               `json:"exporter_id"`
	Type          string                `json:"type"`
	Items         []orderItemRequest    `json:"items"`
	Currency      string                `json:"currency"`
	Discount      int64                 `json:"discount,omitempty"`
	Tax           int64                 `json:"tax,omitempty"`
	ShippingCost  int64                 `json:"shipping_cost,omitempty"`
	PaymentMethod string                `json:"payment_method"`
	Export        *exportDetailsRequest `json:"export"`
	Shipping      shippingRequest       `json:"shipping"`
	Notes         string                `json:"notes,omitempty"`
	IsUrgent      bool                  `json:"is_urgent,omitempty"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type addCommunicationRequest struct {
	Message    string `json:"message"`
	IsInternal bool   `json:"is_internal,omitempty"`
}

type updateOrderPaymentRequest struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createOrderRequest
	if err := decodeBody(ctx, w, r, maxOrderBodySize, &req); err != nil {
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	cmd := services.CreateOrderCommand{
		BuyerID:    identity.ID,
		FarmerID:   strings.TrimSpace(req.FarmerID),
		ExporterID: req.ExporterID,
		Type:       domain.OrderType(strings.ToLower(strings.TrimSpace(req.Type))),
		Items:      items,
		Details: domain.OrderDetails{
			Currency:     strings.ToUpper(strings.TrimSpace(req.Currency)),
			Discount:     req.Discount,
			Tax:          req.Tax,
			ShippingCost: req.ShippingCost,
		},
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Notes:         req.Notes,
		IsUrgent:      req.IsUrgent,
	}
	if req.Export != nil {
		cmd.Export = &domain.ExportDetails{
			LicenseNumber: strings.TrimSpace(req.Export.LicenseNumber),
			Incoterm:      strings.ToUpper(strings.TrimSpace(req.Export.Incoterm)),
			Certificates:  req.Export.Certificates,
		}
	}

	shipping := domain.Shipping{
		Method:          strings.TrimSpace(req.Shipping.Method),
		Carrier:         strings.TrimSpace(req.Shipping.Carrier),
		PickupAddress:   req.Shipping.PickupAddress.toDomain(),
		DeliveryAddress: req.Shipping.DeliveryAddress.toDomain(),
	}
	if raw := strings.TrimSpace(req.Shipping.ExpectedDeliveryAt); raw != "" {
		expected, err := parseDateField(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_delivery_at "+err.Error(), http.StatusBadRequest))
			return
		}
		shipping.ExpectedDeliveryAt = &expected
	}
	cmd.Shipping = shipping

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, identity)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := repositories.OrderListFilter{
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("status"))); raw != "" {
		status := domain.OrderStatus(raw)
		if !domain.ValidOrderStatus(status) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a valid order status", http.StatusBadRequest))
			return
		}
		filter.Status = &status
	}

	// Non-admin actors only ever see their own side of the ledger.
	switch {
	case identity.IsAdmin():
		filter.BuyerID = strings.TrimSpace(query.Get("buyer_id"))
		filter.FarmerID = strings.TrimSpace(query.Get("farmer_id"))
		filter.ExporterID = strings.TrimSpace(query.Get("exporter_id"))
	case identity.HasRole(auth.RoleFarmer):
		filter.FarmerID = identity.ID
	case identity.HasRole(auth.RoleExporter):
		filter.ExporterID = identity.ID
	default:
		filter.BuyerID = identity.ID
	}

	orders, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	h.writeParticipantOrder(ctx, w, order, identity)
}

func (h *OrderHandlers) getOrderByNumber(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderNumber := strings.TrimSpace(chi.URLParam(r, "orderNumber"))
	if orderNumber == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order number is required", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrderByNumber(ctx, orderNumber)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	h.writeParticipantOrder(ctx, w, order, identity)
}

// writeParticipantOrder hides orders from non-participants behind a 404 so the
// existence of an order number cannot be probed.
func (h *OrderHandlers) writeParticipantOrder(ctx context.Context, w http.ResponseWriter, order services.Order, identity *auth.Identity) {
	if !isOrderParticipant(order, identity) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, identity)})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderStatusRequest
	if err := decodeBody(ctx, w, r, maxOrderBodySize, &req); err != nil {
		return
	}

	status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	if !domain.ValidOrderStatus(status) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status is not a valid order status", http.StatusBadRequest))
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !isOrderParticipant(order, identity) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}
	// Buyers may only cancel; fulfilment transitions belong to the supply side.
	if identity.HasRole(auth.RoleBuyer) && status != domain.OrderStatusCancelled {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "buyers may only cancel orders", http.StatusForbidden))
		return
	}

	updated, err := h.orders.UpdateStatus(ctx, services.UpdateOrderStatusCommand{
		OrderID: orderID,
		Status:  status,
		ActorID: identity.ID,
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated, identity)})
}

func (h *OrderHandlers) addCommunication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req addCommunicationRequest
	if err := decodeBody(ctx, w, r, maxOrderBodySize, &req); err != nil {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !isOrderParticipant(order, identity) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	// Buyers cannot author internal notes.
	isInternal := req.IsInternal && !identity.HasRole(auth.RoleBuyer)

	updated, err := h.orders.AddCommunication(ctx, services.AddCommunicationCommand{
		OrderID:    orderID,
		SenderID:   identity.ID,
		Message:    req.Message,
		IsInternal: isInternal,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(updated, identity)})
}

func (h *OrderHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}
	if !identity.HasAnyRole(auth.RoleFarmer, auth.RoleExporter, auth.RoleAdmin) {
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you do not have permission to update payments", http.StatusForbidden))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	var req updateOrderPaymentRequest
	if err := decodeBody(ctx, w, r, maxOrderBodySize, &req); err != nil {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if !isOrderParticipant(order, identity) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	updated, err := h.orders.UpdatePayment(ctx, services.UpdateOrderPaymentCommand{
		OrderID:       orderID,
		Status:        domain.PaymentStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		TransactionID: strings.TrimSpace(req.TransactionID),
		ActorID:       identity.ID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(updated, identity)})
}

func (h *OrderHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	groups, err := h.orders.OrderStats(ctx, services.OrderStatsQuery{
		ActorID: identity.ID,
		Role:    domain.UserRole(identity.Role),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		items = append(items, map[string]any{
			"status":       string(group.Status),
			"count":        group.Count,
			"total_amount": group.TotalAmount,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

type orderListResponse struct {
	Items []orderSummaryPayload `json:"items"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Type        string `json:"type"`
	Currency    string `json:"currency"`
	FinalAmount int64  `json:"final_amount"`
	IsUrgent    bool   `json:"is_urgent,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                 string                 `json:"id"`
	OrderNumber        string                 `json:"order_number"`
	BuyerID            string                 `json:"buyer_id"`
	FarmerID           string                 `json:"farmer_id"`
	ExporterID         *string                `json:"exporter_id,omitempty"`
	Type               string                 `json:"type"`
	Status             string                 `json:"status"`
	Items              []orderItemPayload     `json:"items"`
	Details            orderDetailsPayload    `json:"details"`
	Payment            orderPaymentPayload    `json:"payment"`
	Export             *exportDetailsPayload  `json:"export,omitempty"`
	Shipping           orderShippingPayload   `json:"shipping"`
	Communication      []communicationPayload `json:"communication,omitempty"`
	Timeline           orderTimelinePayload   `json:"timeline"`
	Notes              string                 `json:"notes,omitempty"`
	CancellationReason string                 `json:"cancellation_reason,omitempty"`
	RefundReason       string                 `json:"refund_reason,omitempty"`
	IsUrgent           bool                   `json:"is_urgent,omitempty"`
	CreatedAt          string                 `json:"created_at"`
	UpdatedAt          string                 `json:"updated_at,omitempty"`
}

type orderItemPayload struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name,omitempty"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
	UnitPrice   int64   `json:"unit_price"`
	TotalPrice  int64   `json:"total_price"`
}

type orderDetailsPayload struct {
	Currency     string `json:"currency"`
	TotalAmount  int64  `json:"total_amount"`
	Discount     int64  `json:"discount,omitempty"`
	Tax          int64  `json:"tax,omitempty"`
	ShippingCost int64  `json:"shipping_cost,omitempty"`
	FinalAmount  int64  `json:"final_amount"`
}

type orderPaymentPayload struct {
	Method        string `json:"method"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	PaidAt        string `json:"paid_at,omitempty"`
	RefundedAt    string `json:"refunded_at,omitempty"`
}

type exportDetailsPayload struct {
	LicenseNumber string   `json:"license_number"`
	Incoterm      string   `json:"incoterm,omitempty"`
	Certificates  []string `json:"certificates,omitempty"`
}

type orderShippingPayload struct {
	Method             string          `json:"method,omitempty"`
	Carrier            string          `json:"carrier,omitempty"`
	TrackingNumber     string          `json:"tracking_number,omitempty"`
	PickupAddress      *addressPayload `json:"pickup_address,omitempty"`
	DeliveryAddress    *addressPayload `json:"delivery_address,omitempty"`
	ExpectedDeliveryAt string          `json:"expected_delivery_at,omitempty"`
	ActualDeliveryAt   string          `json:"actual_delivery_at,omitempty"`
}

type communicationPayload struct {
	SenderID   string `json:"sender_id"`
	Message    string `json:"message"`
	IsInternal bool   `json:"is_internal,omitempty"`
	CreatedAt  string `json:"created_at"`
}

type orderTimelinePayload struct {
	OrderPlaced       string `json:"order_placed"`
	OrderConfirmed    string `json:"order_confirmed,omitempty"`
	ProcessingStarted string `json:"processing_started,omitempty"`
	Shipped           string `json:"shipped,omitempty"`
	Delivered         string `json:"delivered,omitempty"`
	Cancelled         string `json:"cancelled,omitempty"`
	Refunded          string `json:"refunded,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		Status:      string(order.Status),
		Type:        string(order.Type),
		Currency:    strings.ToUpper(order.Details.Currency),
		FinalAmount: order.Details.FinalAmount,
		IsUrgent:    order.IsUrgent,
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order, viewer *auth.Identity) orderPayload {
	payload := orderPayload{
		ID:          strings.TrimSpace(order.ID),
		OrderNumber: strings.TrimSpace(order.OrderNumber),
		BuyerID:     order.BuyerID,
		FarmerID:    order.FarmerID,
		ExporterID:  order.ExporterID,
		Type:        string(order.Type),
		Status:      string(order.Status),
		Items:       make([]orderItemPayload, 0, len(order.Items)),
		Details: orderDetailsPayload{
			Currency:     strings.ToUpper(order.Details.Currency),
			TotalAmount:  order.Details.TotalAmount,
			Discount:     order.Details.Discount,
			Tax:          order.Details.Tax,
			ShippingCost: order.Details.ShippingCost,
			FinalAmount:  order.Details.FinalAmount,
		},
		Payment: orderPaymentPayload{
			Method:        string(order.Payment.Method),
			Status:        string(order.Payment.Status),
			TransactionID: order.Payment.TransactionID,
			PaidAt:        formatTime(pointerTime(order.Payment.PaidAt)),
			RefundedAt:    formatTime(pointerTime(order.Payment.RefundedAt)),
		},
		Timeline: orderTimelinePayload{
			OrderPlaced:       formatTime(order.Timeline.OrderPlaced),
			OrderConfirmed:    formatTime(pointerTime(order.Timeline.OrderConfirmed)),
			ProcessingStarted: formatTime(pointerTime(order.Timeline.ProcessingStarted)),
			Shipped:           formatTime(pointerTime(order.Timeline.Shipped)),
			Delivered:         formatTime(pointerTime(order.Timeline.Delivered)),
			Cancelled:         formatTime(pointerTime(order.Timeline.Cancelled)),
			Refunded:          formatTime(pointerTime(order.Timeline.Refunded)),
		},
		Notes:              order.Notes,
		CancellationReason: order.CancellationReason,
		RefundReason:       order.RefundReason,
		IsUrgent:           order.IsUrgent,
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			Unit:        item.Unit,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}

	if order.Export != nil {
		payload.Export = &exportDetailsPayload{
			LicenseNumber: order.Export.LicenseNumber,
			Incoterm:      order.Export.Incoterm,
			Certificates:  order.Export.Certificates,
		}
	}

	shipping := orderShippingPayload{
		Method:             order.Shipping.Method,
		Carrier:            order.Shipping.Carrier,
		TrackingNumber:     order.Shipping.TrackingNumber,
		ExpectedDeliveryAt: formatTime(pointerTime(order.Shipping.ExpectedDeliveryAt)),
		ActualDeliveryAt:   formatTime(pointerTime(order.Shipping.ActualDeliveryAt)),
	}
	if order.Shipping.PickupAddress != (services.Address{}) {
		addr := buildAddressPayload(order.Shipping.PickupAddress)
		shipping.PickupAddress = &addr
	}
	if order.Shipping.DeliveryAddress != (services.Address{}) {
		addr := buildAddressPayload(order.Shipping.DeliveryAddress)
		shipping.DeliveryAddress = &addr
	}
	payload.Shipping = shipping

	// Internal entries are hidden from buyers.
	includeInternal := viewer != nil && !viewer.HasRole(auth.RoleBuyer)
	for _, entry := range order.Communication {
		if entry.IsInternal && !includeInternal {
			continue
		}
		payload.Communication = append(payload.Communication, communicationPayload{
			SenderID:   entry.SenderID,
			Message:    entry.Message,
			IsInternal: entry.IsInternal,
			CreatedAt:  formatTime(entry.CreatedAt),
		})
	}

	return payload
}

func isOrderParticipant(order services.Order, identity *auth.Identity) bool {
	if identity == nil {
		return false
	}
	if identity.IsAdmin() {
		return true
	}
	if identity.ID == order.BuyerID || identity.ID == order.FarmerID {
		return true
	}
	return order.ExporterID != nil && identity.ID == *order.ExporterID
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		apiErr := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
		if details := validationDetails(err); details != nil {
			apiErr = apiErr.WithDetails(details)
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
