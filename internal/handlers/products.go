package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/platform/auth"
	"github.com/agrilink/api/internal/platform/httpx"
	"github.com/agrilink/api/internal/repositories"
	"github.com/agrilink/api/internal/services"
)

const maxProductBodySize = 256 * 1024

// ProductHandlers exposes the produce catalog endpoints. Listing and reads
// are public; mutations require an authenticated farmer or admin.
type ProductHandlers struct {
	authn    *auth.Authenticator
	products services.ProductService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(authn *auth.Authenticator, products services.ProductService) *ProductHandlers {
	return &ProductHandlers{authn: authn, products: products}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.Group(func(public chi.Router) {
		if h.authn != nil {
			public.Use(h.authn.Optional())
		}
		public.Get("/", h.listProducts)
		public.Get("/categories/summary", h.categorySummaries)
		public.Get("/districts/summary", h.districtSummaries)
		public.Get("/{productID}", h.getProduct)
	})

	ownsProduct := auth.RequireOwnership(h.fetchOwnedProduct, h.isProductNotFound, func(r *http.Request) string {
		return chi.URLParam(r, "productID")
	})

	r.Group(func(protected chi.Router) {
		if h.authn != nil {
			protected.Use(h.authn.Require())
		}
		protected.With(auth.RequireRoles(auth.RoleFarmer), auth.RequireVerified()).Post("/", h.createProduct)
		protected.With(auth.RequireRoles(auth.RoleFarmer, auth.RoleAdmin), ownsProduct).Patch("/{productID}", h.updateProduct)
		protected.With(auth.RequireRoles(auth.RoleFarmer, auth.RoleAdmin), ownsProduct).Delete("/{productID}", h.removeProduct)
		protected.With(auth.RequireRoles(auth.RoleBuyer, auth.RoleExporter)).Post("/{productID}/inquiries", h.addInquiry)
	})
}

// ownedProduct lets the ownership middleware inspect a listing's owner.
type ownedProduct struct {
	services.Product
}

func (p ownedProduct) ResourceOwnerID() string { return p.FarmerID }

func (h *ProductHandlers) fetchOwnedProduct(ctx context.Context, productID string) (auth.OwnedResource, error) {
	if h.products == nil {
		return nil, errors.New("product service unavailable")
	}
	product, err := h.products.GetProduct(ctx, productID, services.ProductReadOptions{})
	if err != nil {
		return nil, err
	}
	return ownedProduct{Product: product}, nil
}

func (h *ProductHandlers) isProductNotFound(err error) bool {
	return errors.Is(err, services.ErrProductNotFound)
}

type quantityPayload struct {
	Available    float64 `json:"available"`
	Unit         string  `json:"unit"`
	MinimumOrder float64 `json:"minimum_order,omitempty"`
}

type pricePayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type productImagePayload struct {
	URL       string `json:"url"`
	PublicID  string `json:"public_id,omitempty"`
	Caption   string `json:"caption,omitempty"`
	IsPrimary bool   `json:"is_primary,omitempty"`
}

type bulkDiscountPayload struct {
	MinimumQuantity float64 `json:"minimum_quantity"`
	Percent         float64 `json:"percent"`
}

type geoPointPayload struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type inquiryPayload struct {
	BuyerID   string  `json:"buyer_id"`
	Message   string  `json:"message"`
	Quantity  float64 `json:"quantity,omitempty"`
	CreatedAt string  `json:"created_at"`
}

type productPayload struct {
	ID                string                `json:"id"`
	FarmerID          string                `json:"farmer_id"`
	Name              string                `json:"name"`
	Variety           string                `json:"variety,omitempty"`
	Description       string                `json:"description,omitempty"`
	Category          string                `json:"category"`
	FarmLocation      string                `json:"farm_location,omitempty"`
	District          string                `json:"district,omitempty"`
	Coordinates       *geoPointPayload      `json:"coordinates,omitempty"`
	Images            []productImagePayload `json:"images,omitempty"`
	Quantity          quantityPayload       `json:"quantity"`
	Grade             string                `json:"grade,omitempty"`
	Certifications    []string              `json:"certifications,omitempty"`
	Price             pricePayload          `json:"price"`
	BulkDiscount      *bulkDiscountPayload  `json:"bulk_discount,omitempty"`
	HarvestDate       string                `json:"harvest_date,omitempty"`
	ExpiryDate        string                `json:"expiry_date,omitempty"`
	StorageConditions string                `json:"storage_conditions,omitempty"`
	ExportReady       bool                  `json:"export_ready"`
	IsVerified        bool                  `json:"is_verified"`
	Status            string                `json:"status"`
	Views             int64                 `json:"views"`
	Inquiries         []inquiryPayload      `json:"inquiries,omitempty"`
	CreatedAt         string                `json:"created_at"`
	UpdatedAt         string                `json:"updated_at,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Items []productPayload `json:"items"`
}

type createProductRequest struct {
	Name              string                `json:"name"`
	Variety           string                `json:"variety"`
	Description       string                `json:"description"`
	Category          string                `json:"category"`
	FarmLocation      string                `json:"farm_location"`
	District          string                `json:"district"`
	Coordinates       *geoPointPayload      `json:"coordinates"`
	Images            []productImagePayload `json:"images"`
	Quantity          quantityPayload       `json:"quantity"`
	Grade             string                `json:"grade"`
	Certifications    []string              `json:"certifications"`
	Price             pricePayload          `json:"price"`
	BulkDiscount      *bulkDiscountPayload  `json:"bulk_discount"`
	HarvestDate       string                `json:"harvest_date"`
	ExpiryDate        string                `json:"expiry_date"`
	StorageConditions string                `json:"storage_conditions"`
	ExportReady       bool                  `json:"export_ready"`
}

type updateProductRequest struct {
	Name              *string               `json:"name"`
	Variety           *string               `json:"variety"`
	Description       *string               `json:"description"`
	FarmLocation      *string               `json:"farm_location"`
	District          *string               `json:"district"`
	Coordinates       *geoPointPayload      `json:"coordinates"`
	Images            []productImagePayload `json:"images"`
	Quantity          *quantityPayload      `json:"quantity"`
	Grade             *string               `json:"grade"`
	Certifications    []string              `json:"certifications"`
	Price             *pricePayload         `json:"price"`
	BulkDiscount      *bulkDiscountPayload  `json:"bulk_discount"`
	HarvestDate       *string               `json:"harvest_date"`
	ExpiryDate        *string               `json:"expiry_date"`
	StorageConditions *string               `json:"storage_conditions"`
	ExportReady       *bool                 `json:"export_ready"`
	Status            *string               `json:"status"`
}

type addInquiryRequest struct {
	Message  string  `json:"message"`
	Quantity float64 `json:"quantity"`
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := repositories.ProductListFilter{
		FarmerID: strings.TrimSpace(query.Get("farmer_id")),
		District: strings.TrimSpace(query.Get("district")),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("category"))); raw != "" {
		category := domain.ProductCategory(raw)
		if !domain.ValidProductCategory(category) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "category is not recognised", http.StatusBadRequest))
			return
		}
		filter.Category = &category
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("grade"))); raw != "" {
		grade := domain.QualityGrade(raw)
		filter.Grade = &grade
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("status"))); raw != "" {
		status := domain.ProductStatus(raw)
		filter.Status = &status
	}
	exportReady, err := parseBoolParam(query.Get("export_ready"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "export_ready "+err.Error(), http.StatusBadRequest))
		return
	}
	filter.ExportReady = exportReady
	verified, err := parseBoolParam(query.Get("verified"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "verified "+err.Error(), http.StatusBadRequest))
		return
	}
	filter.Verified = verified
	minPrice, err := parsePriceParam(query.Get("min_price"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "min_price "+err.Error(), http.StatusBadRequest))
		return
	}
	filter.MinPrice = minPrice
	maxPrice, err := parsePriceParam(query.Get("max_price"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "max_price "+err.Error(), http.StatusBadRequest))
		return
	}
	filter.MaxPrice = maxPrice

	identity, _ := auth.IdentityFromContext(ctx)

	// Browsing by a signed-in account counts as an impression on every
	// listing returned; anonymous and admin traffic does not.
	countViews := identity != nil && !identity.IsAdmin()
	products, err := h.products.ListProducts(ctx, filter, services.ProductReadOptions{CountView: countViews})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	items := make([]productPayload, 0, len(products))
	for _, product := range products {
		items = append(items, buildProductPayload(product, identity))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{Items: items})
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	identity, _ := auth.IdentityFromContext(ctx)

	// Admin reads do not count towards listing popularity.
	countView := !identity.IsAdmin()
	product, err := h.products.GetProduct(ctx, productID, services.ProductReadOptions{CountView: countView})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product, identity)})
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	var req createProductRequest
	if err := decodeBody(ctx, w, r, maxProductBodySize, &req); err != nil {
		return
	}

	harvestDate, err := parseDateField(req.HarvestDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "harvest_date "+err.Error(), http.StatusBadRequest))
		return
	}
	expiryDate, err := parseDateField(req.ExpiryDate)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expiry_date "+err.Error(), http.StatusBadRequest))
		return
	}

	product, err := h.products.CreateProduct(ctx, services.CreateProductCommand{
		FarmerID:     identity.ID,
		Name:         strings.TrimSpace(req.Name),
		Variety:      strings.TrimSpace(req.Variety),
		Description:  req.Description,
		Category:     domain.ProductCategory(strings.ToLower(strings.TrimSpace(req.Category))),
		FarmLocation: strings.TrimSpace(req.FarmLocation),
		District:     strings.TrimSpace(req.District),
		Coordinates:  req.Coordinates.toDomain(),
		Images:       toDomainImages(req.Images),
		Quantity: domain.Quantity{
			Available:    req.Quantity.Available,
			Unit:         strings.TrimSpace(req.Quantity.Unit),
			MinimumOrder: req.Quantity.MinimumOrder,
		},
		Grade:          domain.QualityGrade(strings.ToLower(strings.TrimSpace(req.Grade))),
		Certifications: req.Certifications,
		Price: domain.Price{
			Amount:   req.Price.Amount,
			Currency: strings.ToUpper(strings.TrimSpace(req.Price.Currency)),
		},
		BulkDiscount:      req.BulkDiscount.toDomain(),
		HarvestDate:       harvestDate,
		ExpiryDate:        expiryDate,
		StorageConditions: strings.TrimSpace(req.StorageConditions),
		ExportReady:       req.ExportReady,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product, identity)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req updateProductRequest
	if err := decodeBody(ctx, w, r, maxProductBodySize, &req); err != nil {
		return
	}

	cmd := services.UpdateProductCommand{
		ProductID:         productID,
		ActorID:           identity.ID,
		Name:              req.Name,
		Variety:           req.Variety,
		Description:       req.Description,
		FarmLocation:      req.FarmLocation,
		District:          req.District,
		Coordinates:       req.Coordinates.toDomain(),
		Images:            toDomainImages(req.Images),
		Certifications:    req.Certifications,
		BulkDiscount:      req.BulkDiscount.toDomain(),
		StorageConditions: req.StorageConditions,
		ExportReady:       req.ExportReady,
	}
	if req.Quantity != nil {
		cmd.Quantity = &domain.Quantity{
			Available:    req.Quantity.Available,
			Unit:         strings.TrimSpace(req.Quantity.Unit),
			MinimumOrder: req.Quantity.MinimumOrder,
		}
	}
	if req.Grade != nil {
		grade := domain.QualityGrade(strings.ToLower(strings.TrimSpace(*req.Grade)))
		cmd.Grade = &grade
	}
	if req.Price != nil {
		cmd.Price = &domain.Price{
			Amount:   req.Price.Amount,
			Currency: strings.ToUpper(strings.TrimSpace(req.Price.Currency)),
		}
	}
	if req.HarvestDate != nil {
		harvest, err := parseDateField(*req.HarvestDate)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "harvest_date "+err.Error(), http.StatusBadRequest))
			return
		}
		cmd.HarvestDate = &harvest
	}
	if req.ExpiryDate != nil {
		expiry, err := parseDateField(*req.ExpiryDate)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expiry_date "+err.Error(), http.StatusBadRequest))
			return
		}
		cmd.ExpiryDate = &expiry
	}
	if req.Status != nil {
		status := domain.ProductStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		cmd.Status = &status
	}

	product, err := h.products.UpdateProduct(ctx, cmd)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product, identity)})
}

func (h *ProductHandlers) removeProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.products.RemoveProduct(ctx, services.RemoveProductCommand{
		ProductID: productID,
		ActorID:   identity.ID,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product, identity)})
}

func (h *ProductHandlers) addInquiry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	var req addInquiryRequest
	if err := decodeBody(ctx, w, r, maxProductBodySize, &req); err != nil {
		return
	}

	product, err := h.products.AddInquiry(ctx, services.AddInquiryCommand{
		ProductID: productID,
		BuyerID:   identity.ID,
		Message:   req.Message,
		Quantity:  req.Quantity,
	})
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product, identity)})
}

func (h *ProductHandlers) categorySummaries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	summaries, err := h.products.CategorySummaries(ctx)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	items := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, map[string]any{
			"category":      string(summary.Category),
			"count":         summary.Count,
			"average_price": summary.AveragePrice,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *ProductHandlers) districtSummaries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.products == nil {
		httpx.WriteError(ctx, w, httpx.NewError("product_service_unavailable", "product service unavailable", http.StatusServiceUnavailable))
		return
	}

	summaries, err := h.products.DistrictSummaries(ctx)
	if err != nil {
		writeProductError(ctx, w, err)
		return
	}

	items := make([]map[string]any, 0, len(summaries))
	for _, summary := range summaries {
		items = append(items, map[string]any{
			"district":      summary.District,
			"count":         summary.Count,
			"average_price": summary.AveragePrice,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func buildProductPayload(product services.Product, viewer *auth.Identity) productPayload {
	payload := productPayload{
		ID:           strings.TrimSpace(product.ID),
		FarmerID:     strings.TrimSpace(product.FarmerID),
		Name:         strings.TrimSpace(product.Name),
		Variety:      strings.TrimSpace(product.Variety),
		Description:  product.Description,
		Category:     string(product.Category),
		FarmLocation: strings.TrimSpace(product.FarmLocation),
		District:     strings.TrimSpace(product.District),
		Quantity: quantityPayload{
			Available:    product.Quantity.Available,
			Unit:         product.Quantity.Unit,
			MinimumOrder: product.Quantity.MinimumOrder,
		},
		Grade:          string(product.Grade),
		Certifications: product.Certifications,
		Price: pricePayload{
			Amount:   product.Price.Amount,
			Currency: strings.ToUpper(product.Price.Currency),
		},
		HarvestDate:       formatTime(product.HarvestDate),
		ExpiryDate:        formatTime(product.ExpiryDate),
		StorageConditions: strings.TrimSpace(product.StorageConditions),
		ExportReady:       product.ExportReady,
		IsVerified:        product.IsVerified,
		Status:            string(product.Status),
		Views:             product.Views,
		CreatedAt:         formatTime(product.CreatedAt),
		UpdatedAt:         formatTime(product.UpdatedAt),
	}
	if product.Coordinates != nil {
		payload.Coordinates = &geoPointPayload{
			Latitude:  product.Coordinates.Latitude,
			Longitude: product.Coordinates.Longitude,
		}
	}
	if product.BulkDiscount != nil {
		payload.BulkDiscount = &bulkDiscountPayload{
			MinimumQuantity: product.BulkDiscount.MinimumQuantity,
			Percent:         product.BulkDiscount.Percent,
		}
	}

	for _, image := range product.Images {
		payload.Images = append(payload.Images, productImagePayload{
			URL:       image.URL,
			PublicID:  image.PublicID,
			Caption:   image.Caption,
			IsPrimary: image.IsPrimary,
		})
	}

	// The inquiry log is visible to the listing owner and admins only.
	if viewer != nil && (viewer.IsAdmin() || viewer.ID == product.FarmerID) {
		for _, inquiry := range product.Inquiries {
			payload.Inquiries = append(payload.Inquiries, inquiryPayload{
				BuyerID:   inquiry.BuyerID,
				Message:   inquiry.Message,
				Quantity:  inquiry.Quantity,
				CreatedAt: formatTime(inquiry.CreatedAt),
			})
		}
	}
	return payload
}

func toDomainImages(images []productImagePayload) []domain.ProductImage {
	if len(images) == 0 {
		return nil
	}
	result := make([]domain.ProductImage, 0, len(images))
	for _, image := range images {
		result = append(result, domain.ProductImage{
			URL:       strings.TrimSpace(image.URL),
			PublicID:  strings.TrimSpace(image.PublicID),
			Caption:   strings.TrimSpace(image.Caption),
			IsPrimary: image.IsPrimary,
		})
	}
	return result
}

func (p *geoPointPayload) toDomain() *domain.GeoPoint {
	if p == nil {
		return nil
	}
	return &domain.GeoPoint{Latitude: p.Latitude, Longitude: p.Longitude}
}

func (p *bulkDiscountPayload) toDomain() *domain.BulkDiscount {
	if p == nil {
		return nil
	}
	return &domain.BulkDiscount{MinimumQuantity: p.MinimumQuantity, Percent: p.Percent}
}

func parseDateField(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02", value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, errors.New("must be an RFC3339 timestamp or YYYY-MM-DD date")
}

func writeProductError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrProductInvalidInput):
		apiErr := httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest)
		if details := validationDetails(err); details != nil {
			apiErr = apiErr.WithDetails(details)
		}
		httpx.WriteError(ctx, w, apiErr)
	case errors.Is(err, services.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrProductForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you do not own this product", http.StatusForbidden))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrProductFarmerNotEligible):
		httpx.WriteError(ctx, w, httpx.NewError("farmer_not_eligible", err.Error(), http.StatusForbidden))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("product_error", "failed to process product request", http.StatusInternalServerError))
	}
}
