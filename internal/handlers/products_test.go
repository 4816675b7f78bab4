package handlers

import (
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

type stubProductService struct {
	createFn    func(context.Context, services.CreateProductCommand) (services.Product, error)
	updateFn    func(context.Context, services.UpdateProductCommand) (services.Product, error)
	removeFn    func(context.Context, services.RemoveProductCommand) (services.Product, error)
	getFn       func(context.Context, string, services.ProductReadOptions) (services.Product, error)
	listFn      func(context.Context, repositories.ProductListFilter, services.ProductReadOptions) ([]services.Product, error)
	inquiryFn   func(context.Context, services.AddInquiryCommand) (services.Product, error)
	verifyFn    func(context.Context, services.VerifyProductCommand) (services.Product, error)
	summariesFn func(context.Context) ([]services.ProductCategorySummary, error)
	districtsFn func(context.Context) ([]services.ProductDistrictSummary, error)
}

func (s *stubProductService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (services.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubProductService) UpdateProduct(ctx context.Context, cmd services.UpdateProductCommand) (services.Product, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubProductService) RemoveProduct(ctx context.Context, cmd services.RemoveProductCommand) (services.Product, error) {
	if s.removeFn != nil {
		return s.removeFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubProductService) GetProduct(ctx context.Context, productID string, opts services.ProductReadOptions) (services.Product, error) {
	if s.getFn != nil {
		return s.getFn(ctx, productID, opts)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubProductService) ListProducts(ctx context.Context, filter repositories.ProductListFilter, opts services.ProductReadOptions) ([]services.Product, error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter, opts)
	}
	return nil, nil
}

func (s *stubProductService) AddInquiry(ctx context.Context, cmd services.AddInquiryCommand) (services.Product, error) {
	if s.inquiryFn != nil {
		return s.inquiryFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubProductService) VerifyProduct(ctx context.Context, cmd services.VerifyProductCommand) (services.Product, error) {
	if s.verifyFn != nil {
		return s.verifyFn(ctx, cmd)
	}
	return services.Product{}, errors.New("not implemented")
}

func (s *stubProductService) CategorySummaries(ctx context.Context) ([]services.ProductCategorySummary, error) {
	if s.summariesFn != nil {
		return s.summariesFn(ctx)
	}
	return nil, nil
}

func (s *stubProductService) DistrictSummaries(ctx context.Context) ([]services.ProductDistrictSummary, error) {
	if s.districtsFn != nil {
		return s.districtsFn(ctx)
	}
	return nil, nil
}

func sampleProduct() services.Product {
	created := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	return services.Product{
		ID:       "prd_rice",
		FarmerID: "usr_farmer",
		Name:     "Basmati Rice",
		Category: domain.ProductCategoryGrains,
		District: "Anuradhapura",
		Quantity: domain.Quantity{Available: 10, Unit: "kg", MinimumOrder: 1},
		Price:    domain.Price{Amount: 500, Currency: "USD"},
		Status:   domain.ProductStatusAvailable,
		Views:    7,
		Inquiries: []domain.Inquiry{
			{BuyerID: "usr_buyer", Message: "is this organic", CreatedAt: created},
		},
		CreatedAt: created,
	}
}

func newProductRouter(service *stubProductService) chi.Router {
	handler := NewProductHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/products", handler.Routes)
	return router
}

func TestProductHandlersListParsesFilters(t *testing.T) {
	var captured repositories.ProductListFilter
	service := &stubProductService{
		listFn: func(_ context.Context, filter repositories.ProductListFilter, _ services.ProductReadOptions) ([]services.Product, error) {
			captured = filter
			return []services.Product{sampleProduct()}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/?category=grains&district=Anuradhapura&grade=premium&export_ready=true&verified=true&min_price=5000&max_price=20000&page_size=10", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.Category == nil || *captured.Category != domain.ProductCategoryGrains {
		t.Fatalf("category = %v", captured.Category)
	}
	if captured.District != "Anuradhapura" {
		t.Fatalf("district = %q", captured.District)
	}
	if captured.Grade == nil || *captured.Grade != domain.QualityGradePremium {
		t.Fatalf("grade = %v", captured.Grade)
	}
	if captured.ExportReady == nil || !*captured.ExportReady {
		t.Fatalf("export ready = %v", captured.ExportReady)
	}
	if captured.Verified == nil || !*captured.Verified {
		t.Fatalf("verified = %v", captured.Verified)
	}
	if captured.MinPrice != 5000 || captured.MaxPrice != 20000 {
		t.Fatalf("price bounds = %d..%d", captured.MinPrice, captured.MaxPrice)
	}
	if captured.Pagination.PageSize != 10 {
		t.Fatalf("page size = %d", captured.Pagination.PageSize)
	}
}

func TestProductHandlersListRejectsBadPriceBound(t *testing.T) {
	router := newProductRouter(&stubProductService{})

	for _, target := range []string{"/products/?min_price=cheap", "/products/?max_price=-1"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", target, rr.Code)
		}
	}
}

func TestProductHandlersListRejectsUnknownCategory(t *testing.T) {
	router := newProductRouter(&stubProductService{})

	req := httptest.NewRequest(http.MethodGet, "/products/?category=gadgets", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestProductHandlersGetCountsAnonymousViews(t *testing.T) {
	var captured services.ProductReadOptions
	service := &stubProductService{
		getFn: func(_ context.Context, _ string, opts services.ProductReadOptions) (services.Product, error) {
			captured = opts
			return sampleProduct(), nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/prd_rice", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if !captured.CountView {
		t.Fatal("anonymous read should count a view")
	}

	req = identityRequest(httptest.NewRequest(http.MethodGet, "/products/prd_rice", nil), adminIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if captured.CountView {
		t.Fatal("admin read must not count a view")
	}
}

func TestProductHandlersInquiryVisibility(t *testing.T) {
	service := &stubProductService{
		getFn: func(context.Context, string, services.ProductReadOptions) (services.Product, error) {
			return sampleProduct(), nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/prd_rice", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	var resp productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Product.Inquiries) != 0 {
		t.Fatal("inquiries leaked to anonymous viewer")
	}

	req = identityRequest(httptest.NewRequest(http.MethodGet, "/products/prd_rice", nil), farmerIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(resp.Product.Inquiries) != 1 {
		t.Fatalf("owner inquiries = %d, want 1", len(resp.Product.Inquiries))
	}
}

func TestProductHandlersCreateRequiresVerifiedFarmer(t *testing.T) {
	service := &stubProductService{
		createFn: func(_ context.Context, cmd services.CreateProductCommand) (services.Product, error) {
			product := sampleProduct()
			product.FarmerID = cmd.FarmerID
			return product, nil
		},
	}
	router := newProductRouter(service)

	body := `{
		"name": "Basmati Rice",
		"category": "grains",
		"quantity": {"available": 10, "unit": "kg"},
		"price": {"amount": 500, "currency": "usd"},
		"harvest_date": "2025-03-01"
	}`

	req := identityRequest(httptest.NewRequest(http.MethodPost, "/products/", strings.NewReader(body)), buyerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("buyer create status = %d, want 403", rr.Code)
	}

	unverified := &auth.Identity{ID: "usr_new", Role: auth.RoleFarmer, IsActive: true}
	req = identityRequest(httptest.NewRequest(http.MethodPost, "/products/", strings.NewReader(body)), unverified)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("unverified create status = %d, want 403", rr.Code)
	}

	req = identityRequest(httptest.NewRequest(http.MethodPost, "/products/", strings.NewReader(body)), farmerIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("farmer create status = %d, body %s", rr.Code, rr.Body.String())
	}
}

func TestProductHandlersUpdateMapsForbidden(t *testing.T) {
	service := &stubProductService{
		getFn: func(context.Context, string, services.ProductReadOptions) (services.Product, error) {
			return sampleProduct(), nil
		},
		updateFn: func(context.Context, services.UpdateProductCommand) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: actor does not own product", services.ErrProductForbidden)
		},
	}
	router := newProductRouter(service)

	req := identityRequest(httptest.NewRequest(http.MethodPatch, "/products/prd_rice", strings.NewReader(`{"district": "Kandy"}`)), farmerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rr.Code)
	}
}

func TestProductHandlersMutationsEnforceOwnership(t *testing.T) {
	otherFarmer := &auth.Identity{ID: "usr_other", Role: auth.RoleFarmer, IsVerified: true, IsActive: true}
	mutations := []struct {
		name    string
		request func() *http.Request
	}{
		{"update", func() *http.Request {
			return httptest.NewRequest(http.MethodPatch, "/products/prd_rice", strings.NewReader(`{"district": "Kandy"}`))
		}},
		{"remove", func() *http.Request {
			return httptest.NewRequest(http.MethodDelete, "/products/prd_rice", nil)
		}},
	}

	for _, tc := range mutations {
		t.Run(tc.name, func(t *testing.T) {
			var mutated bool
			service := &stubProductService{
				getFn: func(context.Context, string, services.ProductReadOptions) (services.Product, error) {
					return sampleProduct(), nil
				},
				updateFn: func(context.Context, services.UpdateProductCommand) (services.Product, error) {
					mutated = true
					return sampleProduct(), nil
				},
				removeFn: func(context.Context, services.RemoveProductCommand) (services.Product, error) {
					mutated = true
					return sampleProduct(), nil
				},
			}
			router := newProductRouter(service)

			req := identityRequest(tc.request(), otherFarmer)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusForbidden {
				t.Fatalf("non-owner status = %d, want 403", rr.Code)
			}
			if mutated {
				t.Fatal("service mutation reached for non-owner")
			}

			req = identityRequest(tc.request(), farmerIdentity())
			rr = httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("owner status = %d, body %s", rr.Code, rr.Body.String())
			}

			req = identityRequest(tc.request(), adminIdentity())
			rr = httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != http.StatusOK {
				t.Fatalf("admin status = %d, body %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestProductHandlersMutationMissingProductIs404(t *testing.T) {
	service := &stubProductService{
		getFn: func(context.Context, string, services.ProductReadOptions) (services.Product, error) {
			return services.Product{}, fmt.Errorf("%w: gone", services.ErrProductNotFound)
		},
	}
	router := newProductRouter(service)

	req := identityRequest(httptest.NewRequest(http.MethodDelete, "/products/prd_missing", nil), farmerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestProductHandlersAddInquiryUsesIdentity(t *testing.T) {
	var captured services.AddInquiryCommand
	service := &stubProductService{
		inquiryFn: func(_ context.Context, cmd services.AddInquiryCommand) (services.Product, error) {
			captured = cmd
			return sampleProduct(), nil
		},
	}
	router := newProductRouter(service)

	body := `{"message": "can you ship 5kg", "quantity": 5}`
	req := identityRequest(httptest.NewRequest(http.MethodPost, "/products/prd_rice/inquiries", strings.NewReader(body)), buyerIdentity())
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if captured.BuyerID != "usr_buyer" || captured.Quantity != 5 {
		t.Fatalf("command = %+v", captured)
	}
}

func TestProductHandlersListCountsSignedInImpressions(t *testing.T) {
	var captured services.ProductReadOptions
	service := &stubProductService{
		listFn: func(_ context.Context, _ repositories.ProductListFilter, opts services.ProductReadOptions) ([]services.Product, error) {
			captured = opts
			return []services.Product{sampleProduct()}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if captured.CountView {
		t.Fatal("anonymous browse must not count impressions")
	}

	req = identityRequest(httptest.NewRequest(http.MethodGet, "/products/", nil), buyerIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if !captured.CountView {
		t.Fatal("signed-in browse should count impressions")
	}

	req = identityRequest(httptest.NewRequest(http.MethodGet, "/products/", nil), adminIdentity())
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if captured.CountView {
		t.Fatal("admin browse must not count impressions")
	}
}

func TestProductHandlersDistrictSummaries(t *testing.T) {
	service := &stubProductService{
		districtsFn: func(context.Context) ([]services.ProductDistrictSummary, error) {
			return []services.ProductDistrictSummary{
				{District: "Anuradhapura", Count: 3, AveragePrice: 450},
			}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/districts/summary", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"district":"Anuradhapura"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestProductHandlersCategorySummaries(t *testing.T) {
	service := &stubProductService{
		summariesFn: func(context.Context) ([]services.ProductCategorySummary, error) {
			return []services.ProductCategorySummary{
				{Category: domain.ProductCategoryGrains, Count: 2, AveragePrice: 500},
			}, nil
		},
	}
	router := newProductRouter(service)

	req := httptest.NewRequest(http.MethodGet, "/products/categories/summary", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"average_price":500`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}
