package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/agrilink/api/internal/domain"
	"github.com/agrilink/api/internal/repositories"
)

const productIDPrefix = "prd_"

var (
	// ErrProductInvalidInput indicates the request payload failed validation.
	ErrProductInvalidInput = errors.New("product: invalid input")
	// ErrProductNotFound indicates the referenced listing does not exist.
	ErrProductNotFound = errors.New("product: not found")
	// ErrProductForbidden indicates the actor may not mutate the listing.
	ErrProductForbidden = errors.New("product: forbidden")
	// ErrProductUnavailable indicates the listing cannot accept inquiries or orders.
	ErrProductUnavailable = errors.New("product: listing not available")
	// ErrProductFarmerNotEligible indicates the owning account cannot list produce.
	ErrProductFarmerNotEligible = errors.New("product: farmer not eligible to list")
)

// ProductServiceDeps bundles the dependencies required to construct a product service instance.
type ProductServiceDeps struct {
	Products    repositories.ProductRepository
	Users       repositories.UserRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type productService struct {
	products  repositories.ProductRepository
	users     repositories.UserRepository
	sanitizer *bluemonday.Policy
	clock     func() time.Time
	newID     func() string
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewProductService wires dependencies into a concrete ProductService implementation.
func NewProductService(deps ProductServiceDeps) (ProductService, error) {
	if deps.Products == nil {
		return nil, errors.New("product service requires a product repository")
	}
	if deps.Users == nil {
		return nil, errors.New("product service requires a user repository")
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

	return &productService{
		products:  deps.Products,
		users:     deps.Users,
		sanitizer: bluemonday.StrictPolicy(),
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
	}, nil
}

func (s *productService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	name := strings.TrimSpace(cmd.Name)
	rules := []fieldRule{
		{field: "farmerId", check: requireString(cmd.FarmerID, "farmer id is required")},
		{field: "name", check: requireString(name, "name is required")},
		{field: "category", check: func() string {
			if !domain.ValidProductCategory(cmd.Category) {
				return "category is not recognised"
			}
			return ""
		}},
		{field: "quantity.available", check: func() string {
			if cmd.Quantity.Available <= 0 {
				return "available quantity must be positive"
			}
			return ""
		}},
		{field: "quantity.unit", check: requireString(cmd.Quantity.Unit, "unit is required")},
		{field: "quantity.minimumOrder", check: func() string {
			if cmd.Quantity.MinimumOrder < 0 {
				return "minimum order cannot be negative"
			}
			if cmd.Quantity.MinimumOrder > cmd.Quantity.Available {
				return "minimum order cannot exceed available quantity"
			}
			return ""
		}},
		{field: "price.amount", check: func() string {
			if cmd.Price.Amount <= 0 {
				return "price must be positive"
			}
			return ""
		}},
		{field: "price.currency", check: requireString(cmd.Price.Currency, "currency is required")},
		{field: "expiryDate", check: func() string {
			if cmd.ExpiryDate.IsZero() {
				return "expiry date is required"
			}
			if !cmd.HarvestDate.IsZero() && cmd.ExpiryDate.Before(cmd.HarvestDate) {
				return "expiry date cannot precede harvest date"
			}
			return ""
		}},
		{field: "bulkDiscount", check: func() string { return validateBulkDiscount(cmd.BulkDiscount) }},
	}
	if err := runRules(rules); err != nil {
		return Product{}, fmt.Errorf("%w: %w", ErrProductInvalidInput, err)
	}

	farmer, err := s.users.FindByID(ctx, strings.TrimSpace(cmd.FarmerID))
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if farmer.Role != domain.UserRoleFarmer || !farmer.IsVerified || !farmer.IsActive {
		return Product{}, ErrProductFarmerNotEligible
	}

	now := s.now()
	product := Product{
		ID:                productIDPrefix + s.newID(),
		FarmerID:          farmer.ID,
		Name:              name,
		Variety:           strings.TrimSpace(cmd.Variety),
		Description:       s.sanitizer.Sanitize(strings.TrimSpace(cmd.Description)),
		Category:          cmd.Category,
		FarmLocation:      strings.TrimSpace(cmd.FarmLocation),
		District:          strings.TrimSpace(cmd.District),
		Coordinates:       cloneGeoPoint(cmd.Coordinates),
		Images:            cloneImages(cmd.Images),
		Quantity:          cmd.Quantity,
		Grade:             cmd.Grade,
		Certifications:    cloneStrings(cmd.Certifications),
		Price:             cmd.Price,
		BulkDiscount:      cloneBulkDiscount(cmd.BulkDiscount),
		HarvestDate:       cmd.HarvestDate,
		ExpiryDate:        cmd.ExpiryDate,
		StorageConditions: strings.TrimSpace(cmd.StorageConditions),
		ExportReady:       cmd.ExportReady,
		Status:            domain.ProductStatusAvailable,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *productService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	product, err := s.loadOwned(ctx, cmd.ProductID, cmd.ActorID)
	if err != nil {
		return Product{}, err
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name cannot be empty", ErrProductInvalidInput)
		}
		product.Name = name
	}
	if cmd.Variety != nil {
		product.Variety = strings.TrimSpace(*cmd.Variety)
	}
	if cmd.Description != nil {
		product.Description = s.sanitizer.Sanitize(strings.TrimSpace(*cmd.Description))
	}
	if cmd.FarmLocation != nil {
		product.FarmLocation = strings.TrimSpace(*cmd.FarmLocation)
	}
	if cmd.District != nil {
		product.District = strings.TrimSpace(*cmd.District)
	}
	if cmd.Coordinates != nil {
		product.Coordinates = cloneGeoPoint(cmd.Coordinates)
	}
	if cmd.Images != nil {
		product.Images = cloneImages(cmd.Images)
	}
	if cmd.Quantity != nil {
		if cmd.Quantity.Available < 0 {
			return Product{}, fmt.Errorf("%w: available quantity cannot be negative", ErrProductInvalidInput)
		}
		product.Quantity = *cmd.Quantity
	}
	if cmd.Grade != nil {
		product.Grade = *cmd.Grade
	}
	if cmd.Certifications != nil {
		product.Certifications = cloneStrings(cmd.Certifications)
	}
	if cmd.Price != nil {
		if cmd.Price.Amount <= 0 {
			return Product{}, fmt.Errorf("%w: price must be positive", ErrProductInvalidInput)
		}
		product.Price = *cmd.Price
	}
	if cmd.BulkDiscount != nil {
		if reason := validateBulkDiscount(cmd.BulkDiscount); reason != "" {
			return Product{}, fmt.Errorf("%w: %s", ErrProductInvalidInput, reason)
		}
		product.BulkDiscount = cloneBulkDiscount(cmd.BulkDiscount)
	}
	if cmd.HarvestDate != nil {
		product.HarvestDate = *cmd.HarvestDate
	}
	if cmd.ExpiryDate != nil {
		product.ExpiryDate = *cmd.ExpiryDate
	}
	if cmd.StorageConditions != nil {
		product.StorageConditions = strings.TrimSpace(*cmd.StorageConditions)
	}
	if cmd.ExportReady != nil {
		product.ExportReady = *cmd.ExportReady
	}
	if cmd.Status != nil {
		switch *cmd.Status {
		case domain.ProductStatusAvailable, domain.ProductStatusReserved, domain.ProductStatusRemoved:
			product.Status = *cmd.Status
		default:
			return Product{}, fmt.Errorf("%w: status %q cannot be set directly", ErrProductInvalidInput, *cmd.Status)
		}
	}

	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

// RemoveProduct withdraws the listing. The document survives with
// status=removed so order history keeps resolving.
func (s *productService) RemoveProduct(ctx context.Context, cmd RemoveProductCommand) (Product, error) {
	product, err := s.loadOwned(ctx, cmd.ProductID, cmd.ActorID)
	if err != nil {
		return Product{}, err
	}

	product.Status = domain.ProductStatusRemoved
	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

func (s *productService) GetProduct(ctx context.Context, productID string, opts ProductReadOptions) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	if opts.CountView {
		if err := s.products.IncrementViews(ctx, productID); err != nil {
			s.logger(ctx, "product.views.increment.failed", map[string]any{
				"product": productID,
				"error":   err.Error(),
			})
		} else {
			product.Views++
		}
	}
	return product, nil
}

func (s *productService) ListProducts(ctx context.Context, filter repositories.ProductListFilter, opts ProductReadOptions) ([]Product, error) {
	products, err := s.products.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	// Listing impressions count towards popularity too. The bump is
	// best-effort; a failed counter write never fails the read.
	if opts.CountView && len(products) > 0 {
		ids := make([]string, 0, len(products))
		for _, product := range products {
			ids = append(ids, product.ID)
		}
		if err := s.products.IncrementViews(ctx, ids...); err != nil {
			s.logger(ctx, "product.views.increment.failed", map[string]any{
				"products": len(ids),
				"error":    err.Error(),
			})
		} else {
			for i := range products {
				products[i].Views++
			}
		}
	}
	return products, nil
}

func (s *productService) AddInquiry(ctx context.Context, cmd AddInquiryCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	buyerID := strings.TrimSpace(cmd.BuyerID)
	message := s.sanitizer.Sanitize(strings.TrimSpace(cmd.Message))

	rules := []fieldRule{
		{field: "productId", check: requireString(productID, "product id is required")},
		{field: "buyerId", check: requireString(buyerID, "buyer id is required")},
		{field: "message", check: requireString(message, "message is required")},
		{field: "quantity", check: func() string {
			if cmd.Quantity <= 0 {
				return "quantity must be positive"
			}
			return ""
		}},
	}
	if err := runRules(rules); err != nil {
		return Product{}, fmt.Errorf("%w: %w", ErrProductInvalidInput, err)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if product.Status != domain.ProductStatusAvailable {
		return Product{}, fmt.Errorf("%w: status is %s", ErrProductUnavailable, product.Status)
	}
	if cmd.Quantity > product.Quantity.Available {
		return Product{}, fmt.Errorf("%w: requested %.2f exceeds available %.2f",
			ErrProductInvalidInput, cmd.Quantity, product.Quantity.Available)
	}

	inquiry := Inquiry{
		BuyerID:   buyerID,
		Message:   message,
		Quantity:  cmd.Quantity,
		CreatedAt: s.now(),
	}
	if err := s.products.AppendInquiry(ctx, productID, inquiry); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	product.Inquiries = append(product.Inquiries, inquiry)
	product.UpdatedAt = inquiry.CreatedAt
	return product, nil
}

func (s *productService) VerifyProduct(ctx context.Context, cmd VerifyProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}

	product.IsVerified = true
	product.UpdatedAt = s.now()
	if err := s.products.Update(ctx, product); err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	return product, nil
}

// CategorySummaries aggregates the live catalog per category. The catalog is
// small enough to fold in memory; Firestore has no server-side grouping.
func (s *productService) CategorySummaries(ctx context.Context) ([]ProductCategorySummary, error) {
	status := domain.ProductStatusAvailable
	products, err := s.products.List(ctx, repositories.ProductListFilter{Status: &status})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	type bucket struct {
		count int
		sum   int64
	}
	buckets := make(map[domain.ProductCategory]*bucket)
	for _, product := range products {
		b := buckets[product.Category]
		if b == nil {
			b = &bucket{}
			buckets[product.Category] = b
		}
		b.count++
		b.sum += product.Price.Amount
	}

	summaries := make([]ProductCategorySummary, 0, len(buckets))
	for category, b := range buckets {
		summaries = append(summaries, ProductCategorySummary{
			Category:     category,
			Count:        b.count,
			AveragePrice: b.sum / int64(b.count),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Category < summaries[j].Category })
	return summaries, nil
}

// DistrictSummaries aggregates the live catalog per growing district, the
// same in-memory fold as CategorySummaries.
func (s *productService) DistrictSummaries(ctx context.Context) ([]ProductDistrictSummary, error) {
	status := domain.ProductStatusAvailable
	products, err := s.products.List(ctx, repositories.ProductListFilter{Status: &status})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}

	type bucket struct {
		count int
		sum   int64
	}
	buckets := make(map[string]*bucket)
	for _, product := range products {
		b := buckets[product.District]
		if b == nil {
			b = &bucket{}
			buckets[product.District] = b
		}
		b.count++
		b.sum += product.Price.Amount
	}

	summaries := make([]ProductDistrictSummary, 0, len(buckets))
	for district, b := range buckets {
		summaries = append(summaries, ProductDistrictSummary{
			District:     district,
			Count:        b.count,
			AveragePrice: b.sum / int64(b.count),
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].District < summaries[j].District })
	return summaries, nil
}

// loadOwned fetches the product and enforces owner-or-admin on mutations.
func (s *productService) loadOwned(ctx context.Context, productID, actorID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	actorID = strings.TrimSpace(actorID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrProductInvalidInput)
	}
	if actorID == "" {
		return Product{}, fmt.Errorf("%w: actor id is required", ErrProductInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if product.FarmerID == actorID {
		return product, nil
	}

	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return Product{}, s.mapRepositoryError(err)
	}
	if actor.Role != domain.UserRoleAdmin {
		return Product{}, ErrProductForbidden
	}
	return product, nil
}

func (s *productService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("product: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *productService) now() time.Time {
	return s.clock()
}

func validateBulkDiscount(discount *domain.BulkDiscount) string {
	if discount == nil {
		return ""
	}
	if discount.MinimumQuantity <= 0 {
		return "bulk discount minimum quantity must be positive"
	}
	if discount.Percent <= 0 || discount.Percent >= 100 {
		return "bulk discount percent must be between 0 and 100"
	}
	return ""
}

func cloneImages(images []ProductImage) []ProductImage {
	if images == nil {
		return nil
	}
	cloned := make([]ProductImage, len(images))
	copy(cloned, images)
	return cloned
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	cloned := make([]string, len(values))
	copy(cloned, values)
	return cloned
}

func cloneGeoPoint(point *domain.GeoPoint) *domain.GeoPoint {
	if point == nil {
		return nil
	}
	cloned := *point
	return &cloned
}

func cloneBulkDiscount(discount *domain.BulkDiscount) *domain.BulkDiscount {
	if discount == nil {
		return nil
	}
	cloned := *discount
	return &cloned
}
