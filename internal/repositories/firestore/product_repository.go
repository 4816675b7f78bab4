package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/agrilink/api/internal/domain"
	pfirestore "github.com/agrilink/api/internal/platform/firestore"
	"github.com/agrilink/api/internal/repositories"
)

const productCollection = "products"

type productImageDocument struct {
	URL       string `firestore:"url"`
	PublicID  string `firestore:"publicId"`
	Caption   string `firestore:"caption,omitempty"`
	IsPrimary bool   `firestore:"isPrimary"`
}

type bulkDiscountDocument struct {
	MinimumQuantity float64 `firestore:"minimumQuantity"`
	Percent         float64 `firestore:"percent"`
}

type geoPointDocument struct {
	Latitude  float64 `firestore:"latitude"`
	Longitude float64 `firestore:"longitude"`
}

type quantityDocument struct {
	Available    float64 `firestore:"available"`
	Unit         string  `firestore:"unit"`
	MinimumOrder float64 `firestore:"minimumOrder"`
}

type priceDocument struct {
	Amount   int64  `firestore:"amount"`
	Currency string `firestore:"currency"`
}

type inquiryDocument struct {
	BuyerID   string    `firestore:"buyerId"`
	Message   string    `firestore:"message"`
	Quantity  float64   `firestore:"quantity"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type productDocument struct {
	FarmerID          string                 `firestore:"farmerId"`
	Name              string                 `firestore:"name"`
	Variety           string                 `firestore:"variety,omitempty"`
	Description       string                 `firestore:"description"`
	Category          string                 `firestore:"category"`
	FarmLocation      string                 `firestore:"farmLocation,omitempty"`
	District          string                 `firestore:"district,omitempty"`
	Coordinates       *geoPointDocument      `firestore:"coordinates,omitempty"`
	Images            []productImageDocument `firestore:"images"`
	Quantity          quantityDocument       `firestore:"quantity"`
	Grade             string                 `firestore:"grade"`
	Certifications    []string               `firestore:"certifications,omitempty"`
	Price             priceDocument          `firestore:"price"`
	BulkDiscount      *bulkDiscountDocument  `firestore:"bulkDiscount,omitempty"`
	HarvestDate       time.Time              `firestore:"harvestDate"`
	ExpiryDate        time.Time              `firestore:"expiryDate"`
	StorageConditions string                 `firestore:"storageConditions,omitempty"`
	ExportReady       bool                   `firestore:"exportReady"`
	IsVerified        bool                   `firestore:"isVerified"`
	Status            string                 `firestore:"status"`
	Views             int64                  `firestore:"views"`
	Inquiries         []inquiryDocument      `firestore:"inquiries"`
	CreatedAt         time.Time              `firestore:"createdAt"`
	UpdatedAt         time.Time              `firestore:"updatedAt"`
}

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	base     *pfirestore.BaseRepository[productDocument]
	provider *pfirestore.Provider
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base, provider: provider}, nil
}

// Insert creates the product document, failing with a conflict when the ID exists.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}

	_, err := r.base.Create(ctx, product.ID, fromDomainProduct(product))
	return err
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	_, err := r.base.Set(ctx, product.ID, fromDomainProduct(product))
	return err
}

// FindByID loads the product by document ID.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	doc, err := r.base.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return toDomainProduct(doc.ID, doc.Data), nil
}

// List returns products matching the filter ordered by creation time descending.
func (r *ProductRepository) List(ctx context.Context, filter repositories.ProductListFilter) ([]domain.Product, error) {
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.FarmerID != "" {
			q = q.Where("farmerId", "==", filter.FarmerID)
		}
		if filter.Category != nil {
			q = q.Where("category", "==", string(*filter.Category))
		}
		if filter.District != "" {
			q = q.Where("district", "==", filter.District)
		}
		if filter.Grade != nil {
			q = q.Where("grade", "==", string(*filter.Grade))
		}
		if filter.Status != nil {
			q = q.Where("status", "==", string(*filter.Status))
		}
		if filter.ExportReady != nil {
			q = q.Where("exportReady", "==", *filter.ExportReady)
		}
		if filter.Verified != nil {
			q = q.Where("isVerified", "==", *filter.Verified)
		}
		q = q.OrderBy("createdAt", firestore.Desc)
		if filter.Pagination.PageSize > 0 && filter.MinPrice <= 0 && filter.MaxPrice <= 0 {
			q = q.Limit(filter.Pagination.PageSize)
		}
		return q
	})
	if err != nil {
		return nil, err
	}

	// Price bounds are applied after the fetch; Firestore cannot combine a
	// range filter on price with the creation-time ordering.
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		if filter.MinPrice > 0 && doc.Data.Price.Amount < filter.MinPrice {
			continue
		}
		if filter.MaxPrice > 0 && doc.Data.Price.Amount > filter.MaxPrice {
			continue
		}
		products = append(products, toDomainProduct(doc.ID, doc.Data))
		if filter.Pagination.PageSize > 0 && len(products) == filter.Pagination.PageSize {
			break
		}
	}
	return products, nil
}

// AppendInquiry atomically appends a buyer inquiry to the product's inquiry log.
func (r *ProductRepository) AppendInquiry(ctx context.Context, productID string, inquiry domain.Inquiry) error {
	if strings.TrimSpace(productID) == "" {
		return errors.New("product id is required")
	}

	_, err := r.base.Update(ctx, productID, []firestore.Update{
		{Path: "inquiries", Value: firestore.ArrayUnion(fromDomainInquiry(inquiry))},
		{Path: "updatedAt", Value: inquiry.CreatedAt},
	})
	return err
}

// IncrementViews bumps the listing view counters without touching updatedAt,
// so analytics traffic does not look like a content edit.
func (r *ProductRepository) IncrementViews(ctx context.Context, productIDs ...string) error {
	for _, productID := range productIDs {
		if strings.TrimSpace(productID) == "" {
			return errors.New("product id is required")
		}
		if _, err := r.base.Update(ctx, productID, []firestore.Update{
			{Path: "views", Value: firestore.Increment(1)},
		}); err != nil {
			return err
		}
	}
	return nil
}

// DecrementQuantities reduces available stock for the whole batch inside a
// transaction so concurrent orders cannot oversell a listing. Decrements for
// the same product are merged, every snapshot is read before the first
// buffered write, and an insufficient quantity aborts the transaction with
// nothing applied. An ambient transaction on the context is joined rather
// than nested.
func (r *ProductRepository) DecrementQuantities(ctx context.Context, decrements []repositories.QuantityDecrement, at time.Time) ([]domain.Product, error) {
	if len(decrements) == 0 {
		return nil, errors.New("at least one decrement is required")
	}

	amounts := make(map[string]float64, len(decrements))
	order := make([]string, 0, len(decrements))
	for _, decrement := range decrements {
		if strings.TrimSpace(decrement.ProductID) == "" {
			return nil, errors.New("product id is required")
		}
		if decrement.Amount <= 0 {
			return nil, errors.New("decrement amount must be positive")
		}
		if _, seen := amounts[decrement.ProductID]; !seen {
			order = append(order, decrement.ProductID)
		}
		amounts[decrement.ProductID] += decrement.Amount
	}

	var updated []domain.Product
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		docs := make([]productDocument, 0, len(order))
		refs := make([]*firestore.DocumentRef, 0, len(order))
		for _, productID := range order {
			ref, err := r.base.DocumentRef(ctx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil {
				return err
			}
			decoded, err := r.base.DecodeSnapshot(ctx, snap)
			if err != nil {
				return err
			}
			if decoded.Data.Quantity.Available < amounts[productID] {
				return repositories.ErrInsufficientQuantity
			}
			docs = append(docs, decoded.Data)
			refs = append(refs, ref)
		}

		updated = make([]domain.Product, 0, len(order))
		for i, productID := range order {
			doc := docs[i]
			doc.Quantity.Available -= amounts[productID]
			if doc.Quantity.Available == 0 {
				doc.Status = string(domain.ProductStatusSold)
			}
			doc.UpdatedAt = at.UTC()

			if err := tx.Set(refs[i], doc); err != nil {
				return err
			}
			updated = append(updated, toDomainProduct(productID, doc))
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repositories.ErrInsufficientQuantity) {
			return nil, repositories.ErrInsufficientQuantity
		}
		return nil, err
	}
	return updated, nil
}

func fromDomainProduct(product domain.Product) productDocument {
	images := make([]productImageDocument, 0, len(product.Images))
	for _, image := range product.Images {
		images = append(images, productImageDocument{
			URL:       image.URL,
			PublicID:  image.PublicID,
			Caption:   image.Caption,
			IsPrimary: image.IsPrimary,
		})
	}
	inquiries := make([]inquiryDocument, 0, len(product.Inquiries))
	for _, inquiry := range product.Inquiries {
		inquiries = append(inquiries, fromDomainInquiry(inquiry))
	}
	var coordinates *geoPointDocument
	if product.Coordinates != nil {
		coordinates = &geoPointDocument{
			Latitude:  product.Coordinates.Latitude,
			Longitude: product.Coordinates.Longitude,
		}
	}
	var discount *bulkDiscountDocument
	if product.BulkDiscount != nil {
		discount = &bulkDiscountDocument{
			MinimumQuantity: product.BulkDiscount.MinimumQuantity,
			Percent:         product.BulkDiscount.Percent,
		}
	}

	return productDocument{
		FarmerID:     product.FarmerID,
		Name:         product.Name,
		Variety:      product.Variety,
		Description:  product.Description,
		Category:     string(product.Category),
		FarmLocation: product.FarmLocation,
		District:     product.District,
		Coordinates:  coordinates,
		Images:       images,
		Quantity: quantityDocument{
			Available:    product.Quantity.Available,
			Unit:         product.Quantity.Unit,
			MinimumOrder: product.Quantity.MinimumOrder,
		},
		Grade:          string(product.Grade),
		Certifications: product.Certifications,
		Price: priceDocument{
			Amount:   product.Price.Amount,
			Currency: product.Price.Currency,
		},
		BulkDiscount:      discount,
		HarvestDate:       product.HarvestDate,
		ExpiryDate:        product.ExpiryDate,
		StorageConditions: product.StorageConditions,
		ExportReady:       product.ExportReady,
		IsVerified:        product.IsVerified,
		Status:            string(product.Status),
		Views:             product.Views,
		Inquiries:         inquiries,
		CreatedAt:         product.CreatedAt,
		UpdatedAt:         product.UpdatedAt,
	}
}

func toDomainProduct(id string, doc productDocument) domain.Product {
	images := make([]domain.ProductImage, 0, len(doc.Images))
	for _, image := range doc.Images {
		images = append(images, domain.ProductImage{
			URL:       image.URL,
			PublicID:  image.PublicID,
			Caption:   image.Caption,
			IsPrimary: image.IsPrimary,
		})
	}
	inquiries := make([]domain.Inquiry, 0, len(doc.Inquiries))
	for _, inquiry := range doc.Inquiries {
		inquiries = append(inquiries, domain.Inquiry{
			BuyerID:   inquiry.BuyerID,
			Message:   inquiry.Message,
			Quantity:  inquiry.Quantity,
			CreatedAt: inquiry.CreatedAt,
		})
	}
	var coordinates *domain.GeoPoint
	if doc.Coordinates != nil {
		coordinates = &domain.GeoPoint{
			Latitude:  doc.Coordinates.Latitude,
			Longitude: doc.Coordinates.Longitude,
		}
	}
	var discount *domain.BulkDiscount
	if doc.BulkDiscount != nil {
		discount = &domain.BulkDiscount{
			MinimumQuantity: doc.BulkDiscount.MinimumQuantity,
			Percent:         doc.BulkDiscount.Percent,
		}
	}

	return domain.Product{
		ID:           id,
		FarmerID:     doc.FarmerID,
		Name:         doc.Name,
		Variety:      doc.Variety,
		Description:  doc.Description,
		Category:     domain.ProductCategory(doc.Category),
		FarmLocation: doc.FarmLocation,
		District:     doc.District,
		Coordinates:  coordinates,
		Images:       images,
		Quantity: domain.Quantity{
			Available:    doc.Quantity.Available,
			Unit:         doc.Quantity.Unit,
			MinimumOrder: doc.Quantity.MinimumOrder,
		},
		Grade:          domain.QualityGrade(doc.Grade),
		Certifications: doc.Certifications,
		Price: domain.Price{
			Amount:   doc.Price.Amount,
			Currency: doc.Price.Currency,
		},
		BulkDiscount:      discount,
		HarvestDate:       doc.HarvestDate,
		ExpiryDate:        doc.ExpiryDate,
		StorageConditions: doc.StorageConditions,
		ExportReady:       doc.ExportReady,
		IsVerified:        doc.IsVerified,
		Status:            domain.ProductStatus(doc.Status),
		Views:             doc.Views,
		Inquiries:         inquiries,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}

func fromDomainInquiry(inquiry domain.Inquiry) inquiryDocument {
	return inquiryDocument{
		BuyerID:   inquiry.BuyerID,
		Message:   inquiry.Message,
		Quantity:  inquiry.Quantity,
		CreatedAt: inquiry.CreatedAt,
	}
}
