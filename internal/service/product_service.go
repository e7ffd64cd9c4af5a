package service

import (
	"context"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// PricingUpdate replaces a product's pricing and advance rule
type PricingUpdate struct {
	PricingType  string `json:"pricing_type" binding:"required" validate:"required,oneof=DAILY SESSION"`
	BasePrice    int64  `json:"base_price" validate:"gte=0"`
	HourlyRate   int64  `json:"hourly_rate" validate:"gte=0"`
	AdvanceType  string `json:"advance_type" binding:"required" validate:"required,oneof=PERCENTAGE FIXED"`
	AdvanceValue int64  `json:"advance_value" binding:"required" validate:"gt=0"`
	IsActive     *bool  `json:"is_active,omitempty"`
}

// ProductService lets vendors configure how their products are priced
type ProductService struct {
	store  ProductStore
	logger *zap.Logger
}

func NewProductService(store ProductStore) *ProductService {
	return &ProductService{store: store, logger: util.GetLogger()}
}

// UpdatePricing validates and stores a new pricing rule. Bookings already
// approved keep the amounts frozen at approval.
func (s *ProductService) UpdatePricing(ctx context.Context, caller models.CallerIdentity, productID int64, upd *PricingUpdate) (*models.Product, error) {
	ctx, span := util.StartSpan(ctx, "ProductService.UpdatePricing")
	defer span.End()

	if err := validateStruct(upd); err != nil {
		return nil, err
	}

	product, err := s.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, fromStore(err)
	}
	if product.VendorID != caller.VendorID {
		return nil, ErrForbidden
	}

	next := *product
	next.PricingType = upd.PricingType
	next.BasePrice = upd.BasePrice
	next.HourlyRate = upd.HourlyRate
	next.AdvanceType = upd.AdvanceType
	next.AdvanceValue = upd.AdvanceValue
	if upd.IsActive != nil {
		next.IsActive = *upd.IsActive
	}

	if next.UnitPrice() <= 0 {
		return nil, validationError("%s products need a positive unit price", next.PricingType)
	}
	if err := ValidateAdvanceRule(&next); err != nil {
		return nil, err
	}

	if err := s.store.UpdateProductPricing(ctx, &next); err != nil {
		return nil, util.SpanError(span, fmt.Errorf("failed to update pricing: %w", fromStore(err)))
	}

	s.logger.Info("Product pricing updated",
		zap.Int64("product_id", next.ID),
		zap.String("pricing_type", next.PricingType),
		zap.String("advance_type", next.AdvanceType),
		zap.Int64("advance_value", next.AdvanceValue))
	return &next, nil
}
