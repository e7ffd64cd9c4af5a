package service

import (
	"context"
	"errors"
	"fmt"

	"booking-service/internal/models"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// editableFields is the allow-list of vendor profile fields an edit request
// may touch, with the validator rule each new value must satisfy.
var editableFields = map[string]string{
	"business_name":       "required,max=200",
	"email":               "required,email",
	"phone":               "required,e164",
	"address":             "max=500",
	"bank_account_holder": "required,max=200",
	"bank_account_number": "required,numeric,min=6,max=20",
	"bank_ifsc":           "required,len=11,alphanum",
}

// SubmitEditRequest lists the requested field changes
type SubmitEditRequest struct {
	Changes []models.FieldChange `json:"changes" binding:"required,min=1"`
}

// ProfileEditService routes vendor profile changes through admin review
type ProfileEditService struct {
	store  ProfileEditStore
	logger *zap.Logger
}

func NewProfileEditService(store ProfileEditStore) *ProfileEditService {
	return &ProfileEditService{store: store, logger: util.GetLogger()}
}

// Submit records a PENDING request. Each change must name an editable field,
// carry the field's current value as its old value, and actually change it.
func (s *ProfileEditService) Submit(ctx context.Context, caller models.CallerIdentity, req *SubmitEditRequest) (*models.ProfileEditRequest, error) {
	ctx, span := util.StartSpan(ctx, "ProfileEditService.Submit")
	defer span.End()

	if len(req.Changes) == 0 {
		return nil, validationError("no changes requested")
	}

	vendor, err := s.store.GetVendorByID(ctx, caller.VendorID)
	if err != nil {
		return nil, fromStore(err)
	}

	seen := make(map[string]bool, len(req.Changes))
	for _, c := range req.Changes {
		rule, ok := editableFields[c.Field]
		if !ok {
			return nil, validationError("field %q is not editable", c.Field)
		}
		if seen[c.Field] {
			return nil, validationError("field %q listed twice", c.Field)
		}
		seen[c.Field] = true

		if current, _ := vendorField(vendor, c.Field); current != c.OldValue {
			return nil, fmt.Errorf("%w: %s no longer holds the given old value", ErrConflict, c.Field)
		}
		if c.OldValue == c.NewValue {
			return nil, validationError("field %q is unchanged", c.Field)
		}
		if err := validate.Var(c.NewValue, rule); err != nil {
			return nil, validationError("field %q: %v", c.Field, err)
		}
	}

	edit := &models.ProfileEditRequest{
		VendorID: caller.VendorID,
		Changes:  models.FieldChanges(req.Changes),
		Status:   models.EditStatusPending,
	}
	if err := s.store.CreateProfileEdit(ctx, edit); err != nil {
		return nil, fmt.Errorf("failed to store profile edit: %w", err)
	}

	s.logger.Info("Profile edit submitted",
		zap.Int64("vendor_id", caller.VendorID),
		zap.Int64("edit_id", edit.ID),
		zap.Int("changes", len(edit.Changes)))
	return edit, nil
}

// ListPending lists requests awaiting review (admin only)
func (s *ProfileEditService) ListPending(ctx context.Context, caller models.CallerIdentity) ([]models.ProfileEditRequest, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.store.ListPendingProfileEdits(ctx)
}

// Approve applies a PENDING request. It fails with a conflict if any field
// changed since the request was made.
func (s *ProfileEditService) Approve(ctx context.Context, caller models.CallerIdentity, editID int64) (*models.ProfileEditRequest, error) {
	ctx, span := util.StartSpan(ctx, "ProfileEditService.Approve")
	defer span.End()

	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}

	edit, err := s.store.GetProfileEdit(ctx, editID)
	if err != nil {
		return nil, fromStore(err)
	}
	if edit.Status != models.EditStatusPending {
		return nil, fmt.Errorf("%w: edit request is %s", ErrInvalidState, edit.Status)
	}
	for _, c := range edit.Changes {
		if _, ok := editableFields[c.Field]; !ok {
			return nil, validationError("field %q is not editable", c.Field)
		}
	}

	if err := s.store.ApplyProfileEdit(ctx, edit, caller.VendorID); err != nil {
		err = fromStore(err)
		if errors.Is(err, ErrConflict) {
			return nil, err
		}
		return nil, util.SpanError(span, fmt.Errorf("failed to apply profile edit: %w", err))
	}

	s.logger.Info("Profile edit approved",
		zap.Int64("edit_id", edit.ID),
		zap.Int64("vendor_id", edit.VendorID),
		zap.Int64("admin_id", caller.VendorID))

	edit.Status = models.EditStatusApproved
	return edit, nil
}

// Reject closes a PENDING request without applying it
func (s *ProfileEditService) Reject(ctx context.Context, caller models.CallerIdentity, editID int64) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	won, err := s.store.RejectProfileEdit(ctx, editID, caller.VendorID)
	if err != nil {
		return fmt.Errorf("failed to reject profile edit: %w", err)
	}
	if !won {
		if _, err := s.store.GetProfileEdit(ctx, editID); err != nil {
			return fromStore(err)
		}
		return fmt.Errorf("%w: edit request is no longer pending", ErrInvalidState)
	}
	return nil
}

func vendorField(v *models.Vendor, field string) (string, bool) {
	switch field {
	case "business_name":
		return v.BusinessName, true
	case "email":
		return v.Email, true
	case "phone":
		return v.Phone, true
	case "address":
		return v.Address, true
	case "bank_account_holder":
		return v.BankAccountHolder, true
	case "bank_account_number":
		return v.BankAccountNumber, true
	case "bank_ifsc":
		return v.BankIFSC, true
	}
	return "", false
}
