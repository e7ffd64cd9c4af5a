package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"booking-service/internal/models"
)

// vendorColumns maps editable profile fields to their vendors column.
var vendorColumns = map[string]string{
	"business_name":       "business_name",
	"email":               "email",
	"phone":               "phone",
	"address":             "address",
	"bank_account_holder": "bank_account_holder",
	"bank_account_number": "bank_account_number",
	"bank_ifsc":           "bank_ifsc",
}

// CreateProfileEdit stores a PENDING edit request
func (s *Store) CreateProfileEdit(ctx context.Context, r *models.ProfileEditRequest) error {
	query := `
		INSERT INTO profile_edit_requests (vendor_id, changes, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query, r.VendorID, r.Changes, r.Status).
		Scan(&r.ID, &r.CreatedAt)
}

// GetProfileEdit retrieves an edit request by ID
func (s *Store) GetProfileEdit(ctx context.Context, id int64) (*models.ProfileEditRequest, error) {
	var req models.ProfileEditRequest
	err := s.db.GetContext(ctx, &req, "SELECT * FROM profile_edit_requests WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: profile edit %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListPendingProfileEdits lists edit requests awaiting review, oldest first
func (s *Store) ListPendingProfileEdits(ctx context.Context) ([]models.ProfileEditRequest, error) {
	var reqs []models.ProfileEditRequest
	err := s.db.SelectContext(ctx, &reqs,
		"SELECT * FROM profile_edit_requests WHERE status = $1 ORDER BY created_at",
		models.EditStatusPending)
	return reqs, err
}

// ApplyProfileEdit writes the request's changes to the vendor and marks it
// APPROVED. The vendor update only matches if every field still holds its
// recorded old value; otherwise nothing is written and ErrStatusChanged is returned.
func (s *Store) ApplyProfileEdit(ctx context.Context, req *models.ProfileEditRequest, reviewerID int64) error {
	if len(req.Changes) == 0 {
		return fmt.Errorf("profile edit %d has no changes", req.ID)
	}

	sets := make([]string, 0, len(req.Changes))
	guards := make([]string, 0, len(req.Changes))
	args := []interface{}{req.VendorID}
	for _, c := range req.Changes {
		col, ok := vendorColumns[c.Field]
		if !ok {
			return fmt.Errorf("field %q is not editable", c.Field)
		}
		args = append(args, c.NewValue)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
		args = append(args, c.OldValue)
		guards = append(guards, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ok, err := affected(tx.ExecContext(ctx, `
		UPDATE profile_edit_requests
		SET status = $1, reviewed_by = $2, reviewed_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.EditStatusApproved, reviewerID, req.ID, models.EditStatusPending))
	if err != nil {
		return fmt.Errorf("failed to approve profile edit: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: profile edit %d is no longer pending", ErrStatusChanged, req.ID)
	}

	query := fmt.Sprintf("UPDATE vendors SET %s, updated_at = NOW() WHERE id = $1 AND %s",
		strings.Join(sets, ", "), strings.Join(guards, " AND "))
	ok, err = affected(tx.ExecContext(ctx, query, args...))
	if err != nil {
		return fmt.Errorf("failed to update vendor: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: vendor %d profile changed since the request", ErrStatusChanged, req.VendorID)
	}

	return tx.Commit()
}

// RejectProfileEdit marks a PENDING request REJECTED
func (s *Store) RejectProfileEdit(ctx context.Context, id, reviewerID int64) (bool, error) {
	return affected(s.db.ExecContext(ctx, `
		UPDATE profile_edit_requests
		SET status = $1, reviewed_by = $2, reviewed_at = NOW()
		WHERE id = $3 AND status = $4`,
		models.EditStatusRejected, reviewerID, id, models.EditStatusPending))
}
