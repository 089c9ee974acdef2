package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

type TenantStore struct {
	fs *firestore.Client
}

// Get returns the tenant or nil when the tenant was never approved.
func (s *TenantStore) Get(ctx context.Context, tenantID int64) (*Tenant, error) {
	ds, err := s.fs.Collection(colTenants).Doc(tenantDocID(tenantID)).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get tenant %d: %w", tenantID, err)
	}
	var t Tenant
	if err := ds.DataTo(&t); err != nil {
		return nil, fmt.Errorf("database: decode tenant %d: %w", tenantID, err)
	}
	return &t, nil
}

// IsActive reports whether the tenant exists and may enqueue work.
func (s *TenantStore) IsActive(ctx context.Context, tenantID int64) (bool, error) {
	t, err := s.Get(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return t != nil && t.Status == TenantActive, nil
}

// Approve creates or overwrites the tenant record. Admission through an
// invite code goes through InviteCodeStore.Redeem instead, which writes the
// tenant and flips the code in one transaction.
func (s *TenantStore) Approve(ctx context.Context, t *Tenant) error {
	if t.ApprovedAt.IsZero() {
		t.ApprovedAt = time.Now().UTC()
	}
	_, err := s.fs.Collection(colTenants).Doc(tenantDocID(t.TenantID)).Set(ctx, t)
	if err != nil {
		return fmt.Errorf("database: approve tenant %d: %w", t.TenantID, err)
	}
	return nil
}

// SetStatus suspends, bans, or reactivates a tenant.
func (s *TenantStore) SetStatus(ctx context.Context, tenantID int64, status string) error {
	_, err := s.fs.Collection(colTenants).Doc(tenantDocID(tenantID)).Update(ctx, []firestore.Update{
		{Path: "status", Value: status},
	})
	if err != nil {
		return fmt.Errorf("database: set tenant %d status: %w", tenantID, err)
	}
	return nil
}
