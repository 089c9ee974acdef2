package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
)

type UserTenantStore struct {
	fs *firestore.Client
}

func (s *UserTenantStore) ref(userID int64) *firestore.DocumentRef {
	return s.fs.Collection(colUserTenants).Doc(fmt.Sprintf("%d", userID))
}

// Get returns the user's tenant mapping; a user with no tenants gets an
// empty mapping, never nil.
func (s *UserTenantStore) Get(ctx context.Context, userID int64) (*UserTenantMapping, error) {
	ds, err := s.ref(userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return &UserTenantMapping{UserID: userID}, nil
		}
		return nil, fmt.Errorf("database: get user tenants %d: %w", userID, err)
	}
	var m UserTenantMapping
	if err := ds.DataTo(&m); err != nil {
		return nil, fmt.Errorf("database: decode user tenants %d: %w", userID, err)
	}
	m.UserID = userID
	return &m, nil
}

// Remove detaches the user from the tenant. Removing the last tenant
// deletes the whole document.
func (s *UserTenantStore) Remove(ctx context.Context, userID, tenantID int64) error {
	ref := s.ref(userID)
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		m, err := userTenantsInTx(tx, ref)
		if err != nil {
			return err
		}
		kept := m.Tenants[:0]
		for _, t := range m.Tenants {
			if t.TenantID != tenantID {
				kept = append(kept, t)
			}
		}
		m.Tenants = kept
		if len(m.Tenants) == 0 {
			return tx.Delete(ref)
		}
		return tx.Set(ref, m)
	})
	if err != nil {
		return fmt.Errorf("database: remove tenant %d from user %d: %w", tenantID, userID, err)
	}
	return nil
}

// userTenantsInTx reads the mapping inside a transaction, treating a
// missing document as an empty mapping.
func userTenantsInTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (*UserTenantMapping, error) {
	ds, err := tx.Get(ref)
	if err != nil {
		if isNotFound(err) {
			return &UserTenantMapping{}, nil
		}
		return nil, err
	}
	var m UserTenantMapping
	if err := ds.DataTo(&m); err != nil {
		return nil, fmt.Errorf("decode user tenants: %w", err)
	}
	return &m, nil
}
