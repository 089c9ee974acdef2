package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

type BusinessConfigStore struct {
	fs *firestore.Client
}

func (s *BusinessConfigStore) ref(tenantID int64) *firestore.DocumentRef {
	return s.fs.Collection(colBusinessConfigs).Doc(tenantDocID(tenantID))
}

// Get returns the tenant's config or nil when onboarding never completed.
func (s *BusinessConfigStore) Get(ctx context.Context, tenantID int64) (*BusinessConfig, error) {
	ds, err := s.ref(tenantID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get business config %d: %w", tenantID, err)
	}
	var cfg BusinessConfig
	if err := ds.DataTo(&cfg); err != nil {
		return nil, fmt.Errorf("database: decode business config %d: %w", tenantID, err)
	}
	return &cfg, nil
}

// Save overwrites the config, stamping updatedAt. Onboarding completion
// writes through Client.CompleteOnboarding instead so the mapping and
// counter land atomically.
func (s *BusinessConfigStore) Save(ctx context.Context, cfg *BusinessConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = cfg.UpdatedAt
	}
	if _, err := s.ref(cfg.TenantID).Set(ctx, cfg); err != nil {
		return fmt.Errorf("database: save business config %d: %w", cfg.TenantID, err)
	}
	return nil
}
