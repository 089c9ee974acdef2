package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

// Invoice-generation sessions go stale after an hour of inactivity and are
// deleted on the next read.
const invoiceGenTTL = time.Hour

// Callback dedup records expire after a day; redeliveries never arrive
// later than that.
const callbackDedupTTL = 24 * time.Hour

// ===== ONBOARDING =====

type OnboardingStore struct {
	fs *firestore.Client
}

func (s *OnboardingStore) ref(tenantID int64) *firestore.DocumentRef {
	return s.fs.Collection(colOnboardingSessions).Doc(tenantDocID(tenantID))
}

// Get returns the session or nil when the tenant is not onboarding.
func (s *OnboardingStore) Get(ctx context.Context, tenantID int64) (*OnboardingSession, error) {
	ds, err := s.ref(tenantID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get onboarding session %d: %w", tenantID, err)
	}
	var sess OnboardingSession
	if err := ds.DataTo(&sess); err != nil {
		return nil, fmt.Errorf("database: decode onboarding session %d: %w", tenantID, err)
	}
	return &sess, nil
}

// Save overwrites the session, stamping updatedAt.
func (s *OnboardingStore) Save(ctx context.Context, sess *OnboardingSession) error {
	sess.UpdatedAt = time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	if _, err := s.ref(sess.TenantID).Set(ctx, sess); err != nil {
		return fmt.Errorf("database: save onboarding session %d: %w", sess.TenantID, err)
	}
	return nil
}

// Delete removes the session on completion or cancellation.
func (s *OnboardingStore) Delete(ctx context.Context, tenantID int64) error {
	if _, err := s.ref(tenantID).Delete(ctx); err != nil {
		return fmt.Errorf("database: delete onboarding session %d: %w", tenantID, err)
	}
	return nil
}

// ===== INVOICE GENERATION =====

type InvoiceGenStore struct {
	fs *firestore.Client
}

func (s *InvoiceGenStore) ref(tenantID, userID int64) *firestore.DocumentRef {
	return s.fs.Collection(colInvoiceGenSessions).Doc(sessionDocID(tenantID, userID))
}

// Get returns the live session for the (tenant, user) pair, deleting and
// hiding sessions past their TTL.
func (s *InvoiceGenStore) Get(ctx context.Context, tenantID, userID int64) (*InvoiceGenSession, error) {
	ds, err := s.ref(tenantID, userID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get invoicegen session: %w", err)
	}
	var sess InvoiceGenSession
	if err := ds.DataTo(&sess); err != nil {
		return nil, fmt.Errorf("database: decode invoicegen session: %w", err)
	}
	if time.Since(sess.UpdatedAt) > invoiceGenTTL {
		// Best effort; a failed delete just means the next read tries again.
		_, _ = s.ref(tenantID, userID).Delete(ctx)
		return nil, nil
	}
	return &sess, nil
}

func (s *InvoiceGenStore) Save(ctx context.Context, sess *InvoiceGenSession) error {
	sess.UpdatedAt = time.Now().UTC()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = sess.UpdatedAt
	}
	if _, err := s.ref(sess.TenantID, sess.UserID).Set(ctx, sess); err != nil {
		return fmt.Errorf("database: save invoicegen session: %w", err)
	}
	return nil
}

func (s *InvoiceGenStore) Delete(ctx context.Context, tenantID, userID int64) error {
	if _, err := s.ref(tenantID, userID).Delete(ctx); err != nil {
		return fmt.Errorf("database: delete invoicegen session: %w", err)
	}
	return nil
}

// ===== CALLBACK DEDUP =====

type CallbackDedupStore struct {
	fs *firestore.Client
}

func (s *CallbackDedupStore) ref(updateID int64) *firestore.DocumentRef {
	return s.fs.Collection(colCallbackDedup).Doc(fmt.Sprintf("%d", updateID))
}

// Seen reports whether this callback update was already processed.
func (s *CallbackDedupStore) Seen(ctx context.Context, updateID int64) (bool, error) {
	_, err := s.ref(updateID).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("database: check callback dedup %d: %w", updateID, err)
	}
	return true, nil
}

// Mark records the update id with its expiry. Written after the callback's
// side effects so a crash mid-handler replays rather than drops.
func (s *CallbackDedupStore) Mark(ctx context.Context, updateID int64) error {
	now := time.Now().UTC()
	_, err := s.ref(updateID).Set(ctx, &CallbackDedup{
		UpdateID:    updateID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(callbackDedupTTL),
	})
	if err != nil {
		return fmt.Errorf("database: mark callback dedup %d: %w", updateID, err)
	}
	return nil
}
