package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

// CounterStore allocates per-tenant, per-year sequential invoice numbers.
// Every allocation is a read-increment-write inside one Firestore
// transaction, so concurrent callers serialize and each receives a distinct
// number. Numbers are monotone within a tenant-year; gaps from aborted
// generations are allowed.
type CounterStore struct {
	fs *firestore.Client
}

// Next allocates and returns the next invoice number for the tenant in the
// current year, formatted "{year}{counter}".
func (s *CounterStore) Next(ctx context.Context, tenantID int64) (string, error) {
	year := time.Now().UTC().Year()
	ref := s.fs.Collection(colInvoiceCounters).Doc(counterDocID(tenantID, year))

	var issued int64
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		c := InvoiceCounter{TenantID: tenantID, Year: year}

		ds, err := tx.Get(ref)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil {
			if err := ds.DataTo(&c); err != nil {
				return fmt.Errorf("decode counter: %w", err)
			}
		}
		issued = advance(&c)
		return tx.Set(ref, &c)
	})
	if err != nil {
		return "", fmt.Errorf("database: allocate invoice number for %d: %w", tenantID, err)
	}
	return FormatInvoiceNumber(year, issued), nil
}

// Initialize seeds the current year's counter so the first generated
// invoice carries number {year}{seed}. Racing with Next is safe: both run
// the same transactional shape, and a seed that arrives after allocation
// has started simply loses the transaction retry.
func (s *CounterStore) Initialize(ctx context.Context, tenantID, seed int64) error {
	year := time.Now().UTC().Year()
	ref := s.fs.Collection(colInvoiceCounters).Doc(counterDocID(tenantID, year))

	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if err == nil {
			// Already allocated from; never move an existing counter.
			return nil
		}
		if !isNotFound(err) {
			return err
		}
		return tx.Set(ref, &InvoiceCounter{
			TenantID:    tenantID,
			Year:        year,
			Counter:     seed - 1, // Next() increments before issuing
			LastUpdated: time.Now().UTC(),
		})
	})
	if err != nil {
		return fmt.Errorf("database: initialize counter for %d: %w", tenantID, err)
	}
	return nil
}

// advance is the increment applied to the counter snapshot inside the
// transaction. Kept separate from the Firestore plumbing so the
// read-increment-write step can be driven under simulated transaction
// retries in tests.
func advance(c *InvoiceCounter) int64 {
	c.Counter++
	c.LastUpdated = time.Now().UTC()
	return c.Counter
}

// FormatInvoiceNumber renders the year-prefixed sequential number, no
// separator: year 2026, counter 7 -> "20267".
func FormatInvoiceNumber(year int, counter int64) string {
	return fmt.Sprintf("%d%d", year, counter)
}
