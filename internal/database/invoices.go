package database

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

type GeneratedInvoiceStore struct {
	fs *firestore.Client
}

// Create writes the audit record for a freshly produced invoice. The
// composite id makes a double-write of the same number fail loudly instead
// of silently overwriting.
func (s *GeneratedInvoiceStore) Create(ctx context.Context, inv *GeneratedInvoice) error {
	id := invoiceDocID(inv.TenantID, inv.InvoiceNumber)
	_, err := s.fs.Collection(colGeneratedInvoices).Doc(id).Create(ctx, inv)
	if err != nil {
		return fmt.Errorf("database: create generated invoice %s: %w", id, err)
	}
	return nil
}

func (s *GeneratedInvoiceStore) Get(ctx context.Context, tenantID int64, invoiceNumber string) (*GeneratedInvoice, error) {
	id := invoiceDocID(tenantID, invoiceNumber)
	ds, err := s.fs.Collection(colGeneratedInvoices).Doc(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get generated invoice %s: %w", id, err)
	}
	var inv GeneratedInvoice
	if err := ds.DataTo(&inv); err != nil {
		return nil, fmt.Errorf("database: decode generated invoice %s: %w", id, err)
	}
	return &inv, nil
}

// ListForTenantSince returns the tenant's generated invoices issued at or
// after the given time, for the monthly report.
func (s *GeneratedInvoiceStore) ListForTenantSince(ctx context.Context, tenantID int64, since time.Time) ([]*GeneratedInvoice, error) {
	iter := s.fs.Collection(colGeneratedInvoices).
		Where("tenantId", "==", tenantID).
		Where("generatedAt", ">=", since).
		Documents(ctx)
	defer iter.Stop()

	var out []*GeneratedInvoice
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("database: list generated invoices: %w", err)
		}
		var inv GeneratedInvoice
		if err := ds.DataTo(&inv); err != nil {
			continue
		}
		out = append(out, &inv)
	}
}
