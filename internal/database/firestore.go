// Package database wraps Firestore with typed per-collection stores. All
// long-lived state lives here: tenants, business configs, ingest jobs,
// sessions, counters, generated invoices, invite codes. Stores return nil
// (not an error) for documents that do not exist.
package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collection names. Composite ids use `_` between parts; counter and
// generated-invoice ids carry the chat_ prefix.
const (
	colTenants            = "tenants"
	colInviteCodes        = "invite_codes"
	colInviteAttempts     = "invite_attempts"
	colBusinessConfigs    = "business_configs"
	colIngestJobs         = "ingest_jobs"
	colGeneratedInvoices  = "generated_invoices"
	colInvoiceCounters    = "invoice_counters"
	colOnboardingSessions = "onboarding_sessions"
	colInvoiceGenSessions = "invoicegen_sessions"
	colCallbackDedup      = "callback_dedup"
	colUserTenants        = "user_tenants"
)

type Client struct {
	fs *firestore.Client
}

func NewClient(ctx context.Context, projectID string) (*Client, error) {
	fs, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("database: create firestore client: %w", err)
	}
	return &Client{fs: fs}, nil
}

func (c *Client) Close() error {
	return c.fs.Close()
}

// Typed store accessors. Stores are stateless views over the same client,
// cheap to create per call site.

func (c *Client) Jobs() *JobStore                  { return &JobStore{c.fs} }
func (c *Client) Tenants() *TenantStore            { return &TenantStore{c.fs} }
func (c *Client) Configs() *BusinessConfigStore    { return &BusinessConfigStore{c.fs} }
func (c *Client) Onboarding() *OnboardingStore     { return &OnboardingStore{c.fs} }
func (c *Client) InvoiceGen() *InvoiceGenStore     { return &InvoiceGenStore{c.fs} }
func (c *Client) Callbacks() *CallbackDedupStore   { return &CallbackDedupStore{c.fs} }
func (c *Client) Counters() *CounterStore          { return &CounterStore{c.fs} }
func (c *Client) Invoices() *GeneratedInvoiceStore { return &GeneratedInvoiceStore{c.fs} }
func (c *Client) Invites() *InviteCodeStore        { return &InviteCodeStore{c.fs} }
func (c *Client) UserTenants() *UserTenantStore    { return &UserTenantStore{c.fs} }

// CompleteOnboarding atomically writes everything a finished onboarding
// produces: the business config, the user-tenant mapping entry, and, when
// seed > 0, the initial invoice counter for the current year.
func (c *Client) CompleteOnboarding(ctx context.Context, cfg *BusinessConfig, userID int64, userTitle string, seed int64, year int) error {
	return c.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cfgRef := c.fs.Collection(colBusinessConfigs).Doc(tenantDocID(cfg.TenantID))

		mapRef := c.fs.Collection(colUserTenants).Doc(fmt.Sprintf("%d", userID))
		mapping, err := userTenantsInTx(tx, mapRef)
		if err != nil {
			return err
		}
		mapping.UserID = userID
		mapping.upsert(UserTenant{TenantID: cfg.TenantID, Title: userTitle, AddedAt: cfg.CreatedAt, AddedBy: "onboarding"})

		if err := tx.Set(cfgRef, cfg); err != nil {
			return err
		}
		if err := tx.Set(mapRef, mapping); err != nil {
			return err
		}
		if seed > 0 {
			ctrRef := c.fs.Collection(colInvoiceCounters).Doc(counterDocID(cfg.TenantID, year))
			if err := tx.Set(ctrRef, &InvoiceCounter{
				TenantID:    cfg.TenantID,
				Year:        year,
				Counter:     seed - 1, // Next() increments before issuing
				LastUpdated: cfg.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func tenantDocID(tenantID int64) string {
	return fmt.Sprintf("%d", tenantID)
}

func jobDocID(tenantID, messageID int64) string {
	return fmt.Sprintf("%d_%d", tenantID, messageID)
}

func counterDocID(tenantID int64, year int) string {
	return fmt.Sprintf("chat_%d_%d", tenantID, year)
}

func invoiceDocID(tenantID int64, invoiceNumber string) string {
	return fmt.Sprintf("chat_%d_%s", tenantID, invoiceNumber)
}

func sessionDocID(tenantID, userID int64) string {
	return fmt.Sprintf("%d_%d", tenantID, userID)
}
