package invoicegen

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/events"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/sheets"
)

// produce runs the generation saga on confirmation:
//
//	read config + logo → allocate number → render PDF → upload →
//	write record → append sheet row → reply + drop session.
//
// Failures before the record write leave the allocated number unused; the
// sequence is monotone, not dense. Returning an error lets the queue
// redeliver with the session still in confirming.
func (m *Manager) produce(ctx context.Context, sess *database.InvoiceGenSession, lang i18n.Lang) error {
	log := logging.FromContext(ctx)

	cfg, err := m.configs.Get(ctx, sess.TenantID)
	if err != nil {
		return fmt.Errorf("invoicegen: load config: %w", err)
	}
	if cfg == nil {
		m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.no_config", nil), nil)
		return m.sessions.Delete(ctx, sess.TenantID, sess.UserID)
	}

	// Logo read and number allocation touch different systems; run them
	// in parallel.
	var logo []byte
	var number string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if cfg.Business.LogoPath == "" {
			return nil
		}
		data, err := m.logos.Read(gctx, cfg.Business.LogoPath)
		if err != nil {
			// A missing logo degrades the document, never the flow.
			log.Warnw("logo read failed", "path", cfg.Business.LogoPath, "error", err)
			return nil
		}
		logo = data
		return nil
	})
	g.Go(func() error {
		n, err := m.counters.Next(gctx, sess.TenantID)
		if err != nil {
			return fmt.Errorf("invoicegen: allocate number: %w", err)
		}
		number = n
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infow("invoice number allocated", "number", number)

	amount, err := decimal.NewFromString(sess.Amount)
	if err != nil {
		return fmt.Errorf("invoicegen: corrupt session amount %q: %w", sess.Amount, err)
	}
	now := time.Now().UTC()
	inv := &database.GeneratedInvoice{
		TenantID:      sess.TenantID,
		InvoiceNumber: number,
		DocumentType:  sess.DocumentType,
		Customer:      database.Customer{Name: sess.CustomerName, TaxID: sess.CustomerTaxID},
		Description:   sess.Description,
		Amount:        amount.InexactFloat64(),
		Currency:      "ILS",
		PaymentMethod: sess.PaymentMethod,
		Date:          now.Format("02/01/2006"),
		GeneratedBy:   database.IssuedBy{UserID: sess.UserID, Username: sess.Username, TenantID: sess.TenantID},
	}

	html, err := buildHTML(cfg, inv, logoDataURI(logo))
	if err != nil {
		return err
	}
	pdf, err := m.renderer.RenderPDF(ctx, html)
	if err != nil {
		return fmt.Errorf("invoicegen: render pdf: %w", err)
	}

	objectPath := fmt.Sprintf("%d/%d/%s.pdf", sess.TenantID, now.Year(), number)
	link, err := m.objects.Upload(ctx, objectPath, pdf, "application/pdf")
	if err != nil {
		return fmt.Errorf("invoicegen: upload pdf: %w", err)
	}
	inv.StoragePath = objectPath
	inv.StorageURL = link

	if err := m.invoices.Create(ctx, inv); err != nil {
		return fmt.Errorf("invoicegen: record invoice: %w", err)
	}

	// The record is the source of truth; a lost row is a reporting gap,
	// not a lost invoice.
	if cfg.Business.SheetID != "" {
		if err := m.sheets.EnsureTab(ctx, cfg.Business.SheetID, sheets.TabGenerated, sheets.GeneratedHeaders); err != nil {
			log.Warnw("generated-invoices tab ensure failed", "error", err)
		} else if _, err := m.sheets.AppendRow(ctx, cfg.Business.SheetID, sheets.TabGenerated, sheets.GeneratedRow(inv)); err != nil {
			log.Warnw("generated-invoices row append failed", "error", err)
		}
	}

	if err := m.sessions.Delete(ctx, sess.TenantID, sess.UserID); err != nil {
		log.Warnw("delete finished session", "error", err)
	}
	m.publisher.Publish(ctx, events.InvoiceIssued, sess.TenantID, number)

	m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.produced", map[string]string{
		"type":   i18n.T(lang, "buttons.type_"+inv.DocumentType, nil),
		"number": number,
		"link":   link,
	}), nil)
	return nil
}

// logoDataURI inlines the logo so the renderer needs no bucket access.
func logoDataURI(logo []byte) string {
	if len(logo) == 0 {
		return ""
	}
	mime := http.DetectContentType(logo)
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(logo)
}
