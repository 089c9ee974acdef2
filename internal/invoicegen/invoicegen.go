// Package invoicegen runs the /invoice conversation and produces the PDF:
// select_type, awaiting_details, awaiting_payment, confirming, then a
// produce saga that allocates the number, renders, uploads, records, and
// appends the spreadsheet row. Sessions are per (tenant, user) with a 1h
// TTL.
package invoicegen

import (
	"context"
	"strings"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/events"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/telegram"
)

// Inline-button payloads. The ingest router uses the prefix to route
// callback updates here.
const (
	CallbackPrefix = "inv:"

	cbTypeInvoice = "inv:type:invoice"
	cbTypeReceipt = "inv:type:invoice_receipt"
	cbPayPrefix   = "inv:pay:"
	cbConfirm     = "inv:confirm"
	cbCancel      = "inv:cancel"
)

// IsCallback reports whether callback data belongs to an invoice-generation
// button.
func IsCallback(data string) bool {
	return strings.HasPrefix(data, CallbackPrefix)
}

// SessionStore persists the conversation per (tenant, user).
type SessionStore interface {
	Get(ctx context.Context, tenantID, userID int64) (*database.InvoiceGenSession, error)
	Save(ctx context.Context, sess *database.InvoiceGenSession) error
	Delete(ctx context.Context, tenantID, userID int64) error
}

// ConfigStore reads the tenant's business profile.
type ConfigStore interface {
	Get(ctx context.Context, tenantID int64) (*database.BusinessConfig, error)
}

// NumberSource allocates sequential invoice numbers.
type NumberSource interface {
	Next(ctx context.Context, tenantID int64) (string, error)
}

// InvoiceStore writes the generated-invoice audit record.
type InvoiceStore interface {
	Create(ctx context.Context, inv *database.GeneratedInvoice) error
}

// SheetClient appends the Generated Invoices row.
type SheetClient interface {
	EnsureTab(ctx context.Context, spreadsheetID, tab string, headers []string) error
	AppendRow(ctx context.Context, spreadsheetID, tab string, row []interface{}) (string, error)
}

// ObjectStore is the invoices bucket, destination of the rendered PDF.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// LogoStore reads the tenant's logo from the logos bucket.
type LogoStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
}

// CallbackGuard absorbs duplicate deliveries of the same callback update,
// keyed by the platform's update id.
type CallbackGuard interface {
	Seen(ctx context.Context, updateID int64) (bool, error)
	Mark(ctx context.Context, updateID int64) error
}

// Chat is the outbound leg of the chat platform.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}

type Manager struct {
	sessions  SessionStore
	configs   ConfigStore
	counters  NumberSource
	invoices  InvoiceStore
	sheets    SheetClient
	objects   ObjectStore
	logos     LogoStore
	chat      Chat
	renderer  Renderer
	dedup     CallbackGuard
	publisher *events.Publisher
}

func New(sessions SessionStore, configs ConfigStore, counters NumberSource, invoices InvoiceStore, sheetClient SheetClient, objects ObjectStore, logos LogoStore, chat Chat, renderer Renderer, dedup CallbackGuard, publisher *events.Publisher) *Manager {
	return &Manager{
		sessions:  sessions,
		configs:   configs,
		counters:  counters,
		invoices:  invoices,
		sheets:    sheetClient,
		objects:   objects,
		logos:     logos,
		chat:      chat,
		renderer:  renderer,
		dedup:     dedup,
		publisher: publisher,
	}
}

// HandleCommand starts a fresh /invoice session. Tenants that never
// finished onboarding are pointed there instead.
func (m *Manager) HandleCommand(ctx context.Context, task *queue.InvoiceCommandTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID, "user_id", task.UserID)
	ctx = logging.WithLogger(ctx, log)

	cfg, err := m.configs.Get(ctx, task.TenantID)
	if err != nil {
		return err
	}
	if cfg == nil {
		m.send(ctx, task.TenantID, i18n.T(i18n.EN, "invoicegen.no_config", nil), nil)
		return nil
	}
	lang := i18n.Normalize(cfg.Language)

	sess := &database.InvoiceGenSession{
		TenantID: task.TenantID,
		UserID:   task.UserID,
		Username: task.Username,
		Status:   database.GenStateSelectType,
	}
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, task.TenantID, i18n.T(lang, "invoicegen.select_type", nil), typeKeyboard(lang))
	return nil
}

// HandleMessage feeds a text answer into the session. Only the details
// step consumes free text; everywhere else the current prompt repeats.
func (m *Manager) HandleMessage(ctx context.Context, task *queue.InvoiceMessageTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID, "user_id", task.UserID)
	ctx = logging.WithLogger(ctx, log)

	sess, err := m.sessions.Get(ctx, task.TenantID, task.UserID)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}
	lang := m.lang(ctx, task.TenantID)

	text := strings.TrimSpace(task.Text)
	if text == "/cancel" || strings.HasPrefix(text, "/cancel@") {
		return m.cancel(ctx, sess, lang)
	}

	switch sess.Status {
	case database.GenStateAwaitingDetails:
		return m.stepDetails(ctx, sess, text, lang)
	case database.GenStateSelectType:
		m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.select_type", nil), typeKeyboard(lang))
	case database.GenStateAwaitingPayment:
		m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.ask_payment", nil), paymentKeyboard(lang))
	case database.GenStateConfirming:
		m.sendConfirmation(ctx, sess, lang)
	}
	return nil
}

// HandleCallback feeds a button press into the session.
func (m *Manager) HandleCallback(ctx context.Context, task *queue.InvoiceCallbackTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID, "user_id", task.UserID)
	ctx = logging.WithLogger(ctx, log)
	defer m.answer(ctx, task.CallbackID)

	sess, err := m.sessions.Get(ctx, task.TenantID, task.UserID)
	if err != nil {
		return err
	}
	lang := m.lang(ctx, task.TenantID)
	if sess == nil {
		m.send(ctx, task.TenantID, i18n.T(lang, "invoicegen.expired", nil), nil)
		return nil
	}

	switch {
	case task.Data == cbCancel:
		return m.cancel(ctx, sess, lang)

	case strings.HasPrefix(task.Data, "inv:type:") && sess.Status == database.GenStateSelectType:
		switch task.Data {
		case cbTypeInvoice:
			sess.DocumentType = database.DocTypeInvoice
		case cbTypeReceipt:
			sess.DocumentType = database.DocTypeInvoiceReceipt
		default:
			return nil
		}
		sess.Status = database.GenStateAwaitingDetails
		if err := m.sessions.Save(ctx, sess); err != nil {
			return err
		}
		m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.ask_details", nil), nil)

	case strings.HasPrefix(task.Data, cbPayPrefix) && sess.Status == database.GenStateAwaitingPayment:
		method := strings.TrimPrefix(task.Data, cbPayPrefix)
		if !validPayment(method) {
			return nil
		}
		sess.PaymentMethod = method
		sess.Status = database.GenStateConfirming
		if err := m.sessions.Save(ctx, sess); err != nil {
			return err
		}
		m.sendConfirmation(ctx, sess, lang)

	case task.Data == cbConfirm && sess.Status == database.GenStateConfirming:
		// A replayed confirm must not allocate a second number. The mark
		// goes in before the saga runs so a concurrent delivery cannot
		// race past the session read; dedup failures fail open.
		seen, err := m.dedup.Seen(ctx, task.UpdateID)
		if err != nil {
			log.Warnw("confirm dedup check failed", "error", err)
		}
		if seen {
			log.Infow("confirm replay ignored")
			return nil
		}
		if err := m.dedup.Mark(ctx, task.UpdateID); err != nil {
			log.Warnw("confirm dedup mark failed", "error", err)
		}
		return m.produce(ctx, sess, lang)

	default:
		// Stale button from an earlier step; the spinner stops, nothing
		// else happens.
		log.Infow("invoicegen callback ignored", "data", task.Data, "status", sess.Status)
	}
	return nil
}

func (m *Manager) stepDetails(ctx context.Context, sess *database.InvoiceGenSession, text string, lang i18n.Lang) error {
	details, errKey := ParseDetails(text)
	if errKey != "" {
		m.send(ctx, sess.TenantID, i18n.T(lang, errKey, nil), nil)
		return nil
	}
	sess.CustomerName = details.CustomerName
	sess.CustomerTaxID = details.CustomerTaxID
	sess.Amount = details.Amount.String()
	sess.Description = details.Description
	sess.Status = database.GenStateAwaitingPayment
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.ask_payment", nil), paymentKeyboard(lang))
	return nil
}

func (m *Manager) cancel(ctx context.Context, sess *database.InvoiceGenSession, lang i18n.Lang) error {
	if err := m.sessions.Delete(ctx, sess.TenantID, sess.UserID); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.cancelled", nil), nil)
	return nil
}

func (m *Manager) sendConfirmation(ctx context.Context, sess *database.InvoiceGenSession, lang i18n.Lang) {
	m.send(ctx, sess.TenantID, i18n.T(lang, "invoicegen.confirm", map[string]string{
		"customer":    i18n.EscapeMarkdown(sess.CustomerName),
		"amount":      sess.Amount,
		"currency":    "ILS",
		"description": i18n.EscapeMarkdown(sess.Description),
		"payment":     i18n.T(lang, "buttons.pay_"+sess.PaymentMethod, nil),
	}), confirmKeyboard(lang))
}

func (m *Manager) lang(ctx context.Context, tenantID int64) i18n.Lang {
	cfg, err := m.configs.Get(ctx, tenantID)
	if err != nil || cfg == nil {
		return i18n.EN
	}
	return i18n.Normalize(cfg.Language)
}

func (m *Manager) send(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	_, err := m.chat.SendMessage(ctx, chatID, text, &telegram.SendOptions{ReplyMarkup: markup})
	if err != nil {
		logging.FromContext(ctx).Warnw("invoicegen prompt failed", "error", err)
	}
}

func (m *Manager) answer(ctx context.Context, callbackID string) {
	if callbackID == "" {
		return
	}
	if err := m.chat.AnswerCallbackQuery(ctx, callbackID, ""); err != nil {
		logging.FromContext(ctx).Warnw("answer callback failed", "error", err)
	}
}

func validPayment(method string) bool {
	switch method {
	case database.PaymentCash, database.PaymentCreditCard, database.PaymentBankTransfer,
		database.PaymentBit, database.PaymentCheck:
		return true
	}
	return false
}

func typeKeyboard(lang i18n.Lang) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: i18n.T(lang, "buttons.type_invoice", nil), CallbackData: cbTypeInvoice},
		{Text: i18n.T(lang, "buttons.type_invoice_receipt", nil), CallbackData: cbTypeReceipt},
	}}}
}

func paymentKeyboard(lang i18n.Lang) *telegram.InlineKeyboardMarkup {
	methods := []string{
		database.PaymentCash, database.PaymentCreditCard, database.PaymentBankTransfer,
		database.PaymentBit, database.PaymentCheck,
	}
	var row []telegram.InlineKeyboardButton
	var rows [][]telegram.InlineKeyboardButton
	for _, mth := range methods {
		row = append(row, telegram.InlineKeyboardButton{
			Text:         i18n.T(lang, "buttons.pay_"+mth, nil),
			CallbackData: cbPayPrefix + mth,
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func confirmKeyboard(lang i18n.Lang) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: i18n.T(lang, "buttons.confirm", nil), CallbackData: cbConfirm},
		{Text: i18n.T(lang, "buttons.cancel", nil), CallbackData: cbCancel},
	}}}
}
