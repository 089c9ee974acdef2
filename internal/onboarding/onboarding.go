// Package onboarding runs the nine-step group setup conversation:
// language, business name, owner details, address, tax status, logo,
// spreadsheet, counter seed, completion. Sessions are persisted per
// tenant so the flow survives worker restarts, and admission is gated by
// single-use invite codes.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/telegram"
)

// Inline-button payloads. The ingest router uses the prefix to route
// callback updates here.
const (
	CallbackPrefix = "onb:"

	cbLangEN      = "onb:lang:en"
	cbLangHE      = "onb:lang:he"
	cbTaxLicensed = "onb:tax:licensed"
	cbTaxExempt   = "onb:tax:exempt"
	cbSkipLogo    = "onb:skip"
	cbCounterOne  = "onb:counter:1"
)

// IsCallback reports whether callback data belongs to an onboarding
// button.
func IsCallback(data string) bool {
	return strings.HasPrefix(data, CallbackPrefix)
}

// SessionStore persists the conversation state per tenant.
type SessionStore interface {
	Get(ctx context.Context, tenantID int64) (*database.OnboardingSession, error)
	Save(ctx context.Context, sess *database.OnboardingSession) error
	Delete(ctx context.Context, tenantID int64) error
}

// TenantStore answers the admission question.
type TenantStore interface {
	Get(ctx context.Context, tenantID int64) (*database.Tenant, error)
}

// InviteStore redeems codes and tracks failed attempts.
type InviteStore interface {
	Redeem(ctx context.Context, code string, tenantID int64, title string) error
	RecordFailedAttempt(ctx context.Context, tenantID int64) (int, error)
}

// Chat is the outbound leg of the chat platform.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error)
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// SheetLister verifies spreadsheet access during the sheet step.
type SheetLister interface {
	ListTabs(ctx context.Context, spreadsheetID string) ([]string, error)
}

// ObjectStore is the logos bucket.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
}

// Completer writes the finished onboarding atomically: config, user-tenant
// mapping, and the conditional counter seed.
type Completer interface {
	CompleteOnboarding(ctx context.Context, cfg *database.BusinessConfig, userID int64, userTitle string, seed int64, year int) error
}

type Manager struct {
	sessions SessionStore
	tenants  TenantStore
	invites  InviteStore
	chat     Chat
	sheets   SheetLister
	logos    ObjectStore
	complete Completer

	serviceEmail string
}

func New(sessions SessionStore, tenants TenantStore, invites InviteStore, chat Chat, sheets SheetLister, logos ObjectStore, complete Completer, serviceEmail string) *Manager {
	return &Manager{
		sessions:     sessions,
		tenants:      tenants,
		invites:      invites,
		chat:         chat,
		sheets:       sheets,
		logos:        logos,
		complete:     complete,
		serviceEmail: serviceEmail,
	}
}

// HandleCommand processes /onboard. Non-approved tenants must present an
// invite code as the command argument; approved tenants (and freshly
// admitted ones) get a new session starting at the language step.
func (m *Manager) HandleCommand(ctx context.Context, task *queue.OnboardCommandTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID)
	ctx = logging.WithLogger(ctx, log)

	tenant, err := m.tenants.Get(ctx, task.TenantID)
	if err != nil {
		return fmt.Errorf("onboarding: check tenant: %w", err)
	}

	if tenant == nil || tenant.Status != database.TenantActive {
		code := strings.ToUpper(strings.TrimSpace(task.Arg))
		if code == "" {
			m.send(ctx, task.TenantID, i18n.T(i18n.EN, "onboarding.not_approved", nil), nil)
			return nil
		}
		if !ValidCodeFormat(code) {
			return m.failedRedemption(ctx, task.TenantID)
		}
		if err := m.invites.Redeem(ctx, code, task.TenantID, task.ChatTitle); err != nil {
			if errors.Is(err, database.ErrCodeInvalid) {
				return m.failedRedemption(ctx, task.TenantID)
			}
			return fmt.Errorf("onboarding: redeem code: %w", err)
		}
		log.Infow("tenant admitted by invite code")
	}

	sess := &database.OnboardingSession{
		TenantID:  task.TenantID,
		UserID:    task.UserID,
		ChatTitle: task.ChatTitle,
		Step:      database.OnboardStepLanguage,
		Language:  "en",
		Data:      map[string]string{},
		Active:    true,
	}
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, task.TenantID, i18n.T(i18n.EN, "onboarding.ask_language", nil), languageKeyboard())
	return nil
}

// failedRedemption counts the miss and replies unless the tenant already
// burned through the rate limit, in which case the bot goes silent.
func (m *Manager) failedRedemption(ctx context.Context, tenantID int64) error {
	attempts, err := m.invites.RecordFailedAttempt(ctx, tenantID)
	if err != nil {
		logging.FromContext(ctx).Warnw("record invite attempt failed", "error", err)
	}
	if database.Suppressed(attempts) {
		logging.FromContext(ctx).Infow("invite attempts suppressed", "attempts", attempts)
		return nil
	}
	m.send(ctx, tenantID, i18n.T(i18n.EN, "onboarding.invalid_code", nil), nil)
	return nil
}

// HandlePhoto accepts the logo. Outside the logo step photos are ignored.
func (m *Manager) HandlePhoto(ctx context.Context, task *queue.OnboardPhotoTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID)
	ctx = logging.WithLogger(ctx, log)

	sess, err := m.sessions.Get(ctx, task.TenantID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.Active || sess.Step != database.OnboardStepLogo {
		return nil
	}
	lang := i18n.Normalize(sess.Language)

	f, err := m.chat.GetFile(ctx, task.FileID)
	if err != nil {
		return fmt.Errorf("onboarding: get logo file: %w", err)
	}
	data, err := m.chat.DownloadFile(ctx, f.FilePath)
	if err != nil {
		return fmt.Errorf("onboarding: download logo: %w", err)
	}

	name := task.FileName
	if name == "" {
		name = path.Base(f.FilePath)
	}
	objectPath := fmt.Sprintf("logos/%d/%s", task.TenantID, name)
	url, err := m.logos.Upload(ctx, objectPath, data, task.MimeType)
	if err != nil {
		return fmt.Errorf("onboarding: upload logo: %w", err)
	}
	sess.Data["logoPath"] = objectPath
	sess.Data["logoUrl"] = url

	return m.advanceToSheet(ctx, sess, lang)
}

// Cancel tears down an active session with no other side effects.
func (m *Manager) Cancel(ctx context.Context, tenantID int64) error {
	sess, err := m.sessions.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	lang := i18n.EN
	if sess == nil {
		m.send(ctx, tenantID, i18n.T(lang, "common.no_active_session", nil), nil)
		return nil
	}
	lang = i18n.Normalize(sess.Language)
	if err := m.sessions.Delete(ctx, tenantID); err != nil {
		return err
	}
	m.send(ctx, tenantID, i18n.T(lang, "common.cancelled", nil), nil)
	return nil
}

func (m *Manager) advanceToSheet(ctx context.Context, sess *database.OnboardingSession, lang i18n.Lang) error {
	sess.Step = database.OnboardStepSheet
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_sheet", map[string]string{
		"serviceAccount": m.serviceEmail,
	}), nil)
	return nil
}

// finish writes everything atomically, drops the session, and announces
// completion. The counter is only seeded when the user picked a number
// other than 1; starting from 1 is what a fresh counter does anyway.
func (m *Manager) finish(ctx context.Context, sess *database.OnboardingSession, seed int64, lang i18n.Lang) error {
	now := time.Now().UTC()
	cfg := &database.BusinessConfig{
		TenantID: sess.TenantID,
		Language: sess.Language,
		Business: database.BusinessProfile{
			Name:      sess.Data["businessName"],
			OwnerName: sess.Data["ownerName"],
			TaxID:     sess.Data["taxId"],
			TaxStatus: sess.Data["taxStatus"],
			Email:     sess.Data["email"],
			Phone:     sess.Data["phone"],
			Address:   sess.Data["address"],
			LogoURL:   sess.Data["logoUrl"],
			LogoPath:  sess.Data["logoPath"],
			SheetID:   sess.Data["sheetId"],
		},
		Invoice:   brandingDefaults(sess.Language),
		CreatedAt: now,
		UpdatedAt: now,
	}

	counterSeed := int64(0)
	if seed > 1 {
		counterSeed = seed
	}
	if err := m.complete.CompleteOnboarding(ctx, cfg, sess.UserID, sess.ChatTitle, counterSeed, now.Year()); err != nil {
		return fmt.Errorf("onboarding: complete: %w", err)
	}
	if err := m.sessions.Delete(ctx, sess.TenantID); err != nil {
		logging.FromContext(ctx).Warnw("delete finished session", "error", err)
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.complete", map[string]string{
		"business": i18n.EscapeMarkdown(cfg.Business.Name),
	}), nil)
	return nil
}

// brandingDefaults fills the text the rendered document carries in its
// signature block and footer. Israeli invoicing rules require
// computer-generated documents to say so.
func brandingDefaults(lang string) database.InvoiceBranding {
	if i18n.Normalize(lang) == i18n.HE {
		return database.InvoiceBranding{
			DigitalSignatureText: "מסמך ממוחשב",
			GeneratedByText:      "הופק באמצעות Kvitly",
		}
	}
	return database.InvoiceBranding{
		DigitalSignatureText: "Computer-generated document",
		GeneratedByText:      "Generated by Kvitly",
	}
}

// send is best effort; a lost prompt just means the user re-sends.
func (m *Manager) send(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) {
	_, err := m.chat.SendMessage(ctx, chatID, text, &telegram.SendOptions{ReplyMarkup: markup})
	if err != nil {
		logging.FromContext(ctx).Warnw("onboarding prompt failed", "error", err)
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

func languageKeyboard() *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: i18n.T(i18n.EN, "buttons.lang_en", nil), CallbackData: cbLangEN},
		{Text: i18n.T(i18n.EN, "buttons.lang_he", nil), CallbackData: cbLangHE},
	}}}
}
