package onboarding

import (
	"context"
	"strings"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/telegram"
)

// HandleMessage advances the session with either a text message or an
// inline-button callback (task.Data non-empty). Invalid input repeats the
// step prompt with a field-specific error; the step never advances on bad
// input.
func (m *Manager) HandleMessage(ctx context.Context, task *queue.OnboardMessageTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID)
	ctx = logging.WithLogger(ctx, log)
	defer m.answer(ctx, task.CallbackID)

	sess, err := m.sessions.Get(ctx, task.TenantID)
	if err != nil {
		return err
	}
	if sess == nil || !sess.Active {
		return nil
	}
	lang := i18n.Normalize(sess.Language)

	text := strings.TrimSpace(task.Text)
	if text == "/cancel" || strings.HasPrefix(text, "/cancel@") {
		return m.Cancel(ctx, task.TenantID)
	}

	switch sess.Step {
	case database.OnboardStepLanguage:
		return m.stepLanguage(ctx, sess, task.Data)
	case database.OnboardStepBusinessName:
		return m.stepBusinessName(ctx, sess, text, lang)
	case database.OnboardStepOwnerDetails:
		return m.stepOwnerDetails(ctx, sess, text, lang)
	case database.OnboardStepAddress:
		return m.stepAddress(ctx, sess, text, lang)
	case database.OnboardStepTaxStatus:
		return m.stepTaxStatus(ctx, sess, task.Data, lang)
	case database.OnboardStepLogo:
		return m.stepLogo(ctx, sess, text, task.Data, lang)
	case database.OnboardStepSheet:
		return m.stepSheet(ctx, sess, text, lang)
	case database.OnboardStepCounter:
		return m.stepCounter(ctx, sess, text, task.Data, lang)
	default:
		log.Warnw("session in unknown step", "step", sess.Step)
		return nil
	}
}

func (m *Manager) stepLanguage(ctx context.Context, sess *database.OnboardingSession, data string) error {
	switch data {
	case cbLangEN:
		sess.Language = "en"
	case cbLangHE:
		sess.Language = "he"
	default:
		m.send(ctx, sess.TenantID, i18n.T(i18n.EN, "onboarding.ask_language", nil), languageKeyboard())
		return nil
	}
	lang := i18n.Normalize(sess.Language)
	sess.Step = database.OnboardStepBusinessName
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_business_name", nil), nil)
	return nil
}

func (m *Manager) stepBusinessName(ctx context.Context, sess *database.OnboardingSession, text string, lang i18n.Lang) error {
	if !ValidBusinessName(text) {
		m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.invalid_business_name", nil), nil)
		return nil
	}
	sess.Data["businessName"] = text
	sess.Step = database.OnboardStepOwnerDetails
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_owner_details", nil), nil)
	return nil
}

func (m *Manager) stepOwnerDetails(ctx context.Context, sess *database.OnboardingSession, text string, lang i18n.Lang) error {
	details, errKey := ParseOwnerDetails(text)
	if errKey != "" {
		m.send(ctx, sess.TenantID, i18n.T(lang, errKey, nil), nil)
		return nil
	}
	sess.Data["ownerName"] = details.Name
	sess.Data["taxId"] = details.TaxID
	sess.Data["phone"] = details.Phone
	sess.Data["email"] = details.Email
	sess.Step = database.OnboardStepAddress
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_address", nil), nil)
	return nil
}

func (m *Manager) stepAddress(ctx context.Context, sess *database.OnboardingSession, text string, lang i18n.Lang) error {
	if text == "" {
		m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.invalid_address", nil), nil)
		return nil
	}
	sess.Data["address"] = text
	sess.Step = database.OnboardStepTaxStatus
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_tax_status", nil), taxStatusKeyboard(lang))
	return nil
}

func (m *Manager) stepTaxStatus(ctx context.Context, sess *database.OnboardingSession, data string, lang i18n.Lang) error {
	switch data {
	case cbTaxLicensed:
		sess.Data["taxStatus"] = database.TaxStatusLicensed
	case cbTaxExempt:
		sess.Data["taxStatus"] = database.TaxStatusExempt
	default:
		m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_tax_status", nil), taxStatusKeyboard(lang))
		return nil
	}
	sess.Step = database.OnboardStepLogo
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_logo", nil), skipKeyboard(lang))
	return nil
}

// stepLogo only handles /skip here; actual logo bytes arrive through
// HandlePhoto.
func (m *Manager) stepLogo(ctx context.Context, sess *database.OnboardingSession, text, data string, lang i18n.Lang) error {
	if data == cbSkipLogo || text == "/skip" || strings.HasPrefix(text, "/skip@") {
		return m.advanceToSheet(ctx, sess, lang)
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.invalid_logo", nil), skipKeyboard(lang))
	return nil
}

func (m *Manager) stepSheet(ctx context.Context, sess *database.OnboardingSession, text string, lang i18n.Lang) error {
	sheetID := ExtractSpreadsheetID(text)
	if sheetID == "" {
		m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.sheet_error", map[string]string{
			"serviceAccount": m.serviceEmail,
		}), nil)
		return nil
	}
	tabs, err := m.sheets.ListTabs(ctx, sheetID)
	if err != nil {
		// Unreadable means not shared (or a typo); either way the user
		// fixes it, not the queue.
		logging.FromContext(ctx).Infow("spreadsheet not accessible", "sheet_id", sheetID, "error", err)
		m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.sheet_error", map[string]string{
			"serviceAccount": m.serviceEmail,
		}), nil)
		return nil
	}
	sess.Data["sheetId"] = sheetID
	sess.Step = database.OnboardStepCounter
	if err := m.sessions.Save(ctx, sess); err != nil {
		return err
	}
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.sheet_ok", map[string]string{
		"tabs": strings.Join(tabs, ", "),
	}), nil)
	m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.ask_counter", nil), counterKeyboard(lang))
	return nil
}

func (m *Manager) stepCounter(ctx context.Context, sess *database.OnboardingSession, text, data string, lang i18n.Lang) error {
	var seed int64
	switch {
	case data == cbCounterOne:
		seed = 1
	case text != "":
		n, ok := ParseCounterSeed(text)
		if !ok {
			m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.invalid_counter", nil), counterKeyboard(lang))
			return nil
		}
		seed = n
	default:
		m.send(ctx, sess.TenantID, i18n.T(lang, "onboarding.invalid_counter", nil), counterKeyboard(lang))
		return nil
	}
	return m.finish(ctx, sess, seed, lang)
}

func taxStatusKeyboard(lang i18n.Lang) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: i18n.T(lang, "buttons.tax_licensed", nil), CallbackData: cbTaxLicensed},
		{Text: i18n.T(lang, "buttons.tax_exempt", nil), CallbackData: cbTaxExempt},
	}}}
}

func skipKeyboard(lang i18n.Lang) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: i18n.T(lang, "buttons.skip", nil), CallbackData: cbSkipLogo},
	}}}
}

func counterKeyboard(lang i18n.Lang) *telegram.InlineKeyboardMarkup {
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: i18n.T(lang, "buttons.start_from_1", nil), CallbackData: cbCounterOne},
	}}}
}
