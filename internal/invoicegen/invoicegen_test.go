package invoicegen

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/telegram"
)

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]*database.InvoiceGenSession
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]*database.InvoiceGenSession{}}
}

func sessKey(tenantID, userID int64) string { return fmt.Sprintf("%d_%d", tenantID, userID) }

func (m *memSessions) Get(ctx context.Context, tenantID, userID int64) (*database.InvoiceGenSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessKey(tenantID, userID)]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Save(ctx context.Context, sess *database.InvoiceGenSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sess
	m.sessions[sessKey(sess.TenantID, sess.UserID)] = &cp
	return nil
}

func (m *memSessions) Delete(ctx context.Context, tenantID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessKey(tenantID, userID))
	return nil
}

type fakeGenConfigs struct {
	cfg *database.BusinessConfig
}

func (f *fakeGenConfigs) Get(ctx context.Context, tenantID int64) (*database.BusinessConfig, error) {
	if f.cfg == nil {
		return nil, nil
	}
	cp := *f.cfg
	return &cp, nil
}

// memCounter mirrors the store's transactional contract: serialized
// read-increment-write, distinct monotone numbers under concurrency.
type memCounter struct {
	mu       sync.Mutex
	counters map[int64]int64
}

func newMemCounter() *memCounter { return &memCounter{counters: map[int64]int64{}} }

func (m *memCounter) Next(ctx context.Context, tenantID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[tenantID]++
	return database.FormatInvoiceNumber(time.Now().UTC().Year(), m.counters[tenantID]), nil
}

type memInvoices struct {
	mu      sync.Mutex
	records map[string]*database.GeneratedInvoice
}

func newMemInvoices() *memInvoices {
	return &memInvoices{records: map[string]*database.GeneratedInvoice{}}
}

func (m *memInvoices) Create(ctx context.Context, inv *database.GeneratedInvoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("chat_%d_%s", inv.TenantID, inv.InvoiceNumber)
	if _, exists := m.records[id]; exists {
		return fmt.Errorf("invoice %s already exists", id)
	}
	cp := *inv
	m.records[id] = &cp
	return nil
}

type fakeGenSheets struct {
	rows [][]interface{}
}

func (f *fakeGenSheets) EnsureTab(ctx context.Context, spreadsheetID, tab string, headers []string) error {
	return nil
}

func (f *fakeGenSheets) AppendRow(ctx context.Context, spreadsheetID, tab string, row []interface{}) (string, error) {
	f.rows = append(f.rows, row)
	return fmt.Sprintf("%s!A%d", tab, len(f.rows)+1), nil
}

type fakeGenObjects struct {
	uploads map[string][]byte
}

func (f *fakeGenObjects) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	if f.uploads == nil {
		f.uploads = map[string][]byte{}
	}
	f.uploads[path] = data
	return "https://storage.test/" + path, nil
}

type fakeLogos struct {
	data []byte
}

func (f *fakeLogos) Read(ctx context.Context, path string) ([]byte, error) {
	return f.data, nil
}

type fakeGenChat struct {
	sent []string
}

func (f *fakeGenChat) SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error) {
	f.sent = append(f.sent, text)
	return &telegram.Message{MessageID: int64(len(f.sent))}, nil
}

func (f *fakeGenChat) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	return nil
}

func (f *fakeGenChat) last() string {
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fakeGenDedup struct {
	mu   sync.Mutex
	seen map[int64]bool
}

func newFakeGenDedup() *fakeGenDedup { return &fakeGenDedup{seen: map[int64]bool{}} }

func (f *fakeGenDedup) Seen(ctx context.Context, updateID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[updateID], nil
}

func (f *fakeGenDedup) Mark(ctx context.Context, updateID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[updateID] = true
	return nil
}

type fakeRenderer struct {
	html string
}

func (f *fakeRenderer) RenderPDF(ctx context.Context, html string) ([]byte, error) {
	f.html = html
	return []byte("%PDF-1.7 fake"), nil
}

type genFixture struct {
	m        *Manager
	sessions *memSessions
	counters *memCounter
	invoices *memInvoices
	sheets   *fakeGenSheets
	objects  *fakeGenObjects
	chat     *fakeGenChat
	renderer *fakeRenderer
	dedup    *fakeGenDedup
}

func newGenFixture() *genFixture {
	f := &genFixture{
		sessions: newMemSessions(),
		counters: newMemCounter(),
		invoices: newMemInvoices(),
		sheets:   &fakeGenSheets{},
		objects:  &fakeGenObjects{},
		chat:     &fakeGenChat{},
		renderer: &fakeRenderer{},
		dedup:    newFakeGenDedup(),
	}
	cfg := testConfig()
	cfg.Business.SheetID = "tenant-sheet"
	f.m = New(f.sessions, &fakeGenConfigs{cfg: cfg}, f.counters, f.invoices, f.sheets, f.objects, &fakeLogos{}, f.chat, f.renderer, f.dedup, nil)
	return f
}

func TestInvoiceGenFullFlow(t *testing.T) {
	f := newGenFixture()
	ctx := context.Background()

	require.NoError(t, f.m.HandleCommand(ctx, &queue.InvoiceCommandTask{
		Command: "invoice", TenantID: 555, UserID: 777, Username: "alice",
	}))
	// The test tenant is configured Hebrew; prompts follow.
	assert.Equal(t, i18n.T(i18n.HE, "invoicegen.select_type", nil), f.chat.last())

	require.NoError(t, f.m.HandleCallback(ctx, &queue.InvoiceCallbackTask{
		TenantID: 555, UserID: 777, CallbackID: "cb", Data: "inv:type:invoice",
	}))
	require.NoError(t, f.m.HandleMessage(ctx, &queue.InvoiceMessageTask{
		TenantID: 555, UserID: 777, Text: "Acme Ltd, 1250.50, Consulting June, 512345678",
	}))
	require.NoError(t, f.m.HandleCallback(ctx, &queue.InvoiceCallbackTask{
		TenantID: 555, UserID: 777, CallbackID: "cb", Data: "inv:pay:bank_transfer",
	}))
	assert.Contains(t, f.chat.last(), "Acme Ltd")

	require.NoError(t, f.m.HandleCallback(ctx, &queue.InvoiceCallbackTask{
		TenantID: 555, UserID: 777, CallbackID: "cb", Data: "inv:confirm",
	}))

	// Session gone, one record, one PDF, one sheet row, link in the reply.
	sess, _ := f.sessions.Get(ctx, 555, 777)
	assert.Nil(t, sess)
	require.Len(t, f.invoices.records, 1)

	year := time.Now().UTC().Year()
	number := database.FormatInvoiceNumber(year, 1)
	rec := f.invoices.records[fmt.Sprintf("chat_555_%s", number)]
	require.NotNil(t, rec)
	assert.Equal(t, "Acme Ltd", rec.Customer.Name)
	assert.Equal(t, 1250.50, rec.Amount)
	assert.Equal(t, database.PaymentBankTransfer, rec.PaymentMethod)
	assert.Equal(t, database.IssuedBy{UserID: 777, Username: "alice", TenantID: 555}, rec.GeneratedBy)

	expectPath := fmt.Sprintf("555/%d/%s.pdf", year, number)
	assert.Contains(t, f.objects.uploads, expectPath)
	require.Len(t, f.sheets.rows, 1)
	assert.Equal(t, number, f.sheets.rows[0][0])
	assert.Contains(t, f.chat.last(), rec.StorageURL)

	// Rendered document carried the escaped user input.
	assert.Contains(t, f.renderer.html, "Acme Ltd")
	assert.Contains(t, f.renderer.html, `dir="rtl"`)
}

func TestInvoiceGenRequiresConfig(t *testing.T) {
	f := newGenFixture()
	f.m.configs = &fakeGenConfigs{}

	require.NoError(t, f.m.HandleCommand(context.Background(), &queue.InvoiceCommandTask{
		Command: "invoice", TenantID: 555, UserID: 777,
	}))
	assert.Contains(t, f.chat.last(), "/onboard")
	sess, _ := f.sessions.Get(context.Background(), 555, 777)
	assert.Nil(t, sess)
}

func TestInvoiceGenCancel(t *testing.T) {
	f := newGenFixture()
	ctx := context.Background()
	require.NoError(t, f.sessions.Save(ctx, &database.InvoiceGenSession{
		TenantID: 555, UserID: 777, Status: database.GenStateAwaitingDetails,
	}))

	require.NoError(t, f.m.HandleMessage(ctx, &queue.InvoiceMessageTask{
		TenantID: 555, UserID: 777, Text: "/cancel",
	}))

	sess, _ := f.sessions.Get(ctx, 555, 777)
	assert.Nil(t, sess)
	assert.Empty(t, f.invoices.records)
}

func TestInvoiceGenStaleButtonIgnored(t *testing.T) {
	f := newGenFixture()
	ctx := context.Background()
	require.NoError(t, f.sessions.Save(ctx, &database.InvoiceGenSession{
		TenantID: 555, UserID: 777, Status: database.GenStateAwaitingDetails,
	}))

	// A confirm press while still awaiting details must not produce.
	require.NoError(t, f.m.HandleCallback(ctx, &queue.InvoiceCallbackTask{
		TenantID: 555, UserID: 777, CallbackID: "cb", Data: "inv:confirm",
	}))
	assert.Empty(t, f.invoices.records)

	sess, _ := f.sessions.Get(ctx, 555, 777)
	require.NotNil(t, sess)
	assert.Equal(t, database.GenStateAwaitingDetails, sess.Status)
}

func TestInvoiceGenExpiredSession(t *testing.T) {
	f := newGenFixture()

	require.NoError(t, f.m.HandleCallback(context.Background(), &queue.InvoiceCallbackTask{
		TenantID: 555, UserID: 777, CallbackID: "cb", Data: "inv:confirm",
	}))
	assert.Equal(t, i18n.T(i18n.HE, "invoicegen.expired", nil), f.chat.last())
}

func TestInvoiceGenInvalidAmountRepeatsPrompt(t *testing.T) {
	f := newGenFixture()
	ctx := context.Background()
	require.NoError(t, f.sessions.Save(ctx, &database.InvoiceGenSession{
		TenantID: 555, UserID: 777, Status: database.GenStateAwaitingDetails,
	}))

	require.NoError(t, f.m.HandleMessage(ctx, &queue.InvoiceMessageTask{
		TenantID: 555, UserID: 777, Text: "Acme, -5, desc",
	}))

	sess, _ := f.sessions.Get(ctx, 555, 777)
	assert.Equal(t, database.GenStateAwaitingDetails, sess.Status)
	assert.Equal(t, i18n.T(i18n.HE, "invoicegen.invalid_amount", nil), f.chat.last())
}

// A redelivered confirm press must not issue a second invoice, even when
// the duplicate delivery read the session before the first one dropped it.
func TestInvoiceGenConfirmReplayProducesOnce(t *testing.T) {
	f := newGenFixture()
	ctx := context.Background()
	sess := &database.InvoiceGenSession{
		TenantID: 555, UserID: 777, Status: database.GenStateConfirming,
		DocumentType: database.DocTypeInvoice, CustomerName: "Acme Ltd",
		Amount: "1250.5", Description: "Consulting June",
		PaymentMethod: database.PaymentBankTransfer,
	}
	require.NoError(t, f.sessions.Save(ctx, sess))

	confirm := &queue.InvoiceCallbackTask{
		UpdateID: 9001, TenantID: 555, UserID: 777, CallbackID: "cb", Data: "inv:confirm",
	}
	require.NoError(t, f.m.HandleCallback(ctx, confirm))
	require.Len(t, f.invoices.records, 1)

	// The racing delivery still finds a confirming session.
	require.NoError(t, f.sessions.Save(ctx, sess))
	require.NoError(t, f.m.HandleCallback(ctx, confirm))

	assert.Len(t, f.invoices.records, 1)
	assert.Len(t, f.objects.uploads, 1)
	assert.Len(t, f.sheets.rows, 1)
}
