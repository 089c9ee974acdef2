package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/document"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/telegram"
)

const testSecret = "hook-secret"

type fakeQueue struct {
	routes   []string
	payloads []interface{}
	failNext error
}

func (f *fakeQueue) Enqueue(ctx context.Context, route string, payload interface{}) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.routes = append(f.routes, route)
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeTenantChecker struct {
	active map[int64]bool
	err    error
	calls  int
}

func (f *fakeTenantChecker) IsActive(ctx context.Context, tenantID int64) (bool, error) {
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.active[tenantID], nil
}

type fakeOnboardingReader struct {
	sessions map[int64]*database.OnboardingSession
	err      error
}

func (f *fakeOnboardingReader) Get(ctx context.Context, tenantID int64) (*database.OnboardingSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sessions[tenantID], nil
}

type fakeGenReader struct {
	sessions map[string]*database.InvoiceGenSession
}

func (f *fakeGenReader) Get(ctx context.Context, tenantID, userID int64) (*database.InvoiceGenSession, error) {
	return f.sessions[fmt.Sprintf("%d_%d", tenantID, userID)], nil
}

type ingestFixture struct {
	srv     *Server
	queue   *fakeQueue
	tenants *fakeTenantChecker
	onboard *fakeOnboardingReader
	gen     *fakeGenReader
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		queue:   &fakeQueue{},
		tenants: &fakeTenantChecker{active: map[int64]bool{555: true}},
		onboard: &fakeOnboardingReader{sessions: map[int64]*database.OnboardingSession{}},
		gen:     &fakeGenReader{sessions: map[string]*database.InvoiceGenSession{}},
	}
	f.srv = NewServer(testSecret, f.queue, f.tenants, f.onboard, f.gen, logging.NewNop())
	return f
}

func (f *ingestFixture) post(t *testing.T, secret string, update *telegram.Update) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(update)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook/"+secret, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)
	return rec
}

func action(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	a, _ := body["action"].(string)
	return a
}

func photoUpdate(tenantID int64, size int64) *telegram.Update {
	return &telegram.Update{
		UpdateID: 9001,
		Message: &telegram.Message{
			MessageID: 42,
			From:      &telegram.User{ID: 777, Username: "dana"},
			Chat:      telegram.Chat{ID: tenantID, Type: "group", Title: "Acme"},
			Photo: []telegram.PhotoSize{
				{FileID: "small", Width: 90, Height: 90, FileSize: 1 << 10},
				{FileID: "large", Width: 1280, Height: 960, FileSize: size},
			},
		},
	}
}

func textUpdate(tenantID int64, text string) *telegram.Update {
	return &telegram.Update{
		UpdateID: 9002,
		Message: &telegram.Message{
			MessageID: 43,
			From:      &telegram.User{ID: 777},
			Chat:      telegram.Chat{ID: tenantID, Type: "group"},
			Text:      text,
		},
	}
}

func callbackUpdate(tenantID int64, data string) *telegram.Update {
	return &telegram.Update{
		UpdateID: 9003,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cbq-1",
			From: telegram.User{ID: 777},
			Message: &telegram.Message{
				MessageID: 44,
				Chat:      telegram.Chat{ID: tenantID, Type: "group"},
			},
			Data: data,
		},
	}
}

func TestWebhookWrongSecretIs404(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, "wrong", photoUpdate(555, 1<<20))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"Not found"}`, rec.Body.String())
	assert.Empty(t, f.queue.routes)
}

func TestWebhookMalformedBodyIs400(t *testing.T) {
	f := newIngestFixture()

	req := httptest.NewRequest(http.MethodPost, "/webhook/"+testSecret, bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookPhotoFromApprovedTenantEnqueues(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, testSecret, photoUpdate(555, 1<<20))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actionEnqueued, action(t, rec))
	require.Equal(t, []string{queue.RouteIngest}, f.queue.routes)

	task := f.queue.payloads[0].(*queue.IngestTask)
	assert.Equal(t, int64(555), task.TenantID)
	assert.Equal(t, int64(42), task.MessageID)
	assert.Equal(t, "large", task.FileID, "largest rendition wins")
	assert.Equal(t, "image/jpeg", task.MimeType)
	assert.Equal(t, "dana", task.UploaderUsername)
}

func TestWebhookPhotoFromUnknownTenantIgnored(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, testSecret, photoUpdate(111, 1<<20))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actionIgnored, action(t, rec))
	assert.Empty(t, f.queue.routes)
}

func TestWebhookOversizePhotoRejected(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, testSecret, photoUpdate(555, document.MaxFileSize+1))

	assert.Equal(t, http.StatusOK, rec.Code, "webhook still acks; nothing to retry")
	assert.Equal(t, actionRejectedSize, action(t, rec))
	assert.Empty(t, f.queue.routes)
}

func TestWebhookPDFDocumentEnqueues(t *testing.T) {
	f := newIngestFixture()
	u := &telegram.Update{
		Message: &telegram.Message{
			MessageID: 50,
			From:      &telegram.User{ID: 777},
			Chat:      telegram.Chat{ID: 555},
			Document: &telegram.Document{
				FileID: "doc-1", FileName: "invoice.pdf",
				MimeType: "application/pdf", FileSize: 2 << 20,
			},
		},
	}

	rec := f.post(t, testSecret, u)

	assert.Equal(t, actionEnqueued, action(t, rec))
	task := f.queue.payloads[0].(*queue.IngestTask)
	assert.Equal(t, "invoice.pdf", task.FileName)
	assert.Equal(t, "application/pdf", task.MimeType)
}

func TestWebhookUnsupportedDocumentIgnored(t *testing.T) {
	f := newIngestFixture()
	u := &telegram.Update{
		Message: &telegram.Message{
			From: &telegram.User{ID: 777},
			Chat: telegram.Chat{ID: 555},
			Document: &telegram.Document{
				FileID: "doc-2", FileName: "notes.docx",
				MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			},
		},
	}

	rec := f.post(t, testSecret, u)

	assert.Equal(t, actionIgnored, action(t, rec))
	assert.Empty(t, f.queue.routes)
}

func TestWebhookOnboardCommandAlwaysEnqueues(t *testing.T) {
	f := newIngestFixture()

	// Unknown tenant: admission happens in the worker, not here.
	rec := f.post(t, testSecret, textUpdate(111, "/onboard INV-A23XYZ"))

	assert.Equal(t, actionEnqueued, action(t, rec))
	require.Equal(t, []string{queue.RouteOnboard}, f.queue.routes)
	task := f.queue.payloads[0].(*queue.OnboardCommandTask)
	assert.Equal(t, "INV-A23XYZ", task.Arg)
}

func TestWebhookInvoiceCommandGatedOnApproval(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, testSecret, textUpdate(111, "/invoice"))
	assert.Equal(t, actionIgnoredCommand, action(t, rec))
	assert.Empty(t, f.queue.routes)

	rec = f.post(t, testSecret, textUpdate(555, "/invoice"))
	assert.Equal(t, actionEnqueued, action(t, rec))
	require.Equal(t, []string{queue.RouteInvoiceCommand}, f.queue.routes)
	task := f.queue.payloads[0].(*queue.InvoiceCommandTask)
	assert.Equal(t, "invoice", task.Command)
}

func TestWebhookReportCommand(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, testSecret, textUpdate(555, "/report@kvitly_bot"))

	assert.Equal(t, actionEnqueued, action(t, rec))
	task := f.queue.payloads[0].(*queue.InvoiceCommandTask)
	assert.Equal(t, "report", task.Command)
}

func TestWebhookTextRoutesToActiveOnboarding(t *testing.T) {
	f := newIngestFixture()
	f.onboard.sessions[555] = &database.OnboardingSession{TenantID: 555, Active: true}

	rec := f.post(t, testSecret, textUpdate(555, "Acme Consulting Ltd"))

	assert.Equal(t, actionEnqueued, action(t, rec))
	require.Equal(t, []string{queue.RouteOnboardMessage}, f.queue.routes)
	task := f.queue.payloads[0].(*queue.OnboardMessageTask)
	assert.Equal(t, "Acme Consulting Ltd", task.Text)
}

func TestWebhookTextRoutesToActiveGenSession(t *testing.T) {
	f := newIngestFixture()
	f.gen.sessions["555_777"] = &database.InvoiceGenSession{TenantID: 555, UserID: 777}

	rec := f.post(t, testSecret, textUpdate(555, "Acme, 100, consulting"))

	assert.Equal(t, actionEnqueued, action(t, rec))
	require.Equal(t, []string{queue.RouteInvoiceMessage}, f.queue.routes)
}

func TestWebhookBareTextIgnored(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, testSecret, textUpdate(555, "hello there"))

	assert.Equal(t, actionIgnored, action(t, rec))
	assert.Empty(t, f.queue.routes)
}

func TestWebhookCallbackDispatch(t *testing.T) {
	f := newIngestFixture()

	cases := []struct {
		data  string
		route string
	}{
		{"dup:keep_both:555_42", queue.RouteCallback},
		{"inv:confirm", queue.RouteInvoiceCallback},
		{"onb:lang:he", queue.RouteOnboardMessage},
	}
	for _, tc := range cases {
		f.queue.routes = nil
		rec := f.post(t, testSecret, callbackUpdate(555, tc.data))
		assert.Equal(t, actionCallbackEnqueued, action(t, rec), tc.data)
		assert.Equal(t, []string{tc.route}, f.queue.routes, tc.data)
	}
}

func TestWebhookUnknownCallbackIgnored(t *testing.T) {
	f := newIngestFixture()

	rec := f.post(t, testSecret, callbackUpdate(555, "legacy:whatever"))

	assert.Equal(t, actionIgnored, action(t, rec))
	assert.Empty(t, f.queue.routes)
}

func TestWebhookEnqueueFailureIs500(t *testing.T) {
	f := newIngestFixture()
	f.queue.failNext = errors.New("tasks unavailable")

	rec := f.post(t, testSecret, photoUpdate(555, 1<<20))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTenantApprovalCached(t *testing.T) {
	f := newIngestFixture()

	f.post(t, testSecret, photoUpdate(555, 1<<20))
	f.post(t, testSecret, photoUpdate(555, 1<<20))

	assert.Equal(t, 1, f.tenants.calls, "second check served from cache")
}

func TestTenantCheckFailureFailsSafe(t *testing.T) {
	f := newIngestFixture()
	f.tenants.err = errors.New("store down")

	rec := f.post(t, testSecret, photoUpdate(555, 1<<20))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, actionIgnored, action(t, rec))
	assert.Empty(t, f.queue.routes)
}

func TestWebhookOnboardingPhotoRoutesToLogoStep(t *testing.T) {
	f := newIngestFixture()
	f.onboard.sessions[555] = &database.OnboardingSession{TenantID: 555, Active: true}

	rec := f.post(t, testSecret, photoUpdate(555, 1<<20))

	assert.Equal(t, actionEnqueued, action(t, rec))
	require.Equal(t, []string{queue.RouteOnboardPhoto}, f.queue.routes)
}

func TestHealthEndpoint(t *testing.T) {
	f := newIngestFixture()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ingest", body["service"])
}
