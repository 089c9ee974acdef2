package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/llm"
	"github.com/kvitly/backend/internal/telegram"
)

// fakeJobs reimplements the job store's claim and transition semantics in
// memory so orchestrator behavior is testable without Firestore.
type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*database.IngestJob

	failDuplicate error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[string]*database.IngestJob{}}
}

func (f *fakeJobs) get(id string) *database.IngestJob { return f.jobs[id] }

func (f *fakeJobs) Claim(ctx context.Context, seed *database.IngestJob) (*database.IngestJob, database.ClaimOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := database.DocID(seed.TenantID, seed.MessageID)
	job, exists := f.jobs[id]
	if !exists {
		now := time.Now().UTC()
		j := *seed
		j.ID = id
		j.Status = database.StatusProcessing
		j.Attempts = 1
		j.CreatedAt = now
		j.UpdatedAt = now
		f.jobs[id] = &j
		cp := j
		return &cp, database.ClaimNew, nil
	}
	switch {
	case job.Status.IsTerminal():
		cp := *job
		return &cp, database.ClaimAlreadyDone, nil
	case job.Status == database.StatusPendingDecision:
		cp := *job
		return &cp, database.ClaimBusy, nil
	case job.Status == database.StatusProcessing && time.Since(job.UpdatedAt) < 10*time.Minute:
		cp := *job
		return &cp, database.ClaimBusy, nil
	default:
		job.Status = database.StatusProcessing
		job.Attempts++
		job.UpdatedAt = time.Now().UTC()
		cp := *job
		return &cp, database.ClaimReclaimed, nil
	}
}

func (f *fakeJobs) Get(ctx context.Context, id string) (*database.IngestJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) SetUploadResult(ctx context.Context, id, path, link string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Result.DriveFileID = path
	f.jobs[id].Result.DriveLink = link
	return nil
}

func (f *fakeJobs) ClearUploadResult(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Result.DriveFileID = ""
	f.jobs[id].Result.DriveLink = ""
	return nil
}

func (f *fakeJobs) SetExtraction(ctx context.Context, id string, ext *database.Extraction, d *database.JobDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Extraction = ext
	f.jobs[id].Decision.Provider = d.Provider
	f.jobs[id].Decision.CostUSD = d.CostUSD
	return nil
}

func (f *fakeJobs) setStatus(id string, st database.JobStatus, lastStep string) {
	f.jobs[id].Status = st
	f.jobs[id].Progress.LastStep = lastStep
	f.jobs[id].UpdatedAt = time.Now().UTC()
}

func (f *fakeJobs) MarkProcessed(ctx context.Context, id, sheetRowID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Result.SheetRowID = sheetRowID
	f.setStatus(id, database.StatusProcessed, database.StepSheets)
	return nil
}

func (f *fakeJobs) MarkResolved(ctx context.Context, id, resolution, sheetRowID string, clearUpload bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job := f.jobs[id]
	if job.Status != database.StatusPendingDecision {
		return fmt.Errorf("illegal transition %s -> processed", job.Status)
	}
	job.Decision.Resolution = resolution
	if sheetRowID != "" {
		job.Result.SheetRowID = sheetRowID
	}
	if clearUpload {
		job.Result.DriveFileID = ""
		job.Result.DriveLink = ""
	}
	f.setStatus(id, database.StatusProcessed, database.StepAck)
	return nil
}

func (f *fakeJobs) MarkPendingRetry(ctx context.Context, id, lastStep, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Progress.LastError = cause
	f.setStatus(id, database.StatusPendingRetry, lastStep)
	return nil
}

func (f *fakeJobs) MarkFailed(ctx context.Context, id, lastStep, cause string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Progress.LastError = cause
	f.setStatus(id, database.StatusFailed, lastStep)
	return nil
}

func (f *fakeJobs) MarkRejected(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Progress.LastError = reason
	f.setStatus(id, database.StatusRejected, database.StepRejected)
	return nil
}

func (f *fakeJobs) MarkPendingDecision(ctx context.Context, id, duplicateOfID string, warningMessageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[id].Decision.DuplicateOfJobID = duplicateOfID
	f.jobs[id].Decision.WarningMessageID = warningMessageID
	f.setStatus(id, database.StatusPendingDecision, database.StepLLM)
	return nil
}

func (f *fakeJobs) FindDuplicate(ctx context.Context, tenantID int64, excludeID, vendor string, amount float64, invoiceDate string) (*database.IngestJob, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDuplicate != nil {
		return nil, "", f.failDuplicate
	}
	for _, j := range f.jobs {
		if j.ID == excludeID || j.TenantID != tenantID || j.Status != database.StatusProcessed || j.Extraction == nil {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(j.Extraction.VendorName), strings.TrimSpace(vendor)) {
			continue
		}
		if j.Extraction.TotalAmount == nil || *j.Extraction.TotalAmount != amount {
			continue
		}
		kind := database.MatchSimilar
		if invoiceDate != "" && j.Extraction.InvoiceDate != "" {
			if j.Extraction.InvoiceDate != invoiceDate {
				continue
			}
			kind = database.MatchExact
		}
		cp := *j
		return &cp, kind, nil
	}
	return nil, "", nil
}

// fakeObjects is an in-memory bucket that tracks deletions.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failPut error
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (f *fakeObjects) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != nil {
		return "", f.failPut
	}
	f.objects[path] = data
	return "https://storage.test/" + path, nil
}

func (f *fakeObjects) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func (f *fakeObjects) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

// fakeChat records outbound traffic and serves a canned download. A
// non-nil failSend fails the next SendMessage once, then clears.
type fakeChat struct {
	mu       sync.Mutex
	sent     []sentMessage
	edits    []string
	answers  []string
	fileData []byte
	nextID   int64
	failSend error
}

type sentMessage struct {
	chatID int64
	text   string
	opts   *telegram.SendOptions
}

func (f *fakeChat) SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend != nil {
		err := f.failSend
		f.failSend = nil
		return nil, err
	}
	f.nextID++
	f.sent = append(f.sent, sentMessage{chatID, text, opts})
	return &telegram.Message{MessageID: 1000 + f.nextID}, nil
}

func (f *fakeChat) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeChat) AnswerCallbackQuery(ctx context.Context, callbackID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackID)
	return nil
}

func (f *fakeChat) GetFile(ctx context.Context, fileID string) (*telegram.File, error) {
	return &telegram.File{FileID: fileID, FilePath: "photos/" + fileID + ".jpg"}, nil
}

func (f *fakeChat) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	return f.fileData, nil
}

func (f *fakeChat) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.text
	}
	return out
}

// fakeExtractor returns a fixed answer and counts invocations.
type fakeExtractor struct {
	mu     sync.Mutex
	fields llm.Fields
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(ctx context.Context, images [][]byte, mimeHint string) (*llm.Fields, *llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	cp := f.fields
	return &cp, &llm.Usage{Provider: "fake", InputTokens: 10, OutputTokens: 5, CostUSD: 0.001}, nil
}

// fakeSheets records appended rows; failures can be armed per call count.
type fakeSheets struct {
	mu        sync.Mutex
	rows      map[string][][]interface{} // spreadsheetID -> rows
	failNext  int
	failErr   error
	appendOps int
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{rows: map[string][][]interface{}{}}
}

func (f *fakeSheets) EnsureTab(ctx context.Context, spreadsheetID, tab string, headers []string) error {
	return nil
}

func (f *fakeSheets) AppendRow(ctx context.Context, spreadsheetID, tab string, row []interface{}) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendOps++
	if f.failNext > 0 {
		f.failNext--
		return "", f.failErr
	}
	f.rows[spreadsheetID] = append(f.rows[spreadsheetID], row)
	return fmt.Sprintf("%s!A%d", tab, len(f.rows[spreadsheetID])+1), nil
}

func (f *fakeSheets) totalRows() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rows := range f.rows {
		n += len(rows)
	}
	return n
}

// fakeConfigs serves one config for all tenants (or none).
type fakeConfigs struct {
	cfg *database.BusinessConfig
}

func (f *fakeConfigs) Get(ctx context.Context, tenantID int64) (*database.BusinessConfig, error) {
	if f.cfg == nil || f.cfg.TenantID != tenantID {
		return nil, nil
	}
	cp := *f.cfg
	return &cp, nil
}

// fakeDedup is the callback replay guard.
type fakeDedup struct {
	mu   sync.Mutex
	seen map[int64]bool
}

func newFakeDedup() *fakeDedup { return &fakeDedup{seen: map[int64]bool{}} }

func (f *fakeDedup) Seen(ctx context.Context, updateID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[updateID], nil
}

func (f *fakeDedup) Mark(ctx context.Context, updateID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[updateID] = true
	return nil
}
