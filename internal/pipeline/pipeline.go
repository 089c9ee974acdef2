package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/document"
	"github.com/kvitly/backend/internal/events"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/sanitize"
	"github.com/kvitly/backend/internal/sheets"
	"github.com/kvitly/backend/internal/telegram"
)

// StepError is how steps report failure to the orchestrator. Terminal
// means the step already moved the job to a terminal state and told the
// user; the task must return 2xx so the queue stops. Anything else is
// transient and goes to pending_retry.
type StepError struct {
	Step     string
	Err      error
	Terminal bool
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pipeline: step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func transient(step string, err error) *StepError {
	return &StepError{Step: step, Err: err}
}

func terminal(step string, err error) *StepError {
	return &StepError{Step: step, Err: err, Terminal: true}
}

// runOutcome says how a completed run ended.
type runOutcome int

const (
	ranProcessed runOutcome = iota
	ranParked               // duplicate found, waiting on user decision
	ranRejected             // not an invoice
)

type Pipeline struct {
	jobs      JobStore
	configs   ConfigStore
	chat      Chat
	objects   ObjectStore
	sheets    SheetClient
	extractor Extractor
	dedup     DedupStore
	publisher *events.Publisher
	metrics   *Metrics

	adminSheetID string
}

func New(jobs JobStore, configs ConfigStore, chat Chat, objects ObjectStore, sheetClient SheetClient, extractor Extractor, dedup DedupStore, publisher *events.Publisher, metrics *Metrics, adminSheetID string) *Pipeline {
	return &Pipeline{
		jobs:         jobs,
		configs:      configs,
		chat:         chat,
		objects:      objects,
		sheets:       sheetClient,
		extractor:    extractor,
		dedup:        dedup,
		publisher:    publisher,
		metrics:      metrics,
		adminSheetID: adminSheetID,
	}
}

// Process runs one ingest task end to end. A nil return tells the queue
// the task is done (success or terminal policy outcome); a non-nil return
// asks for redelivery. finalAttempt marks the queue's last allowed
// delivery: instead of parking for a retry that will never come, the job
// fails and the user hears about it.
func (p *Pipeline) Process(ctx context.Context, task *queue.IngestTask, finalAttempt bool) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID, "message_id", task.MessageID)
	ctx = logging.WithLogger(ctx, log)

	job, outcome, err := p.jobs.Claim(ctx, &database.IngestJob{
		TenantID:   task.TenantID,
		MessageID:  task.MessageID,
		ReceivedAt: task.ReceivedAt,
		Source: database.JobSource{
			FileID:            task.FileID,
			ChatTitle:         task.ChatTitle,
			UploaderUsername:  task.UploaderUsername,
			UploaderFirstName: task.UploaderFirstName,
		},
	})
	if err != nil {
		return fmt.Errorf("pipeline: claim: %w", err)
	}

	switch outcome {
	case database.ClaimAlreadyDone:
		log.Infow("job already finished, skipping", "job_id", job.ID, "status", job.Status)
		p.metrics.outcome("already_done")
		return nil
	case database.ClaimBusy:
		log.Infow("job held elsewhere, skipping", "job_id", job.ID, "status", job.Status)
		p.metrics.outcome("busy")
		return nil
	}
	log = log.With("job_id", job.ID, "attempt", job.Attempts)
	ctx = logging.WithLogger(ctx, log)

	lang := p.tenantLang(ctx, task.TenantID)

	ran, serr := p.run(ctx, job, task, lang)
	if serr == nil {
		switch ran {
		case ranProcessed:
			p.metrics.outcome("processed")
			p.publisher.Publish(ctx, events.JobProcessed, job.TenantID, job.ID)
		case ranParked:
			p.metrics.outcome("duplicate_parked")
		case ranRejected:
			p.metrics.outcome("rejected")
			p.publisher.Publish(ctx, events.JobRejected, job.TenantID, job.ID)
		}
		return nil
	}

	if serr.Terminal {
		log.Infow("job terminated by policy", "step", serr.Step, "reason", serr.Err)
		p.metrics.outcome("failed")
		p.publisher.Publish(ctx, events.JobFailed, job.TenantID, job.ID)
		return nil
	}

	if finalAttempt {
		log.Errorw("job failed on final attempt", "step", serr.Step, "error", serr.Err)
		if err := p.jobs.MarkFailed(ctx, job.ID, serr.Step, serr.Err.Error()); err != nil {
			log.Errorw("mark failed after exhaustion", "error", err)
		}
		p.reply(ctx, job, i18n.T(lang, "pipeline.failed_retries", nil))
		p.metrics.outcome("failed")
		p.publisher.Publish(ctx, events.JobFailed, job.TenantID, job.ID)
		return nil
	}

	log.Warnw("job parked for retry", "step", serr.Step, "error", serr.Err)
	if err := p.jobs.MarkPendingRetry(ctx, job.ID, serr.Step, serr.Err.Error()); err != nil {
		log.Errorw("mark pending_retry", "error", err)
	}
	p.metrics.outcome("pending_retry")
	return serr
}

// run executes the step sequence, skipping side effects the job document
// already records from a previous attempt.
func (p *Pipeline) run(ctx context.Context, job *database.IngestJob, task *queue.IngestTask, lang i18n.Lang) (runOutcome, *StepError) {
	needUpload := job.Result.DriveFileID == ""
	needExtract := job.Extraction == nil

	var data []byte
	var kind document.Kind
	if needUpload || needExtract {
		var serr *StepError
		data, kind, serr = p.download(ctx, job, task, lang)
		if serr != nil {
			return 0, serr
		}
	}

	if needUpload {
		if serr := p.upload(ctx, job, data, kind); serr != nil {
			return 0, serr
		}
	}

	if needExtract {
		if serr := p.extract(ctx, job, data, kind, lang); serr != nil {
			return 0, serr
		}
	}

	if !job.Extraction.IsInvoice {
		return p.rejectNotInvoice(ctx, job, lang)
	}

	if parked, serr := p.checkDuplicate(ctx, job, lang); serr != nil {
		return 0, serr
	} else if parked {
		return ranParked, nil
	}

	rowID, serr := p.appendRows(ctx, job)
	if serr != nil {
		return 0, serr
	}

	return ranProcessed, p.acknowledge(ctx, job, rowID, lang)
}

// download fetches the original bytes and applies the policy checks that
// need no model: size, PDF encryption, PDF page count.
func (p *Pipeline) download(ctx context.Context, job *database.IngestJob, task *queue.IngestTask, lang i18n.Lang) ([]byte, document.Kind, *StepError) {
	start := time.Now()
	defer func() { p.metrics.observeStep(database.StepDownload, time.Since(start).Seconds()) }()

	f, err := p.chat.GetFile(ctx, job.Source.FileID)
	if err != nil {
		return nil, 0, transient(database.StepDownload, err)
	}
	data, err := p.chat.DownloadFile(ctx, f.FilePath)
	if err != nil {
		return nil, 0, transient(database.StepDownload, err)
	}
	if len(data) > document.MaxFileSize {
		return nil, 0, p.failPolicy(ctx, job, database.StepDownload,
			fmt.Errorf("file size %d exceeds limit", len(data)),
			i18n.T(lang, "pipeline.unreadable", nil))
	}

	kind := document.Classify(data, task.FileName)
	if kind == document.KindUnknown {
		return nil, 0, p.failPolicy(ctx, job, database.StepDownload,
			fmt.Errorf("unsupported file type %q", task.FileName),
			i18n.T(lang, "pipeline.unreadable", nil))
	}

	if kind == document.KindPDF {
		info, err := document.InspectPDF(data)
		if err != nil {
			return nil, 0, p.failPolicy(ctx, job, database.StepDownload, err,
				i18n.T(lang, "pipeline.unreadable", nil))
		}
		if info.Encrypted {
			return nil, 0, p.failPolicy(ctx, job, database.StepDownload,
				fmt.Errorf("pdf is password-protected"),
				i18n.T(lang, "pipeline.encrypted_pdf", nil))
		}
		if info.Pages == 0 {
			return nil, 0, p.failPolicy(ctx, job, database.StepDownload,
				fmt.Errorf("pdf has no pages"),
				i18n.T(lang, "pipeline.unreadable", nil))
		}
		if info.Pages > document.MaxPDFPages {
			return nil, 0, p.failPolicy(ctx, job, database.StepDownload,
				fmt.Errorf("pdf has %d pages, max %d", info.Pages, document.MaxPDFPages),
				i18n.T(lang, "pipeline.page_limit", map[string]string{
					"pages": fmt.Sprintf("%d", info.Pages),
					"max":   fmt.Sprintf("%d", document.MaxPDFPages),
				}))
		}
	}
	return data, kind, nil
}

// upload stores the original bytes, never the intermediary images. The
// per-tenant prefix is the isolation invariant.
func (p *Pipeline) upload(ctx context.Context, job *database.IngestJob, data []byte, kind document.Kind) *StepError {
	start := time.Now()
	defer func() { p.metrics.observeStep(database.StepDrive, time.Since(start).Seconds()) }()

	now := time.Now().UTC()
	path := fmt.Sprintf("invoices/%d/%04d/%02d/invoice_%d_%d_%d.%s",
		job.TenantID, now.Year(), int(now.Month()),
		job.TenantID, job.MessageID, now.UnixMilli(), kind.Ext())

	link, err := p.objects.Upload(ctx, path, data, kind.ContentType())
	if err != nil {
		return transient(database.StepDrive, err)
	}
	if err := p.jobs.SetUploadResult(ctx, job.ID, path, link); err != nil {
		// The object is orphaned if we lose the pointer; remove it so the
		// retry starts clean.
		_ = p.objects.Delete(ctx, path)
		return transient(database.StepDrive, err)
	}
	job.Result.DriveFileID = path
	job.Result.DriveLink = link
	return nil
}

// extract turns the document into model input, runs the extraction, and
// persists the sanitized result with its cost.
func (p *Pipeline) extract(ctx context.Context, job *database.IngestJob, data []byte, kind document.Kind, lang i18n.Lang) *StepError {
	start := time.Now()
	defer func() { p.metrics.observeStep(database.StepLLM, time.Since(start).Seconds()) }()

	var images [][]byte
	switch kind {
	case document.KindPDF:
		pages, err := document.RasterizePDF(data, document.MaxPDFPages)
		if err != nil {
			return p.failPolicy(ctx, job, database.StepLLM, err, i18n.T(lang, "pipeline.unreadable", nil))
		}
		images = pages
	case document.KindHEIC:
		jpg, err := document.ConvertHEIC(data)
		if err != nil {
			return p.failPolicy(ctx, job, database.StepLLM, err, i18n.T(lang, "pipeline.unreadable", nil))
		}
		images = [][]byte{jpg}
	default:
		images = [][]byte{data}
	}

	fields, usage, err := p.extractor.Extract(ctx, images, "image/jpeg")
	if err != nil {
		return transient(database.StepLLM, err)
	}
	if tainted := sanitize.Clean(fields); tainted {
		logging.FromContext(ctx).Warnw("suspicious content nullified in extraction", "job_id", job.ID)
	}

	ext := &database.Extraction{
		IsInvoice:       fields.IsInvoice,
		RejectionReason: fields.RejectionReason,
		VendorName:      fields.VendorName,
		InvoiceNumber:   fields.InvoiceNumber,
		InvoiceDate:     fields.InvoiceDate,
		TotalAmount:     fields.TotalAmount,
		Currency:        fields.Currency,
		VATAmount:       fields.VATAmount,
		Confidence:      fields.Confidence,
		Category:        fields.Category,
	}
	dec := &database.JobDecision{
		Provider:     usage.Provider,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		CostUSD:      usage.CostUSD,
	}
	if err := p.jobs.SetExtraction(ctx, job.ID, ext, dec); err != nil {
		return transient(database.StepLLM, err)
	}
	p.metrics.addCost(usage.Provider, usage.CostUSD)
	job.Extraction = ext
	job.Decision.Provider = dec.Provider
	job.Decision.InputTokens = dec.InputTokens
	job.Decision.OutputTokens = dec.OutputTokens
	job.Decision.CostUSD = dec.CostUSD
	return nil
}

// rejectNotInvoice handles isInvoice=false: the upload is deleted, the
// user sees the (escaped) model reason, and the job terminates rejected.
func (p *Pipeline) rejectNotInvoice(ctx context.Context, job *database.IngestJob, lang i18n.Lang) (runOutcome, *StepError) {
	if err := p.deleteUpload(ctx, job); err != nil {
		return 0, transient(database.StepRejected, err)
	}
	reason := job.Extraction.RejectionReason
	if reason == "" {
		reason = "unrecognized document"
	}
	if err := p.jobs.MarkRejected(ctx, job.ID, reason); err != nil {
		return 0, transient(database.StepRejected, err)
	}
	p.reply(ctx, job, i18n.T(lang, "pipeline.not_invoice", map[string]string{
		"reason": i18n.EscapeMarkdown(reason),
	}))
	return ranRejected, nil
}

// checkDuplicate parks the job on a warning message when a prior
// processed job matches. Lookup failures never block the pipeline.
func (p *Pipeline) checkDuplicate(ctx context.Context, job *database.IngestJob, lang i18n.Lang) (bool, *StepError) {
	e := job.Extraction
	if e.TotalAmount == nil || e.VendorName == "" {
		return false, nil
	}

	dup, matchKind, err := p.jobs.FindDuplicate(ctx, job.TenantID, job.ID, e.VendorName, *e.TotalAmount, e.InvoiceDate)
	if err != nil {
		logging.FromContext(ctx).Warnw("duplicate lookup failed, continuing", "error", err)
		return false, nil
	}
	if dup == nil {
		return false, nil
	}
	logging.FromContext(ctx).Infow("duplicate candidate found", "duplicate_of", dup.ID, "match", matchKind)

	text := i18n.T(lang, "pipeline.duplicate_warning", map[string]string{
		"vendor":   i18n.EscapeMarkdown(e.VendorName),
		"amount":   fmt.Sprintf("%.2f", *e.TotalAmount),
		"currency": e.Currency,
		"date":     e.InvoiceDate,
	})
	markup := &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: i18n.T(lang, "buttons.keep_both", nil), CallbackData: "dup:" + database.ResolutionKeepBoth + ":" + job.ID},
		{Text: i18n.T(lang, "buttons.delete_new", nil), CallbackData: "dup:" + database.ResolutionDeleteNew + ":" + job.ID},
	}}}

	sent, err := p.chat.SendMessage(ctx, job.TenantID, text, &telegram.SendOptions{
		ReplyToMessageID: job.MessageID,
		ReplyMarkup:      markup,
	})
	if err != nil {
		return false, transient(database.StepDuplicate, err)
	}
	if err := p.jobs.MarkPendingDecision(ctx, job.ID, dup.ID, sent.MessageID); err != nil {
		return false, transient(database.StepDuplicate, err)
	}
	return true, nil
}

// appendRows writes the spreadsheet row(s). The tenant's own sheet is the
// transactional append: if it fails, the uploaded original is deleted so
// the observable state is "nothing happened" before the retry.
func (p *Pipeline) appendRows(ctx context.Context, job *database.IngestJob) (string, *StepError) {
	start := time.Now()
	defer func() { p.metrics.observeStep(database.StepSheets, time.Since(start).Seconds()) }()

	rowID, err := p.appendInvoiceRow(ctx, job)
	if err != nil {
		return "", p.rollbackAppend(ctx, job, err)
	}
	return rowID, nil
}

// appendInvoiceRow appends to the tenant's sheet when one is configured,
// otherwise to the admin sheet. When the tenant has their own sheet, the
// admin sheet additionally gets an audit copy whose failures are logged
// and swallowed.
func (p *Pipeline) appendInvoiceRow(ctx context.Context, job *database.IngestJob) (string, error) {
	log := logging.FromContext(ctx)

	cfg, err := p.configs.Get(ctx, job.TenantID)
	if err != nil {
		return "", err
	}

	primaryID := p.adminSheetID
	primaryRow := sheets.AdminInvoiceRow(job)
	primaryHeaders := sheets.AdminInvoiceHeaders
	if cfg != nil && cfg.Business.SheetID != "" {
		primaryID = cfg.Business.SheetID
		primaryRow = sheets.InvoiceRow(job)
		primaryHeaders = sheets.InvoiceHeaders
	}

	if err := p.sheets.EnsureTab(ctx, primaryID, sheets.TabInvoices, primaryHeaders); err != nil {
		return "", err
	}
	rowID, err := p.sheets.AppendRow(ctx, primaryID, sheets.TabInvoices, primaryRow)
	if err != nil {
		return "", err
	}

	if primaryID != p.adminSheetID && p.adminSheetID != "" {
		if err := p.sheets.EnsureTab(ctx, p.adminSheetID, sheets.TabInvoices, sheets.AdminInvoiceHeaders); err != nil {
			log.Warnw("admin sheet ensure failed", "error", err)
		} else if _, err := p.sheets.AppendRow(ctx, p.adminSheetID, sheets.TabInvoices, sheets.AdminInvoiceRow(job)); err != nil {
			log.Warnw("admin sheet append failed", "error", err)
		}
	}
	return rowID, nil
}

// rollbackAppend deletes the uploaded original after an append failure and
// reports the failure as transient.
func (p *Pipeline) rollbackAppend(ctx context.Context, job *database.IngestJob, cause error) *StepError {
	if err := p.deleteUpload(ctx, job); err != nil {
		logging.FromContext(ctx).Errorw("rollback delete failed", "job_id", job.ID, "error", err)
	}
	return transient(database.StepSheets, cause)
}

// acknowledge marks the job processed FIRST, then tells the user. If the
// send fails the retry short-circuits at claim: at worst the user sees no
// confirmation, never a duplicate one.
func (p *Pipeline) acknowledge(ctx context.Context, job *database.IngestJob, rowID string, lang i18n.Lang) *StepError {
	if err := p.jobs.MarkProcessed(ctx, job.ID, rowID); err != nil {
		return transient(database.StepAck, err)
	}

	e := job.Extraction
	key := "pipeline.processed"
	if e.NeedsReview() {
		key = "pipeline.processed_needs_review"
	}
	p.reply(ctx, job, i18n.T(lang, key, map[string]string{
		"vendor":   i18n.EscapeMarkdown(e.VendorName),
		"amount":   amountText(e.TotalAmount),
		"currency": e.Currency,
		"date":     e.InvoiceDate,
	}))
	return nil
}

// failPolicy terminates the job for a policy reason and tells the user
// why. Returns a terminal StepError for the orchestrator.
func (p *Pipeline) failPolicy(ctx context.Context, job *database.IngestJob, step string, cause error, userMessage string) *StepError {
	if err := p.jobs.MarkFailed(ctx, job.ID, step, cause.Error()); err != nil {
		// Could not record the terminal state; retry rather than lose it.
		return transient(step, err)
	}
	p.reply(ctx, job, userMessage)
	return terminal(step, cause)
}

// deleteUpload removes the stored original and clears the job's pointer
// to it. Safe when nothing was uploaded.
func (p *Pipeline) deleteUpload(ctx context.Context, job *database.IngestJob) error {
	if job.Result.DriveFileID == "" {
		return nil
	}
	if err := p.objects.Delete(ctx, job.Result.DriveFileID); err != nil {
		return err
	}
	if err := p.jobs.ClearUploadResult(ctx, job.ID); err != nil {
		return err
	}
	job.Result.DriveFileID = ""
	job.Result.DriveLink = ""
	return nil
}

// reply sends a user-visible message as a reply to the original upload.
// Send failures are logged, never fatal.
func (p *Pipeline) reply(ctx context.Context, job *database.IngestJob, text string) {
	_, err := p.chat.SendMessage(ctx, job.TenantID, text, &telegram.SendOptions{
		ReplyToMessageID: job.MessageID,
	})
	if err != nil {
		logging.FromContext(ctx).Warnw("user reply failed", "job_id", job.ID, "error", err)
	}
}

// tenantLang resolves the tenant's configured language, defaulting to
// English when onboarding never finished or the read fails.
func (p *Pipeline) tenantLang(ctx context.Context, tenantID int64) i18n.Lang {
	cfg, err := p.configs.Get(ctx, tenantID)
	if err != nil || cfg == nil {
		return i18n.EN
	}
	return i18n.Normalize(cfg.Language)
}

func amountText(v *float64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%.2f", *v)
}
