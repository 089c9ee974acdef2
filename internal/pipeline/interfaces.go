// Package pipeline orchestrates the ingest flow: claim, download,
// normalize, upload, extract, duplicate-check, append, acknowledge. It
// also resolves duplicate-decision callbacks. The orchestrator talks to
// its collaborators through narrow interfaces so failure behavior is
// testable without GCP.
package pipeline

import (
	"context"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/llm"
	"github.com/kvitly/backend/internal/telegram"
)

// JobStore is the transactional job ledger.
type JobStore interface {
	Claim(ctx context.Context, seed *database.IngestJob) (*database.IngestJob, database.ClaimOutcome, error)
	Get(ctx context.Context, id string) (*database.IngestJob, error)
	SetUploadResult(ctx context.Context, id, path, link string) error
	ClearUploadResult(ctx context.Context, id string) error
	SetExtraction(ctx context.Context, id string, ext *database.Extraction, d *database.JobDecision) error
	MarkProcessed(ctx context.Context, id, sheetRowID string) error
	MarkResolved(ctx context.Context, id, resolution, sheetRowID string, clearUpload bool) error
	MarkPendingRetry(ctx context.Context, id, lastStep, cause string) error
	MarkFailed(ctx context.Context, id, lastStep, cause string) error
	MarkRejected(ctx context.Context, id, reason string) error
	MarkPendingDecision(ctx context.Context, id, duplicateOfID string, warningMessageID int64) error
	FindDuplicate(ctx context.Context, tenantID int64, excludeID, vendor string, amount float64, invoiceDate string) (*database.IngestJob, string, error)
}

// ObjectStore is the invoices bucket.
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, path string) error
}

// Chat is the outbound leg of the chat platform.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// Extractor is the LLM abstraction with fallback already applied.
type Extractor interface {
	Extract(ctx context.Context, images [][]byte, mimeHint string) (*llm.Fields, *llm.Usage, error)
}

// SheetClient appends rows.
type SheetClient interface {
	EnsureTab(ctx context.Context, spreadsheetID, tab string, headers []string) error
	AppendRow(ctx context.Context, spreadsheetID, tab string, row []interface{}) (string, error)
}

// ConfigStore reads per-tenant business configuration.
type ConfigStore interface {
	Get(ctx context.Context, tenantID int64) (*database.BusinessConfig, error)
}

// DedupStore guards at-most-once callback processing.
type DedupStore interface {
	Seen(ctx context.Context, updateID int64) (bool, error)
	Mark(ctx context.Context, updateID int64) error
}
