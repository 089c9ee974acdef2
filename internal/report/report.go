// Package report answers the two read-only surfaces: the worker's
// /metrics JSON snapshot and the per-tenant /report monthly summary.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
	"github.com/kvitly/backend/internal/telegram"
)

const recentFailureLimit = 10

// JobReader is the slice of the job store the reports need.
type JobReader interface {
	CountsByStatus(ctx context.Context) (map[string]int64, error)
	RecentFailures(ctx context.Context, limit int) ([]*database.IngestJob, error)
	ListForTenantSince(ctx context.Context, tenantID int64, since time.Time) ([]*database.IngestJob, error)
}

// ConfigStore resolves the tenant's language.
type ConfigStore interface {
	Get(ctx context.Context, tenantID int64) (*database.BusinessConfig, error)
}

// Chat sends the summary reply.
type Chat interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (*telegram.Message, error)
}

// Failure is one entry in the metrics snapshot's recent-failure list.
type Failure struct {
	JobID     string    `json:"jobId"`
	TenantID  int64     `json:"tenantId"`
	LastStep  string    `json:"lastStep,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Snapshot is the GET /metrics response body.
type Snapshot struct {
	Status         string           `json:"status"`
	Jobs           map[string]int64 `json:"jobs"`
	RecentFailures []Failure        `json:"recentFailures"`
}

type Reader struct {
	jobs    JobReader
	configs ConfigStore
	chat    Chat
}

func New(jobs JobReader, configs ConfigStore, chat Chat) *Reader {
	return &Reader{jobs: jobs, configs: configs, chat: chat}
}

// Metrics builds the operational snapshot for the /metrics endpoint.
func (r *Reader) Metrics(ctx context.Context) (*Snapshot, error) {
	counts, err := r.jobs.CountsByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("report: count jobs: %w", err)
	}
	failures, err := r.jobs.RecentFailures(ctx, recentFailureLimit)
	if err != nil {
		return nil, fmt.Errorf("report: recent failures: %w", err)
	}

	snap := &Snapshot{
		Status:         "ok",
		Jobs:           counts,
		RecentFailures: make([]Failure, 0, len(failures)),
	}
	for _, j := range failures {
		snap.RecentFailures = append(snap.RecentFailures, Failure{
			JobID:     j.ID,
			TenantID:  j.TenantID,
			LastStep:  j.Progress.LastStep,
			LastError: j.Progress.LastError,
			UpdatedAt: j.UpdatedAt,
		})
	}
	return snap, nil
}

// MonthlySummary aggregates the tenant's current calendar month and
// replies in the tenant's language.
func (r *Reader) MonthlySummary(ctx context.Context, task *queue.InvoiceCommandTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID)
	ctx = logging.WithLogger(ctx, log)

	lang := i18n.EN
	if cfg, err := r.configs.Get(ctx, task.TenantID); err == nil && cfg != nil {
		lang = i18n.Normalize(cfg.Language)
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	jobs, err := r.jobs.ListForTenantSince(ctx, task.TenantID, monthStart)
	if err != nil {
		return fmt.Errorf("report: list tenant jobs: %w", err)
	}

	var processed, needsReview int
	totals := map[string]float64{}
	for _, j := range jobs {
		if j.Status != database.StatusProcessed || j.Extraction == nil {
			continue
		}
		processed++
		if j.Extraction.NeedsReview() {
			needsReview++
		}
		if j.Extraction.TotalAmount != nil {
			cur := j.Extraction.Currency
			if cur == "" {
				cur = "?"
			}
			totals[cur] += *j.Extraction.TotalAmount
		}
	}

	if processed == 0 {
		r.reply(ctx, task.TenantID, i18n.T(lang, "report.empty", nil))
		return nil
	}
	r.reply(ctx, task.TenantID, i18n.T(lang, "report.summary", map[string]string{
		"month":       now.Format("01/2006"),
		"processed":   fmt.Sprintf("%d", processed),
		"needsReview": fmt.Sprintf("%d", needsReview),
		"totals":      formatTotals(totals),
	}))
	return nil
}

func (r *Reader) reply(ctx context.Context, chatID int64, text string) {
	if _, err := r.chat.SendMessage(ctx, chatID, text, nil); err != nil {
		logging.FromContext(ctx).Warnw("report reply failed", "error", err)
	}
}

// formatTotals renders "1234.50 ILS, 99.00 USD" with a stable currency
// order.
func formatTotals(totals map[string]float64) string {
	currencies := make([]string, 0, len(totals))
	for cur := range totals {
		currencies = append(currencies, cur)
	}
	sort.Strings(currencies)

	parts := make([]string, 0, len(currencies))
	for _, cur := range currencies {
		parts = append(parts, fmt.Sprintf("%.2f %s", totals[cur], cur))
	}
	return strings.Join(parts, ", ")
}
