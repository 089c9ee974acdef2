package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/events"
	"github.com/kvitly/backend/internal/i18n"
	"github.com/kvitly/backend/internal/logging"
	"github.com/kvitly/backend/internal/queue"
)

// Duplicate-decision callback data: "dup:{resolution}:{jobId}".
const dupCallbackPrefix = "dup:"

// IsDuplicateCallback reports whether callback data belongs to a
// duplicate decision. The ingest router uses it to pick the task route.
func IsDuplicateCallback(data string) bool {
	return strings.HasPrefix(data, dupCallbackPrefix)
}

func parseDupCallback(data string) (resolution, jobID string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != "dup" {
		return "", "", false
	}
	if parts[1] != database.ResolutionKeepBoth && parts[1] != database.ResolutionDeleteNew {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// ResolveCallback applies a user's duplicate decision. Replays are
// absorbed by the dedup store; side effects run before the dedup record
// is written, so a crash mid-handler replays rather than drops.
func (p *Pipeline) ResolveCallback(ctx context.Context, task *queue.CallbackTask) error {
	log := logging.FromContext(ctx).With("tenant_id", task.TenantID, "update_id", task.UpdateID)
	ctx = logging.WithLogger(ctx, log)

	seen, err := p.dedup.Seen(ctx, task.UpdateID)
	if err != nil {
		// Fail open: a broken dedup read must not strand the decision; the
		// pending_decision check below still refuses double application.
		log.Warnw("callback dedup check failed", "error", err)
	}
	if seen {
		log.Infow("callback replay ignored")
		p.answer(ctx, task.CallbackID, "")
		return nil
	}

	resolution, jobID, ok := parseDupCallback(task.Data)
	if !ok {
		log.Warnw("malformed duplicate callback data", "data", task.Data)
		p.answer(ctx, task.CallbackID, "")
		return nil
	}

	job, err := p.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("pipeline: load job for callback: %w", err)
	}
	if job == nil || job.TenantID != task.TenantID || job.Status != database.StatusPendingDecision {
		// Stale button, wrong tenant, or already resolved.
		log.Infow("callback refused", "job_id", jobID)
		p.answer(ctx, task.CallbackID, "")
		return nil
	}
	lang := p.tenantLang(ctx, job.TenantID)

	var resolvedText string
	switch resolution {
	case database.ResolutionDeleteNew:
		if job.Result.DriveFileID != "" {
			if err := p.objects.Delete(ctx, job.Result.DriveFileID); err != nil {
				return fmt.Errorf("pipeline: delete duplicate upload: %w", err)
			}
		}
		if err := p.jobs.MarkResolved(ctx, job.ID, resolution, "", true); err != nil {
			return fmt.Errorf("pipeline: resolve delete_new: %w", err)
		}
		resolvedText = i18n.T(lang, "pipeline.duplicate_deleted", nil)

	case database.ResolutionKeepBoth:
		// Row built from the persisted extraction; the model is never
		// re-invoked here.
		rowID, err := p.appendInvoiceRow(ctx, job)
		if err != nil {
			return fmt.Errorf("pipeline: append on keep_both: %w", err)
		}
		if err := p.jobs.MarkResolved(ctx, job.ID, resolution, rowID, false); err != nil {
			return fmt.Errorf("pipeline: resolve keep_both: %w", err)
		}
		resolvedText = i18n.T(lang, "pipeline.duplicate_kept", nil)
	}

	p.metrics.resolution(resolution)
	p.publisher.Publish(ctx, events.JobProcessed, job.TenantID, job.ID)

	warningID := job.Decision.WarningMessageID
	if warningID == 0 {
		warningID = task.MessageID
	}
	if err := p.chat.EditMessageText(ctx, job.TenantID, warningID, resolvedText, nil); err != nil {
		log.Warnw("edit duplicate warning failed", "error", err)
	}
	p.answer(ctx, task.CallbackID, resolvedText)

	if err := p.dedup.Mark(ctx, task.UpdateID); err != nil {
		log.Warnw("callback dedup mark failed", "error", err)
	}
	return nil
}

// answer stops the button spinner; failures are never fatal.
func (p *Pipeline) answer(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := p.chat.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		logging.FromContext(ctx).Warnw("answer callback failed", "error", err)
	}
}
