package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	firestorepb "cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
)

// A processing claim older than this is considered abandoned by a crashed
// worker and may be reclaimed.
const staleLease = 10 * time.Minute

// Duplicate detection looks back this far.
const duplicateWindow = 90 * 24 * time.Hour

// ClaimOutcome says what the transactional claim decided.
type ClaimOutcome int

const (
	ClaimNew ClaimOutcome = iota
	ClaimReclaimed
	ClaimAlreadyDone
	ClaimBusy
)

func (o ClaimOutcome) String() string {
	switch o {
	case ClaimNew:
		return "new"
	case ClaimReclaimed:
		return "reclaimed"
	case ClaimAlreadyDone:
		return "already_done"
	case ClaimBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Legal status transitions. Reclaims (processing -> processing,
// pending_retry -> processing) go through Claim, not transition.
var validTransitions = map[JobStatus][]JobStatus{
	StatusProcessing:      {StatusProcessed, StatusPendingRetry, StatusPendingDecision, StatusRejected, StatusFailed},
	StatusPendingRetry:    {StatusFailed},
	StatusPendingDecision: {StatusProcessed},
}

func canTransition(from, to JobStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type JobStore struct {
	fs *firestore.Client
}

func (s *JobStore) ref(id string) *firestore.DocumentRef {
	return s.fs.Collection(colIngestJobs).Doc(id)
}

// DocID builds the composite job id that makes redeliveries idempotent.
func DocID(tenantID, messageID int64) string {
	return jobDocID(tenantID, messageID)
}

// Claim is the transactional entry gate of the pipeline. Seed carries the
// task payload fields; it is only used when the job does not exist yet.
func (s *JobStore) Claim(ctx context.Context, seed *IngestJob) (*IngestJob, ClaimOutcome, error) {
	id := jobDocID(seed.TenantID, seed.MessageID)
	ref := s.ref(id)

	var job IngestJob
	var outcome ClaimOutcome

	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ds, err := tx.Get(ref)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			now := time.Now().UTC()
			job = *seed
			job.ID = id
			job.Status = StatusProcessing
			job.Attempts = 1
			job.CreatedAt = now
			job.UpdatedAt = now
			outcome = ClaimNew
			return tx.Set(ref, &job)
		}

		if err := ds.DataTo(&job); err != nil {
			return fmt.Errorf("decode job %s: %w", id, err)
		}
		job.ID = id

		switch {
		case job.Status.IsTerminal():
			outcome = ClaimAlreadyDone
			return nil
		case job.Status == StatusPendingDecision:
			// Waiting on the user; the callback handler re-enters.
			outcome = ClaimBusy
			return nil
		case job.Status == StatusProcessing && time.Since(job.UpdatedAt) < staleLease:
			// A sibling delivery holds the lease.
			outcome = ClaimBusy
			return nil
		default:
			job.Status = StatusProcessing
			job.Attempts++
			job.UpdatedAt = time.Now().UTC()
			outcome = ClaimReclaimed
			return tx.Set(ref, &job)
		}
	})
	if err != nil {
		return nil, 0, fmt.Errorf("database: claim job %s: %w", id, err)
	}
	return &job, outcome, nil
}

// Get returns the job or nil when it does not exist.
func (s *JobStore) Get(ctx context.Context, id string) (*IngestJob, error) {
	ds, err := s.ref(id).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get job %s: %w", id, err)
	}
	var job IngestJob
	if err := ds.DataTo(&job); err != nil {
		return nil, fmt.Errorf("database: decode job %s: %w", id, err)
	}
	job.ID = id
	return &job, nil
}

// transition validates the status change inside a transaction, then applies
// it together with the extra field updates.
func (s *JobStore) transition(ctx context.Context, id string, to JobStatus, extra []firestore.Update) error {
	ref := s.ref(id)
	return s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ds, err := tx.Get(ref)
		if err != nil {
			return err
		}
		cur, err := ds.DataAt("status")
		if err != nil {
			return err
		}
		from := JobStatus(cur.(string))
		if !canTransition(from, to) {
			return fmt.Errorf("database: illegal job transition %s -> %s (job %s)", from, to, id)
		}
		ups := append([]firestore.Update{
			{Path: "status", Value: string(to)},
			{Path: "updatedAt", Value: time.Now().UTC()},
		}, extra...)
		return tx.Update(ref, ups)
	})
}

// Touch refreshes the lease and records the last completed step.
func (s *JobStore) Touch(ctx context.Context, id, lastStep string) error {
	_, err := s.ref(id).Update(ctx, []firestore.Update{
		{Path: "progress.lastStep", Value: lastStep},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("database: touch job %s: %w", id, err)
	}
	return nil
}

// SetUploadResult records where the original landed in the object store.
func (s *JobStore) SetUploadResult(ctx context.Context, id, path, link string) error {
	_, err := s.ref(id).Update(ctx, []firestore.Update{
		{Path: "result.driveFileId", Value: path},
		{Path: "result.driveLink", Value: link},
		{Path: "progress.lastStep", Value: StepDrive},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("database: set upload result %s: %w", id, err)
	}
	return nil
}

// ClearUploadResult forgets where the original landed after a rollback
// deleted it, so the next attempt uploads again.
func (s *JobStore) ClearUploadResult(ctx context.Context, id string) error {
	_, err := s.ref(id).Update(ctx, []firestore.Update{
		{Path: "result.driveFileId", Value: firestore.Delete},
		{Path: "result.driveLink", Value: firestore.Delete},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("database: clear upload result %s: %w", id, err)
	}
	return nil
}

// SetExtraction persists the sanitized model output and its cost.
func (s *JobStore) SetExtraction(ctx context.Context, id string, ext *Extraction, d *JobDecision) error {
	_, err := s.ref(id).Update(ctx, []firestore.Update{
		{Path: "extraction", Value: ext},
		{Path: "decision.provider", Value: d.Provider},
		{Path: "decision.inputTokens", Value: d.InputTokens},
		{Path: "decision.outputTokens", Value: d.OutputTokens},
		{Path: "decision.costUsd", Value: d.CostUSD},
		{Path: "progress.lastStep", Value: StepLLM},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("database: set extraction %s: %w", id, err)
	}
	return nil
}

// MarkProcessed finishes a job. The sheet row id is recorded when a row was
// appended on this path.
func (s *JobStore) MarkProcessed(ctx context.Context, id, sheetRowID string) error {
	ups := []firestore.Update{
		{Path: "progress.lastStep", Value: StepSheets},
		{Path: "progress.lastError", Value: firestore.Delete},
	}
	if sheetRowID != "" {
		ups = append(ups, firestore.Update{Path: "result.sheetRowId", Value: sheetRowID})
	}
	return s.transition(ctx, id, StatusProcessed, ups)
}

// MarkResolved finishes a pending_decision job after a user callback.
func (s *JobStore) MarkResolved(ctx context.Context, id, resolution, sheetRowID string, clearUpload bool) error {
	ups := []firestore.Update{
		{Path: "decision.resolution", Value: resolution},
		{Path: "progress.lastStep", Value: StepAck},
	}
	if sheetRowID != "" {
		ups = append(ups, firestore.Update{Path: "result.sheetRowId", Value: sheetRowID})
	}
	if clearUpload {
		ups = append(ups,
			firestore.Update{Path: "result.driveFileId", Value: firestore.Delete},
			firestore.Update{Path: "result.driveLink", Value: firestore.Delete},
		)
	}
	return s.transition(ctx, id, StatusProcessed, ups)
}

// MarkPendingRetry parks a job for queue redelivery after a transient
// failure.
func (s *JobStore) MarkPendingRetry(ctx context.Context, id, lastStep, cause string) error {
	return s.transition(ctx, id, StatusPendingRetry, []firestore.Update{
		{Path: "progress.lastStep", Value: lastStep},
		{Path: "progress.lastError", Value: clip(cause, 500)},
	})
}

// MarkFailed terminates a job by policy or retry exhaustion.
func (s *JobStore) MarkFailed(ctx context.Context, id, lastStep, cause string) error {
	return s.transition(ctx, id, StatusFailed, []firestore.Update{
		{Path: "progress.lastStep", Value: lastStep},
		{Path: "progress.lastError", Value: clip(cause, 500)},
	})
}

// MarkRejected terminates a job whose document is not an invoice.
func (s *JobStore) MarkRejected(ctx context.Context, id, reason string) error {
	return s.transition(ctx, id, StatusRejected, []firestore.Update{
		{Path: "progress.lastStep", Value: StepRejected},
		{Path: "progress.lastError", Value: clip(reason, 500)},
	})
}

// MarkPendingDecision parks a job on a duplicate warning until the user
// picks a resolution.
func (s *JobStore) MarkPendingDecision(ctx context.Context, id, duplicateOfID string, warningMessageID int64) error {
	return s.transition(ctx, id, StatusPendingDecision, []firestore.Update{
		{Path: "decision.duplicateOfJobId", Value: duplicateOfID},
		{Path: "decision.warningMessageId", Value: warningMessageID},
	})
}

// Duplicate match kinds.
const (
	MatchExact   = "exact"
	MatchSimilar = "similar"
)

// FindDuplicate looks for a processed job in the same tenant within the
// lookback window whose vendor matches case-insensitively and whose amount
// matches exactly. Dates must agree when both sides have one; a missing
// date on either side still counts, as a similar (not exact) match.
func (s *JobStore) FindDuplicate(ctx context.Context, tenantID int64, excludeID, vendor string, amount float64, invoiceDate string) (*IngestJob, string, error) {
	vendor = strings.TrimSpace(vendor)
	if vendor == "" {
		return nil, "", nil
	}

	cutoff := time.Now().UTC().Add(-duplicateWindow)
	iter := s.fs.Collection(colIngestJobs).
		Where("tenantId", "==", tenantID).
		Where("status", "==", string(StatusProcessed)).
		Where("extraction.totalAmount", "==", amount).
		Where("createdAt", ">=", cutoff).
		Documents(ctx)
	defer iter.Stop()

	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", fmt.Errorf("database: duplicate lookup: %w", err)
		}
		var j IngestJob
		if err := ds.DataTo(&j); err != nil {
			continue
		}
		j.ID = ds.Ref.ID
		if j.ID == excludeID || j.Extraction == nil {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(j.Extraction.VendorName), vendor) {
			continue
		}
		kind := MatchSimilar
		if invoiceDate != "" && j.Extraction.InvoiceDate != "" {
			if j.Extraction.InvoiceDate != invoiceDate {
				continue
			}
			kind = MatchExact
		}
		return &j, kind, nil
	}
}

// CountsByStatus powers the metrics report.
func (s *JobStore) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	counts := make(map[string]int64, 6)
	for _, st := range []JobStatus{
		StatusProcessing, StatusProcessed, StatusFailed,
		StatusPendingRetry, StatusPendingDecision, StatusRejected,
	} {
		q := s.fs.Collection(colIngestJobs).Where("status", "==", string(st))
		agg, err := q.NewAggregationQuery().WithCount("count").Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("database: count %s jobs: %w", st, err)
		}
		if v, ok := agg["count"].(*firestorepb.Value); ok {
			counts[string(st)] = v.GetIntegerValue()
		}
	}
	return counts, nil
}

// RecentFailures returns the newest failed or retrying jobs.
func (s *JobStore) RecentFailures(ctx context.Context, limit int) ([]*IngestJob, error) {
	iter := s.fs.Collection(colIngestJobs).
		Where("status", "in", []string{string(StatusFailed), string(StatusPendingRetry)}).
		OrderBy("updatedAt", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var jobs []*IngestJob
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			return jobs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("database: recent failures: %w", err)
		}
		var j IngestJob
		if err := ds.DataTo(&j); err != nil {
			continue
		}
		j.ID = ds.Ref.ID
		jobs = append(jobs, &j)
	}
}

// ListForTenantSince returns a tenant's jobs created at or after the given
// time, for the monthly report.
func (s *JobStore) ListForTenantSince(ctx context.Context, tenantID int64, since time.Time) ([]*IngestJob, error) {
	iter := s.fs.Collection(colIngestJobs).
		Where("tenantId", "==", tenantID).
		Where("createdAt", ">=", since).
		Documents(ctx)
	defer iter.Stop()

	var jobs []*IngestJob
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			return jobs, nil
		}
		if err != nil {
			return nil, fmt.Errorf("database: list tenant jobs: %w", err)
		}
		var j IngestJob
		if err := ds.DataTo(&j); err != nil {
			continue
		}
		j.ID = ds.Ref.ID
		jobs = append(jobs, &j)
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
