package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvitly/backend/internal/database"
	"github.com/kvitly/backend/internal/queue"
)

func parkDuplicate(t *testing.T, f *pipelineFixture) *database.IngestJob {
	t.Helper()
	seedProcessedJob(f.jobs, 555, 41, "Office Depot", 120.50, "2026-08-01")
	require.NoError(t, f.p.Process(context.Background(), photoTask(555, 42), false))
	job := f.jobs.get(database.DocID(555, 42))
	require.Equal(t, database.StatusPendingDecision, job.Status)
	return job
}

func callbackTask(updateID int64, jobID, resolution string) *queue.CallbackTask {
	return &queue.CallbackTask{
		UpdateID:   updateID,
		CallbackID: "cb-1",
		TenantID:   555,
		UserID:     777,
		MessageID:  9000,
		Data:       "dup:" + resolution + ":" + jobID,
	}
}

func TestResolveKeepBothAppendsWithoutReextraction(t *testing.T) {
	f := newFixture()
	job := parkDuplicate(t, f)
	callsBefore := f.extractor.calls

	err := f.p.ResolveCallback(context.Background(), callbackTask(1, job.ID, database.ResolutionKeepBoth))
	require.NoError(t, err)

	job = f.jobs.get(job.ID)
	assert.Equal(t, database.StatusProcessed, job.Status)
	assert.Equal(t, database.ResolutionKeepBoth, job.Decision.Resolution)
	assert.NotEmpty(t, job.Result.SheetRowID)
	assert.NotEmpty(t, job.Result.DriveFileID)
	// Row built from the persisted extraction, never a second model call.
	assert.Equal(t, callsBefore, f.extractor.calls)
	assert.Len(t, f.sheets.rows["tenant-sheet"], 1)

	// Warning replaced, button spinner answered.
	require.Len(t, f.chat.edits, 1)
	assert.Contains(t, f.chat.edits[0], "Kept both")
	assert.Equal(t, []string{"cb-1"}, f.chat.answers)
}

func TestResolveDeleteNewRemovesUpload(t *testing.T) {
	f := newFixture()
	job := parkDuplicate(t, f)
	uploadPath := job.Result.DriveFileID
	require.NotEmpty(t, uploadPath)

	err := f.p.ResolveCallback(context.Background(), callbackTask(1, job.ID, database.ResolutionDeleteNew))
	require.NoError(t, err)

	job = f.jobs.get(job.ID)
	assert.Equal(t, database.StatusProcessed, job.Status)
	assert.Equal(t, database.ResolutionDeleteNew, job.Decision.Resolution)
	assert.Empty(t, job.Result.DriveFileID)
	assert.Contains(t, f.objects.deleted, uploadPath)
	assert.Equal(t, 0, f.sheets.totalRows())

	require.Len(t, f.chat.edits, 1)
	assert.Contains(t, f.chat.edits[0], "Deleted")
}

func TestResolveReplayIsNoOp(t *testing.T) {
	f := newFixture()
	job := parkDuplicate(t, f)

	task := callbackTask(1, job.ID, database.ResolutionKeepBoth)
	require.NoError(t, f.p.ResolveCallback(context.Background(), task))
	rowsAfterFirst := f.sheets.totalRows()

	// Same update delivered again: absorbed by the dedup record.
	require.NoError(t, f.p.ResolveCallback(context.Background(), task))

	assert.Equal(t, rowsAfterFirst, f.sheets.totalRows())
	job = f.jobs.get(job.ID)
	assert.Equal(t, database.ResolutionKeepBoth, job.Decision.Resolution)
	// The spinner is still answered on the replay.
	assert.Len(t, f.chat.answers, 2)
}

func TestResolveSecondButtonAfterDecisionIsRefused(t *testing.T) {
	f := newFixture()
	job := parkDuplicate(t, f)

	require.NoError(t, f.p.ResolveCallback(context.Background(), callbackTask(1, job.ID, database.ResolutionDeleteNew)))
	// A different update ID, so the dedup record does not absorb it; the
	// status check must.
	require.NoError(t, f.p.ResolveCallback(context.Background(), callbackTask(2, job.ID, database.ResolutionKeepBoth)))

	job = f.jobs.get(job.ID)
	assert.Equal(t, database.ResolutionDeleteNew, job.Decision.Resolution)
	assert.Equal(t, 0, f.sheets.totalRows())
}

func TestResolveRefusesWrongTenant(t *testing.T) {
	f := newFixture()
	job := parkDuplicate(t, f)

	task := callbackTask(1, job.ID, database.ResolutionKeepBoth)
	task.TenantID = 999
	require.NoError(t, f.p.ResolveCallback(context.Background(), task))

	job = f.jobs.get(job.ID)
	assert.Equal(t, database.StatusPendingDecision, job.Status)
	assert.Equal(t, 0, f.sheets.totalRows())
}

func TestResolveMalformedDataIsIgnored(t *testing.T) {
	f := newFixture()
	job := parkDuplicate(t, f)

	for _, data := range []string{"dup:", "dup:maybe:" + job.ID, "onboard:lang:en", ""} {
		task := callbackTask(time.Now().UnixNano(), job.ID, "")
		task.Data = data
		require.NoError(t, f.p.ResolveCallback(context.Background(), task))
	}
	job = f.jobs.get(job.ID)
	assert.Equal(t, database.StatusPendingDecision, job.Status)
}

func TestIsDuplicateCallback(t *testing.T) {
	assert.True(t, IsDuplicateCallback("dup:keep_both:555_42"))
	assert.False(t, IsDuplicateCallback("onboard:lang:en"))
	assert.False(t, IsDuplicateCallback(""))
}
