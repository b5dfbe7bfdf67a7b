package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	"github.com/ahrav/vulnscan-armada/internal/domain/engine"
	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/internal/infra/storage"
)

func setupTaskTest(t *testing.T) (context.Context, *pgxpool.Pool, *taskStore, *findingStore, func()) {
	t.Helper()

	pool, cleanup := storage.SetupTestContainer(t)
	return context.Background(), pool, NewTaskStore(pool, storage.NoOpTracer()), NewFindingStore(pool, storage.NoOpTracer()), cleanup
}

type testScan struct {
	id      int64
	uuid    uuid.UUID
	auditID int64
}

// createTestScan inserts an audit and one scan owned by it.
func createTestScan(t *testing.T, ctx context.Context, pool *pgxpool.Pool, target, webhook string) testScan {
	t.Helper()

	var s testScan
	err := pool.QueryRow(ctx,
		`INSERT INTO audits (name, slack_default_webhook_url) VALUES ('audit', $1) RETURNING id`,
		webhook,
	).Scan(&s.auditID)
	require.NoError(t, err)

	err = pool.QueryRow(ctx,
		`INSERT INTO scans (audit_id, target) VALUES ($1, $2) RETURNING id, uuid`,
		s.auditID, target,
	).Scan(&s.id, &s.uuid)
	require.NoError(t, err)
	return s
}

type scanState struct {
	taskUUID    *uuid.UUID
	scheduled   bool
	processed   bool
	startedAt   time.Time
	endedAt     time.Time
	errorReason string
}

func loadScanState(t *testing.T, ctx context.Context, pool *pgxpool.Pool, scanID int64) scanState {
	t.Helper()

	var s scanState
	err := pool.QueryRow(ctx,
		`SELECT task_uuid, scheduled, processed, started_at, ended_at, error_reason FROM scans WHERE id = $1`,
		scanID,
	).Scan(&s.taskUUID, &s.scheduled, &s.processed, &s.startedAt, &s.endedAt, &s.errorReason)
	require.NoError(t, err)
	return s
}

func scheduleTestTask(t *testing.T, ctx context.Context, store *taskStore, scan testScan, target string) *task.Task {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	tk := task.NewTask(scan.auditID, scan.id, target, now.Add(-time.Minute), now.Add(6*time.Hour), "", now)
	require.NoError(t, store.Schedule(ctx, scan.uuid, tk))
	return tk
}

func TestTaskStore_ScheduleAndGet(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	scan := createTestScan(t, ctx, pool, "192.0.2.10", "")
	tk := scheduleTestTask(t, ctx, store, scan, "192.0.2.10")
	assert.NotZero(t, tk.ID())

	loaded, err := store.GetByUUID(ctx, tk.UUID())
	require.NoError(t, err)
	assert.Equal(t, tk.UUID(), loaded.UUID())
	assert.Equal(t, scan.auditID, loaded.AuditID())
	assert.Equal(t, scan.id, loaded.ScanID())
	assert.Equal(t, task.ProgressPending, loaded.Progress())
	assert.True(t, tk.StartAt().Equal(loaded.StartAt()))
	assert.True(t, loaded.Session().IsZero())

	state := loadScanState(t, ctx, pool, scan.id)
	require.NotNil(t, state.taskUUID)
	assert.Equal(t, tk.UUID(), *state.taskUUID)
	assert.True(t, state.scheduled)

	linked, err := store.IsLinked(ctx, tk.UUID())
	require.NoError(t, err)
	assert.True(t, linked)
}

func TestTaskStore_ScheduleTwiceFails(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	scan := createTestScan(t, ctx, pool, "192.0.2.10", "")
	first := scheduleTestTask(t, ctx, store, scan, "192.0.2.10")

	now := time.Now().UTC()
	second := task.NewTask(scan.auditID, scan.id, "192.0.2.10", now, now.Add(time.Hour), "", now)
	err := store.Schedule(ctx, scan.uuid, second)
	assert.ErrorIs(t, err, task.ErrScanAlreadyScheduled)

	// The failed attempt must not leave an orphan task behind.
	_, err = store.GetByUUID(ctx, second.UUID())
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	_, err = store.GetByUUID(ctx, first.UUID())
	assert.NoError(t, err)
}

func TestTaskStore_FindScanAndUnschedule(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	_, err := store.FindScan(ctx, uuid.New())
	assert.ErrorIs(t, err, task.ErrScanNotFound)

	scan := createTestScan(t, ctx, pool, "192.0.2.11", "")
	ref, err := store.FindScan(ctx, scan.uuid)
	require.NoError(t, err)
	assert.Equal(t, scan.id, ref.ID)
	assert.Equal(t, "192.0.2.11", ref.Target)
	assert.False(t, ref.Scheduled)
	assert.Equal(t, uuid.Nil, ref.TaskUUID)

	tk := scheduleTestTask(t, ctx, store, scan, ref.Target)

	require.NoError(t, store.Unschedule(ctx, scan.uuid))
	linked, err := store.IsLinked(ctx, tk.UUID())
	require.NoError(t, err)
	assert.False(t, linked)

	assert.ErrorIs(t, store.Unschedule(ctx, uuid.New()), task.ErrScanNotFound)
}

func TestTaskStore_ListAndCountByProgress(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	var tasks []*task.Task
	for _, target := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"} {
		scan := createTestScan(t, ctx, pool, target, "")
		tasks = append(tasks, scheduleTestTask(t, ctx, store, scan, target))
	}

	// Touching the first task moves it to the back of the queue.
	require.NoError(t, store.Apply(ctx, task.Changeset{Task: tasks[0]}))

	listed, err := store.ListByProgress(ctx, task.ProgressPending)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, tasks[1].UUID(), listed[0].UUID())
	assert.Equal(t, tasks[2].UUID(), listed[1].UUID())
	assert.Equal(t, tasks[0].UUID(), listed[2].UUID())

	require.NoError(t, tasks[1].Transition(task.ProgressRunning))
	require.NoError(t, store.Apply(ctx, task.Changeset{Task: tasks[1]}))

	pending, err := store.CountByProgress(ctx, task.ProgressPending)
	require.NoError(t, err)
	assert.Equal(t, 2, pending)

	running, err := store.CountByProgress(ctx, task.ProgressRunning)
	require.NoError(t, err)
	assert.Equal(t, 1, running)

	empty, err := store.ListByProgress(ctx, task.ProgressStopped)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestTaskStore_ApplyKeepPosition(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	var tasks []*task.Task
	for _, target := range []string{"192.0.2.11", "192.0.2.12"} {
		scan := createTestScan(t, ctx, pool, target, "")
		tasks = append(tasks, scheduleTestTask(t, ctx, store, scan, target))
	}

	before, err := store.GetByUUID(ctx, tasks[0].UUID())
	require.NoError(t, err)

	tasks[0].RecordLaunchFailure()
	require.NoError(t, store.Apply(ctx, task.Changeset{Task: tasks[0], KeepPosition: true}))

	got, err := store.GetByUUID(ctx, tasks[0].UUID())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Session().LaunchFailures)
	assert.True(t, before.UpdatedAt().Equal(got.UpdatedAt()))

	listed, err := store.ListByProgress(ctx, task.ProgressPending)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, tasks[0].UUID(), listed[0].UUID())
	assert.Equal(t, tasks[1].UUID(), listed[1].UUID())

	missing := task.NewTask(1, 1, "192.0.2.13", time.Now(), time.Now().Add(time.Hour), "", time.Now())
	err = store.Apply(ctx, task.Changeset{Task: missing, KeepPosition: true})
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestTaskStore_ApplyPersistsSessionAndScanTimes(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	scan := createTestScan(t, ctx, pool, "192.0.2.20", "")
	tk := scheduleTestTask(t, ctx, store, scan, "192.0.2.20")

	started := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	tk.SetSession(task.Session{
		Deployment: &deployment.Info{ID: "pre-1", Status: deployment.StatusRunning, Host: "10.0.0.1", Port: 443},
		Engine:     &engine.Handles{TaskID: "t-1", TargetID: "tg-1"},
	})
	tk.MarkStarted(started)
	require.NoError(t, tk.Transition(task.ProgressRunning))
	require.NoError(t, store.Apply(ctx, task.Changeset{Task: tk, ScanStartedAt: started}))

	loaded, err := store.GetByUUID(ctx, tk.UUID())
	require.NoError(t, err)
	assert.Equal(t, task.ProgressRunning, loaded.Progress())
	assert.Equal(t, started, loaded.StartedAt())
	assert.Equal(t, tk.Session(), loaded.Session())

	state := loadScanState(t, ctx, pool, scan.id)
	assert.True(t, started.Equal(state.startedAt))

	ended := started.Add(40 * time.Minute)
	tk.MarkEnded(ended)
	require.NoError(t, tk.Transition(task.ProgressStopped))
	require.NoError(t, store.Apply(ctx, task.Changeset{Task: tk, ScanEndedAt: ended}))

	state = loadScanState(t, ctx, pool, scan.id)
	assert.True(t, ended.Equal(state.endedAt))
}

func TestTaskStore_ApplyIngestsReportAndResetsSchedule(t *testing.T) {
	t.Parallel()
	ctx, pool, store, findings, cleanup := setupTaskTest(t)
	defer cleanup()

	scan := createTestScan(t, ctx, pool, "192.0.2.30", "https://hooks.example/audit")
	tk := scheduleTestTask(t, ctx, store, scan, "192.0.2.30")

	// A curated entry must survive ingestion.
	_, err := pool.Exec(ctx,
		`INSERT INTO vulnerabilities (oid, fix_required, advice) VALUES ('1.3.6.1.4.1.25623.1.0.1', 'REQUIRED', 'patch now')`)
	require.NoError(t, err)

	report := &finding.Report{
		Vulnerabilities: []finding.Vulnerability{
			{OID: "1.3.6.1.4.1.25623.1.0.1"},
			{OID: "1.3.6.1.4.1.25623.1.0.2"},
		},
		Results: []finding.Result{
			{Name: "first", Host: "192.0.2.30", Port: "443/tcp", OID: "1.3.6.1.4.1.25623.1.0.1", Scanner: "OpenVAS Default"},
			{Name: "second", Host: "192.0.2.30", Port: "general/tcp", OID: "1.3.6.1.4.1.25623.1.0.2", Scanner: "OpenVAS Default"},
		},
	}

	for _, p := range []task.Progress{task.ProgressRunning, task.ProgressStopped} {
		require.NoError(t, tk.Transition(p))
		require.NoError(t, store.Apply(ctx, task.Changeset{Task: tk}))
	}

	require.NoError(t, tk.Transition(task.ProgressDeleted))
	cs := task.Changeset{Task: tk, ResetSchedule: true, Report: report}
	require.NoError(t, store.Apply(ctx, cs))
	// Re-applying the same changeset replaces rather than duplicates results.
	require.NoError(t, store.Apply(ctx, cs))

	results, err := findings.ResultsByScan(ctx, scan.id)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "first", results[0].Name)
	assert.Equal(t, "OpenVAS Default", results[1].Scanner)

	classes, err := findings.FixRequirements(ctx, report.OIDs())
	require.NoError(t, err)
	assert.Equal(t, map[string]finding.FixRequired{
		"1.3.6.1.4.1.25623.1.0.1": finding.FixRequiredRequired,
		"1.3.6.1.4.1.25623.1.0.2": finding.FixRequiredUndefined,
	}, classes)

	state := loadScanState(t, ctx, pool, scan.id)
	assert.Nil(t, state.taskUUID)
	assert.False(t, state.scheduled)
	assert.True(t, state.processed)

	linked, err := store.IsLinked(ctx, tk.UUID())
	require.NoError(t, err)
	assert.False(t, linked)

	url, err := store.AuditWebhookURL(ctx, scan.auditID)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/audit", url)
}

func TestTaskStore_ApplyRollsBackOnIngestFailure(t *testing.T) {
	t.Parallel()
	ctx, pool, store, findings, cleanup := setupTaskTest(t)
	defer cleanup()

	scan := createTestScan(t, ctx, pool, "192.0.2.35", "")
	tk := scheduleTestTask(t, ctx, store, scan, "192.0.2.35")

	for _, p := range []task.Progress{task.ProgressRunning, task.ProgressStopped} {
		require.NoError(t, tk.Transition(p))
		require.NoError(t, store.Apply(ctx, task.Changeset{Task: tk}))
	}

	_, err := pool.Exec(ctx,
		`INSERT INTO results (scan_id, name, oid) VALUES ($1, 'earlier', '1.3.6.1.4.1.25623.1.0.9')`, scan.id)
	require.NoError(t, err)
	before := loadScanState(t, ctx, pool, scan.id)

	// The second result overflows results.oid, after the old rows were deleted.
	report := &finding.Report{
		Vulnerabilities: []finding.Vulnerability{{OID: "1.3.6.1.4.1.25623.1.0.10"}},
		Results: []finding.Result{
			{Name: "fits", OID: "1.3.6.1.4.1.25623.1.0.10"},
			{Name: "overflows", OID: strings.Repeat("9", 251)},
		},
	}
	require.NoError(t, tk.Transition(task.ProgressDeleted))
	err = store.Apply(ctx, task.Changeset{
		Task:          tk,
		ScanEndedAt:   time.Now().UTC().Truncate(time.Microsecond),
		ResetSchedule: true,
		Report:        report,
	})
	require.Error(t, err)

	got, err := store.GetByUUID(ctx, tk.UUID())
	require.NoError(t, err)
	assert.Equal(t, task.ProgressStopped, got.Progress())

	after := loadScanState(t, ctx, pool, scan.id)
	assert.Equal(t, before, after)
	require.NotNil(t, after.taskUUID)
	assert.Equal(t, tk.UUID(), *after.taskUUID)
	assert.True(t, after.scheduled)
	assert.False(t, after.processed)

	results, err := findings.ResultsByScan(ctx, scan.id)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "earlier", results[0].Name)

	var catalogued int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM vulnerabilities WHERE oid = '1.3.6.1.4.1.25623.1.0.10'`).Scan(&catalogued))
	assert.Zero(t, catalogued)
}

func TestTaskStore_ResetCopiesErrorReason(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	scan := createTestScan(t, ctx, pool, "192.0.2.40", "")
	tk := scheduleTestTask(t, ctx, store, scan, "192.0.2.40")

	tk.SetErrorReason(task.ReasonWindowTooShort)
	require.NoError(t, tk.Transition(task.ProgressFailed))
	require.NoError(t, store.Apply(ctx, task.Changeset{Task: tk}))

	require.NoError(t, tk.Transition(task.ProgressDeleted))
	require.NoError(t, store.Apply(ctx, task.Changeset{Task: tk, ResetSchedule: true}))

	state := loadScanState(t, ctx, pool, scan.id)
	assert.Equal(t, task.ReasonWindowTooShort, state.errorReason)
	assert.True(t, state.processed)
}

func TestTaskStore_AuditDeletionKeepsTask(t *testing.T) {
	t.Parallel()
	ctx, pool, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	scan := createTestScan(t, ctx, pool, "192.0.2.50", "")
	tk := scheduleTestTask(t, ctx, store, scan, "192.0.2.50")

	_, err := pool.Exec(ctx, `DELETE FROM audits WHERE id = $1`, scan.auditID)
	require.NoError(t, err)

	loaded, err := store.GetByUUID(ctx, tk.UUID())
	require.NoError(t, err)
	assert.Zero(t, loaded.AuditID())
	assert.Zero(t, loaded.ScanID())

	linked, err := store.IsLinked(ctx, tk.UUID())
	require.NoError(t, err)
	assert.False(t, linked)

	url, err := store.AuditWebhookURL(ctx, scan.auditID)
	require.NoError(t, err)
	assert.Empty(t, url)
}

func TestTaskStore_ApplyUnknownTask(t *testing.T) {
	t.Parallel()
	ctx, _, store, _, cleanup := setupTaskTest(t)
	defer cleanup()

	now := time.Now().UTC()
	tk := task.NewTask(0, 0, "192.0.2.60", now, now.Add(time.Hour), "", now)
	assert.ErrorIs(t, store.Apply(ctx, task.Changeset{Task: tk}), task.ErrTaskNotFound)
}

func TestFindingStore_FixRequirementsEmpty(t *testing.T) {
	t.Parallel()
	ctx, _, _, findings, cleanup := setupTaskTest(t)
	defer cleanup()

	classes, err := findings.FixRequirements(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, classes)
}
