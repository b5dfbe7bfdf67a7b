package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/vulnscan-armada/internal/db"
	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
	"github.com/ahrav/vulnscan-armada/internal/domain/task"
	"github.com/ahrav/vulnscan-armada/internal/infra/storage"
)

var (
	_ task.Repository         = (*taskStore)(nil)
	_ task.ScheduleRepository = (*taskStore)(nil)
)

// defaultDBAttributes defines standard OpenTelemetry attributes for database operations.
var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// txTimeout bounds every multi-statement transaction.
const txTimeout = 5 * time.Second

// taskStore persists tasks together with the scan, vulnerability and result
// rows their transitions touch.
type taskStore struct {
	q      *db.Queries
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewTaskStore creates a task repository backed by PostgreSQL.
func NewTaskStore(pool *pgxpool.Pool, tracer trace.Tracer) *taskStore {
	return &taskStore{
		q:      db.New(pool),
		db:     pool,
		tracer: tracer,
	}
}

// ListByProgress returns every task in p, least recently updated first.
func (s *taskStore) ListByProgress(ctx context.Context, p task.Progress) ([]*task.Task, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("progress", p.String()))

	var tasks []*task.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.list_tasks_by_progress", dbAttrs, func(ctx context.Context) error {
		rows, err := s.q.ListTasksByProgress(ctx, db.TaskProgress(p))
		if err != nil {
			return fmt.Errorf("ListTasksByProgress query error: %w", err)
		}

		tasks = make([]*task.Task, 0, len(rows))
		for _, row := range rows {
			t, err := toDomainTask(row)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// CountByProgress returns the number of tasks in p.
func (s *taskStore) CountByProgress(ctx context.Context, p task.Progress) (int, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("progress", p.String()))

	var count int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.count_tasks_by_progress", dbAttrs, func(ctx context.Context) error {
		var err error
		count, err = s.q.CountTasksByProgress(ctx, db.TaskProgress(p))
		if err != nil {
			return fmt.Errorf("CountTasksByProgress query error: %w", err)
		}
		return nil
	})
	return int(count), err
}

// GetByUUID loads a single task.
func (s *taskStore) GetByUUID(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("task_uuid", id.String()))

	var t *task.Task
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_task", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetTaskByUUID(ctx, pgtype.UUID{Bytes: id, Valid: true})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return task.ErrTaskNotFound
			}
			return fmt.Errorf("GetTaskByUUID query error: %w", err)
		}
		t, err = toDomainTask(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// IsLinked reports whether a scan still references the task.
func (s *taskStore) IsLinked(ctx context.Context, taskUUID uuid.UUID) (bool, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("task_uuid", taskUUID.String()))

	var linked bool
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.scan_exists_for_task", dbAttrs, func(ctx context.Context) error {
		var err error
		linked, err = s.q.ScanExistsForTask(ctx, pgtype.UUID{Bytes: taskUUID, Valid: true})
		if err != nil {
			return fmt.Errorf("ScanExistsForTask query error: %w", err)
		}
		return nil
	})
	return linked, err
}

// AuditWebhookURL returns the audit's default webhook, or empty when the
// audit no longer exists.
func (s *taskStore) AuditWebhookURL(ctx context.Context, auditID int64) (string, error) {
	dbAttrs := append(defaultDBAttributes, attribute.Int64("audit_id", auditID))

	var url string
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_audit_webhook_url", dbAttrs, func(ctx context.Context) error {
		var err error
		url, err = s.q.GetAuditWebhookURL(ctx, auditID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				url = ""
				return nil
			}
			return fmt.Errorf("GetAuditWebhookURL query error: %w", err)
		}
		return nil
	})
	return url, err
}

// Apply writes the task and every scan-side effect of cs in one transaction.
func (s *taskStore) Apply(ctx context.Context, cs task.Changeset) error {
	t := cs.Task
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("task_uuid", t.UUID().String()),
		attribute.String("progress", t.Progress().String()),
		attribute.Bool("reset_schedule", cs.ResetSchedule),
		attribute.Bool("has_report", cs.Report != nil),
		attribute.Bool("keep_position", cs.KeepPosition),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.apply_task_changeset", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, txTimeout)
		defer cancel()

		session, err := task.MarshalSession(t.Session())
		if err != nil {
			return err
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := s.q.WithTx(tx)
		taskUUID := pgtype.UUID{Bytes: t.UUID(), Valid: true}

		if cs.KeepPosition {
			n, err := qtx.UpdateTaskInPlace(ctx, db.UpdateTaskInPlaceParams{
				Uuid:        taskUUID,
				StartedAt:   timestamptz(t.StartedAt()),
				EndedAt:     timestamptz(t.EndedAt()),
				ErrorReason: t.ErrorReason(),
				Session:     session,
				Progress:    db.TaskProgress(t.Progress()),
			})
			if err != nil {
				return fmt.Errorf("UpdateTaskInPlace error: %w", err)
			}
			if n == 0 {
				return task.ErrTaskNotFound
			}
		} else if _, err := qtx.UpdateTask(ctx, db.UpdateTaskParams{
			Uuid:        taskUUID,
			StartedAt:   timestamptz(t.StartedAt()),
			EndedAt:     timestamptz(t.EndedAt()),
			ErrorReason: t.ErrorReason(),
			Session:     session,
			Progress:    db.TaskProgress(t.Progress()),
		}); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return task.ErrTaskNotFound
			}
			return fmt.Errorf("UpdateTask error: %w", err)
		}

		if !cs.ScanStartedAt.IsZero() {
			if err := qtx.UpdateScanStartedAt(ctx, db.UpdateScanStartedAtParams{
				TaskUuid:  taskUUID,
				StartedAt: timestamptz(cs.ScanStartedAt),
			}); err != nil {
				return fmt.Errorf("UpdateScanStartedAt error: %w", err)
			}
		}
		if !cs.ScanEndedAt.IsZero() {
			if err := qtx.UpdateScanEndedAt(ctx, db.UpdateScanEndedAtParams{
				TaskUuid: taskUUID,
				EndedAt:  timestamptz(cs.ScanEndedAt),
			}); err != nil {
				return fmt.Errorf("UpdateScanEndedAt error: %w", err)
			}
		}

		if cs.Report != nil && t.ScanID() != 0 {
			if err := ingestReport(ctx, qtx, t.ScanID(), cs.Report); err != nil {
				return err
			}
		}

		if cs.ResetSchedule {
			if err := qtx.ResetScanSchedule(ctx, db.ResetScanScheduleParams{
				TaskUuid:    taskUUID,
				ErrorReason: t.ErrorReason(),
			}); err != nil {
				return fmt.Errorf("ResetScanSchedule error: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
}

// ingestReport adds unseen catalog entries and replaces the scan's results.
// Existing catalog rows keep their curated classification.
func ingestReport(ctx context.Context, q *db.Queries, scanID int64, r *finding.Report) error {
	for _, v := range r.Vulnerabilities {
		if v.OID == "" {
			continue
		}
		fix := v.FixRequired
		if fix == "" {
			fix = finding.FixRequiredUndefined
		}
		if err := q.InsertVulnerabilityIfAbsent(ctx, db.InsertVulnerabilityIfAbsentParams{
			Oid:         v.OID,
			FixRequired: db.FixRequired(fix),
			Advice:      v.Advice,
		}); err != nil {
			return fmt.Errorf("InsertVulnerabilityIfAbsent error (oid=%s): %w", v.OID, err)
		}
	}

	if err := q.DeleteResultsByScan(ctx, scanID); err != nil {
		return fmt.Errorf("DeleteResultsByScan error: %w", err)
	}
	for _, res := range r.Results {
		if err := q.InsertResult(ctx, db.InsertResultParams{
			ScanID:       scanID,
			Name:         res.Name,
			Host:         res.Host,
			Port:         res.Port,
			CvssBase:     res.CVSSBase,
			Cve:          res.CVE,
			Oid:          res.OID,
			Description:  res.Description,
			Qod:          res.QoD,
			Severity:     res.Severity,
			SeverityRank: res.SeverityRank,
			Scanner:      res.Scanner,
		}); err != nil {
			return fmt.Errorf("InsertResult error: %w", err)
		}
	}
	return nil
}

// FindScan loads the scheduling view of a scan.
func (s *taskStore) FindScan(ctx context.Context, scanUUID uuid.UUID) (task.ScanRef, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("scan_uuid", scanUUID.String()))

	var ref task.ScanRef
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.get_scan", dbAttrs, func(ctx context.Context) error {
		row, err := s.q.GetScanByUUID(ctx, pgtype.UUID{Bytes: scanUUID, Valid: true})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return task.ErrScanNotFound
			}
			return fmt.Errorf("GetScanByUUID query error: %w", err)
		}

		ref = task.ScanRef{
			ID:        row.ID,
			UUID:      row.Uuid.Bytes,
			AuditID:   row.AuditID,
			Target:    row.Target,
			Scheduled: row.Scheduled,
		}
		if row.TaskUuid.Valid {
			ref.TaskUUID = row.TaskUuid.Bytes
		}
		return nil
	})
	return ref, err
}

// Schedule inserts t and links its scan to it. The link only succeeds when
// the scan is not already owned by another task.
func (s *taskStore) Schedule(ctx context.Context, scanUUID uuid.UUID, t *task.Task) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("task_uuid", t.UUID().String()),
		attribute.String("scan_uuid", scanUUID.String()),
		attribute.String("target", t.Target()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.schedule_task", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, txTimeout)
		defer cancel()

		session, err := task.MarshalSession(t.Session())
		if err != nil {
			return err
		}

		tx, err := s.db.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction error: %w", err)
		}
		defer tx.Rollback(ctx)

		qtx := s.q.WithTx(tx)

		row, err := qtx.CreateTask(ctx, db.CreateTaskParams{
			Uuid:            pgtype.UUID{Bytes: t.UUID(), Valid: true},
			AuditID:         nullableID(t.AuditID()),
			ScanID:          nullableID(t.ScanID()),
			Target:          t.Target(),
			StartAt:         timestamptz(t.StartAt()),
			EndAt:           timestamptz(t.EndAt()),
			StartedAt:       timestamptz(t.StartedAt()),
			EndedAt:         timestamptz(t.EndedAt()),
			ErrorReason:     t.ErrorReason(),
			Session:         session,
			Progress:        db.TaskProgress(t.Progress()),
			SlackWebhookUrl: t.SlackWebhookURL(),
		})
		if err != nil {
			return fmt.Errorf("CreateTask insert error: %w", err)
		}

		linked, err := qtx.LinkScanToTask(ctx, db.LinkScanToTaskParams{
			Uuid:     pgtype.UUID{Bytes: scanUUID, Valid: true},
			TaskUuid: pgtype.UUID{Bytes: t.UUID(), Valid: true},
			StartAt:  timestamptz(t.StartAt()),
			EndAt:    timestamptz(t.EndAt()),
		})
		if err != nil {
			return fmt.Errorf("LinkScanToTask error: %w", err)
		}
		if linked == 0 {
			return task.ErrScanAlreadyScheduled
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit error: %w", err)
		}
		t.SetID(row.ID)
		return nil
	})
}

// Unschedule detaches the scan from whatever task owns it.
func (s *taskStore) Unschedule(ctx context.Context, scanUUID uuid.UUID) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("scan_uuid", scanUUID.String()))

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.unschedule_scan", dbAttrs, func(ctx context.Context) error {
		n, err := s.q.UnscheduleScan(ctx, pgtype.UUID{Bytes: scanUUID, Valid: true})
		if err != nil {
			return fmt.Errorf("UnscheduleScan error: %w", err)
		}
		if n == 0 {
			return task.ErrScanNotFound
		}
		return nil
	})
}

func toDomainTask(row db.Task) (*task.Task, error) {
	session, err := task.UnmarshalSession(row.Session)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", uuid.UUID(row.Uuid.Bytes), err)
	}

	progress, err := task.ParseProgress(string(row.Progress))
	if err != nil {
		return nil, err
	}

	return task.ReconstructTask(
		row.ID,
		row.Uuid.Bytes,
		row.AuditID.Int64,
		row.ScanID.Int64,
		row.Target,
		row.StartAt.Time.UTC(),
		row.EndAt.Time.UTC(),
		row.StartedAt.Time.UTC(),
		row.EndedAt.Time.UTC(),
		row.ErrorReason,
		session,
		progress,
		row.SlackWebhookUrl,
		row.CreatedAt.Time.UTC(),
		row.UpdatedAt.Time.UTC(),
	), nil
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func nullableID(id int64) pgtype.Int8 {
	return pgtype.Int8{Int64: id, Valid: id != 0}
}
