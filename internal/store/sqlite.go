package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/clusterq/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" opens a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Jobs ---

// SaveJob inserts the job or overwrites its mutable columns.
func (s *SQLiteStore) SaveJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "upsert", "table", "jobs", "id", job.ID, "state", job.State)

	var reportJSON *string
	if job.Report != nil {
		data, err := json.Marshal(job.Report)
		if err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
		v := string(data)
		reportJSON = &v
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, state, completion_time, reason, report, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   state = excluded.state,
		   completion_time = excluded.completion_time,
		   reason = excluded.reason,
		   report = excluded.report,
		   updated_at = excluded.updated_at`,
		string(job.ID), string(job.State), formatTimePtr(job.CompletionTime), job.Reason, reportJSON,
		job.CreatedAt.Format(time.RFC3339Nano), job.UpdatedAt.Format(time.RFC3339Nano),
	)
	return err
}

// GetJob returns the job, or nil if it does not exist.
func (s *SQLiteStore) GetJob(ctx context.Context, id model.JobID) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "id", id)

	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, completion_time, reason, report, created_at, updated_at
		 FROM jobs WHERE id = ?`, string(id))
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ListJobs returns a page of jobs, newest first, and the total count.
func (s *SQLiteStore) ListJobs(ctx context.Context, opts model.ListOptions) ([]*model.Job, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	whereSQL := ""
	var args []any
	if opts.State != "" {
		whereSQL = " WHERE state = ?"
		args = append(args, opts.State)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, state, completion_time, reason, report, created_at, updated_at
		 FROM jobs`+whereSQL+` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*model.Job, error) {
	var job model.Job
	var id, state, createdAt, updatedAt string
	var completionTime, reportJSON *string

	if err := sc.Scan(&id, &state, &completionTime, &job.Reason, &reportJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	job.ID = model.JobID(id)
	job.State = model.JobState(state)
	job.CompletionTime = parseTimePtr(completionTime)
	if reportJSON != nil {
		var r model.JobReport
		if err := json.Unmarshal([]byte(*reportJSON), &r); err != nil {
			return nil, fmt.Errorf("unmarshal report for job %s: %w", id, err)
		}
		job.Report = &r
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &job, nil
}

// --- Event history ---

// AppendEvent records an accepted event for its job.
func (s *SQLiteStore) AppendEvent(ctx context.Context, ev model.EventMessage) (*model.EventRecord, error) {
	s.logger.Debug("sql", "op", "insert", "table", "job_events", "job_id", ev.JobID, "type", ev.Type)

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	rec := &model.EventRecord{Event: ev, RecordedAt: s.now()}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_events (job_id, type, payload, recorded_at) VALUES (?, ?, ?, ?)`,
		string(ev.JobID), string(ev.Type), string(payload), rec.RecordedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	if rec.Seq, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListEvents returns the job's event history in the order it was recorded.
func (s *SQLiteStore) ListEvents(ctx context.Context, id model.JobID) ([]*model.EventRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "job_events", "job_id", id)

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload, recorded_at FROM job_events WHERE job_id = ? ORDER BY seq`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.EventRecord
	for rows.Next() {
		var rec model.EventRecord
		var payload, recordedAt string
		if err := rows.Scan(&rec.Seq, &payload, &recordedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &rec.Event); err != nil {
			return nil, fmt.Errorf("unmarshal event %d: %w", rec.Seq, err)
		}
		rec.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// --- Job plans ---

// SaveCommands stores the job's plan. Commands already stored are kept.
func (s *SQLiteStore) SaveCommands(ctx context.Context, id model.JobID, cmds []model.Command) error {
	s.logger.Debug("sql", "op", "insert", "table", "job_commands", "job_id", id, "count", len(cmds))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, c := range cmds {
		params, err := json.Marshal(c.Params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		if c.Params == nil {
			params = []byte("{}")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_commands (id, job_id, position, host, kind, target, params, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO NOTHING`,
			c.ID, string(id), i, c.Host, string(c.Kind), c.Target, string(params),
			c.CreatedAt.Format(time.RFC3339Nano), c.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("insert command %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// ListCommands returns the job's plan in submission order.
func (s *SQLiteStore) ListCommands(ctx context.Context, id model.JobID) ([]*model.PlannedCommand, error) {
	s.logger.Debug("sql", "op", "list", "table", "job_commands", "job_id", id)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, host, kind, target, params, status, exit_code, stdout, stderr, reason, created_at, completed_at
		 FROM job_commands WHERE job_id = ? ORDER BY position`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PlannedCommand
	for rows.Next() {
		var pc model.PlannedCommand
		var jobID, kind, status, params, createdAt string
		var completedAt *string
		if err := rows.Scan(&pc.ID, &jobID, &pc.Host, &kind, &pc.Target, &params, &status,
			&pc.ExitCode, &pc.Stdout, &pc.Stderr, &pc.Reason, &createdAt, &completedAt); err != nil {
			return nil, err
		}
		pc.JobID = model.JobID(jobID)
		pc.Kind = model.CommandKind(kind)
		pc.Status = model.CommandStatus(status)
		if err := json.Unmarshal([]byte(params), &pc.Params); err != nil {
			return nil, fmt.Errorf("unmarshal params for command %s: %w", pc.ID, err)
		}
		if len(pc.Params) == 0 {
			pc.Params = nil
		}
		pc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		pc.CompletedAt = parseTimePtr(completedAt)
		out = append(out, &pc)
	}
	return out, rows.Err()
}

// UpdateCommand records the latest result for a planned command. The
// command is matched by ID when the result carries one, otherwise by its
// equality key and host within the job.
func (s *SQLiteStore) UpdateCommand(ctx context.Context, r *model.CommandResult) error {
	s.logger.Debug("sql", "op", "update", "table", "job_commands", "job_id", r.JobID, "command_id", r.CommandID, "status", r.Status)

	set := `status = ?, exit_code = ?, stdout = ?, stderr = ?, reason = ?, completed_at = ?, updated_at = ?`
	args := []any{string(r.Status), r.ExitCode, r.Stdout, r.Stderr, r.Reason,
		formatTimePtr(r.CompletedAt), s.now().Format(time.RFC3339Nano)}

	var query string
	if r.CommandID != "" {
		query = `UPDATE job_commands SET ` + set + ` WHERE id = ? AND job_id = ?`
		args = append(args, r.CommandID, string(r.JobID))
	} else {
		query = `UPDATE job_commands SET ` + set + ` WHERE job_id = ? AND kind = ? AND target = ? AND host = ?`
		args = append(args, string(r.JobID), string(r.Kind), r.Target, r.Host)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("command %s of job %s: %w", r.Key(), r.JobID, sql.ErrNoRows)
	}
	return nil
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.Format(time.RFC3339Nano)
	return &v
}

func parseTimePtr(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, *s)
	if err != nil {
		return nil
	}
	return &t
}
