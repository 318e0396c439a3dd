package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/foamrun/internal/logging"
	"github.com/me/foamrun/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
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
		logger: logging.Component(logger, "store"),
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

// timeFormat keeps a fixed fraction width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, state, mesh_dir, base_dir, case_dir, n_proc, mapping, geometry, warnings, result,
	failed_step, error, elapsed_ns, pipeline_elapsed_ns, report_path, created_at, completed_at`

// runRow holds the JSON and time columns of a run before decoding.
type runRow struct {
	mapping, geometry, warnings string
	result                      sql.NullString
	elapsed, pipelineElapsed    int64
	createdAt                   string
	completedAt                 sql.NullString
}

func encodeRun(run *model.Run) (runRow, error) {
	var row runRow
	mapping, err := json.Marshal(run.Mapping)
	if err != nil {
		return row, fmt.Errorf("marshal mapping: %w", err)
	}
	geometry, err := json.Marshal(run.Geometry)
	if err != nil {
		return row, fmt.Errorf("marshal geometry: %w", err)
	}
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return row, fmt.Errorf("marshal warnings: %w", err)
	}
	row.mapping, row.geometry, row.warnings = string(mapping), string(geometry), string(warnings)
	if run.Result != nil {
		result, err := json.Marshal(run.Result)
		if err != nil {
			return row, fmt.Errorf("marshal result: %w", err)
		}
		row.result = sql.NullString{String: string(result), Valid: true}
	}
	row.elapsed = int64(run.Elapsed)
	row.pipelineElapsed = int64(run.PipelineElapsed)
	row.createdAt = run.CreatedAt.UTC().Format(timeFormat)
	if run.CompletedAt != nil {
		row.completedAt = sql.NullString{String: run.CompletedAt.UTC().Format(timeFormat), Valid: true}
	}
	return row, nil
}

func (row runRow) decode(run *model.Run) error {
	if err := json.Unmarshal([]byte(row.mapping), &run.Mapping); err != nil {
		return fmt.Errorf("unmarshal mapping: %w", err)
	}
	if err := json.Unmarshal([]byte(row.geometry), &run.Geometry); err != nil {
		return fmt.Errorf("unmarshal geometry: %w", err)
	}
	if err := json.Unmarshal([]byte(row.warnings), &run.Warnings); err != nil {
		return fmt.Errorf("unmarshal warnings: %w", err)
	}
	if row.result.Valid {
		run.Result = &model.CoefficientSample{}
		if err := json.Unmarshal([]byte(row.result.String), run.Result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	run.Elapsed = time.Duration(row.elapsed)
	run.PipelineElapsed = time.Duration(row.pipelineElapsed)
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, row.createdAt)
	if row.completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, row.completedAt.String)
		run.CompletedAt = &t
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*model.Run, error) {
	var run model.Run
	var row runRow
	if err := sc.Scan(&run.ID, &run.State, &run.MeshDir, &run.BaseDir, &run.CaseDir, &run.NProc,
		&row.mapping, &row.geometry, &row.warnings, &row.result,
		&run.FailedStep, &run.Error, &row.elapsed, &row.pipelineElapsed, &run.ReportPath, &row.createdAt, &row.completedAt); err != nil {
		return nil, err
	}
	if err := row.decode(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

// --- Run CRUD ---

// CreateRun inserts run and its stage records.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID)

	row, err := encodeRun(run)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.State), run.MeshDir, run.BaseDir, run.CaseDir, run.NProc,
		row.mapping, row.geometry, row.warnings, row.result,
		run.FailedStep, run.Error, row.elapsed, row.pipelineElapsed, run.ReportPath, row.createdAt, row.completedAt,
	)
	if err != nil {
		return err
	}
	if err := insertStages(ctx, tx, run.ID, run.Stages); err != nil {
		return err
	}
	return tx.Commit()
}

// GetRun returns the run with the given ID, or nil when it does not exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	stages, err := s.listStages(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Stages = stages
	return run, nil
}

// ListRuns returns runs newest first without their stage records, plus the
// total count matching opts.State.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	where := ""
	var args []any
	if opts.State != "" {
		where = " WHERE state = ?"
		args = append(args, string(opts.State))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs`+where+` ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// UpdateRun rewrites the mutable fields of run and replaces its stage records.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.Run) error {
	s.logger.Debug("sql", "op", "update", "table", "runs", "id", run.ID, "state", run.State)

	row, err := encodeRun(run)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE runs SET state = ?, mapping = ?, geometry = ?, warnings = ?, result = ?,
		 failed_step = ?, error = ?, elapsed_ns = ?, pipeline_elapsed_ns = ?, report_path = ?, completed_at = ?
		 WHERE id = ?`,
		string(run.State), row.mapping, row.geometry, row.warnings, row.result,
		run.FailedStep, run.Error, row.elapsed, row.pipelineElapsed, run.ReportPath, row.completedAt,
		run.ID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM stages WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	if err := insertStages(ctx, tx, run.ID, run.Stages); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteRun removes a run and its stage records.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "id", id)
	_, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	return err
}

func insertStages(ctx context.Context, tx *sql.Tx, runID string, stages []model.StageRecord) error {
	for i, st := range stages {
		var start sql.NullString
		if !st.StartTime.IsZero() {
			start = sql.NullString{String: st.StartTime.UTC().Format(timeFormat), Valid: true}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO stages (run_id, seq, name, status, invocations, exit_code, start_time, duration_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, st.Name, string(st.Status), st.Invocations, st.ExitCode, start, int64(st.Duration),
		)
		if err != nil {
			return fmt.Errorf("insert stage %s: %w", st.Name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) listStages(ctx context.Context, runID string) ([]model.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, status, invocations, exit_code, start_time, duration_ns
		 FROM stages WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stages []model.StageRecord
	for rows.Next() {
		var st model.StageRecord
		var start sql.NullString
		var dur int64
		if err := rows.Scan(&st.Name, &st.Status, &st.Invocations, &st.ExitCode, &start, &dur); err != nil {
			return nil, err
		}
		if start.Valid {
			st.StartTime, _ = time.Parse(time.RFC3339Nano, start.String)
		}
		st.Duration = time.Duration(dur)
		stages = append(stages, st)
	}
	return stages, rows.Err()
}
