package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	tmerrors "github.com/testmaster/testmaster/internal/errors"
)

var ErrNotFound = tmerrors.New(tmerrors.KindNotFound, "not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    script_name TEXT NOT NULL,
    unit_index INTEGER NOT NULL,
    serial TEXT NOT NULL DEFAULT '',
    operator_name TEXT NOT NULL DEFAULT '',
    comments TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_runs_script ON runs(script_name);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

CREATE TABLE IF NOT EXISTS run_rows (
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    message_type TEXT NOT NULL,
    test_name TEXT NOT NULL,
    result_type TEXT NOT NULL DEFAULT '',
    expected_range TEXT NOT NULL DEFAULT 'null',
    result_unit TEXT NOT NULL DEFAULT 'null',
    result TEXT NOT NULL DEFAULT 'null',
    pass TEXT NOT NULL DEFAULT 'null',
    PRIMARY KEY (run_id, position),
    FOREIGN KEY (run_id) REFERENCES runs(id)
);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts run and its rows in one transaction. An empty ID is assigned a UUID and a
// zero CreatedAt is set to now.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *Run) (*Run, error) {
	saved := *run
	if saved.ID == "" {
		saved.ID = uuid.NewString()
	}
	if saved.CreatedAt.IsZero() {
		saved.CreatedAt = time.Now()
	}
	saved.CreatedAt = time.Unix(saved.CreatedAt.Unix(), 0)
	saved.RowCount = len(saved.Rows)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, script_name, unit_index, serial, operator_name, comments, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		saved.ID, saved.ScriptName, saved.UnitIndex, saved.Serial, saved.OperatorName, saved.Comments, saved.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}

	for i, r := range saved.Rows {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO run_rows (run_id, position, message_type, test_name, result_type, expected_range, result_unit, result, pass)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			saved.ID, i, r.MessageType, r.TestName, r.ResultType,
			jsonOrNull(r.ExpectedRange), jsonOrNull(r.ResultUnit), jsonOrNull(r.Result), jsonOrNull(r.Pass),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert run row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit run: %w", err)
	}

	return &saved, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, script_name, unit_index, serial, operator_name, comments, created_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.ScriptName, &run.UnitIndex, &run.Serial, &run.OperatorName, &run.Comments, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.CreatedAt = time.Unix(createdAt, 0)

	rows, err := s.db.QueryContext(ctx,
		`SELECT message_type, test_name, result_type, expected_range, result_unit, result, pass
		 FROM run_rows WHERE run_id = ? ORDER BY position`, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get run rows: %w", err)
	}
	defer rows.Close()

	run.Rows = []Row{}
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.MessageType, &r.TestName, &r.ResultType, &r.ExpectedRange, &r.ResultUnit, &r.Result, &r.Pass); err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		run.Rows = append(run.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run rows: %w", err)
	}
	run.RowCount = len(run.Rows)

	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	query := `SELECT r.id, r.script_name, r.unit_index, r.serial, r.operator_name, r.comments, r.created_at,
		(SELECT COUNT(*) FROM run_rows rr WHERE rr.run_id = r.id)
		FROM runs r`

	var where []string
	var args []any
	if filter.ScriptName != "" {
		where = append(where, "r.script_name = ?")
		args = append(args, filter.ScriptName)
	}
	if filter.UnitIndex > 0 {
		where = append(where, "r.unit_index = ?")
		args = append(args, filter.UnitIndex)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.created_at DESC, r.unit_index"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var createdAt int64

		err := rows.Scan(&run.ID, &run.ScriptName, &run.UnitIndex, &run.Serial, &run.OperatorName, &run.Comments, &createdAt, &run.RowCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.CreatedAt = time.Unix(createdAt, 0)
		runs = append(runs, &run)
	}

	return runs, nil
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	// First delete related rows
	_, err := s.db.ExecContext(ctx, `DELETE FROM run_rows WHERE run_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run rows: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func jsonOrNull(s string) string {
	if s == "" {
		return "null"
	}
	return s
}
