// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/volantvm/reanaconda/internal/db"
)

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// executor abstracts *sql.DB and *sql.Tx for shared query logic.
type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	exec executor
}

var _ db.Queries = (*queries)(nil)

func (q *queries) Handles() db.HandleRepository {
	return &handleRepository{exec: q.exec}
}

func (q *queries) Sessions() db.SessionRepository {
	return &sessionRepository{exec: q.exec}
}

type rowScanner interface {
	Scan(dest ...any) error
}

type handleRepository struct {
	exec executor
}

var _ db.HandleRepository = (*handleRepository)(nil)

func (r *handleRepository) Put(ctx context.Context, handle *db.Handle) error {
	if handle == nil {
		return errors.New("put handle: nil handle")
	}
	args, err := json.Marshal(handle.Args)
	if err != nil {
		return fmt.Errorf("encode handle args: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.exec.ExecContext(
		ctx,
		`INSERT INTO handles (id, args, monitor_port, snapshot_name, created_at, updated_at)
         VALUES (1, ?, ?, ?, ?, ?)
         ON CONFLICT(id) DO UPDATE SET
             args = excluded.args,
             monitor_port = excluded.monitor_port,
             snapshot_name = excluded.snapshot_name,
             updated_at = excluded.updated_at;`,
		string(args),
		handle.MonitorPort,
		handle.SnapshotName,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert handle: %w", err)
	}
	return nil
}

func (r *handleRepository) Get(ctx context.Context) (*db.Handle, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT args, monitor_port, snapshot_name, created_at, updated_at FROM handles WHERE id = 1;`)

	var (
		rawArgs            string
		handle             db.Handle
		createdAt, updated any
	)
	if err := row.Scan(&rawArgs, &handle.MonitorPort, &handle.SnapshotName, &createdAt, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, fmt.Errorf("select handle: %w", err)
	}
	if err := json.Unmarshal([]byte(rawArgs), &handle.Args); err != nil {
		return nil, fmt.Errorf("decode handle args: %w", err)
	}

	var err error
	if handle.CreatedAt, err = parseTimeField(createdAt); err != nil {
		return nil, fmt.Errorf("handle created_at: %w", err)
	}
	if handle.UpdatedAt, err = parseTimeField(updated); err != nil {
		return nil, fmt.Errorf("handle updated_at: %w", err)
	}
	return &handle, nil
}

func (r *handleRepository) UpdateMonitorPort(ctx context.Context, port int) error {
	res, err := r.exec.ExecContext(ctx, `UPDATE handles SET monitor_port = ?, updated_at = ? WHERE id = 1;`, port, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update monitor port: %w", err)
	}
	return requireRow(res)
}

type sessionRepository struct {
	exec executor
}

var _ db.SessionRepository = (*sessionRepository)(nil)

func (r *sessionRepository) Create(ctx context.Context, s *db.Session) error {
	if s == nil || s.ID == "" {
		return errors.New("create session: id required")
	}
	started := s.StartedAt.UTC()
	if s.StartedAt.IsZero() {
		started = time.Now().UTC()
	}
	status := s.Status
	if status == "" {
		status = db.SessionStatusRunning
	}
	_, err := r.exec.ExecContext(
		ctx,
		`INSERT INTO resume_sessions (id, payload_path, payload_sha256, payload_size, responder_port, monitor_port, status, error, started_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		s.ID,
		s.PayloadPath,
		s.PayloadSHA256,
		s.PayloadSize,
		s.ResponderPort,
		s.MonitorPort,
		string(status),
		s.Error,
		started,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepository) Finish(ctx context.Context, id string, status db.SessionStatus, errMsg string, finishedAt time.Time) error {
	res, err := r.exec.ExecContext(ctx, `UPDATE resume_sessions SET status = ?, error = ?, finished_at = ? WHERE id = ?;`, string(status), errMsg, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return requireRow(res)
}

func (r *sessionRepository) Get(ctx context.Context, id string) (*db.Session, error) {
	row := r.exec.QueryRowContext(ctx, `SELECT id, payload_path, payload_sha256, payload_size, responder_port, monitor_port, status, error, started_at, finished_at FROM resume_sessions WHERE id = ?;`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *sessionRepository) ListRecent(ctx context.Context, limit int) ([]db.Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.exec.QueryContext(ctx, `SELECT id, payload_path, payload_sha256, payload_size, responder_port, monitor_port, status, error, started_at, finished_at FROM resume_sessions ORDER BY started_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []db.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

func scanSession(row rowScanner) (db.Session, error) {
	var (
		s                 db.Session
		status            string
		started, finished any
	)
	if err := row.Scan(&s.ID, &s.PayloadPath, &s.PayloadSHA256, &s.PayloadSize, &s.ResponderPort, &s.MonitorPort, &status, &s.Error, &started, &finished); err != nil {
		return db.Session{}, err
	}
	s.Status = db.SessionStatus(status)

	var err error
	if s.StartedAt, err = parseTimeField(started); err != nil {
		return db.Session{}, fmt.Errorf("session started_at: %w", err)
	}
	if finished != nil {
		t, err := parseTimeField(finished)
		if err != nil {
			return db.Session{}, fmt.Errorf("session finished_at: %w", err)
		}
		s.FinishedAt = &t
	}
	return s, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return db.ErrNotFound
	}
	return nil
}

func parseTimeField(value any) (time.Time, error) {
	if value == nil {
		return time.Time{}, fmt.Errorf("time field nil")
	}
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, v); err == nil {
				return t, nil
			}
		}
	case []byte:
		str := string(v)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, str); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", value)
}
