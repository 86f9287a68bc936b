// Package store keeps tasks in a local sqlite database. Rows are handed out
// as raw records, the same way a remote backend would return them, and go
// through the normalizer like every other source.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/harrisonrobin/duet/pkg/model"
	"github.com/harrisonrobin/duet/pkg/normalize"
)

var (
	ErrNotFound = errors.New("task not found")
	ErrNoDate   = errors.New("record has no usable date")
)

type Store struct {
	db *sql.DB
}

// columns lists every column a row can carry, in select order. due_date and
// duration belong to the original schema and are never written by this
// version, but old rows still have them.
var columns = []string{
	"id", "title", "emoji", "date_iso", "due_date", "start_time", "duration_minutes", "duration",
	"is_completed", "is_shared", "priority", "steps", "recurrence", "alerts", "assigned_to",
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if !strings.HasPrefix(dbPath, "file:") {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	due_date TEXT DEFAULT NULL,
	duration TEXT DEFAULT NULL,
	is_completed INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);`
	if _, err := s.db.Exec(ddl); err != nil {
		return err
	}
	return s.ensureTaskColumns()
}

// ensureTaskColumns adds the columns introduced after the first schema.
func (s *Store) ensureTaskColumns() error {
	required := []struct{ name, ddl string }{
		{"emoji", "ALTER TABLE tasks ADD COLUMN emoji TEXT DEFAULT NULL;"},
		{"date_iso", "ALTER TABLE tasks ADD COLUMN date_iso TEXT DEFAULT NULL;"},
		{"start_time", "ALTER TABLE tasks ADD COLUMN start_time TEXT DEFAULT NULL;"},
		{"duration_minutes", "ALTER TABLE tasks ADD COLUMN duration_minutes INTEGER DEFAULT NULL;"},
		{"is_shared", "ALTER TABLE tasks ADD COLUMN is_shared INTEGER DEFAULT NULL;"},
		{"priority", "ALTER TABLE tasks ADD COLUMN priority TEXT DEFAULT NULL;"},
		{"steps", "ALTER TABLE tasks ADD COLUMN steps TEXT DEFAULT NULL;"},
		{"recurrence", "ALTER TABLE tasks ADD COLUMN recurrence TEXT DEFAULT NULL;"},
		{"alerts", "ALTER TABLE tasks ADD COLUMN alerts TEXT DEFAULT NULL;"},
		{"assigned_to", "ALTER TABLE tasks ADD COLUMN assigned_to TEXT DEFAULT NULL;"},
	}
	existing := map[string]struct{}{}
	rows, err := s.db.Query(`PRAGMA table_info(tasks);`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			rows.Close()
			return err
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, col := range required {
		if _, ok := existing[col.name]; ok {
			continue
		}
		if _, err := s.db.Exec(col.ddl); err != nil {
			return err
		}
	}
	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS tasks_date ON tasks (COALESCE(date_iso, due_date));`)
	return err
}

// Fetch returns the raw records dated within [from, to], both inclusive
// YYYY-MM-DD labels. NULL columns are left out of each record.
func (s *Store) Fetch(ctx context.Context, from, to string) ([]normalize.Record, error) {
	query := `SELECT ` + strings.Join(columns, ", ") + ` FROM tasks
WHERE COALESCE(date_iso, due_date) BETWEEN ? AND ?
ORDER BY COALESCE(date_iso, due_date), created_at;`
	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var records []normalize.Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		r := make(normalize.Record, len(columns))
		for i, col := range columns {
			if values[i] != nil {
				r[col] = values[i]
			}
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Insert stores a canonical task, assigning an id when it has none.
func (s *Store) Insert(ctx context.Context, t model.Task) (string, error) {
	return s.write(ctx, t, "")
}

// Upsert stores a task, replacing the row with the same id. The original
// created_at is kept so ordering within a day does not change.
func (s *Store) Upsert(ctx context.Context, t model.Task) (string, error) {
	return s.write(ctx, t, `
ON CONFLICT(id) DO UPDATE SET
	title = excluded.title, emoji = excluded.emoji, date_iso = excluded.date_iso,
	start_time = excluded.start_time, duration_minutes = excluded.duration_minutes,
	is_completed = excluded.is_completed, is_shared = excluded.is_shared, priority = excluded.priority,
	steps = excluded.steps, recurrence = excluded.recurrence, alerts = excluded.alerts,
	assigned_to = excluded.assigned_to, due_date = NULL, duration = NULL`)
}

func (s *Store) write(ctx context.Context, t model.Task, conflict string) (string, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var start, duration any
	if t.Scheduled() {
		start = t.StartTime
	}
	if t.DurationMinutes != nil {
		duration = *t.DurationMinutes
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks
(id, title, emoji, date_iso, start_time, duration_minutes, is_completed, is_shared, priority, steps, recurrence, alerts, assigned_to, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`+conflict+`;`,
		t.ID, t.Title, t.Emoji, t.DateISO, start, duration, boolInt(t.IsCompleted), boolInt(t.IsShared),
		string(t.Priority), jsonText(t.Steps), jsonText(t.Recurrence), jsonText(t.Alerts), jsonText(t.AssignedTo),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	return t.ID, nil
}

// InsertRecord normalizes a raw record and stores the result.
func (s *Store) InsertRecord(ctx context.Context, r normalize.Record) (string, error) {
	t, ok := normalize.Normalize(r)
	if !ok {
		return "", ErrNoDate
	}
	return s.Insert(ctx, t)
}

func (s *Store) ToggleCompletion(ctx context.Context, id string) error {
	return s.update(ctx, id, `UPDATE tasks SET is_completed = 1 - is_completed WHERE id = ?;`, id)
}

func (s *Store) ReplaceSteps(ctx context.Context, id string, steps []model.Step) error {
	if steps == nil {
		steps = []model.Step{}
	}
	return s.update(ctx, id, `UPDATE tasks SET steps = ? WHERE id = ?;`, jsonText(steps), id)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, id, `DELETE FROM tasks WHERE id = ?;`, id)
}

func (s *Store) update(ctx context.Context, id, stmt string, args ...any) error {
	res, err := s.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func jsonText(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
