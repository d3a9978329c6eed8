package storage

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pewsched/internal/plan"
	logx "pewsched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, p := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(p); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", p), logx.Err(err))
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) LoadPlan(ctx context.Context) (*plan.Document, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM plan_meta WHERE id = 1`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoPlan
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT body FROM plan_entries ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	// Reassemble the document so it goes through the same decode and
	// validation path as a plan file.
	var buf bytes.Buffer
	fmt.Fprintf(&buf, `{"version":%d,"entries":[`, version)
	n := 0
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(body)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	buf.WriteString(`]}`)
	return plan.Decode("plan.json", buf.Bytes())
}

func (s *sqliteStore) SavePlan(ctx context.Context, doc *plan.Document) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if doc == nil {
		doc = &plan.Document{}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM plan_entries`); err != nil {
		return err
	}
	for i, e := range doc.Entries {
		body, mErr := json.Marshal(e)
		if mErr != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, mErr)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO plan_entries(id, position, name, body) VALUES(?,?,?,?)`,
			e.ID, i, e.Name, string(body),
		); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO plan_meta(id, version, saved_at) VALUES(1,?,?)
		 ON CONFLICT(id) DO UPDATE SET version=excluded.version, saved_at=excluded.saved_at`,
		plan.DocumentVersion, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return err
	}
	s.log.Debug("plan saved", logx.Int("entries", len(doc.Entries)))
	return nil
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(entry_id, name, started_at, ended_at, duration_ms, reason, run_count)
		 VALUES(?,?,?,?,?,?,?)`,
		r.EntryID, r.Name, r.Start.Format(time.RFC3339Nano), r.End.Format(time.RFC3339Nano),
		r.Duration.Milliseconds(), string(r.Reason), r.RunCount,
	)
	return err
}

func (s *sqliteStore) Runs(ctx context.Context, entryID string, limit int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	q := `SELECT entry_id, name, started_at, ended_at, duration_ms, reason, run_count FROM runs`
	args := []any{}
	if entryID != "" {
		q += ` WHERE entry_id = ? COLLATE NOCASE`
		args = append(args, entryID)
	}
	q += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r            RunRecord
			start, end   string
			durMS        int64
			reason       string
		)
		if err := rows.Scan(&r.EntryID, &r.Name, &start, &end, &durMS, &reason, &r.RunCount); err != nil {
			return nil, err
		}
		if r.Start, err = time.Parse(time.RFC3339Nano, start); err != nil {
			return nil, err
		}
		if r.End, err = time.Parse(time.RFC3339Nano, end); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.Reason = plan.StopReason(reason)
		out = append(out, r)
	}
	return out, rows.Err()
}
