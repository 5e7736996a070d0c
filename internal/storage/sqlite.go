package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "jobsched/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	retain     int
	opCount    atomic.Uint64
	pruneEvery uint64
}

// sqliteDSN sets the pragmas on the connection string so they hold for
// every connection the pool opens.
func sqliteDSN(cfg Config) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if cfg.BusyTimeout > 0 {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(cfg))
	if err != nil {
		return nil, err
	}
	// One writer; the journal is written by a single goroutine anyway.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: migrate %s: %w", cfg.Path, err)
	}
	log.Debug("storage.sqlite_opened", logx.String("path", cfg.Path), logx.Int("retain", cfg.retain()))
	return &sqliteStore{db: db, log: log, retain: cfg.retain(), pruneEvery: 500}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	r.fillID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, scheduler, job_id, job, due, started, duration_ms, err)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Scheduler, int64(r.JobID), r.Job,
		r.Due.UTC().Format(time.RFC3339Nano), r.Started.UTC().Format(time.RFC3339Nano),
		r.DurationMS, nullStr(r.Error),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		if perr := s.prune(pctx); perr != nil {
			s.log.Debug("storage.prune_failed", logx.Err(perr))
		}
		cancel()
	}
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scheduler, job_id, job, due, started, duration_ms, COALESCE(err, '')
		 FROM runs ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r          RunRecord
			jobID      int64
			due, start string
		)
		if err := rows.Scan(&r.ID, &r.Scheduler, &jobID, &r.Job, &due, &start, &r.DurationMS, &r.Error); err != nil {
			return nil, err
		}
		r.JobID = uint64(jobID)
		r.Due, _ = time.Parse(time.RFC3339Nano, due)
		r.Started, _ = time.Parse(time.RFC3339Nano, start)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) prune(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE seq <= (SELECT seq FROM runs ORDER BY seq DESC LIMIT 1 OFFSET ?)`, s.retain)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
