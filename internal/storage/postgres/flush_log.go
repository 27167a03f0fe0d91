// Package postgres provides the Postgres-backed flush audit log.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/digest-enricher/internal/digest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable holds flush runs when no table is configured.
const DefaultTable = "flush_runs"

// Config controls the Postgres connection pool used for flush rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// FlushLog writes one row per patching flush.
type FlushLog struct {
	pool  queryExecCloser
	table string
}

var _ digest.FlushLog = (*FlushLog)(nil)

// New creates a Postgres-backed FlushLog using the provided config.
func New(ctx context.Context, cfg Config) (*FlushLog, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log, err := NewWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return log, nil
}

// NewWithPool constructs a log from an existing pool (primarily for testing).
func NewWithPool(pool queryExecCloser, table string) (*FlushLog, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &FlushLog{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (l *FlushLog) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// EnsureSchema creates the flush table when it does not exist.
func (l *FlushLog) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	batch_date TEXT NOT NULL,
	task_type TEXT NOT NULL,
	lang TEXT NOT NULL DEFAULT '',
	total INTEGER NOT NULL,
	flushed INTEGER NOT NULL,
	counts JSONB NOT NULL,
	message TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
)`, l.table)
	if _, err := l.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", l.table, err)
	}
	return nil
}

// RecordFlush inserts a flush row.
func (l *FlushLog) RecordFlush(ctx context.Context, run digest.FlushRun) error {
	if l == nil || l.pool == nil {
		return fmt.Errorf("flush log is not configured")
	}
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	counts, err := json.Marshal(run.Result.Counts)
	if err != nil {
		return fmt.Errorf("marshal counts: %w", err)
	}
	query, args, err := psql.Insert(l.table).
		Columns("id", "batch_date", "task_type", "lang", "total", "flushed", "counts", "message", "started_at", "duration_ms").
		Values(
			run.ID,
			run.Date.String(),
			string(run.Request.Type),
			string(run.Request.Lang),
			run.Request.Total,
			run.Result.Flushed,
			counts,
			run.Result.Message,
			run.StartedAt,
			run.Duration.Milliseconds(),
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := l.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert flush run: %w", err)
	}
	return nil
}

// Recent returns up to limit runs for date, newest first.
func (l *FlushLog) Recent(ctx context.Context, date digest.DateKey, limit uint64) ([]digest.FlushRun, error) {
	if limit == 0 {
		limit = 20
	}
	query, args, err := psql.
		Select("id", "batch_date", "task_type", "lang", "total", "flushed", "counts", "message", "started_at", "duration_ms").
		From(l.table).
		Where(sq.Eq{"batch_date": date.String()}).
		OrderBy("started_at DESC").
		Limit(limit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query flush runs: %w", err)
	}
	defer rows.Close()

	var runs []digest.FlushRun
	for rows.Next() {
		var (
			run        digest.FlushRun
			batchDate  string
			taskType   string
			lang       string
			counts     []byte
			durationMs int64
		)
		if err := rows.Scan(&run.ID, &batchDate, &taskType, &lang, &run.Request.Total, &run.Result.Flushed,
			&counts, &run.Result.Message, &run.StartedAt, &durationMs); err != nil {
			return nil, fmt.Errorf("scan flush run: %w", err)
		}
		if err := json.Unmarshal(counts, &run.Result.Counts); err != nil {
			return nil, fmt.Errorf("decode counts: %w", err)
		}
		run.Date = digest.DateKey(batchDate)
		run.Request.Type = digest.TaskType(taskType)
		run.Request.Lang = digest.Lang(lang)
		run.Result.Attempted = true
		run.Result.CanFlush = true
		run.Result.TotalKeys = run.Result.Counts.EN + run.Result.Counts.KO + run.Result.Counts.JA + run.Result.Counts.Content
		run.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flush runs: %w", err)
	}
	return runs, nil
}
