// Package calllog records dispatched transactions in a SQLite database.
package calllog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/trproxy/trproxy/pkg/models"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Log writes and queries call records in a dedicated SQLite database.
type Log struct {
	db   *sql.DB
	cfg  models.CallLogConfig
	log  *zap.Logger
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the call log database and creates the schema.
func New(cfg models.CallLogConfig, log *zap.Logger) (*Log, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open call log db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate call log db: %w", err)
	}

	l := &Log{
		db:   db,
		cfg:  cfg,
		log:  log,
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS call_log (
		request_id   TEXT PRIMARY KEY,
		code         TEXT NOT NULL,
		alias        TEXT,
		tier         TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		has_cont_key INTEGER NOT NULL DEFAULT 0,
		status_code  INTEGER,
		error        TEXT,
		latency_ms   INTEGER,
		created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_code ON call_log(code)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_call_created ON call_log(created_at)`)
	return err
}

// Record inserts a call record. A nil Log discards the record.
func (l *Log) Record(ctx context.Context, rec models.CallRecord) error {
	if l == nil || l.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO call_log
		(request_id, code, alias, tier, outcome, has_cont_key,
		 status_code, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.Code, rec.Alias, rec.Tier, rec.Outcome, rec.HasContKey,
		rec.StatusCode, rec.Error, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("record call: %w", err)
	}
	return nil
}

// Query returns call records matching opts, newest first.
func (l *Log) Query(ctx context.Context, opts models.CallQueryOpts) ([]models.CallRecord, error) {
	q := `SELECT request_id, code, alias, tier, outcome, has_cont_key,
		status_code, error, latency_ms, created_at
		FROM call_log WHERE 1=1`
	var args []any

	if opts.Code != "" {
		q += " AND code = ?"
		args = append(args, opts.Code)
	}
	if opts.Tier != "" {
		q += " AND tier = ?"
		args = append(args, opts.Tier)
	}
	if opts.Outcome != "" {
		q += " AND outcome = ?"
		args = append(args, opts.Outcome)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since)
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	var records []models.CallRecord
	for rows.Next() {
		var r models.CallRecord
		var alias, errText sql.NullString
		if err := rows.Scan(
			&r.RequestID, &r.Code, &alias, &r.Tier, &r.Outcome, &r.HasContKey,
			&r.StatusCode, &errText, &r.LatencyMs, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan call row: %w", err)
		}
		r.Alias = alias.String
		r.Error = errText.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns call, hit and error counts grouped by code and day.
func (l *Log) Stats(ctx context.Context) ([]models.CallStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT code, date(created_at) AS day, count(*),
			sum(CASE WHEN outcome = 'hit' THEN 1 ELSE 0 END),
			sum(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END)
		 FROM call_log GROUP BY code, day ORDER BY day DESC, code`)
	if err != nil {
		return nil, fmt.Errorf("call stats: %w", err)
	}
	defer rows.Close()

	var stats []models.CallStat
	for rows.Next() {
		var s models.CallStat
		var day sql.NullString
		if err := rows.Scan(&s.Code, &day, &s.Calls, &s.Hits, &s.Errors); err != nil {
			return nil, fmt.Errorf("scan call stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes records older than the configured retention period.
func (l *Log) Cleanup(ctx context.Context) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM call_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("call log cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Log) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Log) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			n, err := l.Cleanup(context.Background())
			if err != nil {
				l.log.Warn("call log retention failed", zap.Error(err))
				continue
			}
			if n > 0 {
				l.log.Info("call log retention", zap.Int64("deleted", n))
			}
		}
	}
}
