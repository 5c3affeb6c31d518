package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

// Store is the default on-disk store. A single connection serializes
// writers, so every append is one atomic statement.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

func New(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("sqlite_ready", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }
func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// ---- EndpointStore ----

const endpointCols = `id, name, url, method, headers, body, expected_status, check_interval, is_active, created_at`

func (s *Store) CreateEndpoint(ctx context.Context, e *domain.Endpoint) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	headers, err := json.Marshal(e.Headers)
	if err != nil {
		return fmt.Errorf("encode headers: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_endpoints (name, url, method, headers, body, expected_status, check_interval, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Name, e.URL, e.Method, string(headers), e.Body, e.ExpectedStatus, e.CheckInterval, e.IsActive, nanos(e.CreatedAt))
	if err != nil {
		if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return domain.ErrDuplicateName
		}
		return fmt.Errorf("insert endpoint: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("endpoint id: %w", err)
	}
	e.ID = domain.EndpointID(id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(sc scanner) (*domain.Endpoint, error) {
	var (
		e         domain.Endpoint
		headers   string
		body      sql.NullString
		createdAt int64
	)
	if err := sc.Scan(&e.ID, &e.Name, &e.URL, &e.Method, &headers, &body,
		&e.ExpectedStatus, &e.CheckInterval, &e.IsActive, &createdAt); err != nil {
		return nil, err
	}
	if headers != "" && headers != "null" {
		if err := json.Unmarshal([]byte(headers), &e.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %q: %w", e.Name, err)
		}
	}
	if body.Valid {
		b := body.String
		e.Body = &b
	}
	e.CreatedAt = fromNanos(createdAt)
	return &e, nil
}

func (s *Store) getEndpoint(ctx context.Context, where string, arg any) (*domain.Endpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+endpointCols+` FROM api_endpoints WHERE `+where, arg)
	e, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return e, nil
}

func (s *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	return s.getEndpoint(ctx, "id = ?", int64(id))
}

func (s *Store) GetEndpointByName(ctx context.Context, name string) (*domain.Endpoint, error) {
	return s.getEndpoint(ctx, "name = ?", name)
}

func (s *Store) listEndpoints(ctx context.Context, query string) ([]domain.Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list endpoints: %w", err)
	}
	defer rows.Close()
	var out []domain.Endpoint
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("scan endpoint: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *Store) ListEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	return s.listEndpoints(ctx, `SELECT `+endpointCols+` FROM api_endpoints ORDER BY name`)
}

func (s *Store) ListActiveEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	return s.listEndpoints(ctx, `SELECT `+endpointCols+` FROM api_endpoints WHERE is_active = 1 ORDER BY name`)
}

func (s *Store) SetEndpointActive(ctx context.Context, id domain.EndpointID, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_endpoints SET is_active = ? WHERE id = ?`, active, int64(id))
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, id domain.EndpointID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM api_metrics WHERE endpoint_id = ?`,
		`DELETE FROM performance_summary WHERE endpoint_id = ?`,
		`DELETE FROM api_endpoints WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, int64(id)); err != nil {
			return fmt.Errorf("delete endpoint %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// ---- ResultStore ----

func (s *Store) AppendResult(ctx context.Context, r *domain.CheckResult) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	var errMsg *string
	if r.Error != "" {
		errMsg = &r.Error
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_metrics (endpoint_id, response_time, status_code, success, error_message, response_size, outcome, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(r.EndpointID), r.ResponseTime, r.StatusCode, r.Success, errMsg, r.ResponseSize, string(r.Outcome), nanos(r.Timestamp))
	if err != nil {
		if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return domain.ErrNotFound
		}
		return fmt.Errorf("insert result: %w", err)
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

const resultCols = `id, endpoint_id, response_time, status_code, success, error_message, response_size, outcome, timestamp`

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]domain.CheckResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()
	var out []domain.CheckResult
	for rows.Next() {
		var (
			r       domain.CheckResult
			status  sql.NullInt64
			errMsg  sql.NullString
			outcome string
			ts      int64
		)
		if err := rows.Scan(&r.ID, &r.EndpointID, &r.ResponseTime, &status, &r.Success,
			&errMsg, &r.ResponseSize, &outcome, &ts); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if status.Valid {
			v := int(status.Int64)
			r.StatusCode = &v
		}
		r.Error = errMsg.String
		r.Outcome = domain.Outcome(outcome)
		r.Timestamp = fromNanos(ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ResultsSince(ctx context.Context, id domain.EndpointID, since time.Time) ([]domain.CheckResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultCols+` FROM api_metrics
		  WHERE endpoint_id = ? AND timestamp >= ?
		  ORDER BY timestamp DESC, id DESC`,
		int64(id), nanos(since))
}

func (s *Store) ResultsBetween(ctx context.Context, id domain.EndpointID, from, to time.Time) ([]domain.CheckResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultCols+` FROM api_metrics
		  WHERE endpoint_id = ? AND timestamp >= ? AND timestamp <= ?
		  ORDER BY timestamp ASC, id ASC`,
		int64(id), nanos(from), nanos(to))
}

func (s *Store) DeleteResults(ctx context.Context, id domain.EndpointID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM api_metrics WHERE endpoint_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	return nil
}

func (s *Store) PruneResults(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_metrics WHERE timestamp < ?`, nanos(before))
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	return res.RowsAffected()
}

// ---- SummaryStore ----

func (s *Store) UpsertSummary(ctx context.Context, p *domain.PerformanceSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO performance_summary
		   (endpoint_id, endpoint_name, avg_response_time, min_response_time, max_response_time,
		    success_rate, total_requests, successful_requests, failed_requests, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(p.EndpointID), p.EndpointName, p.AvgResponseTime, p.MinResponseTime, p.MaxResponseTime,
		p.SuccessRate, p.TotalRequests, p.SuccessfulRequests, p.FailedRequests, nanos(p.LastUpdated))
	if err != nil {
		if sqliteCode(err) == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
			return domain.ErrNotFound
		}
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

const summaryCols = `endpoint_id, endpoint_name, avg_response_time, min_response_time, max_response_time,
	success_rate, total_requests, successful_requests, failed_requests, last_updated`

func scanSummary(sc scanner) (*domain.PerformanceSummary, error) {
	var (
		p  domain.PerformanceSummary
		ts int64
	)
	if err := sc.Scan(&p.EndpointID, &p.EndpointName, &p.AvgResponseTime, &p.MinResponseTime, &p.MaxResponseTime,
		&p.SuccessRate, &p.TotalRequests, &p.SuccessfulRequests, &p.FailedRequests, &ts); err != nil {
		return nil, err
	}
	p.LastUpdated = fromNanos(ts)
	return &p, nil
}

func (s *Store) GetSummary(ctx context.Context, id domain.EndpointID) (*domain.PerformanceSummary, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+summaryCols+` FROM performance_summary WHERE endpoint_id = ?`, int64(id))
	p, err := scanSummary(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return p, nil
}

func (s *Store) ListSummaries(ctx context.Context) ([]domain.PerformanceSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+summaryCols+` FROM performance_summary ORDER BY endpoint_name`)
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()
	var out []domain.PerformanceSummary
	for rows.Next() {
		p, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSummary(ctx context.Context, id domain.EndpointID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM performance_summary WHERE endpoint_id = ?`, int64(id)); err != nil {
		return fmt.Errorf("delete summary: %w", err)
	}
	return nil
}
