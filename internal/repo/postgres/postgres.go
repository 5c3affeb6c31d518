package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var _ repo.Store = (*Store)(nil)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("postgres_ready")
	return s, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

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
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO api_endpoints (name, url, method, headers, body, expected_status, check_interval, is_active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		e.Name, e.URL, e.Method, string(headers), e.Body, e.ExpectedStatus, e.CheckInterval, e.IsActive, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		if pgCode(err) == uniqueViolation {
			return domain.ErrDuplicateName
		}
		return fmt.Errorf("insert endpoint: %w", err)
	}
	e.ID = domain.EndpointID(id)
	return nil
}

func scanEndpoint(row pgx.Row) (*domain.Endpoint, error) {
	var (
		e       domain.Endpoint
		id      int64
		headers []byte
	)
	if err := row.Scan(&id, &e.Name, &e.URL, &e.Method, &headers, &e.Body,
		&e.ExpectedStatus, &e.CheckInterval, &e.IsActive, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.ID = domain.EndpointID(id)
	if len(headers) > 0 && string(headers) != "null" {
		if err := json.Unmarshal(headers, &e.Headers); err != nil {
			return nil, fmt.Errorf("decode headers for %q: %w", e.Name, err)
		}
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func (s *Store) getEndpoint(ctx context.Context, where string, arg any) (*domain.Endpoint, error) {
	e, err := scanEndpoint(s.pool.QueryRow(ctx, `SELECT `+endpointCols+` FROM api_endpoints WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return e, nil
}

func (s *Store) GetEndpoint(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	return s.getEndpoint(ctx, "id = $1", int64(id))
}

func (s *Store) GetEndpointByName(ctx context.Context, name string) (*domain.Endpoint, error) {
	return s.getEndpoint(ctx, "name = $1", name)
}

func (s *Store) listEndpoints(ctx context.Context, q string) ([]domain.Endpoint, error) {
	rows, err := s.pool.Query(ctx, q)
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
	return s.listEndpoints(ctx, `SELECT `+endpointCols+` FROM api_endpoints WHERE is_active ORDER BY name`)
}

func (s *Store) SetEndpointActive(ctx context.Context, id domain.EndpointID, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE api_endpoints SET is_active = $1 WHERE id = $2`, active, int64(id))
	if err != nil {
		return fmt.Errorf("update endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteEndpoint(ctx context.Context, id domain.EndpointID) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, q := range []string{
			`DELETE FROM api_metrics WHERE endpoint_id = $1`,
			`DELETE FROM performance_summary WHERE endpoint_id = $1`,
			`DELETE FROM api_endpoints WHERE id = $1`,
		} {
			if _, err := tx.Exec(ctx, q, int64(id)); err != nil {
				return fmt.Errorf("delete endpoint %d: %w", id, err)
			}
		}
		return nil
	})
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
	err := s.pool.QueryRow(ctx,
		`INSERT INTO api_metrics (endpoint_id, response_time, status_code, success, error_message, response_size, outcome, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		int64(r.EndpointID), r.ResponseTime, r.StatusCode, r.Success, errMsg, r.ResponseSize, string(r.Outcome), r.Timestamp,
	).Scan(&r.ID)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return domain.ErrNotFound
		}
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

const resultCols = `id, endpoint_id, response_time, status_code, success, error_message, response_size, outcome, timestamp`

func (s *Store) queryResults(ctx context.Context, q string, args ...any) ([]domain.CheckResult, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []domain.CheckResult
	for rows.Next() {
		var (
			r          domain.CheckResult
			endpointID int64
			errMsg     *string
			outcome    string
		)
		if err := rows.Scan(&r.ID, &endpointID, &r.ResponseTime, &r.StatusCode, &r.Success,
			&errMsg, &r.ResponseSize, &outcome, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.EndpointID = domain.EndpointID(endpointID)
		if errMsg != nil {
			r.Error = *errMsg
		}
		r.Outcome = domain.Outcome(outcome)
		r.Timestamp = r.Timestamp.UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ResultsSince(ctx context.Context, id domain.EndpointID, since time.Time) ([]domain.CheckResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultCols+` FROM api_metrics
		  WHERE endpoint_id = $1 AND timestamp >= $2
		  ORDER BY timestamp DESC, id DESC`,
		int64(id), since)
}

func (s *Store) ResultsBetween(ctx context.Context, id domain.EndpointID, from, to time.Time) ([]domain.CheckResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultCols+` FROM api_metrics
		  WHERE endpoint_id = $1 AND timestamp BETWEEN $2 AND $3
		  ORDER BY timestamp ASC, id ASC`,
		int64(id), from, to)
}

func (s *Store) DeleteResults(ctx context.Context, id domain.EndpointID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM api_metrics WHERE endpoint_id = $1`, int64(id)); err != nil {
		return fmt.Errorf("delete results: %w", err)
	}
	return nil
}

func (s *Store) PruneResults(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_metrics WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune results: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---- SummaryStore ----

func (s *Store) UpsertSummary(ctx context.Context, p *domain.PerformanceSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO performance_summary
		   (endpoint_id, endpoint_name, avg_response_time, min_response_time, max_response_time,
		    success_rate, total_requests, successful_requests, failed_requests, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (endpoint_id) DO UPDATE SET
		   endpoint_name       = EXCLUDED.endpoint_name,
		   avg_response_time   = EXCLUDED.avg_response_time,
		   min_response_time   = EXCLUDED.min_response_time,
		   max_response_time   = EXCLUDED.max_response_time,
		   success_rate        = EXCLUDED.success_rate,
		   total_requests      = EXCLUDED.total_requests,
		   successful_requests = EXCLUDED.successful_requests,
		   failed_requests     = EXCLUDED.failed_requests,
		   last_updated        = EXCLUDED.last_updated`,
		int64(p.EndpointID), p.EndpointName, p.AvgResponseTime, p.MinResponseTime, p.MaxResponseTime,
		p.SuccessRate, p.TotalRequests, p.SuccessfulRequests, p.FailedRequests, p.LastUpdated)
	if err != nil {
		if pgCode(err) == foreignKeyViolation {
			return domain.ErrNotFound
		}
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

const summaryCols = `endpoint_id, endpoint_name, avg_response_time, min_response_time, max_response_time,
	success_rate, total_requests, successful_requests, failed_requests, last_updated`

func scanSummary(row pgx.Row) (*domain.PerformanceSummary, error) {
	var (
		p  domain.PerformanceSummary
		id int64
	)
	if err := row.Scan(&id, &p.EndpointName, &p.AvgResponseTime, &p.MinResponseTime, &p.MaxResponseTime,
		&p.SuccessRate, &p.TotalRequests, &p.SuccessfulRequests, &p.FailedRequests, &p.LastUpdated); err != nil {
		return nil, err
	}
	p.EndpointID = domain.EndpointID(id)
	p.LastUpdated = p.LastUpdated.UTC()
	return &p, nil
}

func (s *Store) GetSummary(ctx context.Context, id domain.EndpointID) (*domain.PerformanceSummary, error) {
	p, err := scanSummary(s.pool.QueryRow(ctx,
		`SELECT `+summaryCols+` FROM performance_summary WHERE endpoint_id = $1`, int64(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return p, nil
}

func (s *Store) ListSummaries(ctx context.Context) ([]domain.PerformanceSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+summaryCols+` FROM performance_summary ORDER BY endpoint_name`)
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
	if _, err := s.pool.Exec(ctx, `DELETE FROM performance_summary WHERE endpoint_id = $1`, int64(id)); err != nil {
		return fmt.Errorf("delete summary: %w", err)
	}
	return nil
}
