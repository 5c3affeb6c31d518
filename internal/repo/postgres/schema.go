package postgres

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS api_endpoints (
  id              BIGSERIAL PRIMARY KEY,
  name            TEXT        NOT NULL UNIQUE,
  url             TEXT        NOT NULL,
  method          TEXT        NOT NULL DEFAULT 'GET',
  headers         JSONB       NOT NULL DEFAULT '{}'::jsonb,
  body            TEXT        NULL,
  expected_status INTEGER     NOT NULL DEFAULT 200,
  check_interval  INTEGER     NOT NULL DEFAULT 60,
  is_active       BOOLEAN     NOT NULL DEFAULT TRUE,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_metrics (
  id            BIGSERIAL PRIMARY KEY,
  endpoint_id   BIGINT           NOT NULL REFERENCES api_endpoints(id) ON DELETE CASCADE,
  response_time DOUBLE PRECISION NOT NULL,
  status_code   INTEGER          NULL,
  success       BOOLEAN          NOT NULL,
  error_message TEXT             NULL,
  response_size BIGINT           NOT NULL DEFAULT 0,
  outcome       TEXT             NOT NULL,
  timestamp     TIMESTAMPTZ      NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_api_metrics_endpoint_ts ON api_metrics (endpoint_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_api_metrics_ts          ON api_metrics (timestamp);

CREATE TABLE IF NOT EXISTS performance_summary (
  endpoint_id         BIGINT           PRIMARY KEY REFERENCES api_endpoints(id) ON DELETE CASCADE,
  endpoint_name       TEXT             NOT NULL,
  avg_response_time   DOUBLE PRECISION NOT NULL,
  min_response_time   DOUBLE PRECISION NOT NULL,
  max_response_time   DOUBLE PRECISION NOT NULL,
  success_rate        DOUBLE PRECISION NOT NULL,
  total_requests      INTEGER          NOT NULL,
  successful_requests INTEGER          NOT NULL,
  failed_requests     INTEGER          NOT NULL,
  last_updated        TIMESTAMPTZ      NOT NULL
);
`

// ensureSchema applies idempotent DDL on open.
func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
