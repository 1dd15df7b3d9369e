package pgfield

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS trips (
  id BIGINT PRIMARY KEY,
  driver_id TEXT NOT NULL,
  status TEXT NOT NULL,
  completed_deliveries INT NOT NULL DEFAULT 0,
  failed_deliveries INT NOT NULL DEFAULT 0,
  total_deliveries INT NOT NULL DEFAULT 0,
  reject_reason TEXT NULL,
  accepted_at TIMESTAMPTZ NULL,
  started_at TIMESTAMPTZ NULL,
  start_location JSONB NULL,
  completed_at TIMESTAMPTZ NULL,
  end_location JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trips_status ON trips(status)`,
		`
CREATE TABLE IF NOT EXISTS delivery_points (
  id BIGINT PRIMARY KEY,
  trip_id BIGINT NOT NULL REFERENCES trips(id) ON DELETE CASCADE,
  seq INT NOT NULL,
  status TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  recipient_name TEXT NOT NULL DEFAULT '',
  requires_cod BOOLEAN NOT NULL DEFAULT FALSE,
  cod_amount_minor BIGINT NOT NULL DEFAULT 0,
  cod_currency TEXT NOT NULL DEFAULT '',
  cod_payment JSONB NULL,
  proof JSONB NULL,
  started_at TIMESTAMPTZ NULL,
  start_location JSONB NULL,
  ended_at TIMESTAMPTZ NULL,
  end_location JSONB NULL,
  fail_reason TEXT NULL,
  fail_notes TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (trip_id, seq)
)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_points_trip_id ON delivery_points(trip_id, seq)`,
		`
CREATE TABLE IF NOT EXISTS sync_queue (
  id BIGSERIAL PRIMARY KEY,
  endpoint TEXT NOT NULL,
  method TEXT NOT NULL,
  payload JSONB NULL,
  target_kind TEXT NOT NULL,
  target_id BIGINT NOT NULL,
  retry_count INT NOT NULL DEFAULT 0,
  max_retries INT NOT NULL,
  last_retry_at TIMESTAMPTZ NULL,
  next_retry_at TIMESTAMPTZ NOT NULL,
  last_error TEXT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// FIFO выборка идёт по id; индекс покрывает фильтр eligible-элементов.
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_due ON sync_queue(status, next_retry_at, id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_target ON sync_queue(target_kind, target_id, id)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
