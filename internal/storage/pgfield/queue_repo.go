package pgfield

import (
	"context"
	"time"

	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Enqueue appends a PENDING item and persists it before returning: падение
// приложения сразу после enqueue не теряет мутацию.
func (s *Storage) Enqueue(ctx context.Context, item *models.SyncQueueItem) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := enqueueTx(ctx, tx, item); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func enqueueTx(ctx context.Context, tx pgx.Tx, item *models.SyncQueueItem) error {
	now := item.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	var payload any
	if len(item.Payload) > 0 {
		payload = []byte(item.Payload)
	}
	err := tx.QueryRow(ctx, `
INSERT INTO sync_queue (
  endpoint, method, payload, target_kind, target_id,
  retry_count, max_retries, next_retry_at, status,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$7,$7)
RETURNING id
`, item.Endpoint, item.Method, payload, item.TargetKind, item.TargetID,
		item.MaxRetries, now, models.SyncStatusPending).Scan(&item.ID)
	if err != nil {
		return errors.Wrap(err, "insert sync item")
	}
	item.Status = models.SyncStatusPending
	item.RetryCount = 0
	item.NextRetryAt = now
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

const queueColumns = `
  id, endpoint, method, payload, target_kind, target_id,
  retry_count, max_retries, last_retry_at, next_retry_at, last_error,
  status, created_at, updated_at
`

func scanQueueItem(row pgx.Row) (*models.SyncQueueItem, error) {
	var it models.SyncQueueItem
	var payload []byte
	if err := row.Scan(
		&it.ID, &it.Endpoint, &it.Method, &payload, &it.TargetKind, &it.TargetID,
		&it.RetryCount, &it.MaxRetries, &it.LastRetryAt, &it.NextRetryAt, &it.LastError,
		&it.Status, &it.CreatedAt, &it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	it.Payload = payload
	return &it, nil
}

// ClaimDueItems returns eligible PENDING items strictly FIFO by insertion id.
// Один процесс и один in-flight цикл — lease/SKIP LOCKED здесь не нужны.
func (s *Storage) ClaimDueItems(ctx context.Context, now time.Time, limit int) ([]*models.SyncQueueItem, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(ctx, `
SELECT `+queueColumns+`
FROM sync_queue
WHERE status = $1 AND next_retry_at <= $2
ORDER BY id ASC
LIMIT $3
`, models.SyncStatusPending, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due sync items")
	}
	defer rows.Close()

	var out []*models.SyncQueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan sync item")
		}
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// MarkSynced is idempotent: only a PENDING item transitions, a repeated call
// reports false and changes nothing.
func (s *Storage) MarkSynced(ctx context.Context, id uint64, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE sync_queue SET status = $2, updated_at = $3
WHERE id = $1 AND status = $4
`, id, models.SyncStatusSynced, at.UTC(), models.SyncStatusPending)
	if err != nil {
		return false, errors.Wrap(err, "mark synced")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) MarkRetry(ctx context.Context, id uint64, at, nextRetryAt time.Time, sendErr string) error {
	_, err := s.db.Exec(ctx, `
UPDATE sync_queue SET
  retry_count = retry_count + 1,
  last_retry_at = $2,
  next_retry_at = $3,
  last_error = $4,
  updated_at = $2
WHERE id = $1 AND status = $5
`, id, at.UTC(), nextRetryAt.UTC(), sendErr, models.SyncStatusPending)
	return errors.Wrap(err, "mark retry")
}

// MarkFailed retains the row for operator inspection; it is excluded from
// future claims but never deleted automatically.
func (s *Storage) MarkFailed(ctx context.Context, id uint64, at time.Time, sendErr string) error {
	_, err := s.db.Exec(ctx, `
UPDATE sync_queue SET status = $2, last_error = $3, updated_at = $4
WHERE id = $1 AND status = $5
`, id, models.SyncStatusFailed, sendErr, at.UTC(), models.SyncStatusPending)
	return errors.Wrap(err, "mark failed")
}

func (s *Storage) ListFailedItems(ctx context.Context, limit int) ([]*models.SyncQueueItem, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
SELECT `+queueColumns+`
FROM sync_queue
WHERE status = $1
ORDER BY id ASC
LIMIT $2
`, models.SyncStatusFailed, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select failed sync items")
	}
	defer rows.Close()

	var out []*models.SyncQueueItem
	for rows.Next() {
		it, err := scanQueueItem(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan sync item")
		}
		out = append(out, it)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

// PurgeSynced removes confirmed items older than the cutoff (housekeeping;
// SYNCED — единственный статус, который можно удалять).
func (s *Storage) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM sync_queue WHERE status = $1 AND updated_at < $2
`, models.SyncStatusSynced, olderThan.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "purge synced")
	}
	return tag.RowsAffected(), nil
}

type QueueDepth struct {
	Pending int64 `json:"pending"`
	Failed  int64 `json:"failed"`
}

func (s *Storage) GetQueueDepth(ctx context.Context) (QueueDepth, error) {
	var d QueueDepth
	err := s.db.QueryRow(ctx, `
SELECT
  COUNT(*) FILTER (WHERE status = $1),
  COUNT(*) FILTER (WHERE status = $2)
FROM sync_queue
`, models.SyncStatusPending, models.SyncStatusFailed).Scan(&d.Pending, &d.Failed)
	if err != nil {
		return QueueDepth{}, errors.Wrap(err, "queue depth")
	}
	return d, nil
}
