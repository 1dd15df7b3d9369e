package pgfield

import (
	"context"

	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ApplyInput is one optimistic local mutation plus the queue item that carries
// it to the server. Trip is always present (counters are refrozen on every
// point transition); Point accompanies point-level operations.
type ApplyInput struct {
	Trip  *models.Trip
	Point *models.DeliveryPoint
	Item  *models.SyncQueueItem
}

// ApplyAndEnqueue commits the entity update and the queue insert in one
// transaction. Наблюдаемого промежуточного состояния нет: либо и локальная
// мутация, и элемент очереди, либо ничего.
func (s *Storage) ApplyAndEnqueue(ctx context.Context, in ApplyInput) error {
	if in.Trip == nil || in.Item == nil {
		return errors.New("apply: trip and item are required")
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if in.Point != nil {
		if err := savePointTx(ctx, tx, in.Point); err != nil {
			return err
		}
	}
	if err := saveTripTx(ctx, tx, in.Trip); err != nil {
		return err
	}
	if err := enqueueTx(ctx, tx, in.Item); err != nil {
		return err
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}
