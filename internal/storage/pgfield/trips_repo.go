package pgfield

import (
	"context"
	"time"

	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// ImportAssignment upserts a server-assigned trip with its points. Повторная
// доставка того же назначения (kafka ведь at-least-once) ничего не ломает:
// существующие строки не трогаем, локальный прогресс не затирается.
func (s *Storage) ImportAssignment(ctx context.Context, trip *models.Trip, points []*models.DeliveryPoint) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO trips (id, driver_id, status, total_deliveries, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5)
ON CONFLICT (id) DO NOTHING
`, trip.ID, trip.DriverID, models.TripStatusAssigned, len(points), now)
	if err != nil {
		return errors.Wrap(err, "insert trip")
	}

	for _, p := range points {
		_, err = tx.Exec(ctx, `
INSERT INTO delivery_points (
  id, trip_id, seq, status,
  address, recipient_name,
  requires_cod, cod_amount_minor, cod_currency,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (id) DO NOTHING
`, p.ID, trip.ID, p.Seq, models.DeliveryStatusPending,
			p.Address, p.RecipientName,
			p.RequiresCOD, p.CODAmountMinor, p.CODCurrency, now)
		if err != nil {
			return errors.Wrap(err, "insert delivery point")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

const tripColumns = `
  id, driver_id, status,
  completed_deliveries, failed_deliveries, total_deliveries,
  reject_reason, accepted_at,
  started_at, start_location,
  completed_at, end_location,
  created_at, updated_at
`

func scanTrip(row pgx.Row) (*models.Trip, error) {
	var t models.Trip
	var startLoc, endLoc []byte
	if err := row.Scan(
		&t.ID, &t.DriverID, &t.Status,
		&t.CompletedDeliveries, &t.FailedDeliveries, &t.TotalDeliveries,
		&t.RejectReason, &t.AcceptedAt,
		&t.StartedAt, &startLoc,
		&t.CompletedAt, &endLoc,
		&t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := fromJSONB(startLoc, &t.StartLocation); err != nil {
		return nil, err
	}
	if err := fromJSONB(endLoc, &t.EndLocation); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Storage) GetTrip(ctx context.Context, id uint64) (*models.Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select trip")
	}
	return t, nil
}

func (s *Storage) ListActiveTrips(ctx context.Context) ([]*models.Trip, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+tripColumns+`
FROM trips
WHERE status NOT IN ($1, $2)
ORDER BY created_at ASC
`, models.TripStatusCompleted, models.TripStatusRejected)
	if err != nil {
		return nil, errors.Wrap(err, "select active trips")
	}
	defer rows.Close()

	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan trip")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func saveTripTx(ctx context.Context, tx pgx.Tx, t *models.Trip) error {
	startLoc, err := toJSONB(t.StartLocation)
	if err != nil {
		return err
	}
	endLoc, err := toJSONB(t.EndLocation)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE trips SET
  status = $2,
  completed_deliveries = $3,
  failed_deliveries = $4,
  total_deliveries = $5,
  reject_reason = $6,
  accepted_at = $7,
  started_at = $8,
  start_location = $9,
  completed_at = $10,
  end_location = $11,
  updated_at = $12
WHERE id = $1
`, t.ID, t.Status,
		t.CompletedDeliveries, t.FailedDeliveries, t.TotalDeliveries,
		t.RejectReason, t.AcceptedAt,
		t.StartedAt, startLoc,
		t.CompletedAt, endLoc,
		t.UpdatedAt)
	return errors.Wrap(err, "update trip")
}
