package pgfield

import (
	"context"

	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const pointColumns = `
  id, trip_id, seq, status,
  address, recipient_name,
  requires_cod, cod_amount_minor, cod_currency, cod_payment,
  proof,
  started_at, start_location,
  ended_at, end_location,
  fail_reason, fail_notes,
  created_at, updated_at
`

func scanPoint(row pgx.Row) (*models.DeliveryPoint, error) {
	var p models.DeliveryPoint
	var codPayment, proof, startLoc, endLoc []byte
	if err := row.Scan(
		&p.ID, &p.TripID, &p.Seq, &p.Status,
		&p.Address, &p.RecipientName,
		&p.RequiresCOD, &p.CODAmountMinor, &p.CODCurrency, &codPayment,
		&proof,
		&p.StartedAt, &startLoc,
		&p.EndedAt, &endLoc,
		&p.FailReason, &p.FailNotes,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, pair := range []struct {
		raw []byte
		dst any
	}{
		{codPayment, &p.CODPayment},
		{proof, &p.Proof},
		{startLoc, &p.StartLocation},
		{endLoc, &p.EndLocation},
	} {
		if err := fromJSONB(pair.raw, pair.dst); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *Storage) GetPoint(ctx context.Context, id uint64) (*models.DeliveryPoint, error) {
	p, err := scanPoint(s.db.QueryRow(ctx, `SELECT `+pointColumns+` FROM delivery_points WHERE id = $1`, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery point")
	}
	return p, nil
}

// GetTripPoints returns the trip's points in route order.
func (s *Storage) GetTripPoints(ctx context.Context, tripID uint64) ([]*models.DeliveryPoint, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+pointColumns+`
FROM delivery_points
WHERE trip_id = $1
ORDER BY seq ASC
`, tripID)
	if err != nil {
		return nil, errors.Wrap(err, "select trip points")
	}
	defer rows.Close()

	var out []*models.DeliveryPoint
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery point")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "rows")
}

func savePointTx(ctx context.Context, tx pgx.Tx, p *models.DeliveryPoint) error {
	codPayment, err := toJSONB(p.CODPayment)
	if err != nil {
		return err
	}
	proof, err := toJSONB(p.Proof)
	if err != nil {
		return err
	}
	startLoc, err := toJSONB(p.StartLocation)
	if err != nil {
		return err
	}
	endLoc, err := toJSONB(p.EndLocation)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
UPDATE delivery_points SET
  status = $2,
  cod_payment = $3,
  proof = $4,
  started_at = $5,
  start_location = $6,
  ended_at = $7,
  end_location = $8,
  fail_reason = $9,
  fail_notes = $10,
  updated_at = $11
WHERE id = $1
`, p.ID, p.Status,
		codPayment, proof,
		p.StartedAt, startLoc,
		p.EndedAt, endLoc,
		p.FailReason, p.FailNotes,
		p.UpdatedAt)
	return errors.Wrap(err, "update delivery point")
}
