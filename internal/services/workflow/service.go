package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/RouteWise/FieldOps/internal/cache"
	"github.com/RouteWise/FieldOps/internal/cache/rediscache"
	"github.com/RouteWise/FieldOps/internal/lifecycle"
	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/RouteWise/FieldOps/internal/storage/pgfield"
	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("entity not found")

type Repository interface {
	GetTrip(ctx context.Context, id uint64) (*models.Trip, error)
	GetTripPoints(ctx context.Context, tripID uint64) ([]*models.DeliveryPoint, error)
	GetPoint(ctx context.Context, id uint64) (*models.DeliveryPoint, error)
	ListActiveTrips(ctx context.Context) ([]*models.Trip, error)
	ImportAssignment(ctx context.Context, trip *models.Trip, points []*models.DeliveryPoint) error
	ApplyAndEnqueue(ctx context.Context, in pgfield.ApplyInput) error
}

// Service — координатор действий водителя: guard стейт-машины, оптимистичная
// локальная мутация и постановка в очередь синка за один шаг. Отказ guard'а
// возвращается как lifecycle.Rejection с конкретным kind, никогда не generic.
type Service struct {
	repo  Repository
	cache cache.BytesCache

	snapshotTTL time.Duration
	maxRetries  int32

	// kick пинает syncer после каждого enqueue (best-effort).
	kick func()

	now func() time.Time
}

func New(repo Repository, c cache.BytesCache, snapshotTTL time.Duration, maxRetries int32, kick func()) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if kick == nil {
		kick = func() {}
	}
	return &Service{
		repo:        repo,
		cache:       c,
		snapshotTTL: snapshotTTL,
		maxRetries:  maxRetries,
		kick:        kick,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) withNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// Queue item payloads: the server replays the driver's action verbatim.

type tripActionPayload struct {
	TripID   uint64           `json:"trip_id"`
	Reason   string           `json:"reason,omitempty"`
	Location *models.GeoPoint `json:"location,omitempty"`
	At       time.Time        `json:"at"`
}

type pointActionPayload struct {
	PointID  uint64                  `json:"point_id"`
	TripID   uint64                  `json:"trip_id"`
	Proof    *models.ProofOfDelivery `json:"proof,omitempty"`
	Payment  *models.CODPayment      `json:"payment,omitempty"`
	Reason   string                  `json:"reason,omitempty"`
	Notes    string                  `json:"notes,omitempty"`
	Location *models.GeoPoint        `json:"location,omitempty"`
	At       time.Time               `json:"at"`
}

func (s *Service) ImportAssignment(ctx context.Context, trip *models.Trip, points []*models.DeliveryPoint) error {
	if trip == nil || trip.ID == 0 {
		return errors.New("trip id is required")
	}
	if err := s.repo.ImportAssignment(ctx, trip, points); err != nil {
		return err
	}
	slog.Info("trip assignment imported", "trip_id", trip.ID, "points", len(points))
	return nil
}

func (s *Service) AcceptTrip(ctx context.Context, tripID uint64) (*models.Trip, error) {
	now := s.now()
	t, err := s.loadTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.AcceptTrip(t, now); err != nil {
		return nil, err
	}
	item, err := s.tripItem(t, "accept", tripActionPayload{TripID: tripID, At: now}, now)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, pgfield.ApplyInput{Trip: t, Item: item}); err != nil {
		return nil, err
	}
	s.refreshTripSnapshot(ctx, t)
	return t, nil
}

func (s *Service) RejectTrip(ctx context.Context, tripID uint64, reason string) (*models.Trip, error) {
	now := s.now()
	t, err := s.loadTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.RejectTrip(t, reason, now); err != nil {
		return nil, err
	}
	item, err := s.tripItem(t, "reject", tripActionPayload{TripID: tripID, Reason: reason, At: now}, now)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, pgfield.ApplyInput{Trip: t, Item: item}); err != nil {
		return nil, err
	}
	s.refreshTripSnapshot(ctx, t)
	return t, nil
}

func (s *Service) StartTrip(ctx context.Context, tripID uint64, loc models.GeoPoint) (*models.Trip, error) {
	now := s.now()
	t, err := s.loadTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.StartTrip(t, loc, now); err != nil {
		return nil, err
	}
	item, err := s.tripItem(t, "start", tripActionPayload{TripID: tripID, Location: &loc, At: now}, now)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, pgfield.ApplyInput{Trip: t, Item: item}); err != nil {
		return nil, err
	}
	s.refreshTripSnapshot(ctx, t)
	return t, nil
}

func (s *Service) CompleteTrip(ctx context.Context, tripID uint64, loc models.GeoPoint) (*models.Trip, error) {
	now := s.now()
	t, err := s.loadTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	points, err := s.repo.GetTripPoints(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.CompleteTrip(t, points, loc, now); err != nil {
		return nil, err
	}
	item, err := s.tripItem(t, "complete", tripActionPayload{TripID: tripID, Location: &loc, At: now}, now)
	if err != nil {
		return nil, err
	}
	if err := s.commit(ctx, pgfield.ApplyInput{Trip: t, Item: item}); err != nil {
		return nil, err
	}
	s.refreshTripSnapshot(ctx, t)
	return t, nil
}

func (s *Service) StartDelivery(ctx context.Context, pointID uint64, loc models.GeoPoint) (*models.DeliveryPoint, error) {
	now := s.now()
	return s.applyPointOp(ctx, pointID, "start", now, func(p *models.DeliveryPoint) (pointActionPayload, error) {
		if err := lifecycle.StartDelivery(p, now, loc); err != nil {
			return pointActionPayload{}, err
		}
		return pointActionPayload{PointID: p.ID, TripID: p.TripID, Location: &loc, At: now}, nil
	})
}

func (s *Service) AttachProof(ctx context.Context, pointID uint64, proof *models.ProofOfDelivery) (*models.DeliveryPoint, error) {
	now := s.now()
	return s.applyPointOp(ctx, pointID, "proof", now, func(p *models.DeliveryPoint) (pointActionPayload, error) {
		if err := lifecycle.AttachProof(p, proof, now); err != nil {
			return pointActionPayload{}, err
		}
		return pointActionPayload{PointID: p.ID, TripID: p.TripID, Proof: proof, At: now}, nil
	})
}

func (s *Service) ProcessPayment(ctx context.Context, pointID uint64, in lifecycle.PaymentInput) (*models.DeliveryPoint, error) {
	now := s.now()
	return s.applyPointOp(ctx, pointID, "payment", now, func(p *models.DeliveryPoint) (pointActionPayload, error) {
		if err := lifecycle.ProcessPayment(p, in, now); err != nil {
			return pointActionPayload{}, err
		}
		return pointActionPayload{PointID: p.ID, TripID: p.TripID, Payment: p.CODPayment, At: now}, nil
	})
}

func (s *Service) CompleteDelivery(ctx context.Context, pointID uint64, proof *models.ProofOfDelivery, loc models.GeoPoint) (*models.DeliveryPoint, error) {
	now := s.now()
	return s.applyPointOp(ctx, pointID, "complete", now, func(p *models.DeliveryPoint) (pointActionPayload, error) {
		// Водитель мог приложить proof заранее: берём приложенный, если новый не передан.
		if proof == nil {
			proof = p.Proof
		}
		if err := lifecycle.CompleteDelivery(p, proof, now, loc); err != nil {
			return pointActionPayload{}, err
		}
		return pointActionPayload{PointID: p.ID, TripID: p.TripID, Proof: proof, Location: &loc, At: now}, nil
	})
}

func (s *Service) FailDelivery(ctx context.Context, pointID uint64, reason, notes string, loc models.GeoPoint) (*models.DeliveryPoint, error) {
	now := s.now()
	return s.applyPointOp(ctx, pointID, "fail", now, func(p *models.DeliveryPoint) (pointActionPayload, error) {
		if err := lifecycle.FailDelivery(p, reason, notes, now, loc); err != nil {
			return pointActionPayload{}, err
		}
		return pointActionPayload{PointID: p.ID, TripID: p.TripID, Reason: reason, Notes: notes, Location: &loc, At: now}, nil
	})
}

func (s *Service) EscalateDelivery(ctx context.Context, pointID uint64, notes string) (*models.DeliveryPoint, error) {
	now := s.now()
	return s.applyPointOp(ctx, pointID, "escalate", now, func(p *models.DeliveryPoint) (pointActionPayload, error) {
		if err := lifecycle.Escalate(p, notes, now); err != nil {
			return pointActionPayload{}, err
		}
		return pointActionPayload{PointID: p.ID, TripID: p.TripID, Notes: notes, At: now}, nil
	})
}

func (s *Service) ResumeDelivery(ctx context.Context, pointID uint64) (*models.DeliveryPoint, error) {
	now := s.now()
	return s.applyPointOp(ctx, pointID, "resume", now, func(p *models.DeliveryPoint) (pointActionPayload, error) {
		if err := lifecycle.Resume(p, now); err != nil {
			return pointActionPayload{}, err
		}
		return pointActionPayload{PointID: p.ID, TripID: p.TripID, At: now}, nil
	})
}

// GetTrip reads through the snapshot cache; pg остаётся источником правды.
func (s *Service) GetTrip(ctx context.Context, tripID uint64) (*models.Trip, error) {
	if s.cache != nil && s.snapshotTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, rediscache.TripKey(tripID)); err == nil && ok {
			var t models.Trip
			if json.Unmarshal(b, &t) == nil {
				return &t, nil
			}
		}
	}
	t, err := s.loadTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	s.refreshTripSnapshot(ctx, t)
	return t, nil
}

func (s *Service) GetTripPoints(ctx context.Context, tripID uint64) ([]*models.DeliveryPoint, error) {
	return s.repo.GetTripPoints(ctx, tripID)
}

func (s *Service) ListActiveTrips(ctx context.Context) ([]*models.Trip, error) {
	return s.repo.ListActiveTrips(ctx)
}

// applyPointOp loads the point and its trip, runs the state-machine op,
// refreezes trip counters from all child statuses and commits both rows with
// the queue item in one transaction.
func (s *Service) applyPointOp(ctx context.Context, pointID uint64, action string, now time.Time,
	op func(p *models.DeliveryPoint) (pointActionPayload, error)) (*models.DeliveryPoint, error) {

	p, err := s.repo.GetPoint(ctx, pointID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, errors.Wrapf(ErrNotFound, "delivery point %d", pointID)
	}
	t, err := s.loadTrip(ctx, p.TripID)
	if err != nil {
		return nil, err
	}

	payload, err := op(p)
	if err != nil {
		// Guard rejection: никакой локальной мутации, никакого enqueue.
		return nil, err
	}

	points, err := s.repo.GetTripPoints(ctx, p.TripID)
	if err != nil {
		return nil, err
	}
	for i, q := range points {
		if q.ID == p.ID {
			points[i] = p
		}
	}
	lifecycle.RecalcCounters(t, points)
	t.UpdatedAt = now

	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal point payload")
	}
	item := &models.SyncQueueItem{
		Endpoint:   fmt.Sprintf("/driver/v1/points/%d/%s", p.ID, action),
		Method:     http.MethodPost,
		Payload:    b,
		TargetKind: models.TargetKindDeliveryPoint,
		TargetID:   p.ID,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
	}

	if err := s.commit(ctx, pgfield.ApplyInput{Trip: t, Point: p, Item: item}); err != nil {
		return nil, err
	}
	s.refreshTripSnapshot(ctx, t)
	s.refreshPointSnapshot(ctx, p)
	return p, nil
}

func (s *Service) loadTrip(ctx context.Context, tripID uint64) (*models.Trip, error) {
	t, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Wrapf(ErrNotFound, "trip %d", tripID)
	}
	return t, nil
}

func (s *Service) tripItem(t *models.Trip, action string, payload tripActionPayload, now time.Time) (*models.SyncQueueItem, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal trip payload")
	}
	return &models.SyncQueueItem{
		Endpoint:   fmt.Sprintf("/driver/v1/trips/%d/%s", t.ID, action),
		Method:     http.MethodPost,
		Payload:    b,
		TargetKind: models.TargetKindTrip,
		TargetID:   t.ID,
		MaxRetries: s.maxRetries,
		CreatedAt:  now,
	}, nil
}

func (s *Service) commit(ctx context.Context, in pgfield.ApplyInput) error {
	if err := s.repo.ApplyAndEnqueue(ctx, in); err != nil {
		return err
	}
	s.kick()
	return nil
}

func (s *Service) refreshTripSnapshot(ctx context.Context, t *models.Trip) {
	if s.cache == nil || s.snapshotTTL <= 0 {
		return
	}
	b, _ := json.Marshal(t)
	_ = s.cache.Set(ctx, rediscache.TripKey(t.ID), b, s.snapshotTTL)
}

func (s *Service) refreshPointSnapshot(ctx context.Context, p *models.DeliveryPoint) {
	if s.cache == nil || s.snapshotTTL <= 0 {
		return
	}
	b, _ := json.Marshal(p)
	_ = s.cache.Set(ctx, rediscache.PointKey(p.ID), b, s.snapshotTTL)
}
