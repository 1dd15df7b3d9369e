package lifecycle

import (
	"time"

	"github.com/RouteWise/FieldOps/internal/models"
)

// Trip transitions:
//
//	ASSIGNED -> {ACCEPTED, REJECTED}
//	ACCEPTED -> IN_PROGRESS -> COMPLETED

func AcceptTrip(t *models.Trip, at time.Time) error {
	if t.Status != models.TripStatusAssigned {
		return invalidTransitionf("accept trip: trip %d is %s, want %s", t.ID, t.Status, models.TripStatusAssigned)
	}
	t.Status = models.TripStatusAccepted
	t.AcceptedAt = &at
	t.UpdatedAt = at
	return nil
}

func RejectTrip(t *models.Trip, reason string, at time.Time) error {
	if t.Status != models.TripStatusAssigned {
		return invalidTransitionf("reject trip: trip %d is %s, want %s", t.ID, t.Status, models.TripStatusAssigned)
	}
	if reason == "" {
		return validationFailed("reason", "reject reason is required")
	}
	t.Status = models.TripStatusRejected
	t.RejectReason = &reason
	t.UpdatedAt = at
	return nil
}

func StartTrip(t *models.Trip, loc models.GeoPoint, at time.Time) error {
	if t.Status != models.TripStatusAccepted {
		return invalidTransitionf("start trip: trip %d is %s, want %s", t.ID, t.Status, models.TripStatusAccepted)
	}
	t.Status = models.TripStatusInProgress
	t.StartedAt = &at
	t.StartLocation = &loc
	t.UpdatedAt = at
	return nil
}

// CanCompleteTrip returns nil when every child point reached a terminal status.
func CanCompleteTrip(t *models.Trip, points []*models.DeliveryPoint) error {
	if t.Status != models.TripStatusInProgress {
		return invalidTransitionf("complete trip: trip %d is %s, want %s", t.ID, t.Status, models.TripStatusInProgress)
	}
	for _, p := range points {
		if !p.Terminal() {
			return invalidTransitionf("complete trip: point %d is still %s", p.ID, p.Status)
		}
	}
	return nil
}

func CompleteTrip(t *models.Trip, points []*models.DeliveryPoint, loc models.GeoPoint, at time.Time) error {
	if err := CanCompleteTrip(t, points); err != nil {
		return err
	}
	t.Status = models.TripStatusCompleted
	t.CompletedAt = &at
	t.EndLocation = &loc
	t.UpdatedAt = at
	RecalcCounters(t, points)
	return nil
}

// RecalcCounters is the only way trip counters change: a pure fold over child
// statuses, recomputed after every point transition. Счётчики никогда не
// инкрементируются по месту — только полный пересчёт, иначе они разъезжаются.
func RecalcCounters(t *models.Trip, points []*models.DeliveryPoint) {
	var completed, failed int32
	for _, p := range points {
		switch p.Status {
		case models.DeliveryStatusSuccess:
			completed++
		case models.DeliveryStatusFailed:
			failed++
		}
	}
	t.CompletedDeliveries = completed
	t.FailedDeliveries = failed
	t.TotalDeliveries = int32(len(points))
}
