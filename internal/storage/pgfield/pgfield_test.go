package pgfield

import (
	"context"
	"testing"
	"time"

	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPG(t *testing.T) *Storage {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "fieldops_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/fieldops_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)
	return st
}

func seedAssignment(t *testing.T, st *Storage) (*models.Trip, []*models.DeliveryPoint) {
	t.Helper()
	ctx := context.Background()

	trip := &models.Trip{ID: 100, DriverID: "drv-1"}
	points := []*models.DeliveryPoint{
		{ID: 1001, Seq: 1, Address: "12 Nguyen Hue", RequiresCOD: true, CODAmountMinor: 250000, CODCurrency: "VND"},
		{ID: 1002, Seq: 2, Address: "45 Le Loi"},
	}
	require.NoError(t, st.ImportAssignment(ctx, trip, points))

	got, err := st.GetTrip(ctx, 100)
	require.NoError(t, err)
	require.NotNil(t, got)
	gotPoints, err := st.GetTripPoints(ctx, 100)
	require.NoError(t, err)
	require.Len(t, gotPoints, 2)
	return got, gotPoints
}

func TestPGField_AssignmentFlow(t *testing.T) {
	st := startPG(t)
	ctx := context.Background()

	trip, points := seedAssignment(t, st)
	require.Equal(t, models.TripStatusAssigned, trip.Status)
	require.Equal(t, int32(2), trip.TotalDeliveries)
	require.Equal(t, models.DeliveryStatusPending, points[0].Status)
	require.True(t, points[0].RequiresCOD)
	require.Equal(t, int64(250000), points[0].CODAmountMinor)

	// Повторный импорт того же назначения ничего не меняет.
	require.NoError(t, st.ImportAssignment(ctx, &models.Trip{ID: 100, DriverID: "drv-1"}, points))
	again, err := st.GetTripPoints(ctx, 100)
	require.NoError(t, err)
	require.Len(t, again, 2)

	missing, err := st.GetTrip(ctx, 999)
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestPGField_ApplyAndEnqueue(t *testing.T) {
	st := startPG(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	trip, points := seedAssignment(t, st)

	trip.Status = models.TripStatusAccepted
	trip.AcceptedAt = &now
	trip.UpdatedAt = now

	p := points[0]
	p.Status = models.DeliveryStatusInProgress
	p.StartedAt = &now
	p.StartLocation = &models.GeoPoint{Lat: 10.77, Lon: 106.7, AccuracyM: 8}
	p.UpdatedAt = now

	item := &models.SyncQueueItem{
		Endpoint:   "/driver/v1/points/1001/start",
		Method:     "POST",
		Payload:    []byte(`{"point_id":1001}`),
		TargetKind: models.TargetKindDeliveryPoint,
		TargetID:   1001,
		MaxRetries: 3,
		CreatedAt:  now,
	}
	require.NoError(t, st.ApplyAndEnqueue(ctx, ApplyInput{Trip: trip, Point: p, Item: item}))
	require.NotZero(t, item.ID)
	require.Equal(t, models.SyncStatusPending, item.Status)

	gotTrip, err := st.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	require.Equal(t, models.TripStatusAccepted, gotTrip.Status)

	gotPoint, err := st.GetPoint(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, models.DeliveryStatusInProgress, gotPoint.Status)
	require.NotNil(t, gotPoint.StartLocation)
	require.InDelta(t, 10.77, gotPoint.StartLocation.Lat, 1e-9)

	due, err := st.ClaimDueItems(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, item.ID, due[0].ID)
	require.JSONEq(t, `{"point_id":1001}`, string(due[0].Payload))
}

func TestPGField_QueueLifecycle(t *testing.T) {
	st := startPG(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	enq := func(endpoint string) *models.SyncQueueItem {
		it := &models.SyncQueueItem{
			Endpoint:   endpoint,
			Method:     "POST",
			TargetKind: models.TargetKindTrip,
			TargetID:   1,
			MaxRetries: 3,
			CreatedAt:  now,
		}
		require.NoError(t, st.Enqueue(ctx, it))
		return it
	}
	a := enq("/a")
	b := enq("/b")
	c := enq("/c")

	// FIFO by insertion order.
	due, err := st.ClaimDueItems(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	require.Equal(t, []uint64{a.ID, b.ID, c.ID}, []uint64{due[0].ID, due[1].ID, due[2].ID})

	// markSynced идемпотентен: второй вызов — no-op.
	changed, err := st.MarkSynced(ctx, a.ID, now)
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = st.MarkSynced(ctx, a.ID, now)
	require.NoError(t, err)
	require.False(t, changed)

	// Retry pushes the item out of the due window and bumps the counter.
	next := now.Add(2 * time.Second)
	require.NoError(t, st.MarkRetry(ctx, b.ID, now, next, "transport down"))
	due, err = st.ClaimDueItems(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, c.ID, due[0].ID)

	due, err = st.ClaimDueItems(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, int32(1), due[0].RetryCount)
	require.NotNil(t, due[0].LastRetryAt)

	// FAILED items are retained but never claimed again.
	require.NoError(t, st.MarkFailed(ctx, c.ID, now, "gave up"))
	due, err = st.ClaimDueItems(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)

	failed, err := st.ListFailedItems(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, c.ID, failed[0].ID)

	depth, err := st.GetQueueDepth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depth.Pending)
	require.Equal(t, int64(1), depth.Failed)

	// Housekeeping removes only confirmed items.
	n, err := st.PurgeSynced(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}
