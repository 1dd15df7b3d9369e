package main

import (
	"context"
	"testing"
	"time"

	"github.com/RouteWise/FieldOps/config"
	"github.com/RouteWise/FieldOps/internal/cache"
	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/RouteWise/FieldOps/internal/services/syncer"
	"github.com/RouteWise/FieldOps/internal/storage/pgfield"
	"github.com/RouteWise/FieldOps/internal/transport"
	"github.com/RouteWise/FieldOps/internal/transport/fake"
	"github.com/RouteWise/FieldOps/internal/transport/serverhttp"
	"github.com/stretchr/testify/require"
)

type fakeStorage struct{}

func (f *fakeStorage) GetTrip(ctx context.Context, id uint64) (*models.Trip, error) { return nil, nil }
func (f *fakeStorage) GetTripPoints(ctx context.Context, tripID uint64) ([]*models.DeliveryPoint, error) {
	return nil, nil
}
func (f *fakeStorage) GetPoint(ctx context.Context, id uint64) (*models.DeliveryPoint, error) {
	return nil, nil
}
func (f *fakeStorage) ListActiveTrips(ctx context.Context) ([]*models.Trip, error) { return nil, nil }
func (f *fakeStorage) ImportAssignment(ctx context.Context, trip *models.Trip, points []*models.DeliveryPoint) error {
	return nil
}
func (f *fakeStorage) ApplyAndEnqueue(ctx context.Context, in pgfield.ApplyInput) error { return nil }
func (f *fakeStorage) ClaimDueItems(ctx context.Context, now time.Time, limit int) ([]*models.SyncQueueItem, error) {
	return nil, nil
}
func (f *fakeStorage) MarkSynced(ctx context.Context, id uint64, at time.Time) (bool, error) {
	return false, nil
}
func (f *fakeStorage) MarkRetry(ctx context.Context, id uint64, at, nextRetryAt time.Time, sendErr string) error {
	return nil
}
func (f *fakeStorage) MarkFailed(ctx context.Context, id uint64, at time.Time, sendErr string) error {
	return nil
}
func (f *fakeStorage) ListFailedItems(ctx context.Context, limit int) ([]*models.SyncQueueItem, error) {
	return nil, nil
}
func (f *fakeStorage) GetQueueDepth(ctx context.Context) (pgfield.QueueDepth, error) {
	return pgfield.QueueDepth{}, nil
}

type noopProducer struct{}

func (noopProducer) Publish(ctx context.Context, topic string, key, value []byte) error { return nil }

type noopConsumer struct{}

func (noopConsumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	<-ctx.Done()
	return ctx.Err()
}

type noopCache struct{}

func (noopCache) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }
func (noopCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
func (noopCache) Del(ctx context.Context, key string) error { return nil }

func TestDefaultAgentFactories_SelectTransport(t *testing.T) {
	f := defaultAgentFactories()

	cfgHTTP := &config.Config{
		FieldOps: config.FieldOpsConfig{
			TransportMode: "http",
			ServerBaseURL: "http://localhost:9000",
			ServerAPIKey:  "k",
			DeviceID:      "dev-1",
		},
	}
	c1 := f.newTransport(cfgHTTP)
	_, ok := c1.(*serverhttp.Client)
	require.True(t, ok)

	cfgFake := &config.Config{
		FieldOps: config.FieldOpsConfig{TransportMode: "fake"},
	}
	c2 := f.newTransport(cfgFake)
	_, ok = c2.(*fake.FakeClient)
	require.True(t, ok)

	// http mode without a base URL is unusable, fall back to fake.
	cfgNoURL := &config.Config{
		FieldOps: config.FieldOpsConfig{TransportMode: "http"},
	}
	c3 := f.newTransport(cfgNoURL)
	_, ok = c3.(*fake.FakeClient)
	require.True(t, ok)
}

func TestDefaultAgentFactories_ProducerAndRateLimiter_NonNil(t *testing.T) {
	f := defaultAgentFactories()
	cfg := &config.Config{
		Kafka: config.KafkaConfig{Host: "localhost", Port: 9092},
		Redis: config.RedisConfig{Host: "localhost", Port: 6379},
	}
	require.NotNil(t, f.newProducer(cfg))
	require.NotNil(t, f.newRateLimiter(cfg))
	require.NotNil(t, f.newConsumer(cfg))
}

func TestRunAgent_ContextCanceled(t *testing.T) {
	calledClose := false

	f := agentFactories{
		newStorage: func(cfg *config.Config) (agentStorage, func(), error) {
			return &fakeStorage{}, func() { calledClose = true }, nil
		},
		newProducer: func(cfg *config.Config) syncer.Producer {
			return noopProducer{}
		},
		newConsumer: func(cfg *config.Config) assignmentConsumer {
			return noopConsumer{}
		},
		newRateLimiter: func(cfg *config.Config) syncer.RateLimiter {
			return nil
		},
		newCache: func(cfg *config.Config) cache.BytesCache {
			return noopCache{}
		},
		newTransport: func(cfg *config.Config) transport.Client {
			return fake.New() // не будет вызываться, т.к. контекст отменён
		},
	}

	cfg := &config.Config{
		Kafka: config.KafkaConfig{TripAssignedTopicName: "t", SyncResolvedTopicName: "r"},
		FieldOps: config.FieldOpsConfig{
			HTTPAddr:                 "127.0.0.1:0",
			SyncDrainIntervalSeconds: 1,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunAgent(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
