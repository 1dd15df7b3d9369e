package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/RouteWise/FieldOps/config"
	"github.com/RouteWise/FieldOps/internal/broker/messages"
	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/RouteWise/FieldOps/internal/services/syncer"
	"github.com/RouteWise/FieldOps/internal/services/workflow"
	"github.com/RouteWise/FieldOps/internal/storage/pgfield"
)

type assignmentConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

// agentStorage is everything the agent needs from its local database: the
// workflow repository, the sync queue store and the ops queue views.
type agentStorage interface {
	workflow.Repository
	syncer.Store
	ListFailedItems(ctx context.Context, limit int) ([]*models.SyncQueueItem, error)
	GetQueueDepth(ctx context.Context) (pgfield.QueueDepth, error)
}

func RunAgent(ctx context.Context, cfg *config.Config, f agentFactories) error {
	resolvedTopic := cfg.Kafka.SyncResolvedTopicName
	if resolvedTopic == "" {
		resolvedTopic = "sync.item.resolved"
	}

	drainInterval := time.Duration(cfg.FieldOps.SyncDrainIntervalSeconds) * time.Second
	if drainInterval <= 0 {
		drainInterval = 5 * time.Second
	}
	batchSize := cfg.FieldOps.SyncBatchSize
	if batchSize <= 0 {
		batchSize = 20
	}
	sendGap := time.Duration(cfg.FieldOps.SyncSendGapMillis) * time.Millisecond
	if sendGap <= 0 {
		sendGap = 200 * time.Millisecond
	}
	baseDelay := time.Duration(cfg.FieldOps.SyncBaseDelayMillis) * time.Millisecond
	if baseDelay <= 0 {
		baseDelay = 1 * time.Second
	}
	maxRetries := int32(cfg.FieldOps.SyncMaxRetries)
	if maxRetries <= 0 {
		maxRetries = 3
	}
	rlPerMin := int64(cfg.FieldOps.SyncRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}
	snapshotTTL := time.Duration(cfg.FieldOps.SnapshotTTLSeconds) * time.Second
	if snapshotTTL <= 0 {
		snapshotTTL = 10 * time.Minute
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	snapshots := f.newCache(cfg)
	client := f.newTransport(cfg)

	sy := syncer.New(st, client, producer, rl, resolvedTopic).
		WithSettings(drainInterval, batchSize, sendGap, rlPerMin).
		WithPolicy(syncer.PolicyConfig{BaseDelay: baseDelay, MaxRetries: maxRetries})

	// Каждый enqueue пинает syncer: при живой сети мутация уходит почти сразу.
	svc := workflow.New(st, snapshots, snapshotTTL, maxRetries, sy.Trigger)

	consumer := f.newConsumer(cfg)
	go func() {
		slog.Info("kafka consumer started", "topic", cfg.Kafka.TripAssignedTopicName, "group", cfg.FieldOps.KafkaConsumerGroup)
		_ = consumer.Consume(ctx, func(_key, value []byte) error {
			var m messages.TripAssigned
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return importAssignment(ctx, svc, m)
		})
	}()

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- sy.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runAgentHTTPServer(ctx, agentHTTPOpts{
			httpAddr: cfg.FieldOps.HTTPAddr,
			svc:      svc,
			syncer:   sy,
			queue:    st,
			cfg:      cfg,
		})
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-syncErr:
		return err
	case err := <-httpErr:
		return err
	}
}

func importAssignment(ctx context.Context, svc *workflow.Service, m messages.TripAssigned) error {
	trip := &models.Trip{
		ID:        m.TripID,
		DriverID:  m.DriverID,
		CreatedAt: m.AssignedAt,
		UpdatedAt: m.AssignedAt,
	}
	points := make([]*models.DeliveryPoint, 0, len(m.Points))
	for _, ap := range m.Points {
		points = append(points, &models.DeliveryPoint{
			ID:             ap.PointID,
			Seq:            ap.Seq,
			Address:        ap.Address,
			RecipientName:  ap.RecipientName,
			RequiresCOD:    ap.RequiresCOD,
			CODAmountMinor: ap.CODAmountMinor,
			CODCurrency:    ap.CODCurrency,
			CreatedAt:      m.AssignedAt,
			UpdatedAt:      m.AssignedAt,
		})
	}
	return svc.ImportAssignment(ctx, trip, points)
}
