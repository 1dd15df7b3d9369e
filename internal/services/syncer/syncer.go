package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RouteWise/FieldOps/internal/broker/messages"
	"github.com/RouteWise/FieldOps/internal/models"
	"github.com/RouteWise/FieldOps/internal/transport"
	"github.com/pkg/errors"
)

type Store interface {
	ClaimDueItems(ctx context.Context, now time.Time, limit int) ([]*models.SyncQueueItem, error)
	// MarkSynced returns false when the item was already terminal, so a repeated
	// call cannot double-count a success.
	MarkSynced(ctx context.Context, id uint64, at time.Time) (bool, error)
	MarkRetry(ctx context.Context, id uint64, at, nextRetryAt time.Time, sendErr string) error
	MarkFailed(ctx context.Context, id uint64, at time.Time, sendErr string) error
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Syncer осушает очередь мутаций строго последовательно: один элемент за раз,
// с обязательной паузой между отправками. Конкурентных запросов нет вообще —
// это и даёт FIFO-гарантию для мутаций одной и той же сущности.
type Syncer struct {
	store  Store
	client transport.Client
	producer Producer
	rl     RateLimiter

	topic  string
	policy *Policy

	drainInterval time.Duration
	batchSize     int
	sendGap       time.Duration
	rateLimitPerMinute int64

	now func() time.Time

	triggerCh chan struct{}
	inFlight  atomic.Bool

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalSynced         atomic.Int64
	totalRetried        atomic.Int64
	totalFailed         atomic.Int64
	overlapSkips        atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(store Store, client transport.Client, producer Producer, rl RateLimiter, topic string) *Syncer {
	return &Syncer{
		store: store, client: client, producer: producer, rl: rl, topic: topic,
		policy:        DefaultPolicy(),
		drainInterval: 5 * time.Second,
		batchSize:     20,
		sendGap:       200 * time.Millisecond,
		rateLimitPerMinute: 120,
		now:           func() time.Time { return time.Now().UTC() },
		triggerCh:     make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Syncer) WithSettings(drainInterval time.Duration, batchSize int, sendGap time.Duration, rlPerMin int64) *Syncer {
	if drainInterval > 0 {
		s.drainInterval = drainInterval
	}
	if batchSize > 0 {
		s.batchSize = batchSize
	}
	if sendGap > 0 {
		s.sendGap = sendGap
	}
	if rlPerMin > 0 {
		s.rateLimitPerMinute = rlPerMin
	}
	return s
}

func (s *Syncer) WithPolicy(cfg PolicyConfig) *Syncer {
	s.policy = NewPolicy(cfg)
	return s
}

func (s *Syncer) withNow(now func() time.Time) *Syncer {
	s.now = now
	return s
}

// Trigger forces an immediate drain cycle (best-effort, non-blocking).
// Вызывается из HTTP ручки и после каждого enqueue при появлении сети.
func (s *Syncer) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastCycleAt   *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed  int64      `json:"totalClaimed"`
	TotalSynced   int64      `json:"totalSynced"`
	TotalRetried  int64      `json:"totalRetried"`
	TotalFailed   int64      `json:"totalFailed"`
	OverlapSkips  int64      `json:"overlapSkips"`
	InFlight      bool       `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Syncer) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalClaimed: s.totalClaimed.Load(),
		TotalSynced:  s.totalSynced.Load(),
		TotalRetried: s.totalRetried.Load(),
		TotalFailed:  s.totalFailed.Load(),
		OverlapSkips: s.overlapSkips.Load(),
		InFlight:     s.inFlight.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Syncer) Run(ctx context.Context) error {
	t := time.NewTicker(s.drainInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Syncer) runOnce(ctx context.Context) {
	// Перекрывающийся цикл (тикер + trigger) — no-op, не очередь.
	if !s.inFlight.CompareAndSwap(false, true) {
		s.overlapSkips.Add(1)
		return
	}
	defer s.inFlight.Store(false)

	now := s.now()
	s.lastCycleUnixNano.Store(now.UnixNano())

	items, err := s.store.ClaimDueItems(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("claim due sync items", "error", err.Error())
		s.noteError(err)
		return
	}
	s.totalClaimed.Add(int64(len(items)))
	if len(items) == 0 {
		return
	}

	res := s.ProcessBatch(ctx, items)
	slog.Info("sync cycle done",
		"claimed", len(items),
		"synced", res.SuccessCount,
		"failed", res.FailedCount,
	)
}

type ItemResult struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BatchResult is the contract pending-sync indicators depend on: per-item final
// status plus aggregate counts for the batch.
type BatchResult struct {
	SuccessCount int          `json:"successCount"`
	FailedCount  int          `json:"failedCount"`
	Results      []ItemResult `json:"results"`
}

// ProcessBatch sends items one at a time, in the order given, pacing each send.
// A failed item is re-scheduled in place (never re-appended), so the queue
// cannot grow from failures.
func (s *Syncer) ProcessBatch(ctx context.Context, items []*models.SyncQueueItem) BatchResult {
	var res BatchResult
	for i, item := range items {
		if i > 0 {
			if err := s.pace(ctx); err != nil {
				break
			}
		}
		if !s.allowSend(ctx) {
			// Минутный бюджет исчерпан: останавливаем цикл целиком. Остаток
			// остаётся PENDING и уйдёт следующим циклом в том же порядке.
			break
		}
		r := s.processOne(ctx, item)
		res.Results = append(res.Results, r)
		if r.Status == models.SyncStatusSynced {
			res.SuccessCount++
		} else if r.Error != "" {
			res.FailedCount++
		}
	}
	return res
}

// pace enforces the mandatory gap between consecutive sends so a reconnect
// burst does not hammer the transport.
func (s *Syncer) pace(ctx context.Context) error {
	t := time.NewTimer(s.sendGap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// allowSend consults the shared per-minute send budget. A refusal is binding,
// not advisory: the caller must stop the cycle, nothing gets sent past the cap.
func (s *Syncer) allowSend(ctx context.Context) bool {
	if s.rl == nil || s.rateLimitPerMinute <= 0 {
		return true
	}
	minuteKey := fmt.Sprintf("rl:transport:%s", s.now().Format("200601021504"))
	allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rateLimitPerMinute, 70*time.Second)
	if err != nil {
		// Редис недоступен — лимитер не должен останавливать синк.
		return true
	}
	if !allowed {
		slog.Warn("transport rate limit exceeded, stopping cycle", "count", n)
	}
	return allowed
}

func (s *Syncer) processOne(ctx context.Context, item *models.SyncQueueItem) ItemResult {
	now := s.now()

	_, sendErr := s.client.Send(ctx, item.Endpoint, item.Method, item.Payload)
	if sendErr == nil {
		changed, err := s.store.MarkSynced(ctx, item.ID, now)
		if err != nil {
			s.noteError(err)
			return ItemResult{ID: item.ID, Status: item.Status, Error: err.Error()}
		}
		if changed {
			s.totalSynced.Add(1)
			s.publishResolved(ctx, item, models.SyncStatusSynced, now, nil)
			return ItemResult{ID: item.ID, Status: models.SyncStatusSynced}
		}
		// Already terminal: an earlier cycle won, do not count it again.
		// Claimed items are always PENDING, so "terminal" here means an
		// earlier successful send — report the settled status, not the
		// stale claimed one.
		return ItemResult{ID: item.ID, Status: models.SyncStatusSynced}
	}

	msg := sendErr.Error()
	// Fail only when the attempt that just failed was already the final
	// permitted retry: maxRetries=3 means the initial send plus three retries.
	if item.RetryCount >= item.MaxRetries {
		if err := s.store.MarkFailed(ctx, item.ID, now, msg); err != nil {
			s.noteError(err)
			return ItemResult{ID: item.ID, Status: item.Status, Error: err.Error()}
		}
		s.totalFailed.Add(1)
		s.noteError(sendErr)
		s.publishResolved(ctx, item, models.SyncStatusFailed, now, &msg)
		slog.Error("sync item exhausted retries", "item_id", item.ID, "endpoint", item.Endpoint, "error", msg)
		return ItemResult{ID: item.ID, Status: models.SyncStatusFailed, Error: msg}
	}

	// Backoff exponent is the retry count at the time of this failed attempt,
	// so the schedule runs base, 2*base, 4*base, ...
	nextAt := s.policy.NextRetryAt(now, item.RetryCount)
	if err := s.store.MarkRetry(ctx, item.ID, now, nextAt, msg); err != nil {
		s.noteError(err)
		return ItemResult{ID: item.ID, Status: item.Status, Error: err.Error()}
	}
	s.totalRetried.Add(1)
	s.noteError(sendErr)
	slog.Warn("sync item send failed, rescheduled",
		"item_id", item.ID,
		"endpoint", item.Endpoint,
		"retry_count", item.RetryCount+1,
		"next_retry_at", nextAt,
		"error", msg,
	)
	return ItemResult{ID: item.ID, Status: models.SyncStatusPending, Error: msg}
}

func (s *Syncer) publishResolved(ctx context.Context, item *models.SyncQueueItem, status string, at time.Time, sendErr *string) {
	if s.producer == nil || s.topic == "" {
		return
	}
	ev := messages.SyncItemResolved{
		ItemID:     item.ID,
		Endpoint:   item.Endpoint,
		Method:     item.Method,
		TargetKind: item.TargetKind,
		TargetID:   item.TargetID,
		Status:     status,
		RetryCount: item.RetryCount,
		ResolvedAt: at,
		Error:      sendErr,
	}
	b, err := json.Marshal(ev)
	if err != nil {
		s.noteError(errors.Wrap(err, "marshal sync resolved event"))
		return
	}
	key := []byte(fmt.Sprintf("%s:%d", item.TargetKind, item.TargetID))
	if err := s.producer.Publish(ctx, s.topic, key, b); err != nil {
		// Телеметрия best-effort: исход уже записан в локальном сторе.
		slog.Warn("publish sync resolved event", "item_id", item.ID, "error", err.Error())
	}
}

func (s *Syncer) noteError(err error) {
	s.lastErrorMu.Lock()
	s.lastError = err.Error()
	s.lastErrorMu.Unlock()
}
