package syncer

import (
	"time"
)

type PolicyConfig struct {
	BaseDelay time.Duration // default: 1 second

	// MaxRetries is the default budget stamped on new queue items when the
	// caller does not choose one.
	MaxRetries int32 // default: 3
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		BaseDelay:  1 * time.Second,
		MaxRetries: 3,
	}
}

// Policy решает, когда элемент очереди можно отправлять снова. Чистая функция
// от (retryCount, lastRetryAt, now): никаких таймеров внутри, вызывающий сам
// выбирает планировщик (тикер, ручной trigger, wakeup по пушу).
type Policy struct {
	cfg PolicyConfig
}

func NewPolicy(cfg PolicyConfig) *Policy {
	def := DefaultPolicyConfig()
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Policy{cfg: cfg}
}

func DefaultPolicy() *Policy {
	return NewPolicy(DefaultPolicyConfig())
}

func (p *Policy) DefaultMaxRetries() int32 {
	return p.cfg.MaxRetries
}

// Backoff doubles per attempt: base * 2^retryCount. The shift is capped so a
// poisoned retry_count cannot overflow the duration.
func (p *Policy) Backoff(retryCount int32) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if retryCount > 30 {
		retryCount = 30
	}
	return p.cfg.BaseDelay * time.Duration(int64(1)<<retryCount)
}

// ShouldRetry reports whether the item may be sent at now. A never-attempted
// item is always eligible; an exhausted one never is.
func (p *Policy) ShouldRetry(retryCount, maxRetries int32, lastRetryAt *time.Time, now time.Time) bool {
	if retryCount >= maxRetries {
		return false
	}
	if lastRetryAt == nil {
		return true
	}
	return now.Sub(*lastRetryAt) >= p.Backoff(retryCount)
}

func (p *Policy) NextRetryAt(now time.Time, retryCount int32) time.Time {
	return now.Add(p.Backoff(retryCount))
}
