package chaser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PropDesk/JobDesk/internal/broker/messages"
	"github.com/PropDesk/JobDesk/internal/models"
	"github.com/PropDesk/JobDesk/internal/workflow"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	ClaimStaleJobCards(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.JobCard, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Chaser периодически забирает карточки, просидевшие на этапе дольше
// допустимого, и публикует по ним напоминания. Применяет их api-процесс
// (отметка last_chased_at + следующий дедлайн из сообщения).
type Chaser struct {
	repo     Repository
	producer Producer
	rl       RateLimiter

	topic   string
	planner *Planner

	pollInterval       time.Duration
	batchSize          int
	concurrency        int
	lease              time.Duration
	rateLimitPerMinute int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalClaimed        atomic.Int64
	totalPublished      atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, rl RateLimiter, topic string) *Chaser {
	return &Chaser{
		repo: repo, producer: producer, rl: rl, topic: topic,
		planner:            DefaultPlanner(),
		pollInterval:       30 * time.Second,
		batchSize:          100,
		concurrency:        10,
		lease:              120 * time.Second,
		rateLimitPerMinute: 120,
		triggerCh:          make(chan struct{}, 1),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (c *Chaser) WithSettings(pollInterval time.Duration, batchSize, concurrency int, lease time.Duration, rlPerMin int64) *Chaser {
	if pollInterval > 0 {
		c.pollInterval = pollInterval
	}
	if batchSize > 0 {
		c.batchSize = batchSize
	}
	if concurrency > 0 {
		c.concurrency = concurrency
	}
	if lease > 0 {
		c.lease = lease
	}
	if rlPerMin > 0 {
		c.rateLimitPerMinute = rlPerMin
	}
	return c
}

func (c *Chaser) WithPlanner(cfg DwellConfig) *Chaser {
	c.planner = NewPlanner(cfg)
	return c
}

// Trigger форсирует немедленный цикл (best-effort, не блокирует).
func (c *Chaser) Trigger() {
	c.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case c.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt      time.Time  `json:"startedAt"`
	LastCycleAt    *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt  *time.Time `json:"lastTriggerAt,omitempty"`
	TotalClaimed   int64      `json:"totalClaimed"`
	TotalPublished int64      `json:"totalPublished"`
	TotalErrors    int64      `json:"totalErrors"`
	InFlight       int64      `json:"inFlight"`
	LastError      string     `json:"lastError,omitempty"`
}

func (c *Chaser) Stats() Stats {
	st := Stats{
		StartedAt:      time.Unix(0, c.startedAtUnixNano).UTC(),
		TotalClaimed:   c.totalClaimed.Load(),
		TotalPublished: c.totalPublished.Load(),
		TotalErrors:    c.totalErrors.Load(),
		InFlight:       c.inFlight.Load(),
	}
	if n := c.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := c.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	c.lastErrorMu.Lock()
	st.LastError = c.lastError
	c.lastErrorMu.Unlock()
	return st
}

func (c *Chaser) Run(ctx context.Context) error {
	t := time.NewTicker(c.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.runOnce(ctx)
		case <-c.triggerCh:
			c.runOnce(ctx)
		}
	}
}

func (c *Chaser) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	c.lastCycleUnixNano.Store(now.UnixNano())

	items, err := c.repo.ClaimStaleJobCards(ctx, now, c.batchSize, c.lease)
	if err != nil {
		slog.Error("claim stale job cards", "error", err.Error())
		c.lastErrorMu.Lock()
		c.lastError = err.Error()
		c.lastErrorMu.Unlock()
		return
	}
	c.totalClaimed.Add(int64(len(items)))

	sem := make(chan struct{}, c.concurrency)
	var wg sync.WaitGroup
	for _, card := range items {
		sem <- struct{}{}
		wg.Add(1)
		cardCopy := card
		c.inFlight.Add(1)
		go func() {
			defer func() {
				c.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			if err := c.processOne(ctx, cardCopy); err != nil {
				c.totalErrors.Add(1)
				c.lastErrorMu.Lock()
				c.lastError = err.Error()
				c.lastErrorMu.Unlock()
				slog.Error("chase job card", "job_card_id", cardCopy.ID, "error", err.Error())
				return
			}
			c.totalPublished.Add(1)
		}()
	}
	wg.Wait()
}

func (c *Chaser) processOne(ctx context.Context, card *models.JobCard) error {
	now := time.Now().UTC()

	if c.rl != nil && c.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:chase:%s", now.Format("200601021504"))
		allowed, n, err := c.rl.Allow(ctx, minuteKey, c.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// Слишком много напоминаний в минуту: слегка притормозим.
			slog.Warn("chase rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	status := workflow.StatusOf(card)
	staleSince := card.UpdatedAt
	if card.LastChasedAt != nil && card.LastChasedAt.After(staleSince) {
		staleSince = *card.LastChasedAt
	}

	msg := messages.JobCardStale{
		EventID:     uuid.NewString(),
		JobCardID:   card.ID,
		Status:      string(status),
		StaleSince:  staleSince,
		ChaseCount:  card.ChaseCount + 1,
		NextChaseAt: now.Add(c.planner.NextChaseDelay(status)),
		OccurredAt:  now,
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal stale msg")
	}

	key := []byte(fmt.Sprintf("%d", card.ID))
	// Kafka может быть не готова сразу после старта docker compose.
	// Небольшой retry, как и в остальных местах публикации.
	var pubErr error
	for i := 0; i < 10; i++ {
		if err := c.producer.Publish(ctx, c.topic, key, b); err == nil {
			pubErr = nil
			break
		} else {
			pubErr = err
			time.Sleep(time.Duration(150*(i+1)) * time.Millisecond)
		}
	}
	return pubErr
}
