package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/studyreel/studyreel-backend/internal/platform/envutil"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

// Message is one job-start request. Attempt counts deliveries so retryable
// failures cannot loop forever.
type Message struct {
	ContentID  string    `json:"content_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a claimed message plus the raw payload needed to release it
// from the processing list.
type Delivery struct {
	Message Message
	raw     string
}

// Queue is an at-least-once work queue over a Redis reliable list: producers
// LPUSH onto the pending list, consumers atomically move a payload onto a
// processing list and must settle it with Ack or Retry.
type Queue interface {
	Send(ctx context.Context, msg Message) error
	// Claim blocks up to timeout; returns (nil, nil) when nothing arrived.
	Claim(ctx context.Context, timeout time.Duration) (*Delivery, error)
	// Ack removes the delivery from the processing list.
	Ack(ctx context.Context, d *Delivery) error
	// Retry re-enqueues with an incremented attempt counter, or parks the
	// payload on the dead list once maxAttempts is exhausted.
	Retry(ctx context.Context, d *Delivery) error
	// Abandon drops the delivery without redelivery (non-retryable failure).
	Abandon(ctx context.Context, d *Delivery) error
	MaxAttempts() int
}

type redisQueue struct {
	log         *logger.Logger
	rdb         *goredis.Client
	pendingKey  string
	workingKey  string
	deadKey     string
	maxAttempts int
}

func New(log *logger.Logger, rdb *goredis.Client) (Queue, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}

	key := strings.TrimSpace(os.Getenv("QUEUE_KEY"))
	if key == "" {
		key = "jobs:content"
	}

	return &redisQueue{
		log:         log.With("service", "RedisWorkQueue"),
		rdb:         rdb,
		pendingKey:  key,
		workingKey:  key + ":processing",
		deadKey:     key + ":dead",
		maxAttempts: envutil.Int("QUEUE_MAX_ATTEMPTS", 3),
	}, nil
}

func (q *redisQueue) MaxAttempts() int { return q.maxAttempts }

func (q *redisQueue) Send(ctx context.Context, msg Message) error {
	if q == nil || q.rdb == nil {
		return fmt.Errorf("queue not initialized")
	}
	if strings.TrimSpace(msg.ContentID) == "" {
		return fmt.Errorf("content id required")
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.pendingKey, raw).Err(); err != nil {
		return fmt.Errorf("queue send: %w", err)
	}
	return nil
}

func (q *redisQueue) Claim(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if q == nil || q.rdb == nil {
		return nil, fmt.Errorf("queue not initialized")
	}
	raw, err := q.rdb.BRPopLPush(ctx, q.pendingKey, q.workingKey, timeout).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue claim: %w", err)
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// Unparseable payloads can never succeed; park them immediately.
		q.log.Warn("Dropping malformed queue payload", "error", err)
		q.park(ctx, raw)
		return nil, nil
	}
	return &Delivery{Message: msg, raw: raw}, nil
}

func (q *redisQueue) Ack(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	return q.release(ctx, d)
}

func (q *redisQueue) Retry(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	if err := q.release(ctx, d); err != nil {
		return err
	}
	next := d.Message
	next.Attempt++
	if next.Attempt >= q.maxAttempts {
		q.log.Warn("Queue message exhausted attempts; parking",
			"content_id", next.ContentID,
			"attempts", next.Attempt,
		)
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		q.park(ctx, string(raw))
		return nil
	}
	return q.Send(ctx, next)
}

func (q *redisQueue) Abandon(ctx context.Context, d *Delivery) error {
	if d == nil {
		return nil
	}
	if err := q.release(ctx, d); err != nil {
		return err
	}
	q.park(ctx, d.raw)
	return nil
}

func (q *redisQueue) release(ctx context.Context, d *Delivery) error {
	if err := q.rdb.LRem(ctx, q.workingKey, 1, d.raw).Err(); err != nil {
		return fmt.Errorf("queue release: %w", err)
	}
	return nil
}

func (q *redisQueue) park(ctx context.Context, raw string) {
	if err := q.rdb.LPush(ctx, q.deadKey, raw).Err(); err != nil {
		q.log.Error("Dead-letter push failed", "error", err)
	}
}
