package jobs

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/platform/queue"
)

// Worker consumes job-start messages. Up to concurrency messages are
// processed at once, each through an independent orchestrator run against an
// independent content id; the durable store is the only thing they share.
type Worker struct {
	log          *logger.Logger
	queue        queue.Queue
	orchestrator *Orchestrator
	concurrency  int
}

func NewWorker(log *logger.Logger, q queue.Queue, orchestrator *Orchestrator, concurrency int) (*Worker, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if q == nil {
		return nil, fmt.Errorf("queue required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Worker{
		log:          log.With("component", "JobWorker"),
		queue:        q,
		orchestrator: orchestrator,
		concurrency:  concurrency,
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Worker starting", "concurrency", w.concurrency)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			w.consumeLoop(ctx)
			return nil
		})
	}
	err := g.Wait()
	w.log.Info("Worker stopped")
	return err
}

func (w *Worker) consumeLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := w.queue.Claim(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("Queue claim failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			continue
		}
		if delivery == nil {
			continue
		}

		w.handle(ctx, delivery)
	}
}

func (w *Worker) handle(ctx context.Context, delivery *queue.Delivery) {
	msg := delivery.Message
	log := w.log.With("content_id", msg.ContentID, "attempt", msg.Attempt)

	processErr := w.process(ctx, msg.ContentID)
	if processErr == nil {
		if err := w.queue.Ack(ctx, delivery); err != nil {
			log.Error("Ack failed", "error", err)
		}
		return
	}

	if apperr.Retryable(processErr) {
		log.Warn("Job failed; requesting redelivery", "error", processErr)
		if err := w.queue.Retry(ctx, delivery); err != nil {
			log.Error("Retry failed", "error", err)
		}
		return
	}

	log.Warn("Job failed non-retryably; parking message", "error", processErr)
	if err := w.queue.Abandon(ctx, delivery); err != nil {
		log.Error("Abandon failed", "error", err)
	}
}

// process shields the consumer loop from handler panics: a panic marks the
// message retryable rather than killing the worker.
func (w *Worker) process(ctx context.Context, contentID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("Job handler panic", "content_id", contentID, "panic", r)
			err = apperr.New(apperr.CodeExternal, "worker.process", fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return w.orchestrator.Process(ctx, contentID)
}
