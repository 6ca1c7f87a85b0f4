package jobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/platform/queue"
	"github.com/studyreel/studyreel-backend/internal/services"
)

// SubmitRequest is one processing submission.
type SubmitRequest struct {
	VideoURL string
	Language string
	Options  Options
	// Force starts a new processing cycle even when the content id already
	// has a record; createdAt is preserved.
	Force bool
}

// SubmitResult reports what happened to a submission.
type SubmitResult struct {
	Job *ContentJob
	// Enqueued is false when an existing job was returned without
	// re-enqueueing (same URL submitted again without Force).
	Enqueued bool
}

// SubmissionService creates content-addressed jobs and enqueues their
// processing. It is the write path for everything outside the orchestrator.
type SubmissionService interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	GetStatus(ctx context.Context, contentID string) (*ContentJob, error)
}

type submissionService struct {
	log   *logger.Logger
	store Store
	queue queue.Queue
}

func NewSubmissionService(log *logger.Logger, store Store, q queue.Queue) (SubmissionService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("job store required")
	}
	if q == nil {
		return nil, fmt.Errorf("queue required")
	}
	return &submissionService{
		log:   log.With("service", "SubmissionService"),
		store: store,
		queue: q,
	}, nil
}

func (s *submissionService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	const op = "jobs.submit"

	videoURL := strings.TrimSpace(req.VideoURL)
	if videoURL == "" {
		return nil, apperr.Validation(op, "video url required")
	}
	parsed, err := url.Parse(videoURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, apperr.Validation(op, fmt.Sprintf("invalid video url %q", videoURL))
	}

	contentID := ContentIDFromURL(videoURL)
	language := services.NormalizeLanguage(req.Language)
	now := time.Now().UTC()

	existing, err := s.store.GetJob(ctx, contentID)
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		existing = nil
	case "":
		// found
	default:
		return nil, err
	}

	if existing != nil && !req.Force {
		s.log.Info("Submission deduplicated",
			"content_id", contentID,
			"status", existing.Status,
		)
		return &SubmitResult{Job: existing, Enqueued: false}, nil
	}

	job := &ContentJob{
		ContentID: contentID,
		VideoURL:  videoURL,
		Language:  language,
		Options:   req.Options,
		Status:    StatusQueued,
		Progress:  Progress{Stage: StageQueued, Percentage: 0, Message: "Waiting for a worker"},
		CreatedAt: now,
	}
	if existing != nil {
		// Forced reprocessing reuses the record; only createdAt survives.
		job.CreatedAt = existing.CreatedAt
	}

	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}
	if err := s.queue.Send(ctx, queue.Message{ContentID: contentID}); err != nil {
		return nil, apperr.External(op, err)
	}

	s.log.Info("Job enqueued",
		"content_id", contentID,
		"language", language,
		"forced", req.Force && existing != nil,
	)
	return &SubmitResult{Job: job, Enqueued: true}, nil
}

func (s *submissionService) GetStatus(ctx context.Context, contentID string) (*ContentJob, error) {
	const op = "jobs.status"
	if strings.TrimSpace(contentID) == "" {
		return nil, apperr.Validation(op, "content id required")
	}
	return s.store.GetJob(ctx, contentID)
}
