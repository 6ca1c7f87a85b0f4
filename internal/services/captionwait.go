package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/platform/videosvc"
)

// ProgressFunc lets the caller persist incremental progress while a poll
// loop runs. Updates arrive strictly in order; a callback is invoked only
// after the work it describes has happened.
type ProgressFunc func(stage string, percentage int, message string)

// Caption polling reports progress inside this band: the true remote
// progress is opaque, so elapsed time is linearly interpolated between the
// bounds to keep the signal monotonic and bounded.
const (
	captionProgressFloor   = 70
	captionProgressCeiling = 84
)

// CaptionWaitService drives the external captioning workflow to a terminal
// state via bounded polling.
type CaptionWaitService interface {
	// WaitForProcessing blocks until the video finishes transcoding.
	WaitForProcessing(ctx context.Context, videoID string, maxWait, pollInterval time.Duration) error
	// WaitForCaptions blocks until the caption track for language is ready,
	// reporting interpolated progress through onProgress (may be nil).
	WaitForCaptions(ctx context.Context, videoID, language string, maxWait, pollInterval time.Duration, onProgress ProgressFunc) error
}

type captionWaitService struct {
	log   *logger.Logger
	video videosvc.Client
}

func NewCaptionWaitService(log *logger.Logger, video videosvc.Client) (CaptionWaitService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if video == nil {
		return nil, fmt.Errorf("video client required")
	}
	return &captionWaitService{
		log:   log.With("service", "CaptionWaitService"),
		video: video,
	}, nil
}

func (s *captionWaitService) WaitForProcessing(ctx context.Context, videoID string, maxWait, pollInterval time.Duration) error {
	const op = "captions.wait_processing"

	poll := func(ctx context.Context) (videosvc.Status, error) {
		return s.video.GetStatus(ctx, videoID)
	}
	return s.pollUntilReady(ctx, op, videoID, maxWait, pollInterval, poll, nil)
}

func (s *captionWaitService) WaitForCaptions(ctx context.Context, videoID, language string, maxWait, pollInterval time.Duration, onProgress ProgressFunc) error {
	const op = "captions.wait_captions"

	poll := func(ctx context.Context) (videosvc.Status, error) {
		return s.video.GetCaptionStatus(ctx, videoID, language)
	}
	return s.pollUntilReady(ctx, op, videoID, maxWait, pollInterval, poll, onProgress)
}

func (s *captionWaitService) pollUntilReady(
	ctx context.Context,
	op, videoID string,
	maxWait, pollInterval time.Duration,
	poll func(context.Context) (videosvc.Status, error),
	onProgress ProgressFunc,
) error {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Minute
	}

	started := time.Now()
	deadline := started.Add(maxWait)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		status, err := poll(ctx)
		switch {
		case errors.Is(err, videosvc.ErrNotFound):
			// The triggering call may not be visible remotely yet.
			status = videosvc.Status{State: videosvc.StatePending}
		case err != nil:
			return apperr.External(op, err)
		}

		switch status.State {
		case videosvc.StateReady:
			return nil
		case videosvc.StateError:
			msg := status.Error
			if msg == "" {
				msg = "remote reported error state"
			}
			return apperr.New(apperr.CodeExternal, op, msg, nil)
		}

		if onProgress != nil {
			pct := interpolateProgress(time.Since(started), maxWait, captionProgressFloor, captionProgressCeiling)
			onProgress("generating-captions", pct, fmt.Sprintf("Captions %s for video %s", status.State, videoID))
		}

		if time.Now().Add(pollInterval).After(deadline) {
			return apperr.Timeout(op, fmt.Sprintf("gave up after %s waiting on video %s", maxWait, videoID))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// interpolateProgress maps elapsed/total onto [floor, ceiling].
func interpolateProgress(elapsed, total time.Duration, floor, ceiling int) int {
	if total <= 0 {
		return floor
	}
	frac := float64(elapsed) / float64(total)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return floor + int(frac*float64(ceiling-floor))
}
