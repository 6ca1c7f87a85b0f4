package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/platform/videosvc"
)

// fakeVideoClient serves scripted status sequences; the last entry repeats.
type fakeVideoClient struct {
	videosvc.Client

	statuses       []videosvc.Status
	statusErrs     []error
	statusCalls    int
	captionResults []videosvc.Status
	captionErrs    []error
	captionCalls   int
}

func (f *fakeVideoClient) GetStatus(ctx context.Context, videoID string) (videosvc.Status, error) {
	i := f.statusCalls
	f.statusCalls++
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	var err error
	if i < len(f.statusErrs) {
		err = f.statusErrs[i]
	}
	return f.statuses[i], err
}

func (f *fakeVideoClient) GetCaptionStatus(ctx context.Context, videoID, language string) (videosvc.Status, error) {
	i := f.captionCalls
	f.captionCalls++
	if i >= len(f.captionResults) {
		i = len(f.captionResults) - 1
	}
	var err error
	if i < len(f.captionErrs) {
		err = f.captionErrs[i]
	}
	return f.captionResults[i], err
}

func newWaitService(t *testing.T, video videosvc.Client) CaptionWaitService {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })

	svc, err := NewCaptionWaitService(log, video)
	if err != nil {
		t.Fatalf("NewCaptionWaitService: %v", err)
	}
	return svc
}

func TestWaitForProcessingReady(t *testing.T) {
	fake := &fakeVideoClient{
		statuses: []videosvc.Status{
			{State: videosvc.StatePending},
			{State: videosvc.StateProcessing},
			{State: videosvc.StateReady},
		},
	}
	svc := newWaitService(t, fake)

	err := svc.WaitForProcessing(context.Background(), "vid-1", time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.statusCalls != 3 {
		t.Fatalf("want 3 polls got %d", fake.statusCalls)
	}
}

func TestWaitForProcessingRemoteError(t *testing.T) {
	fake := &fakeVideoClient{
		statuses: []videosvc.Status{
			{State: videosvc.StateProcessing},
			{State: videosvc.StateError, Error: "transcode crashed"},
		},
	}
	svc := newWaitService(t, fake)

	err := svc.WaitForProcessing(context.Background(), "vid-1", time.Second, time.Millisecond)
	if err == nil {
		t.Fatal("want error")
	}
	if apperr.CodeOf(err) != apperr.CodeExternal {
		t.Fatalf("want external code got %v", apperr.CodeOf(err))
	}
	if fake.statusCalls != 2 {
		t.Fatalf("error state must stop polling immediately; got %d polls", fake.statusCalls)
	}
}

func TestWaitForProcessingTimeout(t *testing.T) {
	fake := &fakeVideoClient{
		statuses: []videosvc.Status{{State: videosvc.StateProcessing}},
	}
	svc := newWaitService(t, fake)

	err := svc.WaitForProcessing(context.Background(), "vid-1", 20*time.Millisecond, 5*time.Millisecond)
	if apperr.CodeOf(err) != apperr.CodeTimeout {
		t.Fatalf("want timeout code got %v (err=%v)", apperr.CodeOf(err), err)
	}
}

func TestWaitForProcessingTreatsNotFoundAsPending(t *testing.T) {
	fake := &fakeVideoClient{
		statuses:   []videosvc.Status{{}, {State: videosvc.StateReady}},
		statusErrs: []error{videosvc.ErrNotFound, nil},
	}
	svc := newWaitService(t, fake)

	err := svc.WaitForProcessing(context.Background(), "vid-1", time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("not-found on first poll should not fail the wait: %v", err)
	}
}

func TestWaitForProcessingPollFailure(t *testing.T) {
	fake := &fakeVideoClient{
		statuses:   []videosvc.Status{{}},
		statusErrs: []error{errors.New("connection refused")},
	}
	svc := newWaitService(t, fake)

	err := svc.WaitForProcessing(context.Background(), "vid-1", time.Second, time.Millisecond)
	if apperr.CodeOf(err) != apperr.CodeExternal {
		t.Fatalf("want external code got %v", apperr.CodeOf(err))
	}
}

func TestWaitForCaptionsReportsBoundedProgress(t *testing.T) {
	fake := &fakeVideoClient{
		captionResults: []videosvc.Status{
			{State: videosvc.StatePending},
			{State: videosvc.StateProcessing},
			{State: videosvc.StateProcessing},
			{State: videosvc.StateReady},
		},
	}
	svc := newWaitService(t, fake)

	var pcts []int
	onProgress := func(stage string, pct int, msg string) {
		if stage != "generating-captions" {
			t.Fatalf("unexpected stage %q", stage)
		}
		pcts = append(pcts, pct)
	}

	err := svc.WaitForCaptions(context.Background(), "vid-1", "en", time.Second, time.Millisecond, onProgress)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pcts) != 3 {
		t.Fatalf("want 3 progress updates got %d", len(pcts))
	}
	prev := -1
	for _, pct := range pcts {
		if pct < captionProgressFloor || pct > captionProgressCeiling {
			t.Fatalf("progress %d outside [%d, %d]", pct, captionProgressFloor, captionProgressCeiling)
		}
		if pct < prev {
			t.Fatalf("progress not monotonic: %v", pcts)
		}
		prev = pct
	}
}

func TestInterpolateProgress(t *testing.T) {
	if got := interpolateProgress(0, time.Minute, 70, 84); got != 70 {
		t.Fatalf("at start want 70 got %d", got)
	}
	if got := interpolateProgress(time.Minute, time.Minute, 70, 84); got != 84 {
		t.Fatalf("at deadline want 84 got %d", got)
	}
	if got := interpolateProgress(2*time.Minute, time.Minute, 70, 84); got != 84 {
		t.Fatalf("past deadline want 84 got %d", got)
	}
	if got := interpolateProgress(30*time.Second, time.Minute, 70, 84); got != 77 {
		t.Fatalf("midpoint want 77 got %d", got)
	}
}

func TestWaitForProcessingContextCancelled(t *testing.T) {
	fake := &fakeVideoClient{
		statuses: []videosvc.Status{{State: videosvc.StateProcessing}},
	}
	svc := newWaitService(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.WaitForProcessing(ctx, "vid-1", time.Second, time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled got %v", err)
	}
}
