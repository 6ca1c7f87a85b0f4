package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/platform/videosvc"
	"github.com/studyreel/studyreel-backend/internal/services"
)

// PipelineConfig bounds the external waits and sizes the chunker. Timeouts
// apply per external wait, not to the job as a whole.
type PipelineConfig struct {
	ProcessingMaxWait      time.Duration
	ProcessingPollInterval time.Duration
	CaptionMaxWait         time.Duration
	CaptionPollInterval    time.Duration
	MinChunkSize           int
	MaxChunkSize           int
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ProcessingMaxWait:      10 * time.Minute,
		ProcessingPollInterval: 5 * time.Second,
		CaptionMaxWait:         15 * time.Minute,
		CaptionPollInterval:    5 * time.Second,
		MinChunkSize:           services.DefaultMinChunkSize,
		MaxChunkSize:           services.DefaultMaxChunkSize,
	}
}

// Orchestrator drives one queued job through upload, transcoding, caption
// generation, summarization and indexing. It is the only writer of job
// state while a job is processing; stage updates are persisted strictly in
// order, each after its stage's work completed.
type Orchestrator struct {
	log        *logger.Logger
	cfg        PipelineConfig
	store      Store
	video      videosvc.Client
	captions   services.CaptionWaitService
	educontent services.EducationalContentService
	retrieval  services.RetrievalService
}

func NewOrchestrator(
	log *logger.Logger,
	cfg PipelineConfig,
	store Store,
	video videosvc.Client,
	captions services.CaptionWaitService,
	educontent services.EducationalContentService,
	retrieval services.RetrievalService,
) (*Orchestrator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if store == nil {
		return nil, fmt.Errorf("job store required")
	}
	if video == nil {
		return nil, fmt.Errorf("video client required")
	}
	if captions == nil {
		return nil, fmt.Errorf("caption wait service required")
	}
	if educontent == nil {
		return nil, fmt.Errorf("educational content service required")
	}
	if retrieval == nil {
		return nil, fmt.Errorf("retrieval service required")
	}
	if cfg.ProcessingMaxWait <= 0 {
		cfg = DefaultPipelineConfig()
	}
	return &Orchestrator{
		log:        log.With("service", "JobOrchestrator"),
		cfg:        cfg,
		store:      store,
		video:      video,
		captions:   captions,
		educontent: educontent,
		retrieval:  retrieval,
	}, nil
}

// Process runs the full pipeline for one queue message. The returned error
// is already classified: the worker acks on nil, retries on retryable codes
// and parks the message otherwise. Failed status is persisted here and only
// here; inner helpers never swallow errors except the non-fatal indexing
// step.
func (o *Orchestrator) Process(ctx context.Context, contentID string) error {
	log := o.log.With("content_id", contentID)

	job, err := o.store.GetJob(ctx, contentID)
	if err != nil {
		// Missing job record: the message references work that no longer
		// exists, so retrying can never succeed.
		return err
	}

	runErr := o.run(ctx, log, job)
	if runErr != nil {
		job.Status = StatusFailed
		job.Error = &JobError{Message: runErr.Error(), Timestamp: time.Now().UTC()}
		job.Progress.Message = "Processing failed"
		if saveErr := o.store.SaveJob(ctx, job); saveErr != nil {
			log.Error("Persisting failed status failed", "error", saveErr)
		}
		log.Error("Job failed", "stage", job.Progress.Stage, "error", runErr)
		return runErr
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, log *logger.Logger, job *ContentJob) (err error) {
	const op = "pipeline.run"

	job.Status = StatusProcessing
	job.Error = nil
	if err := o.setProgress(ctx, job, StageUploading, 5, "Uploading source video"); err != nil {
		return err
	}

	videoID, err := o.video.UploadFromURL(ctx, job.VideoURL, map[string]string{
		"contentId": job.ContentID,
	})
	if err != nil {
		return apperr.External(op, fmt.Errorf("upload: %w", err))
	}
	job.VideoID = videoID
	log.Info("Video uploaded", "video_id", videoID)

	// The uploaded copy is temporary; try to remove it no matter how the
	// run ends. A cleanup failure must never mask the original error.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if delErr := o.video.Delete(cleanupCtx, videoID); delErr != nil {
			log.Warn("Temporary video cleanup failed", "video_id", videoID, "error", delErr)
		}
	}()

	if err := o.setProgress(ctx, job, StageTranscoding, 15, "Waiting for transcoding"); err != nil {
		return err
	}
	if err := o.captions.WaitForProcessing(ctx, videoID, o.cfg.ProcessingMaxWait, o.cfg.ProcessingPollInterval); err != nil {
		return err
	}

	if err := o.setProgress(ctx, job, StageGeneratingCaptions, 70, "Generating captions"); err != nil {
		return err
	}
	if err := o.video.GenerateCaptions(ctx, videoID, job.Language); err != nil {
		return apperr.External(op, fmt.Errorf("start caption generation: %w", err))
	}

	onProgress := func(stage string, percentage int, message string) {
		if progressErr := o.setProgress(ctx, job, stage, percentage, message); progressErr != nil {
			log.Warn("Progress update failed", "stage", stage, "error", progressErr)
		}
	}
	if err := o.captions.WaitForCaptions(ctx, videoID, job.Language, o.cfg.CaptionMaxWait, o.cfg.CaptionPollInterval, onProgress); err != nil {
		return err
	}

	if err := o.setProgress(ctx, job, StageDownloadingCaptions, 85, "Downloading caption track"); err != nil {
		return err
	}
	track, err := o.video.GetCaptionTrack(ctx, videoID, job.Language)
	if err != nil {
		return apperr.External(op, fmt.Errorf("download captions: %w", err))
	}
	segments, err := services.ParseCaptionTrack(track)
	if err != nil {
		return apperr.External(op, fmt.Errorf("parse captions: %w", err))
	}
	plain := services.PlainText(segments)
	duration := services.TotalDuration(segments)

	if err := o.setProgress(ctx, job, StageSummarizing, 88, "Deriving study material"); err != nil {
		return err
	}
	content, err := o.educontent.Derive(ctx, plain, job.Language)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := o.store.SaveJob(ctx, job); err != nil {
		return err
	}
	if err := o.store.SaveSubtitle(ctx, &SubtitleRecord{
		ContentID: job.ContentID,
		Language:  job.Language,
		Segments:  segments,
		Duration:  duration,
		CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := o.store.SaveSummary(ctx, &SummaryRecord{
		ContentID:            job.ContentID,
		Summary:              content.Summary,
		Objectives:           content.Objectives,
		RecommendedQuestions: content.RecommendedQuestions,
		CreatedAt:            now,
	}); err != nil {
		return err
	}
	if len(content.Quiz) > 0 {
		if err := o.store.SaveQuiz(ctx, &QuizRecord{
			ContentID: job.ContentID,
			Questions: content.Quiz,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}

	if err := o.setProgress(ctx, job, StageIndexing, 95, "Indexing for semantic search"); err != nil {
		return err
	}
	// Indexing is non-fatal: captions and summary are already durable, so a
	// search-side failure should not fail the job.
	if idxErr := o.retrieval.IndexContent(ctx, services.IndexRequest{
		ContentID: job.ContentID,
		Language:  job.Language,
		Segments:  segments,
		Summary:   content.Summary,
		MinChunk:  o.cfg.MinChunkSize,
		MaxChunk:  o.cfg.MaxChunkSize,
	}); idxErr != nil {
		log.Error("Indexing failed; completing job without search", "error", idxErr)
	}

	job.Status = StatusCompleted
	if err := o.setProgress(ctx, job, StageCompleted, 100, "Processing complete"); err != nil {
		return err
	}
	log.Info("Job completed", "duration_s", duration, "segments", len(segments))
	return nil
}

// setProgress mutates the in-memory job and persists it. Called only after
// the work a stage describes has finished, which keeps persisted progress
// strictly ordered.
func (o *Orchestrator) setProgress(ctx context.Context, job *ContentJob, stage string, percentage int, message string) error {
	job.Progress = Progress{Stage: stage, Percentage: percentage, Message: message}
	return o.store.SaveJob(ctx, job)
}
