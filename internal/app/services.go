package app

import (
	"fmt"

	"github.com/studyreel/studyreel-backend/internal/jobs"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/services"
)

type Services struct {
	Embedding   services.EmbeddingService
	Retrieval   services.RetrievalService
	CaptionWait services.CaptionWaitService
	EduContent  services.EducationalContentService
	JobStore    jobs.Store
	Submission  jobs.SubmissionService
	Worker      *jobs.Worker
}

func wireServices(log *logger.Logger, cfg Config, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	embedding, err := services.NewEmbeddingService(log, clients.LLM, cfg.EmbeddingDim)
	if err != nil {
		return Services{}, fmt.Errorf("init embedding service: %w", err)
	}
	retrieval, err := services.NewRetrievalService(log, embedding, clients.VectorIndex, cfg.Relevance)
	if err != nil {
		return Services{}, fmt.Errorf("init retrieval service: %w", err)
	}
	captionWait, err := services.NewCaptionWaitService(log, clients.Video)
	if err != nil {
		return Services{}, fmt.Errorf("init caption wait service: %w", err)
	}
	eduContent, err := services.NewEducationalContentService(log, clients.LLM)
	if err != nil {
		return Services{}, fmt.Errorf("init educational content service: %w", err)
	}

	store, err := jobs.NewStore(log, clients.KV)
	if err != nil {
		return Services{}, fmt.Errorf("init job store: %w", err)
	}
	submission, err := jobs.NewSubmissionService(log, store, clients.Queue)
	if err != nil {
		return Services{}, fmt.Errorf("init submission service: %w", err)
	}
	orchestrator, err := jobs.NewOrchestrator(log, cfg.Pipeline, store, clients.Video, captionWait, eduContent, retrieval)
	if err != nil {
		return Services{}, fmt.Errorf("init orchestrator: %w", err)
	}
	worker, err := jobs.NewWorker(log, clients.Queue, orchestrator, cfg.WorkerConcurrency)
	if err != nil {
		return Services{}, fmt.Errorf("init worker: %w", err)
	}

	return Services{
		Embedding:   embedding,
		Retrieval:   retrieval,
		CaptionWait: captionWait,
		EduContent:  eduContent,
		JobStore:    store,
		Submission:  submission,
		Worker:      worker,
	}, nil
}
