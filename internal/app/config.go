package app

import (
	"time"

	"github.com/studyreel/studyreel-backend/internal/jobs"
	"github.com/studyreel/studyreel-backend/internal/platform/envutil"
	"github.com/studyreel/studyreel-backend/internal/services"
)

type Config struct {
	WorkerConcurrency int
	EmbeddingDim      int
	Pipeline          jobs.PipelineConfig
	Relevance         services.RelevanceConfig
}

func LoadConfig() Config {
	relevance := services.DefaultRelevanceConfig()
	relevance.ScoreGap = envutil.Float("RELEVANCE_SCORE_GAP", relevance.ScoreGap)
	relevance.MinTopScore = envutil.Float("RELEVANCE_MIN_TOP_SCORE", relevance.MinTopScore)
	relevance.ScoreFloor = envutil.Float("RELEVANCE_SCORE_FLOOR", relevance.ScoreFloor)
	relevance.Candidates = envutil.Int("RELEVANCE_CANDIDATES", relevance.Candidates)

	pipeline := jobs.DefaultPipelineConfig()
	pipeline.ProcessingMaxWait = envutil.Duration("PROCESSING_MAX_WAIT", pipeline.ProcessingMaxWait)
	pipeline.ProcessingPollInterval = envutil.Duration("PROCESSING_POLL_INTERVAL", pipeline.ProcessingPollInterval)
	pipeline.CaptionMaxWait = envutil.Duration("CAPTION_MAX_WAIT", pipeline.CaptionMaxWait)
	pipeline.CaptionPollInterval = envutil.Duration("CAPTION_POLL_INTERVAL", pipeline.CaptionPollInterval)
	pipeline.MinChunkSize = envutil.Int("CHUNK_MIN_SIZE", pipeline.MinChunkSize)
	pipeline.MaxChunkSize = envutil.Int("CHUNK_MAX_SIZE", pipeline.MaxChunkSize)

	return Config{
		WorkerConcurrency: envutil.Int("WORKER_CONCURRENCY", 2),
		EmbeddingDim:      envutil.Int("VECTOR_INDEX_DIM", 1536),
		Pipeline:          pipeline,
		Relevance:         relevance,
	}
}

// Shared dial/ping timeout for startup dependencies.
const bootstrapTimeout = 10 * time.Second
