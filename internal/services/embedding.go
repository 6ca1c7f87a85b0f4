package services

import (
	"context"
	"fmt"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/llm"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

// EmbeddingService turns text into a fixed-length vector. A vector of the
// wrong dimensionality is a hard error; padding or truncating would silently
// poison the index.
type EmbeddingService interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

type embeddingService struct {
	log *logger.Logger
	llm llm.Client
	dim int
}

func NewEmbeddingService(log *logger.Logger, client llm.Client, dim int) (EmbeddingService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("llm client required")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", dim)
	}
	return &embeddingService{
		log: log.With("service", "EmbeddingService"),
		llm: client,
		dim: dim,
	}, nil
}

func (s *embeddingService) Dim() int { return s.dim }

func (s *embeddingService) EmbedText(ctx context.Context, text string) ([]float32, error) {
	const op = "embedding.embed"

	vec, err := s.llm.Embed(ctx, text)
	if err != nil {
		return nil, apperr.External(op, err)
	}
	if len(vec) == 0 {
		return nil, apperr.New(apperr.CodeExternal, op, "model returned empty vector", nil)
	}
	if len(vec) != s.dim {
		return nil, apperr.New(
			apperr.CodeExternal,
			op,
			fmt.Sprintf("vector dimension mismatch: expected=%d got=%d", s.dim, len(vec)),
			nil,
		)
	}
	return vec, nil
}
