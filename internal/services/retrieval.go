package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/platform/vectorindex"
)

// Record types stored in the vector index.
const (
	RecordTypeTranscript = "transcript"
	RecordTypeSummary    = "summary"
)

// summaryChunkIndex marks the single summary record of a content id.
const summaryChunkIndex = -1

// maxRecordsPerContent bounds the delete-before-reinsert scroll.
const maxRecordsPerContent = 10000

// RelevanceConfig holds the empirically tuned gate constants. The values
// have no documented derivation; treat them as tunable configuration and do
// not re-derive them.
type RelevanceConfig struct {
	// ScoreGap is the minimum lead the best candidate must have over the
	// candidate average for the set to count as relevant.
	ScoreGap float64
	// MinTopScore is the floor the best candidate must clear regardless of gap.
	MinTopScore float64
	// ScoreFloor drops weak candidates from an otherwise relevant set.
	ScoreFloor float64
	// Candidates is how many unfiltered matches the gate inspects.
	Candidates int
}

func DefaultRelevanceConfig() RelevanceConfig {
	return RelevanceConfig{
		ScoreGap:    0.015,
		MinTopScore: 0.3,
		ScoreFloor:  0.1,
		Candidates:  5,
	}
}

// SearchOptions narrow a search with equality filters.
type SearchOptions struct {
	TopK      int
	ContentID string
	Type      string
	Language  string
}

// SearchResult is one normalized match.
type SearchResult struct {
	Score      float64 `json:"score"`
	ContentID  string  `json:"contentId"`
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	ChunkIndex int     `json:"chunkIndex"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	// Fallback marks results kept despite failing the local contentId check,
	// returned because the filtered intersection was empty. Callers can
	// distinguish a confident filtered match from a possibly off-target one.
	Fallback bool `json:"fallback,omitempty"`
}

// ContextSource points a chat answer back at its transcript evidence.
type ContextSource struct {
	ContentID  string  `json:"contentId"`
	Type       string  `json:"type"`
	ChunkIndex int     `json:"chunkIndex"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Score      float64 `json:"score"`
}

// ContextResult is what the chat layer grounds a response in. When
// HasContext is false the caller should answer "no matching material"
// instead of improvising.
type ContextResult struct {
	HasContext bool            `json:"hasContext"`
	Context    string          `json:"context"`
	Sources    []ContextSource `json:"sources"`
}

// IndexRequest carries everything needed to (re)index one content id.
type IndexRequest struct {
	ContentID string
	Language  string
	Segments  []TranscriptSegment
	Summary   string
	MinChunk  int
	MaxChunk  int
}

// RetrievalService owns vector record lifecycle and serves relevance-gated
// semantic search over indexed transcripts and summaries.
type RetrievalService interface {
	IndexContent(ctx context.Context, req IndexRequest) error
	Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error)
	GetContext(ctx context.Context, query string, maxChunks int) (*ContextResult, error)
}

type retrievalService struct {
	log       *logger.Logger
	embedder  EmbeddingService
	idx       vectorindex.Index
	relevance RelevanceConfig
}

func NewRetrievalService(log *logger.Logger, embedder EmbeddingService, idx vectorindex.Index, relevance RelevanceConfig) (RetrievalService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedding service required")
	}
	if idx == nil {
		return nil, fmt.Errorf("vector index required")
	}
	if relevance.Candidates <= 0 {
		relevance = DefaultRelevanceConfig()
	}
	return &retrievalService{
		log:       log.With("service", "RetrievalService"),
		embedder:  embedder,
		idx:       idx,
		relevance: relevance,
	}, nil
}

// IndexContent replaces every vector under req.ContentID with the chunks of
// the given segments plus one summary record. Delete-then-insert keeps
// re-indexing idempotent: after two runs in a row, exactly the second run's
// vectors remain.
func (s *retrievalService) IndexContent(ctx context.Context, req IndexRequest) error {
	const op = "retrieval.index"

	contentID := strings.TrimSpace(req.ContentID)
	if contentID == "" {
		return apperr.Validation(op, "content id required")
	}

	chunks := ChunkSegments(req.Segments, req.MinChunk, req.MaxChunk)
	if len(chunks) == 0 && strings.TrimSpace(req.Summary) == "" {
		return apperr.Validation(op, "nothing to index: no chunks and no summary")
	}

	existing, err := s.idx.ListIDs(ctx, map[string]any{"contentId": contentID}, maxRecordsPerContent)
	if err != nil {
		return apperr.Indexing(op, err)
	}
	if len(existing) > 0 {
		if err := s.idx.DeleteByIDs(ctx, existing); err != nil {
			return apperr.Indexing(op, err)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	records := make([]vectorindex.Record, 0, len(chunks)+1)

	for i, chunk := range chunks {
		vec, err := s.embedder.EmbedText(ctx, chunk.Text)
		if err != nil {
			return apperr.Indexing(op, err)
		}
		records = append(records, vectorindex.Record{
			ID:     fmt.Sprintf("%s-chunk-%d", contentID, i),
			Values: vec,
			Metadata: map[string]any{
				"contentId":  contentID,
				"type":       RecordTypeTranscript,
				"text":       chunk.Text,
				"chunkIndex": i,
				"startTime":  chunk.StartTime,
				"endTime":    chunk.EndTime,
				"language":   req.Language,
				"createdAt":  now,
			},
		})
	}

	if summary := strings.TrimSpace(req.Summary); summary != "" {
		vec, err := s.embedder.EmbedText(ctx, summary)
		if err != nil {
			return apperr.Indexing(op, err)
		}
		records = append(records, vectorindex.Record{
			ID:     contentID + "-summary",
			Values: vec,
			Metadata: map[string]any{
				"contentId":  contentID,
				"type":       RecordTypeSummary,
				"text":       summary,
				"chunkIndex": summaryChunkIndex,
				"startTime":  float64(0),
				"endTime":    TotalDuration(req.Segments),
				"language":   req.Language,
				"createdAt":  now,
			},
		})
	}

	if err := s.idx.Upsert(ctx, records); err != nil {
		return apperr.Indexing(op, err)
	}

	s.log.Info("Indexed content",
		"content_id", contentID,
		"chunks", len(chunks),
		"records", len(records),
	)
	return nil
}

func (s *retrievalService) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	const op = "retrieval.search"

	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation(op, "query required")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := map[string]any{}
	if opts.ContentID != "" {
		filter["contentId"] = opts.ContentID
	}
	if opts.Type != "" {
		filter["type"] = opts.Type
	}
	if opts.Language != "" {
		filter["language"] = opts.Language
	}
	if len(filter) == 0 {
		filter = nil
	}

	matches, err := s.idx.Query(ctx, vec, topK, filter, true)
	if err != nil {
		return nil, apperr.External(op, err)
	}

	results := normalizeMatches(matches)

	// The remote metadata filter can lag freshly written records. When a
	// contentId filter yields a set in which nothing actually carries that
	// contentId, degrade to the unfiltered set instead of returning nothing
	// (availability over precision), flagged so callers can tell.
	if opts.ContentID != "" {
		kept := results[:0:0]
		for _, r := range results {
			if r.ContentID == opts.ContentID {
				kept = append(kept, r)
			}
		}
		if len(kept) == 0 && len(results) > 0 {
			s.log.Warn("Filtered search matched nothing locally; returning unfiltered results",
				"content_id", opts.ContentID,
				"candidates", len(results),
			)
			for i := range results {
				results[i].Fallback = true
			}
			return results, nil
		}
		results = kept
	}
	return results, nil
}

// GetContext fetches unfiltered candidates and applies the relevance gate:
// the set is usable only when there is a clear winner (score gap above
// ScoreGap) that is itself strong (above MinTopScore). A flat, low-confidence
// distribution produces HasContext=false so the caller can decline to answer
// instead of hallucinating.
func (s *retrievalService) GetContext(ctx context.Context, query string, maxChunks int) (*ContextResult, error) {
	const op = "retrieval.get_context"

	if strings.TrimSpace(query) == "" {
		return nil, apperr.Validation(op, "query required")
	}
	if maxChunks <= 0 {
		maxChunks = 3
	}

	vec, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.idx.Query(ctx, vec, s.relevance.Candidates, nil, true)
	if err != nil {
		return nil, apperr.External(op, err)
	}
	candidates := normalizeMatches(matches)
	if len(candidates) == 0 {
		return &ContextResult{HasContext: false, Context: "", Sources: []ContextSource{}}, nil
	}

	if !s.relevant(candidates) {
		return &ContextResult{HasContext: false, Context: "", Sources: []ContextSource{}}, nil
	}

	var (
		parts   []string
		sources []ContextSource
	)
	for _, c := range candidates {
		if c.Score <= s.relevance.ScoreFloor {
			continue
		}
		if len(sources) >= maxChunks {
			break
		}
		parts = append(parts, fmt.Sprintf("[%s - %s] %s", formatTime(c.StartTime), formatTime(c.EndTime), c.Text))
		sources = append(sources, ContextSource{
			ContentID:  c.ContentID,
			Type:       c.Type,
			ChunkIndex: c.ChunkIndex,
			StartTime:  c.StartTime,
			EndTime:    c.EndTime,
			Score:      c.Score,
		})
	}
	if len(sources) == 0 {
		return &ContextResult{HasContext: false, Context: "", Sources: []ContextSource{}}, nil
	}

	return &ContextResult{
		HasContext: true,
		Context:    strings.Join(parts, "\n\n"),
		Sources:    sources,
	}, nil
}

// relevant implements the score-gap heuristic over a candidate set sorted
// best-first.
func (s *retrievalService) relevant(candidates []SearchResult) bool {
	maxScore := candidates[0].Score
	var sum float64
	for _, c := range candidates {
		sum += c.Score
	}
	avg := sum / float64(len(candidates))
	gap := maxScore - avg
	return gap > s.relevance.ScoreGap && maxScore > s.relevance.MinTopScore
}

func normalizeMatches(matches []vectorindex.Match) []SearchResult {
	out := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, SearchResult{
			Score:      m.Score,
			ContentID:  metaString(m.Metadata, "contentId"),
			Type:       metaString(m.Metadata, "type"),
			Text:       metaString(m.Metadata, "text"),
			ChunkIndex: metaInt(m.Metadata, "chunkIndex"),
			StartTime:  metaFloat(m.Metadata, "startTime"),
			EndTime:    metaFloat(m.Metadata, "endTime"),
		})
	}
	return out
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

func metaFloat(meta map[string]any, key string) float64 {
	switch v := meta[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// formatTime renders seconds as m:ss or h:mm:ss for context tags.
func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}
