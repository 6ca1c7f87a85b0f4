package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/kvstore"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
	"github.com/studyreel/studyreel-backend/internal/services"
)

// Key namespaces in the durable store.
const (
	keyPrefixInfo     = "content:info:"
	keyPrefixSubtitle = "content:subtitle:"
	keyPrefixSummary  = "content:summary:"
	keyPrefixQuiz     = "content:quiz:"
)

// SubtitleRecord is the persisted caption artifact.
type SubtitleRecord struct {
	ContentID string                       `json:"contentId"`
	Language  string                       `json:"language"`
	Segments  []services.TranscriptSegment `json:"segments"`
	Duration  float64                      `json:"duration"`
	CreatedAt time.Time                    `json:"createdAt"`
}

// SummaryRecord is the persisted summary plus derived study text.
type SummaryRecord struct {
	ContentID            string    `json:"contentId"`
	Summary              string    `json:"summary"`
	Objectives           []string  `json:"objectives"`
	RecommendedQuestions []string  `json:"recommendedQuestions"`
	CreatedAt            time.Time `json:"createdAt"`
}

// QuizRecord is persisted separately; not every job yields a quiz.
type QuizRecord struct {
	ContentID string                  `json:"contentId"`
	Questions []services.QuizQuestion `json:"questions"`
	CreatedAt time.Time               `json:"createdAt"`
}

// Store is the durable job/artifact record layer over the KV backend.
// Per-key semantics are last-writer-wins; a given content id is expected to
// be processed by one consumer at a time under normal queue semantics.
type Store interface {
	GetJob(ctx context.Context, contentID string) (*ContentJob, error)
	SaveJob(ctx context.Context, job *ContentJob) error
	ListJobIDs(ctx context.Context, limit int) ([]string, error)

	SaveSubtitle(ctx context.Context, rec *SubtitleRecord) error
	GetSubtitle(ctx context.Context, contentID string) (*SubtitleRecord, error)
	SaveSummary(ctx context.Context, rec *SummaryRecord) error
	GetSummary(ctx context.Context, contentID string) (*SummaryRecord, error)
	SaveQuiz(ctx context.Context, rec *QuizRecord) error
	GetQuiz(ctx context.Context, contentID string) (*QuizRecord, error)
}

type store struct {
	log *logger.Logger
	kv  kvstore.Store
}

func NewStore(log *logger.Logger, kv kvstore.Store) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if kv == nil {
		return nil, fmt.Errorf("kv store required")
	}
	return &store{
		log: log.With("service", "JobStore"),
		kv:  kv,
	}, nil
}

func (s *store) GetJob(ctx context.Context, contentID string) (*ContentJob, error) {
	const op = "jobs.get"
	var job ContentJob
	if err := s.getJSON(ctx, op, keyPrefixInfo+contentID, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *store) SaveJob(ctx context.Context, job *ContentJob) error {
	const op = "jobs.save"
	if job == nil || strings.TrimSpace(job.ContentID) == "" {
		return apperr.Validation(op, "job with content id required")
	}
	job.UpdatedAt = time.Now().UTC()
	return s.setJSON(ctx, op, keyPrefixInfo+job.ContentID, job)
}

func (s *store) ListJobIDs(ctx context.Context, limit int) ([]string, error) {
	keys, err := s.kv.List(ctx, keyPrefixInfo, limit)
	if err != nil {
		return nil, apperr.External("jobs.list", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, keyPrefixInfo))
	}
	return ids, nil
}

func (s *store) SaveSubtitle(ctx context.Context, rec *SubtitleRecord) error {
	const op = "jobs.save_subtitle"
	if rec == nil || strings.TrimSpace(rec.ContentID) == "" {
		return apperr.Validation(op, "subtitle record with content id required")
	}
	return s.setJSON(ctx, op, keyPrefixSubtitle+rec.ContentID, rec)
}

func (s *store) GetSubtitle(ctx context.Context, contentID string) (*SubtitleRecord, error) {
	const op = "jobs.get_subtitle"
	var rec SubtitleRecord
	if err := s.getJSON(ctx, op, keyPrefixSubtitle+contentID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *store) SaveSummary(ctx context.Context, rec *SummaryRecord) error {
	const op = "jobs.save_summary"
	if rec == nil || strings.TrimSpace(rec.ContentID) == "" {
		return apperr.Validation(op, "summary record with content id required")
	}
	return s.setJSON(ctx, op, keyPrefixSummary+rec.ContentID, rec)
}

func (s *store) GetSummary(ctx context.Context, contentID string) (*SummaryRecord, error) {
	const op = "jobs.get_summary"
	var rec SummaryRecord
	if err := s.getJSON(ctx, op, keyPrefixSummary+contentID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *store) SaveQuiz(ctx context.Context, rec *QuizRecord) error {
	const op = "jobs.save_quiz"
	if rec == nil || strings.TrimSpace(rec.ContentID) == "" {
		return apperr.Validation(op, "quiz record with content id required")
	}
	return s.setJSON(ctx, op, keyPrefixQuiz+rec.ContentID, rec)
}

func (s *store) GetQuiz(ctx context.Context, contentID string) (*QuizRecord, error) {
	const op = "jobs.get_quiz"
	var rec QuizRecord
	if err := s.getJSON(ctx, op, keyPrefixQuiz+contentID, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *store) getJSON(ctx context.Context, op, key string, out any) error {
	raw, found, err := s.kv.Get(ctx, key)
	if err != nil {
		return apperr.External(op, err)
	}
	if !found {
		return apperr.NotFound(op, fmt.Sprintf("no record at %s", key))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperr.New(apperr.CodeExternal, op, fmt.Sprintf("corrupt record at %s", key), err)
	}
	return nil
}

func (s *store) setJSON(ctx context.Context, op, key string, in any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return apperr.New(apperr.CodeValidation, op, "encode record", err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return apperr.External(op, err)
	}
	return nil
}
