package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/apperr"
	"github.com/studyreel/studyreel-backend/internal/platform/llm"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

// QuizQuestion is one multiple-choice item in the derived quiz.
type QuizQuestion struct {
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      int      `json:"answer"`
	Explanation string   `json:"explanation,omitempty"`
}

// EducationalContent is the write-once derived artifact per job.
type EducationalContent struct {
	Summary              string         `json:"summary"`
	Objectives           []string       `json:"objectives"`
	RecommendedQuestions []string       `json:"recommendedQuestions"`
	Quiz                 []QuizQuestion `json:"quiz,omitempty"`
}

const (
	objectiveCount = 3
	questionCount  = 5
)

// EducationalContentService derives summary, learning objectives,
// recommended questions and a quiz from the plain transcript text.
type EducationalContentService interface {
	Derive(ctx context.Context, transcript, language string) (*EducationalContent, error)
}

type educationalContentService struct {
	log *logger.Logger
	llm llm.Client
}

func NewEducationalContentService(log *logger.Logger, client llm.Client) (EducationalContentService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if client == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &educationalContentService{
		log: log.With("service", "EducationalContentService"),
		llm: client,
	}, nil
}

func (s *educationalContentService) Derive(ctx context.Context, transcript, language string) (*EducationalContent, error) {
	const op = "educontent.derive"

	if strings.TrimSpace(transcript) == "" {
		return nil, apperr.Validation(op, "transcript is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	system := "You are an educational content designer. You turn lecture transcripts into faithful study material. Respond with JSON only."
	user := buildEducationalPrompt(transcript, language)

	raw, err := s.llm.GenerateText(ctx, system, user)
	if err != nil {
		return nil, apperr.External(op, err)
	}

	out, parseErr := parseEducationalJSON(raw)
	if parseErr == nil {
		return out, nil
	}

	// One repair pass: ask the model to fix its own JSON, nothing else.
	repaired, repairErr := s.llm.GenerateText(ctx,
		"You are a JSON repair tool. Output ONLY valid JSON matching the required shape.",
		fmt.Sprintf(
			"Fix the following into valid JSON with keys:\n"+
				"summary (string), objectives (array of %d strings), recommendedQuestions (array of %d strings), "+
				"quiz (array of {question, options (array of strings), answer (integer option index), explanation}).\n\nRAW:\n%s",
			objectiveCount, questionCount, raw,
		),
	)
	if repairErr != nil {
		return nil, apperr.New(apperr.CodeExternal, op,
			fmt.Sprintf("JSON parse failed and repair call failed: %v; parse_err=%v", repairErr, parseErr), nil)
	}

	out, err = parseEducationalJSON(repaired)
	if err != nil {
		return nil, apperr.New(apperr.CodeExternal, op,
			fmt.Sprintf("JSON parse failed after repair: %v; original_parse_err=%v", err, parseErr), nil)
	}
	s.log.Warn("Educational content JSON required repair pass")
	return out, nil
}

func buildEducationalPrompt(transcript, language string) string {
	var b strings.Builder
	b.WriteString("From the transcript below, produce JSON with exactly these keys:\n")
	fmt.Fprintf(&b, "- summary: a faithful prose summary of the material\n")
	fmt.Fprintf(&b, "- objectives: exactly %d learning objectives\n", objectiveCount)
	fmt.Fprintf(&b, "- recommendedQuestions: exactly %d questions a learner should be able to answer\n", questionCount)
	b.WriteString("- quiz: multiple-choice questions, each {question, options, answer (option index), explanation}\n")
	if lang := strings.TrimSpace(language); lang != "" && lang != "en" {
		fmt.Fprintf(&b, "Write all output in language code %q.\n", lang)
	}
	b.WriteString("Do not invent facts that are not in the transcript.\n\nTRANSCRIPT:\n")
	b.WriteString(transcript)
	return b.String()
}

func parseEducationalJSON(raw string) (*EducationalContent, error) {
	cleaned := strings.TrimSpace(raw)
	if idx := strings.Index(cleaned, "{"); idx > 0 {
		cleaned = cleaned[idx:]
	}
	if idx := strings.LastIndex(cleaned, "}"); idx >= 0 && idx < len(cleaned)-1 {
		cleaned = cleaned[:idx+1]
	}

	var out EducationalContent
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Summary) == "" {
		return nil, fmt.Errorf("summary missing")
	}
	if len(out.Objectives) == 0 {
		return nil, fmt.Errorf("objectives missing")
	}
	if len(out.Objectives) > objectiveCount {
		out.Objectives = out.Objectives[:objectiveCount]
	}
	if len(out.RecommendedQuestions) > questionCount {
		out.RecommendedQuestions = out.RecommendedQuestions[:questionCount]
	}
	for i, q := range out.Quiz {
		if q.Answer < 0 || q.Answer >= len(q.Options) {
			return nil, fmt.Errorf("quiz[%d] answer index out of range", i)
		}
	}
	return &out, nil
}
