package jobs

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Pipeline stages, in execution order. Progress for a given job only ever
// moves forward through these.
const (
	StageQueued              = "queued"
	StageUploading           = "uploading"
	StageTranscoding         = "transcoding"
	StageGeneratingCaptions  = "generating-captions"
	StageDownloadingCaptions = "downloading-captions"
	StageSummarizing         = "summarizing"
	StageIndexing            = "indexing"
	StageCompleted           = "completed"
)

// Options are the immutable processing inputs chosen at submission.
type Options struct {
	OutputFormat      string `json:"outputFormat,omitempty"`
	IncludeTimestamps bool   `json:"includeTimestamps,omitempty"`
}

// Progress is the only frequently-mutated sub-record of a job.
type Progress struct {
	Stage      string `json:"stage"`
	Percentage int    `json:"percentage"`
	Message    string `json:"message,omitempty"`
}

// JobError captures the failure surfaced to status callers. Remote payloads
// and stack traces never go in Message.
type JobError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ContentJob is the durable record of one processing request. The
// orchestrator is its only writer while processing; submission creates it
// and readers poll it.
type ContentJob struct {
	ContentID string    `json:"contentId"`
	VideoURL  string    `json:"videoUrl"`
	Language  string    `json:"language"`
	Options   Options   `json:"options"`
	Status    Status    `json:"status"`
	Progress  Progress  `json:"progress"`
	Error     *JobError `json:"error,omitempty"`
	// VideoID is the external service identifier, recorded after upload so
	// cleanup can find the remote resource.
	VideoID   string    `json:"videoId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

var contentIDNamespaceUUID = uuid.MustParse("b4f9a1d0-6c2e-4bd1-9ff3-08a1c5e47d21")

// ContentIDFromURL derives the content-addressed job identifier: the same
// source URL always maps to the same id, so resubmissions dedupe naturally.
func ContentIDFromURL(videoURL string) string {
	normalized := strings.TrimSpace(videoURL)
	return uuid.NewSHA1(contentIDNamespaceUUID, []byte(normalized)).String()
}
