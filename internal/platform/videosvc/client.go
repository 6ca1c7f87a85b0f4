package videosvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/studyreel/studyreel-backend/internal/platform/envutil"
	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

// Processing states reported by the remote video service. Anything the
// service has not started yet comes back as StatePending; callers treat
// unknown states the same way.
const (
	StatePending    = "pending"
	StateProcessing = "inprogress"
	StateReady      = "ready"
	StateError      = "error"
)

// ErrNotFound reports that the service does not (yet) know the resource.
// Immediately after an upload or a caption-generation call the remote view
// can lag, so pollers treat this as still-pending rather than failing.
var ErrNotFound = errors.New("video service: not found")

// Status is the remote state of a video or of one of its caption tracks.
type Status struct {
	State string
	Error string
}

// Client is the external video/caption service boundary: URL ingestion,
// transcoding status, caption generation and caption track download.
type Client interface {
	UploadFromURL(ctx context.Context, sourceURL string, meta map[string]string) (string, error)
	GetStatus(ctx context.Context, videoID string) (Status, error)
	GenerateCaptions(ctx context.Context, videoID, language string) error
	GetCaptionStatus(ctx context.Context, videoID, language string) (Status, error)
	GetCaptionTrack(ctx context.Context, videoID, language string) (string, error)
	Delete(ctx context.Context, videoID string) error
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiToken   string
	httpClient *http.Client
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	baseURL := strings.TrimSpace(os.Getenv("VIDEO_SERVICE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing VIDEO_SERVICE_URL")
	}
	token := strings.TrimSpace(os.Getenv("VIDEO_SERVICE_TOKEN"))
	if token == "" {
		return nil, fmt.Errorf("missing VIDEO_SERVICE_TOKEN")
	}

	return &client{
		log:      log.With("service", "VideoServiceClient"),
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiToken: token,
		httpClient: &http.Client{
			Timeout: envutil.Duration("VIDEO_SERVICE_TIMEOUT", 60*time.Second),
		},
	}, nil
}

type serviceEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *client) UploadFromURL(ctx context.Context, sourceURL string, meta map[string]string) (string, error) {
	if strings.TrimSpace(sourceURL) == "" {
		return "", fmt.Errorf("source url required")
	}
	req := map[string]any{"url": sourceURL}
	if len(meta) > 0 {
		req["meta"] = meta
	}

	var result struct {
		UID string `json:"uid"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/videos/copy", req, &result); err != nil {
		return "", err
	}
	if strings.TrimSpace(result.UID) == "" {
		return "", fmt.Errorf("video service returned empty video id")
	}
	return result.UID, nil
}

func (c *client) GetStatus(ctx context.Context, videoID string) (Status, error) {
	var result struct {
		Status struct {
			State       string `json:"state"`
			ErrorReason string `json:"errorReasonText"`
		} `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/videos/"+url.PathEscape(videoID), nil, &result); err != nil {
		return Status{}, err
	}
	return Status{
		State: normalizeState(result.Status.State),
		Error: result.Status.ErrorReason,
	}, nil
}

func (c *client) GenerateCaptions(ctx context.Context, videoID, language string) error {
	path := "/videos/" + url.PathEscape(videoID) + "/captions/" + url.PathEscape(language) + "/generate"
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

func (c *client) GetCaptionStatus(ctx context.Context, videoID, language string) (Status, error) {
	path := "/videos/" + url.PathEscape(videoID) + "/captions/" + url.PathEscape(language)
	var result struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &result); err != nil {
		return Status{}, err
	}
	return Status{State: normalizeState(result.Status), Error: result.Error}, nil
}

func (c *client) GetCaptionTrack(ctx context.Context, videoID, language string) (string, error) {
	path := "/videos/" + url.PathEscape(videoID) + "/captions/" + url.PathEscape(language) + "/vtt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("video service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("caption track fetch status=%d", resp.StatusCode)
	}
	return string(raw), nil
}

func (c *client) Delete(ctx context.Context, videoID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/videos/"+url.PathEscape(videoID), nil, nil)
}

func (c *client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return err
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("video service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("video service http status=%d body=%q", resp.StatusCode, truncate(raw))
	}

	var env serviceEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode video service envelope: %w", err)
	}
	if !env.Success {
		msg := "request rejected"
		if len(env.Errors) > 0 && strings.TrimSpace(env.Errors[0].Message) != "" {
			msg = env.Errors[0].Message
		}
		return fmt.Errorf("video service error: %s", msg)
	}
	if out == nil || len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

func normalizeState(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "ready":
		return StateReady
	case "error":
		return StateError
	case "inprogress", "downloading", "queued", "processing":
		return StateProcessing
	case "":
		return StatePending
	default:
		return StatePending
	}
}

func truncate(raw []byte) string {
	const max = 512
	if len(raw) <= max {
		return string(raw)
	}
	return string(raw[:max]) + "..."
}
