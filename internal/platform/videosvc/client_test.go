package videosvc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestClient(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *client {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })

	return &client{
		log:        log,
		baseURL:    "http://video.local",
		apiToken:   "test-token",
		httpClient: &http.Client{Transport: roundTripFunc(roundTrip)},
	}
}

func envelopeResponse(t *testing.T, status int, success bool, result any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"success": success,
		"result":  result,
		"errors":  []map[string]any{},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

func TestUploadFromURLRequestShape(t *testing.T) {
	var captured struct {
		URL  string            `json:"url"`
		Meta map[string]string `json:"meta"`
	}
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPost || r.URL.Path != "/videos/copy" {
			t.Fatalf("request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Fatalf("authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		return envelopeResponse(t, http.StatusOK, true, map[string]any{"uid": "vid-42"}), nil
	})

	uid, err := c.UploadFromURL(context.Background(), "https://example.com/v.mp4", map[string]string{"contentId": "abc"})
	if err != nil {
		t.Fatalf("UploadFromURL: %v", err)
	}
	if uid != "vid-42" {
		t.Fatalf("uid=%q", uid)
	}
	if captured.URL != "https://example.com/v.mp4" || captured.Meta["contentId"] != "abc" {
		t.Fatalf("request body: %+v", captured)
	}
}

func TestUploadFromURLRejectsEmptyUID(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return envelopeResponse(t, http.StatusOK, true, map[string]any{"uid": ""}), nil
	})
	if _, err := c.UploadFromURL(context.Background(), "https://example.com/v.mp4", nil); err == nil {
		t.Fatal("want error for empty uid")
	}
}

func TestGetStatusMapsStates(t *testing.T) {
	cases := map[string]string{
		"ready":       StateReady,
		"error":       StateError,
		"inprogress":  StateProcessing,
		"downloading": StateProcessing,
		"queued":      StateProcessing,
		"":            StatePending,
		"brand-new":   StatePending,
	}
	for remote, want := range cases {
		c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
			if r.URL.Path != "/videos/vid-1" {
				t.Fatalf("path %q", r.URL.Path)
			}
			return envelopeResponse(t, http.StatusOK, true, map[string]any{
				"status": map[string]any{"state": remote, "errorReasonText": ""},
			}), nil
		})
		got, err := c.GetStatus(context.Background(), "vid-1")
		if err != nil {
			t.Fatalf("GetStatus(%q): %v", remote, err)
		}
		if got.State != want {
			t.Fatalf("state %q -> %q, want %q", remote, got.State, want)
		}
	}
}

func TestDoJSONNotFound(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("{}")),
		}, nil
	})
	_, err := c.GetStatus(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound got %v", err)
	}
}

func TestDoJSONSurfacesEnvelopeError(t *testing.T) {
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		raw, _ := json.Marshal(map[string]any{
			"success": false,
			"errors":  []map[string]any{{"message": "video too long"}},
		})
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(raw)),
		}, nil
	})
	err := c.GenerateCaptions(context.Background(), "vid-1", "en")
	if err == nil || !strings.Contains(err.Error(), "video too long") {
		t.Fatalf("want envelope error message, got %v", err)
	}
}

func TestGetCaptionTrackRaw(t *testing.T) {
	const track = "WEBVTT\n\n00:00:00.000 --> 00:00:02.000\nhello\n"
	c := newTestClient(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/videos/vid-1/captions/en/vtt" {
			t.Fatalf("path %q", r.URL.Path)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader(track)),
		}, nil
	})
	got, err := c.GetCaptionTrack(context.Background(), "vid-1", "en")
	if err != nil {
		t.Fatalf("GetCaptionTrack: %v", err)
	}
	if got != track {
		t.Fatalf("track body not returned verbatim: %q", got)
	}
}

func TestNewClientRequiresEnv(t *testing.T) {
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })

	t.Setenv("VIDEO_SERVICE_URL", "")
	t.Setenv("VIDEO_SERVICE_TOKEN", "")
	if _, err := NewClient(log); err == nil {
		t.Fatal("want error with no VIDEO_SERVICE_URL")
	}

	t.Setenv("VIDEO_SERVICE_URL", "http://video.local")
	if _, err := NewClient(log); err == nil {
		t.Fatal("want error with no VIDEO_SERVICE_TOKEN")
	}

	t.Setenv("VIDEO_SERVICE_TOKEN", "tok")
	if _, err := NewClient(log); err != nil {
		t.Fatalf("NewClient: %v", err)
	}
}
