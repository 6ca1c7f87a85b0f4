package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"testing"

	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

func TestUpsertRequestShape(t *testing.T) {
	var captured map[string]any
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodPut {
			t.Fatalf("method: want=%s got=%s", http.MethodPut, r.Method)
		}
		if r.URL.Path != "/collections/studyreel/points" {
			t.Fatalf("path: want=%q got=%q", "/collections/studyreel/points", r.URL.Path)
		}
		if r.URL.RawQuery != "wait=true" {
			t.Fatalf("query: want=%q got=%q", "wait=true", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	meta := map[string]any{"contentId": "abc", "type": "transcript"}
	err := x.Upsert(context.Background(), []Record{
		{ID: "abc-chunk-0", Values: []float32{1, 2, 3}, Metadata: meta},
		{ID: "abc-summary", Values: []float32{4, 5, 6}, Metadata: map[string]any{"type": "summary"}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	pointsRaw, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(pointsRaw) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(pointsRaw))
	}

	first, ok := pointsRaw[0].(map[string]any)
	if !ok {
		t.Fatalf("point[0] type: got=%T", pointsRaw[0])
	}
	if first["id"] != x.pointID("abc-chunk-0") {
		t.Fatalf("point id mismatch: got=%v", first["id"])
	}
	payload, ok := first["payload"].(map[string]any)
	if !ok {
		t.Fatalf("payload type: got=%T", first["payload"])
	}
	if payload[payloadVectorIDKey] != "abc-chunk-0" {
		t.Fatalf("payload vector id: want=%q got=%v", "abc-chunk-0", payload[payloadVectorIDKey])
	}
	if payload["contentId"] != "abc" {
		t.Fatalf("payload contentId: want=%q got=%v", "abc", payload["contentId"])
	}

	if _, exists := meta[payloadVectorIDKey]; exists {
		t.Fatalf("input metadata mutated: vector id key should not exist")
	}
}

func TestUpsertSplitsIntoBatches(t *testing.T) {
	var batchSizes []int
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		points, ok := body["points"].([]any)
		if !ok {
			t.Fatalf("points type: got=%T", body["points"])
		}
		batchSizes = append(batchSizes, len(points))
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	records := make([]Record, 120)
	for i := range records {
		records[i] = Record{
			ID:     "rec-" + strconv.Itoa(i),
			Values: []float32{1, 2, 3},
		}
	}
	if err := x.Upsert(context.Background(), records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	want := []int{50, 50, 20}
	if len(batchSizes) != len(want) {
		t.Fatalf("batch count: want=%d got=%d (%v)", len(want), len(batchSizes), batchSizes)
	}
	for i := range want {
		if batchSizes[i] != want[i] {
			t.Fatalf("batch[%d]: want=%d got=%d", i, want[i], batchSizes[i])
		}
	}
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		t.Fatalf("request should not be sent for invalid records")
		return nil, nil
	})

	err := x.Upsert(context.Background(), []Record{
		{ID: "bad", Values: []float32{1, 2}},
	})
	if err == nil {
		t.Fatalf("Upsert: expected error, got nil")
	}
	opErrTyped, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("expected *OperationError, got=%T", err)
	}
	if opErrTyped.Code != OperationErrorValidation {
		t.Fatalf("code: want=%q got=%q", OperationErrorValidation, opErrTyped.Code)
	}
}

func TestQueryTranslatesEqualityFilterAndReturnsMetadata(t *testing.T) {
	var captured map[string]any
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/studyreel/points/search" {
			t.Fatalf("path: want=%q got=%q", "/collections/studyreel/points/search", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, []map[string]any{
			{
				"id":    "11111111-1111-1111-1111-111111111111",
				"score": 0.42,
				"payload": map[string]any{
					payloadVectorIDKey: "abc-chunk-3",
					"contentId":        "abc",
					"type":             "transcript",
					"text":             "greedy chunking",
				},
			},
		}), nil
	})

	matches, err := x.Query(context.Background(), []float32{1, 2, 3}, 5, map[string]any{
		"contentId": "abc",
		"type":      "transcript",
	}, true)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}

	filter, ok := captured["filter"].(map[string]any)
	if !ok {
		t.Fatalf("filter type: got=%T", captured["filter"])
	}
	must, ok := filter["must"].([]any)
	if !ok || len(must) != 2 {
		t.Fatalf("filter must: want 2 conditions, got=%v", filter["must"])
	}
	first, ok := must[0].(map[string]any)
	if !ok || first["key"] != "contentId" {
		t.Fatalf("filter keys should be sorted; first=%v", must[0])
	}

	if len(matches) != 1 {
		t.Fatalf("matches: want=1 got=%d", len(matches))
	}
	if matches[0].ID != "abc-chunk-3" {
		t.Fatalf("match id: want=%q got=%q", "abc-chunk-3", matches[0].ID)
	}
	if matches[0].Score != 0.42 {
		t.Fatalf("match score: want=%v got=%v", 0.42, matches[0].Score)
	}
	if matches[0].Metadata["contentId"] != "abc" {
		t.Fatalf("match metadata: got=%v", matches[0].Metadata)
	}
	if _, exists := matches[0].Metadata[payloadVectorIDKey]; exists {
		t.Fatalf("internal payload key leaked into metadata")
	}
}

func TestQueryNormalizesEuclidScores(t *testing.T) {
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		return okResponse(t, []map[string]any{
			{
				"id":      "11111111-1111-1111-1111-111111111111",
				"score":   1.0,
				"payload": map[string]any{payloadVectorIDKey: "far"},
			},
			{
				"id":      "22222222-2222-2222-2222-222222222222",
				"score":   0.0,
				"payload": map[string]any{payloadVectorIDKey: "near"},
			},
		}), nil
	})
	x.distance = "Euclid"

	matches, err := x.Query(context.Background(), []float32{1, 2, 3}, 2, nil, false)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches: want=2 got=%d", len(matches))
	}
	if matches[0].ID != "near" || matches[0].Score != 1.0 {
		t.Fatalf("best match: want near/1.0 got=%s/%v", matches[0].ID, matches[0].Score)
	}
	if matches[1].ID != "far" || matches[1].Score != 0.5 {
		t.Fatalf("second match: want far/0.5 got=%s/%v", matches[1].ID, matches[1].Score)
	}
}

func TestDeleteByIDsDeduplicatesPoints(t *testing.T) {
	var captured map[string]any
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/collections/studyreel/points/delete" {
			t.Fatalf("path: want=%q got=%q", "/collections/studyreel/points/delete", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return okResponse(t, map[string]any{"status": "acknowledged"}), nil
	})

	err := x.DeleteByIDs(context.Background(), []string{"abc-chunk-0", "abc-chunk-0", " ", "abc-chunk-1"})
	if err != nil {
		t.Fatalf("DeleteByIDs: %v", err)
	}

	points, ok := captured["points"].([]any)
	if !ok {
		t.Fatalf("points type: got=%T", captured["points"])
	}
	if len(points) != 2 {
		t.Fatalf("points length: want=2 got=%d", len(points))
	}
}

func TestDoJSONSurfacesEnvelopeError(t *testing.T) {
	x := newTestIndex(t, func(r *http.Request) (*http.Response, error) {
		raw, err := json.Marshal(map[string]any{
			"result": nil,
			"status": map[string]any{"error": "collection not loaded"},
		})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     make(http.Header),
			Body:       io.NopCloser(bytes.NewReader(raw)),
		}, nil
	})

	_, err := x.Query(context.Background(), []float32{1, 2, 3}, 1, nil, false)
	if err == nil {
		t.Fatalf("Query: expected error, got nil")
	}
	opErrTyped, ok := err.(*OperationError)
	if !ok {
		t.Fatalf("expected *OperationError, got=%T", err)
	}
	if opErrTyped.Code != OperationErrorQueryFailed {
		t.Fatalf("code: want=%q got=%q", OperationErrorQueryFailed, opErrTyped.Code)
	}
}

func newTestIndex(t *testing.T, roundTrip func(*http.Request) (*http.Response, error)) *index {
	t.Helper()
	client := &http.Client{
		Transport: roundTripFunc(roundTrip),
	}
	return &index{
		log:      newTestLogger(t),
		cfg:      Config{Collection: "studyreel", VectorDim: 3},
		baseURL:  "http://qdrant.local",
		http:     client,
		distance: "cosine",
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() {
		log.Sync()
	})
	return log
}

func okResponse(t *testing.T, result any) *http.Response {
	t.Helper()
	payload := map[string]any{
		"result": result,
		"status": "ok",
		"time":   0.001,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
