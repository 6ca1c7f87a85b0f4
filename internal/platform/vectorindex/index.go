package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/studyreel/studyreel-backend/internal/platform/logger"
)

const (
	payloadVectorIDKey = "_sr_vector_id"
	maxErrorBodyBytes  = 1024
	// Remote payload limit: points are written in bounded batches.
	maxUpsertBatch = 50
)

var pointIDNamespaceUUID = uuid.MustParse("7c1f4d6a-9b02-4f3e-8a57-2d3b94c1e5aa")

// Record is one embedded text unit with its filterable metadata.
type Record struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// Match is a scored query hit. Metadata is populated only when the query
// asked for it.
type Match struct {
	ID       string
	Score    float64
	Metadata map[string]any
}

// Index stores and queries embedding vectors with equality-filterable
// metadata. Records under a content id are append/delete-only; re-indexing
// is delete-then-insert, never merge.
type Index interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	// ListIDs scrolls record ids matching the filter, for delete-before-reinsert.
	ListIDs(ctx context.Context, filter map[string]any, limit int) ([]string, error)
}

type index struct {
	log      *logger.Logger
	cfg      Config
	baseURL  string
	distance string
	http     *http.Client
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

type searchResultItem struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

func New(log *logger.Logger, cfg Config) (Index, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if err := ValidateConfig(cfg, true); err != nil {
		return nil, err
	}

	idx := &index{
		log:     log.With("service", "VectorIndex"),
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.URL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	if err := idx.verifyReady(context.Background()); err != nil {
		return nil, err
	}

	log.Info("Vector index ready",
		"url", idx.baseURL,
		"collection", cfg.Collection,
		"vector_dim", cfg.VectorDim,
		"distance", idx.distance,
	)
	return idx, nil
}

func (x *index) Upsert(ctx context.Context, records []Record) error {
	if x == nil {
		return fmt.Errorf("vector index not initialized")
	}
	const op = "upsert"
	if len(records) == 0 {
		return nil
	}

	for start := 0; start < len(records); start += maxUpsertBatch {
		end := start + maxUpsertBatch
		if end > len(records) {
			end = len(records)
		}
		if err := x.upsertBatch(ctx, op, records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (x *index) upsertBatch(ctx context.Context, op string, records []Record) error {
	points := make([]map[string]any, 0, len(records))
	for _, r := range records {
		recordID := strings.TrimSpace(r.ID)
		if recordID == "" {
			return opErr(op, OperationErrorValidation, "record id is required", nil)
		}
		if len(r.Values) == 0 {
			return opErr(op, OperationErrorValidation, fmt.Sprintf("record %q has empty values", recordID), nil)
		}
		if x.cfg.VectorDim > 0 && len(r.Values) != x.cfg.VectorDim {
			return opErr(
				op,
				OperationErrorValidation,
				fmt.Sprintf(
					"record %q dimension mismatch: expected=%d got=%d",
					recordID, x.cfg.VectorDim, len(r.Values),
				),
				nil,
			)
		}
		payload := clonePayload(r.Metadata)
		payload[payloadVectorIDKey] = recordID
		points = append(points, map[string]any{
			"id":      x.pointID(recordID),
			"vector":  r.Values,
			"payload": payload,
		})
	}

	req := map[string]any{"points": points}
	return x.doJSON(ctx, op, http.MethodPut, x.collectionPath("/points?wait=true"), req, nil)
}

func (x *index) Query(ctx context.Context, vector []float32, topK int, filter map[string]any, includeMetadata bool) ([]Match, error) {
	if x == nil {
		return nil, fmt.Errorf("vector index not initialized")
	}
	const op = "query"
	if len(vector) == 0 {
		return nil, opErr(op, OperationErrorValidation, "query vector required", nil)
	}
	if x.cfg.VectorDim > 0 && len(vector) != x.cfg.VectorDim {
		return nil, opErr(
			op,
			OperationErrorValidation,
			fmt.Sprintf("query vector dimension mismatch: expected=%d got=%d", x.cfg.VectorDim, len(vector)),
			nil,
		)
	}
	if topK <= 0 {
		topK = 10
	}

	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
		"with_vector":  false,
	}
	if translated := translateEqualityFilter(filter); translated != nil {
		req["filter"] = translated
	}

	var rawResults []searchResultItem
	if err := x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/search"), req, &rawResults); err != nil {
		return nil, err
	}

	out := make([]Match, 0, len(rawResults))
	for _, item := range rawResults {
		id := extractRecordID(item.Payload, item.ID)
		if id == "" {
			continue
		}
		m := Match{ID: id, Score: x.normalizeScore(item.Score)}
		if includeMetadata {
			m.Metadata = stripInternalKeys(item.Payload)
		}
		out = append(out, m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score == out[j].Score {
			return out[i].ID < out[j].ID
		}
		return out[i].Score > out[j].Score
	})
	return out, nil
}

func (x *index) DeleteByIDs(ctx context.Context, ids []string) error {
	if x == nil {
		return fmt.Errorf("vector index not initialized")
	}
	const op = "delete"
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		recordID := strings.TrimSpace(id)
		if recordID == "" {
			continue
		}
		pointID := x.pointID(recordID)
		if _, exists := seen[pointID]; exists {
			continue
		}
		seen[pointID] = struct{}{}
		pointIDs = append(pointIDs, pointID)
	}
	if len(pointIDs) == 0 {
		return nil
	}

	req := map[string]any{"points": pointIDs}
	return x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/delete?wait=true"), req, nil)
}

type scrollResult struct {
	Points []struct {
		ID      json.RawMessage `json:"id"`
		Payload map[string]any  `json:"payload"`
	} `json:"points"`
	NextPageOffset json.RawMessage `json:"next_page_offset"`
}

func (x *index) ListIDs(ctx context.Context, filter map[string]any, limit int) ([]string, error) {
	if x == nil {
		return nil, fmt.Errorf("vector index not initialized")
	}
	const op = "scroll"
	if limit <= 0 {
		limit = 1000
	}

	var (
		ids    []string
		offset json.RawMessage
	)
	for {
		req := map[string]any{
			"limit":        256,
			"with_payload": true,
			"with_vector":  false,
		}
		if translated := translateEqualityFilter(filter); translated != nil {
			req["filter"] = translated
		}
		if len(offset) > 0 && string(offset) != "null" {
			req["offset"] = offset
		}

		var page scrollResult
		if err := x.doJSON(ctx, op, http.MethodPost, x.collectionPath("/points/scroll"), req, &page); err != nil {
			return nil, err
		}
		for _, p := range page.Points {
			id := extractRecordID(p.Payload, p.ID)
			if id != "" {
				ids = append(ids, id)
			}
			if len(ids) >= limit {
				return ids, nil
			}
		}
		if len(page.NextPageOffset) == 0 || string(page.NextPageOffset) == "null" || len(page.Points) == 0 {
			return ids, nil
		}
		offset = page.NextPageOffset
	}
}

func (x *index) verifyReady(ctx context.Context) error {
	const op = "bootstrap_verify"

	var result struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}
	if err := x.doJSON(ctx, op, http.MethodGet, x.collectionPath(""), nil, &result); err != nil {
		return err
	}

	size := result.Config.Params.Vectors.Size
	if size != 0 && size != x.cfg.VectorDim {
		return &OperationError{
			Code:      OperationErrorValidation,
			Operation: op,
			Message: fmt.Sprintf(
				"collection %q vector size mismatch: expected=%d actual=%d",
				x.cfg.Collection, x.cfg.VectorDim, size,
			),
		}
	}
	x.distance = strings.TrimSpace(result.Config.Params.Vectors.Distance)
	return nil
}

func (x *index) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(in); err != nil {
			return opErr(op, OperationErrorEncodeFailed, "encode request failed", err)
		}
		body = &buf
	}

	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, body)
	if err != nil {
		return opErr(op, OperationErrorTransportFailed, "build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if x.cfg.APIKey != "" {
		req.Header.Set("api-key", x.cfg.APIKey)
	}

	resp, err := x.http.Do(req)
	if err != nil {
		return classifyHTTPCallError(op, "vector index request failed", err)
	}
	defer resp.Body.Close()

	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 10*maxErrorBodyBytes))
	if readErr != nil {
		return opErr(op, OperationErrorDecodeFailed, "read response failed", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("vector index http status=%d body=%q", resp.StatusCode, truncateBody(raw)),
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode response envelope failed", err)
	}
	if statusErr := parseEnvelopeStatus(env.Status); statusErr != "" {
		return &OperationError{
			Code:       OperationErrorQueryFailed,
			Operation:  op,
			StatusCode: resp.StatusCode,
			Message:    statusErr,
		}
	}

	if out == nil {
		return nil
	}
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return opErr(op, OperationErrorDecodeFailed, "decode result failed", err)
	}
	return nil
}

func classifyHTTPCallError(op, message string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return opErr(op, OperationErrorTimeout, message, err)
	}
	return opErr(op, OperationErrorTransportFailed, message, err)
}

func parseEnvelopeStatus(raw json.RawMessage) string {
	status := strings.TrimSpace(string(raw))
	if status == "" || status == "null" {
		return ""
	}

	var statusString string
	if err := json.Unmarshal(raw, &statusString); err == nil {
		if strings.EqualFold(statusString, "ok") {
			return ""
		}
		return fmt.Sprintf("vector index status=%q", statusString)
	}

	var statusObject struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &statusObject); err == nil {
		if strings.TrimSpace(statusObject.Error) != "" {
			return strings.TrimSpace(statusObject.Error)
		}
	}

	return fmt.Sprintf("vector index status=%s", status)
}

// translateEqualityFilter turns a flat equality map into the remote filter
// shape. Nil means "no filter" so callers can pass the map straight through.
func translateEqualityFilter(filter map[string]any) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": filter[k]},
		})
	}
	return map[string]any{"must": must}
}

func extractRecordID(payload map[string]any, rawID json.RawMessage) string {
	if payloadID, ok := payload[payloadVectorIDKey].(string); ok {
		id := strings.TrimSpace(payloadID)
		if id != "" {
			return id
		}
	}
	// Fallback for points written without the payload id; should be rare.
	if len(rawID) == 0 {
		return ""
	}
	var idString string
	if err := json.Unmarshal(rawID, &idString); err == nil {
		return strings.TrimSpace(idString)
	}
	var idNumber int64
	if err := json.Unmarshal(rawID, &idNumber); err == nil {
		return fmt.Sprintf("%d", idNumber)
	}
	return strings.TrimSpace(string(rawID))
}

func stripInternalKeys(payload map[string]any) map[string]any {
	if len(payload) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if k == payloadVectorIDKey {
			continue
		}
		out[k] = v
	}
	return out
}

func clonePayload(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (x *index) pointID(recordID string) string {
	deterministic := uuid.NewSHA1(pointIDNamespaceUUID, []byte(x.cfg.Collection+"|"+recordID))
	return deterministic.String()
}

func (x *index) collectionPath(suffix string) string {
	path := "/collections/" + x.cfg.Collection
	if strings.TrimSpace(suffix) == "" {
		return path
	}
	return path + suffix
}

func (x *index) normalizeScore(score float64) float64 {
	switch strings.ToLower(strings.TrimSpace(x.distance)) {
	case "euclid", "manhattan":
		if score < 0 {
			score = -score
		}
		return 1.0 / (1.0 + score)
	default:
		return score
	}
}

func truncateBody(raw []byte) string {
	if len(raw) <= maxErrorBodyBytes {
		return string(raw)
	}
	return string(raw[:maxErrorBodyBytes]) + "..."
}
