package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
)

const (
	DefaultMemoryURL = "http://127.0.0.1:5000"

	// listIDsTopK bounds the full-namespace scan used by ListIDs
	listIDsTopK = 10000
)

// HTTPMemory talks to the local embedding service over its JSON API. The
// service loads its embedding model asynchronously, so readiness is derived
// from the model_loaded flag of /health.
type HTTPMemory struct {
	baseURL      string
	client       *http.Client
	pollInterval time.Duration
	minScore     float64
	ready        readiness
}

type HTTPMemoryOption func(*HTTPMemory)

func WithHTTPClient(client *http.Client) HTTPMemoryOption {
	return func(m *HTTPMemory) {
		m.client = client
	}
}

// WithPollInterval sets how often /health is checked by Start
func WithPollInterval(d time.Duration) HTTPMemoryOption {
	return func(m *HTTPMemory) {
		m.pollInterval = d
	}
}

// WithMinScore sets the minimum similarity score for search hits
func WithMinScore(score float64) HTTPMemoryOption {
	return func(m *HTTPMemory) {
		m.minScore = score
	}
}

func NewHTTPMemory(baseURL string, opts ...HTTPMemoryOption) *HTTPMemory {
	if baseURL == "" {
		baseURL = DefaultMemoryURL
	}
	m := &HTTPMemory{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		pollInterval: 2 * time.Second,
		minScore:     0.3,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start watches /health until ctx is canceled. Initialization listeners fire
// on every transition into ready, so a service restart re-triggers them.
func (m *HTTPMemory) Start(ctx context.Context) {
	go m.watch(ctx)
}

// Ready reports whether the last health check saw a loaded model
func (m *HTTPMemory) Ready() bool {
	return m.ready.isReady()
}

func (m *HTTPMemory) watch(ctx context.Context) {
	logger := logging.From(ctx)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		loaded, err := m.health(ctx)
		if err != nil {
			logger.Debug("memory service health check failed", logging.ErrAttr(err))
		}
		if m.ready.set(ctx, loaded) {
			logger.Info("memory service is ready", "url", m.baseURL)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (m *HTTPMemory) health(ctx context.Context) (bool, error) {
	var resp healthResponse
	if err := m.call(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return false, err
	}
	return resp.ModelLoaded, nil
}

type indexDocument struct {
	ID      string         `json:"id"`
	Text    string         `json:"text"`
	Context map[string]any `json:"context"`
}

type indexRequest struct {
	Namespace string          `json:"namespace"`
	Documents []indexDocument `json:"documents"`
}

type indexResponse struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func (m *HTTPMemory) IndexMemory(ctx context.Context, record *model.MemoryRecord) (bool, error) {
	if !m.ready.isReady() {
		return false, goerr.Wrap(ErrMemoryUnavailable, "embedding model is not loaded", goerr.V("url", m.baseURL))
	}

	ns := record.Namespace
	if ns == "" {
		ns = model.NamespaceMemories
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctxData := record.Context
	if ctxData == nil {
		ctxData = map[string]any{}
	}

	req := indexRequest{
		Namespace: ns,
		Documents: []indexDocument{{ID: id, Text: record.Text, Context: ctxData}},
	}
	var resp indexResponse
	if err := m.call(ctx, http.MethodPost, "/index", req, &resp); err != nil {
		return false, goerr.Wrap(err, "failed to index memory", goerr.V("id", id), goerr.V("namespace", ns))
	}
	return resp.Status == "success" && resp.Count > 0, nil
}

type searchRequest struct {
	Query      string   `json:"query"`
	TopK       int      `json:"top_k"`
	Namespaces []string `json:"namespaces"`
	MinScore   float64  `json:"min_score"`
}

type searchResponse struct {
	Results []*model.MemoryHit `json:"results"`
}

func (m *HTTPMemory) search(ctx context.Context, req searchRequest) ([]*model.MemoryHit, error) {
	if !m.ready.isReady() {
		return nil, goerr.Wrap(ErrMemoryUnavailable, "embedding model is not loaded", goerr.V("url", m.baseURL))
	}
	var resp searchResponse
	if err := m.call(ctx, http.MethodPost, "/search", req, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to search memories", goerr.V("query", req.Query))
	}
	return resp.Results, nil
}

func (m *HTTPMemory) GetRelevantMemories(ctx context.Context, query string, k int, namespaces ...string) ([]*model.MemoryHit, error) {
	if len(namespaces) == 0 {
		namespaces = []string{model.NamespaceMemories}
	}
	return m.search(ctx, searchRequest{
		Query:      query,
		TopK:       k,
		Namespaces: namespaces,
		MinScore:   m.minScore,
	})
}

func (m *HTTPMemory) GetRelevantToolDescriptions(ctx context.Context, query string, k int) ([]*model.ToolDescriptor, error) {
	hits, err := m.GetRelevantMemories(ctx, query, k, model.NamespaceTools)
	if err != nil {
		return nil, err
	}
	return ToolDescriptorsFromHits(hits)
}

type clearRequest struct {
	Namespace string `json:"namespace"`
}

func (m *HTTPMemory) ClearNamespace(ctx context.Context, namespace string) error {
	if err := m.call(ctx, http.MethodPost, "/clear", clearRequest{Namespace: namespace}, nil); err != nil {
		return goerr.Wrap(err, "failed to clear namespace", goerr.V("namespace", namespace))
	}
	return nil
}

// Reset drops every namespace on the service
func (m *HTTPMemory) Reset(ctx context.Context) error {
	if err := m.call(ctx, http.MethodPost, "/reset", struct{}{}, nil); err != nil {
		return goerr.Wrap(err, "failed to reset memory service")
	}
	return nil
}

// ListIDs scans the namespace with a negative score floor so every record
// is returned regardless of similarity.
func (m *HTTPMemory) ListIDs(ctx context.Context, namespace string) ([]string, error) {
	hits, err := m.search(ctx, searchRequest{
		Query:      namespace,
		TopK:       listIDsTopK,
		Namespaces: []string{namespace},
		MinScore:   -1,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (m *HTTPMemory) AddInitializationListener(fn func(ctx context.Context)) {
	m.ready.add(fn)
}

type statusResponse struct {
	Status         string         `json:"status"`
	Model          string         `json:"model"`
	Namespaces     []string       `json:"namespaces"`
	DocumentCounts map[string]int `json:"document_counts"`
}

func (m *HTTPMemory) Status(ctx context.Context) (*model.MemoryStatus, error) {
	var resp statusResponse
	if err := m.call(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, goerr.Wrap(err, "failed to get memory service status")
	}
	return &model.MemoryStatus{
		Backend:        "http",
		Ready:          m.ready.isReady(),
		Model:          resp.Model,
		Namespaces:     resp.Namespaces,
		DocumentCounts: resp.DocumentCounts,
	}, nil
}

func (m *HTTPMemory) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return goerr.Wrap(err, "failed to marshal request", goerr.V("path", path))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return goerr.Wrap(err, "failed to build request", goerr.V("path", path))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "memory service request failed", goerr.V("path", path))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return goerr.New("memory service returned error",
			goerr.V("path", path),
			goerr.V("status", resp.StatusCode),
			goerr.V("body", string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return goerr.Wrap(err, "failed to decode response", goerr.V("path", path))
	}
	return nil
}
