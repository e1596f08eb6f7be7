package adapter_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
)

// fakeMemoryServer mimics the embedding service API with substring matching
type fakeMemoryServer struct {
	mu     sync.Mutex
	loaded atomic.Bool
	docs   map[string]map[string]map[string]any
	last   map[string]any
}

func newFakeMemoryServer(t *testing.T) (*fakeMemoryServer, *httptest.Server) {
	f := &fakeMemoryServer{docs: map[string]map[string]map[string]any{}}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "model_loaded": f.loaded.Load()})
	})

	mux.HandleFunc("/index", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Namespace string           `json:"namespace"`
			Documents []map[string]any `json:"documents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		if f.docs[req.Namespace] == nil {
			f.docs[req.Namespace] = map[string]map[string]any{}
		}
		for _, d := range req.Documents {
			f.docs[req.Namespace][d["id"].(string)] = d
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "count": len(req.Documents)})
	})

	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.last = req
		results := []map[string]any{}
		for _, ns := range req["namespaces"].([]any) {
			for id, d := range f.docs[ns.(string)] {
				results = append(results, map[string]any{
					"id":        id,
					"text":      d["text"],
					"context":   d["context"],
					"namespace": ns,
					"score":     0.9,
				})
			}
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"results": results})
	})

	mux.HandleFunc("/clear", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Namespace string `json:"namespace"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		delete(f.docs, req.Namespace)
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "success"})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		counts := map[string]int{}
		names := []string{}
		for ns, docs := range f.docs {
			names = append(names, ns)
			counts[ns] = len(docs)
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":          "ok",
			"model":           "all-MiniLM-L6-v2",
			"namespaces":      names,
			"document_counts": counts,
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func waitReady(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("memory service did not become ready")
	}
}

func TestHTTPMemory(t *testing.T) {
	fake, srv := newFakeMemoryServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := adapter.NewHTTPMemory(srv.URL, adapter.WithPollInterval(10*time.Millisecond))

	t.Run("calls before ready are rejected", func(t *testing.T) {
		_, err := mem.IndexMemory(ctx, &model.MemoryRecord{Text: "x"})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, adapter.ErrMemoryUnavailable))
	})

	ready := make(chan struct{}, 4)
	mem.AddInitializationListener(func(ctx context.Context) {
		ready <- struct{}{}
	})
	mem.Start(ctx)

	// model still loading: listener must not fire
	time.Sleep(50 * time.Millisecond)
	gt.Equal(t, len(ready), 0)
	gt.False(t, mem.Ready())

	fake.loaded.Store(true)
	waitReady(t, ready)
	gt.True(t, mem.Ready())

	t.Run("index and search", func(t *testing.T) {
		ok, err := mem.IndexMemory(ctx, &model.MemoryRecord{
			ID:        "session_abc",
			Text:      "user: hello",
			Namespace: model.NamespaceSessions,
			Context:   map[string]any{"conversation_id": "abc"},
		})
		gt.NoError(t, err)
		gt.True(t, ok)

		hits, err := mem.GetRelevantMemories(ctx, "hello", 5, model.NamespaceSessions)
		gt.NoError(t, err)
		gt.A(t, hits).Length(1)
		gt.Equal(t, hits[0].ID, "session_abc")
		gt.Equal(t, hits[0].ContextString("conversation_id"), "abc")
		gt.Equal(t, hits[0].Relevance, 0.9)
	})

	t.Run("default namespace is memories", func(t *testing.T) {
		_, err := mem.GetRelevantMemories(ctx, "anything", 3)
		gt.NoError(t, err)
		fake.mu.Lock()
		ns := fake.last["namespaces"].([]any)
		fake.mu.Unlock()
		gt.Equal(t, ns[0].(string), model.NamespaceMemories)
	})

	t.Run("tool descriptors survive round trip", func(t *testing.T) {
		desc := &model.ToolDescriptor{
			Name:        "time_date",
			Description: "Get the current date and time",
			Category:    "utility",
			Parameters: map[string]*model.ParamSpec{
				"timezone": {Type: model.ParamTypeString, Description: "IANA zone", Optional: true},
			},
		}
		_, err := mem.IndexMemory(ctx, adapter.ToolRecord(desc))
		gt.NoError(t, err)

		descs, err := mem.GetRelevantToolDescriptions(ctx, "what time is it", 5)
		gt.NoError(t, err)
		gt.A(t, descs).Length(1)
		gt.Equal(t, descs[0].Name, "time_date")
		gt.Equal(t, descs[0].Category, "utility")
		gt.True(t, descs[0].Parameters["timezone"].Optional)
	})

	t.Run("list ids asks for every record", func(t *testing.T) {
		ids, err := mem.ListIDs(ctx, model.NamespaceTools)
		gt.NoError(t, err)
		gt.A(t, ids).Length(1)
		fake.mu.Lock()
		minScore := fake.last["min_score"].(float64)
		fake.mu.Unlock()
		gt.Equal(t, minScore, -1.0)
	})

	t.Run("status and clear", func(t *testing.T) {
		status, err := mem.Status(ctx)
		gt.NoError(t, err)
		gt.True(t, status.Ready)
		gt.Equal(t, status.DocumentCounts[model.NamespaceTools], 1)

		gt.NoError(t, mem.ClearNamespace(ctx, model.NamespaceTools))
		ids, err := mem.ListIDs(ctx, model.NamespaceTools)
		gt.NoError(t, err)
		gt.A(t, ids).Length(0)
	})

	t.Run("listener fires again after restart", func(t *testing.T) {
		fake.loaded.Store(false)
		time.Sleep(50 * time.Millisecond)
		gt.False(t, mem.Ready())

		fake.loaded.Store(true)
		waitReady(t, ready)
	})

	t.Run("late listener fires once when already ready", func(t *testing.T) {
		late := make(chan struct{}, 2)
		mem.AddInitializationListener(func(ctx context.Context) {
			late <- struct{}{}
		})
		waitReady(t, late)
		time.Sleep(50 * time.Millisecond)
		gt.Equal(t, len(late), 0)
	})
}

func TestHTTPMemoryServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			_ = json.NewEncoder(w).Encode(map[string]any{"model_loaded": true})
			return
		}
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mem := adapter.NewHTTPMemory(srv.URL, adapter.WithPollInterval(10*time.Millisecond))
	ready := make(chan struct{}, 1)
	mem.AddInitializationListener(func(ctx context.Context) { ready <- struct{}{} })
	mem.Start(ctx)
	waitReady(t, ready)

	_, err := mem.GetRelevantMemories(ctx, "q", 3, model.NamespaceSessions)
	gt.Error(t, err)
}
