package adapter

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
)

var (
	ErrMemoryUnavailable = goerr.New("memory service is not available")
)

// MemoryService is the semantic memory store used for tool selection and
// session retrieval. Embeddings are owned by the service.
type MemoryService interface {
	// IndexMemory embeds and stores one record. An empty ID lets the service assign one.
	IndexMemory(ctx context.Context, record *model.MemoryRecord) (bool, error)

	// GetRelevantMemories returns up to k records ranked by relevance. With no
	// namespaces the default "memories" namespace is searched.
	GetRelevantMemories(ctx context.Context, query string, k int, namespaces ...string) ([]*model.MemoryHit, error)

	// GetRelevantToolDescriptions returns up to k tool descriptors from the tools namespace
	GetRelevantToolDescriptions(ctx context.Context, query string, k int) ([]*model.ToolDescriptor, error)

	// ClearNamespace removes every record in the namespace
	ClearNamespace(ctx context.Context, namespace string) error

	// ListIDs returns ids of all records in the namespace
	ListIDs(ctx context.Context, namespace string) ([]string, error)

	// AddInitializationListener registers fn to be called each time the
	// service becomes ready. If it is already ready, fn is called once right away.
	AddInitializationListener(fn func(ctx context.Context))

	// Status reports readiness and per-namespace document counts
	Status(ctx context.Context) (*model.MemoryStatus, error)
}

// readiness tracks ready state and dispatches initialization listeners.
// Listeners run in their own goroutine so a slow listener never blocks the
// service.
type readiness struct {
	mu        sync.Mutex
	ready     bool
	ctx       context.Context
	listeners []func(ctx context.Context)
}

func (r *readiness) add(fn func(ctx context.Context)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	ready, ctx := r.ready, r.ctx
	r.mu.Unlock()

	if ready {
		go fn(ctx)
	}
}

// set updates the ready state and reports whether this call was a
// transition into ready. Listeners fire only on that transition.
func (r *readiness) set(ctx context.Context, ready bool) bool {
	r.mu.Lock()
	fire := ready && !r.ready
	r.ready = ready
	if ready {
		r.ctx = ctx
	}
	listeners := make([]func(ctx context.Context), len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()

	if fire {
		for _, fn := range listeners {
			go fn(ctx)
		}
	}
	return fire
}

func (r *readiness) isReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// toolContext packs a descriptor into a record context so it can be
// recovered from search hits. The descriptor is stored as plain JSON values
// so every backend can persist it.
func toolContext(d *model.ToolDescriptor) map[string]any {
	ctx := map[string]any{
		"type":        "tool",
		"name":        d.Name,
		"category":    d.Category,
		"description": d.Description,
	}
	if raw, err := json.Marshal(d); err == nil {
		var plain map[string]any
		if err := json.Unmarshal(raw, &plain); err == nil {
			ctx["descriptor"] = plain
		}
	}
	return ctx
}

// ToolRecord builds the tools-namespace record for a descriptor
func ToolRecord(d *model.ToolDescriptor) *model.MemoryRecord {
	return &model.MemoryRecord{
		ID:        d.Name,
		Text:      d.IndexText(),
		Namespace: model.NamespaceTools,
		Context:   toolContext(d),
	}
}

// descriptorFromHit recovers a tool descriptor from a search hit. Records
// written by other clients may only carry name and description.
func descriptorFromHit(hit *model.MemoryHit) (*model.ToolDescriptor, error) {
	if raw, ok := hit.Context["descriptor"]; ok && raw != nil {
		data, err := json.Marshal(raw)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to marshal descriptor", goerr.V("id", hit.ID))
		}
		var d model.ToolDescriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal descriptor", goerr.V("id", hit.ID))
		}
		if d.Name != "" {
			return &d, nil
		}
	}

	name := hit.ContextString("name")
	if name == "" {
		name = hit.ID
	}
	return &model.ToolDescriptor{
		Name:        name,
		Description: hit.ContextString("description"),
		Category:    hit.ContextString("category"),
	}, nil
}

// ToolDescriptorsFromHits converts tools-namespace hits into descriptors
func ToolDescriptorsFromHits(hits []*model.MemoryHit) ([]*model.ToolDescriptor, error) {
	descs := make([]*model.ToolDescriptor, 0, len(hits))
	for _, hit := range hits {
		d, err := descriptorFromHit(hit)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d)
	}
	return descs, nil
}
