package repository

import (
	"context"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"google.golang.org/api/iterator"
)

const (
	collectionMemories = "memories"
	distanceField      = "vector_distance"
)

// Embedder converts text into an embedding vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Firestore is a memory service backed by Firestore vector search. Embeddings
// are computed by the Embedder on write and on query.
type Firestore struct {
	client   *firestore.Client
	embedder Embedder
	minScore float64
	ctx      context.Context
}

type Option func(*Firestore)

// WithMinScore drops hits whose cosine similarity is below score
func WithMinScore(score float64) Option {
	return func(f *Firestore) {
		f.minScore = score
	}
}

// New creates a Firestore memory service
func New(ctx context.Context, projectID, databaseID string, embedder Embedder, opts ...Option) (*Firestore, error) {
	if embedder == nil {
		return nil, goerr.New("embedder is required for firestore memory")
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	f := &Firestore{
		client:   client,
		embedder: embedder,
		ctx:      ctx,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *Firestore) Close() error {
	return f.client.Close()
}

type memoryDoc struct {
	ID        string             `firestore:"id"`
	Namespace string             `firestore:"namespace"`
	Text      string             `firestore:"text"`
	Context   map[string]any     `firestore:"context"`
	Embedding firestore.Vector32 `firestore:"embedding"`
	UpdatedAt time.Time          `firestore:"updated_at"`
}

// docID maps (namespace, id) onto a Firestore-safe document id
func docID(namespace, id string) string {
	return namespace + ":" + strings.ReplaceAll(id, "/", "_")
}

func (f *Firestore) IndexMemory(ctx context.Context, record *model.MemoryRecord) (bool, error) {
	ns := record.Namespace
	if ns == "" {
		ns = model.NamespaceMemories
	}
	id := record.ID
	if id == "" {
		id = uuid.NewString()
	}

	vec, err := f.embedder.Embed(ctx, record.Text)
	if err != nil {
		return false, goerr.Wrap(err, "failed to embed memory", goerr.V("id", id))
	}

	doc := &memoryDoc{
		ID:        id,
		Namespace: ns,
		Text:      record.Text,
		Context:   record.Context,
		Embedding: firestore.Vector32(vec),
		UpdatedAt: time.Now().UTC(),
	}
	if _, err := f.client.Collection(collectionMemories).Doc(docID(ns, id)).Set(ctx, doc); err != nil {
		return false, goerr.Wrap(err, "failed to put memory", goerr.V("id", id), goerr.V("namespace", ns))
	}
	return true, nil
}

func (f *Firestore) GetRelevantMemories(ctx context.Context, query string, k int, namespaces ...string) ([]*model.MemoryHit, error) {
	if len(namespaces) == 0 {
		namespaces = []string{model.NamespaceMemories}
	}
	if k <= 0 {
		return []*model.MemoryHit{}, nil
	}

	vec, err := f.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	vq := f.client.Collection(collectionMemories).
		Where("namespace", "in", namespaces).
		FindNearest("embedding", firestore.Vector32(vec), k, firestore.DistanceMeasureCosine,
			&firestore.FindNearestOptions{DistanceResultField: distanceField})

	iter := vq.Documents(ctx)
	defer iter.Stop()

	hits := []*model.MemoryHit{}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to search memories", goerr.V("query", query))
		}

		var doc memoryDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, goerr.Wrap(err, "failed to decode memory", goerr.V("doc", snap.Ref.ID))
		}
		distance, _ := snap.Data()[distanceField].(float64)
		score := 1 - distance
		if score < f.minScore {
			continue
		}

		hits = append(hits, &model.MemoryHit{
			ID:        doc.ID,
			Text:      doc.Text,
			Namespace: doc.Namespace,
			Context:   doc.Context,
			Relevance: score,
		})
	}
	return hits, nil
}

func (f *Firestore) GetRelevantToolDescriptions(ctx context.Context, query string, k int) ([]*model.ToolDescriptor, error) {
	hits, err := f.GetRelevantMemories(ctx, query, k, model.NamespaceTools)
	if err != nil {
		return nil, err
	}

	return adapter.ToolDescriptorsFromHits(hits)
}

func (f *Firestore) namespaceDocs(ctx context.Context, namespace string) ([]*firestore.DocumentSnapshot, error) {
	docs, err := f.client.Collection(collectionMemories).
		Where("namespace", "==", namespace).
		Select("id").
		Documents(ctx).GetAll()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list memories", goerr.V("namespace", namespace))
	}
	return docs, nil
}

func (f *Firestore) ClearNamespace(ctx context.Context, namespace string) error {
	docs, err := f.namespaceDocs(ctx, namespace)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	bw := f.client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := bw.Delete(doc.Ref); err != nil {
			bw.End()
			return goerr.Wrap(err, "failed to delete memory", goerr.V("doc", doc.Ref.ID))
		}
	}
	bw.End()
	return nil
}

func (f *Firestore) ListIDs(ctx context.Context, namespace string) ([]string, error) {
	docs, err := f.namespaceDocs(ctx, namespace)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc.Data()["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AddInitializationListener fires fn immediately. Firestore has no warm-up phase.
func (f *Firestore) AddInitializationListener(fn func(ctx context.Context)) {
	go fn(f.ctx)
}

func (f *Firestore) Status(ctx context.Context) (*model.MemoryStatus, error) {
	namespaces := []string{model.NamespaceTools, model.NamespaceSessions, model.NamespaceMemories}
	status := &model.MemoryStatus{
		Backend:        "firestore",
		Ready:          true,
		Namespaces:     namespaces,
		DocumentCounts: make(map[string]int, len(namespaces)),
	}

	for _, ns := range namespaces {
		res, err := f.client.Collection(collectionMemories).
			Where("namespace", "==", ns).
			NewAggregationQuery().
			WithCount("count").
			Get(ctx)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to count memories", goerr.V("namespace", ns))
		}
		if v, ok := res["count"].(*firestorepb.Value); ok {
			status.DocumentCounts[ns] = int(v.GetIntegerValue())
		}
	}
	return status, nil
}
