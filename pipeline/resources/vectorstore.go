package resources

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/aios-systems/aios/core"
)

// VectorMatch is one hit returned from a similarity search.
type VectorMatch struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// VectorStore is the optional-capability surface L2's embedding backend
// and L3's retrieval steps search against. Available() reports whether
// a real backend was constructed; callers must check it before Search,
// since a missing vector DB provider degrades to "no matches" rather
// than an error (spec §1.1's optional-capability pattern).
type VectorStore interface {
	Available() bool
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]VectorMatch, error)
}

// ChromemVectorStore embeds a chromem-go database, requiring no external
// service: collections are created lazily, and documents and queries
// carry pre-computed embeddings, since the collections' embedding func
// refuses to embed text.
type ChromemVectorStore struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemVectorStore opens (or creates) a persistent chromem-go
// database at persistPath. An empty persistPath keeps everything in
// memory only.
func NewChromemVectorStore(persistPath string) (*ChromemVectorStore, error) {
	var db *chromem.DB
	var err error

	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, core.NewCoreError(core.LayerResources, core.KindResource, "vector_store_open_failed",
				"failed to open persistent vector store", false, err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemVectorStore{db: db, collections: map[string]*chromem.Collection{}}, nil
}

func (c *ChromemVectorStore) Available() bool { return c != nil && c.db != nil }

func (c *ChromemVectorStore) identityEmbed(_ context.Context, _ string) ([]float32, error) {
	return nil, fmt.Errorf("vector store requires pre-computed embeddings")
}

func (c *ChromemVectorStore) getCollection(name string) (*chromem.Collection, error) {
	c.mu.RLock()
	if col, ok := c.collections[name]; ok {
		c.mu.RUnlock()
		return col, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[name]; ok {
		return col, nil
	}
	col, err := c.db.GetOrCreateCollection(name, nil, c.identityEmbed)
	if err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "vector_collection_failed",
			fmt.Sprintf("failed to get/create collection %q", name), true, err)
	}
	c.collections[name] = col
	return col, nil
}

// Upsert stores vector under id in collection, carrying metadata along.
func (c *ChromemVectorStore) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]string) error {
	col, err := c.getCollection(collection)
	if err != nil {
		return err
	}
	doc := chromem.Document{ID: id, Metadata: metadata, Embedding: vector}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return core.NewCoreError(core.LayerResources, core.KindResource, "vector_upsert_failed",
			"failed to upsert vector", true, err)
	}
	return nil
}

// Search returns the topK nearest neighbors of vector in collection.
func (c *ChromemVectorStore) Search(ctx context.Context, collection string, vector []float32, topK int) ([]VectorMatch, error) {
	col, err := c.getCollection(collection)
	if err != nil {
		return nil, err
	}
	results, err := col.QueryEmbedding(ctx, vector, topK, nil, nil)
	if err != nil {
		return nil, core.NewCoreError(core.LayerResources, core.KindResource, "vector_search_failed",
			"failed to search vectors", true, err)
	}
	matches := make([]VectorMatch, 0, len(results))
	for _, r := range results {
		matches = append(matches, VectorMatch{ID: r.ID, Score: float64(r.Similarity), Metadata: r.Metadata})
	}
	return matches, nil
}

// NoOpVectorStore is a VectorStore that keeps nothing; every call
// degrades to "no matches" rather than failing the request.
type NoOpVectorStore struct{}

func (NoOpVectorStore) Available() bool { return false }
func (NoOpVectorStore) Upsert(context.Context, string, string, []float32, map[string]string) error {
	return nil
}
func (NoOpVectorStore) Search(context.Context, string, []float32, int) ([]VectorMatch, error) {
	return nil, nil
}
