package intelligence

import (
	"context"
	"fmt"
	"math"

	"github.com/tmc/langchaingo/embeddings"
)

// EmbeddingBackend is the optional semantic-scoring capability the
// classifier degrades gracefully without. Score returns a per-domain
// cosine-similarity score against the backend's precomputed category
// centroids.
type EmbeddingBackend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Score(vector []float32) (map[Domain]float64, error)
}

// curatedExamples seeds each domain's centroid with a handful of
// representative phrases. A production deployment would grow these
// from labeled traffic; these are enough to give the semantic signal a
// starting point distinct from pure keyword matching.
var curatedExamples = map[Domain][]string{
	DomainCode:      {"write a function that reverses a list", "fix this compile error", "review this pull request"},
	DomainNetwork:   {"diagnose high latency on this connection", "configure the firewall rules", "debug DNS resolution failure"},
	DomainCloud:     {"deploy this service to kubernetes", "provision infrastructure with terraform", "scale the cluster"},
	DomainDocument:  {"summarize the attached report", "extract key points from this document", "draft a memo"},
	DomainWeb:       {"build a responsive webpage", "fix this CSS layout bug", "optimize page load time"},
	DomainKnowledge: {"search the knowledge base for this topic", "find the relevant wiki article"},
	DomainBusiness:  {"forecast next quarter's revenue", "analyze customer churn", "prepare the budget"},
	DomainGeneral:   {"help me with this task", "what can you do"},
}

// LangchainEmbeddingBackend wraps a langchaingo embeddings.Embedder,
// precomputing one mean vector per curated category on construction so
// Score is a pure in-memory cosine-similarity pass.
type LangchainEmbeddingBackend struct {
	embedder  embeddings.Embedder
	centroids map[Domain][]float32
}

// NewLangchainEmbeddingBackend builds a backend over embedder, failing
// if any category's curated examples cannot be embedded up front —
// callers should treat that as "semantic scoring unavailable" and
// construct the classifier with a nil backend instead.
func NewLangchainEmbeddingBackend(ctx context.Context, embedder embeddings.Embedder) (*LangchainEmbeddingBackend, error) {
	centroids := make(map[Domain][]float32, len(curatedExamples))
	for domain, examples := range curatedExamples {
		vectors, err := embedder.EmbedDocuments(ctx, examples)
		if err != nil {
			return nil, fmt.Errorf("embedding curated examples for domain %s: %w", domain, err)
		}
		centroids[domain] = meanVector(vectors)
	}
	return &LangchainEmbeddingBackend{embedder: embedder, centroids: centroids}, nil
}

// Embed computes the request content's vector via the wrapped embedder.
func (b *LangchainEmbeddingBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return b.embedder.EmbedQuery(ctx, text)
}

// Score returns cosine similarity between vector and every category
// centroid.
func (b *LangchainEmbeddingBackend) Score(vector []float32) (map[Domain]float64, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("empty embedding vector")
	}
	scores := make(map[Domain]float64, len(b.centroids))
	for domain, centroid := range b.centroids {
		scores[domain] = cosineSimilarity(vector, centroid)
	}
	return scores, nil
}

func meanVector(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	dim := len(vectors[0])
	mean := make([]float32, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			mean[i] += v[i]
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vectors))
	}
	return mean
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	similarity := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if similarity < 0 {
		return 0
	}
	if similarity > 1 {
		return 1
	}
	return similarity
}
