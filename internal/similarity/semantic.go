package similarity

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// Embedder produces vector embeddings for text. The GenAI engine below is
// the production implementation; tests supply a fixture.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GenAIEmbedder embeds text with Google's Gemini embedding API.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

// NewGenAIEmbedder creates a GenAI-backed embedder. Model defaults to
// gemini-embedding-001.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("similarity: GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("similarity: create GenAI client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}
	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"})
	if err != nil {
		return nil, fmt.Errorf("similarity: embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("similarity: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// SemanticComparator compares the premise texts of two cases by embedding
// cosine similarity. Embeddings are cached per text for the comparator's
// lifetime so each artifact is embedded once per run. Embedding failures
// are logged and score zero rather than aborting the gate.
func SemanticComparator(ctx context.Context, embedder Embedder, path string, logger *zap.Logger) Comparator {
	var mu sync.Mutex
	cache := map[string][]float32{}

	embed := func(text string) []float32 {
		mu.Lock()
		defer mu.Unlock()
		if vec, ok := cache[text]; ok {
			return vec
		}
		vec, err := embedder.Embed(ctx, text)
		if err != nil {
			logger.Warn("semantic comparator embed failed", zap.Error(err))
			cache[text] = nil
			return nil
		}
		cache[text] = vec
		return vec
	}

	return func(candidate, reference map[string]any) float64 {
		a := stringAt(candidate, path)
		b := stringAt(reference, path)
		if a == "" || b == "" {
			return 0
		}
		va, vb := embed(a), embed(b)
		if va == nil || vb == nil {
			return 0
		}
		score, err := CosineSimilarity(va, vb)
		if err != nil {
			logger.Warn("semantic comparator cosine failed", zap.Error(err))
			return 0
		}
		// Cosine is [-1,1]; anything anti-correlated is simply "not similar".
		return clamp01(score)
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("similarity: vector dimension mismatch: %d != %d", len(a), len(b))
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
