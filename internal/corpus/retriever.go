package corpus

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/models"
)

// DefaultK is the number of candidates returned when none is configured.
const DefaultK = 10

const maxQueryLen = 2000

// Embedder turns text into a vector of the corpus dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever ranks leaf categories against a product.
type Retriever struct {
	corpus   *Corpus
	embedder Embedder
	k        int
	logger   *slog.Logger
}

// NewRetriever creates a retriever returning up to k candidates.
func NewRetriever(c *Corpus, e Embedder, k int, logger *slog.Logger) *Retriever {
	if k <= 0 {
		k = DefaultK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{corpus: c, embedder: e, k: k, logger: logger}
}

// QueryText builds the embedding query for a product: title, declared type,
// browse path and attribute values, in that order.
func QueryText(draft models.ProductDraft) string {
	parts := []string{draft.Title}
	if draft.DeclaredTypeHint != "" {
		parts = append(parts, models.HumanizeKey(draft.DeclaredTypeHint))
	}
	if draft.BrowsePathHint != "" {
		parts = append(parts, draft.BrowsePathHint)
	}
	for _, a := range draft.RawAttributes {
		if v := strings.TrimSpace(a.Value); v != "" {
			parts = append(parts, v)
		}
	}
	q := strings.Join(parts, ". ")
	if len(q) > maxQueryLen {
		q = strings.ToValidUTF8(q[:maxQueryLen], "")
	}
	return q
}

// Retrieve embeds the product and returns its top candidates, excluding the
// given category ids.
func (r *Retriever) Retrieve(ctx context.Context, draft models.ProductDraft, exclude ...string) ([]models.Candidate, error) {
	vec, err := r.embedder.Embed(ctx, QueryText(draft))
	if err != nil {
		return nil, fmt.Errorf("embed product %s: %w", draft.SourceID, err)
	}
	candidates, err := r.corpus.TopK(vec, r.k, exclude...)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("candidates retrieved", "source_id", draft.SourceID, "count", len(candidates))
	return candidates, nil
}

// TopK ranks leaf nodes by cosine similarity to query. Ties go to the
// shorter display path, then to the lower id, so the order is total.
// Pure function of the corpus and the arguments.
func (c *Corpus) TopK(query []float32, k int, exclude ...string) ([]models.Candidate, error) {
	if len(query) != c.dimension {
		return nil, fmt.Errorf("query dimension %d, want %d", len(query), c.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	ranked := make([]models.Candidate, 0, len(c.leaves))
	for _, n := range c.leaves {
		if slices.Contains(exclude, n.ID) {
			continue
		}
		ranked = append(ranked, models.Candidate{Node: n, Similarity: cosineSimilarity(query, n.Embedding)})
	}

	slices.SortFunc(ranked, compareCandidates)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

func compareCandidates(a, b models.Candidate) int {
	if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
		return c
	}
	if c := cmp.Compare(len(a.Node.DisplayPath), len(b.Node.DisplayPath)); c != 0 {
		return c
	}
	return cmp.Compare(a.Node.ID, b.Node.ID)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
