package models

import (
	"strings"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// CategoryNode is one node of the target marketplace taxonomy.
// Only leaf nodes are valid publish targets. Nodes are immutable once the
// corpus is loaded.
type CategoryNode struct {
	ID          string    `json:"id"`
	DisplayPath []string  `json:"display_path"`
	IsLeaf      bool      `json:"is_leaf"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// Name returns the last element of the display path.
func (n CategoryNode) Name() string {
	if len(n.DisplayPath) == 0 {
		return ""
	}
	return n.DisplayPath[len(n.DisplayPath)-1]
}

// PathString renders the display path as "A > B > C".
func (n CategoryNode) PathString() string {
	return strings.Join(n.DisplayPath, " > ")
}

// CategoryRecord is the SurrealDB representation of a CategoryNode.
type CategoryRecord struct {
	ID          surrealmodels.RecordID `json:"id"`
	DisplayPath []string               `json:"display_path"`
	IsLeaf      bool                   `json:"is_leaf"`
	Embedding   []float32              `json:"embedding"`
	Version     string                 `json:"version,omitempty"`
}

// Node converts the record into a CategoryNode.
func (r CategoryRecord) Node() (CategoryNode, error) {
	id, err := RecordIDString(r.ID)
	if err != nil {
		return CategoryNode{}, err
	}
	return CategoryNode{
		ID:          id,
		DisplayPath: r.DisplayPath,
		IsLeaf:      r.IsLeaf,
		Embedding:   r.Embedding,
	}, nil
}

// Candidate is a category ranked by similarity to a product.
type Candidate struct {
	Node       CategoryNode `json:"node"`
	Similarity float64      `json:"similarity"`
}

// RejectedCandidate records why a candidate was not chosen.
type RejectedCandidate struct {
	CategoryID string `json:"category_id"`
	Path       string `json:"path"`
	Reason     string `json:"reason"`
}

// CategoryDecision is the validated category choice for a product.
// A new instance is produced whenever an alternate category is requested.
type CategoryDecision struct {
	CategoryID         string              `json:"category_id"`
	DisplayPath        []string            `json:"display_path,omitempty"`
	Confidence         float64             `json:"confidence"`
	Reasoning          string              `json:"reasoning"`
	RejectedCandidates []RejectedCandidate `json:"rejected_candidates,omitempty"`
}

// Accepted reports whether the decision names a category.
func (d CategoryDecision) Accepted() bool {
	return d.CategoryID != ""
}
