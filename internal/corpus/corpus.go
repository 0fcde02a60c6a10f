// Package corpus holds the target marketplace taxonomy and ranks its leaf
// categories against a product by embedding similarity.
package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/raphaelgruber/catalogbridge/internal/models"
)

// ErrEmptyCorpus is returned when a corpus has no leaf categories.
var ErrEmptyCorpus = errors.New("corpus has no leaf categories")

// Corpus is the immutable, versioned set of category nodes. Safe for
// concurrent reads.
type Corpus struct {
	version   string
	dimension int
	nodes     map[string]models.CategoryNode
	leaves    []models.CategoryNode // pre-filtered index searched at query time
}

// New builds a corpus. Every node must carry an embedding of the given
// dimension. Nodes are copied; later changes to the input are not seen.
func New(version string, dimension int, nodes []models.CategoryNode) (*Corpus, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	c := &Corpus{
		version:   version,
		dimension: dimension,
		nodes:     make(map[string]models.CategoryNode, len(nodes)),
	}
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("category with empty id (path %q)", n.PathString())
		}
		if _, dup := c.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate category id %s", n.ID)
		}
		if len(n.Embedding) != dimension {
			return nil, fmt.Errorf("category %s: embedding dimension %d, want %d", n.ID, len(n.Embedding), dimension)
		}
		n.DisplayPath = append([]string(nil), n.DisplayPath...)
		n.Embedding = append([]float32(nil), n.Embedding...)
		c.nodes[n.ID] = n
		if n.IsLeaf {
			c.leaves = append(c.leaves, n)
		}
	}
	if len(c.leaves) == 0 {
		return nil, ErrEmptyCorpus
	}
	return c, nil
}

// Version identifies the corpus snapshot.
func (c *Corpus) Version() string { return c.version }

// Dimension is the embedding length of every node.
func (c *Corpus) Dimension() int { return c.dimension }

// Len returns the number of nodes, leaves included.
func (c *Corpus) Len() int { return len(c.nodes) }

// LeafCount returns the number of leaf nodes.
func (c *Corpus) LeafCount() int { return len(c.leaves) }

// Get returns a node by id.
func (c *Corpus) Get(id string) (models.CategoryNode, bool) {
	n, ok := c.nodes[id]
	return n, ok
}

// IsLeaf reports whether id names a known leaf category.
func (c *Corpus) IsLeaf(id string) bool {
	n, ok := c.nodes[id]
	return ok && n.IsLeaf
}

// Store is a persistent source of category nodes.
type Store interface {
	ListCategories(ctx context.Context) ([]models.CategoryNode, error)
}

// LoadFromStore builds a corpus from every node in store.
func LoadFromStore(ctx context.Context, store Store, version string, dimension int) (*Corpus, error) {
	nodes, err := store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return New(version, dimension, nodes)
}

// ReadNodesFile reads a JSON array of category nodes. Embeddings may be
// absent; callers embed those before building a corpus.
func ReadNodesFile(path string) ([]models.CategoryNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file: %w", err)
	}
	var nodes []models.CategoryNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("parse corpus file %s: %w", path, err)
	}
	return nodes, nil
}

// LoadFile builds a corpus from a JSON file whose nodes all carry embeddings.
func LoadFile(path string, dimension int) (*Corpus, error) {
	nodes, err := ReadNodesFile(path)
	if err != nil {
		return nil, err
	}
	return New(path, dimension, nodes)
}
