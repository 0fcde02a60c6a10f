package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CategoryCount summarizes the stored taxonomy.
type CategoryCount struct {
	Total  int `json:"total"`
	Leaves int `json:"leaves"`
}

// UpsertCategories writes nodes into the category table in one statement.
// Existing nodes with the same id are replaced.
func (c *Client) UpsertCategories(ctx context.Context, nodes []models.CategoryNode, version string) error {
	if len(nodes) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		embedding := n.Embedding
		if embedding == nil {
			embedding = []float32{}
		}
		rows = append(rows, map[string]any{
			"id":           n.ID,
			"display_path": n.DisplayPath,
			"is_leaf":      n.IsLeaf,
			"embedding":    embedding,
		})
	}

	sql := `
		FOR $n IN $nodes {
			UPSERT type::record("category", $n.id) SET
				display_path = $n.display_path,
				is_leaf = $n.is_leaf,
				embedding = $n.embedding,
				version = $version,
				updated = time::now();
		};
	`
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"nodes":   rows,
		"version": optional(version),
	}); err != nil {
		return fmt.Errorf("upsert categories: %w", wrapQueryError(err))
	}
	return nil
}

// ListCategories returns every stored node. Implements corpus.Store.
func (c *Client) ListCategories(ctx context.Context) ([]models.CategoryNode, error) {
	results, err := surrealdb.Query[[]models.CategoryRecord](ctx, c.db, `
		SELECT id, display_path, is_leaf, embedding, version FROM category
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.CategoryNode{}, nil
	}

	records := (*results)[0].Result
	nodes := make([]models.CategoryNode, 0, len(records))
	for _, r := range records {
		n, err := r.Node()
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// GetCategory returns one node, or ErrNotFound.
func (c *Client) GetCategory(ctx context.Context, id string) (*models.CategoryNode, error) {
	results, err := surrealdb.Query[[]models.CategoryRecord](ctx, c.db, `
		SELECT id, display_path, is_leaf, embedding, version FROM type::record("category", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	n, err := (*results)[0].Result[0].Node()
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &n, nil
}

// CountCategories returns the number of stored nodes and leaves.
func (c *Client) CountCategories(ctx context.Context) (CategoryCount, error) {
	results, err := surrealdb.Query[[]CategoryCount](ctx, c.db, `
		SELECT count() AS total, math::sum(IF is_leaf THEN 1 ELSE 0 END) AS leaves
		FROM category GROUP ALL
	`, nil)
	if err != nil {
		return CategoryCount{}, fmt.Errorf("count categories: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return CategoryCount{}, nil
	}
	return (*results)[0].Result[0], nil
}

// CategoryVersion returns the version stamp of the stored corpus, or "" when
// none was recorded.
func (c *Client) CategoryVersion(ctx context.Context) (string, error) {
	results, err := surrealdb.Query[[]struct {
		Version *string `json:"version"`
	}](ctx, c.db, `
		SELECT version, updated FROM category WHERE version != NONE ORDER BY updated DESC LIMIT 1
	`, nil)
	if err != nil {
		return "", fmt.Errorf("category version: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return "", nil
	}
	if v := (*results)[0].Result[0].Version; v != nil {
		return *v, nil
	}
	return "", nil
}
