package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// SaveOutcome stores the outcome of one product. jobID and sourcePath may be
// empty for ad-hoc runs.
func (c *Client) SaveOutcome(ctx context.Context, jobID, sourcePath string, o models.ProductOutcome) error {
	// Round-trip through JSON so targets serialize as "MARKETPLACE:REGION".
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("save outcome: %w", err)
	}

	_, err = surrealdb.Query[any](ctx, c.db, `
		CREATE product_outcome SET
			run_id = $run_id,
			job_id = $job_id,
			source_id = $source_id,
			source_path = $source_path,
			status = $status,
			category_id = $category_id,
			reason = $reason,
			outcome = $outcome
	`, map[string]any{
		"run_id":      o.RunID,
		"job_id":      optional(jobID),
		"source_id":   o.SourceID,
		"source_path": optional(sourcePath),
		"status":      string(o.Status()),
		"category_id": optional(o.Decision.CategoryID),
		"reason":      optional(o.Reason),
		"outcome":     doc,
	})
	if err != nil {
		return fmt.Errorf("save outcome %s: %w", o.SourceID, wrapQueryError(err))
	}
	return nil
}

// ProcessedSources returns the source paths of a job that already have an
// outcome.
func (c *Client) ProcessedSources(ctx context.Context, jobID string) ([]string, error) {
	results, err := surrealdb.Query[[]struct {
		SourcePath string `json:"source_path"`
	}](ctx, c.db, `
		SELECT source_path FROM product_outcome WHERE job_id = $job_id AND source_path != NONE
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("processed sources: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}
	paths := make([]string, 0, len((*results)[0].Result))
	for _, r := range (*results)[0].Result {
		paths = append(paths, r.SourcePath)
	}
	return paths, nil
}

// OutcomeCount is the number of products per status.
type OutcomeCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// CountOutcomes groups a job's product outcomes by status.
func (c *Client) CountOutcomes(ctx context.Context, jobID string) ([]OutcomeCount, error) {
	results, err := surrealdb.Query[[]OutcomeCount](ctx, c.db, `
		SELECT status, count() AS count FROM product_outcome WHERE job_id = $job_id GROUP BY status
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []OutcomeCount{}, nil
	}
	return (*results)[0].Result, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
