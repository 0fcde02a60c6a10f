package db

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// CreatePublishJob persists a new pending job.
func (c *Client) CreatePublishJob(ctx context.Context, id, name string, sources, targets []string) error {
	if sources == nil {
		sources = []string{}
	}
	if targets == nil {
		targets = []string{}
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record("publish_job", $id) SET
			status = "pending",
			name = $name,
			sources = $sources,
			targets = $targets,
			total = $total,
			progress = 0,
			started_at = time::now()
	`, map[string]any{
		"id":      id,
		"name":    optional(name),
		"sources": sources,
		"targets": targets,
		"total":   len(sources),
	})
	if err != nil {
		return fmt.Errorf("create publish job: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateJobProgress records how many products have been processed.
func (c *Client) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("publish_job", $id) SET progress = $progress
	`, map[string]any{"id": id, "progress": progress})
	if err != nil {
		return fmt.Errorf("update job progress: %w", wrapQueryError(err))
	}
	return nil
}

// UpdateJobStatus sets the job status.
func (c *Client) UpdateJobStatus(ctx context.Context, id, status string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("publish_job", $id) SET status = $status
	`, map[string]any{"id": id, "status": status})
	if err != nil {
		return fmt.Errorf("update job status: %w", wrapQueryError(err))
	}
	return nil
}

// CompleteJob marks a job completed and stores its summary.
func (c *Client) CompleteJob(ctx context.Context, id string, result map[string]any) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("publish_job", $id) SET
			status = "completed",
			progress = total,
			result = $result,
			completed_at = time::now()
	`, map[string]any{"id": id, "result": result})
	if err != nil {
		return fmt.Errorf("complete job: %w", wrapQueryError(err))
	}
	return nil
}

// FailJob marks a job failed.
func (c *Client) FailJob(ctx context.Context, id, message string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("publish_job", $id) SET
			status = "failed",
			error = $error,
			completed_at = time::now()
	`, map[string]any{"id": id, "error": message})
	if err != nil {
		return fmt.Errorf("fail job: %w", wrapQueryError(err))
	}
	return nil
}

// GetPublishJob returns one job, or ErrNotFound.
func (c *Client) GetPublishJob(ctx context.Context, id string) (*models.PublishJob, error) {
	results, err := surrealdb.Query[[]models.PublishJob](ctx, c.db, `
		SELECT * FROM type::record("publish_job", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get publish job: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("publish job %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// ListPublishJobs returns the most recent jobs first.
func (c *Client) ListPublishJobs(ctx context.Context, limit int) ([]models.PublishJob, error) {
	if limit <= 0 {
		limit = 20
	}
	results, err := surrealdb.Query[[]models.PublishJob](ctx, c.db, `
		SELECT * FROM publish_job ORDER BY started_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list publish jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.PublishJob{}, nil
	}
	return (*results)[0].Result, nil
}

// GetIncompleteJobs returns jobs left pending or running by a previous
// process.
func (c *Client) GetIncompleteJobs(ctx context.Context) ([]models.PublishJob, error) {
	results, err := surrealdb.Query[[]models.PublishJob](ctx, c.db, `
		SELECT * FROM publish_job WHERE status IN ["pending", "running"] ORDER BY started_at
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("get incomplete jobs: %w", err)
	}
	if results == nil || len(*results) == 0 {
		return []models.PublishJob{}, nil
	}
	return (*results)[0].Result, nil
}
