package models

import (
	"time"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// PublishJob represents a persisted batch publish job.
type PublishJob struct {
	ID          surrealmodels.RecordID `json:"id"`
	Status      string                 `json:"status"`
	Name        *string                `json:"name,omitempty"`
	Sources     []string               `json:"sources"` // product record paths
	Targets     []string               `json:"targets"`
	Total       int                    `json:"total"`
	Progress    int                    `json:"progress"`
	Result      map[string]any         `json:"result,omitempty"`
	Error       *string                `json:"error,omitempty"`
	StartedAt   time.Time              `json:"started_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}
