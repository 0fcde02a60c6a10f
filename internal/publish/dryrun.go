package publish

import (
	"context"
	"sync"

	"github.com/raphaelgruber/catalogbridge/internal/models"
)

// DryRun is a Publisher that accepts every listing without calling the
// marketplace. It keeps the submitted requests for inspection.
type DryRun struct {
	mu       sync.Mutex
	requests []models.ListingRequest
}

// Publish implements Publisher.
func (d *DryRun) Publish(_ context.Context, req models.ListingRequest) ([]models.TargetResult, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	fp := req.Fingerprint()
	results := make([]models.TargetResult, 0, len(req.Targets))
	for _, t := range req.Targets {
		results = append(results, models.TargetResult{
			Target: t,
			ItemID: "DRYRUN-" + t.Region + "-" + fp[:8],
		})
	}
	return results, nil
}

// Requests returns the listings submitted so far.
func (d *DryRun) Requests() []models.ListingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]models.ListingRequest, len(d.requests))
	copy(out, d.requests)
	return out
}
