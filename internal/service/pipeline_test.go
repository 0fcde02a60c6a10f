package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/raphaelgruber/catalogbridge/internal/gate"
	"github.com/raphaelgruber/catalogbridge/internal/llm"
	"github.com/raphaelgruber/catalogbridge/internal/metrics"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/resolve"
	"github.com/raphaelgruber/catalogbridge/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	mlm = models.Target{Marketplace: "CBT", Region: "MLM"}
	mlb = models.Target{Marketplace: "CBT", Region: "MLB"}
)

func node(id string, path ...string) models.CategoryNode {
	return models.CategoryNode{ID: id, DisplayPath: path, IsLeaf: true}
}

// fakeRetriever returns every node not excluded, in order.
type fakeRetriever struct {
	mu       sync.Mutex
	nodes    []models.CategoryNode
	excludes [][]string
	err      error
}

func (f *fakeRetriever) Retrieve(_ context.Context, _ models.ProductDraft, exclude ...string) ([]models.Candidate, error) {
	f.mu.Lock()
	f.excludes = append(f.excludes, slices.Clone(exclude))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Candidate
	for _, n := range f.nodes {
		if !slices.Contains(exclude, n.ID) {
			out = append(out, models.Candidate{Node: n, Similarity: 0.9})
		}
	}
	return out, nil
}

// firstValidator accepts the first candidate.
type firstValidator struct {
	err error
}

func (v firstValidator) Validate(_ context.Context, _ models.ProductDraft, candidates []models.Candidate) (models.CategoryDecision, error) {
	if v.err != nil {
		return models.CategoryDecision{}, v.err
	}
	if len(candidates) == 0 {
		return models.CategoryDecision{}, resolve.ErrNoAcceptableCategory
	}
	c := candidates[0]
	return models.CategoryDecision{CategoryID: c.Node.ID, DisplayPath: c.Node.DisplayPath, Confidence: 0.8}, nil
}

// slowValidator times out on its first timeouts calls, then accepts the
// first candidate.
type slowValidator struct {
	timeouts int
	calls    int
}

func (v *slowValidator) Validate(ctx context.Context, d models.ProductDraft, candidates []models.Candidate) (models.CategoryDecision, error) {
	v.calls++
	if v.calls <= v.timeouts {
		return models.CategoryDecision{}, fmt.Errorf("llm generate: %w", gate.ErrTimeout)
	}
	return firstValidator{}.Validate(ctx, d, candidates)
}

type fakeSchemas struct {
	schemas map[string]*models.AttributeSchema
}

func (f fakeSchemas) Get(_ context.Context, id string) (*models.AttributeSchema, error) {
	sc, ok := f.schemas[id]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", id, schema.ErrSchemaUnavailable)
	}
	return sc, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	requests []models.ListingRequest
	respond  func(req models.ListingRequest) []models.TargetResult
}

func (f *fakePublisher) Publish(_ context.Context, req models.ListingRequest) ([]models.TargetResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.respond != nil {
		return f.respond(req), nil
	}
	out := make([]models.TargetResult, 0, len(req.Targets))
	for _, t := range req.Targets {
		out = append(out, models.TargetResult{Target: t, ItemID: "ITEM-" + t.Region})
	}
	return out, nil
}

func (f *fakePublisher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func categorySchema(id string) *models.AttributeSchema {
	return &models.AttributeSchema{
		CategoryID: id,
		Attributes: map[string]models.AttributeSpec{
			"BRAND": {ID: "BRAND", Name: "Brand", Required: true, Critical: true, ValueType: models.ValueFreeText},
			"COLOR": {ID: "COLOR", Name: "Color", ValueType: models.ValueFreeText},
			"PACKAGE_LENGTH": {
				ID: "PACKAGE_LENGTH", Name: "Package length",
				ValueType: models.ValueNumberWithUnit, Units: []string{"cm"}, DefaultUnit: "cm",
			},
		},
	}
}

func draft() models.ProductDraft {
	return models.ProductDraft{
		SourceID:         "B0TEST",
		Title:            "Acme Nail Polish Red",
		DeclaredTypeHint: "NAIL_POLISH",
		RawAttributes: []models.RawAttribute{
			{Key: "brand", Value: "Acme"},
			{Key: "color", Value: "Red"},
			{Key: "marketplace_id", Value: "ATVPDKIKX0DER"},
		},
		Identifiers: []string{"673419394130", "B0TEST"},
		Dimensions:  &models.Dimensions{Length: 10, LengthUnit: "cm"},
	}
}

type pipelineFixture struct {
	retriever *fakeRetriever
	publisher *fakePublisher
	metrics   *metrics.Collector
	pipeline  *Pipeline
}

func newFixture(v Validator) *pipelineFixture {
	f := &pipelineFixture{
		retriever: &fakeRetriever{nodes: []models.CategoryNode{
			node("CBT1", "Beauty", "Nails", "Nail Polish"),
			node("CBT2", "Beauty", "Nails", "Nail Care"),
		}},
		publisher: &fakePublisher{},
		metrics:   metrics.NewCollector(),
	}
	schemas := fakeSchemas{schemas: map[string]*models.AttributeSchema{
		"CBT1": categorySchema("CBT1"),
		"CBT2": categorySchema("CBT2"),
	}}
	f.pipeline = NewPipeline(f.retriever, v, schemas, f.publisher, PipelineOptions{
		MaxAttempts: 3,
		Metrics:     f.metrics,
	})
	return f
}

func TestProcessPublishesToAllTargets(t *testing.T) {
	f := newFixture(firstValidator{})

	out, err := f.pipeline.Process(context.Background(), draft(), []models.Target{mlm, mlb})
	require.NoError(t, err)

	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, "B0TEST", out.SourceID)
	assert.Equal(t, "CBT1", out.Decision.CategoryID)
	assert.Equal(t, models.OutcomeSucceeded, out.Status())
	require.Len(t, out.Attempts, 2)
	for _, a := range out.Attempts {
		assert.Equal(t, models.StateSucceeded, a.State)
		assert.Equal(t, 1, a.AttemptCount)
	}

	require.Equal(t, 1, f.publisher.calls())
	req := f.publisher.requests[0]
	assert.Equal(t, "CBT1", req.CategoryID)
	assert.Equal(t, []string{"673419394130"}, req.Identifiers)

	ids := make([]string, 0, len(req.Attributes))
	for _, a := range req.Attributes {
		ids = append(ids, a.ID)
	}
	assert.ElementsMatch(t, []string{"BRAND", "COLOR", "PACKAGE_LENGTH"}, ids)
}

func TestProcessNoAcceptableCategory(t *testing.T) {
	f := newFixture(firstValidator{err: fmt.Errorf("all rejected: %w", resolve.ErrNoAcceptableCategory)})

	out, err := f.pipeline.Process(context.Background(), draft(), []models.Target{mlm, mlb})
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeFailed, out.Status())
	assert.NotEmpty(t, out.Reason)
	assert.Zero(t, f.publisher.calls())
	require.Len(t, out.Attempts, 2)
	for _, a := range out.Attempts {
		assert.Equal(t, models.StatePermanentFailure, a.State)
		assert.Zero(t, a.AttemptCount)
		require.NotNil(t, a.LastError)
		assert.Equal(t, models.CauseNoCategory, a.LastError.Cause)
	}
}

func TestProcessSchemaUnavailable(t *testing.T) {
	f := newFixture(firstValidator{})
	f.retriever.nodes = []models.CategoryNode{node("CBT9", "Unknown")}

	out, err := f.pipeline.Process(context.Background(), draft(), []models.Target{mlm})
	require.NoError(t, err)

	require.Len(t, out.Attempts, 1)
	assert.Equal(t, models.CauseSchemaUnavailable, out.Attempts[0].LastError.Cause)
	assert.Equal(t, "CBT9", out.Decision.CategoryID)
	assert.Zero(t, f.publisher.calls())
}

func TestProcessRetriesResolutionTimeout(t *testing.T) {
	v := &slowValidator{timeouts: 1}
	f := newFixture(v)

	out, err := f.pipeline.Process(context.Background(), draft(), []models.Target{mlm, mlb})
	require.NoError(t, err)

	assert.Equal(t, 2, v.calls)
	assert.Equal(t, models.OutcomeSucceeded, out.Status())
	assert.Equal(t, "CBT1", out.Decision.CategoryID)
	assert.Empty(t, out.Reason)
	assert.Equal(t, 1, f.publisher.calls())
}

func TestProcessResolutionTimeoutGivesUp(t *testing.T) {
	v := &slowValidator{timeouts: 100}
	f := newFixture(v)

	out, err := f.pipeline.Process(context.Background(), draft(), []models.Target{mlm, mlb})
	require.NoError(t, err)

	assert.Equal(t, 3, v.calls, "bounded by MaxAttempts")
	assert.Zero(t, f.publisher.calls())
	assert.Equal(t, models.OutcomeFailed, out.Status())
	require.Len(t, out.Attempts, 2)
	for _, a := range out.Attempts {
		assert.Equal(t, models.StatePermanentFailure, a.State)
		require.NotNil(t, a.LastError)
		assert.Equal(t, models.CauseTimeout, a.LastError.Cause)
		assert.Equal(t, models.ActionMarkPermanent, a.LastError.Action.Kind)
	}
}

func TestProcessFatalProviderError(t *testing.T) {
	f := newFixture(firstValidator{err: fmt.Errorf("%w: credit balance too low", llm.ErrFatalAPI)})

	out, err := f.pipeline.Process(context.Background(), draft(), []models.Target{mlm})
	require.ErrorIs(t, err, llm.ErrFatalAPI)
	assert.Equal(t, models.OutcomeFailed, out.Status())
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, models.StatePermanentFailure, out.Attempts[0].State)
}

func TestProcessAlternateCategoryAfterNonLeaf(t *testing.T) {
	f := newFixture(firstValidator{})
	f.publisher.respond = func(req models.ListingRequest) []models.TargetResult {
		out := make([]models.TargetResult, 0, len(req.Targets))
		for _, t := range req.Targets {
			if req.CategoryID == "CBT1" {
				out = append(out, models.TargetResult{Target: t, Error: &models.PublishError{CauseCode: 3401, Message: "category is not leaf"}})
				continue
			}
			out = append(out, models.TargetResult{Target: t, ItemID: "ITEM-" + t.Region})
		}
		return out
	}

	out, err := f.pipeline.Process(context.Background(), draft(), []models.Target{mlm, mlb})
	require.NoError(t, err)

	assert.Equal(t, models.OutcomeSucceeded, out.Status())
	assert.Equal(t, "CBT1", out.Decision.CategoryID)
	require.Len(t, out.Alternates, 1)
	assert.Equal(t, "CBT2", out.Alternates[0].CategoryID)
	for _, a := range out.Attempts {
		assert.Equal(t, "CBT2", a.CategoryID)
		assert.Equal(t, 2, a.AttemptCount)
	}

	// The second retrieval excludes the rejected category.
	require.Len(t, f.retriever.excludes, 2)
	assert.Empty(t, f.retriever.excludes[0])
	assert.Equal(t, []string{"CBT1"}, f.retriever.excludes[1])
}

func TestResolve(t *testing.T) {
	f := newFixture(firstValidator{})

	res, err := f.pipeline.Resolve(context.Background(), draft())
	require.NoError(t, err)

	assert.Len(t, res.Candidates, 2)
	assert.Equal(t, "CBT1", res.Decision.CategoryID)
	assert.NoError(t, res.Unsatisfied)
	assert.Equal(t, []string{"673419394130"}, res.Identifiers)

	dropped := make([]string, 0, len(res.Attributes.Dropped))
	for _, d := range res.Attributes.Dropped {
		dropped = append(dropped, d.Key)
	}
	assert.Equal(t, []string{"marketplace_id"}, dropped)

	listing := res.Listing()
	assert.Equal(t, "CBT1", listing.CategoryID)
	assert.Len(t, listing.Attributes, 3)
}

func TestResolveReportsUnsatisfiedRequired(t *testing.T) {
	f := newFixture(firstValidator{})
	d := draft()
	d.RawAttributes = []models.RawAttribute{{Key: "color", Value: "Red"}}

	res, err := f.pipeline.Resolve(context.Background(), d)
	require.NoError(t, err)
	assert.Error(t, res.Unsatisfied)
}

func TestResolveRetrieverError(t *testing.T) {
	f := newFixture(firstValidator{})
	f.retriever.err = errors.New("embedder down")

	res, err := f.pipeline.Resolve(context.Background(), draft())
	require.Error(t, err)
	assert.False(t, res.Decision.Accepted())
}

func TestAlternateListing(t *testing.T) {
	f := newFixture(firstValidator{})

	alt, err := f.pipeline.AlternateListing(context.Background(), draft(), []string{"CBT1"})
	require.NoError(t, err)
	assert.Equal(t, "CBT2", alt.Decision.CategoryID)
	assert.Equal(t, "CBT2", alt.Schema.CategoryID)
	assert.Equal(t, "CBT2", alt.Listing.CategoryID)

	_, err = f.pipeline.AlternateListing(context.Background(), draft(), []string{"CBT1", "CBT2"})
	assert.ErrorIs(t, err, resolve.ErrNoAcceptableCategory)
}

func TestDimensionAttributes(t *testing.T) {
	tests := []struct {
		name string
		dims *models.Dimensions
		want []models.RawAttribute
	}{
		{"nil", nil, nil},
		{"zero values skipped", &models.Dimensions{Length: 0, Weight: 1.5, WeightUnit: "kg"}, []models.RawAttribute{
			{Key: "PACKAGE_WEIGHT", Value: "1.5 kg"},
		}},
		{"all", &models.Dimensions{Length: 10, Width: 5, Height: 2.5, LengthUnit: "cm", Weight: 300, WeightUnit: "g"}, []models.RawAttribute{
			{Key: "PACKAGE_LENGTH", Value: "10 cm"},
			{Key: "PACKAGE_WIDTH", Value: "5 cm"},
			{Key: "PACKAGE_HEIGHT", Value: "2.5 cm"},
			{Key: "PACKAGE_WEIGHT", Value: "300 g"},
		}},
		{"no unit", &models.Dimensions{Height: 4}, []models.RawAttribute{
			{Key: "PACKAGE_HEIGHT", Value: "4"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, dimensionAttributes(tt.dims))
		})
	}
}
