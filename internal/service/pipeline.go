// Package service wires category resolution, attribute reconciliation and
// publishing into the per-product pipeline and the batch job manager.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/catalogbridge/internal/classify"
	"github.com/raphaelgruber/catalogbridge/internal/llm"
	"github.com/raphaelgruber/catalogbridge/internal/metrics"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/publish"
	"github.com/raphaelgruber/catalogbridge/internal/reconcile"
)

// Retriever ranks candidate categories for a product.
type Retriever interface {
	Retrieve(ctx context.Context, draft models.ProductDraft, exclude ...string) ([]models.Candidate, error)
}

// Validator picks one category among candidates.
type Validator interface {
	Validate(ctx context.Context, draft models.ProductDraft, candidates []models.Candidate) (models.CategoryDecision, error)
}

// SchemaSource returns the attribute schema of a category.
type SchemaSource interface {
	Get(ctx context.Context, categoryID string) (*models.AttributeSchema, error)
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Reconciler  *reconcile.Reconciler
	Classifier  *classify.Classifier
	MaxAttempts int
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// Pipeline takes one product from draft to a publish outcome on every
// requested target. It is safe for concurrent use.
type Pipeline struct {
	retriever    Retriever
	validator    Validator
	schemas      SchemaSource
	reconciler   *reconcile.Reconciler
	classifier   *classify.Classifier
	orchestrator *publish.Orchestrator
	metrics      *metrics.Collector
	logger       *slog.Logger
}

// NewPipeline creates a pipeline publishing through p.
func NewPipeline(r Retriever, v Validator, s SchemaSource, p publish.Publisher, opts PipelineOptions) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Reconciler
	if rec == nil {
		rec = reconcile.New(nil, logger)
	}
	cls := opts.Classifier
	if cls == nil {
		cls = classify.New(logger)
	}

	pl := &Pipeline{
		retriever:  r,
		validator:  v,
		schemas:    s,
		reconciler: rec,
		classifier: cls,
		metrics:    opts.Metrics,
		logger:     logger,
	}
	pl.orchestrator = publish.New(p, cls, pl, publish.Options{
		MaxAttempts: opts.MaxAttempts,
		Metrics:     opts.Metrics,
		Logger:      logger,
	})
	return pl
}

// MaxAttempts returns the per-target attempt bound in effect.
func (p *Pipeline) MaxAttempts() int { return p.orchestrator.MaxAttempts() }

// Resolution is everything known about a product before publishing.
type Resolution struct {
	Candidates  []models.Candidate          `json:"candidates"`
	Decision    models.CategoryDecision     `json:"decision"`
	Schema      *models.AttributeSchema     `json:"-"`
	Attributes  models.ReconciledAttributes `json:"attributes"`
	Identifiers []string                    `json:"identifiers"`
	// Unsatisfied is an *reconcile.UnsatisfiedRequiredError or nil.
	Unsatisfied error `json:"-"`
}

// Listing builds the listing payload for the resolved category.
func (r *Resolution) Listing() models.Listing {
	return models.Listing{
		CategoryID:  r.Decision.CategoryID,
		Attributes:  r.Attributes.Attributes,
		Identifiers: r.Identifiers,
	}
}

// Resolve retrieves candidates, validates a category and reconciles the
// product's attributes against its schema. Categories in exclude are never
// considered. On error the returned resolution holds whatever was decided
// before the failure.
func (p *Pipeline) Resolve(ctx context.Context, draft models.ProductDraft, exclude ...string) (*Resolution, error) {
	res := &Resolution{}

	candidates, err := p.retriever.Retrieve(ctx, draft, exclude...)
	if err != nil {
		return res, fmt.Errorf("retrieve candidates: %w", err)
	}
	res.Candidates = candidates

	decision, err := p.validator.Validate(ctx, draft, candidates)
	res.Decision = decision
	if err != nil {
		return res, fmt.Errorf("validate category: %w", err)
	}

	sc, err := p.schemas.Get(ctx, decision.CategoryID)
	if err != nil {
		return res, fmt.Errorf("category %s: %w", decision.CategoryID, err)
	}
	res.Schema = sc

	raw := append(append([]models.RawAttribute(nil), draft.RawAttributes...), dimensionAttributes(draft.Dimensions)...)
	res.Attributes = p.reconciler.Reconcile(raw, sc)
	res.Identifiers = reconcile.ValidIdentifiers(draft.Identifiers, draft.SourceID)
	res.Unsatisfied = reconcile.Unsatisfied(res.Attributes, sc)

	p.logger.Debug("product resolved",
		"source_id", draft.SourceID,
		"category_id", decision.CategoryID,
		"confidence", decision.Confidence,
		"attributes", len(res.Attributes.Attributes),
		"identifiers", len(res.Identifiers))
	return res, nil
}

// AlternateListing resolves the product again without the excluded
// categories. Implements publish.CategoryRemediator.
func (p *Pipeline) AlternateListing(ctx context.Context, draft models.ProductDraft, exclude []string) (publish.Alternate, error) {
	res, err := p.Resolve(ctx, draft, exclude...)
	if err != nil {
		return publish.Alternate{Decision: res.Decision}, err
	}
	return publish.Alternate{
		Decision: res.Decision,
		Schema:   res.Schema,
		Listing:  res.Listing(),
	}, nil
}

// Process resolves draft and publishes it to targets. Resolution failures
// worth retrying are retried up to MaxAttempts times before the product is
// given up on. The outcome always has one attempt per target in a terminal
// state. The error is non-nil only for provider failures no later product
// could get past (llm.ErrFatalAPI); the outcome is complete in that case too.
func (p *Pipeline) Process(ctx context.Context, draft models.ProductDraft, targets []models.Target) (models.ProductOutcome, error) {
	start := time.Now()
	out := models.ProductOutcome{
		RunID:    uuid.New().String(),
		SourceID: draft.SourceID,
	}
	log := p.logger.With("run_id", out.RunID, "source_id", draft.SourceID)

	var (
		res *Resolution
		err error
		ce  models.ClassifiedError
	)
	for try := 1; ; try++ {
		res, err = p.Resolve(ctx, draft)
		if err == nil {
			break
		}
		ce = p.classifier.ClassifyResolutionError(err)
		if ce.Action.Kind != models.ActionRetry || try >= p.MaxAttempts() || ctx.Err() != nil {
			break
		}
		log.Info("retrying category resolution", "try", try, "cause", ce.Cause)
	}
	out.Decision = res.Decision
	if err != nil {
		ce.Action = models.RemediationAction{Kind: models.ActionMarkPermanent}
		out.Attempts = p.orchestrator.Abort(targets, ce)
		out.Reason = err.Error()
		log.Warn("product not published", "cause", ce.Cause, "error", err)
		if errors.Is(err, llm.ErrFatalAPI) {
			return out, err
		}
		return out, nil
	}

	result := p.orchestrator.Run(ctx, publish.Request{
		Draft:       draft,
		Decision:    res.Decision,
		Schema:      res.Schema,
		Listing:     res.Listing(),
		Unsatisfied: res.Unsatisfied,
		Targets:     targets,
	})
	out.Attempts = result.Attempts
	out.Alternates = result.Alternates
	out.Reason = result.Reason

	p.metrics.RecordTiming("product", time.Since(start))
	log.Info("product processed",
		"status", out.Status(),
		"category_id", res.Decision.CategoryID,
		"alternates", len(out.Alternates),
		"duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// dimensionAttributes turns declared package dimensions into raw attributes
// the reconciler can map onto PACKAGE_* schema attributes. They are appended
// after the source's own attributes, which win on conflict.
func dimensionAttributes(d *models.Dimensions) []models.RawAttribute {
	if d == nil {
		return nil
	}
	var out []models.RawAttribute
	add := func(key string, v float64, unit string) {
		if v <= 0 {
			return
		}
		value := strconv.FormatFloat(v, 'f', -1, 64)
		if unit = strings.TrimSpace(unit); unit != "" {
			value += " " + unit
		}
		out = append(out, models.RawAttribute{Key: key, Value: value})
	}
	add("PACKAGE_LENGTH", d.Length, d.LengthUnit)
	add("PACKAGE_WIDTH", d.Width, d.LengthUnit)
	add("PACKAGE_HEIGHT", d.Height, d.LengthUnit)
	add("PACKAGE_WEIGHT", d.Weight, d.WeightUnit)
	return out
}
