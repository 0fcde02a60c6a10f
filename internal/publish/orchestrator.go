// Package publish drives the per-target publish state machines of one product.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/metrics"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/reconcile"
)

// DefaultMaxAttempts bounds entries into Attempting per target.
const DefaultMaxAttempts = 3

var errNoRemediator = errors.New("no category remediator configured")

// Publisher submits a listing for a set of targets.
type Publisher interface {
	Publish(ctx context.Context, req models.ListingRequest) ([]models.TargetResult, error)
}

// Classifier decides the remediation for every failure. The orchestrator
// only applies what it prescribes.
type Classifier interface {
	Classify(target models.Target, perr models.PublishError, sc *models.AttributeSchema) models.ClassifiedError
	ClassifyCallError(err error) models.ClassifiedError
	ClassifyResolutionError(err error) models.ClassifiedError
}

// Alternate is a product re-resolved into another category.
type Alternate struct {
	Decision models.CategoryDecision
	Schema   *models.AttributeSchema
	Listing  models.Listing
}

// CategoryRemediator re-resolves a product with some categories excluded.
type CategoryRemediator interface {
	AlternateListing(ctx context.Context, draft models.ProductDraft, exclude []string) (Alternate, error)
}

// Request is everything needed to publish one product.
type Request struct {
	Draft    models.ProductDraft
	Decision models.CategoryDecision
	Schema   *models.AttributeSchema
	Listing  models.Listing
	// Unsatisfied is the result of reconcile.Unsatisfied for Listing, or nil.
	Unsatisfied error
	Targets     []models.Target
}

// Result holds one terminal attempt per target.
type Result struct {
	Attempts   []models.PublishAttempt
	Alternates []models.CategoryDecision
	// Reason is set when every target failed for one product-wide cause.
	Reason string
}

// Options configures an Orchestrator.
type Options struct {
	MaxAttempts int
	Metrics     *metrics.Collector
	Logger      *slog.Logger
}

// Orchestrator runs publish state machines.
type Orchestrator struct {
	publisher   Publisher
	classifier  Classifier
	remediator  CategoryRemediator
	maxAttempts int
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// New creates an Orchestrator. remediator may be nil, in which case
// RequestAlternateCategory fails the target.
func New(p Publisher, c Classifier, r CategoryRemediator, opts Options) *Orchestrator {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		publisher:   p,
		classifier:  c,
		remediator:  r,
		maxAttempts: opts.MaxAttempts,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
}

// MaxAttempts returns the per-target attempt bound.
func (o *Orchestrator) MaxAttempts() int { return o.maxAttempts }

type targetRun struct {
	attempt  models.PublishAttempt
	listing  models.Listing
	schema   *models.AttributeSchema
	excluded []string
	stripped bool
	// pendingSwitch is the publish error whose category switch failed
	// transiently; the switch is retried before the next submission.
	pendingSwitch *models.ClassifiedError
}

type hop struct {
	alt     Alternate
	failure *models.ClassifiedError
}

// run is the state of one Run call.
type run struct {
	req     Request
	targets []*targetRun
	hops    map[string]hop
	result  Result
}

// Run publishes req to every target and returns once each target has reached
// a terminal state. It never returns an error: every failure is recorded on
// the target it belongs to.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	r := &run{req: req, hops: make(map[string]hop)}

	base, sc := req.Listing, req.Schema
	excluded := []string{req.Decision.CategoryID}

	var ure *reconcile.UnsatisfiedRequiredError
	if errors.As(req.Unsatisfied, &ure) && ure.HasCritical() {
		o.logger.Info("critical required attributes missing, requesting alternate category",
			"source_id", req.Draft.SourceID,
			"category_id", req.Decision.CategoryID,
			"missing", ure.Critical)
		o.metrics.RecordRemediation(string(models.ActionRequestAlternateCategory))
		alt, failure := o.alternate(ctx, r, excluded)
		for try := 1; failure != nil && failure.Action.Kind == models.ActionRetry && try < o.maxAttempts && ctx.Err() == nil; try++ {
			alt, failure = o.alternate(ctx, r, excluded)
		}
		if failure != nil {
			ce := *failure
			ce.Action = models.RemediationAction{Kind: models.ActionMarkPermanent}
			r.result.Attempts = o.Abort(req.Targets, ce)
			r.result.Reason = ce.Error()
			return r.result
		}
		base, sc = alt.Listing, alt.Schema
		excluded = append(excluded, alt.Decision.CategoryID)
	}

	for _, t := range req.Targets {
		r.targets = append(r.targets, &targetRun{
			attempt:  models.NewPublishAttempt(t),
			listing:  base.Clone(),
			schema:   sc,
			excluded: slices.Clone(excluded),
		})
	}

	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			ce := o.classifier.ClassifyCallError(err)
			ce.Action = models.RemediationAction{Kind: models.ActionMarkPermanent}
			for _, t := range r.targets {
				if !t.attempt.State.IsTerminal() {
					o.fail(t, ce)
				}
			}
			break
		}

		var attempting []*targetRun
		for _, t := range r.targets {
			if t.attempt.State.IsTerminal() {
				continue
			}
			if err := t.attempt.Transition(models.StateAttempting, o.maxAttempts); err != nil {
				o.fail(t, exhausted(t.attempt, o.maxAttempts))
				continue
			}
			if t.pendingSwitch != nil && !o.resumeSwitch(ctx, r, t) {
				continue
			}
			attempting = append(attempting, t)
		}
		if len(attempting) == 0 {
			break
		}

		for _, group := range groupByPayload(attempting) {
			o.submit(ctx, r, group, round)
		}
	}

	for _, t := range r.targets {
		r.result.Attempts = append(r.result.Attempts, t.attempt)
	}
	return r.result
}

// Abort marks every target permanently failed before any attempt, for
// product-wide failures.
func (o *Orchestrator) Abort(targets []models.Target, ce models.ClassifiedError) []models.PublishAttempt {
	attempts := make([]models.PublishAttempt, 0, len(targets))
	for _, t := range targets {
		tr := &targetRun{attempt: models.NewPublishAttempt(t)}
		o.fail(tr, ce)
		attempts = append(attempts, tr.attempt)
	}
	return attempts
}

// groupByPayload batches targets whose listings are identical, preserving
// target order.
func groupByPayload(runs []*targetRun) [][]*targetRun {
	index := make(map[string]int)
	var groups [][]*targetRun
	for _, t := range runs {
		fp := t.listing.Fingerprint()
		i, ok := index[fp]
		if !ok {
			i = len(groups)
			index[fp] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], t)
	}
	return groups
}

func (o *Orchestrator) submit(ctx context.Context, r *run, group []*targetRun, round int) {
	req := models.ListingRequest{Listing: group[0].listing}
	for _, t := range group {
		req.Targets = append(req.Targets, t.attempt.Target)
	}
	o.logger.Debug("publishing",
		"source_id", r.req.Draft.SourceID,
		"category_id", req.CategoryID,
		"targets", len(req.Targets),
		"round", round)

	results, err := o.publisher.Publish(ctx, req)
	if err != nil {
		ce := o.classifier.ClassifyCallError(err)
		for _, t := range group {
			o.apply(ctx, r, t, ce)
		}
		return
	}

	byTarget := make(map[models.Target]models.TargetResult, len(results))
	for _, res := range results {
		byTarget[res.Target] = res
	}
	for _, t := range group {
		res, ok := byTarget[t.attempt.Target]
		switch {
		case !ok:
			o.apply(ctx, r, t, models.ClassifiedError{
				Cause:   models.CauseTransient,
				Message: "target missing from publish response",
				Action:  models.RemediationAction{Kind: models.ActionRetry},
			})
		case res.Error == nil:
			o.succeed(t, res.ItemID)
		default:
			o.apply(ctx, r, t, o.classifier.Classify(t.attempt.Target, *res.Error, t.schema))
		}
	}
}

// apply carries out the classified remediation for one target. A target
// with no attempts left fails before any remediation work is done.
func (o *Orchestrator) apply(ctx context.Context, r *run, t *targetRun, ce models.ClassifiedError) {
	t.attempt.LastError = &ce
	if ce.Action.Kind == models.ActionMarkPermanent {
		o.fail(t, ce)
		return
	}
	if t.attempt.AttemptCount >= o.maxAttempts {
		o.fail(t, exhausted(t.attempt, o.maxAttempts))
		return
	}
	o.metrics.RecordRemediation(string(ce.Action.Kind))

	switch ce.Action.Kind {
	case models.ActionRetry:
	case models.ActionStripIdentifier:
		l, changed := t.listing.WithoutIdentifiers()
		if !changed {
			o.fail(t, noop(ce))
			return
		}
		t.listing, t.stripped = l, true
	case models.ActionDropAttribute:
		l, changed := t.listing.WithoutAttribute(ce.Action.AttributeID)
		if !changed {
			o.fail(t, noop(ce))
			return
		}
		t.listing = l
	case models.ActionRequestAlternateCategory:
		if he := o.switchCategory(ctx, r, t, ce); he != nil {
			if he.Action.Kind != models.ActionRetry {
				o.fail(t, *he)
				return
			}
			t.pendingSwitch = &ce
			t.attempt.LastError = he
		}
	default:
		o.fail(t, ce)
		return
	}

	if err := t.attempt.Transition(models.StateRetryableFailure, o.maxAttempts); err != nil {
		o.logger.Error("state transition failed", "error", err)
	}
}

// switchCategory moves t onto an alternate category after ce asked for one.
// It returns the classified failure when no alternate could be had.
func (o *Orchestrator) switchCategory(ctx context.Context, r *run, t *targetRun, ce models.ClassifiedError) *models.ClassifiedError {
	exclude := t.excluded
	if !slices.Contains(exclude, t.listing.CategoryID) {
		exclude = append(slices.Clone(exclude), t.listing.CategoryID)
	}
	alt, failure := o.alternate(ctx, r, exclude)
	if failure != nil {
		he := *failure
		he.CauseCode, he.Field = ce.CauseCode, ce.Field
		return &he
	}
	l := alt.Listing.Clone()
	if t.stripped {
		l.Identifiers = nil
	}
	t.listing, t.schema = l, alt.Schema
	t.excluded = append(exclude, alt.Decision.CategoryID)
	return nil
}

// resumeSwitch retries a category switch that failed transiently on the
// previous attempt. It reports whether t is ready to be submitted.
func (o *Orchestrator) resumeSwitch(ctx context.Context, r *run, t *targetRun) bool {
	ce := *t.pendingSwitch
	t.pendingSwitch = nil
	he := o.switchCategory(ctx, r, t, ce)
	if he == nil {
		return true
	}

	t.attempt.LastError = he
	switch {
	case he.Action.Kind != models.ActionRetry:
		o.fail(t, *he)
	case t.attempt.AttemptCount >= o.maxAttempts:
		o.fail(t, exhausted(t.attempt, o.maxAttempts))
	default:
		t.pendingSwitch = &ce
		if err := t.attempt.Transition(models.StateRetryableFailure, o.maxAttempts); err != nil {
			o.logger.Error("state transition failed", "error", err)
		}
	}
	return false
}

// alternate asks the remediator for another category, at most once per
// distinct exclusion set within a Run. Failures worth retrying are not
// remembered.
func (o *Orchestrator) alternate(ctx context.Context, r *run, exclude []string) (Alternate, *models.ClassifiedError) {
	keyParts := slices.Clone(exclude)
	slices.Sort(keyParts)
	key := strings.Join(keyParts, "\x00")
	if h, ok := r.hops[key]; ok {
		return h.alt, h.failure
	}

	var (
		h   hop
		err error
	)
	if o.remediator == nil {
		err = errNoRemediator
	} else {
		h.alt, err = o.remediator.AlternateListing(ctx, r.req.Draft, exclude)
	}

	if err != nil {
		ce := o.hopError(err)
		h.failure = &ce
		if ce.Action.Kind != models.ActionRetry {
			r.hops[key] = h
		}
		o.logger.Warn("alternate category failed",
			"source_id", r.req.Draft.SourceID,
			"excluded", exclude,
			"cause", ce.Cause,
			"error", err)
		return Alternate{}, h.failure
	}

	r.hops[key] = h
	o.logger.Info("alternate category chosen",
		"source_id", r.req.Draft.SourceID,
		"category_id", h.alt.Decision.CategoryID,
		"path", strings.Join(h.alt.Decision.DisplayPath, " > "),
		"excluded", exclude)
	r.result.Alternates = append(r.result.Alternates, h.alt.Decision)
	return h.alt, nil
}

func (o *Orchestrator) succeed(t *targetRun, itemID string) {
	t.attempt.ItemID = itemID
	t.attempt.CategoryID = t.listing.CategoryID
	t.attempt.LastError = nil
	if err := t.attempt.Transition(models.StateSucceeded, o.maxAttempts); err != nil {
		o.logger.Error("state transition failed", "error", err)
	}
	o.record(t)
}

func (o *Orchestrator) fail(t *targetRun, ce models.ClassifiedError) {
	t.attempt.LastError = &ce
	t.attempt.CategoryID = t.listing.CategoryID
	if err := t.attempt.Transition(models.StatePermanentFailure, o.maxAttempts); err != nil {
		o.logger.Error("state transition failed", "error", err)
	}
	o.record(t)
}

func (o *Orchestrator) record(t *targetRun) {
	a := t.attempt
	o.metrics.RecordAttempt(a.Target.String(), string(a.State))
	attrs := []any{
		"target", a.Target.String(),
		"state", a.State,
		"attempts", a.AttemptCount,
		"category_id", a.CategoryID,
	}
	if a.ItemID != "" {
		attrs = append(attrs, "item_id", a.ItemID)
	}
	if a.LastError != nil {
		attrs = append(attrs, "cause", a.LastError.Cause)
	}
	o.logger.Info("target finished", attrs...)
}

// hopError classifies a failed alternate-category request.
func (o *Orchestrator) hopError(err error) models.ClassifiedError {
	if errors.Is(err, errNoRemediator) {
		return models.ClassifiedError{
			Cause:   models.CauseRemediationFailed,
			Message: err.Error(),
			Action:  models.RemediationAction{Kind: models.ActionMarkPermanent},
		}
	}
	return o.classifier.ClassifyResolutionError(err)
}

func noop(ce models.ClassifiedError) models.ClassifiedError {
	return models.ClassifiedError{
		CauseCode: ce.CauseCode,
		Cause:     models.CauseRemediationFailed,
		Field:     ce.Field,
		Message:   fmt.Sprintf("%s changed nothing: %s", ce.Action, ce.Message),
		Action:    models.RemediationAction{Kind: models.ActionMarkPermanent},
	}
}

func exhausted(a models.PublishAttempt, maxAttempts int) models.ClassifiedError {
	ce := models.ClassifiedError{
		Cause:   models.CauseExhausted,
		Message: fmt.Sprintf("gave up after %d attempts", maxAttempts),
		Action:  models.RemediationAction{Kind: models.ActionMarkPermanent},
	}
	if last := a.LastError; last != nil {
		ce.CauseCode = last.CauseCode
		ce.Field = last.Field
		ce.Message += ": " + last.Error()
	}
	return ce
}
