// Package classify maps marketplace publish failures to remediation actions.
//
// The cause-code table below is the single source of truth for remediation.
// Message text is logged but never inspected.
package classify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/raphaelgruber/catalogbridge/internal/gate"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/resolve"
	"github.com/raphaelgruber/catalogbridge/internal/schema"
)

// causeFamilies keys every known cause code to its family.
var causeFamilies = map[int]string{
	// Identifier already used by another listing.
	3701: models.CauseDuplicateIdentifier,
	3702: models.CauseDuplicateIdentifier,
	3704: models.CauseDuplicateIdentifier,

	// Attribute missing, malformed, or not allowed for the category.
	147:  models.CauseInvalidAttribute,
	148:  models.CauseInvalidAttribute,
	3510: models.CauseInvalidAttribute,
	3511: models.CauseInvalidAttribute,
	3512: models.CauseInvalidAttribute,

	// Category is not a leaf.
	102:  models.CauseNonLeafCategory,
	3401: models.CauseNonLeafCategory,

	// Seller configuration missing for one site.
	5001: models.CauseShippingMode,
	5002: models.CauseShippingMode,
	5101: models.CausePricingModel,
	5102: models.CausePricingModel,

	// Marketplace-side hiccups.
	1000: models.CauseTransient,
	1001: models.CauseTransient,
}

// criticalFields are attributes that define the category they belong to,
// whatever the schema says.
var criticalFields = map[string]bool{
	"BRAND": true,
}

// Family returns the cause family of a code, or CauseUnrecognized.
func Family(code int) string {
	if f, ok := causeFamilies[code]; ok {
		return f
	}
	return models.CauseUnrecognized
}

// Classifier turns publish failures into ClassifiedErrors.
type Classifier struct {
	logger *slog.Logger
}

// New creates a classifier.
func New(logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{logger: logger}
}

// Classify maps a per-target publish error to its remediation. sc is the
// schema the listing was built from; it decides whether a failing attribute
// is category-defining. sc may be nil.
func (c *Classifier) Classify(target models.Target, perr models.PublishError, sc *models.AttributeSchema) models.ClassifiedError {
	family := Family(perr.CauseCode)
	out := models.ClassifiedError{
		CauseCode: perr.CauseCode,
		Cause:     family,
		Field:     perr.Field,
		Message:   perr.Message,
		Action:    actionFor(family, perr.Field, sc),
	}
	c.logger.Info("publish failure classified",
		"target", target.String(),
		"cause_code", perr.CauseCode,
		"cause", family,
		"field", perr.Field,
		"action", out.Action.String(),
		"message", perr.Message)
	return out
}

// ClassifyCallError maps a failed publish call (no per-target response) to
// a remediation. Timeouts and transport faults are retried; anything else
// is permanent.
func (c *Classifier) ClassifyCallError(err error) models.ClassifiedError {
	out := models.ClassifiedError{Message: err.Error()}
	switch {
	case errors.Is(err, gate.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		out.Cause = models.CauseTimeout
		out.Action = models.RemediationAction{Kind: models.ActionRetry}
	case IsTransient(err):
		out.Cause = models.CauseTransient
		out.Action = models.RemediationAction{Kind: models.ActionRetry}
	default:
		out.Cause = models.CauseUnrecognized
		out.Action = models.RemediationAction{Kind: models.ActionMarkPermanent}
	}
	c.logger.Info("publish call failed", "cause", out.Cause, "action", out.Action.String(), "error", err)
	return out
}

// ClassifyResolutionError maps a failed category resolution, initial or
// alternate. Timeouts and transient provider failures are retried like any
// other call; everything else is terminal.
func (c *Classifier) ClassifyResolutionError(err error) models.ClassifiedError {
	out := models.ClassifiedError{
		Message: err.Error(),
		Action:  models.RemediationAction{Kind: models.ActionMarkPermanent},
	}
	switch {
	case errors.Is(err, gate.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		out.Cause = models.CauseTimeout
		out.Action = models.RemediationAction{Kind: models.ActionRetry}
	case errors.Is(err, resolve.ErrNoAcceptableCategory), errors.Is(err, resolve.ErrInvalidResponse):
		out.Cause = models.CauseNoCategory
	case errors.Is(err, schema.ErrSchemaUnavailable):
		out.Cause = models.CauseSchemaUnavailable
	case IsTransient(err):
		out.Cause = models.CauseTransient
		out.Action = models.RemediationAction{Kind: models.ActionRetry}
	default:
		out.Cause = models.CauseUnrecognized
	}
	c.logger.Info("category resolution failed", "cause", out.Cause, "action", out.Action.String(), "error", err)
	return out
}

// Transient is implemented by errors that are worth retrying unchanged.
type Transient interface {
	Transient() bool
}

// IsTransient reports whether err, or an error it wraps, says it is
// transient. Rate limiting that outlasted the gate's own retries counts.
func IsTransient(err error) bool {
	if errors.Is(err, gate.ErrRateLimited) {
		return true
	}
	var t Transient
	return errors.As(err, &t) && t.Transient()
}

func actionFor(family, field string, sc *models.AttributeSchema) models.RemediationAction {
	switch family {
	case models.CauseDuplicateIdentifier:
		return models.RemediationAction{Kind: models.ActionStripIdentifier}
	case models.CauseInvalidAttribute:
		if field == "" || isCritical(field, sc) {
			return models.RemediationAction{Kind: models.ActionRequestAlternateCategory}
		}
		return models.RemediationAction{Kind: models.ActionDropAttribute, AttributeID: attributeID(field, sc)}
	case models.CauseNonLeafCategory:
		return models.RemediationAction{Kind: models.ActionRequestAlternateCategory}
	case models.CauseTransient:
		return models.RemediationAction{Kind: models.ActionRetry}
	default:
		// shipping mode, pricing model, and unrecognized codes
		return models.RemediationAction{Kind: models.ActionMarkPermanent}
	}
}

func isCritical(field string, sc *models.AttributeSchema) bool {
	if criticalFields[models.NormalizeKey(field)] {
		return true
	}
	spec, ok := sc.Lookup(field)
	return ok && spec.Critical
}

func attributeID(field string, sc *models.AttributeSchema) string {
	if spec, ok := sc.Lookup(field); ok {
		return spec.ID
	}
	return models.NormalizeKey(field)
}
