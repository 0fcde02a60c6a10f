// Package reconcile maps a product's free-form attributes onto a category
// schema and validates trade identifiers.
package reconcile

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/models"
)

// Drop reasons recorded on DroppedAttribute.
const (
	ReasonDenylisted    = "denylisted"
	ReasonUnknown       = "unknown_attribute"
	ReasonDuplicate     = "duplicate_key"
	ReasonEmpty         = "empty_value"
	ReasonNotAllowed    = "value_not_allowed"
	ReasonBadMeasure    = "missing_number_or_unit"
	ReasonUnitMismatch  = "incompatible_unit"
	ReasonUnknownFormat = "unknown_value_type"
)

// defaultDenylist holds synthetic source keys that are never listing
// attributes, in NormalizeKey form.
var defaultDenylist = []string{
	"LANGUAGE_TAG",
	"LOCALE",
	"LANGUAGE",
	"MARKETPLACE_ID",
	"MARKETPLACE",
	"SOURCE_MARKETPLACE",
	"ASIN",
	"ITEM_DIMENSIONS",
	"ITEM_PACKAGE_DIMENSIONS",
	"PACKAGE_DIMENSIONS",
	"ITEM_PACKAGE_WEIGHT",
	"ITEM_DIMENSIONS_LENGTH",
	"ITEM_DIMENSIONS_WIDTH",
	"ITEM_DIMENSIONS_HEIGHT",
}

// Reconciler produces schema-valid attribute sets. It holds no mutable
// state and is safe for concurrent use.
type Reconciler struct {
	denylist map[string]bool
	logger   *slog.Logger
}

// New creates a reconciler. extraDenylist keys are added to the built-in
// denylist.
func New(extraDenylist []string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	deny := make(map[string]bool, len(defaultDenylist)+len(extraDenylist))
	for _, k := range defaultDenylist {
		deny[k] = true
	}
	for _, k := range extraDenylist {
		if nk := models.NormalizeKey(k); nk != "" {
			deny[nk] = true
		}
	}
	return &Reconciler{denylist: deny, logger: logger}
}

// Reconcile maps raw attributes onto sc. Attributes are processed in input
// order; when two raw keys resolve to the same attribute the first valid
// value wins. Required attributes with no surviving value are listed in
// UnsatisfiedRequired. The input is never modified.
//
// Reconciling the AsRaw form of a result against the same schema yields
// the same attributes.
func (r *Reconciler) Reconcile(raw []models.RawAttribute, sc *models.AttributeSchema) models.ReconciledAttributes {
	out := models.ReconciledAttributes{CategoryID: sc.CategoryID}
	have := make(map[string]bool)

	drop := func(key, reason string) {
		out.Dropped = append(out.Dropped, models.DroppedAttribute{Key: key, Reason: reason})
	}

	for _, a := range raw {
		if r.denylist[models.NormalizeKey(a.Key)] {
			drop(a.Key, ReasonDenylisted)
			continue
		}
		spec, ok := sc.Lookup(a.Key)
		if !ok {
			drop(a.Key, ReasonUnknown)
			continue
		}
		if have[spec.ID] {
			drop(a.Key, ReasonDuplicate)
			continue
		}

		value, reason := resolveValue(spec, a.Value)
		if reason != "" {
			drop(a.Key, reason)
			continue
		}
		have[spec.ID] = true
		out.Attributes = append(out.Attributes, models.ReconciledAttribute{ID: spec.ID, Value: value})
	}

	for _, id := range sc.Required() {
		if !have[id] {
			out.UnsatisfiedRequired = append(out.UnsatisfiedRequired, id)
		}
	}

	if len(out.Dropped) > 0 || len(out.UnsatisfiedRequired) > 0 {
		r.logger.Debug("attributes reconciled",
			"category_id", sc.CategoryID,
			"kept", len(out.Attributes),
			"dropped", len(out.Dropped),
			"unsatisfied_required", out.UnsatisfiedRequired)
	}
	return out
}

// Unsatisfied returns an *UnsatisfiedRequiredError for res, or nil when every
// required attribute has a value.
func Unsatisfied(res models.ReconciledAttributes, sc *models.AttributeSchema) error {
	if len(res.UnsatisfiedRequired) == 0 {
		return nil
	}
	e := &UnsatisfiedRequiredError{
		CategoryID: res.CategoryID,
		IDs:        slices.Clone(res.UnsatisfiedRequired),
	}
	for _, id := range res.UnsatisfiedRequired {
		if spec, ok := sc.Attributes[id]; ok && spec.Critical {
			e.Critical = append(e.Critical, id)
		}
	}
	return e
}

func resolveValue(spec models.AttributeSpec, raw string) (models.AttributeValue, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return models.AttributeValue{}, ReasonEmpty
	}

	switch spec.ValueType {
	case models.ValueEnumerated:
		opt, ok := spec.MatchValue(raw)
		if !ok {
			return models.AttributeValue{}, ReasonNotAllowed
		}
		return models.EnumeratedValue(opt), ""

	case models.ValueNumberWithUnit:
		n, unit, ok := parseMeasure(raw)
		if !ok {
			return models.AttributeValue{}, ReasonBadMeasure
		}
		target := canonicalUnit(spec, unit)
		if target == "" {
			return models.AttributeValue{}, ReasonUnitMismatch
		}
		converted, ok := convert(n, unit, target)
		if !ok {
			return models.AttributeValue{}, ReasonUnitMismatch
		}
		return models.NumberValue(converted, target), ""

	case models.ValueFreeText, "":
		return models.FreeTextValue(raw), ""

	default:
		return models.AttributeValue{}, ReasonUnknownFormat
	}
}

// canonicalUnit picks the unit a value is reformatted to: the schema default
// when set, otherwise the allowed unit matching the value's unit, otherwise
// the first allowed unit. A schema without units accepts known units as
// spelled in the unit table.
func canonicalUnit(spec models.AttributeSpec, unit string) string {
	if spec.DefaultUnit != "" {
		return spec.DefaultUnit
	}
	for _, u := range spec.Units {
		if unitKey(u) == unitKey(unit) {
			return u
		}
	}
	if len(spec.Units) > 0 {
		return spec.Units[0]
	}
	if _, ok := units[unitKey(unit)]; ok {
		return unitKey(unit)
	}
	return ""
}
