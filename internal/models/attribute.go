package models

import (
	"slices"
	"strconv"
)

// AttributeValue is a schema-valid attribute value. Exactly the fields that
// belong to Kind are set; values are only built by the reconciler.
type AttributeValue struct {
	Kind    ValueType `json:"kind"`
	Text    string    `json:"text,omitempty"`     // free text, or the enumerated value name
	ValueID string    `json:"value_id,omitempty"` // enumerated only
	Number  float64   `json:"number,omitempty"`   // number_with_unit only
	Unit    string    `json:"unit,omitempty"`     // number_with_unit only
}

// FreeTextValue builds a free-text value.
func FreeTextValue(s string) AttributeValue {
	return AttributeValue{Kind: ValueFreeText, Text: s}
}

// EnumeratedValue builds an enumerated value from a schema option.
func EnumeratedValue(opt AttributeOption) AttributeValue {
	return AttributeValue{Kind: ValueEnumerated, Text: opt.Name, ValueID: opt.ID}
}

// NumberValue builds a number_with_unit value.
func NumberValue(n float64, unit string) AttributeValue {
	return AttributeValue{Kind: ValueNumberWithUnit, Number: n, Unit: unit}
}

// String renders the value the way the marketplace expects it as text.
func (v AttributeValue) String() string {
	switch v.Kind {
	case ValueNumberWithUnit:
		return strconv.FormatFloat(v.Number, 'f', -1, 64) + " " + v.Unit
	default:
		return v.Text
	}
}

// ReconciledAttribute pairs a schema attribute id with its value.
type ReconciledAttribute struct {
	ID    string         `json:"id"`
	Value AttributeValue `json:"value"`
}

// DroppedAttribute records a raw attribute that did not survive reconciliation.
type DroppedAttribute struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// ReconciledAttributes is the schema-valid attribute set for one category.
type ReconciledAttributes struct {
	CategoryID          string                `json:"category_id"`
	Attributes          []ReconciledAttribute `json:"attributes"`
	UnsatisfiedRequired []string              `json:"unsatisfied_required,omitempty"`
	Dropped             []DroppedAttribute    `json:"dropped,omitempty"`
}

// Get returns the value for an attribute id.
func (r ReconciledAttributes) Get(id string) (AttributeValue, bool) {
	for _, a := range r.Attributes {
		if a.ID == id {
			return a.Value, true
		}
	}
	return AttributeValue{}, false
}

// AsRaw renders the reconciled set back into raw key/value form, keyed by
// attribute id. Reconciling the result against the same schema yields the
// same attributes.
func (r ReconciledAttributes) AsRaw() []RawAttribute {
	raw := make([]RawAttribute, 0, len(r.Attributes))
	for _, a := range r.Attributes {
		raw = append(raw, RawAttribute{Key: a.ID, Value: a.Value.String()})
	}
	return raw
}

// Clone returns a deep copy.
func (r ReconciledAttributes) Clone() ReconciledAttributes {
	return ReconciledAttributes{
		CategoryID:          r.CategoryID,
		Attributes:          slices.Clone(r.Attributes),
		UnsatisfiedRequired: slices.Clone(r.UnsatisfiedRequired),
		Dropped:             slices.Clone(r.Dropped),
	}
}
