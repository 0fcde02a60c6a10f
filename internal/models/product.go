package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Dimensions are the package dimensions declared by the source record.
type Dimensions struct {
	Length     float64 `json:"length,omitempty" validate:"gte=0"`
	Width      float64 `json:"width,omitempty" validate:"gte=0"`
	Height     float64 `json:"height,omitempty" validate:"gte=0"`
	LengthUnit string  `json:"length_unit,omitempty"`
	Weight     float64 `json:"weight,omitempty" validate:"gte=0"`
	WeightUnit string  `json:"weight_unit,omitempty"`
}

// SourceRecord is the product record handed over by the source-data fetcher.
type SourceRecord struct {
	SourceID             string            `json:"source_id" validate:"required"`
	Title                string            `json:"title" validate:"required"`
	DeclaredTypeHint     string            `json:"declared_type_hint,omitempty"`
	BrowsePathHint       string            `json:"browse_path_hint,omitempty"`
	RawAttributes        map[string]string `json:"raw_attributes,omitempty"`
	Images               []string          `json:"images,omitempty" validate:"dive,url"`
	IdentifierCandidates []string          `json:"identifier_candidates,omitempty"`
	Dimensions           *Dimensions       `json:"dimensions,omitempty"`
}

// RawAttribute is one free-text key/value pair from the source. Keys are not
// unique across sources, so drafts carry a list rather than a map.
type RawAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ProductDraft is the pipeline's read-only view of a source product.
type ProductDraft struct {
	SourceID         string
	Title            string
	DeclaredTypeHint string
	BrowsePathHint   string
	RawAttributes    []RawAttribute
	Images           []string
	Identifiers      []string
	Dimensions       *Dimensions
}

// DecodeSourceRecord parses and validates one JSON source record.
func DecodeSourceRecord(r io.Reader) (*SourceRecord, error) {
	var rec SourceRecord
	dec := json.NewDecoder(r)
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode source record: %w", err)
	}
	if err := validate.Struct(rec); err != nil {
		return nil, fmt.Errorf("invalid source record %q: %w", rec.SourceID, err)
	}
	return &rec, nil
}

// ParseSourceRecord is DecodeSourceRecord over a byte slice.
func ParseSourceRecord(data []byte) (*SourceRecord, error) {
	return DecodeSourceRecord(bytes.NewReader(data))
}

// Draft converts the record into a ProductDraft. Raw attribute keys are
// sorted so reconciliation is deterministic.
func (r *SourceRecord) Draft() ProductDraft {
	keys := make([]string, 0, len(r.RawAttributes))
	for k := range r.RawAttributes {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	attrs := make([]RawAttribute, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, RawAttribute{Key: k, Value: r.RawAttributes[k]})
	}

	return ProductDraft{
		SourceID:         strings.TrimSpace(r.SourceID),
		Title:            strings.TrimSpace(r.Title),
		DeclaredTypeHint: strings.TrimSpace(r.DeclaredTypeHint),
		BrowsePathHint:   strings.TrimSpace(r.BrowsePathHint),
		RawAttributes:    attrs,
		Images:           slices.Clone(r.Images),
		Identifiers:      slices.Clone(r.IdentifierCandidates),
		Dimensions:       r.Dimensions,
	}
}
