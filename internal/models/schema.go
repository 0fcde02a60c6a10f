package models

import (
	"slices"
	"strings"
)

// ValueType is the value shape an attribute accepts.
type ValueType string

const (
	ValueFreeText       ValueType = "free_text"
	ValueEnumerated     ValueType = "enumerated"
	ValueNumberWithUnit ValueType = "number_with_unit"
)

// AttributeOption is one allowed value of an enumerated attribute.
type AttributeOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AttributeSpec describes one attribute of a category schema.
type AttributeSpec struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Required  bool              `json:"required"`
	Critical  bool              `json:"critical"` // brand- or category-defining
	ValueType ValueType         `json:"value_type"`
	Values    []AttributeOption `json:"values,omitempty"`
	Units     []string          `json:"units,omitempty"`
	// DefaultUnit is the canonical unit string values are reformatted to.
	DefaultUnit string `json:"default_unit,omitempty"`
}

// AllowedValues returns the enumerated value names as a set.
func (s AttributeSpec) AllowedValues() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Values))
	for _, v := range s.Values {
		set[v.Name] = struct{}{}
	}
	return set
}

// MatchValue finds the allowed value equal to raw, first exactly and then
// case-insensitively, against both value names and value ids.
func (s AttributeSpec) MatchValue(raw string) (AttributeOption, bool) {
	raw = strings.TrimSpace(raw)
	for _, v := range s.Values {
		if v.Name == raw || v.ID == raw {
			return v, true
		}
	}
	for _, v := range s.Values {
		if strings.EqualFold(v.Name, raw) || strings.EqualFold(v.ID, raw) {
			return v, true
		}
	}
	return AttributeOption{}, false
}

// AttributeSchema is the attribute set a category mandates. Schemas are
// replaced whole on refetch and never mutated in place.
type AttributeSchema struct {
	CategoryID string                   `json:"category_id"`
	Attributes map[string]AttributeSpec `json:"attributes"`
}

// Lookup finds an attribute by id, falling back to the normalized form of
// key and then to a normalized name match.
func (s *AttributeSchema) Lookup(key string) (AttributeSpec, bool) {
	if s == nil {
		return AttributeSpec{}, false
	}
	if spec, ok := s.Attributes[key]; ok {
		return spec, true
	}
	norm := NormalizeKey(key)
	if norm == "" {
		return AttributeSpec{}, false
	}
	if spec, ok := s.Attributes[norm]; ok {
		return spec, true
	}
	for _, spec := range s.Attributes {
		if NormalizeKey(spec.Name) == norm {
			return spec, true
		}
	}
	return AttributeSpec{}, false
}

// Required returns the ids of required attributes, sorted.
func (s *AttributeSchema) Required() []string {
	if s == nil {
		return nil
	}
	var ids []string
	for id, spec := range s.Attributes {
		if spec.Required {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}
