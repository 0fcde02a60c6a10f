package marketplace

import (
	"github.com/raphaelgruber/catalogbridge/internal/models"
)

type wireValue struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireTags struct {
	Required         bool `json:"required,omitempty"`
	CatalogRequired  bool `json:"catalog_required,omitempty"`
	CategoryDefining bool `json:"category_defining,omitempty"`
}

// wireAttribute is one entry of GET /categories/{id}/attributes.
type wireAttribute struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Tags         wireTags    `json:"tags"`
	ValueType    string      `json:"value_type"`
	Values       []wireValue `json:"values,omitempty"`
	AllowedUnits []wireValue `json:"allowed_units,omitempty"`
	DefaultUnit  string      `json:"default_unit,omitempty"`
}

func valueType(wt string, hasValues bool) models.ValueType {
	switch wt {
	case "list", "boolean":
		return models.ValueEnumerated
	case "number_unit":
		return models.ValueNumberWithUnit
	case "":
		if hasValues {
			return models.ValueEnumerated
		}
	}
	return models.ValueFreeText
}

func schemaFromWire(categoryID string, attrs []wireAttribute) *models.AttributeSchema {
	sc := &models.AttributeSchema{
		CategoryID: categoryID,
		Attributes: make(map[string]models.AttributeSpec, len(attrs)),
	}
	for _, a := range attrs {
		if a.ID == "" {
			continue
		}
		spec := models.AttributeSpec{
			ID:          a.ID,
			Name:        a.Name,
			Required:    a.Tags.Required || a.Tags.CatalogRequired,
			Critical:    a.Tags.CategoryDefining,
			ValueType:   valueType(a.ValueType, len(a.Values) > 0),
			DefaultUnit: a.DefaultUnit,
		}
		for _, v := range a.Values {
			spec.Values = append(spec.Values, models.AttributeOption{ID: v.ID, Name: v.Name})
		}
		for _, u := range a.AllowedUnits {
			unit := u.Name
			if unit == "" {
				unit = u.ID
			}
			spec.Units = append(spec.Units, unit)
		}
		sc.Attributes[a.ID] = spec
	}
	return sc
}

type wireListingAttribute struct {
	ID        string `json:"id"`
	ValueID   string `json:"value_id,omitempty"`
	ValueName string `json:"value_name"`
}

// wireListing is the POST /listings body.
type wireListing struct {
	CategoryID  string                 `json:"category_id"`
	Attributes  []wireListingAttribute `json:"attributes"`
	Identifiers []string               `json:"identifiers"`
	Targets     []models.Target        `json:"targets"`
}

type publishResponse struct {
	Results []models.TargetResult `json:"results"`
}

func toWireListing(req models.ListingRequest) wireListing {
	out := wireListing{
		CategoryID:  req.CategoryID,
		Attributes:  make([]wireListingAttribute, 0, len(req.Attributes)),
		Identifiers: req.Identifiers,
		Targets:     req.Targets,
	}
	if out.Identifiers == nil {
		out.Identifiers = []string{}
	}
	for _, a := range req.Attributes {
		out.Attributes = append(out.Attributes, wireListingAttribute{
			ID:        a.ID,
			ValueID:   a.Value.ValueID,
			ValueName: a.Value.String(),
		})
	}
	return out
}
