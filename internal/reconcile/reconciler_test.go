package reconcile

import (
	"errors"
	"testing"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *models.AttributeSchema {
	return &models.AttributeSchema{
		CategoryID: "CBT388015",
		Attributes: map[string]models.AttributeSpec{
			"BRAND": {ID: "BRAND", Name: "Brand", Required: true, Critical: true, ValueType: models.ValueFreeText},
			"COLOR": {ID: "COLOR", Name: "Color", ValueType: models.ValueEnumerated, Values: []models.AttributeOption{
				{ID: "52049", Name: "Black"},
				{ID: "51994", Name: "Pink"},
			}},
			"FINISH": {ID: "FINISH", Name: "Finish", Required: true, ValueType: models.ValueEnumerated, Values: []models.AttributeOption{
				{ID: "1", Name: "Glossy"},
				{ID: "2", Name: "Matte"},
			}},
			"VOLUME": {ID: "VOLUME", Name: "Volume", ValueType: models.ValueNumberWithUnit, Units: []string{"ml", "fl oz"}, DefaultUnit: "ml"},
			"LENGTH": {ID: "LENGTH", Name: "Package length", ValueType: models.ValueNumberWithUnit, Units: []string{"cm", "mm"}},
		},
	}
}

func raw(kv ...string) []models.RawAttribute {
	out := make([]models.RawAttribute, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, models.RawAttribute{Key: kv[i], Value: kv[i+1]})
	}
	return out
}

func TestReconcileKeepsValidKeyCorrectlyCased(t *testing.T) {
	r := New(nil, nil)
	res := r.Reconcile(raw("unit_count_type", "Fl Oz", "color", "pINK"), testSchema())

	require.Len(t, res.Attributes, 1)
	assert.Equal(t, "COLOR", res.Attributes[0].ID)
	assert.Equal(t, "Pink", res.Attributes[0].Value.Text)
	assert.Equal(t, "51994", res.Attributes[0].Value.ValueID)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, ReasonUnknown, res.Dropped[0].Reason)
}

func TestReconcileRules(t *testing.T) {
	tests := []struct {
		name    string
		raw     []models.RawAttribute
		wantID  string
		want    models.AttributeValue
		dropped string
	}{
		{"free text trimmed", raw("Brand", "  LONDONTOWN "), "BRAND", models.FreeTextValue("LONDONTOWN"), ""},
		{"enumerated by id", raw("COLOR", "52049"), "COLOR", models.EnumeratedValue(models.AttributeOption{ID: "52049", Name: "Black"}), ""},
		{"enumerated miss dropped", raw("color", "chartreuse"), "", models.AttributeValue{}, ReasonNotAllowed},
		{"number to default unit", raw("volume", "0.4 fl oz"), "VOLUME", models.NumberValue(11.829, "ml"), ""},
		{"comma decimal", raw("volume", "12,5 ml"), "VOLUME", models.NumberValue(12.5, "ml"), ""},
		{"allowed unit kept", raw("package length", "15 mm"), "LENGTH", models.NumberValue(15, "mm"), ""},
		{"unit alias matched", raw("package length", "2 Centimeters"), "LENGTH", models.NumberValue(2, "cm"), ""},
		{"number without unit dropped", raw("volume", "12"), "", models.AttributeValue{}, ReasonBadMeasure},
		{"unit without number dropped", raw("volume", "ml"), "", models.AttributeValue{}, ReasonBadMeasure},
		{"incompatible unit dropped", raw("volume", "3 kg"), "", models.AttributeValue{}, ReasonUnitMismatch},
		{"empty dropped", raw("brand", "  "), "", models.AttributeValue{}, ReasonEmpty},
		{"denylisted dropped", raw("marketplace_id", "ATVPDKIKX0DER"), "", models.AttributeValue{}, ReasonDenylisted},
		{"locale tag dropped", raw("language_tag", "en_US"), "", models.AttributeValue{}, ReasonDenylisted},
	}

	r := New(nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Reconcile(tt.raw, testSchema())
			if tt.dropped != "" {
				assert.Empty(t, res.Attributes)
				require.Len(t, res.Dropped, 1)
				assert.Equal(t, tt.dropped, res.Dropped[0].Reason)
				return
			}
			got, ok := res.Get(tt.wantID)
			require.True(t, ok, "attribute %s missing; dropped=%v", tt.wantID, res.Dropped)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcileDuplicateKeysFirstWins(t *testing.T) {
	r := New(nil, nil)
	res := r.Reconcile(raw("color", "teal", "Color", "black", "COLOR", "pink"), testSchema())

	v, ok := res.Get("COLOR")
	require.True(t, ok)
	assert.Equal(t, "Black", v.Text, "first surviving value wins")
	assert.Len(t, res.Dropped, 2)
}

func TestReconcileUnsatisfiedRequired(t *testing.T) {
	r := New(nil, nil)
	sc := testSchema()
	res := r.Reconcile(raw("color", "pink"), sc)
	assert.Equal(t, []string{"BRAND", "FINISH"}, res.UnsatisfiedRequired)

	err := Unsatisfied(res, sc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsatisfiedRequired))
	var ue *UnsatisfiedRequiredError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, []string{"BRAND"}, ue.Critical)
	assert.True(t, ue.HasCritical())

	full := r.Reconcile(raw("brand", "Acme", "finish", "matte"), sc)
	assert.NoError(t, Unsatisfied(full, sc))
}

func TestReconcileIsIdempotent(t *testing.T) {
	r := New(nil, nil)
	sc := testSchema()
	first := r.Reconcile(raw(
		"brand", "LONDONTOWN",
		"color", "pink",
		"finish", "GLOSSY",
		"volume", "0.4 fl. oz.",
		"package length", "10 in",
		"marketplace_id", "X",
		"style", "classic",
	), sc)
	require.Len(t, first.Attributes, 5)

	second := r.Reconcile(first.AsRaw(), sc)
	assert.Equal(t, first.Attributes, second.Attributes)
	assert.Equal(t, first.UnsatisfiedRequired, second.UnsatisfiedRequired)
	assert.Empty(t, second.Dropped)
}

func TestReconcileDoesNotMutateInput(t *testing.T) {
	r := New(nil, nil)
	in := raw("color", " pink ")
	_ = r.Reconcile(in, testSchema())
	assert.Equal(t, " pink ", in[0].Value)
}

func TestExtraDenylist(t *testing.T) {
	r := New([]string{"Brand"}, nil)
	res := r.Reconcile(raw("brand", "Acme"), testSchema())
	assert.Empty(t, res.Attributes)
	assert.Contains(t, res.UnsatisfiedRequired, "BRAND")
}

func TestValidIdentifiers(t *testing.T) {
	tests := []struct {
		name     string
		in       []string
		sourceID string
		want     []string
	}{
		{"source id and upc", []string{"B0CYM126TT", "673419394130"}, "B0CYM126TT", []string{"673419394130"}},
		{"numeric source id rejected", []string{"673419394130"}, "673419394130", nil},
		{"lengths", []string{"12345678901", "123456789012", "1234567890123", "12345678901234", "123456789012345"}, "", []string{"123456789012", "1234567890123", "12345678901234"}},
		{"non digits", []string{"12345678901a", "1234-5678-9012", "１２３４５６７８９０１２"}, "", nil},
		{"trimmed and deduped", []string{" 673419394130", "673419394130 "}, "", []string{"673419394130"}},
		{"empty", nil, "X", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidIdentifiers(tt.in, tt.sourceID))
		})
	}
}

func TestParseMeasure(t *testing.T) {
	n, u, ok := parseMeasure(" 12.5 cm ")
	require.True(t, ok)
	assert.Equal(t, 12.5, n)
	assert.Equal(t, "cm", u)

	_, _, ok = parseMeasure("about 12 cm")
	assert.False(t, ok)
}

func TestConvert(t *testing.T) {
	v, ok := convert(1, "kg", "g")
	require.True(t, ok)
	assert.Equal(t, 1000.0, v)

	v, ok = convert(10, "in", "cm")
	require.True(t, ok)
	assert.Equal(t, 25.4, v)

	_, ok = convert(1, "kg", "cm")
	assert.False(t, ok)

	v, ok = convert(3, "widgets", "Widgets")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}
