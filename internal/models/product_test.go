package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nailPolishRecord = `{
  "source_id": "B0CYM126TT",
  "title": "LONDONTOWN lakur Nail Polish",
  "declared_type_hint": "NAIL_POLISH",
  "browse_path_hint": "Beauty > Makeup > Nails > Nail Polish",
  "raw_attributes": {"color": "pink", "brand": "LONDONTOWN", "marketplace_id": "ATVPDKIKX0DER"},
  "images": ["https://m.media-amazon.com/images/I/1.jpg"],
  "identifier_candidates": ["B0CYM126TT", "673419394130"],
  "dimensions": {"length": 10, "width": 3, "height": 3, "length_unit": "cm"}
}`

func TestDecodeSourceRecord(t *testing.T) {
	rec, err := DecodeSourceRecord(strings.NewReader(nailPolishRecord))
	require.NoError(t, err)

	draft := rec.Draft()
	assert.Equal(t, "B0CYM126TT", draft.SourceID)
	assert.Equal(t, "NAIL_POLISH", draft.DeclaredTypeHint)
	require.Len(t, draft.RawAttributes, 3)
	assert.Equal(t, "brand", draft.RawAttributes[0].Key, "keys sorted")
	assert.Equal(t, []string{"B0CYM126TT", "673419394130"}, draft.Identifiers)
	require.NotNil(t, draft.Dimensions)
	assert.Equal(t, 10.0, draft.Dimensions.Length)
}

func TestDecodeSourceRecordValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing title", `{"source_id": "B01"}`},
		{"missing source id", `{"title": "x"}`},
		{"bad image url", `{"source_id": "B01", "title": "x", "images": ["not a url"]}`},
		{"negative dimension", `{"source_id": "B01", "title": "x", "dimensions": {"weight": -1}}`},
		{"not json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSourceRecord([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}
