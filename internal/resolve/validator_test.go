package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedModel struct {
	responses []string
	err       error
	prompts   []string
}

func (m *scriptedModel) GenerateWithSystem(_ context.Context, _, user string) (string, error) {
	m.prompts = append(m.prompts, user)
	if m.err != nil {
		return "", m.err
	}
	if len(m.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	r := m.responses[0]
	m.responses = m.responses[1:]
	return r, nil
}

func cand(id string, sim float64, path ...string) models.Candidate {
	return models.Candidate{
		Node:       models.CategoryNode{ID: id, DisplayPath: path, IsLeaf: true},
		Similarity: sim,
	}
}

var nailCandidates = []models.Candidate{
	cand("CBT1001", 0.91, "Beauty", "Nails", "Nails Polish Trolleys"),
	cand("CBT1002", 0.89, "Beauty", "Nails", "Nail Polishes"),
	cand("CBT1003", 0.80, "Beauty", "Nails", "Nail Files"),
}

func TestValidateRejectsAccessoryCategoryAndRetries(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"category_id": "CBT1001", "confidence": 0.8, "reasoning": "nail polish"}`,
		"```json\n{\"category_id\": \"CBT1002\", \"confidence\": 0.95, \"reasoning\": \"it is a nail lacquer\"}\n```",
	}}
	v := New(model, nil, nil)
	draft := models.ProductDraft{
		SourceID:         "B07XYZ",
		Title:            "LONDONTOWN Lakur Nail Polish, Sweet Pea, 0.4 fl oz",
		DeclaredTypeHint: "BEAUTY",
		BrowsePathHint:   "Beauty > Makeup > Nails",
	}

	d, err := v.Validate(context.Background(), draft, nailCandidates)
	require.NoError(t, err)

	assert.Equal(t, "CBT1002", d.CategoryID)
	assert.Equal(t, 0.95, d.Confidence)
	require.Len(t, d.RejectedCandidates, 1)
	assert.Equal(t, "CBT1001", d.RejectedCandidates[0].CategoryID)
	assert.Equal(t, "accessory_vocabulary:trolley", d.RejectedCandidates[0].Reason)

	require.Len(t, model.prompts, 2)
	assert.Contains(t, model.prompts[0], "CBT1001")
	assert.NotContains(t, model.prompts[1], "CBT1001", "rejected candidate must not be offered again")
}

func TestValidateRetriesOnlyOnce(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"category_id": "A", "confidence": 0.7, "reasoning": "x"}`,
		`{"category_id": "B", "confidence": 0.7, "reasoning": "x"}`,
		`{"category_id": "C", "confidence": 0.7, "reasoning": "x"}`,
	}}
	v := New(model, nil, nil)
	candidates := []models.Candidate{
		cand("A", 0.9, "Beauty", "Polish Racks"),
		cand("B", 0.8, "Beauty", "Polish Holders"),
		cand("C", 0.7, "Beauty", "Nail Polishes"),
	}

	d, err := v.Validate(context.Background(), models.ProductDraft{SourceID: "P1", Title: "Nail polish"}, candidates)
	require.ErrorIs(t, err, ErrNoAcceptableCategory)
	assert.False(t, d.Accepted())
	assert.Len(t, d.RejectedCandidates, 2)
	assert.Len(t, model.prompts, 2)
}

func TestValidateNailPolishNeverTrolleys(t *testing.T) {
	model := &scriptedModel{err: errors.New("must not be called")}
	v := New(model, nil, nil)
	candidates := []models.Candidate{
		cand("CBT1001", 0.93, "Beauty", "Nails", "Nails Polish Trolleys"),
		cand("CBT1004", 0.90, "Beauty", "Nails", "Nail Polish"),
	}
	draft := models.ProductDraft{
		SourceID:         "B0CYM126TT",
		Title:            "LONDONTOWN lakur Nail Polish",
		DeclaredTypeHint: "NAIL_POLISH",
	}

	d, err := v.Validate(context.Background(), draft, candidates)
	require.NoError(t, err)
	assert.Equal(t, "CBT1004", d.CategoryID)
	assert.Equal(t, []string{"Beauty", "Nails", "Nail Polish"}, d.DisplayPath)
}

func TestValidateAccessoryProductKeepsAccessoryCategory(t *testing.T) {
	model := &scriptedModel{responses: []string{
		`{"category_id": "CBT1001", "confidence": 0.9, "reasoning": "it is a trolley"}`,
	}}
	v := New(model, nil, nil)
	draft := models.ProductDraft{
		SourceID:         "B0TROLLEY",
		Title:            "Rolling Nail Polish Organizer Cart",
		DeclaredTypeHint: "STORAGE_TROLLEY",
	}

	d, err := v.Validate(context.Background(), draft, nailCandidates)
	require.NoError(t, err)
	assert.Equal(t, "CBT1001", d.CategoryID)
	assert.Empty(t, d.RejectedCandidates)
}

func TestValidateDeclaredTypeShortCircuit(t *testing.T) {
	model := &scriptedModel{err: errors.New("must not be called")}
	v := New(model, nil, nil)
	candidates := []models.Candidate{
		cand("CBT2001", 0.85, "Toys", "Building Toys"),
		cand("CBT2002", 0.88, "Home", "Garden", "Bonsai Trees"),
	}
	draft := models.ProductDraft{
		SourceID:         "B0LEGO",
		Title:            "Botanical Collection Bonsai Tree Building Kit",
		DeclaredTypeHint: "BUILDING_TOYS",
	}

	d, err := v.Validate(context.Background(), draft, candidates)
	require.NoError(t, err)
	assert.Equal(t, "CBT2001", d.CategoryID)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Empty(t, model.prompts)
}

func TestValidateDeclaredAccessoryMatch(t *testing.T) {
	model := &scriptedModel{err: errors.New("must not be called")}
	v := New(model, []string{"sleeve"}, nil)
	candidates := []models.Candidate{
		cand("CBT3001", 0.9, "Electronics", "Laptop Sleeves"),
		cand("CBT3002", 0.8, "Electronics", "Laptops"),
	}
	draft := models.ProductDraft{SourceID: "X", Title: "Laptop", DeclaredTypeHint: "LAPTOP_SLEEVES"}
	d, err := v.Validate(context.Background(), draft, candidates)
	require.NoError(t, err)
	assert.Equal(t, "CBT3001", d.CategoryID)
	assert.Empty(t, model.prompts)
}

func TestValidateModelReject(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"reject": true, "reasoning": "none of these fit"}`}}
	v := New(model, nil, nil)

	d, err := v.Validate(context.Background(), models.ProductDraft{SourceID: "P"}, nailCandidates[1:])
	require.ErrorIs(t, err, ErrNoAcceptableCategory)
	assert.Equal(t, "none of these fit", d.Reasoning)
}

func TestValidateAnswerOutsideCandidateSet(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"category_id": "CBT9999", "confidence": 0.9}`}}
	v := New(model, nil, nil)

	_, err := v.Validate(context.Background(), models.ProductDraft{SourceID: "P"}, nailCandidates)
	require.ErrorIs(t, err, ErrInvalidResponse)
	assert.ErrorContains(t, err, "CBT9999")
}

func TestValidateNoCandidates(t *testing.T) {
	v := New(&scriptedModel{}, nil, nil)
	_, err := v.Validate(context.Background(), models.ProductDraft{SourceID: "P"}, nil)
	assert.ErrorIs(t, err, ErrNoAcceptableCategory)
}

func TestValidateModelError(t *testing.T) {
	boom := errors.New("connection refused")
	v := New(&scriptedModel{err: boom}, nil, nil)
	_, err := v.Validate(context.Background(), models.ProductDraft{SourceID: "P"}, nailCandidates)
	assert.ErrorIs(t, err, boom)
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   string
		ok     bool
	}{
		{"exact id", "CBT1002", "CBT1002", true},
		{"list number", "3", "CBT1003", true},
		{"path", "beauty > nails > nail files", "CBT1003", true},
		{"out of range number", "9", "", false},
		{"unknown", "CBT0", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := lookup(nailCandidates, tt.answer)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, c.Node.ID)
		})
	}
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    llmAnswer
		wantErr bool
	}{
		{"plain", `{"category_id":"A","confidence":0.5,"reasoning":"r"}`, llmAnswer{CategoryID: "A", Confidence: 0.5, Reasoning: "r"}, false},
		{"prose around", "Sure! {\"category_id\": \" B \", \"confidence\": 2} hope this helps", llmAnswer{CategoryID: "B", Confidence: 1}, false},
		{"reject", `{"reject": true}`, llmAnswer{Reject: true}, false},
		{"empty object", `{}`, llmAnswer{}, true},
		{"no json", "I cannot decide", llmAnswer{}, true},
		{"broken json", `{"category_id": }`, llmAnswer{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnswer(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidResponse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVocabularyTerm(t *testing.T) {
	v := newVocabulary([]string{" Sleeve "})
	tests := []struct {
		word string
		want string
	}{
		{"Trolleys", "trolley"},
		{"caddies", "caddy"},
		{"Cases", "case"},
		{"organisers", "organiser"},
		{"sleeves", "sleeve"},
		{"polish", ""},
		{"nails", ""},
	}
	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			assert.Equal(t, tt.want, v.term(tt.word))
		})
	}
}
