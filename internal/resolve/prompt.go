package resolve

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/models"
)

const systemPrompt = `You are a marketplace catalog specialist. Pick the single best leaf category for a product from a numbered list of candidates.

Rules:
- Avoid categories whose path names a holder, rack, case, trolley, organizer or other accessory/container UNLESS the product itself is such an accessory or container.
- Classify by what the product IS (its type), not by what it looks like or depicts (its theme). A building toy shaped like a bonsai tree is a building toy, not a plant.
- Prefer the declared product type and browse path hints when they agree with a candidate.
- You MUST answer with a category_id copied exactly from the list, or reject all candidates.

Respond with JSON only, no prose:
{"category_id": "<id from the list>", "confidence": <0.0-1.0>, "reasoning": "<one sentence>"}
or, if no candidate fits:
{"reject": true, "reasoning": "<one sentence>"}`

func buildUserPrompt(d models.ProductDraft, candidates []models.Candidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product title: %s\n", d.Title)
	if d.DeclaredTypeHint != "" {
		fmt.Fprintf(&b, "Declared product type: %s\n", d.DeclaredTypeHint)
	}
	if d.BrowsePathHint != "" {
		fmt.Fprintf(&b, "Source browse path: %s\n", d.BrowsePathHint)
	}
	if len(d.RawAttributes) > 0 {
		b.WriteString("Attributes:\n")
		for i, a := range d.RawAttributes {
			if i == 20 {
				b.WriteString("  ...\n")
				break
			}
			fmt.Fprintf(&b, "  %s: %s\n", a.Key, a.Value)
		}
	}
	b.WriteString("\nCandidates:\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "%d. %s | %s\n", i+1, c.Node.ID, c.Node.PathString())
	}
	return b.String()
}

type llmAnswer struct {
	CategoryID string  `json:"category_id"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	Reject     bool    `json:"reject"`
}

// parseAnswer extracts the JSON object from a model response, tolerating
// code fences and surrounding text.
func parseAnswer(raw string) (llmAnswer, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return llmAnswer{}, fmt.Errorf("%w: no JSON object in %q", ErrInvalidResponse, truncate(raw, 120))
	}
	var a llmAnswer
	if err := json.Unmarshal([]byte(raw[start:end+1]), &a); err != nil {
		return llmAnswer{}, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	a.CategoryID = strings.TrimSpace(a.CategoryID)
	a.Confidence = min(max(a.Confidence, 0), 1)
	if !a.Reject && a.CategoryID == "" {
		return llmAnswer{}, fmt.Errorf("%w: neither category_id nor reject", ErrInvalidResponse)
	}
	return a, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
