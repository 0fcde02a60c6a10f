package resolve

import (
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/models"
)

// DefaultAccessoryTerms are words that mark a category as a container or
// accessory for some other product.
var DefaultAccessoryTerms = []string{
	"holder",
	"rack",
	"case",
	"trolley",
	"organizer",
	"organiser",
	"caddy",
	"dispenser",
	"tray",
	"storage",
	"mount",
	"bracket",
	"cover",
}

// vocabulary matches words against accessory terms, allowing plural forms.
type vocabulary map[string]bool

func newVocabulary(extra []string) vocabulary {
	v := make(vocabulary, len(DefaultAccessoryTerms)+len(extra))
	for _, t := range DefaultAccessoryTerms {
		v[t] = true
	}
	for _, t := range extra {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			v[t] = true
		}
	}
	return v
}

// term returns the accessory term word is a form of, or "".
func (v vocabulary) term(word string) string {
	word = strings.ToLower(word)
	candidates := []string{word}
	if s, ok := strings.CutSuffix(word, "ies"); ok {
		candidates = append(candidates, s+"y")
	}
	if s, ok := strings.CutSuffix(word, "es"); ok {
		candidates = append(candidates, s)
	}
	if s, ok := strings.CutSuffix(word, "s"); ok {
		candidates = append(candidates, s)
	}
	for _, c := range candidates {
		if v[c] {
			return c
		}
	}
	return ""
}

// find returns the first accessory term in text, or "".
func (v vocabulary) find(text string) string {
	for _, w := range models.Words(text) {
		if t := v.term(w); t != "" {
			return t
		}
	}
	return ""
}

// pathTerm returns the accessory term in a category path, or "".
func (v vocabulary) pathTerm(n models.CategoryNode) string {
	return v.find(strings.Join(n.DisplayPath, " "))
}

// productIsAccessory reports whether the product's own hints describe an
// accessory or container.
func (v vocabulary) productIsAccessory(d models.ProductDraft) bool {
	return v.find(models.HumanizeKey(d.DeclaredTypeHint)+" "+d.BrowsePathHint) != ""
}
