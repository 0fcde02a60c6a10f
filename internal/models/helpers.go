// Package models defines the data structures shared by the category resolution
// and publishing subsystems.
package models

import (
	"fmt"
	"strings"
	"unicode"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// NormalizeKey folds a free-text attribute key or type hint into the
// marketplace's attribute id shape: upper case, ASCII letters and digits,
// words joined by a single underscore. "Item Weight" and "item_weight" both
// become "ITEM_WEIGHT".
func NormalizeKey(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		pendingSep = true
	}
	return b.String()
}

// HumanizeKey turns a key like "NAIL_POLISH" into "nail polish".
func HumanizeKey(s string) string {
	return strings.ToLower(strings.ReplaceAll(NormalizeKey(s), "_", " "))
}

// Words splits text into lower-case ASCII words.
func Words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
}
