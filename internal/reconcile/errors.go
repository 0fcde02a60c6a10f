package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsatisfiedRequired reports required attributes with no surviving value.
var ErrUnsatisfiedRequired = errors.New("unsatisfied required attributes")

// UnsatisfiedRequiredError lists the missing attributes of one category.
// Critical holds the subset that is brand- or category-defining.
type UnsatisfiedRequiredError struct {
	CategoryID string
	IDs        []string
	Critical   []string
}

func (e *UnsatisfiedRequiredError) Error() string {
	return fmt.Sprintf("category %s: %d required attributes missing: %s",
		e.CategoryID, len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *UnsatisfiedRequiredError) Unwrap() error { return ErrUnsatisfiedRequired }

// HasCritical reports whether any missing attribute is critical.
func (e *UnsatisfiedRequiredError) HasCritical() bool {
	return len(e.Critical) > 0
}
