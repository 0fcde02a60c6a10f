package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/gate"
)

// ErrFatalAPI marks provider errors no retry can fix (billing, auth).
// A batch that sees one stops instead of failing every remaining product.
var ErrFatalAPI = errors.New("fatal API error")

var fatalMarkers = []string{
	"credit balance",
	"quota exceeded",
	"billing",
	"invalid api key",
	"invalid x-api-key",
	"authentication",
	"unauthorized",
	"401",
	"403",
}

var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"429",
	"throttl",
}

// Provider SDKs surface HTTP failures as opaque strings, so detection is
// textual.
func isFatalAPIError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range fatalMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gate.ErrRateLimited) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range rateLimitMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// wrapFatalError tags err with ErrFatalAPI when it is fatal, and with
// gate.ErrRateLimited when the provider throttled us, so the AI gate backs
// off for every caller. Other errors pass through unchanged.
func wrapFatalError(err error) error {
	switch {
	case err == nil:
		return nil
	case isRateLimitError(err):
		if errors.Is(err, gate.ErrRateLimited) {
			return err
		}
		return &gate.RateLimitError{Err: err}
	case isFatalAPIError(err):
		return fmt.Errorf("%w: %w", ErrFatalAPI, err)
	default:
		return err
	}
}
