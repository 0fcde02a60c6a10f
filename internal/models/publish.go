package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// Target is a (marketplace, region) pair a product is published to.
type Target struct {
	Marketplace string
	Region      string
}

// ParseTarget parses "MARKETPLACE:REGION", e.g. "CBT:MLM".
func ParseTarget(s string) (Target, error) {
	mp, region, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || mp == "" || region == "" {
		return Target{}, fmt.Errorf("invalid target %q: want MARKETPLACE:REGION", s)
	}
	return Target{Marketplace: strings.ToUpper(mp), Region: strings.ToUpper(region)}, nil
}

// ParseTargets parses a list of target keys, rejecting duplicates.
func ParseTargets(keys []string) ([]Target, error) {
	seen := make(map[Target]bool, len(keys))
	targets := make([]Target, 0, len(keys))
	for _, k := range keys {
		t, err := ParseTarget(k)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			return nil, fmt.Errorf("duplicate target %s", t)
		}
		seen[t] = true
		targets = append(targets, t)
	}
	return targets, nil
}

func (t Target) String() string {
	return t.Marketplace + ":" + t.Region
}

// MarshalText implements encoding.TextMarshaler.
func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Target) UnmarshalText(b []byte) error {
	parsed, err := ParseTarget(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// AttemptState is the state of one (product, target) publish machine.
type AttemptState string

const (
	StatePending          AttemptState = "pending"
	StateAttempting       AttemptState = "attempting"
	StateSucceeded        AttemptState = "succeeded"
	StateRetryableFailure AttemptState = "retryable_failure"
	StatePermanentFailure AttemptState = "permanent_failure"
)

// Pending → Attempting → {Succeeded | RetryableFailure | PermanentFailure};
// RetryableFailure → Attempting (after remediation) | PermanentFailure.
var validAttemptTransitions = map[AttemptState]map[AttemptState]bool{
	StatePending: {
		StateAttempting:       true,
		StatePermanentFailure: true, // product-wide abort before any attempt
	},
	StateAttempting: {
		StateSucceeded:        true,
		StateRetryableFailure: true,
		StatePermanentFailure: true,
	},
	StateRetryableFailure: {
		StateAttempting:       true,
		StatePermanentFailure: true,
	},
}

// IsTerminal reports whether no further transition is possible.
func (s AttemptState) IsTerminal() bool {
	return s == StateSucceeded || s == StatePermanentFailure
}

// ActionKind names a remediation.
type ActionKind string

const (
	ActionStripIdentifier          ActionKind = "strip_identifier"
	ActionDropAttribute            ActionKind = "drop_attribute"
	ActionRequestAlternateCategory ActionKind = "request_alternate_category"
	ActionMarkPermanent            ActionKind = "mark_permanent"
	// ActionRetry resubmits unchanged; used for timeouts and transient faults.
	ActionRetry ActionKind = "retry"
)

// RemediationAction is what the classifier prescribes for a failure.
type RemediationAction struct {
	Kind        ActionKind `json:"kind"`
	AttributeID string     `json:"attribute_id,omitempty"` // DropAttribute only
}

func (a RemediationAction) String() string {
	if a.Kind == ActionDropAttribute {
		return fmt.Sprintf("%s(%s)", a.Kind, a.AttributeID)
	}
	return string(a.Kind)
}

// Cause families produced by the classifier.
const (
	CauseDuplicateIdentifier = "duplicate_identifier"
	CauseInvalidAttribute    = "invalid_attribute"
	CauseNonLeafCategory     = "non_leaf_category"
	CauseShippingMode        = "unsupported_shipping_mode"
	CausePricingModel        = "pricing_model_not_configured"
	CauseTimeout             = "timeout"
	CauseTransient           = "transient"
	CauseUnrecognized        = "unrecognized"
	CauseNoCategory          = "no_acceptable_category"
	CauseRemediationFailed   = "remediation_failed"
	CauseSchemaUnavailable   = "schema_unavailable"
	CauseExhausted           = "retries_exhausted"
)

// ClassifiedError is a publish failure after classification.
type ClassifiedError struct {
	CauseCode int               `json:"cause_code,omitempty"`
	Cause     string            `json:"cause"`
	Field     string            `json:"field,omitempty"`
	Message   string            `json:"message,omitempty"`
	Action    RemediationAction `json:"action"`
}

func (e ClassifiedError) Error() string {
	if e.CauseCode != 0 {
		return fmt.Sprintf("%s (cause %d): %s", e.Cause, e.CauseCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Cause, e.Message)
}

// PublishAttempt tracks one (product, target) pair. Transition is the only
// mutation path.
type PublishAttempt struct {
	Target       Target           `json:"target"`
	State        AttemptState     `json:"state"`
	AttemptCount int              `json:"attempt_count"`
	LastError    *ClassifiedError `json:"last_error,omitempty"`
	ItemID       string           `json:"item_id,omitempty"`
	CategoryID   string           `json:"category_id,omitempty"`
}

// NewPublishAttempt returns a pending attempt for target.
func NewPublishAttempt(target Target) PublishAttempt {
	return PublishAttempt{Target: target, State: StatePending}
}

// Transition moves the attempt to state to. Entering Attempting increments
// AttemptCount and is refused once maxAttempts entries have been made.
func (a *PublishAttempt) Transition(to AttemptState, maxAttempts int) error {
	if !validAttemptTransitions[a.State][to] {
		return fmt.Errorf("invalid transition %s -> %s for target %s", a.State, to, a.Target)
	}
	if to == StateAttempting {
		if a.AttemptCount >= maxAttempts {
			return fmt.Errorf("target %s: attempt budget exhausted (%d/%d)", a.Target, a.AttemptCount, maxAttempts)
		}
		a.AttemptCount++
	}
	a.State = to
	return nil
}

// Listing is the payload submitted for one target. Each target owns its copy
// so a remediation on one target never changes another's submission.
type Listing struct {
	CategoryID  string                `json:"category_id"`
	Attributes  []ReconciledAttribute `json:"attributes"`
	Identifiers []string              `json:"identifiers"`
}

// Clone returns a deep copy.
func (l Listing) Clone() Listing {
	return Listing{
		CategoryID:  l.CategoryID,
		Attributes:  slices.Clone(l.Attributes),
		Identifiers: slices.Clone(l.Identifiers),
	}
}

// WithoutIdentifiers returns a copy with identifiers removed, and whether
// anything changed.
func (l Listing) WithoutIdentifiers() (Listing, bool) {
	out := l.Clone()
	out.Identifiers = nil
	return out, len(l.Identifiers) > 0
}

// WithoutAttribute returns a copy without attribute id, and whether anything
// changed.
func (l Listing) WithoutAttribute(id string) (Listing, bool) {
	out := l.Clone()
	out.Attributes = slices.DeleteFunc(out.Attributes, func(a ReconciledAttribute) bool {
		return a.ID == id
	})
	return out, len(out.Attributes) != len(l.Attributes)
}

// Fingerprint identifies the payload; targets with equal fingerprints can be
// submitted in one request.
func (l Listing) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "c=%s\n", l.CategoryID)
	for _, a := range l.Attributes {
		fmt.Fprintf(h, "a=%s=%s\n", a.ID, a.Value.String())
	}
	for _, id := range l.Identifiers {
		fmt.Fprintf(h, "i=%s\n", id)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ListingRequest is the POST /listings body.
type ListingRequest struct {
	Listing
	Targets []Target `json:"targets"`
}

// PublishError is a per-target error returned by the publish endpoint.
type PublishError struct {
	CauseCode int    `json:"cause_code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
}

// TargetResult is one per-target entry of a publish response.
type TargetResult struct {
	Target Target        `json:"target"`
	ItemID string        `json:"item_id,omitempty"`
	Error  *PublishError `json:"error,omitempty"`
}

// OutcomeStatus summarizes a product's per-target results.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomePartial   OutcomeStatus = "partial"
	OutcomeFailed    OutcomeStatus = "failed"
)

// ProductOutcome is what the pipeline hands back for every product: one
// decision record and one attempt per target, even when everything failed.
type ProductOutcome struct {
	RunID    string           `json:"run_id"`
	SourceID string           `json:"source_id"`
	Decision CategoryDecision `json:"decision"`
	Attempts []PublishAttempt `json:"attempts"`
	// Alternates are the categories chosen by RequestAlternateCategory
	// remediations, in the order they were requested.
	Alternates []CategoryDecision `json:"alternates,omitempty"`
	// Reason is set when the product failed as a whole (e.g. no category).
	Reason string `json:"reason,omitempty"`
}

// Status aggregates the terminal states of all targets.
func (o ProductOutcome) Status() OutcomeStatus {
	succeeded := 0
	for _, a := range o.Attempts {
		if a.State == StateSucceeded {
			succeeded++
		}
	}
	switch {
	case succeeded == 0:
		return OutcomeFailed
	case succeeded == len(o.Attempts):
		return OutcomeSucceeded
	default:
		return OutcomePartial
	}
}
