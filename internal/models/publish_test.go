package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tgt, err := ParseTarget(" cbt:mlm ")
	require.NoError(t, err)
	assert.Equal(t, Target{Marketplace: "CBT", Region: "MLM"}, tgt)
	assert.Equal(t, "CBT:MLM", tgt.String())

	for _, bad := range []string{"", "CBT", "CBT:", ":MLM"} {
		_, err := ParseTarget(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestParseTargetsRejectsDuplicates(t *testing.T) {
	_, err := ParseTargets([]string{"CBT:MLM", "cbt:mlm"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestTargetJSON(t *testing.T) {
	data, err := json.Marshal(TargetResult{Target: Target{Marketplace: "CBT", Region: "MLB"}, ItemID: "CBT1"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"target":"CBT:MLB","item_id":"CBT1"}`, string(data))

	var res TargetResult
	require.NoError(t, json.Unmarshal([]byte(`{"target":"CBT:MLC","error":{"cause_code":3701,"message":"dup"}}`), &res))
	assert.Equal(t, "MLC", res.Target.Region)
	require.NotNil(t, res.Error)
	assert.Equal(t, 3701, res.Error.CauseCode)
}

func TestPublishAttemptTransitions(t *testing.T) {
	a := NewPublishAttempt(Target{Marketplace: "CBT", Region: "MLM"})

	require.NoError(t, a.Transition(StateAttempting, 2))
	assert.Equal(t, 1, a.AttemptCount)
	require.NoError(t, a.Transition(StateRetryableFailure, 2))
	require.NoError(t, a.Transition(StateAttempting, 2))
	assert.Equal(t, 2, a.AttemptCount)
	require.NoError(t, a.Transition(StateRetryableFailure, 2))

	err := a.Transition(StateAttempting, 2)
	require.Error(t, err)
	assert.Equal(t, 2, a.AttemptCount, "refused transition must not count")
	assert.Equal(t, StateRetryableFailure, a.State)

	require.NoError(t, a.Transition(StatePermanentFailure, 2))
	assert.True(t, a.State.IsTerminal())
	assert.Error(t, a.Transition(StateAttempting, 5), "terminal states have no exits")
}

func TestPublishAttemptInvalidTransition(t *testing.T) {
	a := NewPublishAttempt(Target{Marketplace: "CBT", Region: "MLM"})
	assert.Error(t, a.Transition(StateSucceeded, 3))
	assert.Error(t, a.Transition(StateRetryableFailure, 3))
}

func TestListingRemediationCopies(t *testing.T) {
	orig := Listing{
		CategoryID: "CBT1",
		Attributes: []ReconciledAttribute{
			{ID: "BRAND", Value: FreeTextValue("Acme")},
			{ID: "COLOR", Value: EnumeratedValue(AttributeOption{ID: "52049", Name: "Black"})},
		},
		Identifiers: []string{"673419394130"},
	}

	stripped, changed := orig.WithoutIdentifiers()
	assert.True(t, changed)
	assert.Empty(t, stripped.Identifiers)
	assert.Len(t, orig.Identifiers, 1, "original untouched")

	_, changed = stripped.WithoutIdentifiers()
	assert.False(t, changed)

	dropped, changed := orig.WithoutAttribute("COLOR")
	assert.True(t, changed)
	assert.Len(t, dropped.Attributes, 1)
	assert.Len(t, orig.Attributes, 2, "original untouched")

	_, changed = orig.WithoutAttribute("MISSING")
	assert.False(t, changed)

	assert.NotEqual(t, orig.Fingerprint(), stripped.Fingerprint())
	assert.Equal(t, orig.Fingerprint(), orig.Clone().Fingerprint())
}

func TestProductOutcomeStatus(t *testing.T) {
	ok := PublishAttempt{State: StateSucceeded}
	bad := PublishAttempt{State: StatePermanentFailure}

	assert.Equal(t, OutcomeSucceeded, ProductOutcome{Attempts: []PublishAttempt{ok, ok}}.Status())
	assert.Equal(t, OutcomePartial, ProductOutcome{Attempts: []PublishAttempt{ok, bad}}.Status())
	assert.Equal(t, OutcomeFailed, ProductOutcome{Attempts: []PublishAttempt{bad}}.Status())
	assert.Equal(t, OutcomeFailed, ProductOutcome{}.Status())
}

func TestAttributeValueString(t *testing.T) {
	assert.Equal(t, "12.5 cm", NumberValue(12.5, "cm").String())
	assert.Equal(t, "3 kg", NumberValue(3, "kg").String())
	assert.Equal(t, "Black", EnumeratedValue(AttributeOption{ID: "1", Name: "Black"}).String())
	assert.Equal(t, "hello", FreeTextValue("hello").String())
}
