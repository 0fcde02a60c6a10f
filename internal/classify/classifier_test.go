package classify

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/catalogbridge/internal/gate"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/resolve"
	"github.com/raphaelgruber/catalogbridge/internal/schema"
	"github.com/stretchr/testify/assert"
)

var mlm = models.Target{Marketplace: "CBT", Region: "MLM"}

func testSchema() *models.AttributeSchema {
	return &models.AttributeSchema{
		CategoryID: "CBT1",
		Attributes: map[string]models.AttributeSpec{
			"COLOR": {ID: "COLOR", Name: "Color", ValueType: models.ValueEnumerated},
			"LINE":  {ID: "LINE", Name: "Line", Critical: true, ValueType: models.ValueFreeText},
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		perr   models.PublishError
		cause  string
		action models.RemediationAction
	}{
		{"duplicate gtin", models.PublishError{CauseCode: 3701, Field: "GTIN"}, models.CauseDuplicateIdentifier,
			models.RemediationAction{Kind: models.ActionStripIdentifier}},
		{"invalid attribute", models.PublishError{CauseCode: 147, Field: "color"}, models.CauseInvalidAttribute,
			models.RemediationAction{Kind: models.ActionDropAttribute, AttributeID: "COLOR"}},
		{"unknown field normalized", models.PublishError{CauseCode: 3510, Field: "item weight"}, models.CauseInvalidAttribute,
			models.RemediationAction{Kind: models.ActionDropAttribute, AttributeID: "ITEM_WEIGHT"}},
		{"brand is category defining", models.PublishError{CauseCode: 148, Field: "BRAND"}, models.CauseInvalidAttribute,
			models.RemediationAction{Kind: models.ActionRequestAlternateCategory}},
		{"critical schema attribute", models.PublishError{CauseCode: 3511, Field: "LINE"}, models.CauseInvalidAttribute,
			models.RemediationAction{Kind: models.ActionRequestAlternateCategory}},
		{"attribute without field", models.PublishError{CauseCode: 3512}, models.CauseInvalidAttribute,
			models.RemediationAction{Kind: models.ActionRequestAlternateCategory}},
		{"non leaf", models.PublishError{CauseCode: 102}, models.CauseNonLeafCategory,
			models.RemediationAction{Kind: models.ActionRequestAlternateCategory}},
		{"shipping mode", models.PublishError{CauseCode: 5001}, models.CauseShippingMode,
			models.RemediationAction{Kind: models.ActionMarkPermanent}},
		{"pricing model", models.PublishError{CauseCode: 5101}, models.CausePricingModel,
			models.RemediationAction{Kind: models.ActionMarkPermanent}},
		{"transient", models.PublishError{CauseCode: 1000}, models.CauseTransient,
			models.RemediationAction{Kind: models.ActionRetry}},
		{"unrecognized", models.PublishError{CauseCode: 4242}, models.CauseUnrecognized,
			models.RemediationAction{Kind: models.ActionMarkPermanent}},
	}

	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(mlm, tt.perr, testSchema())
			assert.Equal(t, tt.cause, got.Cause)
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, tt.perr.CauseCode, got.CauseCode)
		})
	}
}

func TestClassifyIgnoresMessageText(t *testing.T) {
	c := New(nil)
	a := c.Classify(mlm, models.PublishError{CauseCode: 4242, Message: "duplicated gtin, retry later"}, nil)
	b := c.Classify(mlm, models.PublishError{CauseCode: 4242, Message: ""}, nil)
	assert.Equal(t, a.Action, b.Action)
	assert.Equal(t, models.ActionMarkPermanent, a.Action.Kind)
}

func TestClassifyNilSchema(t *testing.T) {
	got := New(nil).Classify(mlm, models.PublishError{CauseCode: 147, Field: "Color"}, nil)
	assert.Equal(t, models.RemediationAction{Kind: models.ActionDropAttribute, AttributeID: "COLOR"}, got.Action)
}

type transientErr struct{}

func (transientErr) Error() string   { return "502 bad gateway" }
func (transientErr) Transient() bool { return true }

func TestClassifyCallError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		cause string
		kind  models.ActionKind
	}{
		{"gate timeout", fmt.Errorf("publish: %w", gate.ErrTimeout), models.CauseTimeout, models.ActionRetry},
		{"transient", fmt.Errorf("publish: %w", transientErr{}), models.CauseTransient, models.ActionRetry},
		{"rate limit exhausted", &gate.RateLimitError{}, models.CauseTransient, models.ActionRetry},
		{"other", errors.New("400 bad request"), models.CauseUnrecognized, models.ActionMarkPermanent},
	}
	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ClassifyCallError(tt.err)
			assert.Equal(t, tt.cause, got.Cause)
			assert.Equal(t, tt.kind, got.Action.Kind)
		})
	}
}

func TestClassifyResolutionError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		cause string
		kind  models.ActionKind
	}{
		{"no category", fmt.Errorf("validate: %w", resolve.ErrNoAcceptableCategory), models.CauseNoCategory, models.ActionMarkPermanent},
		{"invalid answer", fmt.Errorf("validate: %w", resolve.ErrInvalidResponse), models.CauseNoCategory, models.ActionMarkPermanent},
		{"schema", fmt.Errorf("CBT1: %w", schema.ErrSchemaUnavailable), models.CauseSchemaUnavailable, models.ActionMarkPermanent},
		{"deadline", context.DeadlineExceeded, models.CauseTimeout, models.ActionRetry},
		{"gate timeout", fmt.Errorf("validate category: %w", gate.ErrTimeout), models.CauseTimeout, models.ActionRetry},
		{"schema fetch timeout", fmt.Errorf("%w: category CBT1: %w", schema.ErrSchemaUnavailable, gate.ErrTimeout), models.CauseTimeout, models.ActionRetry},
		{"rate limited", fmt.Errorf("embed: %w", gate.ErrRateLimited), models.CauseTransient, models.ActionRetry},
		{"other", errors.New("boom"), models.CauseUnrecognized, models.ActionMarkPermanent},
	}
	c := New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.ClassifyResolutionError(tt.err)
			assert.Equal(t, tt.cause, got.Cause)
			assert.Equal(t, tt.kind, got.Action.Kind)
		})
	}
}

func TestFamily(t *testing.T) {
	assert.Equal(t, models.CauseDuplicateIdentifier, Family(3702))
	assert.Equal(t, models.CauseUnrecognized, Family(0))
}
