// Package resolve picks one leaf category from the retrieved candidates.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/models"
)

var (
	// ErrNoAcceptableCategory means every candidate was rejected.
	ErrNoAcceptableCategory = errors.New("no acceptable category")
	// ErrInvalidResponse means the model's answer could not be used.
	ErrInvalidResponse = errors.New("invalid model response")
)

// Rejection reasons recorded on a decision.
const (
	ReasonAccessory    = "accessory_vocabulary"
	ReasonNotPresented = "not_in_candidate_set"
)

// Generator produces a completion for a system and user prompt.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Validator re-ranks candidates with a language model and applies the
// accessory post-check.
type Validator struct {
	model  Generator
	vocab  vocabulary
	logger *slog.Logger
}

// New creates a Validator. extraTerms extend DefaultAccessoryTerms.
func New(model Generator, extraTerms []string, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{model: model, vocab: newVocabulary(extraTerms), logger: logger}
}

// Validate chooses a category for draft from candidates. The choice is always
// one of the presented candidates. A chosen category whose path carries an
// accessory term is rejected for non-accessory products and the choice is
// retried once without it.
func (v *Validator) Validate(ctx context.Context, draft models.ProductDraft, candidates []models.Candidate) (models.CategoryDecision, error) {
	if len(candidates) == 0 {
		return models.CategoryDecision{}, fmt.Errorf("%w: no candidates for %s", ErrNoAcceptableCategory, draft.SourceID)
	}
	accessoryProduct := v.vocab.productIsAccessory(draft)

	if c, ok := declaredMatch(draft, candidates); ok {
		if accessoryProduct || v.vocab.pathTerm(c.Node) == "" {
			v.logger.Debug("declared type matches candidate", "source_id", draft.SourceID, "category_id", c.Node.ID)
			return models.CategoryDecision{
				CategoryID:  c.Node.ID,
				DisplayPath: c.Node.DisplayPath,
				Confidence:  1,
				Reasoning:   fmt.Sprintf("declared product type %q matches leaf category %q", draft.DeclaredTypeHint, c.Node.Name()),
			}, nil
		}
	}

	var rejected []models.RejectedCandidate
	remaining := slices.Clone(candidates)
	for round := range 2 {
		if len(remaining) == 0 {
			break
		}
		choice, ans, err := v.choose(ctx, draft, remaining)
		if err != nil {
			return models.CategoryDecision{RejectedCandidates: rejected}, err
		}
		if ans.Reject {
			v.logger.Info("model rejected all candidates", "source_id", draft.SourceID, "reasoning", ans.Reasoning)
			return models.CategoryDecision{Reasoning: ans.Reasoning, RejectedCandidates: rejected},
				fmt.Errorf("%w: %s", ErrNoAcceptableCategory, ans.Reasoning)
		}

		if term := v.vocab.pathTerm(choice.Node); term != "" && !accessoryProduct {
			v.logger.Info("rejected accessory category",
				"source_id", draft.SourceID,
				"category_id", choice.Node.ID,
				"path", choice.Node.PathString(),
				"term", term,
				"round", round+1)
			rejected = append(rejected, models.RejectedCandidate{
				CategoryID: choice.Node.ID,
				Path:       choice.Node.PathString(),
				Reason:     ReasonAccessory + ":" + term,
			})
			remaining = slices.DeleteFunc(remaining, func(c models.Candidate) bool {
				return c.Node.ID == choice.Node.ID
			})
			continue
		}

		return models.CategoryDecision{
			CategoryID:         choice.Node.ID,
			DisplayPath:        choice.Node.DisplayPath,
			Confidence:         ans.Confidence,
			Reasoning:          ans.Reasoning,
			RejectedCandidates: rejected,
		}, nil
	}

	return models.CategoryDecision{RejectedCandidates: rejected},
		fmt.Errorf("%w: %d candidate(s) rejected for %s", ErrNoAcceptableCategory, len(rejected), draft.SourceID)
}

// choose asks the model for one candidate and maps the answer back onto the
// presented set.
func (v *Validator) choose(ctx context.Context, draft models.ProductDraft, candidates []models.Candidate) (models.Candidate, llmAnswer, error) {
	raw, err := v.model.GenerateWithSystem(ctx, systemPrompt, buildUserPrompt(draft, candidates))
	if err != nil {
		return models.Candidate{}, llmAnswer{}, fmt.Errorf("validate category: %w", err)
	}
	ans, err := parseAnswer(raw)
	if err != nil {
		return models.Candidate{}, llmAnswer{}, err
	}
	if ans.Reject {
		return models.Candidate{}, ans, nil
	}
	c, ok := lookup(candidates, ans.CategoryID)
	if !ok {
		return models.Candidate{}, llmAnswer{}, fmt.Errorf("%w: %s %q", ErrInvalidResponse, ReasonNotPresented, ans.CategoryID)
	}
	return c, ans, nil
}

// lookup finds the candidate named by id, accepting the 1-based list number
// or the display path as a fallback.
func lookup(candidates []models.Candidate, id string) (models.Candidate, bool) {
	for _, c := range candidates {
		if c.Node.ID == id {
			return c, true
		}
	}
	if n, err := strconv.Atoi(id); err == nil && n >= 1 && n <= len(candidates) {
		return candidates[n-1], true
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Node.PathString(), id) {
			return c, true
		}
	}
	return models.Candidate{}, false
}

// declaredMatch returns the first candidate whose leaf name equals the
// declared type hint.
func declaredMatch(draft models.ProductDraft, candidates []models.Candidate) (models.Candidate, bool) {
	hint := models.HumanizeKey(draft.DeclaredTypeHint)
	if hint == "" {
		return models.Candidate{}, false
	}
	for _, c := range candidates {
		if models.HumanizeKey(c.Node.Name()) == hint {
			return c, true
		}
	}
	return models.Candidate{}, false
}
