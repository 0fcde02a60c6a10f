package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/service"
)

// printReport writes the per-product outcome table and the batch summary.
func printReport(w io.Writer, result *service.BatchResult, detailed bool) {
	if result == nil {
		return
	}

	outcomes := slices.Clone(result.Outcomes)
	slices.SortFunc(outcomes, func(a, b models.ProductOutcome) int {
		return strings.Compare(a.SourceID, b.SourceID)
	})

	fmt.Fprintln(w, theme.title().Render("Outcomes"))
	for _, o := range outcomes {
		fmt.Fprintf(w, "%s %-14s %-12s %s\n",
			statusMark(o.Status()), o.SourceID, o.Decision.CategoryID, targetSummary(o.Attempts))
		if o.Reason != "" {
			fmt.Fprintln(w, theme.hint().Render("    "+o.Reason))
		}
		for _, alt := range o.Alternates {
			fmt.Fprintln(w, theme.hint().Render(fmt.Sprintf("    moved to %s (%s)", alt.CategoryID, strings.Join(alt.DisplayPath, " > "))))
		}
		if !detailed {
			continue
		}
		for _, a := range o.Attempts {
			if a.State == models.StateSucceeded {
				fmt.Fprintf(w, "    %-10s %s after %d attempt(s)\n", a.Target, a.ItemID, a.AttemptCount)
			} else if a.LastError != nil {
				fmt.Fprintf(w, "    %-10s %s after %d attempt(s): %s\n", a.Target, a.LastError.Cause, a.AttemptCount, a.LastError.Message)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, theme.title().Render("Summary"))
	fmt.Fprintf(w, "  Products:   %d\n", result.Processed)
	fmt.Fprintf(w, "  Succeeded:  %s\n", theme.success().Render(fmt.Sprint(result.Succeeded)))
	fmt.Fprintf(w, "  Partial:    %s\n", theme.warning().Render(fmt.Sprint(result.Partial)))
	fmt.Fprintf(w, "  Failed:     %s\n", theme.failure().Render(fmt.Sprint(result.Failed)))

	if len(result.PerTarget) > 0 {
		fmt.Fprintln(w, "\n  Per target:")
		keys := make([]string, 0, len(result.PerTarget))
		for k := range result.PerTarget {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			tc := result.PerTarget[k]
			fmt.Fprintf(w, "    %-10s %d ok, %d failed\n", k, tc.Succeeded, tc.Failed)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w, theme.failure().Render(fmt.Sprintf("\n  Unreadable sources (%d):", len(result.Errors))))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "    • %s\n", e)
		}
	}
}

func statusMark(s models.OutcomeStatus) string {
	switch s {
	case models.OutcomeSucceeded:
		return theme.success().Render("✓")
	case models.OutcomePartial:
		return theme.warning().Render("◐")
	default:
		return theme.failure().Render("✗")
	}
}

// targetSummary renders "MLM ✓ MLB ✗(duplicate_identifier)".
func targetSummary(attempts []models.PublishAttempt) string {
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a.State == models.StateSucceeded {
			parts = append(parts, a.Target.Region+" ✓")
			continue
		}
		cause := "failed"
		if a.LastError != nil {
			cause = a.LastError.Cause
		}
		parts = append(parts, fmt.Sprintf("%s ✗(%s)", a.Target.Region, cause))
	}
	return strings.Join(parts, "  ")
}
