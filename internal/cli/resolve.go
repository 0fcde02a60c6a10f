package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/catalogbridge/internal/publish"
	"github.com/raphaelgruber/catalogbridge/internal/service"
	"github.com/spf13/cobra"
)

var resolveJSON bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <product.json>",
	Short: "Pick a category and reconcile attributes without publishing",
	Long: `Run category resolution and attribute reconciliation for one product
record and print the result. Nothing is published.

Examples:
  catalogbridge resolve product.json
  catalogbridge resolve product.json --corpus taxonomy.json --json`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveJSON, "json", false, "print the resolution as JSON")
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	draft, err := service.ReadDraft(args[0])
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(ctx, &publish.DryRun{})
	if err != nil {
		return err
	}

	res, resolveErr := pipeline.Resolve(ctx, draft)

	if resolveJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		return resolveErr
	}

	printResolution(draft.Title, res)
	return resolveErr
}

func printResolution(title string, res *service.Resolution) {
	fmt.Println(theme.title().Render(title))

	if len(res.Candidates) > 0 {
		fmt.Println("\nCandidates:")
		for i, c := range res.Candidates {
			fmt.Printf("  %2d. %-12s %.3f  %s\n", i+1, c.Node.ID, c.Similarity, c.Node.PathString())
		}
	}

	d := res.Decision
	if len(d.RejectedCandidates) > 0 {
		fmt.Println("\nRejected:")
		for _, r := range d.RejectedCandidates {
			fmt.Printf("  %-12s %s (%s)\n", r.CategoryID, r.Path, r.Reason)
		}
	}
	if !d.Accepted() {
		fmt.Println(theme.failure().Render("\n✗ No acceptable category"))
		if d.Reasoning != "" {
			fmt.Printf("  %s\n", d.Reasoning)
		}
		return
	}

	fmt.Println()
	fmt.Println(theme.success().Render(fmt.Sprintf("✓ %s  %s", d.CategoryID, strings.Join(d.DisplayPath, " > "))))
	fmt.Printf("  Confidence: %.2f\n", d.Confidence)
	if d.Reasoning != "" {
		fmt.Printf("  Reasoning:  %s\n", d.Reasoning)
	}
	if res.Schema == nil {
		return
	}

	attrs := res.Attributes
	fmt.Printf("\nAttributes (%d kept, %d dropped):\n", len(attrs.Attributes), len(attrs.Dropped))
	for _, a := range attrs.Attributes {
		fmt.Printf("  %-28s %s\n", a.ID, a.Value)
	}
	for _, a := range attrs.Dropped {
		fmt.Println(theme.hint().Render(fmt.Sprintf("  %-28s dropped: %s", a.Key, a.Reason)))
	}
	if len(attrs.UnsatisfiedRequired) > 0 {
		fmt.Println(theme.warning().Render(fmt.Sprintf("\nMissing required: %s", strings.Join(attrs.UnsatisfiedRequired, ", "))))
	}

	if len(res.Identifiers) > 0 {
		fmt.Printf("\nIdentifiers: %s\n", strings.Join(res.Identifiers, ", "))
	} else {
		fmt.Println("\nIdentifiers: none")
	}
}
