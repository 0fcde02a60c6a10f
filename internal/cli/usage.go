package cli

import (
	"fmt"
	"slices"

	"github.com/raphaelgruber/catalogbridge/internal/metrics"
)

// printUsage displays the in-memory runtime statistics of this run.
func printUsage(s metrics.Snapshot) {
	fmt.Println(theme.title().Render("Run statistics"))
	fmt.Printf("Elapsed: %.1f seconds\n", s.UptimeSeconds)

	if s.Embedding != nil {
		fmt.Printf("\nEmbeddings:\n")
		printOpStats(s.Embedding)
	}
	if s.LLMGenerate != nil {
		fmt.Printf("\nLLM Generate:\n")
		printOpStats(s.LLMGenerate)
		printTokenStats(s.LLMGenerate)
	}
	if s.SchemaFetch != nil {
		fmt.Printf("\nSchema Fetch:\n")
		printOpStats(s.SchemaFetch)
		fmt.Printf("  Cache hits: %d\n", s.SchemaCacheHits)
	}
	if s.Publish != nil {
		fmt.Printf("\nPublish:\n")
		printOpStats(s.Publish)
	}

	printCounts("Target states", s.AttemptStates)
	printCounts("Remediations", s.Remediations)
}

func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Errors: %d, Total: %dms\n", op.Count, op.Errors, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}

func printTokenStats(op *metrics.OperationSnapshot) {
	if op.TotalInputTokens == nil || op.TotalOutputTokens == nil {
		return
	}
	fmt.Printf("  Tokens In:  %d total", *op.TotalInputTokens)
	if op.AvgInputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgInputTokens)
	}
	fmt.Println()

	fmt.Printf("  Tokens Out: %d total", *op.TotalOutputTokens)
	if op.AvgOutputTokens != nil {
		fmt.Printf(", avg %.0f", *op.AvgOutputTokens)
	}
	fmt.Println()
}

func printCounts(title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	fmt.Printf("\n%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-28s %d\n", k, counts[k])
	}
}
