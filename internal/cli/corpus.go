package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/raphaelgruber/catalogbridge/internal/corpus"
	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	importBatchSize int
	importVersion   string
)

var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the destination category corpus",
}

var corpusImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Embed and store a category taxonomy",
	Long: `Import a category taxonomy from a JSON array of nodes:

  [{"id": "CBT1004", "display_path": ["Beauty", "Nails", "Nail Polish"], "is_leaf": true}]

Nodes without an embedding are embedded from their display path. Existing
nodes with the same id are replaced.

Examples:
  catalogbridge corpus import taxonomy.json
  catalogbridge corpus import taxonomy.json --version 2026-10 --batch-size 64`,
	Args: cobra.ExactArgs(1),
	RunE: runCorpusImport,
}

var corpusStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show what the stored corpus holds",
	Args:  cobra.NoArgs,
	RunE:  runCorpusStats,
}

func init() {
	corpusImportCmd.Flags().IntVar(&importBatchSize, "batch-size", 32, "nodes embedded per provider call")
	corpusImportCmd.Flags().StringVar(&importVersion, "version", "", "version stamp for the imported corpus (default: current UTC time)")

	corpusCmd.AddCommand(corpusImportCmd)
	corpusCmd.AddCommand(corpusStatsCmd)
}

func runCorpusImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	nodes, err := corpus.ReadNodesFile(args[0])
	if err != nil {
		return err
	}

	version := importVersion
	if version == "" {
		version = start.UTC().Format("20060102T150405Z")
	}

	embedded, err := embedMissing(ctx, nodes)
	if err != nil {
		return err
	}

	// Refuse to store a corpus that could not be loaded back.
	c, err := corpus.New(version, cfg.EmbedDimension, nodes)
	if err != nil {
		return fmt.Errorf("validate corpus: %w", err)
	}

	client, err := connectDB(ctx)
	if err != nil {
		return err
	}
	const writeBatch = 500
	for i := 0; i < len(nodes); i += writeBatch {
		end := min(i+writeBatch, len(nodes))
		if err := client.UpsertCategories(ctx, nodes[i:end], version); err != nil {
			return err
		}
	}

	fmt.Println(theme.success().Render("✓ Corpus imported"))
	fmt.Printf("  Version:   %s\n", version)
	fmt.Printf("  Nodes:     %d (%d leaves)\n", c.Len(), c.LeafCount())
	fmt.Printf("  Embedded:  %d\n", embedded)
	fmt.Printf("  Duration:  %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// embedMissing embeds, in place, every node whose embedding does not match
// the configured dimension. Batches run concurrently up to the AI gate's
// concurrency; the gate itself enforces rate limits.
func embedMissing(ctx context.Context, nodes []models.CategoryNode) (int, error) {
	var missing []int
	for i, n := range nodes {
		if len(n.Embedding) != cfg.EmbedDimension {
			missing = append(missing, i)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}

	embedder, err := newEmbedder()
	if err != nil {
		return 0, err
	}

	batchSize := max(1, importBatchSize)
	logger.Info("embedding categories", "nodes", len(missing), "batch_size", batchSize, "model", embedder.Model())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, cfg.AIGate.Concurrency))
	for i := 0; i < len(missing); i += batchSize {
		batch := missing[i:min(i+batchSize, len(missing))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for j, idx := range batch {
				texts[j] = nodes[idx].PathString()
			}
			vectors, err := embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed categories %s..: %w", nodes[batch[0]].ID, err)
			}
			for j, idx := range batch {
				nodes[idx].Embedding = vectors[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(missing), nil
}

func runCorpusStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := connectDB(ctx)
	if err != nil {
		return err
	}

	count, err := client.CountCategories(ctx)
	if err != nil {
		return err
	}
	version, err := client.CategoryVersion(ctx)
	if err != nil {
		return err
	}
	if version == "" {
		version = "(none)"
	}

	fmt.Println(theme.title().Render("Category corpus"))
	fmt.Printf("  Version:    %s\n", version)
	fmt.Printf("  Nodes:      %d\n", count.Total)
	fmt.Printf("  Leaves:     %d\n", count.Leaves)
	fmt.Printf("  Dimension:  %d (%s)\n", cfg.EmbedDimension, cfg.EmbedModel)
	return nil
}
