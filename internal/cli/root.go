// Package cli provides the command-line interface for catalogbridge.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/catalogbridge/internal/config"
	"github.com/raphaelgruber/catalogbridge/internal/db"
	"github.com/raphaelgruber/catalogbridge/internal/metrics"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	corpusFile string

	// Global state, set up in PersistentPreRunE
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func() error
	collector *metrics.Collector
	dbClient  *db.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "catalogbridge",
	Short: "Publish source-marketplace products to cross-border marketplace sites",
	Long: `catalogbridge takes product records from a source marketplace, picks the
right leaf category in the destination taxonomy, maps the product's attributes
onto that category's schema, and publishes the listing to every requested
site, remediating per-site rejections along the way.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		collector = metrics.NewCollector()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(context.Background()); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
			dbClient = nil
		}
		if closeLog != nil {
			_ = closeLog()
		}
	},
}

// connectDB opens the database and makes sure the schema exists. The client
// is closed after the command finishes.
func connectDB(ctx context.Context) (*db.Client, error) {
	if dbClient != nil {
		return dbClient, nil
	}

	client, err := db.NewClient(ctx, db.ConfigFrom(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := client.InitSchema(ctx, cfg.EmbedDimension); err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	dbClient = client
	return dbClient, nil
}

// Execute runs the root command. Cancelling ctx stops in-flight work.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&corpusFile, "corpus", "", "load the category corpus from a JSON file instead of the database")

	rootCmd.AddCommand(corpusCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(jobsCmd)
}
