package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/raphaelgruber/catalogbridge/internal/models"
	"github.com/raphaelgruber/catalogbridge/internal/publish"
	"github.com/raphaelgruber/catalogbridge/internal/service"
	"github.com/spf13/cobra"
)

var (
	publishTargets     []string
	publishConcurrency int
	publishName        string
	publishMetricsAddr string
	publishDryRun      bool
	publishNoStore     bool
	publishDetailed    bool
)

var publishCmd = &cobra.Command{
	Use:   "publish <product.json|dir>...",
	Short: "Publish product records to marketplace sites",
	Long: `Resolve, reconcile, and publish a batch of product records to every target
site. Directories are expanded to the *.json files they contain.

Per-site rejections are classified and remediated (identifier stripped,
attribute dropped, alternate category) up to the configured attempt limit.

Examples:
  catalogbridge publish products/
  catalogbridge publish a.json b.json --targets CBT:MLM,CBT:MLB
  catalogbridge publish products/ --dry-run --corpus taxonomy.json --no-store
  catalogbridge publish products/ --metrics-addr :9090`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringSliceVar(&publishTargets, "targets", nil, "target sites as MARKETPLACE:REGION (default from config)")
	publishCmd.Flags().IntVarP(&publishConcurrency, "concurrency", "c", 0, "products processed in parallel (default from config)")
	publishCmd.Flags().StringVar(&publishName, "name", "", "job name")
	publishCmd.Flags().StringVar(&publishMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	publishCmd.Flags().BoolVar(&publishDryRun, "dry-run", false, "resolve and reconcile, but accept every listing without calling the marketplace")
	publishCmd.Flags().BoolVar(&publishNoStore, "no-store", false, "do not persist the job and its outcomes")
	publishCmd.Flags().BoolVar(&publishDetailed, "detailed", false, "show per-target details in the report")
}

func runPublish(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	keys := publishTargets
	if len(keys) == 0 {
		keys = cfg.Targets
	}
	targets, err := models.ParseTargets(keys)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return errors.New("no targets configured; pass --targets or set CATALOGBRIDGE_TARGETS")
	}

	sources, err := collectSources(args)
	if err != nil {
		return err
	}

	var publisher publish.Publisher
	if publishDryRun {
		publisher = &publish.DryRun{}
	}
	pipeline, err := newPipeline(ctx, publisher)
	if err != nil {
		return err
	}

	var store service.JobStore
	if !publishDryRun && !publishNoStore {
		client, err := connectDB(ctx)
		if err != nil {
			return err
		}
		store = client
	}

	concurrency := publishConcurrency
	if concurrency <= 0 {
		concurrency = cfg.Concurrency
	}
	manager := service.NewJobManager(pipeline, store, service.JobOptions{
		Concurrency: concurrency,
		Logger:      logger,
	})

	if publishMetricsAddr != "" {
		stop := serveMetrics(publishMetricsAddr)
		defer stop()
	}

	job, err := manager.CreateJob(ctx, publishName, sources, targets)
	if err != nil {
		return err
	}

	var (
		result *service.BatchResult
		runErr error
	)
	if isTerminal() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			result, runErr = manager.Execute(ctx, job, nil)
		}()
		cancelled, err := runJobProgress(job)
		if err != nil || cancelled {
			cancel()
		}
		<-done
	} else {
		result, runErr = manager.Execute(ctx, job, nil)
	}

	fmt.Println()
	printReport(os.Stdout, result, publishDetailed)
	if verbose {
		fmt.Println()
		printUsage(collector.Snapshot())
	}
	if runErr != nil {
		return fmt.Errorf("job %s: %w", job.ID, runErr)
	}
	return nil
}

// collectSources expands directories to the JSON files directly inside them
// and keeps files as given. Duplicates are dropped.
func collectSources(args []string) ([]string, error) {
	var sources []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid source: %w", err)
		}
		if !info.IsDir() {
			sources = append(sources, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read source dir: %w", err)
		}
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".json") {
				sources = append(sources, filepath.Join(arg, e.Name()))
			}
		}
	}
	slices.Sort(sources)
	sources = slices.Compact(sources)
	if len(sources) == 0 {
		return nil, errors.New("no product records found")
	}
	return sources, nil
}

// serveMetrics exposes the collector's registry on addr until stop is called.
func serveMetrics(addr string) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
