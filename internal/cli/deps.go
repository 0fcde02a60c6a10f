package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/catalogbridge/internal/config"
	"github.com/raphaelgruber/catalogbridge/internal/corpus"
	"github.com/raphaelgruber/catalogbridge/internal/gate"
	"github.com/raphaelgruber/catalogbridge/internal/llm"
	"github.com/raphaelgruber/catalogbridge/internal/marketplace"
	"github.com/raphaelgruber/catalogbridge/internal/publish"
	"github.com/raphaelgruber/catalogbridge/internal/reconcile"
	"github.com/raphaelgruber/catalogbridge/internal/resolve"
	"github.com/raphaelgruber/catalogbridge/internal/schema"
	"github.com/raphaelgruber/catalogbridge/internal/service"
)

const rateLimitRetries = 3

func newGate(name string, gc config.GateConfig, timeout time.Duration) *gate.Gate {
	return gate.New(name, gate.Options{
		Concurrency:         gc.Concurrency,
		QPS:                 gc.QPS,
		Burst:               gc.Burst,
		Timeout:             timeout,
		MaxRateLimitRetries: rateLimitRetries,
		Logger:              logger,
	})
}

// newEmbedder builds the embedder behind its own gate. Embedding and
// completion may use different providers, so they are limited separately.
func newEmbedder() (*llm.Embedder, error) {
	e, err := llm.NewEmbedder(cfg, newGate("embedding", cfg.AIGate, cfg.EmbedTimeout), collector)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return e, nil
}

func newModel(ctx context.Context) (*llm.Model, error) {
	m, err := llm.NewModel(ctx, cfg, newGate("llm", cfg.AIGate, cfg.LLMTimeout), collector)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	return m, nil
}

func newMarketplace() *marketplace.Client {
	return marketplace.New(cfg.MarketplaceURL, marketplace.StaticToken(cfg.MarketplaceToken),
		marketplace.WithGate(newGate("marketplace", cfg.MarketplaceGate, 0)),
		marketplace.WithTimeouts(cfg.SchemaTimeout, cfg.PublishTimeout),
		marketplace.WithMetrics(collector),
		marketplace.WithLogger(logger),
	)
}

// loadCorpus reads the category corpus from --corpus or the database.
func loadCorpus(ctx context.Context) (*corpus.Corpus, error) {
	if corpusFile != "" {
		return corpus.LoadFile(corpusFile, cfg.EmbedDimension)
	}

	client, err := connectDB(ctx)
	if err != nil {
		return nil, err
	}
	version, err := client.CategoryVersion(ctx)
	if err != nil {
		return nil, err
	}
	c, err := corpus.LoadFromStore(ctx, client, version, cfg.EmbedDimension)
	if errors.Is(err, corpus.ErrEmptyCorpus) {
		return nil, fmt.Errorf("%w; run 'catalogbridge corpus import' first", err)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("corpus loaded", "version", version, "nodes", c.Len(), "leaves", c.LeafCount())
	return c, nil
}

// newPipeline wires the full product pipeline publishing through p. With a
// nil p the marketplace client is used.
func newPipeline(ctx context.Context, p publish.Publisher) (*service.Pipeline, error) {
	c, err := loadCorpus(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := newEmbedder()
	if err != nil {
		return nil, err
	}
	model, err := newModel(ctx)
	if err != nil {
		return nil, err
	}

	market := newMarketplace()
	if p == nil {
		p = market
	}

	return service.NewPipeline(
		corpus.NewRetriever(c, embedder, cfg.CandidateK, logger),
		resolve.New(model, cfg.AccessoryTerms, logger),
		schema.NewStore(market, collector, logger),
		p,
		service.PipelineOptions{
			Reconciler:  reconcile.New(cfg.AttributeDenylist, logger),
			MaxAttempts: cfg.MaxAttempts,
			Metrics:     collector,
			Logger:      logger,
		},
	), nil
}
