package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/audit"
	"github.com/numisworks/coindex/internal/enrich"
	"github.com/numisworks/coindex/internal/service"
	"github.com/numisworks/coindex/internal/source"
	"github.com/numisworks/coindex/internal/store"
	"github.com/numisworks/coindex/pkg/llm"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "coindex.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initSources builds the configured external lookup sources. The catalog
// needs an API key and the model suggester an Anthropic key; either is
// skipped when unconfigured, never an error.
func initSources() []source.Source {
	var sources []source.Source

	if cfg.Catalog.Key != "" {
		opts := []source.CatalogOption{source.WithCatalogRate(cfg.Catalog.RatePerSecond)}
		if cfg.Catalog.TimeoutSecs > 0 {
			opts = append(opts, source.WithCatalogHTTPClient(httpClient(cfg.Catalog.TimeoutSecs)))
		}
		sources = append(sources, source.NewCatalogClient(cfg.Catalog.BaseURL, cfg.Catalog.Key, opts...))
	} else {
		zap.L().Debug("COINDEX_CATALOG_KEY not set, catalog source disabled")
	}

	if cfg.Auction.BaseURL != "" {
		opts := []source.AuctionOption{source.WithAuctionRate(cfg.Auction.RatePerSecond)}
		if cfg.Auction.TimeoutSecs > 0 {
			opts = append(opts, source.WithAuctionHTTPClient(httpClient(cfg.Auction.TimeoutSecs)))
		}
		sources = append(sources, source.NewAuctionClient(cfg.Auction.BaseURL, opts...))
	}

	if cfg.Anthropic.Key != "" {
		client := llm.NewClient(cfg.Anthropic.Key)
		sources = append(sources, source.NewLLMSource(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens))
	} else {
		zap.L().Debug("COINDEX_ANTHROPIC_KEY not set, model suggester disabled")
	}

	return sources
}

func httpClient(timeoutSecs int) *http.Client {
	return &http.Client{Timeout: time.Duration(timeoutSecs) * time.Second}
}

// initService opens the store, migrates it and wires the full engine.
// Callers own the returned store and should defer Close.
func initService(ctx context.Context) (*service.Service, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	runner := audit.NewRunner(
		audit.NewOrchestrator(audit.DefaultStrategies()),
		st,
		initSources(),
		cfg.Audit.Concurrency,
	)
	applier := enrich.NewApplier(st)
	pol := enrich.Policy{AutoApplyThreshold: cfg.Audit.AutoApplyThreshold}

	return service.New(st, runner, applier, pol), st, nil
}
