// Package server assembles the scanner service from configuration: the
// persistent store, the configured food provider and, for the offline
// provider, the dataset lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/noot-app/allergen-scanner/internal/config"
	"github.com/noot-app/allergen-scanner/internal/dataset"
	"github.com/noot-app/allergen-scanner/internal/kv"
	"github.com/noot-app/allergen-scanner/internal/provider"
	"github.com/noot-app/allergen-scanner/internal/query"
	"github.com/noot-app/allergen-scanner/internal/scanner"
)

// ErrUnknownProvider is returned for a PROVIDER value outside api, offline and mock
var ErrUnknownProvider = errors.New("unknown provider")

// Runtime holds the assembled service and everything that must be released with it
type Runtime struct {
	Service *scanner.Service
	Dataset *dataset.Manager // nil unless the offline provider is used

	config  *config.Config
	closers []io.Closer
	log     *slog.Logger
}

// ServerInitializer handles common server initialization logic
type ServerInitializer struct {
	config *config.Config
	log    *slog.Logger
}

// NewServerInitializer creates a new server initializer
func NewServerInitializer(cfg *config.Config, logger *slog.Logger) *ServerInitializer {
	return &ServerInitializer{
		config: cfg,
		log:    logger,
	}
}

// Initialize opens the store, builds the provider and wires the service
func (si *ServerInitializer) Initialize(ctx context.Context) (*Runtime, error) {
	start := time.Now()
	si.log.Info("Initializing allergen scanner...", "provider", si.config.Provider, "store_path", si.config.StorePath)

	if si.config.IsDevelopment() {
		si.log.Warn("🚧 DEVELOPMENT MODE ENABLED 🚧",
			"environment", si.config.Environment,
			"note", "Detailed error messages will be returned to clients")
	}

	rt := &Runtime{config: si.config, log: si.log}

	store, err := kv.OpenSQLite(si.config.StorePath, si.log)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	rt.closers = append(rt.closers, store)

	p, err := si.newProvider(ctx, rt)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Service = scanner.NewService(p, store, si.log,
		scanner.WithLookupTimeout(si.config.LookupTimeout),
		scanner.WithLocker(kv.NewLocker(si.config.SerializeWrites)),
	)

	si.log.Info("Allergen scanner initialized successfully", "duration", time.Since(start))
	return rt, nil
}

func (si *ServerInitializer) newProvider(ctx context.Context, rt *Runtime) (provider.Provider, error) {
	switch si.config.Provider {
	case config.ProviderMock:
		return provider.NewMockProvider(si.log), nil

	case config.ProviderAPI:
		return provider.NewOpenFoodFacts(si.config.APIBaseURL, si.log,
			provider.WithTimeout(si.config.LookupTimeout),
			provider.WithMaxRetries(si.config.LookupRetries),
			provider.WithPageSize(si.config.SearchPageSize),
		), nil

	case config.ProviderOffline:
		manager := dataset.NewManager(si.config, si.log)
		if err := manager.EnsureDataset(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure dataset: %w", err)
		}
		rt.Dataset = manager

		engine, err := query.NewEngine(si.config.ParquetPath, si.config.SearchPageSize, si.log)
		if err != nil {
			return nil, fmt.Errorf("failed to create query engine: %w", err)
		}
		rt.closers = append(rt.closers, engine)

		if err := engine.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("failed to test connection: %w", err)
		}
		return engine, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, si.config.Provider)
	}
}

// StartRefreshLoop refreshes the offline dataset in the background until ctx is done.
// It does nothing for online providers or when the interval is zero.
func (rt *Runtime) StartRefreshLoop(ctx context.Context) {
	interval := rt.config.RefreshInterval()
	if rt.Dataset == nil || interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		rt.log.Info("Started dataset refresh loop", "interval_hours", rt.config.RefreshIntervalHours)

		for {
			select {
			case <-ctx.Done():
				rt.log.Info("Stopping dataset refresh loop")
				return
			case <-ticker.C:
				rt.log.Info("Refreshing dataset...")
				if err := rt.Dataset.EnsureDataset(ctx); err != nil {
					rt.log.Error("Failed to refresh dataset", "error", err)
				} else {
					rt.log.Info("Dataset refresh completed")
				}
			}
		}
	}()
}

// Close releases the query engine and the store, newest first
func (rt *Runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
