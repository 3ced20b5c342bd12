package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/noot-app/allergen-scanner/internal/auth"
	"github.com/noot-app/allergen-scanner/internal/config"
	"github.com/noot-app/allergen-scanner/internal/dataset"
	"github.com/noot-app/allergen-scanner/internal/mcpgo"
	"github.com/noot-app/allergen-scanner/internal/server"
	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. A fresh tree per call keeps tests isolated.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "allergen-scanner",
		Short: "Irish allergen scanner backed by Open Food Facts",
		Long: `Allergen Scanner looks foods up by barcode or name and flags the
Irish-regulated allergens you choose to monitor: Cereals containing gluten,
Crustaceans, Eggs, Fish, Peanuts, Soybeans and Milk.

Without a subcommand it runs as an MCP server:

1. HTTP Mode (default): streamable HTTP on /mcp
   - Requires Bearer token authentication (AUTH_TOKEN), except /health

2. STDIO Mode (--stdio): for local MCP clients
   - No authentication required

3. Fetch Database Mode (--fetch-db): download the offline dataset and exit

Food data comes from the provider selected with PROVIDER:
  api      the Open Food Facts web API (default)
  offline  a local parquet dump queried with DuckDB
  mock     a built-in catalogue of eight sample foods

Favorites, safe foods and allergen preferences are kept in a SQLite
database at STORE_PATH.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			fetchDB, _ := cmd.Flags().GetBool("fetch-db")
			if fetchDB {
				return runFetchDBMode(cmd)
			}

			stdio, _ := cmd.Flags().GetBool("stdio")
			if stdio {
				return runStdioMode(cmd)
			}
			return runHTTPMode(cmd)
		},
	}

	rootCmd.Flags().Bool("stdio", false, "Run in stdio mode for local MCP clients (default: HTTP mode)")
	rootCmd.Flags().Bool("fetch-db", false, "Fetch the offline dataset and exit")

	rootCmd.AddCommand(
		newScanCmd(),
		newSearchCmd(),
		newCollectionCmd("favorites", "List or toggle favorite foods", favoritesCollection),
		newCollectionCmd("safe", "List or toggle foods marked as safe", safeCollection),
		newAllergensCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// runFetchDBMode fetches the database and exits
func runFetchDBMode(cmd *cobra.Command) error {
	logger := config.NewTextLogger(cmd.ErrOrStderr())
	cfg := config.Load()

	logger.Info("🗄️  Starting database fetch",
		"mode", "fetch-db",
		"target_dir", filepath.Dir(cfg.ParquetPath))

	logger.Info("⚠️  Large dataset warning",
		"message", "The Open Food Facts dataset is several GB in size",
		"note", "Initial download may take several minutes depending on your internet connection")

	dataManager := dataset.NewManager(cfg, logger)
	if err := dataManager.EnsureDataset(cmd.Context()); err != nil {
		logger.Error("Failed to fetch dataset", "error", err)
		return err
	}

	logger.Info("✅ Database fetch completed successfully",
		"parquet_path", cfg.ParquetPath,
		"metadata_path", cfg.MetadataPath)
	return nil
}

// runStdioMode runs the MCP server in stdio mode
func runStdioMode(cmd *cobra.Command) error {
	// stderr keeps stdout free for MCP traffic
	logger := config.NewLogger(true)
	cfg := config.Load()

	logger.Info("🔌 Starting Allergen Scanner MCP Server in STDIO mode",
		"mode", "stdio",
		"provider", cfg.Provider,
		"auth", "not required for stdio mode")

	rt, err := server.NewServerInitializer(cfg, logger).Initialize(cmd.Context())
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer rt.Close()

	mcpSrv := mcpgo.NewServer(rt.Service, auth.NewBearerTokenAuth(cfg.AuthToken), logger)
	return mcpSrv.ServeStdio()
}

// runHTTPMode runs the MCP server in HTTP mode for remote deployment
func runHTTPMode(cmd *cobra.Command) error {
	logger := config.NewLogger(false)
	cfg := config.Load()

	logger.Info("🌐 Starting Allergen Scanner MCP Server in HTTP mode",
		"mode", "http",
		"provider", cfg.Provider,
		"auth", "Bearer token required (except /health endpoint)",
		"port", cfg.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := server.NewServerInitializer(cfg, logger).Initialize(ctx)
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		return err
	}
	defer rt.Close()

	rt.StartRefreshLoop(ctx)

	mcpSrv := mcpgo.NewServer(rt.Service, auth.NewBearerTokenAuth(cfg.AuthToken), logger)
	return mcpSrv.ServeHTTP(ctx, ":"+cfg.Port)
}

// Execute runs the command tree with a background context
func Execute() error {
	return newRootCmd().ExecuteContext(context.Background())
}

// Run is the main entry point for the CLI application
func Run() error {
	return Execute()
}
