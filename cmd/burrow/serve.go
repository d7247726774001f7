package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/bundler"
	"github.com/cuemby/burrow/pkg/loader"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the burrow control plane",
	Long: `Run the burrow control plane: the JSON API, the esbuild bundler,
the build and stub caches, hostname routing, and a periodic garbage
collection sweep, backed by an embedded BoltDB store.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "API listen address")
	serveCmd.Flags().String("data-dir", "./burrow-data", "Data directory for the embedded store")
	serveCmd.Flags().String("db", "bolt", "Storage backend: bolt or memory")
	serveCmd.Flags().String("runtime-addr", "http://localhost:9123", "Worker runtime address")
	serveCmd.Flags().String("system-tenant", platform.DefaultSystemTenant, "Tenant owning outbound and tail workers")
	serveCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	serveCmd.Flags().Bool("log-json", false, "Log JSON instead of console output")
	serveCmd.Flags().Float64("rate-limit", 0, "Per-client API request limit in req/s (0 disables)")
	serveCmd.Flags().Duration("sweep-interval", 5*time.Minute, "Garbage collection interval (0 disables)")
	serveCmd.Flags().Duration("stub-ttl", 0, "Idle ephemeral stub lifetime (0 for default)")
	serveCmd.Flags().Duration("bundle-ttl", 0, "Build cache entry lifetime (0 for default)")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	listen, _ := cmd.Flags().GetString("listen")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	db, _ := cmd.Flags().GetString("db")
	runtimeAddr, _ := cmd.Flags().GetString("runtime-addr")
	systemTenant, _ := cmd.Flags().GetString("system-tenant")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")
	rateLimit, _ := cmd.Flags().GetFloat64("rate-limit")
	sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")
	stubTTL, _ := cmd.Flags().GetDuration("stub-ttl")
	bundleTTL, _ := cmd.Flags().GetDuration("bundle-ttl")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})

	var store storage.Store
	switch db {
	case "bolt":
		boltStore, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		store = boltStore
	case "memory":
		store = storage.NewMemoryStore()
	default:
		return fmt.Errorf("unknown storage backend %q, expected bolt or memory", db)
	}
	defer store.Close()

	p, err := platform.New(platform.Options{
		Store:        store,
		Bundler:      bundler.NewEsbuild(),
		Loader:       loader.NewRemote(runtimeAddr),
		SystemTenant: systemTenant,
		BundleTTL:    bundleTTL,
		StubTTL:      stubTTL,
	})
	if err != nil {
		return fmt.Errorf("failed to create platform: %w", err)
	}
	defer p.Close()

	if err := p.EnsureSystemTenant(cmd.Context()); err != nil {
		return fmt.Errorf("failed to ensure system tenant: %w", err)
	}

	fmt.Printf("Starting burrow %s\n", Version)
	fmt.Printf("  Listen:    %s\n", listen)
	fmt.Printf("  Storage:   %s (%s)\n", db, dataDir)
	fmt.Printf("  Runtime:   %s\n", runtimeAddr)
	fmt.Println()

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	// Periodic sweep
	sweepStop := make(chan struct{})
	if sweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
					if _, err := p.Sweep(ctx); err != nil {
						logger := log.WithComponent("sweeper")
						logger.Warn().Err(err).Msg("sweep incomplete")
					}
					cancel()
				case <-sweepStop:
					return
				}
			}
		}()
		fmt.Printf("✓ Sweeper started (every %s)\n", sweepInterval)
	}

	apiServer := api.NewServer(p, api.Options{RateLimit: rateLimit})
	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(listen); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	fmt.Printf("✓ API listening on %s\n", listen)

	fmt.Println()
	fmt.Println("Control plane is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
	}

	close(sweepStop)
	if err := apiServer.Stop(); err != nil {
		return fmt.Errorf("failed to stop API server: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
