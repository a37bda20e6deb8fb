package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/attendance"
	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/match"
	"github.com/facegate/facegate/internal/ratelimit"
	"github.com/facegate/facegate/internal/settings"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/vision"
	"github.com/facegate/facegate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the attendance server",
	Long: `Start the Facegate attendance server.
The server exposes the kiosk scan endpoint and the admin API for
identities, sites, events, and runtime settings.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

// buildCaches creates the per-population identity caches over the store.
func buildCaches(identities *store.IdentityRepository, t config.TuningConfig) (*match.IdentityCache, *match.IdentityCache) {
	opts := match.CacheOptions{
		IndexThreshold: t.Matching.IndexThreshold,
		LeafSize:       t.Matching.LeafSize,
		MaxPerIdentity: t.Matching.MaxEmbeddingsPerIdentity,
	}

	employeeOpts := opts
	employeeOpts.Name = "employees"
	visitorOpts := opts
	visitorOpts.Name = "visitors"

	employees := match.NewIdentityCache(identities.Source("employee"), employeeOpts)
	visitors := match.NewIdentityCache(identities.Source("visitor"), visitorOpts)
	return employees, visitors
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Printf("Connecting to PostgreSQL database...\n")
	pool, err := store.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	identityRepo := store.NewIdentityRepository(pool)
	siteRepo := store.NewSiteRepository(pool)
	eventRepo := store.NewEventRepository(pool)
	settingsRepo := store.NewSettingsRepository(pool)

	employees, visitors := buildCaches(identityRepo, cfg.Tuning)
	provider := settings.NewProvider(settingsRepo, settings.DefaultTTL)

	engine := attendance.NewEngine(attendance.Deps{
		Employees:      employees,
		Visitors:       visitors,
		Events:         eventRepo,
		Sites:          siteRepo,
		Settings:       provider,
		Tuning:         cfg.Tuning,
		FallbackSiteID: cfg.Kiosk.FallbackSiteID,
	})

	rl := cfg.Tuning.RateLimit
	scanLimit := ratelimit.New(ratelimit.Config{
		MaxRequests:   rl.MaxRequests,
		WindowSeconds: rl.WindowSeconds,
		Burst:         rl.Burst,
	})
	apiLimit := ratelimit.New(ratelimit.Config{
		MaxRequests:   rl.MaxRequests * 4,
		WindowSeconds: rl.WindowSeconds,
		Burst:         rl.Burst,
	})

	port, host := resolveServeHostPort(cmd)

	server := web.NewServer(cfg, web.Deps{
		Engine:     engine,
		Vision:     vision.NewClient(cfg.Vision.URL),
		Identities: identityRepo,
		Sites:      siteRepo,
		Events:     eventRepo,
		Settings:   settingsRepo,
		Provider:   provider,
		Employees:  employees,
		Visitors:   visitors,
		ScanLimit:  scanLimit,
		APILimit:   apiLimit,
	}, port, host)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting Facegate on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
