package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Create or update the database schema.
With --vector-index, also build the pgvector ivfflat index. Build it only
after a meaningful number of embeddings exist; ivfflat trains its lists
from the rows present at creation time.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("vector-index", false, "Also build the pgvector ivfflat index")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := store.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	fmt.Println("Migrations applied")

	if mustGetBool(cmd, "vector-index") {
		if err := store.CreateVectorIndex(ctx, pool); err != nil {
			return fmt.Errorf("failed to build vector index: %w", err)
		}
		fmt.Println("Vector index ready")
	}
	return nil
}
