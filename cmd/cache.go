package cmd

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/match"
	"github.com/facegate/facegate/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the in-memory identity caches",
}

var cacheVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Cross-check the in-memory index against pgvector",
	Long: `Rebuild the in-memory identity caches and verify every stored embedding
resolves to the same identity through the ball-tree as through a pgvector
nearest-neighbour query. Distances may drift slightly because the mirror
column stores float32.`,
	RunE: runCacheVerify,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheVerifyCmd)

	cacheVerifyCmd.Flags().Float64("tolerance", 1e-3, "Maximum allowed distance drift between index and pgvector")
}

// verifyPopulation replays every stored embedding of one population through
// both lookup paths and counts disagreements.
func verifyPopulation(ctx context.Context, repo *store.IdentityRepository, t config.TuningConfig, population string, drift float64) (int, int, error) {
	source := repo.Source(population)
	cache := match.NewIdentityCache(source, match.CacheOptions{
		IndexThreshold: t.Matching.IndexThreshold,
		LeafSize:       t.Matching.LeafSize,
		MaxPerIdentity: t.Matching.MaxEmbeddingsPerIdentity,
		Name:           population,
	})

	entries, err := source.ListActiveEmbeddings(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("listing embeddings: %w", err)
	}
	if len(entries) == 0 {
		return 0, 0, nil
	}

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetDescription(fmt.Sprintf("Verifying %s", population)),
		progressbar.OptionShowCount(),
		progressbar.OptionFullWidth(),
	)

	var mismatches int
	for _, entry := range entries {
		vec, err := match.DecodeEmbedding(entry.Data)
		if err != nil {
			fmt.Printf("\nSkipping malformed embedding for %s: %v\n", entry.IdentityKey, err)
			bar.Add(1)
			continue
		}

		m, ok, err := cache.Query(ctx, vec, math.MaxFloat64)
		if err != nil {
			return 0, 0, fmt.Errorf("cache query: %w", err)
		}

		pgKey, pgDist, err := repo.NearestByVector(ctx, population, vec)
		if err != nil {
			return 0, 0, fmt.Errorf("pgvector query: %w", err)
		}

		// An embedding past the per-identity cap is absent from the cache;
		// its own identity must still win through pgvector.
		if !ok {
			if pgKey != entry.IdentityKey {
				mismatches++
			}
			bar.Add(1)
			continue
		}

		if m.IdentityKey != pgKey || math.Abs(m.Distance-pgDist) > drift {
			mismatches++
			fmt.Printf("\nMismatch for %s: index=%s (%.6f) pgvector=%s (%.6f)\n",
				entry.IdentityKey, m.IdentityKey, m.Distance, pgKey, pgDist)
		}
		bar.Add(1)
	}

	return len(entries), mismatches, nil
}

func runCacheVerify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	drift, err := cmd.Flags().GetFloat64("tolerance")
	if err != nil {
		return err
	}

	pool, err := store.NewPool(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	repo := store.NewIdentityRepository(pool)

	var total, bad int
	for _, population := range []string{"employee", "visitor"} {
		checked, mismatches, err := verifyPopulation(ctx, repo, cfg.Tuning, population, drift)
		if err != nil {
			return fmt.Errorf("verifying %s: %w", population, err)
		}
		fmt.Printf("\n%s: %d embeddings checked, %d mismatches\n", population, checked, mismatches)
		total += checked
		bad += mismatches
	}

	if bad > 0 {
		return fmt.Errorf("%d of %d embeddings disagree between index and pgvector", bad, total)
	}
	fmt.Printf("All %d embeddings agree\n", total)
	return nil
}
