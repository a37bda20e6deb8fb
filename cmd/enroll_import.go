package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/store"
	"github.com/facegate/facegate/internal/vision"
)

var enrollImportCmd = &cobra.Command{
	Use:   "import <directory>",
	Short: "Bulk-enroll identities from a directory of face images",
	Long: `Bulk-enroll identities from a directory tree.
Each subdirectory is one person: the directory name becomes the display
name, and every image inside it is enrolled as one embedding. Images that
do not contain exactly one face are skipped with a warning.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrollImport,
}

func init() {
	enrollCmd.AddCommand(enrollImportCmd)

	enrollImportCmd.Flags().String("population", "employee", "Population to enroll into (employee or visitor)")
	enrollImportCmd.Flags().Int("concurrency", 4, "Number of images processed in parallel")
}

// imageJob is one face image queued for enrollment.
type imageJob struct {
	identityUID string
	displayName string
	path        string
}

func isImageFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// collectImportJobs creates one identity per subdirectory and queues its images.
func collectImportJobs(ctx context.Context, repo *store.IdentityRepository, root, population string) ([]imageJob, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading import directory: %w", err)
	}

	var jobs []imageJob
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}

		files, err := os.ReadDir(filepath.Join(root, dir.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", dir.Name(), err)
		}

		var images []string
		for _, f := range files {
			if !f.IsDir() && isImageFile(f.Name()) {
				images = append(images, filepath.Join(root, dir.Name(), f.Name()))
			}
		}
		if len(images) == 0 {
			fmt.Printf("Skipping %s: no images\n", dir.Name())
			continue
		}

		id, err := repo.CreateIdentity(ctx, population, dir.Name())
		if err != nil {
			return nil, fmt.Errorf("creating identity %s: %w", dir.Name(), err)
		}
		for _, img := range images {
			jobs = append(jobs, imageJob{identityUID: id.UID, displayName: dir.Name(), path: img})
		}
	}
	return jobs, nil
}

// enrollImage runs one image through the sidecar and stores its embedding.
func enrollImage(ctx context.Context, provider vision.Provider, repo *store.IdentityRepository, job imageJob) error {
	image, err := os.ReadFile(job.path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	boxes, err := provider.Detect(ctx, image)
	if err != nil {
		return fmt.Errorf("detecting face: %w", err)
	}
	if len(boxes) != 1 {
		return fmt.Errorf("expected exactly one face, found %d", len(boxes))
	}

	embedding, err := provider.Encode(ctx, image, boxes[0])
	if err != nil {
		return fmt.Errorf("encoding face: %w", err)
	}

	if err := repo.AddEmbedding(ctx, job.identityUID, embedding); err != nil {
		return fmt.Errorf("storing embedding: %w", err)
	}
	return nil
}

func runEnrollImport(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	population := mustGetString(cmd, "population")
	if population != "employee" && population != "visitor" {
		return errors.New("population must be employee or visitor")
	}
	concurrency := mustGetInt(cmd, "concurrency")
	if concurrency < 1 {
		concurrency = 1
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

	repo := store.NewIdentityRepository(pool)
	provider := vision.NewClient(cfg.Vision.URL)

	jobs, err := collectImportJobs(ctx, repo, args[0], population)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("Nothing to import")
		return nil
	}

	fmt.Printf("Enrolling %d images into population %q\n\n", len(jobs), population)

	bar := progressbar.NewOptions(len(jobs),
		progressbar.OptionSetDescription("Enrolling faces"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	var successCount, errorCount int
	var mu sync.Mutex
	var failures []string

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, job := range jobs {
		wg.Add(1)
		go func(job imageJob) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := enrollImage(ctx, provider, repo, job)

			mu.Lock()
			if err != nil {
				errorCount++
				failures = append(failures, fmt.Sprintf("%s: %v", job.path, err))
			} else {
				successCount++
			}
			mu.Unlock()
			bar.Add(1)
		}(job)
	}
	wg.Wait()

	fmt.Printf("\n\nEnrolled %d images, %d failed\n", successCount, errorCount)
	for _, f := range failures {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
