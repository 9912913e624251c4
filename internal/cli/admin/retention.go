package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/lumenfeed/lumenfeed/internal/config"
	"github.com/lumenfeed/lumenfeed/internal/database"
	"github.com/lumenfeed/lumenfeed/internal/repository"
	"github.com/lumenfeed/lumenfeed/internal/service"
	"github.com/lumenfeed/lumenfeed/internal/storage"
)

// RetentionCmd returns the retention command for one-off cleanup sweeps.
func RetentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Run a retention sweep immediately",
		Long:  "Apply each project's retention policy now, outside the scheduled sweep. Deletes expired data permanently.",
		RunE:  runRetention,
	}

	cmd.Flags().String("project", "", "Limit the sweep to a single project ID")

	return cmd
}

func runRetention(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	var objectStore service.ObjectStore
	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		objectStore = s3Client
	} else {
		log.Println("S3 not configured: replay blobs will not be deleted")
		objectStore = &noOpObjectStore{}
	}

	svc := service.NewRetentionService(
		repository.NewProjectRepository(pool),
		repository.NewInteractionCleanup(pool),
		repository.NewSessionRepository(pool),
		repository.NewReplayRepository(pool),
		repository.NewAuditLogRepository(pool),
		objectStore,
	)

	projectID, _ := cmd.Flags().GetString("project")
	if projectID != "" {
		report, err := svc.CleanupProject(ctx, projectID)
		if err != nil {
			return fmt.Errorf("cleanup failed for project %s: %w", projectID, err)
		}
		return printJSON(report)
	}

	if err := svc.SweepAll(ctx); err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}
	fmt.Println("retention sweep complete")
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
