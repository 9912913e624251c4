package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/lumenfeed/lumenfeed/internal/api/handlers"
	"github.com/lumenfeed/lumenfeed/internal/cache"
	"github.com/lumenfeed/lumenfeed/internal/classifier"
	"github.com/lumenfeed/lumenfeed/internal/config"
	"github.com/lumenfeed/lumenfeed/internal/database"
	"github.com/lumenfeed/lumenfeed/internal/domain"
	"github.com/lumenfeed/lumenfeed/internal/queue"
	"github.com/lumenfeed/lumenfeed/internal/repository"
	"github.com/lumenfeed/lumenfeed/internal/server"
	"github.com/lumenfeed/lumenfeed/internal/service"
	"github.com/lumenfeed/lumenfeed/internal/storage"
	"github.com/lumenfeed/lumenfeed/internal/telemetry"
)

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pipeline workers and internal API",
		Long:  "Start the analysis pipeline: job queues, scheduled sweeps and the internal ops API",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "8080", "Port to listen on")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

type classificationPayload struct {
	InteractionID string `json:"interaction_id"`
}

type sanitizationPayload struct {
	ReplayID string `json:"replay_id"`
}

type retentionPayload struct {
	ProjectID string `json:"project_id"`
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		environment := os.Getenv("ENVIRONMENT")
		if environment == "" {
			environment = "development"
		}

		sampleRate := 0.1
		if environment == "development" {
			sampleRate = 1.0
		}

		shutdownTelemetry, err := telemetry.Init(telemetry.Config{
			DSN:              dsn,
			Environment:      environment,
			TracesSampleRate: sampleRate,
			Debug:            cfg.Debug,
		})
		if err != nil {
			log.Printf("telemetry init failed (continuing without tracing): %v", err)
		} else {
			defer shutdownTelemetry()
		}
	}

	portFlag, _ := cmd.Flags().GetString("port")
	if portFlag != "" && portFlag != "8080" {
		cfg.Port = portFlag
	}

	pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()
	log.Println("connected to database")

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	if !noMigrate {
		if err := runMigrations(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	jobRepo := repository.NewJobRepository(pool)
	interactionRepo := repository.NewInteractionRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)
	sessionRepo := repository.NewSessionRepository(pool)
	replayRepo := repository.NewReplayRepository(pool)
	auditLogRepo := repository.NewAuditLogRepository(pool)
	interactionCleanup := repository.NewInteractionCleanup(pool)

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
		if err := s3Client.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		log.Printf("S3 bucket '%s' ready", cfg.S3Bucket)
		objectStore = s3Client
	} else {
		log.Println("S3 not configured: replay sanitization disabled, retention skips blob deletion")
		objectStore = &noOpObjectStore{}
	}

	var settingsCache *cache.SettingsCache
	if cfg.HasRedis() {
		settingsCache, err = cache.NewSettingsCache(ctx, cache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("redis unavailable (continuing without settings cache): %v", err)
			settingsCache = nil
		} else {
			defer settingsCache.Close()
			log.Println("settings cache connected")
		}
	}

	var duplicateClassifier classifier.DuplicateClassifier
	if cfg.HasOpenAI() {
		duplicateClassifier = classifier.NewClientWithConfig(classifier.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			RPS:    cfg.ClassifierRPS,
		})
		log.Println("external duplicate classifier enabled")
	}

	classificationSvc := service.NewClassificationService(interactionRepo, projectRepo, duplicateClassifier, settingsCache)
	sanitizationSvc := service.NewSanitizationService(replayRepo, objectStore)
	retentionSvc := service.NewRetentionService(projectRepo, interactionCleanup, sessionRepo, replayRepo, auditLogRepo, objectStore)

	manager := queue.NewManager(jobRepo)

	manager.Register(domain.QueueClassification, cfg.ClassificationConcurrency, func(ctx context.Context, payload json.RawMessage) error {
		var p classificationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		result, err := classificationSvc.Classify(ctx, p.InteractionID)
		if err != nil {
			return err
		}
		log.Printf("Classified interaction %s: status=%s group=%s", p.InteractionID, result.Status, result.GroupID)
		return nil
	})

	if cfg.HasS3() {
		manager.Register(domain.QueueSanitization, cfg.SanitizationConcurrency, func(ctx context.Context, payload json.RawMessage) error {
			var p sanitizationPayload
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			result, err := sanitizationSvc.Sanitize(ctx, p.ReplayID)
			if err != nil {
				return err
			}
			log.Printf("Sanitized replay %s: status=%s events=%d", p.ReplayID, result.Status, result.EventCount)
			return nil
		})
	}

	manager.Register(domain.QueueRetention, cfg.RetentionConcurrency, func(ctx context.Context, payload json.RawMessage) error {
		var p retentionPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
		_, err := retentionSvc.CleanupProject(ctx, p.ProjectID)
		return err
	})

	// Daily retention sweep: one job per project so a failing project does
	// not block the rest and the destructive work stays serialized.
	if err := manager.Schedule(cfg.RetentionCron, func() {
		scheduleCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()

		projectIDs, err := projectRepo.ListProjectIDs(scheduleCtx)
		if err != nil {
			log.Printf("Retention schedule: error listing projects: %v", err)
			return
		}
		for _, projectID := range projectIDs {
			if _, err := manager.Enqueue(scheduleCtx, domain.QueueRetention, retentionPayload{ProjectID: projectID}); err != nil {
				log.Printf("Retention schedule: error enqueueing project %s: %v", projectID, err)
			}
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule retention sweep: %w", err)
	}

	// Periodic backlog scan catches interactions created while
	// classification was disabled or during outages.
	if err := manager.Schedule(cfg.BacklogScanCron, func() {
		scanCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()

		if err := classificationSvc.ScanBacklog(scanCtx); err != nil {
			log.Printf("Backlog scan failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule backlog scan: %w", err)
	}

	manager.Start(ctx)

	router := server.NewRouter(server.RouterConfig{
		InternalToken:    cfg.InternalToken,
		HealthHandler:    handlers.NewHealthHandler(pool),
		JobsHandler:      handlers.NewJobsHandler(manager, jobRepo),
		RetentionHandler: handlers.NewRetentionHandler(manager, projectRepo),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")

	manager.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Println("server exited")
	return nil
}

func runMigrations(databaseURL string) error {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Println("migrations applied")
	return nil
}

// noOpObjectStore stands in when S3 is not configured. Reads miss and
// deletes are skipped so retention can still prune relational rows.
type noOpObjectStore struct{}

func (noOpObjectStore) GetObject(ctx context.Context, key string) ([]byte, error) {
	return nil, storage.ErrObjectNotFound
}

func (noOpObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	return fmt.Errorf("object storage not configured")
}

func (noOpObjectStore) DeleteObjects(ctx context.Context, keys []string) error {
	log.Printf("object storage not configured: skipped deleting %d keys", len(keys))
	return nil
}
