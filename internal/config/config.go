package config

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"lumenfeed-replays"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel  string `envconfig:"OPENAI_MODEL"`
	// Requests per second allowed against the external classifier.
	ClassifierRPS float64 `envconfig:"CLASSIFIER_RPS" default:"2"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Bearer token protecting the internal job-submission API.
	InternalToken string `envconfig:"INTERNAL_TOKEN"`

	ClassificationConcurrency int `envconfig:"CLASSIFICATION_CONCURRENCY" default:"3"`
	SanitizationConcurrency   int `envconfig:"SANITIZATION_CONCURRENCY" default:"2"`
	RetentionConcurrency      int `envconfig:"RETENTION_CONCURRENCY" default:"1"`

	RetentionCron   string `envconfig:"RETENTION_CRON" default:"0 3 * * *"`
	BacklogScanCron string `envconfig:"BACKLOG_SCAN_CRON" default:"0 */6 * * *"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LUMENFEED", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}
