package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8080" yaml:"port"`
	Debug     bool   `envconfig:"DEBUG" default:"false" yaml:"debug"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info" yaml:"log_level"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json" yaml:"log_format"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true" yaml:"database_url"`

	S3Endpoint      string `envconfig:"S3_ENDPOINT" yaml:"s3_endpoint"`
	S3AccessKey     string `envconfig:"S3_ACCESS_KEY_ID" yaml:"s3_access_key_id"`
	S3SecretKey     string `envconfig:"S3_SECRET_ACCESS_KEY" yaml:"s3_secret_access_key"`
	S3Bucket        string `envconfig:"S3_BUCKET" default:"taisearch-resources" yaml:"s3_bucket"`
	S3Region        string `envconfig:"S3_REGION" default:"us-east-1" yaml:"s3_region"`
	S3PublicBaseURL string `envconfig:"S3_PUBLIC_BASE_URL" yaml:"s3_public_base_url"`

	// OpenAIAPIKey wins when set; otherwise the key is resolved by name
	// through SecretsProvider ("env" or "aws").
	SecretsProvider     string `envconfig:"SECRETS_PROVIDER" default:"env" yaml:"secrets_provider"`
	OpenAIAPIKeySecret  string `envconfig:"OPENAI_API_KEY_SECRET" default:"OPENAI_API_KEY" yaml:"openai_api_key_secret"`
	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY" yaml:"openai_api_key"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL" yaml:"openai_base_url"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-ada-002" yaml:"embedding_model"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536" yaml:"embedding_dimensions"`
	EmbeddingBatchSize  int    `envconfig:"EMBEDDING_BATCH_SIZE" default:"100" yaml:"embedding_batch_size"`
	EmbeddingMaxWorkers int    `envconfig:"EMBEDDING_MAX_WORKERS" default:"10" yaml:"embedding_max_workers"`
	SparseSubBatchSize  int    `envconfig:"SPARSE_SUB_BATCH_SIZE" default:"50" yaml:"sparse_sub_batch_size"`

	// Backpressure thresholds for index-time sparse encoding.
	BackpressureMaxMemoryPercent float64       `envconfig:"BACKPRESSURE_MAX_MEMORY_PERCENT" default:"80" yaml:"backpressure_max_memory_percent"`
	BackpressureMaxCPUPercent    float64       `envconfig:"BACKPRESSURE_MAX_CPU_PERCENT" default:"70" yaml:"backpressure_max_cpu_percent"`
	BackpressurePollInterval     time.Duration `envconfig:"BACKPRESSURE_POLL_INTERVAL" default:"5s" yaml:"backpressure_poll_interval"`

	// Admission control thresholds for create requests.
	AdmissionMaxCPUPercent    float64 `envconfig:"ADMISSION_MAX_CPU_PERCENT" default:"98" yaml:"admission_max_cpu_percent"`
	AdmissionMaxMemoryPercent float64 `envconfig:"ADMISSION_MAX_MEMORY_PERCENT" default:"98" yaml:"admission_max_memory_percent"`
	AdmissionMinAvailableMB   uint64  `envconfig:"ADMISSION_MIN_AVAILABLE_MB" default:"1000" yaml:"admission_min_available_mb"`

	VectorBatchSize   int  `envconfig:"VECTOR_BATCH_SIZE" default:"100" yaml:"vector_batch_size"`
	VectorConcurrency int  `envconfig:"VECTOR_CONCURRENCY" default:"50" yaml:"vector_concurrency"`
	Serverless        bool `envconfig:"SERVERLESS" default:"false" yaml:"serverless"`

	ProcessingTimeout time.Duration `envconfig:"PROCESSING_TIMEOUT" default:"30m" yaml:"processing_timeout"`
	RetryAttempts     int           `envconfig:"RETRY_ATTEMPTS" default:"3" yaml:"retry_attempts"`
	RetryDelay        time.Duration `envconfig:"RETRY_DELAY" default:"5s" yaml:"retry_delay"`

	DownloadTimeout time.Duration `envconfig:"DOWNLOAD_TIMEOUT" default:"10s" yaml:"download_timeout"`
	ScratchDir      string        `envconfig:"SCRATCH_DIR" default:"/tmp" yaml:"scratch_dir"`
	TimedTextURL    string        `envconfig:"TIMEDTEXT_URL" default:"https://video.google.com/timedtext" yaml:"timedtext_url"`
	CrawlPDFPages   bool          `envconfig:"CRAWL_PDF_PAGES" default:"false" yaml:"crawl_pdf_pages"`
	PDFRenderer     string        `envconfig:"PDF_RENDERER" default:"pdftoppm" yaml:"pdf_renderer"`
	MigrationsDir   string        `envconfig:"MIGRATIONS_DIR" default:"migrations" yaml:"migrations_dir"`

	RedisAddr        string `envconfig:"REDIS_ADDR" yaml:"redis_addr"`
	RedisPassword    string `envconfig:"REDIS_PASSWORD" yaml:"redis_password"`
	ArchiveStream    string `envconfig:"ARCHIVE_STREAM" default:"taisearch:queries" yaml:"archive_stream"`
	QueueName        string `envconfig:"QUEUE_NAME" default:"indexing" yaml:"queue_name"`
	QueueConcurrency int    `envconfig:"QUEUE_CONCURRENCY" default:"4" yaml:"queue_concurrency"`
	QueueMaxRetry    int    `envconfig:"QUEUE_MAX_RETRY" default:"3" yaml:"queue_max_retry"`
	RunnerPoolSize   int    `envconfig:"RUNNER_POOL_SIZE" default:"8" yaml:"runner_pool_size"`

	// Pending resources untouched for SweepGrace are handed to the
	// scheduler again every SweepInterval.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m" yaml:"sweep_interval"`
	SweepGrace    time.Duration `envconfig:"SWEEP_GRACE" default:"5m" yaml:"sweep_grace"`

	SentryDSN   string `envconfig:"SENTRY_DSN" yaml:"sentry_dsn"`
	Environment string `envconfig:"ENVIRONMENT" default:"development" yaml:"environment"`
}

// Load reads configuration from the environment (and a .env file when
// present). When TAISEARCH_CONFIG_FILE names a YAML file, keys set in that
// file override the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("TAISEARCH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if path := os.Getenv("TAISEARCH_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	// Serverless runtimes forbid background goroutines outliving a request.
	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		cfg.Serverless = true
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

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Bucket != "" && (c.S3Endpoint == "" || (c.S3AccessKey != "" && c.S3SecretKey != ""))
}

func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
