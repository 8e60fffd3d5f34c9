package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/taisearch/internal/archive"
	"github.com/cloo-solutions/taisearch/internal/backend"
	"github.com/cloo-solutions/taisearch/internal/config"
	"github.com/cloo-solutions/taisearch/internal/database"
	"github.com/cloo-solutions/taisearch/internal/embedding"
	"github.com/cloo-solutions/taisearch/internal/indexer"
	"github.com/cloo-solutions/taisearch/internal/ingest"
	"github.com/cloo-solutions/taisearch/internal/jobs"
	"github.com/cloo-solutions/taisearch/internal/loader"
	"github.com/cloo-solutions/taisearch/internal/openai"
	"github.com/cloo-solutions/taisearch/internal/repository"
	"github.com/cloo-solutions/taisearch/internal/resource"
	"github.com/cloo-solutions/taisearch/internal/retry"
	"github.com/cloo-solutions/taisearch/internal/secrets"
	"github.com/cloo-solutions/taisearch/internal/storage"
	"github.com/cloo-solutions/taisearch/internal/sysload"
	"github.com/cloo-solutions/taisearch/internal/telemetry"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// archiveMaxLen bounds the query archive stream.
const archiveMaxLen = 100_000

// app is every long-lived component of a taisearchd process.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	policy  retry.Policy
	pool    *pgxpool.Pool
	store   *repository.DocumentStore
	sampler sysload.Sampler
	backend *backend.Backend

	redis       *redis.Client
	queueClient *asynq.Client
	queue       *jobs.Queue

	closers []func()
}

// loadApp reads configuration and builds the logger. Components are wired
// by connect.
func loadApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := telemetry.NewLogger(telemetry.LoggerConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return &app{
		cfg:     cfg,
		logger:  logger,
		policy:  retry.NewPolicy(cfg.RetryAttempts, cfg.RetryDelay, logger),
		sampler: sysload.NewHostSampler(),
	}, nil
}

func (a *app) admissionThresholds() sysload.Thresholds {
	return sysload.Thresholds{
		MaxCPUPercent:    a.cfg.AdmissionMaxCPUPercent,
		MaxMemoryPercent: a.cfg.AdmissionMaxMemoryPercent,
		MinAvailableMB:   a.cfg.AdmissionMinAvailableMB,
	}
}

// initTelemetry starts Sentry when a DSN is configured. Failures are logged
// and the process continues untraced.
func (a *app) initTelemetry() {
	if !a.cfg.HasSentry() {
		return
	}
	sampleRate := 0.1
	if a.cfg.Environment == "development" {
		sampleRate = 1.0
	}
	shutdown, err := telemetry.Init(telemetry.Config{
		DSN:              a.cfg.SentryDSN,
		Environment:      a.cfg.Environment,
		TracesSampleRate: sampleRate,
		Debug:            a.cfg.Debug,
		Logger:           a.logger,
	})
	if err != nil {
		a.logger.WithError(err).Warn("telemetry init failed, continuing without tracing")
		return
	}
	a.closers = append(a.closers, shutdown)
}

// connectDB opens the Postgres pool.
func (a *app) connectDB(ctx context.Context) error {
	pool, err := database.NewPool(ctx, database.Config{URL: a.cfg.DatabaseURL})
	if err != nil {
		return err
	}
	a.pool = pool
	a.store = repository.NewDocumentStore(pool)
	a.closers = append(a.closers, pool.Close)
	a.logger.Debug("connected to database")
	return nil
}

// connectRedis opens the archive client and the asynq client when Redis is
// configured.
func (a *app) connectRedis() {
	if !a.cfg.HasRedis() {
		return
	}
	a.redis = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword})
	a.queueClient = asynq.NewClient(a.redisConnOpt())
	a.queue = jobs.NewQueue(a.queueClient, jobs.QueueConfig{
		Name:     a.cfg.QueueName,
		MaxRetry: a.cfg.QueueMaxRetry,
	}, a.logger)
	a.closers = append(a.closers,
		func() { _ = a.queueClient.Close() },
		func() { _ = a.redis.Close() },
	)
}

func (a *app) redisConnOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: a.cfg.RedisAddr, Password: a.cfg.RedisPassword}
}

// connect wires the backend and everything beneath it.
func (a *app) connect(ctx context.Context) error {
	if err := a.connectDB(ctx); err != nil {
		return err
	}
	a.connectRedis()

	var (
		uploader resource.Uploader
		objects  ingest.ObjectSource
	)
	if a.cfg.HasS3() {
		s3, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        a.cfg.S3Endpoint,
			Region:          a.cfg.S3Region,
			AccessKeyID:     a.cfg.S3AccessKey,
			SecretAccessKey: a.cfg.S3SecretKey,
			Bucket:          a.cfg.S3Bucket,
			UsePathStyle:    a.cfg.S3Endpoint != "",
			PublicBaseURL:   a.cfg.S3PublicBaseURL,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		a.logger.WithField("bucket", a.cfg.S3Bucket).Debug("S3 bucket ready")
		uploader, objects = s3, s3
	} else {
		a.logger.Warn("object storage not configured; uploads and s3 sources are disabled")
	}

	apiKey, err := a.openAIKey(ctx)
	if err != nil {
		return err
	}
	dense := openai.New(openai.Config{
		APIKey:              apiKey,
		BaseURL:             a.cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(a.cfg.EmbeddingModel),
		EmbeddingDimensions: a.cfg.EmbeddingDimensions,
	})

	gate := sysload.NewGate(a.sampler, sysload.Thresholds{
		MaxCPUPercent:    a.cfg.BackpressureMaxCPUPercent,
		MaxMemoryPercent: a.cfg.BackpressureMaxMemoryPercent,
	}, a.cfg.BackpressurePollInterval, a.logger)
	engine := embedding.NewEngine(embedding.Config{
		BatchSize:          a.cfg.EmbeddingBatchSize,
		MaxWorkers:         a.cfg.EmbeddingMaxWorkers,
		SparseSubBatchSize: a.cfg.SparseSubBatchSize,
	}, dense, gate, a.policy, a.logger)

	pages := resource.PDFCPUSplitter{}
	var publisher archive.Publisher = archive.NoopPublisher{}
	if a.redis != nil {
		publisher = archive.NewRedisStreamPublisher(a.redis, a.cfg.ArchiveStream, archiveMaxLen)
	}

	vectors := repository.NewVectorRepository(a.pool, repository.VectorConfig{
		BatchSize:   a.cfg.VectorBatchSize,
		Concurrency: a.cfg.VectorConcurrency,
		Serverless:  a.cfg.Serverless,
	}, a.logger)

	ix := indexer.New(indexer.Config{Serverless: a.cfg.Serverless}, indexer.Deps{
		Ingestor: ingest.NewIngestor(ingest.Config{
			ScratchDir:      a.cfg.ScratchDir,
			DownloadTimeout: a.cfg.DownloadTimeout,
		}, ingest.NewHTTPFetcher(a.cfg.DownloadTimeout), objects, a.logger),
		Crawler:   resource.NewCrawler(a.cfg.CrawlPDFPages, pages),
		Utilities: resource.NewUtilities(uploader, resource.PDFToPPM{Binary: a.cfg.PDFRenderer}, pages, a.logger),
		Chunker:   loader.NewRegistry(loader.NewTimedTextFetcher(a.cfg.TimedTextURL, a.cfg.DownloadTimeout)),
		Embedder:  engine,
		Documents: a.store,
		Vectors:   vectors,
		Archive:   publisher,
	}, a.policy, a.logger)

	admission := sysload.NewAdmission(a.sampler, a.admissionThresholds(), a.logger)
	a.backend = backend.New(backend.Config{ProcessingTimeout: a.cfg.ProcessingTimeout},
		admission, ix, a.store, vectors, a.policy, a.logger)
	return nil
}

// openAIKey prefers an explicit key and otherwise resolves it through the
// configured secrets provider.
func (a *app) openAIKey(ctx context.Context) (string, error) {
	if a.cfg.OpenAIAPIKey != "" {
		return a.cfg.OpenAIAPIKey, nil
	}
	provider, err := secrets.NewProvider(ctx, a.cfg.SecretsProvider, a.cfg.S3Region)
	if err != nil {
		return "", err
	}
	key, err := secrets.Resolve(ctx, provider, a.policy, a.cfg.OpenAIAPIKeySecret)
	if err != nil {
		return "", fmt.Errorf("failed to resolve openai api key: %w", err)
	}
	if key == "" {
		return "", openai.ErrNoAPIKey
	}
	return key, nil
}

// close releases components in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
