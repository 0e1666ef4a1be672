package cli

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/memento/pkg/adapter"
	"github.com/m-mizutani/memento/pkg/event"
	"github.com/m-mizutani/memento/pkg/format"
	"github.com/m-mizutani/memento/pkg/interfaces"
	"github.com/m-mizutani/memento/pkg/lock"
	"github.com/m-mizutani/memento/pkg/model"
	"github.com/m-mizutani/memento/pkg/oracle"
	"github.com/m-mizutani/memento/pkg/pii"
	"github.com/m-mizutani/memento/pkg/policy"
	"github.com/m-mizutani/memento/pkg/reconcile"
	"github.com/m-mizutani/memento/pkg/repository"
	"github.com/m-mizutani/memento/pkg/usecase/memory"
	"github.com/m-mizutani/memento/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/api/option"
)

const (
	storeMemory    = "memory"
	storeSQLite    = "sqlite"
	storePostgres  = "postgres"
	storeFirestore = "firestore"
	storeGCS       = "gcs"
)

// config holds configuration values
type config struct {
	// Logging
	logLevel  string
	logFormat string

	// Repository
	store       string
	sqlitePath  string
	postgresURL string
	project     string
	database    string
	bucket      string
	prefix      string
	credentials string

	// Lock and events
	redisAddr     string
	redisPassword string
	redisDB       int64
	kafkaBrokers  []string
	kafkaTopic    string
	bqProject     string
	bqDataset     string
	bqTable       string

	// Oracle
	geminiProject  string
	geminiLocation string
	geminiModel    string
	oracleTimeout  time.Duration

	// Memory
	piiConfig    string
	policyDir    string
	style        string
	maxCount     int64
	threshold    int64
	windowSize   int64
	workers      int64
	historyTypes []string
	tieBreak     string

	// filter is built once by newFilter and shared with the log redactor
	filter *pii.Filter
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("MEMENTO_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("MEMENTO_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "pii-config",
			Usage:       "Path to YAML file with PII detection settings",
			Sources:     cli.EnvVars("MEMENTO_PII_CONFIG"),
			Destination: &cfg.piiConfig,
		},
	}
}

// storeFlags returns flags selecting and configuring the fact store
func storeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Aliases:     []string{"s"},
			Usage:       "Fact store (memory, sqlite, postgres, firestore, gcs)",
			Value:       storeSQLite,
			Sources:     cli.EnvVars("MEMENTO_STORE"),
			Destination: &cfg.store,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file",
			Value:       "memento.db",
			Sources:     cli.EnvVars("MEMENTO_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "postgres-url",
			Usage:       "Postgres connection string",
			Sources:     cli.EnvVars("MEMENTO_POSTGRES_URL"),
			Destination: &cfg.postgresURL,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for the gcs store",
			Sources:     cli.EnvVars("MEMENTO_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "prefix",
			Usage:       "Object name prefix for the gcs store",
			Value:       "memento",
			Sources:     cli.EnvVars("MEMENTO_PREFIX"),
			Destination: &cfg.prefix,
		},
		&cli.StringFlag{
			Name:        "credentials",
			Usage:       "Google Cloud service account key file",
			Sources:     cli.EnvVars("GOOGLE_APPLICATION_CREDENTIALS"),
			Destination: &cfg.credentials,
		},
	}
}

// memoryFlags returns flags for the memory pipeline
func memoryFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory with Rego admission policies (package memory.admission)",
			Sources:     cli.EnvVars("MEMENTO_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "style",
			Usage:       "Context style (structured, natural, bullet)",
			Value:       string(format.StyleStructured),
			Sources:     cli.EnvVars("MEMENTO_STYLE"),
			Destination: &cfg.style,
		},
		&cli.IntFlag{
			Name:        "max-count",
			Usage:       "Maximum number of context entries, 0 for no limit",
			Value:       format.DefaultMaxCount,
			Sources:     cli.EnvVars("MEMENTO_MAX_COUNT"),
			Destination: &cfg.maxCount,
		},
		&cli.IntFlag{
			Name:        "threshold",
			Usage:       "User messages required before facts are extracted",
			Value:       memory.DefaultExtractionThreshold,
			Sources:     cli.EnvVars("MEMENTO_EXTRACTION_THRESHOLD"),
			Destination: &cfg.threshold,
		},
		&cli.IntFlag{
			Name:        "window",
			Usage:       "Number of recent messages sent for extraction",
			Value:       memory.DefaultWindowSize,
			Sources:     cli.EnvVars("MEMENTO_WINDOW_SIZE"),
			Destination: &cfg.windowSize,
		},
		&cli.IntFlag{
			Name:        "workers",
			Usage:       "Background updates running at once",
			Value:       memory.DefaultWorkers,
			Sources:     cli.EnvVars("MEMENTO_WORKERS"),
			Destination: &cfg.workers,
		},
		&cli.StringSliceFlag{
			Name:        "history-types",
			Usage:       "Fact types kept as a history of values",
			Value:       []string{string(model.FactTypePreference)},
			Sources:     cli.EnvVars("MEMENTO_HISTORY_TYPES"),
			Destination: &cfg.historyTypes,
		},
		&cli.StringFlag{
			Name:        "tie-break",
			Usage:       "Contradiction resolution within one response (last, confidence)",
			Value:       string(reconcile.TieBreakLast),
			Sources:     cli.EnvVars("MEMENTO_TIE_BREAK"),
			Destination: &cfg.tieBreak,
		},
		&cli.StringFlag{
			Name:        "redis-addr",
			Usage:       "Redis address for the per-user lock shared between processes",
			Sources:     cli.EnvVars("MEMENTO_REDIS_ADDR"),
			Destination: &cfg.redisAddr,
		},
		&cli.StringFlag{
			Name:        "redis-password",
			Usage:       "Redis password",
			Sources:     cli.EnvVars("MEMENTO_REDIS_PASSWORD"),
			Destination: &cfg.redisPassword,
		},
		&cli.IntFlag{
			Name:        "redis-db",
			Usage:       "Redis database number",
			Sources:     cli.EnvVars("MEMENTO_REDIS_DB"),
			Destination: &cfg.redisDB,
		},
		&cli.StringSliceFlag{
			Name:        "kafka-brokers",
			Usage:       "Kafka brokers for memory events",
			Sources:     cli.EnvVars("MEMENTO_KAFKA_BROKERS"),
			Destination: &cfg.kafkaBrokers,
		},
		&cli.StringFlag{
			Name:        "kafka-topic",
			Usage:       "Kafka topic for memory events",
			Value:       event.DefaultTopic,
			Sources:     cli.EnvVars("MEMENTO_KAFKA_TOPIC"),
			Destination: &cfg.kafkaTopic,
		},
		&cli.StringFlag{
			Name:        "bigquery-project",
			Usage:       "Google Cloud project of the BigQuery event table",
			Sources:     cli.EnvVars("MEMENTO_BIGQUERY_PROJECT_ID"),
			Destination: &cfg.bqProject,
		},
		&cli.StringFlag{
			Name:        "bigquery-dataset",
			Usage:       "BigQuery dataset for memory events, events are not stored when empty",
			Sources:     cli.EnvVars("MEMENTO_BIGQUERY_DATASET_ID"),
			Destination: &cfg.bqDataset,
		},
		&cli.StringFlag{
			Name:        "bigquery-table",
			Usage:       "BigQuery table for memory events",
			Value:       event.DefaultTable,
			Sources:     cli.EnvVars("MEMENTO_BIGQUERY_TABLE_ID"),
			Destination: &cfg.bqTable,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model name",
			Value:       adapter.DefaultGenerativeModel,
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.DurationFlag{
			Name:        "oracle-timeout",
			Usage:       "Timeout of one extraction call",
			Value:       oracle.DefaultTimeout,
			Sources:     cli.EnvVars("MEMENTO_ORACLE_TIMEOUT"),
			Destination: &cfg.oracleTimeout,
		},
	}
}

// newFilter builds the PII filter from --pii-config or the defaults
func (cfg *config) newFilter() (*pii.Filter, error) {
	if cfg.filter != nil {
		return cfg.filter, nil
	}

	piiCfg := pii.DefaultConfig()
	if cfg.piiConfig != "" {
		loaded, err := pii.LoadConfig(cfg.piiConfig)
		if err != nil {
			return nil, err
		}
		piiCfg = loaded
	}

	filter, err := pii.New(piiCfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build pii filter")
	}
	cfg.filter = filter
	return filter, nil
}

// setupLogger installs a PII scrubbing logger into ctx and as the default
func (cfg *config) setupLogger(ctx context.Context, w io.Writer) (context.Context, error) {
	filter, err := cfg.newFilter()
	if err != nil {
		return ctx, err
	}
	if w == nil {
		w = os.Stderr
	}

	opts := []logging.Option{logging.WithRedactor(filter.Scrubber)}
	switch cfg.logFormat {
	case "", "console":
	case "json":
		opts = append(opts, logging.WithJSON())
	default:
		return ctx, goerr.New("invalid log format", goerr.V("format", cfg.logFormat))
	}

	logger := logging.New(cfg.logLevel, w, opts...)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

func (cfg *config) clientOptions() []option.ClientOption {
	if cfg.credentials == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.credentials)}
}

// newRepository creates a new repository instance. The returned closer releases connections.
func (cfg *config) newRepository(ctx context.Context) (interfaces.Repository, func(), error) {
	noop := func() {}

	switch cfg.store {
	case storeMemory:
		return repository.NewMemory(), noop, nil

	case storeSQLite:
		if cfg.sqlitePath == "" {
			return nil, nil, goerr.New("sqlite-path is required")
		}
		repo, err := repository.NewSQLite(ctx, cfg.sqlitePath)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to open sqlite store")
		}
		return repo, closer(ctx, repo), nil

	case storePostgres:
		if cfg.postgresURL == "" {
			return nil, nil, goerr.New("postgres-url is required")
		}
		repo, err := repository.NewPostgres(ctx, cfg.postgresURL)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to open postgres store")
		}
		return repo, closer(ctx, repo), nil

	case storeFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required")
		}
		repo, err := repository.NewFirestore(ctx, cfg.project, cfg.database, cfg.clientOptions())
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create firestore store")
		}
		return repo, closer(ctx, repo), nil

	case storeGCS:
		if cfg.bucket == "" {
			return nil, nil, goerr.New("bucket is required")
		}
		storage, err := adapter.NewStorage(ctx, cfg.bucket, cfg.clientOptions()...)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create storage")
		}
		return repository.NewObjectStore(storage, cfg.prefix), noop, nil

	default:
		return nil, nil, goerr.New("unknown store", goerr.V("store", cfg.store))
	}
}

// newGemini creates a new Gemini adapter instance
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create gemini client")
	}
	return gemini, nil
}

// newLocker returns a Redis lock when redis-addr is set, otherwise an in-process lock
func (cfg *config) newLocker(ctx context.Context) (lock.Locker, func(), error) {
	if cfg.redisAddr == "" {
		return lock.NewLocal(), func() {}, nil
	}

	locker, err := lock.NewRedis(ctx, cfg.redisAddr, cfg.redisPassword, int(cfg.redisDB))
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to connect redis", goerr.V("addr", cfg.redisAddr))
	}
	return locker, closer(ctx, locker), nil
}

// newEmitter always logs events and also publishes them to Kafka and BigQuery when configured
func (cfg *config) newEmitter(ctx context.Context) (event.Emitter, func(), error) {
	emitters := event.Multi{event.NewLogger()}
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if len(cfg.kafkaBrokers) > 0 {
		kafka, err := event.NewKafka(cfg.kafkaBrokers, cfg.kafkaTopic)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create kafka emitter")
		}
		emitters = append(emitters, kafka)
		closers = append(closers, closer(ctx, kafka))
	}

	if cfg.bqDataset != "" {
		projectID := cfg.bqProject
		if projectID == "" {
			projectID = cfg.project
		}
		bq, err := event.NewBigQuery(ctx, projectID, cfg.bqDataset, cfg.bqTable, cfg.clientOptions()...)
		if err != nil {
			closeAll()
			return nil, nil, goerr.Wrap(err, "failed to create bigquery emitter")
		}
		closers = append(closers, closer(ctx, bq))
		if err := bq.CreateTable(ctx); err != nil {
			closeAll()
			return nil, nil, err
		}
		emitters = append(emitters, bq)
	}

	if len(emitters) == 1 {
		return emitters[0], closeAll, nil
	}
	return emitters, closeAll, nil
}

func (cfg *config) memoryOptions(ctx context.Context) ([]memory.Option, error) {
	filter, err := cfg.newFilter()
	if err != nil {
		return nil, err
	}

	style := format.Style(cfg.style)
	if err := style.Validate(); err != nil {
		return nil, err
	}
	tieBreak := reconcile.TieBreak(cfg.tieBreak)
	if err := tieBreak.Validate(); err != nil {
		return nil, err
	}

	var historyTypes []model.FactType
	for _, t := range cfg.historyTypes {
		ft := model.FactType(t)
		if err := ft.Validate(); err != nil {
			return nil, goerr.Wrap(err, "invalid history type")
		}
		historyTypes = append(historyTypes, ft)
	}

	admission, err := policy.LoadAdmission(ctx, cfg.policyDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to load admission policy")
	}

	return []memory.Option{
		memory.WithFilter(filter),
		memory.WithEngine(reconcile.New(
			reconcile.WithHistoryTypes(historyTypes...),
			reconcile.WithTieBreak(tieBreak),
		)),
		memory.WithFormatter(format.New(format.WithHistoryTypes(historyTypes...))),
		memory.WithAdmission(admission),
		memory.WithStyle(style),
		memory.WithMaxCount(int(cfg.maxCount)),
		memory.WithExtractionThreshold(int(cfg.threshold)),
		memory.WithWindowSize(int(cfg.windowSize)),
		memory.WithWorkers(int(cfg.workers)),
	}, nil
}

// newUseCase wires the memory pipeline. extractor may be nil for commands that
// never extract. The returned closer releases every backend.
func (cfg *config) newUseCase(ctx context.Context, extractor memory.Oracle) (*memory.UseCase, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	opts, err := cfg.memoryOptions(ctx)
	if err != nil {
		return nil, nil, err
	}

	repo, closeRepo, err := cfg.newRepository(ctx)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, closeRepo)

	locker, closeLocker, err := cfg.newLocker(ctx)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, closeLocker)

	emitter, closeEmitter, err := cfg.newEmitter(ctx)
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	closers = append(closers, closeEmitter)

	opts = append(opts, memory.WithLocker(locker), memory.WithEmitter(emitter))
	return memory.New(repo, extractor, opts...), closeAll, nil
}

// newExtractor creates the Gemini backed extraction oracle
func (cfg *config) newExtractor(ctx context.Context) (*oracle.Extractor, adapter.Gemini, error) {
	gemini, err := cfg.newGemini(ctx)
	if err != nil {
		return nil, nil, err
	}
	return oracle.NewExtractor(gemini, oracle.WithTimeout(cfg.oracleTimeout)), gemini, nil
}

func closer(ctx context.Context, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			logging.From(ctx).Warn("failed to close", "error", err)
		}
	}
}
