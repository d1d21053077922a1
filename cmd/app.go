// Package cmd provides CLI commands for the penf-meetings service.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/otherjamesbrown/penf-meetings/config"
	"github.com/otherjamesbrown/penf-meetings/pkg/ai/structuring"
	"github.com/otherjamesbrown/penf-meetings/pkg/ai/transcription"
	"github.com/otherjamesbrown/penf-meetings/pkg/audio"
	"github.com/otherjamesbrown/penf-meetings/pkg/buildinfo"
	"github.com/otherjamesbrown/penf-meetings/pkg/db"
	"github.com/otherjamesbrown/penf-meetings/pkg/diarization"
	"github.com/otherjamesbrown/penf-meetings/pkg/events"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
	"github.com/otherjamesbrown/penf-meetings/pkg/meetings"
	"github.com/otherjamesbrown/penf-meetings/pkg/notify"
	"github.com/otherjamesbrown/penf-meetings/pkg/observability"
	"github.com/otherjamesbrown/penf-meetings/pkg/pipeline"
	"github.com/otherjamesbrown/penf-meetings/pkg/secrets"
)

// Database connection attempts made at startup.
const (
	dbConnectAttempts = 5
	dbConnectDelay    = 2 * time.Second
)

// App holds the wired service components.
type App struct {
	Config   *config.ServiceConfig
	Logger   logging.Logger
	Store    meetings.Store
	Pool     *pgxpool.Pool
	Registry *prometheus.Registry
	Metrics  *observability.Metrics
	Pipeline *pipeline.Pipeline
	Diarizer *diarization.Diarizer

	closers []io.Closer
}

// Close releases connections held by the app.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.Logger.Warn("Failed to close resource", logging.Err(err))
		}
	}
	db.Close(a.Pool)
}

// CommandDeps holds the dependencies shared by commands.
type CommandDeps struct {
	LoadConfig func() (*config.ServiceConfig, error)
	BuildApp   func(context.Context, *config.ServiceConfig, logging.Logger) (*App, error)
	Secrets    func(useKeyring bool) SecretStore
	Out        io.Writer
}

// SecretStore is the subset of secrets.Resolver used by commands.
type SecretStore interface {
	Get(name string) (string, error)
	Optional(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
}

// DefaultDeps returns the default dependencies for production use.
func DefaultDeps() *CommandDeps {
	return &CommandDeps{
		LoadConfig: config.LoadConfig,
		BuildApp:   BuildApp,
		Secrets: func(useKeyring bool) SecretStore {
			return secrets.NewResolver(useKeyring)
		},
		Out: os.Stdout,
	}
}

// NewLogger builds the service logger from configuration.
func NewLogger(cfg *config.ServiceConfig) logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:       logging.Level(cfg.Logging.Level),
		ServiceName: buildinfo.ServiceName,
		Environment: cfg.Environment,
		JSONFormat:  cfg.Logging.Format == "json",
		Output:      os.Stderr,
	})
}

// BuildApp connects every dependency named in cfg and wires the pipelines.
func BuildApp(ctx context.Context, cfg *config.ServiceConfig, logger logging.Logger) (*App, error) {
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildinfo.Collector(observability.Namespace),
	)
	app.Metrics = observability.NewMetrics(app.Registry)

	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}

	resolver := secrets.NewResolver(cfg.UseKeyring)
	apiKey, err := resolver.Get(secrets.OpenAIAPIKey)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", secrets.OpenAIAPIKey, err)
	}
	expoToken, err := resolver.Optional(secrets.ExpoAccessToken)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", secrets.ExpoAccessToken, err)
	}

	transcriber, err := transcription.NewOpenAI(transcription.Config{
		APIKey:  apiKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.TranscriptionModel,
		Timeout: cfg.AI.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating transcriber: %w", err)
	}

	completer, err := structuring.NewOpenAI(structuring.Config{
		APIKey:    apiKey,
		BaseURL:   cfg.AI.BaseURL,
		Model:     cfg.AI.StructuringModel,
		MaxTokens: cfg.AI.MaxTokens,
		Timeout:   cfg.AI.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating structuring client: %w", err)
	}

	maxBytes, err := cfg.MaxAudioBytes()
	if err != nil {
		return nil, err
	}
	fetcher := audio.NewHTTPFetcher(audio.Config{
		Timeout:  cfg.Audio.FetchTimeout,
		MaxBytes: maxBytes,
	}, logger)

	gateway := notify.NewExpoGateway(notify.ExpoConfig{
		URL:         cfg.Notify.ExpoURL,
		AccessToken: expoToken,
		Timeout:     cfg.Notify.Timeout,
	})

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		p, err := events.NewRedisPublisherFromConfig(events.RedisConfigFromEnv(), logger)
		if err != nil {
			return nil, fmt.Errorf("connecting event publisher: %w", err)
		}
		app.closers = append(app.closers, p)
		publisher = p
	}

	tracer := observability.NewTracer()

	app.Pipeline = pipeline.New(fetcher, transcriber, completer, app.Store,
		pipeline.WithLogger(logger),
		pipeline.WithNotifier(notify.NewNotifier(gateway, logger)),
		pipeline.WithPublisher(publisher),
		pipeline.WithMetrics(app.Metrics),
		pipeline.WithTracer(tracer),
	)
	app.Diarizer = diarization.New(completer, app.Store,
		diarization.WithLogger(logger),
		diarization.WithPublisher(publisher),
		diarization.WithMetrics(app.Metrics),
		diarization.WithTracer(tracer),
	)

	ok = true
	return app, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.Config.Store.Driver == config.StoreMemory {
		a.Logger.Warn("Using in-memory meeting store, records are lost on exit")
		a.Store = meetings.NewMemoryStore()
		return nil
	}

	pool, err := ConnectDatabase(ctx, a.Config, a.Logger)
	if err != nil {
		return err
	}
	a.Pool = pool

	if _, err := db.RegisterPoolStatsCollector(a.Registry, pool, observability.Namespace, buildinfo.ServiceName); err != nil {
		return fmt.Errorf("registering pool metrics: %w", err)
	}

	if a.Config.Store.Migrate {
		result, err := db.RunMigrations(ctx, pool, db.Migrations())
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		a.Logger.Info("Migrations applied",
			logging.F("applied", len(result.Applied)),
			logging.F("skipped", len(result.Skipped)))
	}

	a.Store = meetings.NewRepository(pool, a.Logger)
	return nil
}

// ConnectDatabase opens the PostgreSQL pool described by cfg and the DB_*
// environment.
func ConnectDatabase(ctx context.Context, cfg *config.ServiceConfig, logger logging.Logger) (*pgxpool.Pool, error) {
	dbCfg := db.ConfigFromEnv()
	if cfg.Store.DatabaseURL != "" {
		dbCfg.URL = cfg.Store.DatabaseURL
	}

	pool, err := db.ConnectWithRetry(ctx, dbCfg, dbConnectAttempts, dbConnectDelay, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}
