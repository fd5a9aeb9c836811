// Package runtime owns the process-wide clients built from configuration.
// Everything except the command queue and hooks is opened on first use, so
// a command only connects to the backends it touches. Close shuts down what
// was opened in reverse order.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/harun/agentkit/internal/config"
	"github.com/harun/agentkit/internal/observability"
	"github.com/harun/agentkit/internal/tracing"
	"github.com/harun/agentkit/pkg/agent"
	"github.com/harun/agentkit/pkg/artifact"
	"github.com/harun/agentkit/pkg/catalog"
	"github.com/harun/agentkit/pkg/commandqueue"
	"github.com/harun/agentkit/pkg/expense"
	"github.com/harun/agentkit/pkg/hooks"
	"github.com/harun/agentkit/pkg/search"
	"github.com/harun/agentkit/pkg/session"
	"github.com/harun/agentkit/pkg/toolexecutor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Options customizes a Runtime.
type Options struct {
	Logger zerolog.Logger
	// ProviderFactory replaces the default LLM provider factory.
	ProviderFactory agent.ProviderCreator
}

type closer struct {
	name string
	fn   func() error
}

// Runtime holds the clients of one process.
type Runtime struct {
	cfg             *config.Config
	logger          zerolog.Logger
	providerFactory agent.ProviderCreator

	queue *commandqueue.CommandQueue
	hooks *hooks.Manager

	mu         sync.Mutex
	closers    []closer
	closed     bool
	sessions   *session.Manager
	catalog    *catalog.Service
	expense    *expense.Tracker
	search     *search.Clients
	artifacts  artifact.Service
	executor   *toolexecutor.ToolExecutor
	toolGroups map[string]bool
	runners    map[string]*agent.Runner
}

// New builds a runtime. Only the command queue and the hook manager are
// created eagerly.
func New(cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	observability.EnsureRegistered()

	r := &Runtime{
		cfg:             cfg,
		logger:          opts.Logger.With().Str("component", "runtime").Logger(),
		providerFactory: opts.ProviderFactory,
		toolGroups:      make(map[string]bool),
		runners:         make(map[string]*agent.Runner),
	}

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
		} else {
			r.addCloser("tracing", func() error {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return tracing.ShutdownOpenTelemetry(ctx)
			})
		}
	}

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to initialize audit logger, using default stderr")
		} else {
			r.addCloser("audit log", func() error { return observability.GetAuditLogger().Close() })
		}
	}

	hookManager, err := newHookManager(cfg.Hooks, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create hook manager: %w", err)
	}
	r.hooks = hookManager

	r.queue = commandqueue.New()
	r.queue.On(func(evt commandqueue.Event) {
		if evt.Type == "completed" && evt.Err != nil {
			r.logger.Debug().Err(evt.Err).Str("lane", evt.Lane).Dur("duration", evt.Duration).Msg("Queued task failed")
		}
	})
	r.addCloser("command queue", r.queue.Close)

	return r, nil
}

// Config returns the configuration the runtime was built from.
func (r *Runtime) Config() *config.Config { return r.cfg }

// Logger returns the runtime logger.
func (r *Runtime) Logger() zerolog.Logger { return r.logger }

// Hooks returns the hook manager.
func (r *Runtime) Hooks() *hooks.Manager { return r.hooks }

// Queue returns the command queue.
func (r *Runtime) Queue() *commandqueue.CommandQueue { return r.queue }

// addCloser must be called with r.mu held or before the runtime is shared.
func (r *Runtime) addCloser(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// Close shuts down every opened client in reverse order of opening.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.fn(); err != nil {
			r.logger.Error().Err(err).Str("client", c.name).Msg("Failed to close client")
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		r.logger.Debug().Str("client", c.name).Msg("Client closed")
	}
	return errors.Join(errs...)
}

func (r *Runtime) checkOpen() error {
	if r.closed {
		return fmt.Errorf("runtime is closed")
	}
	return nil
}

func (r *Runtime) dataPath(path, fallback string) string {
	if path != "" {
		return path
	}
	dir := r.cfg.DataDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, fallback)
}

// Sessions returns the session service for the configured backend.
func (r *Runtime) Sessions(ctx context.Context) (*session.Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionsLocked(ctx)
}

func (r *Runtime) sessionsLocked(ctx context.Context) (*session.Manager, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if r.sessions != nil {
		return r.sessions, nil
	}

	cfg := r.cfg.Session
	var backend session.Backend
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     r.cfg.Redis.Addr(),
			Password: r.cfg.Redis.Password,
			DB:       r.cfg.Redis.DB,
		})
		rb := session.NewRedisBackend(client, cfg.KeyPrefix)
		if err := rb.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", r.cfg.Redis.Addr(), err)
		}
		backend = rb
	case "sqlite":
		sb, err := session.OpenSQLiteBackend(r.dataPath(cfg.SQLitePath, "sessions.db"), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open session database: %w", err)
		}
		backend = sb
	case "memory", "":
		backend = session.NewMemoryBackend(nil)
	default:
		return nil, fmt.Errorf("unsupported session backend: %s", cfg.Backend)
	}

	logger := r.logger
	mgr, err := session.NewManager(session.Config{
		Backend: backend,
		TTL:     time.Duration(cfg.TTLSeconds) * time.Second,
		Hooks:   r.hooks,
		Logger:  &logger,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	r.addCloser("session store", mgr.Close)

	if purger, ok := backend.(session.Purger); ok {
		reaper := session.NewReaper(purger, 0, r.logger)
		if err := reaper.Start(); err != nil {
			r.logger.Warn().Err(err).Msg("Failed to start session reaper")
		} else {
			r.addCloser("session reaper", reaper.Stop)
		}
	}

	r.sessions = mgr
	return mgr, nil
}

// Catalog returns the product, sales and market growth service.
func (r *Runtime) Catalog(ctx context.Context) (*catalog.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catalogLocked(ctx)
}

func (r *Runtime) catalogLocked(ctx context.Context) (*catalog.Service, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if r.catalog != nil {
		return r.catalog, nil
	}

	db := r.cfg.Database
	var (
		store catalog.Store
		err   error
	)
	switch db.Driver {
	case "sqlite", "":
		store, err = catalog.OpenSQLite(r.dataPath(db.SQLitePath, "catalog.db"))
	case "postgres":
		store, err = catalog.OpenPostgres(db.PostgresDSN(), db.Schema)
	case "bigquery":
		store, err = catalog.OpenBigQuery(ctx, catalog.BigQueryConfig{
			ProjectID:       r.cfg.BigQuery.ProjectID,
			Dataset:         r.cfg.BigQuery.Dataset,
			Location:        r.cfg.BigQuery.Location,
			CredentialsFile: r.cfg.BigQuery.CredentialsFile,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", db.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger := r.logger
	svc, err := catalog.New(catalog.Config{Store: store, Logger: &logger, ReadLimit: db.ReadLimit})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	r.addCloser(store.Backend()+" catalog", store.Close)
	r.catalog = svc
	return svc, nil
}

// Expense returns the in-process expense tracker.
func (r *Runtime) Expense() (*expense.Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expenseLocked()
}

func (r *Runtime) expenseLocked() (*expense.Tracker, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if r.expense != nil {
		return r.expense, nil
	}

	store, err := expense.Open(r.dataPath(r.cfg.Expense.DBPath, "expenses.db"))
	if err != nil {
		return nil, err
	}
	r.addCloser("expense store", store.Close)

	var categories *expense.Categories
	if path := r.cfg.Expense.CategoriesPath; path != "" {
		categories = expense.NewCategories(path, r.logger)
		if err := categories.Watch(); err != nil {
			r.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch categories file")
		} else {
			r.addCloser("expense categories", categories.Stop)
		}
	}

	logger := r.logger
	tracker, err := expense.NewTracker(expense.Config{Store: store, Categories: categories, Logger: &logger})
	if err != nil {
		return nil, err
	}
	r.expense = tracker
	return tracker, nil
}

// Search returns the configured search clients. Google and the vector
// backend are only set up when configured; DuckDuckGo always is.
func (r *Runtime) Search(ctx context.Context) (search.Clients, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.searchLocked(ctx)
}

func (r *Runtime) searchLocked(ctx context.Context) (search.Clients, error) {
	if err := r.checkOpen(); err != nil {
		return search.Clients{}, err
	}
	if r.search != nil {
		return *r.search, nil
	}

	cfg := r.cfg.Search
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	clients := search.Clients{
		DDG: search.NewDDGClient(search.DDGConfig{Endpoint: cfg.DuckDuckGoURL, Timeout: timeout}),
	}
	if cfg.GoogleAPIKey != "" && cfg.GoogleCSEID != "" {
		google, err := search.NewGoogleClient(ctx, search.GoogleConfig{
			APIKey:   cfg.GoogleAPIKey,
			CX:       cfg.GoogleCSEID,
			Endpoint: cfg.GoogleURL,
			Timeout:  timeout,
		})
		if err != nil {
			return search.Clients{}, err
		}
		clients.Google = google
	}
	if cfg.VectorURL != "" {
		vector, err := search.NewVectorClient(search.VectorConfig{
			URL:       cfg.VectorURL,
			DatasetID: cfg.DatasetID,
			Rows:      cfg.Rows,
			RRFAlpha:  cfg.RRFAlpha,
			Timeout:   timeout,
		})
		if err != nil {
			return search.Clients{}, err
		}
		clients.Vector = vector
	}

	r.search = &clients
	return clients, nil
}

// Artifacts returns the artifact service for the configured backend.
func (r *Runtime) Artifacts(ctx context.Context) (artifact.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifactsLocked(ctx)
}

func (r *Runtime) artifactsLocked(ctx context.Context) (artifact.Service, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}
	if r.artifacts != nil {
		return r.artifacts, nil
	}

	cfg := r.cfg.Artifact
	switch cfg.Backend {
	case "gcs":
		svc, err := artifact.NewGCSService(ctx, artifact.GCSConfig{
			Bucket:          cfg.Bucket,
			CredentialsFile: cfg.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		r.addCloser("gcs artifacts", svc.Close)
		r.artifacts = svc
	case "memory", "":
		r.artifacts = artifact.NewMemoryService()
	default:
		return nil, fmt.Errorf("unsupported artifact backend: %s", cfg.Backend)
	}
	return r.artifacts, nil
}
