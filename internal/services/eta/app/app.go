// Package app wires the eta runtime: configuration, modules, storage,
// sessions, the web server and the health endpoint.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	platformgrpc "github.com/louisbranch/eta/internal/platform/grpc"
	"github.com/louisbranch/eta/internal/platform/i18n"
	"github.com/louisbranch/eta/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/eta/internal/platform/timeouts"
	"github.com/louisbranch/eta/internal/services/eta/config"
	"github.com/louisbranch/eta/internal/services/eta/lifecycle"
	"github.com/louisbranch/eta/internal/services/eta/module"
	"github.com/louisbranch/eta/internal/services/eta/mvc"
	"github.com/louisbranch/eta/internal/services/eta/server"
	"github.com/louisbranch/eta/internal/services/eta/session"
	"github.com/louisbranch/eta/internal/services/eta/storage"
	"github.com/louisbranch/eta/internal/services/eta/storage/memory"
	"github.com/louisbranch/eta/internal/services/eta/storage/redis"
	"github.com/louisbranch/eta/internal/services/eta/storage/sqlite"
	"github.com/louisbranch/eta/internal/services/eta/transform"
)

// Session store kinds.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const (
	defaultDBPath   = "data/eta.db"
	migrationsDir   = "migrations"
	healthService   = "eta"
	sweepInterval   = 10 * time.Minute
	dbConnectTries  = 5
	dbRetryInterval = 200 * time.Millisecond
)

// Config controls the application runtime.
type Config struct {
	// BasePath holds config/ and, by default, modules/.
	BasePath    string
	ModulesPath string
	HTTPAddr    string
	// HealthAddr serves grpc.health.v1 when set.
	HealthAddr string
	// Dev is OR-ed with dev.enable from the global configuration.
	Dev     bool
	Testing bool
	// DBPath is relative to BasePath unless absolute.
	DBPath       string
	SessionStore string
	RedisAddr    string
	SessionTTL   time.Duration
	AccessLog    io.Writer

	Controllers  *mvc.Registry
	Lifecycle    *lifecycle.Registry
	Transformers *transform.Registry
}

// Application owns every long-lived resource of the process.
type Application struct {
	cfg Config
	dev bool

	configs  map[string]*config.Configuration
	loaders  []*module.Loader
	db       *sql.DB
	dbStore  *sqlite.Store
	store    storage.SessionStore
	sessions *session.Manager
	server   *server.Server
	health   *platformgrpc.HealthServer

	stopSweep context.CancelFunc
	sweepDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New returns an application for cfg. Nothing is opened until Init.
func New(cfg Config) *Application {
	cfg.BasePath = strings.TrimSpace(cfg.BasePath)
	if cfg.BasePath == "" {
		cfg.BasePath = "."
	}
	if strings.TrimSpace(cfg.ModulesPath) == "" {
		cfg.ModulesPath = filepath.Join(cfg.BasePath, "modules")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = defaultDBPath
	}
	if cfg.DBPath != ":memory:" && !filepath.IsAbs(cfg.DBPath) {
		cfg.DBPath = filepath.Join(cfg.BasePath, cfg.DBPath)
	}
	cfg.SessionStore = strings.ToLower(strings.TrimSpace(cfg.SessionStore))
	if cfg.SessionStore == "" {
		cfg.SessionStore = StoreSQLite
	}
	return &Application{cfg: cfg}
}

// DB returns the application database.
func (a *Application) DB() *sql.DB { return a.db }

// Config returns the global configuration.
func (a *Application) Config() *config.Configuration {
	if a.configs == nil {
		return nil
	}
	return a.configs[config.GlobalName]
}

// Configs returns every named configuration.
func (a *Application) Configs() map[string]*config.Configuration { return a.configs }

// Loaders returns the loaders of every discovered module.
func (a *Application) Loaders() []*module.Loader { return a.loaders }

// Server returns the web server built by Init.
func (a *Application) Server() *server.Server { return a.server }

// Dev reports whether development mode is on.
func (a *Application) Dev() bool { return a.dev }

// LoadConfigs reads <base>/config without touching anything else. The CLI
// uses it for commands that need no modules or storage.
func (a *Application) LoadConfigs() error {
	configs, err := config.LoadDir(filepath.Join(a.cfg.BasePath, "config"))
	if err != nil {
		return err
	}
	a.configs = configs
	a.dev = a.cfg.Dev || a.Config().GetBool(config.KeyDevEnable)
	return nil
}

// LoadModules discovers and loads every module. A module that fails to load
// is logged and left out.
func (a *Application) LoadModules(ctx context.Context) error {
	names, err := module.Discover(a.cfg.ModulesPath)
	if err != nil {
		return err
	}
	opts := module.Options{
		Dev:          a.dev,
		Testing:      a.cfg.Testing,
		Controllers:  a.cfg.Controllers,
		Lifecycle:    a.cfg.Lifecycle,
		Transformers: a.cfg.Transformers,
	}
	a.loaders = a.loaders[:0]
	for _, name := range names {
		loader := module.NewLoader(name, a.cfg.ModulesPath, a.cfg.BasePath, a.configs, opts)
		if err := loader.LoadAll(ctx); err != nil {
			log.Printf("warn: couldn't load module %s: %v", name, err)
			continue
		}
		a.loaders = append(a.loaders, loader)
	}
	return nil
}

// Init loads configuration and modules, opens storage and builds the web
// server. OnAppStart and OnDatabaseConnect fire last.
func (a *Application) Init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := a.LoadConfigs(); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := a.LoadModules(ctx); err != nil {
		return fmt.Errorf("load modules: %w", err)
	}
	if err := a.openDatabase(ctx); err != nil {
		return err
	}
	if err := a.migrateModules(ctx); err != nil {
		return err
	}
	if err := a.openSessions(ctx); err != nil {
		return err
	}

	global := a.Config()
	a.server = server.New(server.Options{
		Addr:      a.cfg.HTTPAddr,
		BasePath:  a.cfg.BasePath,
		Dev:       a.dev,
		Config:    global,
		DB:        a.db,
		Sessions:  a.sessions,
		Languages: i18n.NewResolver(global.GetStrings(config.KeyLanguages)...),
		AccessLog: a.cfg.AccessLog,
	}, a.loaders)

	a.fire(ctx, lifecycle.EventAppStart)
	a.fire(ctx, lifecycle.EventDatabaseConnect)
	return nil
}

func (a *Application) openDatabase(ctx context.Context) error {
	if a.cfg.DBPath != ":memory:" {
		if dir := filepath.Dir(a.cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create storage dir: %w", err)
			}
		}
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = dbRetryInterval
	store, err := backoff.Retry(ctx, func() (*sqlite.Store, error) {
		return sqlite.Open(ctx, a.cfg.DBPath)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(dbConnectTries),
		backoff.WithMaxElapsedTime(timeouts.DatabaseConnect),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Printf("warn: database connect failed, retrying in %s: %v", next, err)
		}),
	)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.dbStore = store
	a.db = store.DB()
	return nil
}

// migrateModules applies <module>/migrations/*.sql, recorded per module.
func (a *Application) migrateModules(ctx context.Context) error {
	for _, loader := range a.loaders {
		if !loader.Initialized() {
			continue
		}
		dir := filepath.Join(loader.Config().RootDir, migrationsDir)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		if err := sqlitemigrate.ApplyNamespaced(ctx, a.db, os.DirFS(dir), ".", loader.Name()); err != nil {
			return fmt.Errorf("migrate module %s: %w", loader.Name(), err)
		}
	}
	return nil
}

func (a *Application) openSessions(ctx context.Context) error {
	switch a.cfg.SessionStore {
	case StoreSQLite:
		a.store = a.dbStore
	case StoreMemory:
		a.store = memory.New()
	case StoreRedis:
		store, err := redis.Open(ctx, a.cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("open redis session store: %w", err)
		}
		a.store = store
	default:
		return fmt.Errorf("unknown session store %q", a.cfg.SessionStore)
	}
	a.sessions = session.NewManager(a.store, session.Options{
		Secret: a.Config().GetString(config.KeyCookieKey),
		TTL:    a.cfg.SessionTTL,
	})
	if sweeper, ok := a.store.(storage.SessionSweeper); ok {
		a.startSweeper(sweeper)
	}
	return nil
}

func (a *Application) startSweeper(sweeper storage.SessionSweeper) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopSweep = cancel
	a.sweepDone = make(chan struct{})
	go func() {
		defer close(a.sweepDone)
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				removed, err := sweeper.DeleteExpiredSessions(ctx, now)
				if err != nil {
					log.Printf("warn: sweep expired sessions: %v", err)
					continue
				}
				if removed > 0 {
					log.Printf("removed %d expired sessions", removed)
				}
			}
		}
	}()
}

func (a *Application) lifecycleHandlers() []lifecycle.Handler {
	var handlers []lifecycle.Handler
	for _, loader := range a.loaders {
		if loader.Initialized() {
			handlers = append(handlers, loader.LifecycleHandlers()...)
		}
	}
	return handlers
}

// fire runs event on every module. Handler failures are logged by
// lifecycle.Fire and do not stop the application.
func (a *Application) fire(ctx context.Context, event lifecycle.Event) {
	_ = lifecycle.Fire(ctx, event, a, a.lifecycleHandlers())
}

// Start fires OnServerStart and serves HTTP, plus the health endpoint when
// configured, until ctx ends.
func (a *Application) Start(ctx context.Context) error {
	if a.server == nil {
		return errors.New("application is not initialized")
	}
	a.fire(ctx, lifecycle.EventServerStart)

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	healthErr := make(chan error, 1)
	if strings.TrimSpace(a.cfg.HealthAddr) != "" {
		a.health = platformgrpc.NewHealthServer()
		a.health.SetServing("", true)
		a.health.SetServing(healthService, true)
		go func() {
			healthErr <- a.health.ListenAndServe(healthCtx, a.cfg.HealthAddr)
		}()
	} else {
		healthErr <- nil
	}

	serveErr := a.server.ListenAndServe(ctx)
	if a.health != nil {
		a.health.SetServing(healthService, false)
	}
	// The health server lives no longer than the HTTP server.
	stopHealth()
	if err := <-healthErr; serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Close fires OnServerStop and releases watchers, stores and the database.
// Calls after the first return the first result.
func (a *Application) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if ctx == nil {
			ctx = context.Background()
		}
		if a.server != nil {
			a.fire(ctx, lifecycle.EventServerStop)
		}
		var errs []error
		if a.stopSweep != nil {
			a.stopSweep()
			<-a.sweepDone
		}
		for _, loader := range a.loaders {
			if err := loader.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close module %s: %w", loader.Name(), err))
			}
		}
		if a.store != nil && a.store != storage.SessionStore(a.dbStore) {
			if err := a.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close session store: %w", err))
			}
		}
		if a.dbStore != nil {
			if err := a.dbStore.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close database: %w", err))
			}
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
