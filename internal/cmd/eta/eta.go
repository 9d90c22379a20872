// Package eta parses eta command configuration and runs either the web
// application or a command-line action.
package eta

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	entrypoint "github.com/louisbranch/eta/internal/platform/cmd"
	"github.com/louisbranch/eta/internal/services/eta/app"
	"github.com/louisbranch/eta/internal/services/eta/cli"
)

// CommandServe runs the web application. It is also the default command.
const CommandServe = "serve"

// Config holds eta command configuration.
type Config struct {
	BasePath     string        `env:"ETA_BASE_PATH" envDefault:"."`
	ModulesPath  string        `env:"ETA_MODULES_PATH"`
	HTTPAddr     string        `env:"ETA_HTTP_ADDR" envDefault:"localhost:3000"`
	HealthAddr   string        `env:"ETA_HEALTH_ADDR"`
	Dev          bool          `env:"ETA_DEV"`
	Testing      bool          `env:"ETA_TESTING"`
	DBPath       string        `env:"ETA_DB_PATH" envDefault:"data/eta.db"`
	SessionStore string        `env:"ETA_SESSION_STORE" envDefault:"sqlite"`
	RedisAddr    string        `env:"ETA_REDIS_ADDR"`
	SessionTTL   time.Duration `env:"ETA_SESSION_TTL" envDefault:"24h"`
	AccessLog    bool          `env:"ETA_ACCESS_LOG" envDefault:"true"`

	// Args are the positional words left after flags.
	Args []string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.BasePath, "base-path", cfg.BasePath, "Directory holding config/ and modules/")
	fs.StringVar(&cfg.ModulesPath, "modules-path", cfg.ModulesPath, "Modules directory (default <base-path>/modules)")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "Enable development mode")
	fs.BoolVar(&cfg.Testing, "testing", cfg.Testing, "Load only server.testModule")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.SessionStore, "session-store", cfg.SessionStore, "Session store: sqlite, redis or memory")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "Redis address for the redis session store")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "Session lifetime")
	fs.BoolVar(&cfg.AccessLog, "access-log", cfg.AccessLog, "Write combined access logs")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Args = fs.Args()
	return cfg, nil
}

func (c Config) appConfig(accessLog io.Writer) app.Config {
	cfg := app.Config{
		BasePath:     c.BasePath,
		ModulesPath:  c.ModulesPath,
		HTTPAddr:     c.HTTPAddr,
		HealthAddr:   c.HealthAddr,
		Dev:          c.Dev,
		Testing:      c.Testing,
		DBPath:       c.DBPath,
		SessionStore: c.SessionStore,
		RedisAddr:    c.RedisAddr,
		SessionTTL:   c.SessionTTL,
	}
	if c.AccessLog {
		cfg.AccessLog = accessLog
	}
	return cfg
}

// Run serves the application or runs the command named by cfg.Args.
func Run(ctx context.Context, cfg Config) error {
	if len(cfg.Args) == 0 || (len(cfg.Args) == 1 && cfg.Args[0] == CommandServe) {
		return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceEta, func(ctx context.Context) error {
			return Serve(ctx, cfg)
		})
	}
	return RunCommand(ctx, cfg, os.Stdout)
}

// Serve initializes the application and serves until ctx ends.
func Serve(ctx context.Context, cfg Config) error {
	application := app.New(cfg.appConfig(log.Writer()))
	defer func() {
		if err := application.Close(context.Background()); err != nil {
			log.Printf("close application: %v", err)
		}
	}()
	if err := application.Init(ctx); err != nil {
		return fmt.Errorf("init application: %w", err)
	}
	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("serve eta: %w", err)
	}
	return nil
}

// RunCommand runs a built-in command, writing its output to out.
func RunCommand(ctx context.Context, cfg Config, out io.Writer) error {
	registry := cli.NewRegistry()
	err := cli.RegisterBuiltins(registry, cli.Env{
		Out: out,
		NewApp: func() *app.Application {
			return app.New(cfg.appConfig(nil))
		},
		HealthAddr: cfg.HealthAddr,
	})
	if err != nil {
		return err
	}
	return registry.Run(ctx, cfg.Args)
}
