package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/louisbranch/eta/internal/platform/grpc"
	"github.com/louisbranch/eta/internal/platform/timeouts"
	"github.com/louisbranch/eta/internal/services/eta/app"
	"github.com/louisbranch/eta/internal/services/eta/crypto"
)

// Env is what the built-in commands work against.
type Env struct {
	Out io.Writer
	// NewApp builds an uninitialized application for commands that read
	// configuration or modules.
	NewApp func() *app.Application
	// HealthAddr is the default target of health/check.
	HealthAddr string
}

// RegisterBuiltins adds the framework commands to r.
func RegisterBuiltins(r *Registry, env Env) error {
	if env.Out == nil {
		env.Out = os.Stdout
	}
	builtins := map[string]Action{
		"modules/list":   env.modulesList,
		"config/get":     env.configGet,
		"crypto/hash":    env.cryptoHash,
		"crypto/salt":    env.cryptoSalt,
		"crypto/encrypt": env.cryptoEncrypt,
		"crypto/decrypt": env.cryptoDecrypt,
		"health/check":   env.healthCheck,
	}
	for command, action := range builtins {
		if err := r.Register(command, action); err != nil {
			return err
		}
	}
	return nil
}

func (e Env) application() (*app.Application, error) {
	if e.NewApp == nil {
		return nil, errors.New("application is not configured")
	}
	return e.NewApp(), nil
}

func (e Env) modulesList(ctx context.Context, _ []string) error {
	a, err := e.application()
	if err != nil {
		return err
	}
	defer a.Close(ctx)
	if err := a.LoadConfigs(); err != nil {
		return err
	}
	if err := a.LoadModules(ctx); err != nil {
		return err
	}
	for _, loader := range a.Loaders() {
		cfg := loader.Config()
		status := "enabled"
		if cfg.Disable {
			status = "disabled"
		}
		var size int64
		static := loader.StaticFiles()
		for _, path := range static {
			if info, err := os.Stat(path); err == nil {
				size += info.Size()
			}
		}
		fmt.Fprintf(e.Out, "%s\t%s\t%d controllers\t%d views\t%d static files (%s)\n",
			cfg.Name, status, len(loader.Controllers()), len(loader.ViewFiles()), len(static), humanize.Bytes(uint64(size)))
	}
	return nil
}

func (e Env) configGet(_ context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: config get <key> [config]")
	}
	a, err := e.application()
	if err != nil {
		return err
	}
	if err := a.LoadConfigs(); err != nil {
		return err
	}
	cfg := a.Config()
	if len(args) > 1 {
		named, ok := a.Configs()[args[1]]
		if !ok {
			return fmt.Errorf("no configuration named %s", args[1])
		}
		cfg = named
	}
	if !cfg.Has(args[0]) {
		return fmt.Errorf("key %s is not set", args[0])
	}
	data, err := json.Marshal(cfg.Get(args[0]))
	if err != nil {
		return fmt.Errorf("encode %s: %w", args[0], err)
	}
	fmt.Fprintln(e.Out, string(data))
	return nil
}

func (e Env) cryptoHash(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: crypto hash <password> <salt>")
	}
	fmt.Fprintln(e.Out, crypto.HashPassword(args[0], args[1]))
	return nil
}

func (e Env) cryptoSalt(_ context.Context, args []string) error {
	length := 0
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("salt length: %w", err)
		}
		length = n
	}
	salt, err := crypto.GenerateSalt(length)
	if err != nil {
		return err
	}
	fmt.Fprintln(e.Out, salt)
	return nil
}

func (e Env) cryptoEncrypt(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: crypto encrypt <data> <key>")
	}
	out, err := crypto.Encrypt(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(e.Out, out)
	return nil
}

func (e Env) cryptoDecrypt(_ context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: crypto decrypt <data> <key>")
	}
	out, err := crypto.Decrypt(args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(e.Out, out)
	return nil
}

// healthCheck waits for the gRPC health endpoint of a running server to
// report SERVING.
func (e Env) healthCheck(ctx context.Context, args []string) error {
	addr := e.HealthAddr
	if len(args) > 0 {
		addr = args[0]
	}
	if strings.TrimSpace(addr) == "" {
		return errors.New("usage: health check <addr>")
	}
	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial health %s: %w", addr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, timeouts.HealthWait)
	defer cancel()
	if err := grpc.WaitForHealth(ctx, conn, "", nil); err != nil {
		return err
	}
	fmt.Fprintf(e.Out, "%s SERVING\n", addr)
	return nil
}
