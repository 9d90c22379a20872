package module

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// ConfigFile is the module manifest at the module root.
const ConfigFile = "eta.json"

// Dirs lists module directories, relative to the module root until the
// config is normalized.
type Dirs struct {
	Controllers         []string `mapstructure:"controllers"`
	StaticFiles         []string `mapstructure:"staticFiles"`
	Views               []string `mapstructure:"views"`
	LifecycleHandlers   []string `mapstructure:"lifecycleHandlers"`
	RequestTransformers []string `mapstructure:"requestTransformers"`
}

// Config is a module manifest merged with its override file.
type Config struct {
	Name    string `mapstructure:"name"`
	Disable bool   `mapstructure:"disable"`
	Dirs    Dirs   `mapstructure:"dirs"`
	// RootDir is the module directory with a trailing slash.
	RootDir string `mapstructure:"rootDir"`
	// Extra keeps free-form manifest keys.
	Extra map[string]any `mapstructure:",remain"`
}

// ReadConfig reads <modulesPath>/<name>/eta.json, merges the override at
// <basePath>/config/modules/<name>.json (top-level override keys win) and
// normalizes dirs.
func ReadConfig(modulesPath, basePath, name string) (Config, error) {
	rootDir := withSlash(withSlash(modulesPath) + name)
	raw, err := readJSONObject(rootDir + ConfigFile)
	if err != nil {
		return Config{}, err
	}
	overridePath := filepath.Join(basePath, "config", "modules", name+".json")
	override, err := readJSONObject(overridePath)
	switch {
	case err == nil:
		maps.Copy(raw, override)
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, err
	}

	cfg, err := decodeConfig(raw)
	if err != nil {
		return Config{}, fmt.Errorf("module %s: %w", name, err)
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	cfg.RootDir = rootDir
	cfg.normalize()
	return cfg, nil
}

func readJSONObject(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if obj == nil {
		obj = map[string]any{}
	}
	return obj, nil
}

func decodeConfig(raw map[string]any) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	for _, dirs := range c.dirLists() {
		for i, dir := range *dirs {
			(*dirs)[i] = c.RootDir + withSlash(strings.TrimPrefix(dir, "/"))
		}
	}
}

func (c *Config) dirLists() []*[]string {
	return []*[]string{
		&c.Dirs.Controllers,
		&c.Dirs.StaticFiles,
		&c.Dirs.Views,
		&c.Dirs.LifecycleHandlers,
		&c.Dirs.RequestTransformers,
	}
}

// Export returns the config as published under modules.<name>.
func (c Config) Export() map[string]any {
	out := maps.Clone(c.Extra)
	if out == nil {
		out = map[string]any{}
	}
	out["name"] = c.Name
	out["disable"] = c.Disable
	out["rootDir"] = c.RootDir
	out["dirs"] = map[string]any{
		"controllers":         orEmpty(c.Dirs.Controllers),
		"staticFiles":         orEmpty(c.Dirs.StaticFiles),
		"views":               orEmpty(c.Dirs.Views),
		"lifecycleHandlers":   orEmpty(c.Dirs.LifecycleHandlers),
		"requestTransformers": orEmpty(c.Dirs.RequestTransformers),
	}
	return out
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func withSlash(dir string) string {
	if strings.HasSuffix(dir, "/") {
		return dir
	}
	return dir + "/"
}
