// Package config holds the framework configuration documents loaded from
// <base>/config/*.json. Keys are dotted paths ("dev.enable", "http.host").
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GlobalName is the configuration every module reads framework settings from.
const GlobalName = "global"

// Well-known keys.
const (
	KeyDevEnable  = "dev.enable"
	KeyHTTPHost   = "http.host"
	KeyTestModule = "server.testModule"
	KeyCookieKey  = "http.session.secret"
	KeyLanguages  = "i18n.languages"
)

// Configuration is a JSON document safe for concurrent readers and writers.
type Configuration struct {
	mu  sync.RWMutex
	raw string
}

// New returns an empty configuration.
func New() *Configuration {
	return &Configuration{raw: "{}"}
}

// FromJSON builds a configuration from a JSON object.
func FromJSON(data []byte) (*Configuration, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return New(), nil
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.New("invalid json")
	}
	if !gjson.ParseBytes(data).IsObject() {
		return nil, errors.New("configuration must be a json object")
	}
	return &Configuration{raw: string(data)}, nil
}

// LoadFile reads one configuration file.
func LoadFile(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDir loads every *.json file directly inside dir, keyed by base name.
// A missing directory yields an empty map. The global configuration always
// exists in the result.
func LoadDir(dir string) (map[string]*Configuration, error) {
	configs := map[string]*Configuration{}
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read config dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		cfg, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		configs[strings.TrimSuffix(entry.Name(), ".json")] = cfg
	}
	if _, ok := configs[GlobalName]; !ok {
		configs[GlobalName] = New()
	}
	return configs, nil
}

// Names returns the sorted names of configs.
func Names(configs map[string]*Configuration) []string {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Configuration) result(key string) gjson.Result {
	if c == nil {
		return gjson.Result{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gjson.Get(c.raw, key)
}

// Get returns the decoded value at key, or nil.
func (c *Configuration) Get(key string) any {
	res := c.result(key)
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

// Has reports whether key is set.
func (c *Configuration) Has(key string) bool {
	return c.result(key).Exists()
}

// GetString returns the value at key as a string.
func (c *Configuration) GetString(key string) string {
	return c.result(key).String()
}

// GetBool returns the value at key as a bool.
func (c *Configuration) GetBool(key string) bool {
	return c.result(key).Bool()
}

// GetInt returns the value at key as an int.
func (c *Configuration) GetInt(key string) int {
	return int(c.result(key).Int())
}

// GetStrings returns the array at key as strings.
func (c *Configuration) GetStrings(key string) []string {
	res := c.result(key)
	if !res.IsArray() {
		if res.Exists() && res.String() != "" {
			return []string{res.String()}
		}
		return nil
	}
	items := res.Array()
	values := make([]string, 0, len(items))
	for _, item := range items {
		values = append(values, item.String())
	}
	return values
}

// Set writes value at key.
func (c *Configuration) Set(key string, value any) error {
	if c == nil {
		return errors.New("configuration is not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("config key is required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := sjson.Set(c.raw, key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	c.raw = next
	return nil
}

// BuildFromObject writes obj under prefix. Each prefix element is one key,
// so elements may contain dots. An empty prefix merges obj's top-level keys
// into the document root.
func (c *Configuration) BuildFromObject(obj any, prefix []string) error {
	if c == nil {
		return errors.New("configuration is not initialized")
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("encode object: %w", err)
	}
	if len(prefix) > 0 {
		return c.setRaw(JoinKey(prefix...), data)
	}
	parsed := gjson.ParseBytes(data)
	if !parsed.IsObject() {
		return errors.New("object without prefix must be a json object")
	}
	var setErr error
	parsed.ForEach(func(key, value gjson.Result) bool {
		setErr = c.setRaw(JoinKey(key.String()), []byte(value.Raw))
		return setErr == nil
	})
	return setErr
}

func (c *Configuration) setRaw(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := sjson.SetRawBytes([]byte(c.raw), key, data)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	c.raw = string(next)
	return nil
}

// Unmarshal decodes the value at key into target.
func (c *Configuration) Unmarshal(key string, target any) error {
	res := c.result(key)
	if !res.Exists() {
		return fmt.Errorf("config key %q is not set", key)
	}
	return json.Unmarshal([]byte(res.Raw), target)
}

// Raw returns a copy of the JSON document.
func (c *Configuration) Raw() []byte {
	if c == nil {
		return []byte("{}")
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return []byte(c.raw)
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, ".", `\.`, "*", `\*`, "?", `\?`)

// JoinKey builds a dotted path from literal key parts.
func JoinKey(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, part := range parts {
		escaped = append(escaped, keyEscaper.Replace(part))
	}
	return strings.Join(escaped, ".")
}
