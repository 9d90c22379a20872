// Package module discovers and loads Eta modules: controllers, static files,
// views, view metadata, lifecycle handlers and request transformers.
package module

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/louisbranch/eta/internal/services/eta/config"
	"github.com/louisbranch/eta/internal/services/eta/lifecycle"
	"github.com/louisbranch/eta/internal/services/eta/mvc"
	"github.com/louisbranch/eta/internal/services/eta/script"
	"github.com/louisbranch/eta/internal/services/eta/transform"
	"github.com/louisbranch/eta/internal/services/eta/view"
)

// Options configures a Loader.
type Options struct {
	// Dev enables file watchers.
	Dev bool
	// Testing loads only the module named by server.testModule.
	Testing      bool
	Controllers  *mvc.Registry
	Lifecycle    *lifecycle.Registry
	Transformers *transform.Registry
}

// Loader loads one module and keeps its indexes current.
type Loader struct {
	name        string
	modulesPath string
	basePath    string
	configs     map[string]*config.Configuration
	opts        Options

	mu           sync.RWMutex
	cfg          Config
	controllers  map[string]*mvc.Controller
	staticFiles  map[string]string
	viewFiles    map[string]string
	viewMetadata map[string]map[string]any
	lifecycle    []lifecycle.Handler
	transformers []transform.Entry
	initialized  bool

	listenMu           sync.RWMutex
	controllerHandlers []func(*mvc.Controller)
	metadataHandlers   []func(string)
	viewHandlers       []func(string)

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLoader returns a loader for the module directory <modulesPath>/<name>.
func NewLoader(name, modulesPath, basePath string, configs map[string]*config.Configuration, opts Options) *Loader {
	if opts.Controllers == nil {
		opts.Controllers = mvc.DefaultRegistry()
	}
	if opts.Lifecycle == nil {
		opts.Lifecycle = lifecycle.DefaultRegistry()
	}
	if opts.Transformers == nil {
		opts.Transformers = transform.DefaultRegistry()
	}
	return &Loader{
		name:         name,
		modulesPath:  modulesPath,
		basePath:     basePath,
		configs:      configs,
		opts:         opts,
		controllers:  map[string]*mvc.Controller{},
		staticFiles:  map[string]string{},
		viewFiles:    map[string]string{},
		viewMetadata: map[string]map[string]any{},
	}
}

// LoadAll loads the module. A disabled module, or any module other than
// server.testModule in testing mode, is left uninitialized.
func (l *Loader) LoadAll(ctx context.Context) error {
	if err := l.LoadConfig(); err != nil {
		return err
	}
	cfg := l.Config()
	if cfg.Disable {
		log.Printf("module %s is disabled", cfg.Name)
		return nil
	}
	if l.opts.Testing && cfg.Name != l.testModule() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.LoadControllers()
	l.LoadStatic()
	l.LoadViewMetadata()
	l.LoadViews()
	l.LoadLifecycleHandlers()
	l.LoadTransformers()
	if l.opts.Dev {
		if err := l.watch(); err != nil {
			log.Printf("warn: module %s watchers: %v", cfg.Name, err)
		}
	}

	l.mu.Lock()
	l.initialized = true
	l.mu.Unlock()
	return nil
}

func (l *Loader) testModule() string {
	if global := l.configs[config.GlobalName]; global != nil {
		return global.GetString(config.KeyTestModule)
	}
	return ""
}

// LoadConfig reads the module config and publishes it into every
// configuration under modules.<name>.
func (l *Loader) LoadConfig() error {
	cfg, err := ReadConfig(l.modulesPath, l.basePath, l.name)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()

	exported := cfg.Export()
	for _, name := range config.Names(l.configs) {
		if err := l.configs[name].BuildFromObject(exported, []string{"modules", l.name}); err != nil {
			return fmt.Errorf("publish module %s config: %w", l.name, err)
		}
	}
	return nil
}

// LoadControllers loads registered controllers and controller scripts.
func (l *Loader) LoadControllers() {
	cfg := l.Config()
	controllers := map[string]*mvc.Controller{}
	for _, c := range l.opts.Controllers.Controllers(l.name) {
		if c.Source == "" {
			c.Source = "go:" + c.Name
		}
		l.prepareController(c, cfg)
		controllers[c.Source] = c
	}
	for _, file := range walkFiles(cfg.Dirs.Controllers, script.Ext) {
		c, err := script.LoadController(file.path)
		if err != nil {
			log.Printf("warn: couldn't load controller %s: %v", file.path, err)
			continue
		}
		l.prepareController(c, cfg)
		controllers[c.Source] = c
	}

	l.mu.Lock()
	l.controllers = controllers
	l.mu.Unlock()
	for _, c := range sortedControllers(controllers) {
		l.emitController(c)
	}
}

func (l *Loader) prepareController(c *mvc.Controller, cfg Config) {
	c.Module = l.name
	for _, action := range c.Actions {
		name := action.Flag(mvc.FlagScript)
		if name == "" {
			continue
		}
		dir := firstDirWith(cfg.Dirs.Controllers, name)
		if dir == "" {
			log.Printf("warn: couldn't find script file %s for controller %s", name, c.Source)
			continue
		}
		action.Flags[mvc.FlagScript] = dir + name
	}
}

func firstDirWith(dirs []string, name string) string {
	for _, dir := range dirs {
		if _, err := os.Stat(dir + name); err == nil {
			return dir
		}
	}
	return ""
}

// reloadController reloads one controller script.
func (l *Loader) reloadController(path string) {
	c, err := script.LoadController(path)
	if err != nil {
		log.Printf("warn: couldn't reload controller %s: %v", path, err)
		return
	}
	l.prepareController(c, l.Config())
	l.mu.Lock()
	l.controllers[c.Source] = c
	l.mu.Unlock()
	routes := make([]string, 0, len(c.Routes))
	for _, route := range c.Routes {
		routes = append(routes, route.Raw())
	}
	log.Printf("reloaded controller: %s (%s)", c.Name, strings.Join(routes, ", "))
	l.emitController(c)
}

// LoadStatic indexes static files by web path.
func (l *Loader) LoadStatic() {
	files := map[string]string{}
	for _, file := range walkFiles(l.Config().Dirs.StaticFiles, "") {
		files[file.webPath()] = file.path
	}
	l.mu.Lock()
	l.staticFiles = files
	l.mu.Unlock()
}

// LoadViews indexes view templates by web path without extension.
func (l *Loader) LoadViews() {
	files := map[string]string{}
	for _, file := range walkFiles(l.Config().Dirs.Views, view.Ext) {
		files[strings.TrimSuffix(file.webPath(), view.Ext)] = file.path
	}
	l.mu.Lock()
	l.viewFiles = files
	l.mu.Unlock()
}

// LoadViewMetadata loads every metadata file under the view dirs. The first
// file found for an mvc path wins.
func (l *Loader) LoadViewMetadata() {
	l.mu.Lock()
	l.viewMetadata = map[string]map[string]any{}
	l.mu.Unlock()
	for _, file := range walkFiles(l.Config().Dirs.Views, ".json") {
		l.loadViewMetadataFile(file.path, file.dir, false)
	}
}

func (l *Loader) loadViewMetadataFile(path, viewDir string, force bool) {
	mvcPath := strings.TrimSuffix(webPath(viewDir, path), ".json")
	l.mu.RLock()
	_, exists := l.viewMetadata[mvcPath]
	l.mu.RUnlock()
	if exists && !force {
		log.Printf("warn: view metadata %s was already loaded, keeping the first one found (not %s)", mvcPath, path)
		return
	}
	metadata, err := readMetadata(path, viewDir, map[string]bool{})
	if err != nil {
		log.Printf("warn: invalid view metadata %s: %v", path, err)
		metadata = nil
	}
	l.mu.Lock()
	l.viewMetadata[mvcPath] = metadata
	l.mu.Unlock()
	l.emitMetadata(mvcPath)
}

// readMetadata reads path and merges the files named by its include list
// underneath it. Include paths are relative to viewDir.
func readMetadata(path, viewDir string, seen map[string]bool) (map[string]any, error) {
	if seen[path] {
		return nil, fmt.Errorf("include cycle at %s", path)
	}
	seen[path] = true
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	includes, _ := metadata[view.IncludeKey].([]any)
	for _, item := range includes {
		name, ok := item.(string)
		if !ok || name == "" {
			continue
		}
		name = strings.TrimPrefix(name, "/")
		if filepath.Ext(name) != ".json" {
			name += ".json"
		}
		included, err := readMetadata(viewDir+name, viewDir, seen)
		if err != nil {
			return nil, fmt.Errorf("include %s: %w", name, err)
		}
		metadata = view.MergeMetadata(included, metadata)
	}
	return metadata, nil
}

// LoadLifecycleHandlers collects registered handlers and lifecycle scripts.
func (l *Loader) LoadLifecycleHandlers() {
	handlers := l.opts.Lifecycle.Handlers(l.name)
	for _, file := range walkFiles(l.Config().Dirs.LifecycleHandlers, script.Ext) {
		handler, err := script.LoadLifecycle(file.path)
		if err != nil {
			log.Printf("warn: couldn't load lifecycle handler %s: %v", file.path, err)
			continue
		}
		handlers = append(handlers, lifecycle.Handler{Name: handler.Name(), Module: l.name, Value: handler})
	}
	l.mu.Lock()
	l.lifecycle = handlers
	l.mu.Unlock()
}

// LoadTransformers collects registered transformers and transformer scripts.
func (l *Loader) LoadTransformers() {
	entries := l.opts.Transformers.Entries(l.name)
	for _, file := range walkFiles(l.Config().Dirs.RequestTransformers, script.Ext) {
		tr, err := script.LoadTransformer(file.path)
		if err != nil {
			log.Printf("warn: couldn't load request transformer %s: %v", file.path, err)
			continue
		}
		entries = append(entries, transform.Entry{Name: tr.Name(), Module: l.name, Factory: tr.Factory()})
	}
	l.mu.Lock()
	l.transformers = entries
	l.mu.Unlock()
}

// Name returns the module directory name.
func (l *Loader) Name() string { return l.name }

// Config returns the loaded module config.
func (l *Loader) Config() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// Initialized reports whether LoadAll loaded the module.
func (l *Loader) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialized
}

// Controllers returns the controllers sorted by source.
func (l *Loader) Controllers() []*mvc.Controller {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedControllers(l.controllers)
}

// StaticFiles returns web path to file path.
func (l *Loader) StaticFiles() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.staticFiles)
}

// ViewFiles returns mvc path to template path.
func (l *Loader) ViewFiles() map[string]string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.viewFiles)
}

// ViewMetadata returns mvc path to metadata. Invalid files map to nil.
func (l *Loader) ViewMetadata() map[string]map[string]any {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return maps.Clone(l.viewMetadata)
}

// LifecycleHandlers returns the module's lifecycle handlers.
func (l *Loader) LifecycleHandlers() []lifecycle.Handler {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.lifecycle)
}

// Transformers returns the module's request transformers.
func (l *Loader) Transformers() []transform.Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.transformers)
}

// OnControllerLoad registers fn for every controller load or reload.
func (l *Loader) OnControllerLoad(fn func(*mvc.Controller)) {
	l.listenMu.Lock()
	l.controllerHandlers = append(l.controllerHandlers, fn)
	l.listenMu.Unlock()
}

// OnMetadataLoad registers fn for every metadata load or reload.
func (l *Loader) OnMetadataLoad(fn func(mvcPath string)) {
	l.listenMu.Lock()
	l.metadataHandlers = append(l.metadataHandlers, fn)
	l.listenMu.Unlock()
}

// OnViewChange registers fn for template changes seen by the watchers.
func (l *Loader) OnViewChange(fn func(path string)) {
	l.listenMu.Lock()
	l.viewHandlers = append(l.viewHandlers, fn)
	l.listenMu.Unlock()
}

func (l *Loader) emitController(c *mvc.Controller) {
	l.listenMu.RLock()
	handlers := slices.Clone(l.controllerHandlers)
	l.listenMu.RUnlock()
	for _, fn := range handlers {
		fn(c)
	}
}

func (l *Loader) emitMetadata(mvcPath string) {
	l.listenMu.RLock()
	handlers := slices.Clone(l.metadataHandlers)
	l.listenMu.RUnlock()
	for _, fn := range handlers {
		fn(mvcPath)
	}
}

func (l *Loader) emitView(path string) {
	l.listenMu.RLock()
	handlers := slices.Clone(l.viewHandlers)
	l.listenMu.RUnlock()
	for _, fn := range handlers {
		fn(path)
	}
}

func sortedControllers(controllers map[string]*mvc.Controller) []*mvc.Controller {
	out := make([]*mvc.Controller, 0, len(controllers))
	for _, source := range slices.Sorted(maps.Keys(controllers)) {
		out = append(out, controllers[source])
	}
	return out
}

type moduleFile struct {
	dir  string
	path string
}

func (f moduleFile) webPath() string { return webPath(f.dir, f.path) }

// webPath keeps the leading slash of the path below dir.
func webPath(dir, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return "/" + strings.TrimPrefix(filepath.ToSlash(path), dir)
	}
	return "/" + filepath.ToSlash(rel)
}

// walkFiles lists files under dirs with ext (any when ext is empty), in
// dir order and then lexical order. Missing dirs are skipped.
func walkFiles(dirs []string, ext string) []moduleFile {
	var files []moduleFile
	for _, dir := range dirs {
		var found []moduleFile
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ext != "" && filepath.Ext(path) != ext {
				return nil
			}
			found = append(found, moduleFile{dir: dir, path: filepath.ToSlash(path)})
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			log.Printf("warn: read dir %s: %v", dir, err)
		}
		sort.Slice(found, func(i, j int) bool { return found[i].path < found[j].path })
		files = append(files, found...)
	}
	return files
}
