package module

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Discover returns the names of the directories under modulesPath that hold
// an eta.json. A missing modulesPath yields no modules.
func Discover(modulesPath string) ([]string, error) {
	entries, err := os.ReadDir(modulesPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read modules dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := os.Stat(filepath.Join(modulesPath, entry.Name(), ConfigFile))
		if err != nil || info.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}
