package hooks

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every *.yaml and *.yml hook definition from dir, in file
// name order. Malformed files are logged and skipped; they never abort the
// rest of the set. A missing directory yields an empty set.
func LoadDir(dir string, logger *slog.Logger) []*Hook {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "hooks")

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("hooks dir unreadable", "dir", dir, "error", err)
		}
		return nil
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var hooks []*Hook
	for _, name := range names {
		hook, err := loadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("hook skipped", "file", name, "error", err)
			continue
		}
		hooks = append(hooks, hook)
	}
	return hooks
}

func loadFile(path string) (*Hook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hook Hook
	if err := yaml.Unmarshal(data, &hook); err != nil {
		return nil, err
	}
	base := filepath.Base(path)
	hook.HookID = strings.TrimSuffix(base, filepath.Ext(base))
	if err := hook.Validate(); err != nil {
		return nil, err
	}
	return &hook, nil
}
