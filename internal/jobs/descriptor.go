// Package jobs runs resident producers: filesystem watchers and polling
// emitters described by YAML files under the jobs directory, each with a
// durable heartbeat.
package jobs

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Descriptor declares one resident job. The job ID derives from the file
// stem.
type Descriptor struct {
	JobID                  string   `yaml:"-"`
	WatchPaths             []string `yaml:"watch_paths"`
	WatchIntervalSeconds   float64  `yaml:"watch_interval_seconds"`
	DebounceSeconds        float64  `yaml:"debounce_seconds"`
	PollingIntervalSeconds float64  `yaml:"polling_interval_seconds"`
	PollingEventType       string   `yaml:"polling_event_type"`
	ProjectID              string   `yaml:"project_id"`
}

// Validate checks descriptor consistency.
func (d *Descriptor) Validate() error {
	if len(d.WatchPaths) == 0 && d.PollingIntervalSeconds <= 0 {
		return fmt.Errorf("job %s: needs watch_paths or a polling interval", d.JobID)
	}
	if d.PollingIntervalSeconds > 0 && strings.TrimSpace(d.PollingEventType) == "" {
		return fmt.Errorf("job %s: polling_event_type is required with a polling interval", d.JobID)
	}
	if d.WatchIntervalSeconds < 0 || d.DebounceSeconds < 0 || d.PollingIntervalSeconds < 0 {
		return fmt.Errorf("job %s: intervals must be >= 0", d.JobID)
	}
	return nil
}

// LoadDir reads every *.yaml descriptor in dir, sorted by file name.
// Malformed files are logged and skipped.
func LoadDir(dir string, logger *slog.Logger) ([]*Descriptor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var descriptors []*Descriptor
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("job descriptor unreadable", "path", path, "error", err)
			continue
		}
		var d Descriptor
		if err := yaml.Unmarshal(data, &d); err != nil {
			logger.Warn("job descriptor invalid", "path", path, "error", err)
			continue
		}
		d.JobID = strings.TrimSuffix(name, filepath.Ext(name))
		if err := d.Validate(); err != nil {
			logger.Warn("job descriptor rejected", "path", path, "error", err)
			continue
		}
		descriptors = append(descriptors, &d)
	}
	return descriptors, nil
}
