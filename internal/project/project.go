// Package project handles project identity: the amon.project.yaml
// descriptor and the mapping from project IDs to directories.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/amonhq/amon/internal/store"
)

// DescriptorFile is the per-project identity file name.
const DescriptorFile = "amon.project.yaml"

// Project identifies one project directory.
type Project struct {
	ProjectID string `yaml:"project_id" json:"project_id"`
	Name      string `yaml:"name" json:"name"`
	Dir       string `yaml:"-" json:"dir"`
}

// Load reads the descriptor from dir.
func Load(dir string) (*Project, error) {
	data, err := os.ReadFile(filepath.Join(dir, DescriptorFile))
	if err != nil {
		return nil, err
	}
	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DescriptorFile, err)
	}
	if strings.TrimSpace(p.ProjectID) == "" {
		return nil, fmt.Errorf("%s: project_id is required", DescriptorFile)
	}
	p.Dir = dir
	return &p, nil
}

// Ensure loads the descriptor, creating one with a fresh ID when absent.
func Ensure(dir, name string) (*Project, error) {
	p, err := Load(dir)
	if err == nil {
		return p, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	p = &Project{
		ProjectID: uuid.NewString(),
		Name:      name,
		Dir:       dir,
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	if err := store.WriteFileAtomic(filepath.Join(dir, DescriptorFile), data); err != nil {
		return nil, err
	}
	return p, nil
}

// Resolver maps project IDs to directories by scanning a root of project
// directories once and caching the result.
type Resolver struct {
	root string

	mu    sync.Mutex
	byID  map[string]string
	ready bool
}

// NewResolver creates a resolver over root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: root, byID: make(map[string]string)}
}

// Dir returns the directory for a project ID, or "" when unknown.
func (r *Resolver) Dir(projectID string) string {
	if projectID == "" {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ready {
		r.scan()
		r.ready = true
	}
	if dir, ok := r.byID[projectID]; ok {
		return dir
	}
	// A project registered after the initial scan.
	r.scan()
	return r.byID[projectID]
}

func (r *Resolver) scan() {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(r.root, entry.Name())
		p, err := Load(dir)
		if err != nil {
			continue
		}
		r.byID[p.ProjectID] = dir
	}
}
