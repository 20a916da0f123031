package artifact

import (
	"fmt"
	"sort"
	"sync"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/workflow"
)

// Catalog owns the artifact descriptions for one run. Package names are the
// only mutable field and may be set once per artifact.
type Catalog struct {
	mu        sync.RWMutex
	artifacts map[string]Info
}

// NewCatalog validates infos and returns a catalog over them. Dependencies on
// names missing from infos are rejected.
func NewCatalog(infos []Info) (*Catalog, error) {
	artifacts := make(map[string]Info, len(infos))
	for _, info := range infos {
		if err := info.Validate(); err != nil {
			return nil, err
		}
		if _, dup := artifacts[info.Name]; dup {
			return nil, fmt.Errorf("artifact: duplicate artifact %s", info.Name)
		}
		artifacts[info.Name] = info.Clone()
	}
	catalog := &Catalog{artifacts: artifacts}
	if err := catalog.Graph().Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Graph returns the dependency graph of every artifact in the catalog.
func (c *Catalog) Graph() workflow.DependencyGraph {
	c.mu.RLock()
	defer c.mu.RUnlock()
	graph := make(workflow.DependencyGraph, len(c.artifacts))
	for name, info := range c.artifacts {
		graph[name] = cloneStrings(info.DependsOn)
	}
	return graph
}

// Names returns every artifact name sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.artifacts))
	for name := range c.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Info returns a copy of the named artifact's description.
func (c *Catalog) Info(name string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.artifacts[name]
	if !ok {
		return Info{}, false
	}
	return info.Clone(), true
}

// PackageName returns the artifact's package name, or "" when unknown.
func (c *Catalog) PackageName(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.artifacts[name].PackageName
}

// SetPackageName records a discovered package name. It fails when the
// artifact is unknown or already has a package name.
func (c *Catalog) SetPackageName(name, packageName string) error {
	if packageName == "" {
		return fmt.Errorf("artifact: package name for %s is empty", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.artifacts[name]
	if !ok {
		return fmt.Errorf("artifact: unknown artifact %s", name)
	}
	if info.PackageName != "" {
		return fmt.Errorf("artifact: %s already has package name %s", name, info.PackageName)
	}
	info.PackageName = packageName
	c.artifacts[name] = info
	return nil
}

// DisplayName prefers the package name and falls back to the artifact name.
func (c *Catalog) DisplayName(name string) string {
	if pkg := c.PackageName(name); pkg != "" {
		return pkg
	}
	return name
}
