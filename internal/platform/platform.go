// Package platform hands final scan results to reporting platforms.
package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yairfalse/balscan/internal/config"
	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/pkg/rule"
)

// Context is what a platform receives after a scan.
type Context struct {
	Project *project.Project
	// Path is the resolved platform artifact from [[platform]] path.
	Path string
	// Args holds the free-form keys of the [[platform]] entry.
	Args   map[string]any
	Issues []rule.Issue
}

// Platform outputs scan results to an external system.
type Platform interface {
	// Name matches the [[platform]] name it is configured by.
	Name() string

	// Report sends the issues to the platform.
	Report(ctx context.Context, c Context) error
}

// Registry holds available platform implementations.
type Registry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

// NewRegistry creates a registry holding ps.
func NewRegistry(ps ...Platform) *Registry {
	r := &Registry{platforms: make(map[string]Platform)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds a platform, replacing one with the same name.
func (r *Registry) Register(p Platform) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platforms[p.Name()] = p
}

// Get returns a platform by name.
func (r *Registry) Get(name string) (Platform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.platforms[name]
	return p, ok
}

// Names returns the registered platform names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.platforms))
	for name := range r.platforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch reports issues to each named platform in order. A name with no
// registered implementation or no configuration entry is skipped with a
// warning; a platform failure stops dispatch.
func (r *Registry) Dispatch(ctx context.Context, log zerolog.Logger, cfg *config.ScanConfig, names []string, p *project.Project, issues []rule.Issue) error {
	for _, name := range names {
		impl, ok := r.Get(name)
		if !ok {
			log.Warn().Ctx(ctx).Str("platform", name).Strs("available", r.Names()).Msg("platform not available, skipping")
			continue
		}
		entry, ok := cfg.Platform(name)
		if !ok {
			log.Warn().Ctx(ctx).Str("platform", name).Msg("platform not configured in Scan.toml, skipping")
			continue
		}

		log.Info().Ctx(ctx).Str("platform", name).Int("issues", len(issues)).Msg("reporting to platform")
		err := impl.Report(ctx, Context{
			Project: p,
			Path:    entry.Path,
			Args:    entry.Args,
			Issues:  issues,
		})
		if err != nil {
			return fmt.Errorf("platform %s: %w", name, err)
		}
	}
	return nil
}
