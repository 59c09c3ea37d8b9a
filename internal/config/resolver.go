package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/yairfalse/balscan/internal/cache"
	"github.com/yairfalse/balscan/internal/project"
)

// ReportSubdir is where a remote Scan.toml is cached under the target dir.
const ReportSubdir = "report"

// jarSuffix names cached remote platform artifacts.
const jarSuffix = ".jar"

// Resolver locates, fetches and parses the scan configuration of a project.
type Resolver struct {
	cache *cache.Cache
	log   zerolog.Logger
}

// NewResolver creates a resolver that downloads remote artifacts through c.
func NewResolver(c *cache.Cache, log zerolog.Logger) *Resolver {
	return &Resolver{cache: c, log: log}
}

// Resolve produces the scan configuration for p.
//
// Without a [scan] table the project root is searched for Scan.toml. A
// [scan] table without configPath yields an empty configuration. A
// configPath naming an existing file is parsed directly; anything else is
// treated as a URL and fetched through the artifact cache.
func (r *Resolver) Resolve(ctx context.Context, p *project.Project) (*ScanConfig, error) {
	if p.Kind != project.BuildProject || !p.HasRoot() {
		return Empty(), nil
	}

	if !p.ScanTable {
		path := filepath.Join(p.Root, FileName)
		if !isFile(path) {
			r.log.Debug().Ctx(ctx).Str("root", p.Root).Msg("no scan configuration found")
			return Empty(), nil
		}
		r.log.Info().Ctx(ctx).Str("path", path).Msg("loading scan configuration")
		return r.load(ctx, p, path)
	}

	if p.ConfigPath == "" {
		r.log.Warn().Ctx(ctx).Msg("configPath for Scan.toml is missing")
		return Empty(), nil
	}

	local := p.ConfigPath
	if !filepath.IsAbs(local) {
		local = filepath.Join(p.Root, local)
	}
	if isFile(local) {
		r.log.Info().Ctx(ctx).Str("path", local).Msg("loading scan configuration")
		return r.load(ctx, p, local)
	}

	path, err := r.cache.Resolve(ctx, ReportSubdir, FileName, p.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("remote configuration: %w", err)
	}
	return r.load(ctx, p, path)
}

func (r *Resolver) load(ctx context.Context, p *project.Project, path string) (*ScanConfig, error) {
	cfg, err := ParseFile(path, r.log)
	if err != nil {
		return nil, err
	}

	platforms := make([]Platform, 0, len(cfg.platforms))
	for _, pl := range cfg.platforms {
		resolved, err := r.resolvePlatform(ctx, p, pl)
		if err != nil {
			return nil, err
		}
		if resolved == "" {
			continue
		}
		pl.Path = resolved
		platforms = append(platforms, pl)
	}
	cfg.platforms = platforms
	return cfg, nil
}

// resolvePlatform returns a local path for the platform artifact, or ""
// when the platform should be dropped.
func (r *Resolver) resolvePlatform(ctx context.Context, p *project.Project, pl Platform) (string, error) {
	candidates := []string{pl.Path}
	if !filepath.IsAbs(pl.Path) {
		candidates = append(candidates, filepath.Join(p.Root, pl.Path))
	}
	for _, c := range candidates {
		if exists(c) {
			return c, nil
		}
	}

	path, err := r.cache.Resolve(ctx, "", pl.Name+jarSuffix, pl.Path)
	if err != nil {
		return "", fmt.Errorf("platform %q: %w", pl.Name, err)
	}
	if !exists(path) {
		r.log.Warn().Ctx(ctx).Str("platform", pl.Name).Msg("platform artifact missing, skipping")
		return "", nil
	}
	return path, nil
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
