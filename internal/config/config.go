// Package config handles the Scan.toml configuration for balscan.
package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/yairfalse/balscan/pkg/rule"
)

// FileName is the conventional name of the scan configuration file.
const FileName = "Scan.toml"

const (
	platformTable = "platform"
	analyzerTable = "analyzer"
	ruleTable     = "rule"
)

var versionPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)(-[0-9A-Za-z.\-]+)?(\+[0-9A-Za-z.\-]+)?$`)

// Platform is a reporting platform declared with [[platform]].
type Platform struct {
	Name string
	Path string
	Args map[string]any
}

// Analyzer references an external rule provider declared with [[analyzer]].
type Analyzer struct {
	Org        string
	Name       string
	Version    string
	Repository string
}

// Identity returns the provider identity the analyzer resolves to.
func (a Analyzer) Identity() rule.Identity {
	return rule.Identity{Org: a.Org, Name: a.Name, Version: a.Version, Repository: a.Repository}
}

// IsLocal reports whether the analyzer takes the local-repository path.
func (a Analyzer) IsLocal() bool {
	return a.Identity().IsLocal()
}

func (a Analyzer) String() string {
	return a.Identity().String()
}

// ScanConfig is the resolved scan configuration. It is read-only once
// built; accessors return copies.
type ScanConfig struct {
	platforms []Platform
	analyzers []Analyzer
	include   []string
	exclude   []string
}

// Empty returns a configuration with no platforms, analyzers or filters.
func Empty() *ScanConfig {
	return &ScanConfig{}
}

// Platforms returns the declared platforms in file order.
func (c *ScanConfig) Platforms() []Platform {
	out := make([]Platform, len(c.platforms))
	for i, p := range c.platforms {
		out[i] = Platform{Name: p.Name, Path: p.Path, Args: cloneArgs(p.Args)}
	}
	return out
}

// Platform looks up a platform by name.
func (c *ScanConfig) Platform(name string) (Platform, bool) {
	for _, p := range c.platforms {
		if p.Name == name {
			return Platform{Name: p.Name, Path: p.Path, Args: cloneArgs(p.Args)}, true
		}
	}
	return Platform{}, false
}

// Analyzers returns the declared analyzers in file order.
func (c *ScanConfig) Analyzers() []Analyzer {
	return slices.Clone(c.analyzers)
}

// Include returns the qualified rule ids to retain.
func (c *ScanConfig) Include() []string {
	return slices.Clone(c.include)
}

// Exclude returns the qualified rule ids to drop.
func (c *ScanConfig) Exclude() []string {
	return slices.Clone(c.exclude)
}

// WithRules returns a copy of c where each non-empty list replaces the
// corresponding filter set.
func (c *ScanConfig) WithRules(include, exclude []string) *ScanConfig {
	out := &ScanConfig{
		platforms: c.platforms,
		analyzers: c.analyzers,
		include:   c.include,
		exclude:   c.exclude,
	}
	if ids := normalizeIDs(include); len(ids) > 0 {
		out.include = ids
	}
	if ids := normalizeIDs(exclude); len(ids) > 0 {
		out.exclude = ids
	}
	return out
}

func (c *ScanConfig) addPlatform(p Platform) {
	for _, existing := range c.platforms {
		if existing.Name == p.Name && existing.Path == p.Path && reflect.DeepEqual(existing.Args, p.Args) {
			return
		}
	}
	c.platforms = append(c.platforms, p)
}

func (c *ScanConfig) addAnalyzer(a Analyzer) {
	if slices.Contains(c.analyzers, a) {
		return
	}
	c.analyzers = append(c.analyzers, a)
}

// ParseFile reads and parses a scan configuration file.
func ParseFile(path string, log zerolog.Logger) (*ScanConfig, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- config path comes from the project manifest
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes scan configuration TOML. Syntax errors are fatal; entries
// missing a required field are dropped with a notice.
func Parse(data []byte, log zerolog.Logger) (*ScanConfig, error) {
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg := Empty()
	for i, table := range tables(doc, platformTable) {
		p, ok := parsePlatform(table)
		if !ok {
			log.Warn().Int("index", i).Msg("ignoring [[platform]] entry without name or path")
			continue
		}
		cfg.addPlatform(p)
	}
	for i, table := range tables(doc, analyzerTable) {
		a, ok := parseAnalyzer(table)
		if !ok {
			log.Warn().Int("index", i).Msg("ignoring [[analyzer]] entry without org or name")
			continue
		}
		cfg.addAnalyzer(a)
	}

	if rules, ok := doc[ruleTable].(map[string]any); ok {
		cfg.include = normalizeIDs(stringList(rules["include"]))
		cfg.exclude = normalizeIDs(stringList(rules["exclude"]))
	}
	return cfg, nil
}

func tables(doc map[string]any, key string) []map[string]any {
	switch v := doc[key].(type) {
	case []map[string]any:
		return v
	case []any:
		out := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		return []map[string]any{v}
	}
	return nil
}

func parsePlatform(table map[string]any) (Platform, bool) {
	name, _ := table["name"].(string)
	path, hasPath := table["path"].(string)
	if strings.TrimSpace(name) == "" || !hasPath {
		return Platform{}, false
	}

	args := make(map[string]any, len(table))
	for k, v := range table {
		if k != "name" && k != "path" {
			args[k] = v
		}
	}
	return Platform{Name: name, Path: path, Args: args}, true
}

func parseAnalyzer(table map[string]any) (Analyzer, bool) {
	org, _ := table["org"].(string)
	name, _ := table["name"].(string)
	if org == "" || name == "" {
		return Analyzer{}, false
	}

	a := Analyzer{Org: org, Name: name}
	if v, ok := table["version"].(string); ok && versionPattern.MatchString(v) {
		a.Version = v
	}
	if repo, _ := table["repository"].(string); repo == rule.LocalRepository && a.Version != "" {
		a.Repository = repo
	}
	return a, true
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

// normalizeIDs trims ids and collapses duplicates, keeping first occurrence.
func normalizeIDs(ids []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func cloneArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
