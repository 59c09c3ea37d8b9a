// Package rule defines the rule and issue model shared by every provider.
package rule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CoreQualifier is the provider qualifier of the built-in rule set.
const CoreQualifier = "ballerina"

// LocalRepository marks an analyzer resolved from the local repository.
const LocalRepository = "local"

// Kind classifies what a rule detects.
type Kind string

const (
	KindCodeSmell     Kind = "CODE_SMELL"
	KindBug           Kind = "BUG"
	KindVulnerability Kind = "VULNERABILITY"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCodeSmell, KindBug, KindVulnerability:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}

// Identity names a rule provider. The core provider has no organization.
type Identity struct {
	Org        string `json:"org,omitempty" yaml:"org,omitempty"`
	Name       string `json:"name" yaml:"name"`
	Version    string `json:"version,omitempty" yaml:"version,omitempty"`
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
}

// CoreIdentity returns the identity of the built-in provider.
func CoreIdentity() Identity {
	return Identity{Name: CoreQualifier}
}

// IsCore reports whether id names the built-in provider.
func (id Identity) IsCore() bool {
	return id.Org == "" && id.Name == CoreQualifier
}

// IsLocal reports whether the provider comes from the local repository.
// A version is required for the local fast path.
func (id Identity) IsLocal() bool {
	return id.Repository == LocalRepository && id.Version != ""
}

// Qualifier returns the prefix used in qualified rule ids.
func (id Identity) Qualifier() string {
	if id.Org == "" {
		return id.Name
	}
	return id.Org + "/" + id.Name
}

func (id Identity) String() string {
	s := id.Qualifier()
	if id.Version != "" {
		s += "@" + id.Version
	}
	if id.Repository != "" {
		s += " (" + id.Repository + ")"
	}
	return s
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Validate checks that the identity yields well-formed qualified ids.
func (id Identity) Validate() error {
	if id.IsCore() {
		return nil
	}
	if id.Org == "" {
		return fmt.Errorf("provider %q: organization is required", id.Name)
	}
	if !segmentPattern.MatchString(id.Org) {
		return fmt.Errorf("provider %q: invalid organization %q", id.Qualifier(), id.Org)
	}
	if !segmentPattern.MatchString(id.Name) {
		return fmt.Errorf("provider %q: invalid name %q", id.Qualifier(), id.Name)
	}
	return nil
}

// Rule is an immutable diagnostic rule declared by a provider.
type Rule struct {
	ID          string `json:"id" yaml:"id"`
	NumericID   int    `json:"numericId" yaml:"numericId"`
	Kind        Kind   `json:"kind" yaml:"kind"`
	Description string `json:"description" yaml:"description"`
}

// New builds a rule qualified by the provider identity.
func New(provider Identity, numericID int, kind Kind, description string) Rule {
	return Rule{
		ID:          QualifiedID(provider.Qualifier(), numericID),
		NumericID:   numericID,
		Kind:        kind,
		Description: description,
	}
}

// Qualifier returns the provider part of the rule id.
func (r Rule) Qualifier() string {
	q, _, _ := strings.Cut(r.ID, ":")
	return q
}

// QualifiedID formats a rule id as <qualifier>:<numericId>.
func QualifiedID(qualifier string, numericID int) string {
	return qualifier + ":" + strconv.Itoa(numericID)
}

var qualifiedIDPattern = regexp.MustCompile(`^([A-Za-z0-9_.\-]+(?:/[A-Za-z0-9_.\-]+)?):([0-9]+)$`)

// ParseQualifiedID splits a qualified id into its qualifier and numeric id.
func ParseQualifiedID(id string) (string, int, error) {
	m := qualifiedIDPattern.FindStringSubmatch(id)
	if m == nil {
		return "", 0, fmt.Errorf("invalid rule id %q: want <provider>:<number>", id)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, fmt.Errorf("invalid rule id %q: %w", id, err)
	}
	return m[1], n, nil
}
