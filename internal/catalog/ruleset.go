package catalog

import (
	"fmt"

	"github.com/google/btree"

	"github.com/yairfalse/balscan/pkg/rule"
)

// IntegrityError reports a provider that broke the rule or issue contract.
type IntegrityError struct {
	Provider string
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Reason)
}

// RuleSet holds the rules of one provider ordered by numeric id.
type RuleSet struct {
	identity rule.Identity
	index    *btree.BTreeG[rule.Rule]
}

// NewRuleSet indexes rules declared by the provider id. A duplicate numeric
// id, or a rule not qualified by id, is an integrity error.
func NewRuleSet(id rule.Identity, rules []rule.Rule) (*RuleSet, error) {
	s := &RuleSet{
		identity: id,
		index: btree.NewG[rule.Rule](16, func(a, b rule.Rule) bool {
			return a.NumericID < b.NumericID
		}),
	}

	qualifier := id.Qualifier()
	for _, r := range rules {
		if want := rule.QualifiedID(qualifier, r.NumericID); r.ID != want {
			return nil, &IntegrityError{
				Provider: qualifier,
				Reason:   fmt.Sprintf("rule id %q does not match %q", r.ID, want),
			}
		}
		if r.NumericID < 0 {
			return nil, &IntegrityError{Provider: qualifier, Reason: fmt.Sprintf("rule %s has a negative id", r.ID)}
		}
		if !r.Kind.Valid() {
			return nil, &IntegrityError{Provider: qualifier, Reason: fmt.Sprintf("rule %s has unknown kind %q", r.ID, r.Kind)}
		}
		if _, dup := s.index.ReplaceOrInsert(r); dup {
			return nil, &IntegrityError{
				Provider: qualifier,
				Reason:   fmt.Sprintf("duplicate numeric rule id %d", r.NumericID),
			}
		}
	}
	return s, nil
}

// Identity returns the provider the set belongs to.
func (s *RuleSet) Identity() rule.Identity {
	return s.identity
}

// Len returns the number of rules.
func (s *RuleSet) Len() int {
	return s.index.Len()
}

// Get returns the rule with the given numeric id.
func (s *RuleSet) Get(numericID int) (rule.Rule, bool) {
	return s.index.Get(rule.Rule{NumericID: numericID})
}

// Rules returns the rules in numeric id order.
func (s *RuleSet) Rules() []rule.Rule {
	out := make([]rule.Rule, 0, s.index.Len())
	s.index.Ascend(func(r rule.Rule) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Check verifies an issue produced by the provider references one of its
// rules and carries a well-formed location. It returns the declared rule,
// which replaces whatever rule metadata the provider attached.
func (s *RuleSet) Check(issue rule.Issue) (rule.Rule, error) {
	qualifier := s.identity.Qualifier()
	r, ok := s.Get(issue.Rule.NumericID)
	if !ok || r.ID != issue.Rule.ID {
		return rule.Rule{}, &IntegrityError{Provider: qualifier, Reason: fmt.Sprintf("issue for undeclared rule %q", issue.Rule.ID)}
	}
	if err := issue.Location.Validate(); err != nil {
		return rule.Rule{}, &IntegrityError{Provider: qualifier, Reason: fmt.Sprintf("issue for %s: %v", r.ID, err)}
	}
	return r, nil
}
