// Package issues collects the findings of one scan in discovery order.
package issues

import (
	"errors"
	"sync"

	"github.com/yairfalse/balscan/pkg/rule"
)

// ErrFrozen is returned by Record once analysis has finished.
var ErrFrozen = errors.New("issue reporter is frozen")

// Reporter is the issue sink shared by analysis. It is safe for concurrent
// use and never deduplicates.
type Reporter struct {
	mu     sync.Mutex
	issues []rule.Issue
	frozen bool
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{}
}

// Record appends issues in the order given.
func (r *Reporter) Record(issues ...rule.Issue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrFrozen
	}
	r.issues = append(r.issues, issues...)
	return nil
}

// Freeze ends the analysis phase.
func (r *Reporter) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (r *Reporter) Frozen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frozen
}

// Issues returns a snapshot of the recorded issues.
func (r *Reporter) Issues() []rule.Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]rule.Issue, len(r.issues))
	copy(out, r.issues)
	return out
}

// Len returns the number of recorded issues.
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issues)
}
