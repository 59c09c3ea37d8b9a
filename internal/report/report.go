// Package report renders scan results as JSON, HTML and console output.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/pkg/rule"
)

const (
	// DefaultDir is the report directory under the project target dir.
	DefaultDir = "report"
	// ResultsFile is the JSON report file name.
	ResultsFile = "scan_results.json"
	// HTMLFile is the HTML report entry point.
	HTMLFile = "index.html"
)

// Issue is the serialized form of a finding.
type Issue struct {
	RuleID    string         `json:"ruleID"`
	Severity  string         `json:"severity"`
	IssueType string         `json:"issueType"`
	Message   string         `json:"message"`
	TextRange rule.LineRange `json:"textRange"`
}

// FromIssue converts a finding to its report form.
func FromIssue(i rule.Issue) Issue {
	return Issue{
		RuleID:    i.Rule.ID,
		Severity:  i.Rule.Kind.String(),
		IssueType: string(i.Source),
		Message:   i.Rule.Description,
		TextRange: i.Location.Range,
	}
}

// FromIssues converts findings, never returning nil.
func FromIssues(issues []rule.Issue) []Issue {
	out := make([]Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, FromIssue(i))
	}
	return out
}

// ResolveDir returns the report directory, creating it if needed. A named
// directory lives under the project root; without a name, or for a project
// without a root, <target>/report is used.
func ResolveDir(p *project.Project, name string) (string, error) {
	dir := filepath.Join(p.TargetDir, DefaultDir)
	if name != "" && p.HasRoot() {
		dir = filepath.Join(p.Root, name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory: %w", err)
	}
	return dir, nil
}

// WriteJSON prints the issues as an indented JSON array, preceded by a
// blank line. No issues prints [].
func WriteJSON(w io.Writer, issues []rule.Issue) error {
	data, err := marshalIssues(issues)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "\n%s\n", data); err != nil {
		return fmt.Errorf("write issues: %w", err)
	}
	return nil
}

// SaveJSON writes scan_results.json into dir and returns its path.
func SaveJSON(dir string, issues []rule.Issue) (string, error) {
	data, err := marshalIssues(issues)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ResultsFile)
	if err := writeFileAtomic(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

func marshalIssues(issues []rule.Issue) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(FromIssues(issues)); err != nil {
		return nil, fmt.Errorf("encode issues: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// writeFileAtomic writes data to a temporary file in the destination
// directory and renames it over path.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", filepath.Base(path), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move %s into place: %w", filepath.Base(path), err)
	}
	return nil
}
