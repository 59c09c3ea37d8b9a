package report

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/pkg/rule"
)

// Placeholder is replaced with the report payload in index.html.
const Placeholder = "__data__"

//go:embed template
var templateFS embed.FS

const templateRoot = "template"

// ScannedFile groups the issues of one source file.
type ScannedFile struct {
	FileName    string  `json:"fileName"`
	FilePath    string  `json:"filePath"`
	FileContent string  `json:"fileContent"`
	Issues      []Issue `json:"issues"`
}

// ScannedProject is the payload embedded in the HTML report.
type ScannedProject struct {
	ProjectName  string        `json:"projectName"`
	ScannedFiles []ScannedFile `json:"scannedFiles"`
}

// Group merges issues by file path. Files appear in the order their first
// issue was discovered, and each file is read exactly once.
func Group(issues []rule.Issue) ([]ScannedFile, error) {
	files := make([]ScannedFile, 0)
	index := make(map[string]int)

	for _, issue := range issues {
		path := issue.Location.FilePath
		if i, ok := index[path]; ok {
			files[i].Issues = append(files[i].Issues, FromIssue(issue))
			continue
		}

		content, err := os.ReadFile(path) // #nosec G304 -- paths come from the scanned project
		if err != nil {
			return nil, fmt.Errorf("read %s for report: %w", path, err)
		}
		index[path] = len(files)
		files = append(files, ScannedFile{
			FileName:    issue.Location.FileName,
			FilePath:    path,
			FileContent: string(content),
			Issues:      []Issue{FromIssue(issue)},
		})
	}
	return files, nil
}

// GenerateHTML extracts the report template into dir and fills index.html
// with the grouped issues. It returns the path of index.html.
func GenerateHTML(dir string, p *project.Project, issues []rule.Issue) (string, error) {
	files, err := Group(issues)
	if err != nil {
		return "", err
	}

	payload, err := json.MarshalIndent(ScannedProject{ProjectName: p.Name, ScannedFiles: files}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report payload: %w", err)
	}

	if err := extractTemplate(dir); err != nil {
		return "", err
	}

	page, err := templateFS.ReadFile(templateRoot + "/" + HTMLFile)
	if err != nil {
		return "", fmt.Errorf("read report template: %w", err)
	}
	if bytes.Count(page, []byte(Placeholder)) != 1 {
		return "", fmt.Errorf("report template: want exactly one %s placeholder", Placeholder)
	}
	page = bytes.Replace(page, []byte(Placeholder), payload, 1)

	path := filepath.Join(dir, HTMLFile)
	if err := writeFileAtomic(path, page); err != nil {
		return "", err
	}
	return path, nil
}

// extractTemplate copies the static assets of the template into dir.
// index.html is written separately once the payload is substituted.
func extractTemplate(dir string) error {
	return fs.WalkDir(templateFS, templateRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(templateRoot, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dir, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if rel == HTMLFile {
			return nil
		}
		data, err := templateFS.ReadFile(path)
		if err != nil {
			return err
		}
		if err := writeFileAtomic(target, data); err != nil {
			return fmt.Errorf("extract report template: %w", err)
		}
		return nil
	})
}
