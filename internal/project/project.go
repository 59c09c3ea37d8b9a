// Package project loads the source project a scan runs against.
//
// Parsing the source language is not done here: a Document only carries
// the file text that rule providers and the HTML report consume.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// ManifestFile is the project manifest carrying [package] and [scan].
	ManifestFile = "Ballerina.toml"
	// SourceExt is the extension of source documents.
	SourceExt = ".bal"
	// TargetDirName is the build output directory under the project root.
	TargetDirName = "target"
)

// Kind distinguishes a manifest-backed project from a lone source file.
type Kind int

const (
	BuildProject Kind = iota
	SingleFileProject
)

func (k Kind) String() string {
	if k == SingleFileProject {
		return "single-file"
	}
	return "build"
}

// Document is one source file of the project.
type Document struct {
	Name    string
	Path    string
	Content string
}

// Project is the loaded, read-only view of the project under scan.
type Project struct {
	Name      string
	Kind      Kind
	Root      string
	TargetDir string

	// ScanTable reports whether the manifest declares a [scan] table.
	ScanTable bool
	// ConfigPath is [scan].configPath as written in the manifest.
	ConfigPath string

	Documents []Document
}

type manifest struct {
	Package struct {
		Name string `toml:"name"`
	} `toml:"package"`
	Scan struct {
		ConfigPath string `toml:"configPath"`
	} `toml:"scan"`
}

// Load reads a build project directory or a single source file.
func Load(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat project path: %w", err)
	}
	if info.IsDir() {
		return loadBuildProject(abs)
	}
	return loadSingleFile(abs)
}

func loadBuildProject(root string) (*Project, error) {
	manifestPath := filepath.Join(root, ManifestFile)
	var m manifest
	meta, err := toml.DecodeFile(manifestPath, &m)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: not a project directory: missing %s", root, ManifestFile)
		}
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", manifestPath, err)
	}

	name := strings.TrimSpace(m.Package.Name)
	if name == "" {
		name = filepath.Base(root)
	}

	p := &Project{
		Name:       name,
		Kind:       BuildProject,
		Root:       root,
		TargetDir:  filepath.Join(root, TargetDirName),
		ScanTable:  meta.IsDefined("scan"),
		ConfigPath: strings.TrimSpace(m.Scan.ConfigPath),
	}

	docs, err := collectDocuments(root, p.TargetDir)
	if err != nil {
		return nil, err
	}
	p.Documents = docs
	return p, nil
}

func loadSingleFile(path string) (*Project, error) {
	if filepath.Ext(path) != SourceExt {
		return nil, fmt.Errorf("%s: expected a %s file or a project directory", path, SourceExt)
	}
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	return &Project{
		Name:      strings.TrimSuffix(filepath.Base(path), SourceExt),
		Kind:      SingleFileProject,
		TargetDir: filepath.Join(dir, TargetDirName),
		Documents: []Document{doc},
	}, nil
}

func collectDocuments(root, targetDir string) ([]Document, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (path == targetDir || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == SourceExt {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk project sources: %w", err)
	}
	sort.Strings(paths)

	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		doc, err := readDocument(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func readDocument(path string) (Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- project sources are user input by definition
	if err != nil {
		return Document{}, fmt.Errorf("read source %s: %w", path, err)
	}
	return Document{
		Name:    filepath.Base(path),
		Path:    path,
		Content: string(data),
	}, nil
}

// HasRoot reports whether the project has a source root directory.
func (p *Project) HasRoot() bool {
	return p.Root != ""
}
