// Package registry resolves model references to files in the models
// directory and lists the models available there.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	// ErrModelNotFound is returned when no file exists for a model reference.
	ErrModelNotFound = errors.New("model not found")
	// ErrModelNotAllowed is returned for references outside the allowed list.
	ErrModelNotAllowed = errors.New("model not allowed")
)

// Extensions are tried in order when a reference has no extension.
var Extensions = []string{".py", ".pt", ".pth", ".onnx", ".pb", ".h5", ".keras"}

// Manifest is the optional <model>.json file stored next to a model.
type Manifest struct {
	Format      string `json:"format"`
	Description string `json:"description"`
}

// Model describes a model file found in the models directory.
type Model struct {
	Name        string    `json:"name"`
	File        string    `json:"file"`
	Path        string    `json:"-"`
	Format      string    `json:"format,omitempty"`
	Description string    `json:"description,omitempty"`
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"modified_at"`
}

// Registry looks up models in one directory.
type Registry struct {
	dir     string
	allowed map[string]bool
}

// New creates a Registry over dir. When allowed is non-empty only those
// references may be resolved.
func New(dir string, allowed []string) *Registry {
	r := &Registry{dir: dir}
	if len(allowed) > 0 {
		r.allowed = make(map[string]bool, len(allowed))
		for _, name := range allowed {
			r.allowed[name] = true
		}
	}
	return r
}

// Dir returns the models directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Allowed reports whether name may be resolved. A reference with an
// extension is allowed when its base name is.
func (r *Registry) Allowed(name string) bool {
	if r.allowed == nil {
		return true
	}
	return r.allowed[name] || r.allowed[strings.TrimSuffix(name, filepath.Ext(name))]
}

// Resolve returns the absolute path of the file for a model reference.
// A reference without an extension is tried with each of Extensions in turn.
func (r *Registry) Resolve(name string) (string, error) {
	m, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	return m.Path, nil
}

// Lookup resolves a model reference and returns its details.
func (r *Registry) Lookup(name string) (Model, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return Model{}, fmt.Errorf("invalid model reference %q", name)
	}
	if !r.Allowed(name) {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotAllowed, name)
	}

	candidates := []string{name}
	if filepath.Ext(name) == "" {
		candidates = candidates[:0]
		for _, ext := range Extensions {
			candidates = append(candidates, name+ext)
		}
	}

	for _, file := range candidates {
		path := filepath.Join(r.dir, file)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		return r.describe(path, info)
	}

	return Model{}, fmt.Errorf("%w: %s in %s", ErrModelNotFound, name, r.dir)
}

// List returns the models in the directory, newest first. A missing
// directory yields an empty list.
func (r *Registry) List() ([]Model, error) {
	entries, err := os.ReadDir(r.dir)
	if os.IsNotExist(err) {
		return []Model{}, nil
	}
	if err != nil {
		return nil, err
	}

	models := []Model{}
	for _, entry := range entries {
		if entry.IsDir() || !isModelFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		m, err := r.describe(filepath.Join(r.dir, entry.Name()), info)
		if err != nil {
			continue
		}
		models = append(models, m)
	}

	sort.SliceStable(models, func(i, j int) bool {
		return models[i].ModTime.After(models[j].ModTime)
	})
	return models, nil
}

func (r *Registry) describe(path string, info os.FileInfo) (Model, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Model{}, err
	}
	file := filepath.Base(path)
	m := Model{
		Name:    strings.TrimSuffix(file, filepath.Ext(file)),
		File:    file,
		Path:    abs,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	manifest, err := readManifest(strings.TrimSuffix(path, filepath.Ext(path)) + ".json")
	if err == nil {
		m.Format = manifest.Format
		m.Description = manifest.Description
	}
	return m, nil
}

func readManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	return manifest, nil
}

func isModelFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
