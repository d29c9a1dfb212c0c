// Package modules implements the module loader: resolving an import name
// to source text, tracking a loading stack for cycle detection, and
// registering the result in an indexed Module table.
package modules

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sxnnyside/obfusku/internal/bytecode"
)

// Module is one loaded/compiled import: its chunk plus the ordered names
// it exports and their bound values.
type Module struct {
	Name         string
	Chunk        *bytecode.Chunk
	Exports      []string
	ExportValues map[string]bytecode.Value
}

// CircularImportError reports a cycle found while resolving name, with the
// full chain from the root import down to the repeated name.
type CircularImportError struct {
	Chain []string
}

func (e *CircularImportError) Error() string {
	return fmt.Sprintf("circular import: %s", strings.Join(e.Chain, " -> "))
}

// Loader resolves, reads, and registers modules by name: literal path
// first, then name+".obk", then name+".obx", tried in turn against each
// configured search path.
type Loader struct {
	SearchPaths []string

	registry map[string]int
	modules  []*Module
	stack    []string
}

// NewLoader returns a Loader that searches paths in order, plus the
// current directory implicitly via a literal-path match.
func NewLoader(paths []string) *Loader {
	return &Loader{SearchPaths: paths, registry: make(map[string]int)}
}

// Lookup returns the already-registered module for name, if any.
func (l *Loader) Lookup(name string) (*Module, int, bool) {
	idx, ok := l.registry[name]
	if !ok {
		return nil, 0, false
	}
	return l.modules[idx], idx, true
}

// Resolve finds name's source path: name as an existing path; then
// name+".obk" on each search path; then name+".obx" on each search path.
func (l *Loader) Resolve(name string) (string, error) {
	if fileExists(name) {
		return name, nil
	}
	for _, suffix := range []string{".obk", ".obx"} {
		for _, dir := range l.SearchPaths {
			candidate := filepath.Join(dir, name+suffix)
			if fileExists(candidate) {
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("modules: cannot resolve %q in search paths %v", name, l.SearchPaths)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ReadSource resolves and reads name's UTF-8 source text, pushing name
// onto the loading stack for cycle detection. The caller must call Pop
// once the module finishes loading (success or failure).
func (l *Loader) ReadSource(name string) (string, error) {
	for _, inFlight := range l.stack {
		if inFlight == name {
			chain := append(append([]string{}, l.stack...), name)
			return "", &CircularImportError{Chain: chain}
		}
	}
	path, err := l.Resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("modules: reading %q: %w", path, err)
	}
	l.stack = append(l.stack, name)
	return string(data), nil
}

// Pop removes the most recently pushed name from the loading stack.
func (l *Loader) Pop() {
	if n := len(l.stack); n > 0 {
		l.stack = l.stack[:n-1]
	}
}

// Register stores mod under name and returns its index, replacing any
// prior registration for the same name.
func (l *Loader) Register(name string, mod *Module) int {
	if idx, ok := l.registry[name]; ok {
		l.modules[idx] = mod
		return idx
	}
	idx := len(l.modules)
	l.modules = append(l.modules, mod)
	l.registry[name] = idx
	return idx
}

// Get returns the module at idx, or nil if out of range.
func (l *Loader) Get(idx int) *Module {
	if idx < 0 || idx >= len(l.modules) {
		return nil
	}
	return l.modules[idx]
}

// Manifest is the optional obfusku.mod.yaml sitting next to a module's
// source, declaring the names the module exports.
type Manifest struct {
	Module  string   `yaml:"module"`
	Exports []string `yaml:"exports"`
}

// LoadManifest reads the manifest next to sourcePath. A missing manifest
// is not an error: the module then exports nothing explicitly.
func LoadManifest(sourcePath string) (Manifest, error) {
	var m Manifest
	path := filepath.Join(filepath.Dir(sourcePath), "obfusku.mod.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return m, fmt.Errorf("modules: reading %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("modules: parsing %q: %w", path, err)
	}
	return m, nil
}
