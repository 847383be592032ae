package scenario

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrInvalidScript is returned when a script fails validation at registration.
var ErrInvalidScript = errors.New("invalid scenario script")

//go:embed catalog/*.yaml
var builtinFS embed.FS

// Catalog is the set of registered scripts, keyed by id and kept in
// registration order.
type Catalog struct {
	mu      sync.RWMutex
	byID    map[string]*Script
	ordered []*Script
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{byID: make(map[string]*Script)}
}

// Default returns a catalog with the built-in scripts registered.
func Default() (*Catalog, error) {
	c := NewCatalog()
	scripts, err := LoadFS(builtinFS, "catalog")
	if err != nil {
		return nil, fmt.Errorf("load built-in scenarios: %w", err)
	}
	for _, s := range scripts {
		if err := c.Register(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register validates s and adds it to the catalog.
func (c *Catalog) Register(s Script) error {
	if err := Validate(s); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byID[s.ID]; exists {
		return fmt.Errorf("%w: duplicate id %q", ErrInvalidScript, s.ID)
	}
	sc := s.Clone()
	c.byID[s.ID] = &sc
	c.ordered = append(c.ordered, &sc)
	slog.Debug("registered scenario", "id", s.ID, "nodes", len(s.Nodes))
	return nil
}

// Get returns the script with the given id.
func (c *Catalog) Get(id string) (*Script, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.byID[id]
	return s, ok
}

// FindByTitleFragment matches the first word of text, case-insensitively,
// against script titles and returns the first script containing it.
func (c *Catalog) FindByTitleFragment(text string) (*Script, bool) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return nil, false
	}
	needle := words[0]
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.ordered {
		if strings.Contains(strings.ToLower(s.Title), needle) {
			return s, true
		}
	}
	return nil, false
}

// List returns all scripts in registration order.
func (c *Catalog) List() []*Script {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Script, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Len returns the number of registered scripts.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ordered)
}

// Validate checks the structural integrity of a script: every node key
// matches its id and every node reference resolves.
func Validate(s Script) error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidScript)
	}
	var problems []error
	if s.Title == "" {
		problems = append(problems, errors.New("missing title"))
	}
	if len(s.Nodes) == 0 {
		problems = append(problems, errors.New("no nodes"))
	}
	if _, ok := s.Nodes[s.OpeningNode]; !ok {
		problems = append(problems, fmt.Errorf("opening node %q not found", s.OpeningNode))
	}

	keys := make([]string, 0, len(s.Nodes))
	for k := range s.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		n := s.Nodes[key]
		if n.ID != key {
			problems = append(problems, fmt.Errorf("node key %q has id %q", key, n.ID))
		}
		seen := make(map[string]bool, len(n.Responses))
		for _, r := range n.Responses {
			if r.ID == "" {
				problems = append(problems, fmt.Errorf("node %q: response without id", key))
			} else if seen[r.ID] {
				problems = append(problems, fmt.Errorf("node %q: duplicate response %q", key, r.ID))
			}
			seen[r.ID] = true
			if r.Terminal() {
				continue
			}
			if _, ok := s.Nodes[r.NextNodeID]; !ok {
				problems = append(problems, fmt.Errorf("node %q response %q: next node %q not found", key, r.ID, r.NextNodeID))
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w %q: %w", ErrInvalidScript, s.ID, errors.Join(problems...))
	}
	return nil
}

// LoadFS parses every *.yaml / *.yml file in dir, one script per file,
// in file-name order.
func LoadFS(fsys fs.FS, dir string) ([]Script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir %s: %w", dir, err)
	}
	var scripts []Script
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := path.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		p := path.Join(dir, e.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		s, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// LoadDir parses scripts from a directory on disk.
func LoadDir(dir string) ([]Script, error) {
	return LoadFS(os.DirFS(dir), ".")
}

// Parse decodes a single YAML script. Node ids default to their map key.
func Parse(data []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Script{}, err
	}
	for key, n := range s.Nodes {
		if n.ID == "" {
			n.ID = key
			s.Nodes[key] = n
		}
	}
	return s, nil
}

// RegisterDirs loads and registers every script found in dirs.
func (c *Catalog) RegisterDirs(dirs ...string) error {
	for _, dir := range dirs {
		scripts, err := LoadDir(dir)
		if err != nil {
			return err
		}
		for _, s := range scripts {
			if err := c.Register(s); err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
		}
		slog.Info("loaded scenarios", "dir", dir, "count", len(scripts))
	}
	return nil
}
