package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dshills/mudlark/internal/logging"
)

// scriptExt is the artifact extension the resolver discovers.
const scriptExt = ".lua"

// manifestName is the optional per-directory metadata file.
const manifestName = "manifest.yaml"

// Entry describes one discovered script artifact.
type Entry struct {
	Name        string // base name without extension, the lookup key
	Path        string // absolute or search-path-relative file path
	DisplayName string
	Description string
}

// manifest is the per-directory metadata file format.
type manifest struct {
	Scripts map[string]manifestEntry `yaml:"scripts"`
}

type manifestEntry struct {
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
}

// Resolver discovers script artifacts across an ordered list of search
// paths and resolves names to entries. Discovery results are cached until
// Invalidate is called; all methods are safe for concurrent use.
type Resolver struct {
	mu    sync.RWMutex
	paths []string
	cache map[string]Entry
	log   *logging.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the diagnostic sink.
func WithResolverLogger(log *logging.Logger) ResolverOption {
	return func(r *Resolver) {
		if log != nil {
			r.log = log
		}
	}
}

// NewResolver creates a resolver over the given search paths. Earlier
// paths shadow later ones when the same script name appears in both.
func NewResolver(paths []string, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		paths: append([]string(nil), paths...),
		log:   logging.Null,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Paths returns the configured search paths.
func (r *Resolver) Paths() []string {
	return append([]string(nil), r.paths...)
}

// Discover scans the search paths and returns all known entries sorted by
// name. The scan result is cached.
func (r *Resolver) Discover() ([]Entry, error) {
	cache, err := r.ensureCache()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(cache))
	for _, e := range cache {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Resolve maps a requested name to exactly one entry. An exact match wins;
// otherwise a unique case-insensitive prefix match is accepted. Multiple
// prefix candidates yield ErrAmbiguous, none yields ErrNotFound.
func (r *Resolver) Resolve(name string) (Entry, error) {
	cache, err := r.ensureCache()
	if err != nil {
		return Entry{}, err
	}

	if e, ok := cache[name]; ok {
		return e, nil
	}

	lower := strings.ToLower(name)
	var candidates []Entry
	for _, e := range cache {
		if strings.HasPrefix(strings.ToLower(e.Name), lower) {
			candidates = append(candidates, e)
		}
	}

	switch len(candidates) {
	case 0:
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		sort.Strings(names)
		return Entry{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, name, strings.Join(names, ", "))
	}
}

// Load reads the artifact's source text.
func (r *Resolver) Load(e Entry) (string, error) {
	data, err := os.ReadFile(e.Path)
	if err != nil {
		return "", fmt.Errorf("source: read %s: %w", e.Path, err)
	}
	return string(data), nil
}

// Invalidate drops the discovery cache. The next lookup rescans.
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = nil
}

func (r *Resolver) ensureCache() (map[string]Entry, error) {
	r.mu.RLock()
	cache := r.cache
	r.mu.RUnlock()
	if cache != nil {
		return cache, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache != nil {
		return r.cache, nil
	}

	cache, err := r.scan()
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return cache, nil
}

// scan walks the search paths in order. Missing directories are skipped;
// a name already seen in an earlier path shadows later occurrences.
func (r *Resolver) scan() (map[string]Entry, error) {
	cache := make(map[string]Entry)

	for _, dir := range r.paths {
		items, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				r.log.Debug("source: skipping missing path %s", dir)
				continue
			}
			return nil, fmt.Errorf("source: scan %s: %w", dir, err)
		}

		meta := r.readManifest(dir)

		for _, item := range items {
			if item.IsDir() || !strings.HasSuffix(item.Name(), scriptExt) {
				continue
			}
			name := strings.TrimSuffix(item.Name(), scriptExt)
			if _, exists := cache[name]; exists {
				continue
			}

			e := Entry{
				Name:        name,
				Path:        filepath.Join(dir, item.Name()),
				DisplayName: name,
			}
			if m, ok := meta[name]; ok {
				if m.DisplayName != "" {
					e.DisplayName = m.DisplayName
				}
				e.Description = m.Description
			}
			cache[name] = e
		}
	}

	return cache, nil
}

// readManifest parses the directory's manifest if present. A malformed
// manifest is logged and ignored rather than failing discovery.
func (r *Resolver) readManifest(dir string) map[string]manifestEntry {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		r.log.Warn("source: malformed manifest in %s: %v", dir, err)
		return nil
	}
	return m.Scripts
}
