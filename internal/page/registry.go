package page

import (
	"sort"
	"strings"
	"sync"

	"github.com/tinytelemetry/sepal/internal/model"
)

// Registry maps page paths to constructors. It is itself a Factory: paths
// without a constructor fall back to the default factory, or to an empty
// Hooks page when none is set.
type Registry struct {
	mu       sync.RWMutex
	pages    map[string]Factory
	fallback Factory
}

// NewRegistry creates a Registry using fallback for unregistered paths.
func NewRegistry(fallback Factory) *Registry {
	return &Registry{pages: make(map[string]Factory), fallback: fallback}
}

// Register binds a constructor to path. A leading slash is ignored.
func (r *Registry) Register(path string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pages[strings.TrimPrefix(path, "/")] = f
}

// Has reports whether a constructor is registered for path.
func (r *Registry) Has(path string) bool {
	if r == nil {
		return false
	}
	path, _ = model.SplitURL(strings.TrimPrefix(path, "/"))
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pages[path]
	return ok
}

// Paths returns the registered paths, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pages))
	for p := range r.pages {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// CreatePage implements Factory.
func (r *Registry) CreatePage(accessURI string, id model.FrameID, cfg model.AppConfig) Page {
	path, _ := model.SplitURL(strings.TrimPrefix(accessURI, "/"))
	r.mu.RLock()
	f, ok := r.pages[path]
	fallback := r.fallback
	r.mu.RUnlock()
	if ok {
		return f.CreatePage(accessURI, id, cfg)
	}
	if fallback != nil {
		return fallback.CreatePage(accessURI, id, cfg)
	}
	return &Hooks{URI: path, ID: id}
}
