// Package sources maps dataset collection method names to their crawl
// routines. Datasets declare a method in their catalog definition; the
// registry resolves it to runnable code.
package sources

import (
	"errors"
	"fmt"
	"sort"

	"github.com/datasink-io/datasink/internal/ingest"
	"github.com/datasink-io/datasink/internal/sources/usbis"
)

// ErrUnknownMethod is returned when a dataset declares a collection
// method no source implements.
var ErrUnknownMethod = errors.New("unknown collection method")

// Registry resolves dataset method names to crawl routines.
type Registry struct {
	methods map[string]ingest.CrawlFunc
}

// NewRegistry creates a registry with all built-in sources registered.
func NewRegistry() *Registry {
	r := &Registry{methods: make(map[string]ingest.CrawlFunc)}
	r.Register("usbis", usbis.Crawl)

	return r
}

// Register adds or replaces the crawl routine for a method name.
func (r *Registry) Register(method string, fn ingest.CrawlFunc) {
	r.methods[method] = fn
}

// Get returns the crawl routine for a method name.
func (r *Registry) Get(method string) (ingest.CrawlFunc, error) {
	fn, ok := r.methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	return fn, nil
}

// Methods returns the registered method names in sorted order.
func (r *Registry) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
