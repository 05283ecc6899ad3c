// internal/venue/factory.go
package venue

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options selects and configures a venue adapter. Fields are a union over
// the registered adapters; each constructor reads the ones it needs.
type Options struct {
	Kind string

	// rest
	BaseURL        string
	PrivateKey     string
	RequestTimeout time.Duration

	// paper
	StartingBalance float64
	PriceSeed       int64
}

// Constructor builds a venue adapter from options.
type Constructor func(opts Options, logger *zap.Logger) (Venue, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes an adapter available to New under the given kind.
// Adapters register themselves from init, so wiring code only has to
// import the implementations it ships.
func Register(kind string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	kind = strings.ToLower(strings.TrimSpace(kind))
	if ctor == nil {
		panic("venue: Register constructor is nil")
	}
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("venue: Register called twice for %q", kind))
	}
	registry[kind] = ctor
}

// Kinds lists the registered adapter names, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// New builds the venue adapter named by opts.Kind.
func New(opts Options, logger *zap.Logger) (Venue, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		return nil, fmt.Errorf("venue kind is not set")
	}

	registryMu.RLock()
	ctor, ok := registry[kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("venue %q is not supported (registered: %s)",
			kind, strings.Join(Kinds(), ", "))
	}

	return ctor(opts, logger)
}
