package chanq

import (
	"log/slog"
	"sync"

	"github.com/xraph/chanq/event"
	"github.com/xraph/chanq/store"
	"github.com/xraph/chanq/store/table"
)

// BackendFactory builds a native backend over an existing session. The
// factory may reject the session (wrong Raw() type, missing capability);
// rejection falls back to the table backend, it never fails Open.
type BackendFactory func(sess store.Session, cfg Config, logger *slog.Logger) (event.Backend, error)

var registry = struct {
	mu sync.RWMutex
	m  map[string]BackendFactory
}{m: make(map[string]BackendFactory)}

// RegisterBackend registers a native backend factory under a name —
// conventionally the dialect it serves, so BackendNative resolution finds
// it. Store packages call this from init; a later registration for the
// same name replaces the earlier one.
func RegisterBackend(name string, f BackendFactory) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.m[name] = f
}

func lookupBackend(name string) (BackendFactory, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	f, ok := registry.m[name]
	return f, ok
}

// resolveBackend picks the backend for a new Channel. The preferred
// backend is tried first; a registry miss or factory error logs a warning
// and falls back to the table store. Only a table-store construction
// failure (bad table identifier — a hard configuration error) makes
// resolution fail.
func resolveBackend(sess store.Session, cfg Config, logger *slog.Logger) (event.Backend, error) {
	pref := cfg.Backend
	if pref == BackendNative {
		pref = sess.Dialect().Name
	}

	if pref != BackendTable {
		if f, ok := lookupBackend(pref); ok {
			b, err := f(sess, cfg, logger)
			if err == nil {
				return b, nil
			}
			logger.Warn("native backend unavailable, falling back to table backend",
				slog.String("backend", pref),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Warn("no backend registered, falling back to table backend",
				slog.String("backend", pref),
			)
		}
	}

	return table.New(sess, cfg.tableConfig(), table.WithLogger(logger))
}
