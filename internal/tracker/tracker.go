// Package tracker owns every engine object allocated for a recording session
// and releases them together.
package tracker

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bryanchriswhite/CaptureExpress/internal/engine"
	"github.com/bryanchriswhite/CaptureExpress/internal/logger"
	"github.com/bryanchriswhite/CaptureExpress/internal/metrics"
)

// Tracker is an ordered list of disposable engine objects
type Tracker struct {
	mu        sync.Mutex
	resources []engine.Disposable
}

// New creates an empty tracker
func New() *Tracker {
	return &Tracker{}
}

// Track appends a resource. Nil resources are ignored.
func (t *Tracker) Track(r engine.Disposable) {
	if r == nil {
		return
	}
	t.mu.Lock()
	t.resources = append(t.resources, r)
	t.mu.Unlock()
}

// Len returns the number of tracked resources
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resources)
}

// ReleaseAll swaps the list for an empty one and disposes every previously
// tracked resource in tracking order. A failing dispose does not stop the
// sweep; all failures are returned joined.
func (t *Tracker) ReleaseAll() error {
	t.mu.Lock()
	resources := t.resources
	t.resources = nil
	t.mu.Unlock()

	log := logger.WithComponent("tracker")
	var errs []error
	for i, r := range resources {
		if err := dispose(r); err != nil {
			log.Warn().
				Err(err).
				Int("index", i).
				Str("resource", describe(r)).
				Msg("Failed to release resource")
			errs = append(errs, fmt.Errorf("release %s: %w", describe(r), err))
		}
	}

	metrics.AddReleased(len(resources)-len(errs), len(errs))
	log.Debug().
		Int("released", len(resources)-len(errs)).
		Int("failed", len(errs)).
		Msg("Released session resources")
	return errors.Join(errs...)
}

func dispose(r engine.Disposable) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during dispose: %v", p)
		}
	}()
	return r.Dispose()
}

func describe(r engine.Disposable) string {
	if named, ok := r.(interface{ Name() string }); ok {
		return named.Name()
	}
	if item, ok := r.(engine.SceneItem); ok {
		return item.Info().Name
	}
	return fmt.Sprintf("%T", r)
}
