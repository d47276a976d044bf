package validation

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded is returned to a caller whose query was replaced by a newer
// query for the same key.
var ErrSuperseded = errors.New("suggestion superseded by a newer query")

// SuggestFunc fetches candidates; it must honor ctx cancellation.
type SuggestFunc func(ctx context.Context) ([]string, error)

// =============================================================================
// SUGGESTER - One cancellable task handle per field key
// =============================================================================

// Suggester runs suggestion lookups so that a newer request for a key cancels
// the in-flight request for that key. Keys are independent; no ordering is
// promised between them.
type Suggester struct {
	mu       sync.Mutex
	inflight map[string]*suggestHandle
}

type suggestHandle struct {
	cancel context.CancelFunc
}

func NewSuggester() *Suggester {
	return &Suggester{inflight: make(map[string]*suggestHandle)}
}

// Do cancels any in-flight lookup for key and runs fetch.
func (s *Suggester) Do(ctx context.Context, key string, fetch SuggestFunc) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	h := &suggestHandle{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.inflight[key]; ok {
		prev.cancel()
	}
	s.inflight[key] = h
	s.mu.Unlock()

	out, err := fetch(ctx)

	s.mu.Lock()
	superseded := s.inflight[key] != h
	if !superseded {
		delete(s.inflight, key)
	}
	s.mu.Unlock()
	cancel()

	if superseded {
		return nil, ErrSuperseded
	}
	return out, err
}

// InFlight returns the number of keys with a running lookup.
func (s *Suggester) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
