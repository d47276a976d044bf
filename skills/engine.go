package skills

import (
	"github.com/google/uuid"
	"github.com/warp/skill-engine/core"
	"github.com/warp/skill-engine/users"
)

// DefaultBatchConcurrency bounds parallel lookups in RecordBatch.
const DefaultBatchConcurrency = 8

// =============================================================================
// ENGINE - The three rules engines over one store and one lock table
// =============================================================================

// Engine bundles Definitions, Graph and Recorder so they share a store, a
// clock, and the keyed lock table.
type Engine struct {
	Definitions *Definitions
	Graph       *Graph
	Recorder    *Recorder
}

type Option func(*env)

// env is the shared environment handed to every component.
type env struct {
	store   core.TxStore
	locks   *core.KeyedMutex
	clock   core.Clock
	newID   func() string
	policy  RepeatPolicy
	workers int
}

func WithClock(c core.Clock) Option { return func(e *env) { e.clock = c } }

func WithRepeatPolicy(p RepeatPolicy) Option { return func(e *env) { e.policy = p } }

// WithBatchConcurrency sets how many users of one batch are recorded at once.
func WithBatchConcurrency(n int) Option {
	return func(e *env) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithIDSource replaces uuid generation for edge and event IDs.
func WithIDSource(fn func() string) Option { return func(e *env) { e.newID = fn } }

func New(store core.TxStore, dir users.Directory, opts ...Option) *Engine {
	e := &env{
		store:   store,
		locks:   core.NewKeyedMutex(),
		clock:   core.SystemClock,
		newID:   uuid.NewString,
		workers: DefaultBatchConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	defs := &Definitions{env: e}
	return &Engine{
		Definitions: defs,
		Graph:       &Graph{env: e},
		Recorder:    &Recorder{env: e, dir: dir, ledger: core.NewLedger(store)},
	}
}

// Policy returns the active repeat policy.
func (e *Engine) Policy() RepeatPolicy { return e.Recorder.policy }
