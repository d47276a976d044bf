package validation

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/warp/skill-engine/core"
)

// AsyncCheck is a remote rule, e.g. "is this skill ID still available".
// It returns nil when the value is acceptable. Only nil and structured
// *core.Error answers are cached; anything else (a failed lookup, a network
// error) is shown until the value is set again, which re-runs the check.
type AsyncCheck func(ctx context.Context, value string) error

// =============================================================================
// FORM - Combined readiness gate
// =============================================================================

// Form tracks the current value of each field, its synchronous rule result,
// and cached asynchronous results per value.
//
// CanSubmit is true only when every field passes its synchronous rules and
// every field with an async check has a successful cached result for its
// current value. Changing one field never re-validates the others.
type Form struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	fields   map[string]*formField
	order    []string
	inflight int
	idle     chan struct{} // closed when inflight drops to zero
}

type formField struct {
	rules []Rule
	check AsyncCheck

	value   string
	syncErr error

	results  map[string]error
	retry    map[string]error
	inflight context.CancelFunc
	gen      int
}

// NewForm creates a form whose async checks run under ctx.
func NewForm(ctx context.Context) *Form {
	ctx, cancel := context.WithCancel(ctx)
	return &Form{ctx: ctx, cancel: cancel, fields: make(map[string]*formField)}
}

// AddField registers a field. check may be nil.
func (f *Form) AddField(name string, rules []Rule, check AsyncCheck) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.fields[name]; !ok {
		f.order = append(f.order, name)
	}
	ff := &formField{rules: rules, check: check, results: make(map[string]error), retry: make(map[string]error)}
	ff.syncErr = First("", rules)
	f.fields[name] = ff
}

// Set records a new value for a field, re-runs its synchronous rules, and
// starts its async check when the value passes locally and has no cached
// result. Any in-flight check for the same field is cancelled.
func (f *Form) Set(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ff, ok := f.fields[name]
	if !ok {
		return
	}
	ff.value = value
	ff.syncErr = First(value, ff.rules)

	if ff.inflight != nil {
		ff.inflight()
		ff.inflight = nil
	}
	ff.gen++

	if ff.syncErr != nil || ff.check == nil {
		return
	}
	if _, cached := ff.results[value]; cached {
		return
	}
	delete(ff.retry, value)

	ctx, cancel := context.WithCancel(f.ctx)
	ff.inflight = cancel
	gen := ff.gen
	if f.inflight == 0 {
		f.idle = make(chan struct{})
	}
	f.inflight++
	go f.runCheck(ctx, cancel, ff, gen, value)
}

func (f *Form) runCheck(ctx context.Context, cancel context.CancelFunc, ff *formField, gen int, value string) {
	defer cancel()

	err := ff.check(ctx, value)

	f.mu.Lock()
	defer f.mu.Unlock()
	defer f.done()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		// superseded or closed; the result says nothing about the value
		return
	}
	if definitive(err) {
		ff.results[value] = err
	} else {
		ff.retry[value] = err
	}
	if ff.gen == gen {
		ff.inflight = nil
	}
}

// done must be called with f.mu held.
func (f *Form) done() {
	f.inflight--
	if f.inflight == 0 {
		close(f.idle)
	}
}

// definitive reports whether a check answer holds for the value until it is
// explicitly invalidated. A failed user lookup is not; a missing user is.
func definitive(err error) bool {
	if err == nil {
		return true
	}
	e, ok := core.AsError(err)
	if !ok {
		return false
	}
	return e.Kind != core.KindUserLookup || e.Code == core.CodeUserNotFound
}

// Invalidate drops cached async results for a field and re-checks its
// current value.
func (f *Form) Invalidate(name string) {
	f.mu.Lock()
	ff, ok := f.fields[name]
	if ok {
		ff.results = make(map[string]error)
		ff.retry = make(map[string]error)
	}
	value := ""
	if ok {
		value = ff.value
	}
	f.mu.Unlock()
	if ok {
		f.Set(name, value)
	}
}

// Settle waits until no async check is in flight or ctx is done. Checks
// started by Set while Settle waits are waited for too.
func (f *Form) Settle(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.inflight == 0 {
			f.mu.Unlock()
			return nil
		}
		idle := f.idle
		f.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CanSubmit is the combined readiness predicate.
func (f *Form) CanSubmit() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ff := range f.fields {
		if ff.syncErr != nil {
			return false
		}
		if ff.check == nil {
			continue
		}
		res, done := ff.results[ff.value]
		if !done || res != nil {
			return false
		}
	}
	return true
}

// Pending reports whether a field's current value still awaits its async check.
func (f *Form) Pending(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.fields[name]
	if !ok || ff.check == nil || ff.syncErr != nil {
		return false
	}
	if _, done := ff.results[ff.value]; done {
		return false
	}
	_, failed := ff.retry[ff.value]
	return !failed
}

// FieldError returns the current error of a field (sync first, then async).
func (f *Form) FieldError(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ff, ok := f.fields[name]
	if !ok {
		return nil
	}
	return ff.currentErr()
}

func (ff *formField) currentErr() error {
	if ff.syncErr != nil {
		return ff.syncErr
	}
	if ff.check != nil {
		if err, ok := ff.results[ff.value]; ok {
			return err
		}
		return ff.retry[ff.value]
	}
	return nil
}

// FieldErrorEntry is one field's failure, in field registration order.
type FieldErrorEntry struct {
	Field   string
	Message string
}

// Errors lists every failing field.
func (f *Form) Errors() []FieldErrorEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []FieldErrorEntry
	for _, name := range f.order {
		if err := f.fields[name].currentErr(); err != nil {
			out = append(out, FieldErrorEntry{Field: name, Message: err.Error()})
		}
	}
	return out
}

// Values returns the current value of every field.
func (f *Form) Values() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.fields))
	for name, ff := range f.fields {
		out[name] = ff.value
	}
	return out
}

// Fields returns registered field names, sorted.
func (f *Form) Fields() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := append([]string(nil), f.order...)
	sort.Strings(names)
	return names
}

// Close cancels every in-flight check.
func (f *Form) Close() {
	f.cancel()
}
