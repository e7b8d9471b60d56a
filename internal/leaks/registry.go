package leaks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
)

// Tracker receives a notification right after every native object creation and
// right before every destruction.
type Tracker interface {
	Register(category Category, where string)
	Unregister(category Category, where string)
}

// Entry is one surviving identifier in a snapshot.
type Entry struct {
	Category   Category
	Identifier string
	Instances  int
}

func (e Entry) String() string {
	return e.Identifier + " (instances: " + strconv.Itoa(e.Instances) + ")"
}

// Registry is a lock-protected multiset of identifiers, one per Category.
// The zero value is not usable; call NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	items     [categoryCount]map[string]int
	misplaced []error

	logger atomic.Pointer[slog.Logger]
	strict atomic.Bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger routes registry diagnostics to l.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.SetLogger(l) }
}

// WithStrict makes bookkeeping errors and detected leaks panic.
func WithStrict(strict bool) Option {
	return func(r *Registry) { r.SetStrict(strict) }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for c := range r.items {
		r.items[c] = make(map[string]int)
	}
	r.logger.Store(discardLogger())
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetLogger replaces the diagnostics logger. Nil restores the silent default.
func (r *Registry) SetLogger(l *slog.Logger) {
	if l == nil {
		l = discardLogger()
	}
	r.logger.Store(l)
}

func (r *Registry) SetStrict(strict bool) {
	r.strict.Store(strict)
}

func (r *Registry) Strict() bool {
	return r.strict.Load()
}

// Register inserts where at count 1, or bumps the count if it is already tracked.
func (r *Registry) Register(category Category, where string) {
	if !category.valid() {
		r.misuse(errors.AssertionFailedf("register: unknown category %d for %q", int(category), where))
		return
	}

	r.mu.Lock()
	r.items[category][where]++
	r.mu.Unlock()
}

// Unregister decrements the count of where, dropping the entry at zero.
// Unregistering an identifier that is not tracked is a bookkeeping bug: it is
// logged, kept for the next sweep and, in strict mode, panics.
func (r *Registry) Unregister(category Category, where string) {
	if !category.valid() {
		r.misuse(errors.AssertionFailedf("unregister: unknown category %d for %q", int(category), where))
		return
	}

	r.mu.Lock()
	set := r.items[category]
	n, ok := set[where]
	switch {
	case !ok:
		r.mu.Unlock()
		r.misuse(errors.AssertionFailedf("unregister %s: can't find %s with ID: %s. Please check logic",
			category, strings.ToLower(category.String()), where))
		return
	case n == 1:
		delete(set, where)
	default:
		set[where] = n - 1
	}
	r.mu.Unlock()
}

func (r *Registry) misuse(err error) {
	r.logger.Load().Error("leaks: bookkeeping error", "err", err)

	r.mu.Lock()
	r.misplaced = append(r.misplaced, err)
	r.mu.Unlock()

	if r.strict.Load() {
		panic(err)
	}
}

// Count reports the outstanding instances of where. Zero means no entry.
func (r *Registry) Count(category Category, where string) int {
	if !category.valid() {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.items[category][where]
}

// Len reports the number of tracked identifiers across all categories.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.items {
		n += len(set)
	}
	return n
}

// Snapshot copies out every surviving entry, ordered by category then identifier.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	var out []Entry
	for c, set := range r.items {
		for where, n := range set {
			out = append(out, Entry{Category: Category(c), Identifier: where, Instances: n})
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Identifier < out[j].Identifier
	})
	return out
}

// CheckLeaks sweeps every category and reports each one that still holds
// entries. The returned error also carries any bookkeeping errors seen since
// the registry was created. Strict registries panic instead of returning.
func (r *Registry) CheckLeaks() error {
	entries := r.Snapshot()

	r.mu.RLock()
	misplaced := append([]error(nil), r.misplaced...)
	r.mu.RUnlock()

	logger := r.logger.Load()
	var reports []string

	for start := 0; start < len(entries); {
		category := entries[start].Category
		end := start
		for end < len(entries) && entries[end].Category == category {
			end++
		}
		group := entries[start:end]

		logger.Error("leaks: objects were leaked", "type", category.String(), "count", len(group))
		lines := make([]string, 0, len(group))
		for _, e := range group {
			logger.Warn("leaks: leaked object", "type", category.String(), "id", e.Identifier, "instances", e.Instances)
			lines = append(lines, e.String())
		}

		reports = append(reports, fmt.Sprintf("%s objects were leaked: %d [%s]", category, len(group), strings.Join(lines, "; ")))
		start = end
	}

	for _, err := range misplaced {
		reports = append(reports, err.Error())
	}
	if len(reports) == 0 {
		return nil
	}

	result := errors.Newf("%s", strings.Join(reports, "\n"))
	for _, err := range misplaced {
		result = errors.WithSecondaryError(result, err)
	}
	if len(misplaced) > 0 {
		result = errors.WithAssertionFailure(result)
	}

	if r.strict.Load() {
		panic(errors.Wrap(result, "leak check triggered"))
	}
	return result
}

// Reset drops every entry and recorded bookkeeping error.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c := range r.items {
		r.items[c] = make(map[string]int)
	}
	r.misplaced = nil
}

// Nop is the Tracker used when leak tracking is compiled out.
type Nop struct{}

func (Nop) Register(Category, string)   {}
func (Nop) Unregister(Category, string) {}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (discardHandler) WithAttrs([]slog.Attr) slog.Handler        { return discardHandler{} }
func (discardHandler) WithGroup(string) slog.Handler             { return discardHandler{} }

func discardLogger() *slog.Logger { return slog.New(discardHandler{}) }
