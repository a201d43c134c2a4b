package scoped

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/szibis/telemetry-shipper/internal/logging"
)

var scopeMismatchTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "telemetry_shipper_scope_mismatch_total",
	Help: "Scope closes that found a different context current than the one they activated",
})

func init() {
	prometheus.MustRegister(scopeMismatchTotal)
}

// Storage holds the current context of one goroutine. It must not be shared
// between goroutines. The zero value is ready to use and reports Root.
type Storage struct {
	current *Context
}

// NewStorage returns a Storage whose current context is Root.
func NewStorage() *Storage {
	return &Storage{current: root}
}

// Current returns the current context.
func (s *Storage) Current() *Context {
	if s.current == nil {
		return root
	}
	return s.current
}

// Scope is returned by Attach. Close restores the context that was current
// before the matching Attach.
type Scope interface {
	Close()
}

type noopScope struct{}

func (noopScope) Close() {}

// noop is returned when the context being attached is already current.
var noop Scope = noopScope{}

type scope struct {
	storage   *Storage
	activated *Context
	toRestore *Context
}

// Close may be called any number of times. Each call restores the same
// previous context. A call that finds something other than the activated
// context current logs a debug diagnostic first.
func (sc *scope) Close() {
	if cur := sc.storage.Current(); cur != sc.activated {
		scopeMismatchTotal.Inc()
		if logging.Enabled(logging.LevelDebug) {
			logging.Debug("context in storage not the expected context", logging.F(
				"expected", sc.activated.String(),
				"actual", cur.String(),
			))
		}
	}
	sc.storage.current = sc.toRestore
}

// Attach makes ctx current and returns the scope that undoes it. If ctx is
// already current, a shared no-op scope is returned and nothing changes.
// A nil ctx is treated as Root.
func (s *Storage) Attach(ctx *Context) Scope {
	if ctx == nil {
		ctx = root
	}
	before := s.Current()
	if before == ctx {
		return noop
	}
	s.current = ctx
	return &scope{storage: s, activated: ctx, toRestore: before}
}

// MakeCurrent is shorthand for s.Attach(c).
func (c *Context) MakeCurrent(s *Storage) Scope {
	return s.Attach(c)
}

type storageKey struct{}

// WithStorage returns a copy of ctx carrying s, for call chains that already
// pass a context.Context.
func WithStorage(ctx context.Context, s *Storage) context.Context {
	return context.WithValue(ctx, storageKey{}, s)
}

// StorageFrom returns the Storage carried by ctx, if any.
func StorageFrom(ctx context.Context) (*Storage, bool) {
	s, ok := ctx.Value(storageKey{}).(*Storage)
	return s, ok && s != nil
}
