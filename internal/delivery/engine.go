// Package delivery implements the at-least-once leg of the wire protocol:
// inbound deduplication and outbound retry until acknowledgment.
//
// Inbound non-Response envelopes are deduplicated by envelope id and handed
// to the application in arrival order. An inbound Response acknowledges the
// pending outbound envelope carrying the same id and is not surfaced.
// Outbound envelopes recorded by Sent are offered for resend on a fixed
// interval until acknowledged or until the retry budget is exhausted.
package delivery

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cunha-Renato/yapping-server/internal/proto"
)

const (
	// DefaultRetryInterval is how long an unacknowledged envelope waits
	// between resends.
	DefaultRetryInterval = 2 * time.Second
	// DefaultMaxRetries bounds resends per envelope; past it the envelope
	// is dropped. Recovery of the underlying state is a query concern.
	DefaultMaxRetries = 5

	// seenLimit bounds the inbound dedup set per connection.
	seenLimit = 1024
)

// Config tunes an Engine. The zero value selects the defaults.
type Config struct {
	RetryInterval time.Duration
	MaxRetries    int
}

type pendingSend struct {
	env      proto.Envelope
	attempts int
	dueAt    time.Time
}

// Engine tracks delivery state for a single connection. Safe for use by the
// connection's read and tick tasks concurrently.
type Engine struct {
	mu sync.Mutex

	cfg Config
	now func() time.Time

	seen      map[uuid.UUID]struct{}
	seenOrder []uuid.UUID
	ready     []proto.Envelope

	pending map[uuid.UUID]*pendingSend
}

// New creates an engine with the given config.
func New(cfg Config) *Engine {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Engine{
		cfg:     cfg,
		now:     time.Now,
		seen:    make(map[uuid.UUID]struct{}),
		pending: make(map[uuid.UUID]*pendingSend),
	}
}

// Received records an inbound wire envelope. Duplicates are absorbed;
// Responses acknowledge their outbound counterpart instead of queueing.
func (e *Engine) Received(env proto.Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if env.Kind == proto.KindResponse {
		delete(e.pending, env.ID)
		return
	}
	if _, dup := e.seen[env.ID]; dup {
		return
	}
	e.seen[env.ID] = struct{}{}
	e.seenOrder = append(e.seenOrder, env.ID)
	if len(e.seenOrder) > seenLimit {
		delete(e.seen, e.seenOrder[0])
		e.seenOrder = e.seenOrder[1:]
	}
	e.ready = append(e.ready, env)
}

// ReceivedWaiting returns the envelopes now ready for application-level
// processing, deduplicated and in arrival order. The returned envelopes are
// consumed.
func (e *Engine) ReceivedWaiting() []proto.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.ready
	e.ready = nil
	return out
}

// Sent records an outbound envelope pending acknowledgment. Responses are
// never recorded: a Response is never answered, so it could never be acked.
func (e *Engine) Sent(env proto.Envelope) {
	if env.Kind == proto.KindResponse {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending[env.ID] = &pendingSend{
		env:   env,
		dueAt: e.now().Add(e.cfg.RetryInterval),
	}
}

// ToRetry returns previously sent envelopes due for resend, verbatim, and
// schedules their next attempt.
func (e *Engine) ToRetry() []proto.Envelope {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	var due []proto.Envelope
	for _, p := range e.pending {
		if !p.dueAt.After(now) {
			due = append(due, p.env)
			p.attempts++
			p.dueAt = now.Add(e.cfg.RetryInterval)
		}
	}
	return due
}

// Update advances retry/expiry bookkeeping: envelopes past their retry
// budget are abandoned.
func (e *Engine) Update() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, p := range e.pending {
		if p.attempts >= e.cfg.MaxRetries {
			delete(e.pending, id)
		}
	}
}

// PendingCount reports how many outbound envelopes await acknowledgment.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}
