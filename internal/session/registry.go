package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"brokersync/internal/broker"
)

var (
	// ErrDisconnected rejects every pending request when the session resets.
	ErrDisconnected = errors.New("session: disconnected")
)

// Pending is the result slot for one in-flight request. It is created by the
// caller side, completed exactly once by the decode path, and awaited by any
// number of callers. Abandoning a Pending (deadline expiry) does not stop
// server-side work; a protocol-level cancel must be sent for that.
type Pending struct {
	key      any
	contract *broker.Contract

	mu      sync.Mutex
	partial []any
	value   any
	err     error
	done    chan struct{}
}

func newPending(key any, contract *broker.Contract) *Pending {
	return &Pending{key: key, contract: contract, done: make(chan struct{})}
}

// Key returns the request key this slot correlates on.
func (p *Pending) Key() any { return p.key }

// Contract returns the contract context recorded at start, if any.
func (p *Pending) Contract() *broker.Contract { return p.contract }

// Done is closed when the slot completes.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Await blocks until the slot completes or ctx expires. On ctx expiry the
// request keeps running server-side; the registry will absorb a late result.
func (p *Pending) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.value, p.err
	}
}

// Partial returns the accumulated list results so far.
func (p *Pending) Partial() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.partial))
	copy(out, p.partial)
	return out
}

func (p *Pending) accumulate(v any) {
	p.mu.Lock()
	p.partial = append(p.partial, v)
	p.mu.Unlock()
}

// complete reports false if the slot was already completed.
func (p *Pending) complete(value any, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	select {
	case <-p.done:
		return false
	default:
	}
	if value == nil && err == nil {
		value = p.partial
	}
	p.value = value
	p.err = err
	close(p.done)
	return true
}

// Registry correlates request keys with their eventual results across the
// multiplexed connection. Keys are int64 request ids or well-known strings
// ("positions", "openOrders", ...) for singleton per-connection requests.
type Registry struct {
	log *zap.Logger

	mu      sync.Mutex
	pending map[any]*Pending
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{log: log, pending: make(map[any]*Pending)}
}

// Start allocates the pending slot for key. If the key already has an
// in-flight slot the existing one is returned, so concurrent requests under a
// well-known key share a single resolution.
func (r *Registry) Start(key any, contract *broker.Contract) *Pending {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pending[key]; ok {
		return p
	}
	p := newPending(key, contract)
	r.pending[key] = p
	return p
}

// Lookup returns the in-flight slot for key, if any.
func (r *Registry) Lookup(key any) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[key]
	return p, ok
}

// Accumulate appends one list item to the slot for key. Unknown keys are
// ignored; the reply belongs to a request nobody is waiting for anymore.
func (r *Registry) Accumulate(key any, v any) {
	r.mu.Lock()
	p, ok := r.pending[key]
	r.mu.Unlock()
	if ok {
		p.accumulate(v)
	}
}

// Resolve completes the slot for key with value and removes it. A nil value
// resolves with whatever list items were accumulated. Resolving an unknown key
// is logged and discarded: the response arrived after the caller gave up.
func (r *Registry) Resolve(key any, value any) {
	r.finish(key, value, nil)
}

// Reject completes the slot for key with err and removes it.
func (r *Registry) Reject(key any, err error) {
	r.finish(key, nil, err)
}

func (r *Registry) finish(key any, value any, err error) {
	r.mu.Lock()
	p, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()
	if !ok {
		r.log.Debug("registry: late resolution dropped", zap.Any("key", key))
		return
	}
	if !p.complete(value, err) {
		r.log.Debug("registry: duplicate resolution dropped", zap.Any("key", key))
	}
}

// Len returns the number of in-flight slots.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Reset rejects every pending slot. Called on disconnect.
func (r *Registry) Reset() {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[any]*Pending)
	r.mu.Unlock()
	for _, p := range pending {
		p.complete(nil, ErrDisconnected)
	}
}
