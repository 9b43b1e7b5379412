// Package session implements the request-orchestration and state-sync layer of
// the broker client: it correlates outbound requests with inbound resolutions,
// keeps long-lived subscriptions fed, mirrors broker-side state locally and
// announces every change on the event bus.
//
// One goroutine, the transport read loop, decodes every inbound frame,
// resolves pending requests, mutates the mirror and publishes events, in
// strict arrival order. Blocking caller methods suspend on channels and never
// hold that goroutine up. The one rule: bus subscribers and callbacks must not
// do unbounded synchronous work, or every outstanding request stalls with them.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"brokersync/internal/broker"
	"brokersync/internal/bus"
	"brokersync/internal/metrics"
	"brokersync/internal/wire"
)

// Transport is what the session consumes from the wire layer.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Run(ctx context.Context, handler func(wire.Frame)) error
	Send(ctx context.Context, req wire.Request) error
	NextReqID() int64
	IsConnected() bool
	IsReady() bool
	ServerVersion() int
	Accounts() []string
	ClientID() int64
}

// Options is the session-level configuration.
type Options struct {
	// Timeout bounds each blocking request. 0 waits indefinitely.
	Timeout time.Duration
	// RaiseRequestErrors makes request timeouts surface as errors instead of
	// empty results.
	RaiseRequestErrors bool
	// Account pins the session to one account when several are managed.
	Account string
	// ReadOnly skips order-related startup sync and is refused nothing else.
	ReadOnly bool
	// MaxSyncedSubAccounts caps the serial per-account download at startup.
	MaxSyncedSubAccounts int
	// RaiseSyncErrors turns aggregated startup timeouts into a connect error.
	RaiseSyncErrors bool
	// IdleTimeout arms the idle watchdog; 0 disables it.
	IdleTimeout time.Duration
}

// DefaultMaxSyncedSubAccounts bounds the serial account download at startup;
// beyond this many sub-accounts a full sync costs more than it is worth and
// positions remain available without it.
const DefaultMaxSyncedSubAccounts = 50

// Client is the façade over one broker session. Zero value is not usable;
// construct with New.
type Client struct {
	opts      Options
	log       *zap.Logger
	transport Transport
	reg       *Registry
	subs      *SubRegistry
	store     *Store
	pubsub    *bus.PubSub
	metrics   *metrics.Metrics
	watchdog  *watchdog

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	runDone        chan struct{}
	acctSummaryReq int64

	// decode-goroutine-owned; see decoder.go
	pendingTickers map[uint64]struct{}
}

func New(transport Transport, opts Options, log *zap.Logger, m *metrics.Metrics) *Client {
	if opts.MaxSyncedSubAccounts <= 0 {
		opts.MaxSyncedSubAccounts = DefaultMaxSyncedSubAccounts
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	c := &Client{
		opts:           opts,
		log:            log,
		transport:      transport,
		reg:            NewRegistry(log),
		subs:           NewSubRegistry(log),
		store:          NewStore(),
		pubsub:         bus.NewPubSub(),
		metrics:        m,
		pendingTickers: make(map[uint64]struct{}),
	}
	return c
}

// Bus returns the event bus for external consumers.
func (c *Client) Bus() *bus.PubSub { return c.pubsub }

// Store returns the local state mirror.
func (c *Client) Store() *Store { return c.store }

// IsConnected reports whether the underlying session is up.
func (c *Client) IsConnected() bool { return c.transport.IsReady() }

// ServerVersion returns the negotiated protocol version.
func (c *Client) ServerVersion() int { return c.transport.ServerVersion() }

// ManagedAccounts returns the account names of this session.
func (c *Client) ManagedAccounts() []string { return c.store.Accounts() }

// Context returns the session context; it is cancelled on disconnect.
func (c *Client) Context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Disconnect tears the session down and clears all per-connection state.
// Orders already sent are not cancelled by disconnecting.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	cancel := c.cancel
	runDone := c.runDone
	c.cancel, c.ctx, c.runDone = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.transport.Disconnect()
	if runDone != nil {
		<-runDone
	}
	c.reset()
	return err
}

// reset clears all per-connection state and announces the disconnect.
func (c *Client) reset() {
	c.mu.Lock()
	wd := c.watchdog
	c.watchdog = nil
	c.acctSummaryReq = 0
	c.mu.Unlock()
	if wd != nil {
		wd.stop()
	}
	c.reg.Reset()
	c.subs.Reset()
	c.store.Reset()
	c.pubsub.Publish(bus.Disconnected, nil)
}

// reqCtx derives the per-request deadline context from the session context.
func (c *Client) reqCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = c.Context()
	}
	if c.opts.Timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.opts.Timeout)
}

// await blocks on the pending slot. A deadline expiry is absorbed into an
// empty result unless the session was configured to raise; either way the
// server-side request keeps running and a late result is silently dropped.
func (c *Client) await(ctx context.Context, p *Pending) (any, error) {
	v, err := p.Await(ctx)
	if err == nil {
		c.metrics.RequestsResolved.Inc()
		return v, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		c.metrics.RequestsTimedOut.Inc()
		c.log.Warn("request timed out", zap.Any("key", p.Key()))
		// startup downloads always report their timeout so sync can collect it
		if !c.opts.RaiseRequestErrors && ctx.Value(syncStepKey{}) == nil {
			return nil, nil
		}
	}
	return nil, err
}

// syncStepKey marks request contexts issued by the startup sync.
type syncStepKey struct{}

// send issues one wire request on the session context.
func (c *Client) send(req wire.Request) error {
	return c.transport.Send(c.Context(), req)
}

// NextReqID exposes the transport's id sequence (used by order builders).
func (c *Client) NextReqID() int64 { return c.transport.NextReqID() }

// Trades returns all trades of this session.
func (c *Client) Trades() []*Trade { return c.store.Trades() }

// OpenTrades returns the trades not yet in a terminal state.
func (c *Client) OpenTrades() []*Trade { return c.store.OpenTrades() }

// Orders returns the order parameters of every trade.
func (c *Client) Orders() []broker.Order {
	trades := c.store.Trades()
	out := make([]broker.Order, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.Order())
	}
	return out
}

// OpenOrders returns the orders of the open trades.
func (c *Client) OpenOrders() []broker.Order {
	trades := c.store.OpenTrades()
	out := make([]broker.Order, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.Order())
	}
	return out
}

// Fills returns this session's fills, optionally filtered.
func (c *Client) Fills(filter *broker.ExecutionFilter) []broker.Fill {
	return c.store.Fills(filter)
}

// Executions returns this session's executions, optionally filtered.
func (c *Client) Executions(filter *broker.ExecutionFilter) []broker.Execution {
	fills := c.store.Fills(filter)
	out := make([]broker.Execution, 0, len(fills))
	for _, f := range fills {
		out = append(out, f.Execution)
	}
	return out
}

// Positions returns mirrored positions, optionally filtered by account.
func (c *Client) Positions(account string) []broker.Position {
	return c.store.Positions(account)
}

// Portfolio returns mirrored holdings, optionally filtered by account.
func (c *Client) Portfolio(account string) []broker.PortfolioItem {
	return c.store.Portfolio(account)
}

// AccountValues returns the mirrored account sheet.
func (c *Client) AccountValues(account string) []broker.AccountValue {
	return c.store.AccountValues(account)
}

// Ticker returns the live ticker for contract, if subscribed.
func (c *Client) Ticker(contract broker.Contract) (*Ticker, bool) {
	return c.subs.TickerFor(contract)
}

// TickerByKey returns the live ticker for a structural contract key, as
// carried on the pendingTickers channel.
func (c *Client) TickerByKey(key uint64) (*Ticker, bool) {
	return c.subs.TickerByKey(key)
}

// Tickers returns every live ticker.
func (c *Client) Tickers() []*Ticker { return c.subs.Tickers() }

// SetTimeout re-arms the idle watchdog with a new threshold.
func (c *Client) SetTimeout(idle time.Duration) {
	c.mu.Lock()
	c.opts.IdleTimeout = idle
	wd := c.watchdog
	c.mu.Unlock()
	if wd != nil {
		wd.rearm(idle)
	}
}
