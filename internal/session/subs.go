package session

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"brokersync/internal/broker"
)

// ErrDuplicateSubscription is returned when a keyed, non-ticker subscription
// is started twice for the same key. That is caller misuse, not a race.
var ErrDuplicateSubscription = errors.New("session: subscription already active")

type tickerSub struct {
	ticker *Ticker
	kind   TickerKind
}

// SubRegistry manages long-lived keyed subscriptions: generic containers keyed
// by request id, and tickers keyed by contract with independently cancellable
// stream kinds multiplexed on top.
type SubRegistry struct {
	log *zap.Logger

	mu         sync.Mutex
	containers map[int64]Container
	tickers    map[uint64]*Ticker
	reqTicker  map[int64]tickerSub
	tickerReq  map[uint64]map[TickerKind]int64
}

func NewSubRegistry(log *zap.Logger) *SubRegistry {
	return &SubRegistry{
		log:        log,
		containers: make(map[int64]Container),
		tickers:    make(map[uint64]*Ticker),
		reqTicker:  make(map[int64]tickerSub),
		tickerReq:  make(map[uint64]map[TickerKind]int64),
	}
}

// StartSubscription registers a container to receive all further deliveries
// for its request id until EndSubscription.
func (s *SubRegistry) StartSubscription(c Container) {
	s.mu.Lock()
	s.containers[c.ReqID()] = c
	s.mu.Unlock()
}

// EndSubscription deregisters the container and suppresses further delivery.
// Already-delivered data stays valid. Returns false when the container was not
// registered (ending twice is harmless).
func (s *SubRegistry) EndSubscription(c Container) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.containers[c.ReqID()]; !ok {
		return false
	}
	delete(s.containers, c.ReqID())
	return true
}

// Container returns the registered container for reqID.
func (s *SubRegistry) Container(reqID int64) (Container, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.containers[reqID]
	return c, ok
}

// Deliver appends v to the container for reqID. Late messages for a cancelled
// key are dropped and logged; cancellation is asynchronous with respect to
// in-flight messages, so this is not an error.
func (s *SubRegistry) Deliver(reqID int64, v any) bool {
	s.mu.Lock()
	c, ok := s.containers[reqID]
	s.mu.Unlock()
	if !ok {
		s.log.Debug("subscription: late delivery dropped", zap.Int64("reqID", reqID))
		return false
	}
	c.Append(v)
	return true
}

// StartTicker looks up or creates the Ticker for the contract's structural key
// and activates kind under reqID.
func (s *SubRegistry) StartTicker(reqID int64, contract broker.Contract, kind TickerKind) *Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contract.Key()
	ticker, ok := s.tickers[key]
	if !ok {
		ticker = newTicker(contract)
		s.tickers[key] = ticker
		s.tickerReq[key] = make(map[TickerKind]int64)
	}
	s.reqTicker[reqID] = tickerSub{ticker: ticker, kind: kind}
	s.tickerReq[key][kind] = reqID
	return ticker
}

// EndTicker deactivates one stream kind and returns the request id to cancel
// on the wire, or 0 when the kind was not active. The Ticker is evicted only
// when no kind remains active.
func (s *SubRegistry) EndTicker(ticker *Ticker, kind TickerKind) int64 {
	if ticker == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds, ok := s.tickerReq[ticker.key]
	if !ok {
		return 0
	}
	reqID, ok := kinds[kind]
	if !ok {
		return 0
	}
	delete(kinds, kind)
	delete(s.reqTicker, reqID)
	if len(kinds) == 0 {
		delete(s.tickerReq, ticker.key)
		delete(s.tickers, ticker.key)
	}
	return reqID
}

// TickerByReq resolves a request id back to its ticker and stream kind.
func (s *SubRegistry) TickerByReq(reqID int64) (*Ticker, TickerKind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.reqTicker[reqID]
	return sub.ticker, sub.kind, ok
}

// TickerByKey returns the live ticker for a structural contract key.
func (s *SubRegistry) TickerByKey(key uint64) (*Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[key]
	return t, ok
}

// TickerFor returns the live ticker for contract, if one exists.
func (s *SubRegistry) TickerFor(contract broker.Contract) (*Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[contract.Key()]
	return t, ok
}

// Tickers returns all live tickers.
func (s *SubRegistry) Tickers() []*Ticker {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		out = append(out, t)
	}
	return out
}

// Reset drops every container and ticker. Called on disconnect.
func (s *SubRegistry) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.containers = make(map[int64]Container)
	s.tickers = make(map[uint64]*Ticker)
	s.reqTicker = make(map[int64]tickerSub)
	s.tickerReq = make(map[uint64]map[TickerKind]int64)
}
