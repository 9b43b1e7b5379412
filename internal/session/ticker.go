package session

import (
	"sync"
	"time"

	"brokersync/internal/broker"
)

// TickerKind is one of the independently cancellable stream kinds that can
// multiplex onto a single Ticker.
type TickerKind string

const (
	KindQuote      TickerKind = "quote"
	KindDepth      TickerKind = "depth"
	KindTickByTick TickerKind = "tickByTick"
	KindSnapshot   TickerKind = "snapshot"
)

// Ticker is the live quote/depth/tick container for one instrument. It is
// created by the first subscription kind and destroyed when the last kind is
// cancelled. Written only by the decode goroutine; read concurrently through
// the copying accessors.
type Ticker struct {
	contract broker.Contract
	key      uint64

	mu       sync.Mutex
	time     time.Time
	bid      float64
	bidSize  float64
	ask      float64
	askSize  float64
	last     float64
	lastSize float64
	volume   float64
	close    float64
	ticks    []broker.TickTick
	domBids  []broker.DepthLevel
	domAsks  []broker.DepthLevel
}

func newTicker(contract broker.Contract) *Ticker {
	return &Ticker{contract: contract, key: contract.Key()}
}

// Contract returns the instrument descriptor this ticker mirrors.
func (t *Ticker) Contract() broker.Contract { return t.contract }

// Key returns the structural contract key.
func (t *Ticker) Key() uint64 { return t.key }

// Quote returns the current top of book as (bid, bidSize, ask, askSize).
func (t *Ticker) Quote() (float64, float64, float64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bid, t.bidSize, t.ask, t.askSize
}

// Last returns the last trade price and size.
func (t *Ticker) Last() (float64, float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last, t.lastSize
}

// Midpoint returns (bid+ask)/2, or 0 when either side is missing.
func (t *Ticker) Midpoint() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bid == 0 || t.ask == 0 {
		return 0
	}
	return (t.bid + t.ask) / 2
}

// Time returns the arrival time of the most recent update.
func (t *Ticker) Time() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.time
}

// Depth returns copies of the current book sides.
func (t *Ticker) Depth() (bids, asks []broker.DepthLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bids = append([]broker.DepthLevel(nil), t.domBids...)
	asks = append([]broker.DepthLevel(nil), t.domAsks...)
	return bids, asks
}

// Ticks drains and returns the pending tick-by-tick queue.
func (t *Ticker) Ticks() []broker.TickTick {
	t.mu.Lock()
	defer t.mu.Unlock()
	ticks := t.ticks
	t.ticks = nil
	return ticks
}

// HasBidAsk reports whether both book sides have ticked at least once.
func (t *Ticker) HasBidAsk() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.bid > 0 && t.ask > 0
}

func (t *Ticker) applyTick(now time.Time, tickType string, price, size float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.time = now
	switch tickType {
	case "bid":
		t.bid = price
		if size > 0 {
			t.bidSize = size
		}
	case "ask":
		t.ask = price
		if size > 0 {
			t.askSize = size
		}
	case "last":
		t.last = price
		if size > 0 {
			t.lastSize = size
		}
	case "bidSize":
		t.bidSize = size
	case "askSize":
		t.askSize = size
	case "lastSize":
		t.lastSize = size
	case "volume":
		t.volume = size
	case "close":
		t.close = price
	}
}

func (t *Ticker) applyTickByTick(tick broker.TickTick) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.time = tick.Time
	if tick.Price > 0 {
		t.last = tick.Price
		t.lastSize = tick.Size
	}
	if tick.BidPrice > 0 {
		t.bid = tick.BidPrice
		t.bidSize = tick.BidSize
	}
	if tick.AskPrice > 0 {
		t.ask = tick.AskPrice
		t.askSize = tick.AskSize
	}
	t.ticks = append(t.ticks, tick)
}

func (t *Ticker) applyDepth(now time.Time, position, operation, side int64, level broker.DepthLevel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.time = now
	book := &t.domAsks
	if side == 1 {
		book = &t.domBids
	}
	switch operation {
	case 0: // insert
		if int(position) > len(*book) {
			return
		}
		*book = append(*book, broker.DepthLevel{})
		copy((*book)[position+1:], (*book)[position:])
		(*book)[position] = level
	case 1: // update
		if int(position) >= len(*book) {
			return
		}
		(*book)[position] = level
	case 2: // delete
		if int(position) >= len(*book) {
			return
		}
		*book = append((*book)[:position], (*book)[position+1:]...)
	}
}
