// Package bus is the broadcast surface of the session: a fixed catalog of named
// channels plus per-request topics. Payloads are msgpack-encoded; subscribers
// decode into the payload type documented for each channel.
//
// Publish never blocks: a subscriber that falls behind has messages for it
// dropped (and counted), never the decode path stalled.
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/vmihailenco/msgpack/v5"
)

// Channel names. The payload type each carries is fixed; see the session
// decoder for the producing side.
const (
	Connected        = "connected"        // (no payload)
	Disconnected     = "disconnected"     // (no payload)
	Update           = "update"           // (no payload) once per processed network read
	PendingTickers   = "pendingTickers"   // []uint64 ticker keys
	BarUpdate        = "barUpdate"        // BarUpdatePayload
	NewOrder         = "newOrder"         // TradePayload
	OrderModify      = "orderModify"      // TradePayload
	CancelOrder      = "cancelOrder"      // TradePayload
	OpenOrder        = "openOrder"        // TradePayload
	OrderStatus      = "orderStatus"      // TradePayload
	ExecDetails      = "execDetails"      // FillPayload
	CommissionReport = "commissionReport" // FillPayload
	UpdatePortfolio  = "updatePortfolio"  // broker.PortfolioItem
	Position         = "position"         // broker.Position
	AccountValue     = "accountValue"     // broker.AccountValue
	AccountSummary   = "accountSummary"   // broker.AccountValue
	PnL              = "pnl"              // broker.PnL
	PnLSingle        = "pnlSingle"        // broker.PnLSingle
	ScannerData      = "scannerData"      // []broker.ScanData
	TickNews         = "tickNews"         // broker.NewsTick
	NewsBulletin     = "newsBulletin"     // broker.NewsBulletin
	Error            = "error"            // ErrorPayload
	Timeout          = "timeout"          // float64 idle seconds
)

const defaultBuffer = 16

type subscriber struct {
	ch chan []byte
}

// PubSub is a topic-keyed fan-out. Topics are the channel names above or any
// other string a producer and consumer agree on.
type PubSub struct {
	mu      sync.Mutex
	subs    map[string][]*subscriber
	dropped atomic.Uint64
}

func NewPubSub() *PubSub {
	return &PubSub{subs: make(map[string][]*subscriber)}
}

// Subscribe registers interest in topic and returns the receive channel plus an
// unsubscribe func. The channel is closed on unsubscribe; do not close it.
func (p *PubSub) Subscribe(topic string, buffer ...int) (<-chan []byte, func()) {
	size := defaultBuffer
	if len(buffer) > 0 && buffer[0] > 0 {
		size = buffer[0]
	}
	sub := &subscriber{ch: make(chan []byte, size)}

	p.mu.Lock()
	p.subs[topic] = append(p.subs[topic], sub)
	p.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			p.mu.Lock()
			subs := p.subs[topic]
			for i, s := range subs {
				if s == sub {
					p.subs[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(p.subs[topic]) == 0 {
				delete(p.subs, topic)
			}
			p.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, unsubscribe
}

// Publish encodes v and delivers it to every subscriber of topic without
// blocking. It returns the number of subscribers that received the message.
func (p *PubSub) Publish(topic string, v any) int {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return 0
	}
	// Sends happen under the lock so an unsubscribe cannot close a channel
	// between the snapshot and the send. The sends never block, so holding
	// the lock here is bounded by the subscriber count.
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, sub := range p.subs[topic] {
		select {
		case sub.ch <- data:
			n++
		default:
			p.dropped.Add(1)
		}
	}
	return n
}

// HasSubscribers reports whether anyone listens on topic.
func (p *PubSub) HasSubscribers(topic string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[topic]) > 0
}

// Dropped returns the count of messages discarded because a subscriber's
// buffer was full.
func (p *PubSub) Dropped() uint64 {
	return p.dropped.Load()
}

// Decode unmarshals a published payload into v.
func Decode(v any, data []byte) error {
	return msgpack.Unmarshal(data, v)
}
