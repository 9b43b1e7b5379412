package session

import (
	"fmt"
	"sync"
	"time"

	"brokersync/internal/broker"
)

// TradeLogEntry is one line of a trade's append-only audit trail.
type TradeLogEntry struct {
	Time      time.Time
	Status    broker.Status
	Message   string
	ErrorCode int64
}

// OrderKey derives the canonical trade identity key. PermID is assigned by the
// server and wins once known, since it survives client restarts; until then
// orderID, which is unique per client, is authoritative. An orderID of zero
// or less marks an order placed outside this client (known only by permID).
func OrderKey(clientID, orderID, permID int64) string {
	if orderID <= 0 {
		return fmt.Sprintf("perm:%d", permID)
	}
	return fmt.Sprintf("%d:%d", clientID, orderID)
}

// Trade aggregates one order with its live status, fills and audit log.
// Exactly one live Trade exists per order key; placing an order that matches a
// non-terminal key is a modification of that Trade, never a second one.
type Trade struct {
	contract broker.Contract

	mu     sync.Mutex
	order  broker.Order
	status broker.OrderStatus
	fills  []broker.Fill
	logs   []TradeLogEntry
	done   chan struct{}
}

func newTrade(contract broker.Contract, order broker.Order, entry TradeLogEntry) *Trade {
	return &Trade{
		contract: contract,
		order:    order,
		status:   broker.OrderStatus{OrderID: order.OrderID, Status: entry.Status},
		logs:     []TradeLogEntry{entry},
		done:     make(chan struct{}),
	}
}

// Contract returns the instrument the trade is on.
func (t *Trade) Contract() broker.Contract { return t.contract }

// Order returns a copy of the current order parameters.
func (t *Trade) Order() broker.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order
}

// Status returns a copy of the current order status.
func (t *Trade) Status() broker.OrderStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Fills returns a copy of the fill history.
func (t *Trade) Fills() []broker.Fill {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]broker.Fill(nil), t.fills...)
}

// Log returns a copy of the audit trail.
func (t *Trade) Log() []TradeLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TradeLogEntry(nil), t.logs...)
}

// IsDone reports whether the trade reached a terminal status.
func (t *Trade) IsDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed when the trade reaches a terminal status.
func (t *Trade) Done() <-chan struct{} { return t.done }

// Filled returns the cumulative filled quantity across all fills.
func (t *Trade) Filled() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, f := range t.fills {
		total += f.Execution.Shares
	}
	return total
}

func (t *Trade) addLog(entry TradeLogEntry) {
	t.mu.Lock()
	t.logs = append(t.logs, entry)
	t.mu.Unlock()
}

func (t *Trade) setStatus(status broker.Status) {
	t.mu.Lock()
	t.status.Status = status
	t.mu.Unlock()
}

// setOrder replaces the order parameters, keeping identity fields the broker
// already stamped when the incoming copy lacks them.
func (t *Trade) setOrder(o broker.Order) {
	t.mu.Lock()
	if o.PermID == 0 {
		o.PermID = t.order.PermID
	}
	t.order = o
	t.status.OrderID = o.OrderID
	t.mu.Unlock()
}

// applyStatus overwrites the running status with the broker's view and reports
// whether the status string changed.
func (t *Trade) applyStatus(st broker.OrderStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.status.Status != st.Status
	t.status = st
	if st.PermID != 0 {
		t.order.PermID = st.PermID
	}
	return changed
}

func (t *Trade) addFill(f broker.Fill) {
	t.mu.Lock()
	t.fills = append(t.fills, f)
	t.mu.Unlock()
}

// markDone closes the done channel once. A done trade never transitions again.
func (t *Trade) markDone() {
	t.mu.Lock()
	defer t.mu.Unlock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}
