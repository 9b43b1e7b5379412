package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"brokersync/internal/broker"
	"brokersync/internal/bus"
	"brokersync/internal/wire"
)

type fakeTransport struct {
	mu      sync.Mutex
	sent    []wire.Request
	handler func(wire.Frame)

	reqID atomic.Int64
	ready atomic.Bool
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.ready.Store(true)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.ready.Store(false)
	return nil
}

func (f *fakeTransport) Run(ctx context.Context, handler func(wire.Frame)) error {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) Send(ctx context.Context, req wire.Request) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) NextReqID() int64   { return f.reqID.Add(1) }
func (f *fakeTransport) IsConnected() bool  { return f.ready.Load() }
func (f *fakeTransport) IsReady() bool      { return f.ready.Load() }
func (f *fakeTransport) ServerVersion() int { return 100 }
func (f *fakeTransport) Accounts() []string { return []string{"DU1"} }
func (f *fakeTransport) ClientID() int64    { return 9 }

func (f *fakeTransport) requests(op string) []wire.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Request
	for _, r := range f.sent {
		if r.Op == op {
			out = append(out, r)
		}
	}
	return out
}

func newTestClient(t *testing.T, opts Options) (*Client, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	ft.ready.Store(true)
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	return New(ft, opts, zap.NewNop(), nil), ft
}

func frame(t *testing.T, typ string, reqID int64, data any) wire.Frame {
	t.Helper()
	f := wire.Frame{Type: typ, ReqID: reqID}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal frame data: %v", err)
		}
		f.Data = raw
	}
	return f
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestPlaceOrderNewThenModify(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	contract := broker.Stock("AAPL", "SMART", "USD")

	newCh, offNew := c.pubsub.Subscribe(bus.NewOrder)
	defer offNew()
	modCh, offMod := c.pubsub.Subscribe(bus.OrderModify)
	defer offMod()

	trade, err := c.PlaceOrder(contract, broker.LimitOrder("BUY", 100, 50))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if trade.Status().Status != broker.PendingSubmit {
		t.Fatalf("new trade must start PendingSubmit, got %s", trade.Status().Status)
	}
	if len(ft.requests(wire.OpPlaceOrder)) != 1 {
		t.Fatalf("place must hit the wire")
	}

	order := trade.Order()
	order.LmtPrice = 51
	again, err := c.PlaceOrder(contract, order)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if again != trade {
		t.Fatalf("matching a live key must modify, not create a second trade")
	}
	if again.Order().LmtPrice != 51 {
		t.Fatalf("modified price not applied")
	}
	if len(c.Trades()) != 1 {
		t.Fatalf("exactly one live trade per key, got %d", len(c.Trades()))
	}
	if got := len(newCh); got != 1 {
		t.Fatalf("exactly one new-order event, got %d", got)
	}
	if got := len(modCh); got != 1 {
		t.Fatalf("exactly one modify event, got %d", got)
	}
}

func TestCancelNotYetTransmitted(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	order := broker.LimitOrder("BUY", 10, 50)
	order.Transmit = false
	trade, err := c.PlaceOrder(broker.Stock("AAPL", "SMART", "USD"), order)
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	got := c.CancelOrder(trade.Order())
	if got.Status().Status != broker.Cancelled {
		t.Fatalf("untransmitted order must cancel directly, got %s", got.Status().Status)
	}
	if !got.IsDone() {
		t.Fatalf("direct cancel is terminal")
	}
}

func TestCancelLiveOrderIsPending(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	trade, err := c.PlaceOrder(broker.Stock("AAPL", "SMART", "USD"), broker.LimitOrder("BUY", 10, 50))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	order := trade.Order()
	c.handleFrame(frame(t, wire.FrameOrderStatus, 0,
		broker.OrderStatus{OrderID: order.OrderID, ClientID: 9, Status: broker.Submitted}))

	got := c.CancelOrder(order)
	if got.Status().Status != broker.PendingCancel {
		t.Fatalf("live order must enter PendingCancel, got %s", got.Status().Status)
	}
	if got.IsDone() {
		t.Fatalf("cancellation is not terminal until the broker confirms")
	}
	if len(ft.requests(wire.OpCancelOrder)) != 1 {
		t.Fatalf("cancel must hit the wire")
	}

	c.handleFrame(frame(t, wire.FrameOrderStatus, 0,
		broker.OrderStatus{OrderID: order.OrderID, ClientID: 9, Status: broker.Cancelled}))
	if !got.IsDone() {
		t.Fatalf("broker confirmation must finish the trade")
	}
}

func TestCancelAlwaysPublishesStatus(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	trade, err := c.PlaceOrder(broker.Stock("AAPL", "SMART", "USD"), broker.LimitOrder("BUY", 10, 50))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	order := trade.Order()
	c.handleFrame(frame(t, wire.FrameOrderStatus, 0,
		broker.OrderStatus{OrderID: order.OrderID, ClientID: 9, Status: broker.Submitted}))

	statusCh, off := c.pubsub.Subscribe(bus.OrderStatus)
	defer off()

	got := c.CancelOrder(order)
	if got.Status().Status != broker.PendingCancel {
		t.Fatalf("expected PendingCancel, got %s", got.Status().Status)
	}
	if len(statusCh) != 1 {
		t.Fatalf("PendingCancel must publish an order status event, got %d", len(statusCh))
	}
	var p bus.TradePayload
	if err := bus.Decode(&p, <-statusCh); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Status.Status != broker.PendingCancel {
		t.Fatalf("published status must be PendingCancel, got %s", p.Status.Status)
	}
}

func TestCancelInactiveOrderGoesDirect(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	trade, err := c.PlaceOrder(broker.Stock("AAPL", "SMART", "USD"), broker.LimitOrder("BUY", 10, 50))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	order := trade.Order()
	c.handleFrame(frame(t, wire.FrameOrderStatus, 0,
		broker.OrderStatus{OrderID: order.OrderID, ClientID: 9, Status: broker.Inactive}))
	if trade.IsDone() {
		t.Fatalf("inactive trade must still accept a cancel")
	}

	got := c.CancelOrder(order)
	if got.Status().Status != broker.Cancelled {
		t.Fatalf("inactive order must cancel directly, got %s", got.Status().Status)
	}
	if !got.IsDone() {
		t.Fatalf("direct cancel is terminal")
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	if got := c.CancelOrder(broker.Order{OrderID: 404, ClientID: 9}); got != nil {
		t.Fatalf("cancel for an unknown key must return nil")
	}
}

func TestDoneTradeNeverTransitions(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	trade, _ := c.PlaceOrder(broker.Stock("AAPL", "SMART", "USD"), broker.MarketOrder("BUY", 10))
	order := trade.Order()

	c.handleFrame(frame(t, wire.FrameOrderStatus, 0,
		broker.OrderStatus{OrderID: order.OrderID, ClientID: 9, Status: broker.Filled, Filled: 10}))
	if !trade.IsDone() {
		t.Fatalf("filled trade must be done")
	}
	c.handleFrame(frame(t, wire.FrameOrderStatus, 0,
		broker.OrderStatus{OrderID: order.OrderID, ClientID: 9, Status: broker.Submitted}))
	if trade.Status().Status != broker.Filled {
		t.Fatalf("done trade must ignore further transitions, got %s", trade.Status().Status)
	}

	// cancelling a finished trade is a no-op
	logLen := len(trade.Log())
	if got := c.CancelOrder(order); got != trade {
		t.Fatalf("cancel on a done trade must return the trade untouched")
	}
	if len(trade.Log()) != logLen {
		t.Fatalf("cancel on a done trade must not append log entries")
	}
}

func TestExecutionAndCommissionFlow(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	contract := broker.Stock("AAPL", "SMART", "USD")
	trade, _ := c.PlaceOrder(contract, broker.LimitOrder("BUY", 100, 50))
	order := trade.Order()

	exec := broker.Execution{ExecID: "e1", OrderID: order.OrderID, ClientID: 9, Shares: 40, Price: 49.9}
	c.handleFrame(frame(t, wire.FrameExecDetails, 0, wire.ExecData{Contract: contract, Execution: exec}))

	if got := trade.Filled(); got != 40 {
		t.Fatalf("fill must attach to its trade, filled=%v", got)
	}
	// replayed execution reports are deduplicated by execId
	c.handleFrame(frame(t, wire.FrameExecDetails, 0, wire.ExecData{Contract: contract, Execution: exec}))
	if got := trade.Filled(); got != 40 {
		t.Fatalf("replay must not double-count, filled=%v", got)
	}

	c.handleFrame(frame(t, wire.FrameCommissionReport, 0,
		broker.CommissionReport{ExecID: "e1", Commission: 1.5, Currency: "USD"}))
	fills := c.Fills(nil)
	if len(fills) != 1 || fills[0].Commission.Commission != 1.5 {
		t.Fatalf("commission must merge into the fill: %+v", fills)
	}
}

func TestReqPositionsResolvesOnEnd(t *testing.T) {
	c, ft := newTestClient(t, Options{})

	type result struct {
		positions []broker.Position
		err       error
	}
	done := make(chan result, 1)
	go func() {
		ps, err := c.ReqPositions(context.Background())
		done <- result{ps, err}
	}()

	waitFor(t, func() bool { return len(ft.requests(wire.OpPositions)) == 1 })
	c.handleFrame(frame(t, wire.FramePosition, 0,
		broker.Position{Account: "DU1", Contract: broker.Stock("AAPL", "SMART", "USD"), Position: 100}))
	c.handleFrame(frame(t, wire.FramePositionEnd, 0, nil))

	res := <-done
	if res.err != nil {
		t.Fatalf("positions: %v", res.err)
	}
	if len(res.positions) != 1 || res.positions[0].Position != 100 {
		t.Fatalf("unexpected positions: %+v", res.positions)
	}
}

func TestRequestTimeoutYieldsEmpty(t *testing.T) {
	c, _ := newTestClient(t, Options{Timeout: 20 * time.Millisecond})
	ps, err := c.ReqPositions(context.Background())
	if err != nil {
		t.Fatalf("timeout must be absorbed by default, got %v", err)
	}
	if len(ps) != 0 {
		t.Fatalf("timed out request must yield empty, got %+v", ps)
	}
}

func TestRequestTimeoutRaisesWhenConfigured(t *testing.T) {
	c, _ := newTestClient(t, Options{Timeout: 20 * time.Millisecond, RaiseRequestErrors: true})
	if _, err := c.ReqPositions(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestErrorFrameRejectsPending(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	done := make(chan error, 1)
	go func() {
		_, err := c.ReqContractDetails(context.Background(), broker.Stock("NOPE", "SMART", "USD"))
		done <- err
	}()
	waitFor(t, func() bool { return len(ft.requests(wire.OpContractDetails)) == 1 })
	reqID := ft.requests(wire.OpContractDetails)[0].ReqID
	c.handleFrame(frame(t, wire.FrameError, reqID, wire.ErrorData{Code: 200, Message: "No security definition"}))

	err := <-done
	var reqErr *RequestError
	if !errors.As(err, &reqErr) || reqErr.Code != 200 {
		t.Fatalf("expected protocol error 200, got %v", err)
	}
}

func TestWarningCodeDoesNotReject(t *testing.T) {
	c, ft := newTestClient(t, Options{Timeout: 100 * time.Millisecond})
	done := make(chan error, 1)
	go func() {
		_, err := c.ReqContractDetails(context.Background(), broker.Stock("AAPL", "SMART", "USD"))
		done <- err
	}()
	waitFor(t, func() bool { return len(ft.requests(wire.OpContractDetails)) == 1 })
	reqID := ft.requests(wire.OpContractDetails)[0].ReqID
	c.handleFrame(frame(t, wire.FrameError, reqID, wire.ErrorData{Code: 2104, Message: "Market data farm ok"}))
	c.handleFrame(frame(t, wire.FrameContractDetails, reqID,
		broker.ContractDetails{Contract: broker.Contract{ConID: 1, Symbol: "AAPL", SecType: "STK"}}))
	c.handleFrame(frame(t, wire.FrameContractDetailsEnd, reqID, nil))

	if err := <-done; err != nil {
		t.Fatalf("warning must not reject the request, got %v", err)
	}
}

func TestSnapshotTicker(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	contract := broker.Stock("AAPL", "SMART", "USD")

	type result struct {
		tickers []*Ticker
		err     error
	}
	done := make(chan result, 1)
	go func() {
		ts, err := c.ReqTickers(context.Background(), contract)
		done <- result{ts, err}
	}()

	waitFor(t, func() bool { return len(ft.requests(wire.OpMarketData)) == 1 })
	reqID := ft.requests(wire.OpMarketData)[0].ReqID
	c.handleFrame(frame(t, wire.FrameTick, reqID, wire.TickData{TickType: "bid", Price: 99.5, Size: 10}))
	c.handleFrame(frame(t, wire.FrameTick, reqID, wire.TickData{TickType: "ask", Price: 99.7, Size: 8}))
	c.handleFrame(frame(t, wire.FrameTickSnapshotEnd, reqID, nil))

	res := <-done
	if res.err != nil {
		t.Fatalf("snapshot: %v", res.err)
	}
	bid, _, ask, _ := res.tickers[0].Quote()
	if bid != 99.5 || ask != 99.7 {
		t.Fatalf("snapshot quote mismatch: bid=%v ask=%v", bid, ask)
	}
	// the snapshot kind ended with the request, so the ticker is gone
	if _, ok := c.Ticker(contract); ok {
		t.Fatalf("snapshot ticker must be evicted after resolution")
	}
}

func TestWhatIfOrderNeverBecomesTrade(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	contract := broker.Stock("AAPL", "SMART", "USD")

	type result struct {
		state broker.OrderState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := c.WhatIfOrder(context.Background(), contract, broker.LimitOrder("BUY", 100, 50))
		done <- result{st, err}
	}()

	waitFor(t, func() bool { return len(ft.requests(wire.OpPlaceOrder)) == 1 })
	req := ft.requests(wire.OpPlaceOrder)[0]
	order := broker.Order{OrderID: req.ReqID, WhatIf: true}
	c.handleFrame(frame(t, wire.FrameOpenOrder, req.ReqID, wire.OpenOrderData{
		Contract:   contract,
		Order:      order,
		OrderState: broker.OrderState{InitMarginChange: "2500", Commission: 1.1},
	}))

	res := <-done
	if res.err != nil {
		t.Fatalf("whatIf: %v", res.err)
	}
	if res.state.InitMarginChange != "2500" {
		t.Fatalf("margin preview missing: %+v", res.state)
	}
	if len(c.Trades()) != 0 {
		t.Fatalf("a what-if preview must not create a trade")
	}
}

func TestQualifyContracts(t *testing.T) {
	c, ft := newTestClient(t, Options{})
	contract := broker.Stock("AAPL", "SMART", "USD")

	done := make(chan error, 1)
	go func() { done <- c.QualifyContracts(context.Background(), &contract) }()

	waitFor(t, func() bool { return len(ft.requests(wire.OpContractDetails)) == 1 })
	reqID := ft.requests(wire.OpContractDetails)[0].ReqID
	c.handleFrame(frame(t, wire.FrameContractDetails, reqID, broker.ContractDetails{
		Contract: broker.Contract{ConID: 265598, Symbol: "AAPL", SecType: "STK", Exchange: "ISLAND", Currency: "USD"},
	}))
	c.handleFrame(frame(t, wire.FrameContractDetails, reqID, broker.ContractDetails{
		Contract: broker.Contract{ConID: 1111, Symbol: "AAPL", SecType: "OPT", Exchange: "CBOE", Currency: "USD"},
	}))
	c.handleFrame(frame(t, wire.FrameContractDetailsEnd, reqID, nil))

	if err := <-done; err != nil {
		t.Fatalf("qualify: %v", err)
	}
	if contract.ConID != 265598 {
		t.Fatalf("narrowing by secType must pick the single match, got %+v", contract)
	}
	if contract.Exchange != "SMART" {
		t.Fatalf("a requested SMART exchange must be preserved, got %s", contract.Exchange)
	}
}

func TestOpenOrderFromOtherClientKeysOnPermID(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	contract := broker.Stock("MSFT", "SMART", "USD")

	c.handleFrame(frame(t, wire.FrameOpenOrder, 0, wire.OpenOrderData{
		Contract:   contract,
		Order:      broker.Order{OrderID: 0, ClientID: 3, PermID: 555, Action: "BUY", OrderType: "LMT", TotalQty: 5},
		OrderState: broker.OrderState{Status: broker.Submitted},
	}))

	if _, ok := c.store.Trade("perm:555"); !ok {
		t.Fatalf("externally placed order must mirror under its permId key")
	}
}

func TestPendingTickersBatchPerRead(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	contract := broker.Stock("AAPL", "SMART", "USD")
	ticker := c.subs.StartTicker(11, contract, KindQuote)

	ch, off := c.pubsub.Subscribe(bus.PendingTickers)
	defer off()

	c.handleFrame(frame(t, wire.FrameTick, 11, wire.TickData{TickType: "last", Price: 100, Size: 1}))

	var keys []uint64
	if err := bus.Decode(&keys, <-ch); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(keys) != 1 || keys[0] != ticker.Key() {
		t.Fatalf("changed ticker must be announced once per read: %v", keys)
	}
	select {
	case <-ch:
		t.Fatalf("one read must produce one batch")
	default:
	}
}

func TestAccountSummarySubscribesOnce(t *testing.T) {
	c, ft := newTestClient(t, Options{})

	const callers = 4
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			_, err := c.ReqAccountSummary(context.Background())
			results <- err
		}()
	}

	waitFor(t, func() bool { return len(ft.requests(wire.OpAccountSummary)) >= 1 })
	reqs := ft.requests(wire.OpAccountSummary)
	if len(reqs) != 1 {
		t.Fatalf("concurrent calls must share one subscription, got %d", len(reqs))
	}
	c.handleFrame(frame(t, wire.FrameAccountSummary, reqs[0].ReqID,
		broker.AccountValue{Account: "DU1", Tag: "NetLiquidation", Value: "100000", Currency: "USD"}))
	c.handleFrame(frame(t, wire.FrameAccountSummaryEnd, reqs[0].ReqID, nil))

	for i := 0; i < callers; i++ {
		if err := <-results; err != nil {
			t.Fatalf("summary: %v", err)
		}
	}
	if got := len(ft.requests(wire.OpAccountSummary)); got != 1 {
		t.Fatalf("late callers must reuse the live subscription, got %d requests", got)
	}
}

func TestSetTimeoutConcurrentWithDisconnect(t *testing.T) {
	c, _ := newTestClient(t, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c.SetTimeout(time.Duration(i+1) * time.Millisecond)
		}
	}()
	_ = c.Disconnect()
	<-done
}

func TestDisconnectRejectsPendingAndClearsState(t *testing.T) {
	c, _ := newTestClient(t, Options{})
	c.store.SetAccounts([]string{"DU1"})
	c.store.PutPosition(broker.Position{Account: "DU1", Contract: broker.Stock("AAPL", "SMART", "USD"), Position: 1})
	p := c.reg.Start(int64(1), nil)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := p.Await(context.Background()); !errors.Is(err, ErrDisconnected) {
		t.Fatalf("pending must reject on disconnect, got %v", err)
	}
	if len(c.Positions("")) != 0 {
		t.Fatalf("mirror must clear on disconnect")
	}
}
