package session

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc"

	"brokersync/internal/broker"
	"brokersync/internal/wire"
)

// startReq allocates a pending slot for key and counts it.
func (c *Client) startReq(key any, contract *broker.Contract) *Pending {
	c.metrics.RequestsStarted.Inc()
	return c.reg.Start(key, contract)
}

// ReqCurrentTime returns the broker's clock.
func (c *Client) ReqCurrentTime(ctx context.Context) (time.Time, error) {
	p := c.startReq("currentTime", nil)
	if err := c.send(wire.Request{Op: wire.OpCurrentTime}); err != nil {
		c.reg.Reject("currentTime", err)
		return time.Time{}, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	v, err := c.await(ctx, p)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	t, _ := v.(time.Time)
	return t, nil
}

// ReqPositions subscribes to position reports for all accounts and blocks
// until the initial snapshot is complete. The stream stays live afterwards;
// further reports keep the mirror current.
func (c *Client) ReqPositions(ctx context.Context) ([]broker.Position, error) {
	p := c.startReq("positions", nil)
	if err := c.send(wire.Request{Op: wire.OpPositions}); err != nil {
		c.reg.Reject("positions", err)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		return nil, err
	}
	return c.store.Positions(""), nil
}

// CancelPositions ends the position stream.
func (c *Client) CancelPositions() error {
	return c.send(wire.Request{Op: wire.OpCancelPositions})
}

// ReqOpenOrders asks the broker for all currently open orders and blocks until
// the listing is complete. Orders placed by other clients mirror in keyed by
// their permanent id.
func (c *Client) ReqOpenOrders(ctx context.Context) ([]*Trade, error) {
	p := c.startReq("openOrders", nil)
	if err := c.send(wire.Request{Op: wire.OpOpenOrders}); err != nil {
		c.reg.Reject("openOrders", err)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		return nil, err
	}
	return tradeSlice(p.Partial()), nil
}

// ReqCompletedOrders retrieves the orders that already reached a terminal
// state, including those of previous sessions.
func (c *Client) ReqCompletedOrders(ctx context.Context) ([]*Trade, error) {
	p := c.startReq("completedOrders", nil)
	if err := c.send(wire.Request{Op: wire.OpCompletedOrders}); err != nil {
		c.reg.Reject("completedOrders", err)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		return nil, err
	}
	return tradeSlice(p.Partial()), nil
}

func tradeSlice(partial []any) []*Trade {
	out := make([]*Trade, 0, len(partial))
	for _, v := range partial {
		if t, ok := v.(*Trade); ok {
			out = append(out, t)
		}
	}
	return out
}

// ReqAccountUpdates subscribes to one account's value and portfolio stream and
// blocks until the initial download completes. Only one account can be
// downloaded at a time; the end marker does not name which request it answers.
func (c *Client) ReqAccountUpdates(ctx context.Context, account string) error {
	p := c.startReq("accountValues", nil)
	if err := c.send(wire.Request{Op: wire.OpAccountUpdates, Data: wire.AccountUpdatesReq{Subscribe: true, Account: account}}); err != nil {
		c.reg.Reject("accountValues", err)
		return err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	_, err := c.await(ctx, p)
	return err
}

// CancelAccountUpdates ends the account's value/portfolio stream.
func (c *Client) CancelAccountUpdates(account string) error {
	return c.send(wire.Request{Op: wire.OpAccountUpdates, Data: wire.AccountUpdatesReq{Subscribe: false, Account: account}})
}

// ReqAccountSummary requests the summary sheet for all accounts and blocks
// until it is complete. The subscription stays live so later changes keep the
// mirror current; a repeated call returns the mirrored sheet directly.
func (c *Client) ReqAccountSummary(ctx context.Context) ([]broker.AccountValue, error) {
	// reserve before sending so concurrent callers cannot double-subscribe
	reqID := c.transport.NextReqID()
	c.mu.Lock()
	if c.acctSummaryReq != 0 {
		c.mu.Unlock()
		return c.store.AccountSummary(""), nil
	}
	c.acctSummaryReq = reqID
	c.mu.Unlock()

	p := c.startReq(reqID, nil)
	if err := c.send(wire.Request{Op: wire.OpAccountSummary, ReqID: reqID, Data: wire.AccountSummaryReq{Group: "All", Tags: broker.AccountSummaryTags}}); err != nil {
		c.reg.Reject(reqID, err)
		c.mu.Lock()
		if c.acctSummaryReq == reqID {
			c.acctSummaryReq = 0
		}
		c.mu.Unlock()
		return nil, err
	}

	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		return nil, err
	}
	return c.store.AccountSummary(""), nil
}

// CancelAccountSummary ends the summary subscription.
func (c *Client) CancelAccountSummary() error {
	c.mu.Lock()
	reqID := c.acctSummaryReq
	c.acctSummaryReq = 0
	c.mu.Unlock()
	if reqID == 0 {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelAccountSummary, ReqID: reqID})
}

// ReqExecutions fetches execution reports matching filter and blocks until the
// listing completes. Reports merge into the fill mirror, deduplicated by
// execution id.
func (c *Client) ReqExecutions(ctx context.Context, filter broker.ExecutionFilter) ([]broker.Fill, error) {
	reqID := c.transport.NextReqID()
	p := c.startReq(reqID, nil)
	req := wire.ExecutionsReq{ClientID: filter.ClientID, Account: filter.Account, Symbol: filter.Symbol, Side: filter.Side}
	if err := c.send(wire.Request{Op: wire.OpExecutions, ReqID: reqID, Data: req}); err != nil {
		c.reg.Reject(reqID, err)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		return nil, err
	}
	fills := make([]broker.Fill, 0, len(p.Partial()))
	for _, v := range p.Partial() {
		if f, ok := v.(broker.Fill); ok {
			fills = append(fills, f)
		}
	}
	return fills, nil
}

// ReqContractDetails looks up the instrument descriptions matching contract.
// An underspecified contract can match many instruments.
func (c *Client) ReqContractDetails(ctx context.Context, contract broker.Contract) ([]broker.ContractDetails, error) {
	reqID := c.transport.NextReqID()
	p := c.startReq(reqID, &contract)
	if err := c.send(wire.Request{Op: wire.OpContractDetails, ReqID: reqID, Data: wire.ContractDetailsReq{Contract: contract}}); err != nil {
		c.reg.Reject(reqID, err)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		return nil, err
	}
	var out []broker.ContractDetails
	for _, v := range p.Partial() {
		if d, ok := v.(broker.ContractDetails); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// QualifyContracts fills in the broker-assigned fields of each contract in
// place, in parallel. A contract that matches nothing, or matches several
// instruments even after narrowing by security type, fails qualification.
func (c *Client) QualifyContracts(ctx context.Context, contracts ...*broker.Contract) error {
	var wg conc.WaitGroup
	errs := make([]error, len(contracts))
	for i, contract := range contracts {
		i, contract := i, contract
		wg.Go(func() {
			errs[i] = c.qualifyOne(ctx, contract)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) qualifyOne(ctx context.Context, contract *broker.Contract) error {
	details, err := c.ReqContractDetails(ctx, *contract)
	if err != nil {
		return err
	}
	if len(details) == 0 {
		return fmt.Errorf("qualify %s: unknown contract", contract.String())
	}
	if len(details) > 1 && contract.SecType != "" {
		narrowed := details[:0]
		for _, d := range details {
			if d.Contract.SecType == contract.SecType {
				narrowed = append(narrowed, d)
			}
		}
		details = narrowed
	}
	if len(details) != 1 {
		return fmt.Errorf("qualify %s: ambiguous, %d matches", contract.String(), len(details))
	}
	resolved := details[0].Contract
	if contract.Exchange == "SMART" {
		resolved.Exchange = "SMART"
	}
	*contract = resolved
	return nil
}

// ReqMktData starts a streaming quote subscription and returns the contract's
// Ticker. Subscribing a second stream kind for the same contract reuses the
// Ticker; each kind cancels independently.
func (c *Client) ReqMktData(contract broker.Contract, genericTicks string) (*Ticker, error) {
	reqID := c.transport.NextReqID()
	req := wire.MarketDataReq{Contract: contract, GenericTicks: genericTicks}
	if err := c.send(wire.Request{Op: wire.OpMarketData, ReqID: reqID, Data: req}); err != nil {
		return nil, err
	}
	return c.subs.StartTicker(reqID, contract, KindQuote), nil
}

// CancelMktData ends the quote stream for contract. The Ticker survives while
// any other stream kind is still feeding it.
func (c *Client) CancelMktData(contract broker.Contract) error {
	ticker, ok := c.subs.TickerFor(contract)
	if !ok {
		return nil
	}
	reqID := c.subs.EndTicker(ticker, KindQuote)
	if reqID == 0 {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelMarketData, ReqID: reqID})
}

// ReqTickers snapshots current market data for the given contracts in parallel
// and returns one ticker per contract, in input order.
func (c *Client) ReqTickers(ctx context.Context, contracts ...broker.Contract) ([]*Ticker, error) {
	tickers := make([]*Ticker, len(contracts))
	errs := make([]error, len(contracts))
	var wg conc.WaitGroup
	for i, contract := range contracts {
		i, contract := i, contract
		wg.Go(func() {
			tickers[i], errs[i] = c.snapshotTicker(ctx, contract)
		})
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return tickers, nil
}

func (c *Client) snapshotTicker(ctx context.Context, contract broker.Contract) (*Ticker, error) {
	reqID := c.transport.NextReqID()
	p := c.startReq(reqID, &contract)
	ticker := c.subs.StartTicker(reqID, contract, KindSnapshot)
	if err := c.send(wire.Request{Op: wire.OpMarketData, ReqID: reqID, Data: wire.MarketDataReq{Contract: contract, Snapshot: true}}); err != nil {
		c.reg.Reject(reqID, err)
		c.subs.EndTicker(ticker, KindSnapshot)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	_, err := c.await(ctx, p)
	c.subs.EndTicker(ticker, KindSnapshot)
	if err != nil {
		return nil, err
	}
	return ticker, nil
}

// ReqMktDepth subscribes to the order book of contract.
func (c *Client) ReqMktDepth(contract broker.Contract, numRows int, smartDepth bool) (*Ticker, error) {
	reqID := c.transport.NextReqID()
	req := wire.MarketDepthReq{Contract: contract, NumRows: numRows, SmartDepth: smartDepth}
	if err := c.send(wire.Request{Op: wire.OpMarketDepth, ReqID: reqID, Data: req}); err != nil {
		return nil, err
	}
	return c.subs.StartTicker(reqID, contract, KindDepth), nil
}

// CancelMktDepth ends the book stream for contract.
func (c *Client) CancelMktDepth(contract broker.Contract) error {
	ticker, ok := c.subs.TickerFor(contract)
	if !ok {
		return nil
	}
	reqID := c.subs.EndTicker(ticker, KindDepth)
	if reqID == 0 {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelMarketDepth, ReqID: reqID})
}

// ReqTickByTickData subscribes to the raw tick stream of contract. tickType is
// one of "Last", "AllLast", "BidAsk", "MidPoint".
func (c *Client) ReqTickByTickData(contract broker.Contract, tickType string) (*Ticker, error) {
	reqID := c.transport.NextReqID()
	req := wire.TickByTickReq{Contract: contract, TickType: tickType}
	if err := c.send(wire.Request{Op: wire.OpTickByTick, ReqID: reqID, Data: req}); err != nil {
		return nil, err
	}
	return c.subs.StartTicker(reqID, contract, KindTickByTick), nil
}

// CancelTickByTickData ends the raw tick stream for contract.
func (c *Client) CancelTickByTickData(contract broker.Contract) error {
	ticker, ok := c.subs.TickerFor(contract)
	if !ok {
		return nil
	}
	reqID := c.subs.EndTicker(ticker, KindTickByTick)
	if reqID == 0 {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelTickByTick, ReqID: reqID})
}

// ReqHistoricalData fetches a bar series and blocks until the initial load
// completes. With KeepUpToDate the returned list keeps receiving last-bar
// updates until CancelHistoricalData. On timeout the server-side request is
// cancelled and an empty list returned.
func (c *Client) ReqHistoricalData(ctx context.Context, req wire.HistoricalDataReq) (*BarList, error) {
	reqID := c.transport.NextReqID()
	bars := NewBarList(reqID, req.Contract, req.KeepUpToDate)
	c.subs.StartSubscription(bars)
	p := c.startReq(reqID, &req.Contract)
	if err := c.send(wire.Request{Op: wire.OpHistoricalData, ReqID: reqID, Data: req}); err != nil {
		c.reg.Reject(reqID, err)
		c.subs.EndSubscription(bars)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		c.subs.EndSubscription(bars)
		_ = c.send(wire.Request{Op: wire.OpCancelHistoricalData, ReqID: reqID})
		bars.Clear()
		return nil, err
	}
	if !req.KeepUpToDate {
		c.subs.EndSubscription(bars)
	}
	return bars, nil
}

// CancelHistoricalData ends a kept-up-to-date bar stream. The bars already
// received stay valid.
func (c *Client) CancelHistoricalData(bars *BarList) error {
	if bars == nil || !c.subs.EndSubscription(bars) {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelHistoricalData, ReqID: bars.ReqID()})
}

// ReqScannerSubscription starts a market scanner and blocks until the first
// result set. The subscription stays live; periodic rescans refresh the list
// until CancelScannerSubscription.
func (c *Client) ReqScannerSubscription(ctx context.Context, req wire.ScannerReq) (*ScanList, error) {
	reqID := c.transport.NextReqID()
	list := NewScanList(reqID)
	c.subs.StartSubscription(list)
	p := c.startReq(reqID, nil)
	if err := c.send(wire.Request{Op: wire.OpScannerSubscription, ReqID: reqID, Data: req}); err != nil {
		c.reg.Reject(reqID, err)
		c.subs.EndSubscription(list)
		return nil, err
	}
	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	if _, err := c.await(ctx, p); err != nil {
		c.subs.EndSubscription(list)
		_ = c.send(wire.Request{Op: wire.OpCancelScanner, ReqID: reqID})
		return nil, err
	}
	return list, nil
}

// CancelScannerSubscription ends the scanner. The rows already received stay
// valid.
func (c *Client) CancelScannerSubscription(list *ScanList) error {
	if list == nil || !c.subs.EndSubscription(list) {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelScanner, ReqID: list.ReqID()})
}

// ReqPnL subscribes to account-level P&L. Values stream into the mirror; read
// them with PnL. Subscribing the same key twice is an error.
func (c *Client) ReqPnL(account, modelCode string) error {
	reqID := c.transport.NextReqID()
	if err := c.store.StartPnL(reqID, account, modelCode); err != nil {
		return err
	}
	if err := c.send(wire.Request{Op: wire.OpPnL, ReqID: reqID, Data: wire.PnLReq{Account: account, ModelCode: modelCode}}); err != nil {
		c.store.EndPnL(account, modelCode)
		return err
	}
	return nil
}

// CancelPnL ends the account-level P&L stream.
func (c *Client) CancelPnL(account, modelCode string) error {
	reqID := c.store.EndPnL(account, modelCode)
	if reqID == 0 {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelPnL, ReqID: reqID})
}

// PnL returns subscribed account-level P&L values.
func (c *Client) PnL(account, modelCode string) []broker.PnL {
	return c.store.PnL(account, modelCode)
}

// ReqPnLSingle subscribes to single-contract P&L.
func (c *Client) ReqPnLSingle(account, modelCode string, conID int64) error {
	reqID := c.transport.NextReqID()
	if err := c.store.StartPnLSingle(reqID, account, modelCode, conID); err != nil {
		return err
	}
	req := wire.PnLSingleReq{Account: account, ModelCode: modelCode, ConID: conID}
	if err := c.send(wire.Request{Op: wire.OpPnLSingle, ReqID: reqID, Data: req}); err != nil {
		c.store.EndPnLSingle(account, modelCode, conID)
		return err
	}
	return nil
}

// CancelPnLSingle ends the single-contract P&L stream.
func (c *Client) CancelPnLSingle(account, modelCode string, conID int64) error {
	reqID := c.store.EndPnLSingle(account, modelCode, conID)
	if reqID == 0 {
		return nil
	}
	return c.send(wire.Request{Op: wire.OpCancelPnLSingle, ReqID: reqID})
}

// PnLSingleValues returns subscribed single-contract P&L values.
func (c *Client) PnLSingleValues(account, modelCode string, conID int64) []broker.PnLSingle {
	return c.store.PnLSingle(account, modelCode, conID)
}
