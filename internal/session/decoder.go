package session

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"brokersync/internal/broker"
	"brokersync/internal/bus"
	"brokersync/internal/wire"
)

// RequestError is a protocol error frame tied to one request.
type RequestError struct {
	ReqID   int64
	Code    int64
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request %d: error %d: %s", e.ReqID, e.Code, e.Message)
}

// warningCode reports protocol codes that are informational, not failures.
// 1101/1102 are connectivity-restored notices; the 2100 block is warnings.
func warningCode(code int64) bool {
	return code == 1101 || code == 1102 || (code >= 2100 && code < 2200)
}

// handleFrame is the single decode context: it runs on the transport read
// goroutine and is the only writer of the store, tickers and containers.
// After the frame is applied, tickers touched by it are flushed in one batch
// and an update event marks the end of the processed read.
func (c *Client) handleFrame(f wire.Frame) {
	c.metrics.MessagesDecoded.Inc()
	c.mu.Lock()
	wd := c.watchdog
	c.mu.Unlock()
	if wd != nil {
		wd.kick()
	}

	switch f.Type {
	case wire.FrameHello:
		// consumed during handshake; a repeat is harmless
	case wire.FrameAPIEnd:
		c.log.Info("server ended session")
	case wire.FrameError:
		c.onError(f)
	case wire.FrameCurrentTime:
		c.onCurrentTime(f)
	case wire.FrameTick:
		c.onTick(f)
	case wire.FrameTickSnapshotEnd:
		c.reg.Resolve(f.ReqID, nil)
	case wire.FrameTickByTick:
		c.onTickByTick(f)
	case wire.FrameTickNews:
		c.onTickNews(f)
	case wire.FrameDepth:
		c.onDepth(f)
	case wire.FrameBar:
		c.onBar(f)
	case wire.FrameBarUpdate:
		c.onBarUpdate(f)
	case wire.FrameHistoricalDataEnd:
		c.reg.Resolve(f.ReqID, nil)
	case wire.FrameScannerData:
		c.onScannerData(f)
	case wire.FrameScannerDataEnd:
		c.onScannerDataEnd(f)
	case wire.FramePosition:
		c.onPosition(f)
	case wire.FramePositionEnd:
		c.reg.Resolve("positions", nil)
	case wire.FrameOpenOrder:
		c.onOpenOrder(f, false)
	case wire.FrameOpenOrderEnd:
		c.reg.Resolve("openOrders", nil)
	case wire.FrameCompletedOrder:
		c.onOpenOrder(f, true)
	case wire.FrameCompletedOrderEnd:
		c.reg.Resolve("completedOrders", nil)
	case wire.FrameOrderStatus:
		c.onOrderStatus(f)
	case wire.FrameExecDetails:
		c.onExecDetails(f)
	case wire.FrameExecDetailsEnd:
		c.reg.Resolve(f.ReqID, nil)
	case wire.FrameCommissionReport:
		c.onCommissionReport(f)
	case wire.FrameAccountValue:
		c.onAccountValue(f)
	case wire.FrameAccountDownloadEnd:
		c.onAccountDownloadEnd(f)
	case wire.FrameAccountSummary:
		c.onAccountSummary(f)
	case wire.FrameAccountSummaryEnd:
		c.reg.Resolve(f.ReqID, nil)
	case wire.FramePortfolio:
		c.onPortfolio(f)
	case wire.FramePnL:
		c.onPnL(f)
	case wire.FramePnLSingle:
		c.onPnLSingle(f)
	case wire.FrameNewsBulletin:
		c.onNewsBulletin(f)
	case wire.FrameContractDetails:
		c.onContractDetails(f)
	case wire.FrameContractDetailsEnd:
		c.reg.Resolve(f.ReqID, nil)
	default:
		c.log.Warn("unknown frame type", zap.String("type", f.Type))
	}

	c.flushPendingTickers()
	c.pubsub.Publish(bus.Update, nil)
}

// markTicker defers the ticker's change notification to the end of the read.
// Bursts of ticks for one instrument collapse into a single event.
func (c *Client) markTicker(t *Ticker) {
	c.pendingTickers[t.Key()] = struct{}{}
}

func (c *Client) flushPendingTickers() {
	if len(c.pendingTickers) == 0 {
		return
	}
	keys := make([]uint64, 0, len(c.pendingTickers))
	for k := range c.pendingTickers {
		keys = append(keys, k)
		delete(c.pendingTickers, k)
	}
	c.pubsub.Publish(bus.PendingTickers, keys)
}

func (c *Client) decodeErr(f wire.Frame, err error) {
	c.log.Warn("frame decode failed", zap.String("type", f.Type), zap.Int64("reqID", f.ReqID), zap.Error(err))
}

func (c *Client) onError(f wire.Frame) {
	var d wire.ErrorData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	if warningCode(d.Code) {
		c.log.Warn("broker warning",
			zap.Int64("code", d.Code), zap.String("message", d.Message), zap.Int64("reqID", f.ReqID))
		c.pubsub.Publish(bus.Error, bus.ErrorPayload{ReqID: f.ReqID, Code: d.Code, Message: d.Message, Contract: d.Contract})
		return
	}
	c.log.Error("broker error",
		zap.Int64("code", d.Code), zap.String("message", d.Message), zap.Int64("reqID", f.ReqID))

	if f.ReqID > 0 {
		c.reg.Reject(f.ReqID, &RequestError{ReqID: f.ReqID, Code: d.Code, Message: d.Message})

		// an error keyed by an order id lands in that trade's audit trail
		key := OrderKey(c.transport.ClientID(), f.ReqID, 0)
		if trade, ok := c.store.Trade(key); ok && !trade.IsDone() {
			trade.addLog(TradeLogEntry{
				Time:      time.Now().UTC(),
				Status:    trade.Status().Status,
				Message:   d.Message,
				ErrorCode: d.Code,
			})
		}
	}
	c.pubsub.Publish(bus.Error, bus.ErrorPayload{ReqID: f.ReqID, Code: d.Code, Message: d.Message, Contract: d.Contract})
}

func (c *Client) onCurrentTime(f wire.Frame) {
	var d wire.CurrentTimeData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.reg.Resolve("currentTime", time.Unix(d.Time, 0).UTC())
}

func (c *Client) onTick(f wire.Frame) {
	var d wire.TickData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	ticker, _, ok := c.subs.TickerByReq(f.ReqID)
	if !ok {
		c.log.Debug("tick for inactive subscription", zap.Int64("reqID", f.ReqID))
		return
	}
	ticker.applyTick(time.Now().UTC(), d.TickType, d.Price, d.Size)
	c.markTicker(ticker)
}

func (c *Client) onTickByTick(f wire.Frame) {
	var d broker.TickTick
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	ticker, _, ok := c.subs.TickerByReq(f.ReqID)
	if !ok {
		c.log.Debug("tick for inactive subscription", zap.Int64("reqID", f.ReqID))
		return
	}
	if d.Time.IsZero() {
		d.Time = time.Now().UTC()
	}
	ticker.applyTickByTick(d)
	c.markTicker(ticker)
}

func (c *Client) onTickNews(f wire.Frame) {
	var d broker.NewsTick
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	if d.Time.IsZero() {
		d.Time = time.Now().UTC()
	}
	c.store.AddNewsTick(d)
	c.pubsub.Publish(bus.TickNews, d)
}

func (c *Client) onDepth(f wire.Frame) {
	var d wire.DepthData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	ticker, _, ok := c.subs.TickerByReq(f.ReqID)
	if !ok {
		c.log.Debug("depth for inactive subscription", zap.Int64("reqID", f.ReqID))
		return
	}
	ticker.applyDepth(time.Now().UTC(), d.Position, d.Operation, d.Side,
		broker.DepthLevel{Price: d.Price, Size: d.Size, MarketMaker: d.MarketMaker})
	c.markTicker(ticker)
}

func (c *Client) onBar(f wire.Frame) {
	var d broker.Bar
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.subs.Deliver(f.ReqID, d)
}

func (c *Client) onBarUpdate(f wire.Frame) {
	var d broker.Bar
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	container, ok := c.subs.Container(f.ReqID)
	if !ok {
		c.log.Debug("bar update for inactive subscription", zap.Int64("reqID", f.ReqID))
		return
	}
	bars, ok := container.(*BarList)
	if !ok {
		return
	}
	isNew := bars.UpdateLast(d)
	c.pubsub.Publish(bus.BarUpdate, bus.BarUpdatePayload{
		ReqID:    f.ReqID,
		Contract: bars.Contract(),
		Bar:      d,
		IsNewBar: isNew,
	})
}

func (c *Client) onScannerData(f wire.Frame) {
	var d broker.ScanData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.subs.Deliver(f.ReqID, d)
}

// onScannerDataEnd emits the completed result set and clears the container so
// the next periodic rescan accumulates a fresh snapshot.
func (c *Client) onScannerDataEnd(f wire.Frame) {
	container, ok := c.subs.Container(f.ReqID)
	if !ok {
		c.reg.Resolve(f.ReqID, nil)
		return
	}
	list, ok := container.(*ScanList)
	if !ok {
		c.reg.Resolve(f.ReqID, nil)
		return
	}
	rows := list.Rows()
	c.reg.Resolve(f.ReqID, rows)
	c.pubsub.Publish(bus.ScannerData, rows)
	list.Clear()
}

func (c *Client) onPosition(f wire.Frame) {
	var d broker.Position
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.store.PutPosition(d)
	c.reg.Accumulate("positions", d)
	c.pubsub.Publish(bus.Position, d)
}

// onOpenOrder mirrors the broker's view of one order. A what-if preview
// resolves its pending slot and never becomes a trade.
func (c *Client) onOpenOrder(f wire.Frame, completed bool) {
	var d wire.OpenOrderData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	if d.Order.WhatIf {
		c.reg.Resolve(f.ReqID, d.OrderState)
		return
	}

	key := OrderKey(d.Order.ClientID, d.Order.OrderID, d.Order.PermID)
	trade, ok := c.store.Trade(key)
	if !ok {
		status := d.OrderState.Status
		if status == "" {
			status = broker.PendingSubmit
		}
		trade = newTrade(d.Contract, d.Order, TradeLogEntry{
			Time:    time.Now().UTC(),
			Status:  status,
			Message: "open order",
		})
		trade.setStatus(status)
		c.store.PutTrade(key, trade)
	} else if !trade.IsDone() {
		trade.setOrder(d.Order)
	}
	if completed {
		trade.setStatus(d.OrderState.Status)
		trade.markDone()
		c.reg.Accumulate("completedOrders", trade)
	} else {
		c.reg.Accumulate("openOrders", trade)
	}
	c.pubsub.Publish(bus.OpenOrder, bus.TradePayload{
		Contract: trade.Contract(), Order: trade.Order(), Status: trade.Status(),
	})
}

func (c *Client) onOrderStatus(f wire.Frame) {
	var d broker.OrderStatus
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	trade, ok := c.store.Trade(OrderKey(d.ClientID, d.OrderID, d.PermID))
	if !ok {
		trade, ok = c.store.TradeByOrderID(d.OrderID)
	}
	if !ok {
		c.log.Debug("status for unknown order", zap.Int64("orderID", d.OrderID))
		return
	}
	if trade.IsDone() {
		// done trades never transition
		return
	}
	if trade.applyStatus(d) {
		trade.addLog(TradeLogEntry{Time: time.Now().UTC(), Status: d.Status})
	}
	if d.Status.IsDone() {
		trade.markDone()
	}
	c.pubsub.Publish(bus.OrderStatus, bus.TradePayload{
		Contract: trade.Contract(), Order: trade.Order(), Status: trade.Status(),
	})
}

func (c *Client) onExecDetails(f wire.Frame) {
	var d wire.ExecData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	if d.Execution.Time.IsZero() {
		d.Execution.Time = time.Now().UTC()
	}
	fill := broker.Fill{Contract: d.Contract, Execution: d.Execution, Time: d.Execution.Time}
	isNew := c.store.PutFill(&fill)

	trade, ok := c.store.Trade(OrderKey(d.Execution.ClientID, d.Execution.OrderID, d.Execution.PermID))
	if !ok {
		trade, ok = c.store.TradeByOrderID(d.Execution.OrderID)
	}
	if ok && isNew {
		trade.addFill(fill)
		trade.addLog(TradeLogEntry{
			Time:    d.Execution.Time,
			Status:  trade.Status().Status,
			Message: fmt.Sprintf("fill %v@%v", d.Execution.Shares, d.Execution.Price),
		})
	}
	if f.ReqID > 0 {
		c.reg.Accumulate(f.ReqID, fill)
	}
	if isNew {
		payload := bus.FillPayload{Fill: fill}
		if ok {
			payload.Trade = bus.TradePayload{Contract: trade.Contract(), Order: trade.Order(), Status: trade.Status()}
		}
		c.pubsub.Publish(bus.ExecDetails, payload)
	}
}

func (c *Client) onCommissionReport(f wire.Frame) {
	var d broker.CommissionReport
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	fill, ok := c.store.SetCommission(d.ExecID, d)
	if !ok {
		c.log.Debug("commission for unknown execution", zap.String("execID", d.ExecID))
		return
	}
	payload := bus.FillPayload{Fill: fill}
	if trade, ok := c.store.Trade(OrderKey(fill.Execution.ClientID, fill.Execution.OrderID, fill.Execution.PermID)); ok {
		payload.Trade = bus.TradePayload{Contract: trade.Contract(), Order: trade.Order(), Status: trade.Status()}
	}
	c.pubsub.Publish(bus.CommissionReport, payload)
}

func (c *Client) onAccountValue(f wire.Frame) {
	var d broker.AccountValue
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.store.PutAccountValue(d)
	c.pubsub.Publish(bus.AccountValue, d)
}

func (c *Client) onAccountDownloadEnd(f wire.Frame) {
	var d wire.AccountDownloadEndData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.reg.Resolve("accountValues", d.Account)
}

func (c *Client) onAccountSummary(f wire.Frame) {
	var d broker.AccountValue
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.store.PutAccountSummary(d)
	c.reg.Accumulate(f.ReqID, d)
	c.pubsub.Publish(bus.AccountSummary, d)
}

func (c *Client) onPortfolio(f wire.Frame) {
	var d broker.PortfolioItem
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.store.PutPortfolioItem(d)
	c.pubsub.Publish(bus.UpdatePortfolio, d)
}

func (c *Client) onPnL(f wire.Frame) {
	var d wire.PnLData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	p, ok := c.store.UpdatePnL(f.ReqID, d.DailyPNL, d.UnrealizedPNL, d.RealizedPNL)
	if !ok {
		c.log.Debug("pnl for inactive subscription", zap.Int64("reqID", f.ReqID))
		return
	}
	c.pubsub.Publish(bus.PnL, p)
}

func (c *Client) onPnLSingle(f wire.Frame) {
	var d wire.PnLSingleData
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	p, ok := c.store.UpdatePnLSingle(f.ReqID, d.Position, d.DailyPNL, d.UnrealizedPNL, d.RealizedPNL, d.Value)
	if !ok {
		c.log.Debug("pnl for inactive subscription", zap.Int64("reqID", f.ReqID))
		return
	}
	c.pubsub.Publish(bus.PnLSingle, p)
}

func (c *Client) onNewsBulletin(f wire.Frame) {
	var d broker.NewsBulletin
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.store.PutNewsBulletin(d)
	c.pubsub.Publish(bus.NewsBulletin, d)
}

func (c *Client) onContractDetails(f wire.Frame) {
	var d broker.ContractDetails
	if err := f.Decode(&d); err != nil {
		c.decodeErr(f, err)
		return
	}
	c.reg.Accumulate(f.ReqID, d)
}
