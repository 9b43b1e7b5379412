package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"brokersync/internal/broker"
	"brokersync/internal/bus"
	"brokersync/internal/wire"
)

// PlaceOrder transmits order and returns its Trade immediately; status updates
// stream into the Trade as the broker reports them. When a live, non-terminal
// Trade already exists under the order's key this is a modification of that
// order, not a second one.
func (c *Client) PlaceOrder(contract broker.Contract, order broker.Order) (*Trade, error) {
	if order.OrderID == 0 {
		order.OrderID = c.transport.NextReqID()
	}
	if order.ClientID == 0 {
		order.ClientID = c.transport.ClientID()
	}
	if err := c.send(wire.Request{Op: wire.OpPlaceOrder, ReqID: order.OrderID, Data: wire.PlaceOrderReq{Contract: contract, Order: order}}); err != nil {
		return nil, err
	}

	key := OrderKey(order.ClientID, order.OrderID, order.PermID)
	now := time.Now().UTC()
	if existing, ok := c.store.Trade(key); ok && !existing.IsDone() {
		existing.setOrder(order)
		existing.addLog(TradeLogEntry{Time: now, Status: existing.Status().Status, Message: "modify"})
		c.metrics.OrdersModified.Inc()
		c.log.Info("order modified", zap.Int64("orderID", order.OrderID), zap.String("symbol", contract.Symbol))
		c.pubsub.Publish(bus.OrderModify, bus.TradePayload{Contract: contract, Order: existing.Order(), Status: existing.Status()})
		return existing, nil
	}

	trade := newTrade(contract, order, TradeLogEntry{Time: now, Status: broker.PendingSubmit})
	c.store.PutTrade(key, trade)
	c.metrics.OrdersPlaced.Inc()
	c.log.Info("order placed",
		zap.Int64("orderID", order.OrderID),
		zap.String("action", order.Action),
		zap.Float64("qty", order.TotalQty),
		zap.String("symbol", contract.Symbol))
	c.pubsub.Publish(bus.NewOrder, bus.TradePayload{Contract: contract, Order: order, Status: trade.Status()})
	return trade, nil
}

// CancelOrder requests cancellation of the trade's order. An order the broker
// never saw (not yet transmitted, or already inactive) goes straight to
// Cancelled; anything live enters PendingCancel and terminates only when the
// broker confirms. Cancelling an already-done trade is a no-op.
func (c *Client) CancelOrder(order broker.Order) *Trade {
	key := OrderKey(order.ClientID, order.OrderID, order.PermID)
	trade, ok := c.store.Trade(key)
	if !ok {
		c.log.Error("cancel for unknown order", zap.Int64("orderID", order.OrderID))
		return nil
	}
	if trade.IsDone() {
		return trade
	}

	if err := c.send(wire.Request{Op: wire.OpCancelOrder, Data: wire.CancelOrderReq{OrderID: order.OrderID}}); err != nil {
		c.log.Error("cancel send failed", zap.Int64("orderID", order.OrderID), zap.Error(err))
		return trade
	}
	c.metrics.OrdersCancelled.Inc()

	status := trade.Status().Status
	next := broker.PendingCancel
	if (status == broker.PendingSubmit && !trade.Order().Transmit) || status == broker.Inactive {
		next = broker.Cancelled
	}
	trade.setStatus(next)
	trade.addLog(TradeLogEntry{Time: time.Now().UTC(), Status: next})

	payload := bus.TradePayload{Contract: trade.Contract(), Order: trade.Order(), Status: trade.Status()}
	c.pubsub.Publish(bus.CancelOrder, payload)
	if next == broker.Cancelled {
		trade.markDone()
	}
	c.pubsub.Publish(bus.OrderStatus, payload)
	return trade
}

// ReqGlobalCancel cancels every open order, including those of other clients
// and sessions. Confirmation arrives through the normal status stream.
func (c *Client) ReqGlobalCancel() error {
	if err := c.send(wire.Request{Op: wire.OpGlobalCancel}); err != nil {
		return err
	}
	c.log.Info("global cancel requested")
	return nil
}

// PlaceBracket places the three legs of a bracket in order. Legs already
// placed stay working if a later leg fails; the caller holds all three trades
// and can unwind.
func (c *Client) PlaceBracket(contract broker.Contract, b broker.Bracket) ([]*Trade, error) {
	legs := b.Orders()
	trades := make([]*Trade, 0, len(legs))
	for _, leg := range legs {
		t, err := c.PlaceOrder(contract, leg)
		if err != nil {
			return trades, fmt.Errorf("bracket leg %d: %w", leg.OrderID, err)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// WhatIfOrder previews the margin and commission impact of order without
// transmitting it. Blocks until the broker replies.
func (c *Client) WhatIfOrder(ctx context.Context, contract broker.Contract, order broker.Order) (broker.OrderState, error) {
	reqID := c.transport.NextReqID()
	order.OrderID = reqID
	order.WhatIf = true

	p := c.reg.Start(reqID, &contract)
	if err := c.send(wire.Request{Op: wire.OpPlaceOrder, ReqID: reqID, Data: wire.PlaceOrderReq{Contract: contract, Order: order}}); err != nil {
		c.reg.Reject(reqID, err)
		return broker.OrderState{}, err
	}
	c.metrics.RequestsStarted.Inc()

	ctx, cancel := c.reqCtx(ctx)
	defer cancel()
	v, err := c.await(ctx, p)
	if err != nil || v == nil {
		return broker.OrderState{}, err
	}
	state, _ := v.(broker.OrderState)
	return state, nil
}
