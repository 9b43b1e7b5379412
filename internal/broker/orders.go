package broker

import (
	"github.com/google/uuid"
)

// Order holds the caller-supplied parameters of an order plus the identity
// fields the broker stamps on it (ClientID, PermID).
type Order struct {
	OrderID   int64   `json:"orderId"`
	ClientID  int64   `json:"clientId"`
	PermID    int64   `json:"permId,omitempty"`
	ParentID  int64   `json:"parentId,omitempty"`
	Action    string  `json:"action"`
	OrderType string  `json:"orderType"`
	TotalQty  float64 `json:"totalQuantity"`
	LmtPrice  float64 `json:"lmtPrice,omitempty"`
	AuxPrice  float64 `json:"auxPrice,omitempty"`
	TIF       string  `json:"tif,omitempty"`
	OCAGroup  string  `json:"ocaGroup,omitempty"`
	OCAType   int64   `json:"ocaType,omitempty"`
	Account   string  `json:"account,omitempty"`
	Transmit  bool    `json:"transmit"`
	WhatIf    bool    `json:"whatIf,omitempty"`
}

// LimitOrder returns a limit order that transmits immediately.
func LimitOrder(action string, quantity, lmtPrice float64) Order {
	return Order{Action: action, OrderType: "LMT", TotalQty: quantity, LmtPrice: lmtPrice, Transmit: true}
}

// MarketOrder returns a market order that transmits immediately.
func MarketOrder(action string, quantity float64) Order {
	return Order{Action: action, OrderType: "MKT", TotalQty: quantity, Transmit: true}
}

// StopOrder returns a stop order that transmits immediately.
func StopOrder(action string, quantity, stopPrice float64) Order {
	return Order{Action: action, OrderType: "STP", TotalQty: quantity, AuxPrice: stopPrice, Transmit: true}
}

func reverse(action string) string {
	if action == "BUY" {
		return "SELL"
	}
	return "BUY"
}

// Bracket bundles the three legs of a bracket order: a parent entry order, a
// take-profit limit and a stop-loss. Only the last leg carries transmit=true;
// the broker queues the whole linked group until the final child transmits.
type Bracket struct {
	Parent     Order
	TakeProfit Order
	StopLoss   Order
}

// Orders returns the legs in placement order.
func (b Bracket) Orders() []Order {
	return []Order{b.Parent, b.TakeProfit, b.StopLoss}
}

// NewBracket builds a bracket around a limit entry. nextID allocates the order
// ids linking the legs. Place all three legs, in order, for the group to work.
func NewBracket(nextID func() int64, action string, quantity, limitPrice, takeProfitPrice, stopLossPrice float64) Bracket {
	parent := LimitOrder(action, quantity, limitPrice)
	parent.OrderID = nextID()
	parent.Transmit = false

	takeProfit := LimitOrder(reverse(action), quantity, takeProfitPrice)
	takeProfit.OrderID = nextID()
	takeProfit.ParentID = parent.OrderID
	takeProfit.Transmit = false

	stopLoss := StopOrder(reverse(action), quantity, stopLossPrice)
	stopLoss.OrderID = nextID()
	stopLoss.ParentID = parent.OrderID
	stopLoss.Transmit = true

	return Bracket{Parent: parent, TakeProfit: takeProfit, StopLoss: stopLoss}
}

// OneCancelsAll stamps the orders with a shared OCA group and linkage type.
// A generated group id is used when group is empty. Pure tagging; the orders
// still have to be placed individually.
func OneCancelsAll(orders []Order, group string, ocaType int64) []Order {
	if group == "" {
		group = uuid.NewString()
	}
	for i := range orders {
		orders[i].OCAGroup = group
		orders[i].OCAType = ocaType
	}
	return orders
}
