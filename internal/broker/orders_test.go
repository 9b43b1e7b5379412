package broker

import "testing"

func TestNewBracketTransmitFlags(t *testing.T) {
	var next int64
	nextID := func() int64 { next++; return next }

	b := NewBracket(nextID, "BUY", 100, 50, 55, 45)

	if b.Parent.Transmit || b.TakeProfit.Transmit {
		t.Fatalf("only the last leg may transmit")
	}
	if !b.StopLoss.Transmit {
		t.Fatalf("stop loss leg must transmit the group")
	}
	if b.TakeProfit.ParentID != b.Parent.OrderID || b.StopLoss.ParentID != b.Parent.OrderID {
		t.Fatalf("children must link to the parent order id")
	}
	if b.TakeProfit.Action != "SELL" || b.StopLoss.Action != "SELL" {
		t.Fatalf("children must reverse the parent action")
	}
	if b.TakeProfit.LmtPrice != 55 || b.StopLoss.AuxPrice != 45 {
		t.Fatalf("leg prices not applied: %+v %+v", b.TakeProfit, b.StopLoss)
	}
	if got := b.Orders(); len(got) != 3 || got[0].OrderID != b.Parent.OrderID {
		t.Fatalf("Orders must return legs in placement order")
	}
}

func TestOneCancelsAll(t *testing.T) {
	orders := []Order{LimitOrder("BUY", 1, 10), LimitOrder("BUY", 1, 11)}
	tagged := OneCancelsAll(orders, "grp-1", 2)
	for _, o := range tagged {
		if o.OCAGroup != "grp-1" || o.OCAType != 2 {
			t.Fatalf("order not tagged: %+v", o)
		}
	}
}

func TestOneCancelsAllGeneratesGroup(t *testing.T) {
	orders := []Order{LimitOrder("SELL", 1, 10), LimitOrder("SELL", 1, 11)}
	tagged := OneCancelsAll(orders, "", 1)
	if tagged[0].OCAGroup == "" {
		t.Fatalf("empty group must be generated")
	}
	if tagged[0].OCAGroup != tagged[1].OCAGroup {
		t.Fatalf("all orders must share the generated group")
	}
}

func TestStatusPartition(t *testing.T) {
	for _, s := range []Status{Filled, Cancelled, ApiCancelled} {
		if !s.IsDone() {
			t.Fatalf("%s must be terminal", s)
		}
	}
	for _, s := range []Status{PendingSubmit, PendingCancel, PreSubmitted, Submitted, ApiPending, Inactive} {
		if s.IsDone() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	if !Submitted.IsActive() || Cancelled.IsActive() {
		t.Fatalf("active partition wrong")
	}
}
