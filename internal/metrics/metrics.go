package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	Connects         Counter
	MessagesDecoded  Counter
	RequestsStarted  Counter
	RequestsResolved Counter
	RequestsTimedOut Counter
	OrdersPlaced     Counter
	OrdersModified   Counter
	OrdersCancelled  Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		Connects:         n,
		MessagesDecoded:  n,
		RequestsStarted:  n,
		RequestsResolved: n,
		RequestsTimedOut: n,
		OrdersPlaced:     n,
		OrdersModified:   n,
		OrdersCancelled:  n,
	}
}
