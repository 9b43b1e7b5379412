package bus

import "brokersync/internal/broker"

// TradePayload is the flattened view of a trade carried on order channels.
type TradePayload struct {
	Contract broker.Contract
	Order    broker.Order
	Status   broker.OrderStatus
}

// FillPayload is carried on execDetails and commissionReport.
type FillPayload struct {
	Trade TradePayload
	Fill  broker.Fill
}

// BarUpdatePayload is carried on barUpdate.
type BarUpdatePayload struct {
	ReqID    int64
	Contract broker.Contract
	Bar      broker.Bar
	IsNewBar bool
}

// ErrorPayload is carried on the error channel.
type ErrorPayload struct {
	ReqID    int64
	Code     int64
	Message  string
	Contract *broker.Contract
}
