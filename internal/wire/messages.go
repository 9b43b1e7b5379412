// Package wire implements the socket transport of the broker protocol: the
// websocket connection, the session handshake and the frame codec. It knows
// nothing about request correlation or local state; inbound frames are handed
// to a single handler in arrival order.
package wire

import (
	"github.com/goccy/go-json"

	"brokersync/internal/broker"
)

// Outbound operation codes.
const (
	OpAuth                 = "auth"
	OpCurrentTime          = "currentTime"
	OpMarketData           = "marketData"
	OpCancelMarketData     = "cancelMarketData"
	OpMarketDepth          = "marketDepth"
	OpCancelMarketDepth    = "cancelMarketDepth"
	OpTickByTick           = "tickByTick"
	OpCancelTickByTick     = "cancelTickByTick"
	OpHistoricalData       = "historicalData"
	OpCancelHistoricalData = "cancelHistoricalData"
	OpScannerSubscription  = "scannerSubscription"
	OpCancelScanner        = "cancelScanner"
	OpPlaceOrder           = "placeOrder"
	OpCancelOrder          = "cancelOrder"
	OpGlobalCancel         = "globalCancel"
	OpOpenOrders           = "openOrders"
	OpCompletedOrders      = "completedOrders"
	OpPositions            = "positions"
	OpCancelPositions      = "cancelPositions"
	OpAccountUpdates       = "accountUpdates"
	OpAccountSummary       = "accountSummary"
	OpCancelAccountSummary = "cancelAccountSummary"
	OpExecutions           = "executions"
	OpPnL                  = "pnl"
	OpCancelPnL            = "cancelPnl"
	OpPnLSingle            = "pnlSingle"
	OpCancelPnLSingle      = "cancelPnlSingle"
	OpContractDetails      = "contractDetails"
)

// Inbound frame types.
const (
	FrameHello              = "hello"
	FrameError              = "error"
	FrameAPIEnd             = "apiEnd"
	FrameCurrentTime        = "currentTime"
	FrameTick               = "tick"
	FrameTickSnapshotEnd    = "tickSnapshotEnd"
	FrameTickByTick         = "tickByTick"
	FrameTickNews           = "tickNews"
	FrameDepth              = "depth"
	FrameBar                = "bar"
	FrameBarUpdate          = "barUpdate"
	FrameHistoricalDataEnd  = "historicalDataEnd"
	FrameScannerData        = "scannerData"
	FrameScannerDataEnd     = "scannerDataEnd"
	FramePosition           = "position"
	FramePositionEnd        = "positionEnd"
	FrameOpenOrder          = "openOrder"
	FrameOpenOrderEnd       = "openOrderEnd"
	FrameCompletedOrder     = "completedOrder"
	FrameCompletedOrderEnd  = "completedOrderEnd"
	FrameOrderStatus        = "orderStatus"
	FrameExecDetails        = "execDetails"
	FrameExecDetailsEnd     = "execDetailsEnd"
	FrameCommissionReport   = "commissionReport"
	FrameAccountValue       = "accountValue"
	FrameAccountDownloadEnd = "accountDownloadEnd"
	FrameAccountSummary     = "accountSummary"
	FrameAccountSummaryEnd  = "accountSummaryEnd"
	FramePortfolio          = "portfolio"
	FramePnL                = "pnl"
	FramePnLSingle          = "pnlSingle"
	FrameNewsBulletin       = "newsBulletin"
	FrameContractDetails    = "contractDetails"
	FrameContractDetailsEnd = "contractDetailsEnd"
)

// Request is one outbound protocol message.
type Request struct {
	Op    string `json:"op"`
	ReqID int64  `json:"reqId,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Frame is one inbound protocol message. Data stays raw until the decoder
// knows the concrete payload type for Type.
type Frame struct {
	Type  string          `json:"type"`
	ReqID int64           `json:"reqId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

// Hello is the server's handshake reply.
type Hello struct {
	ServerVersion  int      `json:"serverVersion"`
	ConnectionTime string   `json:"connectionTime"`
	Accounts       []string `json:"accounts"`
	NextReqID      int64    `json:"nextReqId"`
}

// Auth opens the session.
type Auth struct {
	ClientID int64 `json:"clientId"`
}

// ErrorData is a protocol-reported error, optionally tied to a request.
type ErrorData struct {
	Code     int64            `json:"code"`
	Message  string           `json:"message"`
	Contract *broker.Contract `json:"contract,omitempty"`
}

// TickData is a top-of-book field update for a quote subscription.
type TickData struct {
	TickType string  `json:"tickType"` // "bid", "ask", "last", "bidSize", "askSize", "lastSize", "volume", "close"
	Price    float64 `json:"price,omitempty"`
	Size     float64 `json:"size,omitempty"`
}

// DepthData is one order book mutation.
type DepthData struct {
	Position    int64   `json:"position"`
	Operation   int64   `json:"operation"` // 0 insert, 1 update, 2 delete
	Side        int64   `json:"side"`      // 0 ask, 1 bid
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	MarketMaker string  `json:"marketMaker,omitempty"`
}

// OpenOrderData mirrors one live order as the broker sees it.
type OpenOrderData struct {
	Contract   broker.Contract   `json:"contract"`
	Order      broker.Order      `json:"order"`
	OrderState broker.OrderState `json:"orderState"`
}

// ExecData is one execution report.
type ExecData struct {
	Contract  broker.Contract  `json:"contract"`
	Execution broker.Execution `json:"execution"`
}

// AccountDownloadEndData marks the end of one account's download.
type AccountDownloadEndData struct {
	Account string `json:"account"`
}

// CurrentTimeData carries the server clock as a unix timestamp.
type CurrentTimeData struct {
	Time int64 `json:"time"`
}

// PnLData is one account-level P&L update.
type PnLData struct {
	DailyPNL      float64 `json:"dailyPnl"`
	UnrealizedPNL float64 `json:"unrealizedPnl"`
	RealizedPNL   float64 `json:"realizedPnl"`
}

// PnLSingleData is one single-contract P&L update.
type PnLSingleData struct {
	Position      float64 `json:"position"`
	DailyPNL      float64 `json:"dailyPnl"`
	UnrealizedPNL float64 `json:"unrealizedPnl"`
	RealizedPNL   float64 `json:"realizedPnl"`
	Value         float64 `json:"value"`
}

// MarketDataReq subscribes to streaming quotes, or a one-shot snapshot.
type MarketDataReq struct {
	Contract     broker.Contract `json:"contract"`
	GenericTicks string          `json:"genericTicks,omitempty"`
	Snapshot     bool            `json:"snapshot,omitempty"`
}

// MarketDepthReq subscribes to the order book.
type MarketDepthReq struct {
	Contract   broker.Contract `json:"contract"`
	NumRows    int             `json:"numRows"`
	SmartDepth bool            `json:"smartDepth,omitempty"`
}

// TickByTickReq subscribes to the raw tick stream.
type TickByTickReq struct {
	Contract      broker.Contract `json:"contract"`
	TickType      string          `json:"tickType"`
	NumberOfTicks int64           `json:"numberOfTicks,omitempty"`
	IgnoreSize    bool            `json:"ignoreSize,omitempty"`
}

// HistoricalDataReq requests a bar series, optionally kept up to date.
type HistoricalDataReq struct {
	Contract     broker.Contract `json:"contract"`
	EndDateTime  string          `json:"endDateTime,omitempty"`
	Duration     string          `json:"duration"`
	BarSize      string          `json:"barSize"`
	WhatToShow   string          `json:"whatToShow"`
	UseRTH       bool            `json:"useRTH"`
	KeepUpToDate bool            `json:"keepUpToDate,omitempty"`
}

// ScannerReq starts a market scanner query.
type ScannerReq struct {
	Instrument   string `json:"instrument"`
	LocationCode string `json:"locationCode"`
	ScanCode     string `json:"scanCode"`
	NumberOfRows int64  `json:"numberOfRows,omitempty"`
}

// PlaceOrderReq transmits or modifies an order.
type PlaceOrderReq struct {
	Contract broker.Contract `json:"contract"`
	Order    broker.Order    `json:"order"`
}

// CancelOrderReq cancels a working order.
type CancelOrderReq struct {
	OrderID int64 `json:"orderId"`
}

// AccountUpdatesReq subscribes to one account's value/portfolio stream.
type AccountUpdatesReq struct {
	Subscribe bool   `json:"subscribe"`
	Account   string `json:"account"`
}

// AccountSummaryReq requests the summary sheet.
type AccountSummaryReq struct {
	Group string `json:"group"`
	Tags  string `json:"tags"`
}

// ExecutionsReq requests execution reports matching the filter.
type ExecutionsReq struct {
	ClientID int64  `json:"clientId,omitempty"`
	Account  string `json:"account,omitempty"`
	Symbol   string `json:"symbol,omitempty"`
	Side     string `json:"side,omitempty"`
}

// PnLReq subscribes to account-level P&L.
type PnLReq struct {
	Account   string `json:"account"`
	ModelCode string `json:"modelCode,omitempty"`
}

// PnLSingleReq subscribes to single-contract P&L.
type PnLSingleReq struct {
	Account   string `json:"account"`
	ModelCode string `json:"modelCode,omitempty"`
	ConID     int64  `json:"conId"`
}

// ContractDetailsReq looks up instrument descriptions.
type ContractDetailsReq struct {
	Contract broker.Contract `json:"contract"`
}
