package broker

import "time"

// OrderStatus is the broker's running view of one order.
type OrderStatus struct {
	OrderID       int64   `json:"orderId"`
	Status        Status  `json:"status"`
	Filled        float64 `json:"filled"`
	Remaining     float64 `json:"remaining"`
	AvgFillPrice  float64 `json:"avgFillPrice"`
	PermID        int64   `json:"permId"`
	ParentID      int64   `json:"parentId"`
	LastFillPrice float64 `json:"lastFillPrice"`
	ClientID      int64   `json:"clientId"`
	WhyHeld       string  `json:"whyHeld,omitempty"`
}

// Execution is one partial or complete fill report.
type Execution struct {
	ExecID   string    `json:"execId"`
	OrderID  int64     `json:"orderId"`
	ClientID int64     `json:"clientId"`
	PermID   int64     `json:"permId"`
	Time     time.Time `json:"time"`
	Account  string    `json:"account"`
	Exchange string    `json:"exchange"`
	Side     string    `json:"side"`
	Shares   float64   `json:"shares"`
	Price    float64   `json:"price"`
	CumQty   float64   `json:"cumQty"`
	AvgPrice float64   `json:"avgPrice"`
}

// CommissionReport arrives separately from its execution, matched by ExecID.
type CommissionReport struct {
	ExecID      string  `json:"execId"`
	Commission  float64 `json:"commission"`
	Currency    string  `json:"currency"`
	RealizedPNL float64 `json:"realizedPnl,omitempty"`
}

// Fill pairs an execution with its commission report. The report is zero until
// the broker delivers it.
type Fill struct {
	Contract   Contract
	Execution  Execution
	Commission CommissionReport
	Time       time.Time
}

// ExecutionFilter narrows Fills and Executions queries. Zero fields match all.
type ExecutionFilter struct {
	ClientID int64
	Account  string
	Symbol   string
	Side     string
}

// Matches reports whether the fill passes the filter.
func (f ExecutionFilter) Matches(fill Fill) bool {
	if f.ClientID != 0 && f.ClientID != fill.Execution.ClientID {
		return false
	}
	if f.Account != "" && f.Account != fill.Execution.Account {
		return false
	}
	if f.Symbol != "" && f.Symbol != fill.Contract.Symbol {
		return false
	}
	if f.Side != "" && f.Side != fill.Execution.Side {
		return false
	}
	return true
}

// AccountValue is one (account, tag, currency) cell of the account sheet.
type AccountValue struct {
	Account   string `json:"account"`
	Tag       string `json:"tag"`
	Value     string `json:"value"`
	Currency  string `json:"currency"`
	ModelCode string `json:"modelCode,omitempty"`
}

// PortfolioItem is the broker's valuation of one holding in one account.
type PortfolioItem struct {
	Contract      Contract `json:"contract"`
	Account       string   `json:"account"`
	Position      float64  `json:"position"`
	MarketPrice   float64  `json:"marketPrice"`
	MarketValue   float64  `json:"marketValue"`
	AverageCost   float64  `json:"averageCost"`
	UnrealizedPNL float64  `json:"unrealizedPnl"`
	RealizedPNL   float64  `json:"realizedPnl"`
}

// Position is a bare position report, available without a full account sync.
type Position struct {
	Account  string   `json:"account"`
	Contract Contract `json:"contract"`
	Position float64  `json:"position"`
	AvgCost  float64  `json:"avgCost"`
}

// PnL is the live profit-and-loss stream for one (account, modelCode).
type PnL struct {
	Account       string  `json:"account"`
	ModelCode     string  `json:"modelCode"`
	DailyPNL      float64 `json:"dailyPnl"`
	UnrealizedPNL float64 `json:"unrealizedPnl"`
	RealizedPNL   float64 `json:"realizedPnl"`
}

// PnLSingle narrows PnL to a single contract.
type PnLSingle struct {
	Account       string  `json:"account"`
	ModelCode     string  `json:"modelCode"`
	ConID         int64   `json:"conId"`
	Position      float64 `json:"position"`
	DailyPNL      float64 `json:"dailyPnl"`
	UnrealizedPNL float64 `json:"unrealizedPnl"`
	RealizedPNL   float64 `json:"realizedPnl"`
	Value         float64 `json:"value"`
}

// Bar is one OHLCV bar in a historical or streaming bar series.
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Count  int64     `json:"count,omitempty"`
	WAP    float64   `json:"wap,omitempty"`
}

// ScanData is one row of a market scanner result.
type ScanData struct {
	Rank      int64    `json:"rank"`
	Contract  Contract `json:"contract"`
	Distance  string   `json:"distance,omitempty"`
	Benchmark string   `json:"benchmark,omitempty"`
}

// DepthLevel is one row of an order book side.
type DepthLevel struct {
	Price       float64 `json:"price"`
	Size        float64 `json:"size"`
	MarketMaker string  `json:"marketMaker,omitempty"`
}

// TickTick is a single tick-by-tick trade or quote event.
type TickTick struct {
	Time     time.Time `json:"time"`
	TickType string    `json:"tickType"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	BidPrice float64   `json:"bidPrice,omitempty"`
	AskPrice float64   `json:"askPrice,omitempty"`
	BidSize  float64   `json:"bidSize,omitempty"`
	AskSize  float64   `json:"askSize,omitempty"`
}

// NewsTick is a headline delivered on a market data subscription.
type NewsTick struct {
	Time         time.Time `json:"time"`
	ProviderCode string    `json:"providerCode"`
	ArticleID    string    `json:"articleId"`
	Headline     string    `json:"headline"`
	ExtraData    string    `json:"extraData,omitempty"`
}

// NewsBulletin is a broker-wide service bulletin.
type NewsBulletin struct {
	MsgID    int64  `json:"msgId"`
	MsgType  int64  `json:"msgType"`
	Message  string `json:"message"`
	Exchange string `json:"exchange,omitempty"`
}

// ContractDetails is the broker's full description of one instrument, as
// returned by a contract details query.
type ContractDetails struct {
	Contract       Contract `json:"contract"`
	MarketName     string   `json:"marketName,omitempty"`
	MinTick        float64  `json:"minTick,omitempty"`
	LongName       string   `json:"longName,omitempty"`
	ValidExchanges string   `json:"validExchanges,omitempty"`
}

// OrderState carries the margin/commission preview for a what-if order.
type OrderState struct {
	Status               Status  `json:"status"`
	InitMarginChange     string  `json:"initMarginChange,omitempty"`
	MaintMarginChange    string  `json:"maintMarginChange,omitempty"`
	EquityWithLoanChange string  `json:"equityWithLoanChange,omitempty"`
	Commission           float64 `json:"commission,omitempty"`
	CommissionCurrency   string  `json:"commissionCurrency,omitempty"`
}

// AccountSummaryTags is the standard tag list requested for account summaries.
const AccountSummaryTags = "AccountType,NetLiquidation,TotalCashValue,SettledCash," +
	"AccruedCash,BuyingPower,EquityWithLoanValue,PreviousDayEquityWithLoanValue," +
	"GrossPositionValue,RegTEquity,RegTMargin,SMA,InitMarginReq,MaintMarginReq," +
	"AvailableFunds,ExcessLiquidity,Cushion,FullInitMarginReq,FullMaintMarginReq," +
	"FullAvailableFunds,FullExcessLiquidity,LookAheadNextChange,LookAheadInitMarginReq," +
	"LookAheadMaintMarginReq,LookAheadAvailableFunds,LookAheadExcessLiquidity," +
	"HighestSeverity,DayTradesRemaining,Leverage,$LEDGER:ALL"
