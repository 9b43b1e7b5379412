package session

import (
	"fmt"
	"sync"

	"brokersync/internal/broker"
)

// Store is the local mirror of broker-side collections. Every collection is
// latest-value-wins on its composite key. All writes happen on the decode
// goroutine; readers get copies and never observe partial updates.
type Store struct {
	mu sync.RWMutex

	accounts      []string
	accountValues map[string]broker.AccountValue // acct|tag|currency|model
	acctSummary   map[string]broker.AccountValue
	portfolio     map[string]map[uint64]broker.PortfolioItem // account -> contract key
	positions     map[string]map[uint64]broker.Position
	trades        map[string]*Trade       // OrderKey
	fills         map[string]*broker.Fill // execID
	fillOrder     []string
	newsTicks     []broker.NewsTick
	newsBulletins map[int64]broker.NewsBulletin

	pnlKeyReq       map[string]int64 // acct|model -> reqID
	pnlByReq        map[int64]*broker.PnL
	pnlSingleKeyReq map[string]int64 // acct|model|conID -> reqID
	pnlSingleByReq  map[int64]*broker.PnLSingle
}

func NewStore() *Store {
	s := &Store{}
	s.init()
	return s
}

func (s *Store) init() {
	s.accountValues = make(map[string]broker.AccountValue)
	s.acctSummary = make(map[string]broker.AccountValue)
	s.portfolio = make(map[string]map[uint64]broker.PortfolioItem)
	s.positions = make(map[string]map[uint64]broker.Position)
	s.trades = make(map[string]*Trade)
	s.fills = make(map[string]*broker.Fill)
	s.fillOrder = nil
	s.newsTicks = nil
	s.newsBulletins = make(map[int64]broker.NewsBulletin)
	s.pnlKeyReq = make(map[string]int64)
	s.pnlByReq = make(map[int64]*broker.PnL)
	s.pnlSingleKeyReq = make(map[string]int64)
	s.pnlSingleByReq = make(map[int64]*broker.PnLSingle)
}

// Reset clears all per-connection state. Called on disconnect.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = nil
	s.init()
}

// SetAccounts records the accounts announced at handshake.
func (s *Store) SetAccounts(accounts []string) {
	s.mu.Lock()
	s.accounts = append([]string(nil), accounts...)
	s.mu.Unlock()
}

// Accounts returns the managed account names.
func (s *Store) Accounts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.accounts...)
}

func acctValueKey(v broker.AccountValue) string {
	return v.Account + "|" + v.Tag + "|" + v.Currency + "|" + v.ModelCode
}

// PutAccountValue upserts one account sheet cell.
func (s *Store) PutAccountValue(v broker.AccountValue) {
	s.mu.Lock()
	s.accountValues[acctValueKey(v)] = v
	s.mu.Unlock()
}

// AccountValues returns the account sheet, optionally filtered by account.
func (s *Store) AccountValues(account string) []broker.AccountValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []broker.AccountValue
	for _, v := range s.accountValues {
		if account == "" || v.Account == account {
			out = append(out, v)
		}
	}
	return out
}

// PutAccountSummary upserts one summary cell.
func (s *Store) PutAccountSummary(v broker.AccountValue) {
	s.mu.Lock()
	s.acctSummary[acctValueKey(v)] = v
	s.mu.Unlock()
}

// AccountSummary returns the last summary sheet, optionally filtered.
func (s *Store) AccountSummary(account string) []broker.AccountValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []broker.AccountValue
	for _, v := range s.acctSummary {
		if account == "" || v.Account == account {
			out = append(out, v)
		}
	}
	return out
}

// PutPortfolioItem upserts one holding; a zero position removes it.
func (s *Store) PutPortfolioItem(item broker.PortfolioItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.portfolio[item.Account]
	if acct == nil {
		acct = make(map[uint64]broker.PortfolioItem)
		s.portfolio[item.Account] = acct
	}
	key := item.Contract.Key()
	if item.Position == 0 {
		delete(acct, key)
		return
	}
	acct[key] = item
}

// Portfolio returns holdings, optionally filtered by account.
func (s *Store) Portfolio(account string) []broker.PortfolioItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []broker.PortfolioItem
	for acct, items := range s.portfolio {
		if account != "" && acct != account {
			continue
		}
		for _, item := range items {
			out = append(out, item)
		}
	}
	return out
}

// PutPosition upserts one position report; a zero position removes it.
func (s *Store) PutPosition(p broker.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.positions[p.Account]
	if acct == nil {
		acct = make(map[uint64]broker.Position)
		s.positions[p.Account] = acct
	}
	key := p.Contract.Key()
	if p.Position == 0 {
		delete(acct, key)
		return
	}
	acct[key] = p
}

// Positions returns position reports, optionally filtered by account.
func (s *Store) Positions(account string) []broker.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []broker.Position
	for acct, ps := range s.positions {
		if account != "" && acct != account {
			continue
		}
		for _, p := range ps {
			out = append(out, p)
		}
	}
	return out
}

// Trade returns the live trade for key.
func (s *Store) Trade(key string) (*Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[key]
	return t, ok
}

// PutTrade records a new trade under key.
func (s *Store) PutTrade(key string, t *Trade) {
	s.mu.Lock()
	s.trades[key] = t
	s.mu.Unlock()
}

// Trades returns every trade of this session.
func (s *Store) Trades() []*Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Trade, 0, len(s.trades))
	for _, t := range s.trades {
		out = append(out, t)
	}
	return out
}

// OpenTrades returns the trades that have not reached a terminal status.
func (s *Store) OpenTrades() []*Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Trade
	for _, t := range s.trades {
		if !t.IsDone() {
			out = append(out, t)
		}
	}
	return out
}

// TradeByOrderID scans for the trade carrying orderID. Used when a protocol
// message carries only the order id.
func (s *Store) TradeByOrderID(orderID int64) (*Trade, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.trades {
		if t.Order().OrderID == orderID {
			return t, true
		}
	}
	return nil, false
}

// Fill returns the fill recorded for execID.
func (s *Store) Fill(execID string) (*broker.Fill, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fills[execID]
	return f, ok
}

// PutFill records a fill by execution id, deduplicating replays. Returns false
// when the execution was already known.
func (s *Store) PutFill(f *broker.Fill) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fills[f.Execution.ExecID]; ok {
		return false
	}
	s.fills[f.Execution.ExecID] = f
	s.fillOrder = append(s.fillOrder, f.Execution.ExecID)
	return true
}

// SetCommission attaches a commission report to its execution's fill. The
// report arrives on its own frame, matched by execution id.
func (s *Store) SetCommission(execID string, report broker.CommissionReport) (broker.Fill, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.fills[execID]
	if !ok {
		return broker.Fill{}, false
	}
	f.Commission = report
	return *f, true
}

// Fills returns fills in arrival order, optionally filtered.
func (s *Store) Fills(filter *broker.ExecutionFilter) []broker.Fill {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []broker.Fill
	for _, id := range s.fillOrder {
		f := s.fills[id]
		if filter == nil || filter.Matches(*f) {
			out = append(out, *f)
		}
	}
	return out
}

// AddNewsTick appends a headline to the session history.
func (s *Store) AddNewsTick(n broker.NewsTick) {
	s.mu.Lock()
	s.newsTicks = append(s.newsTicks, n)
	s.mu.Unlock()
}

// NewsTicks returns the headline history.
func (s *Store) NewsTicks() []broker.NewsTick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]broker.NewsTick(nil), s.newsTicks...)
}

// PutNewsBulletin upserts a bulletin by message id.
func (s *Store) PutNewsBulletin(n broker.NewsBulletin) {
	s.mu.Lock()
	s.newsBulletins[n.MsgID] = n
	s.mu.Unlock()
}

// NewsBulletins returns all received bulletins.
func (s *Store) NewsBulletins() []broker.NewsBulletin {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]broker.NewsBulletin, 0, len(s.newsBulletins))
	for _, n := range s.newsBulletins {
		out = append(out, n)
	}
	return out
}

func pnlKey(account, modelCode string) string {
	return account + "|" + modelCode
}

func pnlSingleKey(account, modelCode string, conID int64) string {
	return fmt.Sprintf("%s|%s|%d", account, modelCode, conID)
}

// StartPnL registers a P&L subscription. Starting an already-active key is a
// programming error and fails fast.
func (s *Store) StartPnL(reqID int64, account, modelCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pnlKey(account, modelCode)
	if _, ok := s.pnlKeyReq[key]; ok {
		return fmt.Errorf("%w: pnl %s", ErrDuplicateSubscription, key)
	}
	s.pnlKeyReq[key] = reqID
	s.pnlByReq[reqID] = &broker.PnL{Account: account, ModelCode: modelCode}
	return nil
}

// EndPnL removes the subscription and returns the request id to cancel, or 0
// when the key was never subscribed.
func (s *Store) EndPnL(account, modelCode string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pnlKey(account, modelCode)
	reqID, ok := s.pnlKeyReq[key]
	if !ok {
		return 0
	}
	delete(s.pnlKeyReq, key)
	delete(s.pnlByReq, reqID)
	return reqID
}

// UpdatePnL applies a P&L update in place; unknown request ids are ignored.
func (s *Store) UpdatePnL(reqID int64, daily, unrealized, realized float64) (broker.PnL, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pnlByReq[reqID]
	if !ok {
		return broker.PnL{}, false
	}
	p.DailyPNL, p.UnrealizedPNL, p.RealizedPNL = daily, unrealized, realized
	return *p, true
}

// PnL returns subscribed P&L values matching the (possibly empty) filters.
func (s *Store) PnL(account, modelCode string) []broker.PnL {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []broker.PnL
	for _, p := range s.pnlByReq {
		if (account == "" || p.Account == account) && (modelCode == "" || p.ModelCode == modelCode) {
			out = append(out, *p)
		}
	}
	return out
}

// StartPnLSingle registers a single-contract P&L subscription, failing fast on
// a duplicate key.
func (s *Store) StartPnLSingle(reqID int64, account, modelCode string, conID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pnlSingleKey(account, modelCode, conID)
	if _, ok := s.pnlSingleKeyReq[key]; ok {
		return fmt.Errorf("%w: pnlSingle %s", ErrDuplicateSubscription, key)
	}
	s.pnlSingleKeyReq[key] = reqID
	s.pnlSingleByReq[reqID] = &broker.PnLSingle{Account: account, ModelCode: modelCode, ConID: conID}
	return nil
}

// EndPnLSingle removes the subscription and returns the request id to cancel.
func (s *Store) EndPnLSingle(account, modelCode string, conID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pnlSingleKey(account, modelCode, conID)
	reqID, ok := s.pnlSingleKeyReq[key]
	if !ok {
		return 0
	}
	delete(s.pnlSingleKeyReq, key)
	delete(s.pnlSingleByReq, reqID)
	return reqID
}

// UpdatePnLSingle applies a single-contract P&L update in place.
func (s *Store) UpdatePnLSingle(reqID int64, pos, daily, unrealized, realized, value float64) (broker.PnLSingle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pnlSingleByReq[reqID]
	if !ok {
		return broker.PnLSingle{}, false
	}
	p.Position, p.DailyPNL, p.UnrealizedPNL, p.RealizedPNL, p.Value = pos, daily, unrealized, realized, value
	return *p, true
}

// PnLSingle returns subscribed single-contract P&L values matching the
// (possibly zero) filters.
func (s *Store) PnLSingle(account, modelCode string, conID int64) []broker.PnLSingle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []broker.PnLSingle
	for _, p := range s.pnlSingleByReq {
		if (account == "" || p.Account == account) &&
			(modelCode == "" || p.ModelCode == modelCode) &&
			(conID == 0 || p.ConID == conID) {
			out = append(out, *p)
		}
	}
	return out
}
