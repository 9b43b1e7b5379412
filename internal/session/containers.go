package session

import (
	"sync"

	"brokersync/internal/broker"
)

// Container is the capability set the subscription registry needs from a
// long-lived keyed result: bar series, scanner result lists and the like. A
// container stays valid after cancellation; cancellation only stops delivery.
type Container interface {
	ReqID() int64
	Append(v any)
	Clear()
}

// BarList is a bar series container, optionally kept up to date by a
// streaming subscription.
type BarList struct {
	reqID        int64
	contract     broker.Contract
	keepUpToDate bool

	mu   sync.Mutex
	bars []broker.Bar
}

func NewBarList(reqID int64, contract broker.Contract, keepUpToDate bool) *BarList {
	return &BarList{reqID: reqID, contract: contract, keepUpToDate: keepUpToDate}
}

func (b *BarList) ReqID() int64              { return b.reqID }
func (b *BarList) Contract() broker.Contract { return b.contract }
func (b *BarList) KeepUpToDate() bool        { return b.keepUpToDate }

func (b *BarList) Append(v any) {
	bar, ok := v.(broker.Bar)
	if !ok {
		return
	}
	b.mu.Lock()
	b.bars = append(b.bars, bar)
	b.mu.Unlock()
}

// UpdateLast replaces the trailing bar in place, or appends when the update
// opens a new bar. Returns true when a new bar was opened.
func (b *BarList) UpdateLast(bar broker.Bar) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n := len(b.bars); n > 0 && b.bars[n-1].Time.Equal(bar.Time) {
		b.bars[n-1] = bar
		return false
	}
	b.bars = append(b.bars, bar)
	return true
}

func (b *BarList) Clear() {
	b.mu.Lock()
	b.bars = nil
	b.mu.Unlock()
}

// Bars returns a copy of the series.
func (b *BarList) Bars() []broker.Bar {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]broker.Bar(nil), b.bars...)
}

func (b *BarList) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.bars)
}

// ScanList is a scanner result container.
type ScanList struct {
	reqID int64

	mu   sync.Mutex
	rows []broker.ScanData
}

func NewScanList(reqID int64) *ScanList {
	return &ScanList{reqID: reqID}
}

func (s *ScanList) ReqID() int64 { return s.reqID }

func (s *ScanList) Append(v any) {
	row, ok := v.(broker.ScanData)
	if !ok {
		return
	}
	s.mu.Lock()
	s.rows = append(s.rows, row)
	s.mu.Unlock()
}

func (s *ScanList) Clear() {
	s.mu.Lock()
	s.rows = nil
	s.mu.Unlock()
}

// Rows returns a copy of the current result set.
func (s *ScanList) Rows() []broker.ScanData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]broker.ScanData(nil), s.rows...)
}
