package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"brokersync/internal/alerts"
	"brokersync/internal/broker"
	"brokersync/internal/bus"
	"brokersync/internal/recorder"
)

// consume drains the session's event channels into the recorder and the log.
// Every subscription is buffered; a slow disk drops samples instead of
// stalling the session.
func (a *App) consume(ctx context.Context) {
	b := a.sess.Bus()
	tickers, offTickers := b.Subscribe(bus.PendingTickers, 256)
	fills, offFills := b.Subscribe(bus.ExecDetails, 64)
	comms, offComms := b.Subscribe(bus.CommissionReport, 64)
	barUpdates, offBars := b.Subscribe(bus.BarUpdate, 256)
	errCh, offErr := b.Subscribe(bus.Error, 64)
	defer offTickers()
	defer offFills()
	defer offComms()
	defer offBars()
	defer offErr()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-tickers:
			a.recordTickers(data)
		case data := <-fills:
			a.recordFill(ctx, data, true)
		case data := <-comms:
			a.recordFill(ctx, data, false)
		case data := <-barUpdates:
			a.recordBar(data)
		case data := <-errCh:
			var p bus.ErrorPayload
			if err := bus.Decode(&p, data); err == nil && p.Contract != nil {
				a.log.Warn("instrument error",
					zap.String("contract", p.Contract.String()),
					zap.Int64("code", p.Code),
					zap.String("message", p.Message))
			}
		}
	}
}

func (a *App) recordTickers(data []byte) {
	var keys []uint64
	if err := bus.Decode(&keys, data); err != nil {
		return
	}
	now := time.Now().UTC()
	for _, key := range keys {
		ticker, ok := a.sess.TickerByKey(key)
		if !ok {
			continue
		}
		bid, bidSize, ask, askSize := ticker.Quote()
		last, _ := ticker.Last()
		a.rec.EnqueueQuote(recorder.QuoteSample{
			Time:    now,
			Symbol:  ticker.Contract().Symbol,
			Bid:     bid,
			BidSize: bidSize,
			Ask:     ask,
			AskSize: askSize,
			Last:    last,
		})
	}
}

// recordFill persists the fill and, on first sight, pushes a notification. A
// commission report re-records its fill so the fee lands in the same row.
func (a *App) recordFill(ctx context.Context, data []byte, firstSight bool) {
	var p bus.FillPayload
	if err := bus.Decode(&p, data); err != nil {
		return
	}
	a.rec.EnqueueFill(p.Fill)
	if !firstSight {
		return
	}
	a.log.Info("fill",
		zap.String("symbol", p.Fill.Contract.Symbol),
		zap.String("side", p.Fill.Execution.Side),
		zap.Float64("shares", p.Fill.Execution.Shares),
		zap.Float64("price", p.Fill.Execution.Price))
	if err := a.notify.Send(ctx, alerts.FillMessage(p.Fill)); err != nil {
		a.log.Warn("fill alert failed", zap.Error(err))
	}
}

func (a *App) recordBar(data []byte) {
	var p bus.BarUpdatePayload
	if err := bus.Decode(&p, data); err != nil {
		return
	}
	a.rec.EnqueueBar(recorder.BarRow{Symbol: p.Contract.Symbol, Bar: broker.Bar{
		Time:   p.Bar.Time,
		Open:   p.Bar.Open,
		High:   p.Bar.High,
		Low:    p.Bar.Low,
		Close:  p.Bar.Close,
		Volume: p.Bar.Volume,
	}})
}
