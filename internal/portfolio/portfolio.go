// Package portfolio implements the cash-and-positions broker the event
// engine drives on every trading day: it executes orders at the next open
// with slippage, commission and stamp duty, tracks per-symbol position
// cohorts, and emits Fills and closed Trades.
//
// A Broker instance is owned by exactly one simulation run; unlike the
// live order-routing broker this lineage also ships, it holds no network
// state and needs no mutex — the event engine drives it single-threaded.
package portfolio

import (
	"math"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
)

// Broker is the portfolio-level simulated broker: cash plus a map of open
// positions, shared across every symbol in a run.
type Broker struct {
	cfg       config.BrokerConfig
	Cash      float64
	Positions map[string]*barmodel.PositionState
	Fills     []barmodel.Fill
	Trades    []barmodel.Trade
	TradeCount int
}

// New creates a Broker seeded with initialCash.
func New(initialCash float64, cfg config.BrokerConfig) *Broker {
	return &Broker{
		cfg:       cfg,
		Cash:      initialCash,
		Positions: make(map[string]*barmodel.PositionState),
	}
}

// ExecuteOrderOpen attempts to fill order against bar at dayIndex (the
// bar's position in its symbol's series, used for holding-day math). It
// returns the Fill and true on success; a rejected order (bad symbol,
// non-positive qty, unaffordable buy, infeasible limit, or qty rounding
// to zero) returns ok=false with no side effects.
func (b *Broker) ExecuteOrderOpen(order barmodel.Order, bar barmodel.Bar, dayIndex int) (barmodel.Fill, bool) {
	if order.Symbol != bar.Symbol || order.Qty <= 0 {
		return barmodel.Fill{}, false
	}

	px, ok := resolveExecutionPrice(order, bar)
	if !ok {
		return barmodel.Fill{}, false
	}
	px = applySlippage(px, order, b.cfg.SlippageRate)

	qty := order.Qty
	if order.IsSell() {
		pos, exists := b.Positions[order.Symbol]
		if !exists {
			return barmodel.Fill{}, false
		}
		if qty > pos.Qty {
			qty = pos.Qty
		}
	}
	if qty <= 0 {
		return barmodel.Fill{}, false
	}

	notional := qty * px
	commission := 0.0
	if notional > 0 {
		commission = math.Max(b.cfg.MinCommission, notional*b.cfg.CommissionRate)
	}
	stampDuty := 0.0
	if order.IsSell() {
		stampDuty = notional * b.cfg.StampDutyRate
	}
	fee := commission + stampDuty

	if order.IsBuy() {
		totalCost := notional + fee
		if totalCost > b.Cash {
			return barmodel.Fill{}, false
		}
		b.Cash -= totalCost
		b.openOrAddPosition(order, bar, px, qty, fee, dayIndex)
	} else {
		b.Cash += notional - fee
		b.closePosition(order, bar, px, qty, fee, dayIndex)
	}

	fill := barmodel.Fill{Symbol: order.Symbol, Side: order.Side, Qty: qty, Price: px, Fee: fee, Dt: bar.Date}
	b.Fills = append(b.Fills, fill)
	b.TradeCount++
	return fill, true
}

func resolveExecutionPrice(order barmodel.Order, bar barmodel.Bar) (float64, bool) {
	if order.OpenPrice > 0 {
		return order.OpenPrice, true
	}
	if order.LimitPrice > 0 {
		if order.IsBuy() {
			if bar.Low > order.LimitPrice {
				return 0, false
			}
			return math.Min(bar.Open, order.LimitPrice), true
		}
		if bar.High < order.LimitPrice {
			return 0, false
		}
		return math.Max(bar.Open, order.LimitPrice), true
	}
	return bar.Open, true
}

func applySlippage(px float64, order barmodel.Order, slippageRate float64) float64 {
	if order.IsBuy() {
		adj := px * (1 + slippageRate)
		if order.LimitPrice > 0 && adj > order.LimitPrice {
			adj = order.LimitPrice
		}
		return adj
	}
	adj := px * (1 - slippageRate)
	if order.LimitPrice > 0 && adj < order.LimitPrice {
		adj = order.LimitPrice
	}
	return adj
}

func (b *Broker) openOrAddPosition(order barmodel.Order, bar barmodel.Bar, px, qty, fee float64, dayIndex int) {
	pos, exists := b.Positions[order.Symbol]
	if !exists {
		pos = &barmodel.PositionState{Symbol: order.Symbol}
		b.Positions[order.Symbol] = pos
	}

	newQty := pos.Qty + qty
	if pos.Qty > 0 {
		pos.AvgPrice = (pos.AvgPrice*pos.Qty + px*qty) / newQty
	} else {
		pos.AvgPrice = px
	}
	pos.Qty = newQty

	pos.EntryQty += qty
	pos.EntryNotional += qty * px
	pos.EntryFee += fee
	if pos.EntryDt.IsZero() {
		pos.EntryDt = bar.Date
		pos.EntryPrice = px
		pos.EntryIndex = dayIndex
		pos.EntryReason = order.Reason
	}
	if order.InitialStop > 0 {
		pos.InitialStop = order.InitialStop
	}
	pos.HighestClose = bar.Close
}

func (b *Broker) closePosition(order barmodel.Order, bar barmodel.Bar, px, qty, fee float64, dayIndex int) {
	pos := b.Positions[order.Symbol]

	entryAvg := pos.EntryPrice
	if pos.EntryQty > 0 {
		entryAvg = pos.EntryNotional / pos.EntryQty
	}

	pnl := (px - entryAvg) * qty
	holdingDays := dayIndex - pos.EntryIndex + 1
	if holdingDays < 0 {
		holdingDays = 0
	}

	var rMultiple *float64
	if pos.InitialStop > 0 {
		risk := entryAvg - pos.InitialStop
		if risk > 0 {
			r := (px - entryAvg) / risk
			rMultiple = &r
		}
	}

	trade := barmodel.Trade{
		Symbol:              order.Symbol,
		EntryDt:             pos.EntryDt,
		ExitDt:              bar.Date,
		Qty:                 qty,
		EntryPrice:          entryAvg,
		ExitPrice:           px,
		Pnl:                 pnl,
		RMultiple:           rMultiple,
		HoldingDays:         holdingDays,
		EntryReason:         pos.EntryReason,
		ExitReason:          order.Reason,
		InitialStop:         pos.InitialStop,
		TrailingStop:        pos.TrailingStop,
		EntryIndexConfirmed: pos.EntryIndexConfirmed,
	}
	b.Trades = append(b.Trades, trade)

	pos.Qty -= qty
	if pos.Qty <= 0 {
		delete(b.Positions, order.Symbol)
	}
}

// MarkToMarket returns cash plus the market value of every open position
// priced from closeBySymbol. A position whose symbol has no close for the
// date contributes nothing — it is skipped rather than priced at its last
// known average, so a halt or data gap shows up as a drop in exposure
// instead of a price that never moves.
func (b *Broker) MarkToMarket(closeBySymbol map[string]float64) float64 {
	equity := b.Cash
	for sym, pos := range b.Positions {
		px, ok := closeBySymbol[sym]
		if !ok {
			continue
		}
		equity += pos.MarketValue(px)
	}
	return equity
}

// Exposure returns the market value of all open positions (excludes cash),
// skipping positions with no close for the date, matching MarkToMarket.
func (b *Broker) Exposure(closeBySymbol map[string]float64) float64 {
	var exposure float64
	for sym, pos := range b.Positions {
		px, ok := closeBySymbol[sym]
		if !ok {
			continue
		}
		exposure += pos.MarketValue(px)
	}
	return exposure
}
