// Package strategy implements the ChannelHF mean-reversion channel
// strategy: a per-symbol state machine that fits a regression midline over
// a rolling window, anchors lower/upper bands at the window's pivot low,
// and runs a filter pipeline before emitting BUY/SELL orders.
//
// A ChannelHF instance is constructed once per run with the full bar
// history for its symbol universe and an optional benchmark series; it
// implements engine.Strategy and is driven single-threaded by the event
// engine, never concurrently.
package strategy

import (
	"math"
	"sort"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/engine"
	"github.com/chquant/channelhf/internal/indicators"
	"github.com/chquant/channelhf/internal/portfolio"
	"github.com/rs/zerolog"
)

// Exit/entry reasons recorded on orders and trades.
const (
	ReasonIndexBear     = "IndexBear"
	ReasonStopLossPanic = "StopLossPanic"
	ReasonStopLoss      = "StopLoss"
	ReasonTimeExit      = "TimeExit"
	ReasonSellTarget    = "SellTarget"
	ReasonChannelBreak  = "ChannelBreak"
	ReasonChannelEntry  = "ChannelEntry"
)

// TraceStep is one evaluated rule in the entry or exit pipeline, captured
// when CaptureLogs is on.
type TraceStep struct {
	Step      string
	Threshold float64
	Actual    float64
	Passed    bool
}

// SignalLog is one symbol-day's full trace, captured only when
// cfg.CaptureLogs is set.
type SignalLog struct {
	Symbol      string
	Date        time.Time
	Mid         float64
	Lower       float64
	Upper       float64
	SlopeNorm   float64
	VolRatio    float64
	Steps       []TraceStep
	FinalSignal int // -1 sell, 0 no-op, 1 buy
	Reason      string
}

type symbolScratch struct {
	daysHeld     int
	cooldownLeft int
}

type indexMAs struct {
	ma5, ma10, ma20, ma30 float64
	have5, have10, have20, have30 bool
	trendMA   float64
	haveTrend bool
	close     float64
}

// ChannelHF is the per-run strategy instance. It holds a read-only view of
// every symbol's bar sequence plus per-symbol scratch (days held, cooldown
// counter, signal logs) — never the broker's cash or position state, which
// it only reads through the engine.Strategy callbacks.
type ChannelHF struct {
	cfg     config.ChannelHFConfig
	lotSize int
	logger  zerolog.Logger

	bySymbol map[string][]barmodel.Bar
	state    map[string]*symbolScratch

	indexByDate map[string]indexMAs

	Logs []SignalLog
}

// New builds a ChannelHF strategy over bars (the full, flat multi-symbol
// history the engine will also replay) and an optional benchmark series
// used for index-regime filters and exits. lotSize comes from the run's
// BrokerConfig; order sizing rounds quantities down to it, and the broker
// fills whatever quantity the order carries.
func New(cfg config.ChannelHFConfig, lotSize int, bars []barmodel.Bar, indexBars []barmodel.Bar, logger zerolog.Logger) *ChannelHF {
	if lotSize <= 0 {
		lotSize = 1
	}
	c := &ChannelHF{
		cfg:         cfg,
		lotSize:     lotSize,
		logger:      logger,
		bySymbol:    make(map[string][]barmodel.Bar),
		state:       make(map[string]*symbolScratch),
		indexByDate: make(map[string]indexMAs),
	}
	for _, b := range bars {
		c.bySymbol[b.Symbol] = append(c.bySymbol[b.Symbol], b)
	}
	for sym, series := range c.bySymbol {
		sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })
		for i := range series {
			series[i].Index = i
		}
		c.bySymbol[sym] = series
	}
	c.precomputeIndex(indexBars)
	return c
}

func (c *ChannelHF) precomputeIndex(indexBars []barmodel.Bar) {
	if len(indexBars) == 0 {
		return
	}
	sorted := append([]barmodel.Bar(nil), indexBars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	closes := make([]float64, len(sorted))
	for i, b := range sorted {
		closes[i] = b.Close
	}
	for i, b := range sorted {
		var m indexMAs
		m.close = b.Close
		if v, err := indicators.SMA(closes, c.cfg.IndexMA5, i); err == nil {
			m.ma5, m.have5 = v, true
		}
		if v, err := indicators.SMA(closes, c.cfg.IndexMA10, i); err == nil {
			m.ma10, m.have10 = v, true
		}
		if v, err := indicators.SMA(closes, c.cfg.IndexMA20, i); err == nil {
			m.ma20, m.have20 = v, true
		}
		if v, err := indicators.SMA(closes, c.cfg.IndexMA30, i); err == nil {
			m.ma30, m.have30 = v, true
		}
		if c.cfg.IndexTrendMAPeriod > 0 {
			if v, err := indicators.SMA(closes, c.cfg.IndexTrendMAPeriod, i); err == nil {
				m.trendMA, m.haveTrend = v, true
			}
		}
		c.indexByDate[dateKey(b.Date)] = m
	}
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

func (c *ChannelHF) scratch(symbol string) *symbolScratch {
	s, ok := c.state[symbol]
	if !ok {
		s = &symbolScratch{}
		c.state[symbol] = s
	}
	return s
}

// OnOpen advances holding-day and cooldown counters. Days held increments
// for every currently open position regardless of whether that symbol
// trades today; cooldown only decrements for symbols present in frame.
func (c *ChannelHF) OnOpen(dayIndex int, frame engine.MarketFrame, broker *portfolio.Broker) {
	for sym := range broker.Positions {
		c.scratch(sym).daysHeld++
	}
	for sym := range frame {
		st := c.scratch(sym)
		if st.cooldownLeft > 0 {
			st.cooldownLeft--
		}
	}
}

// OnClose runs the channel derivation and filter pipeline for every symbol
// present in today's frame and returns the orders to schedule for the next
// trading date.
func (c *ChannelHF) OnClose(dayIndex int, frame engine.MarketFrame, broker *portfolio.Broker) []barmodel.Order {
	symbols := make([]string, 0, len(frame))
	for sym := range frame {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	closes := make(map[string]float64, len(frame))
	for sym, b := range frame {
		closes[sym] = b.Close
	}
	equity := broker.MarkToMarket(closes)

	var orders []barmodel.Order
	for _, sym := range symbols {
		bar := frame[sym]
		series := c.bySymbol[sym]
		i := bar.Index
		P := c.cfg.ChannelPeriod
		if i+1 < P {
			continue
		}
		winStart := i - P + 1
		window := series[winStart : i+1]

		channel, pivotAbs := c.findChannel(window, winStart)

		log := SignalLog{Symbol: sym, Date: bar.Date, Mid: channel.Mid, Lower: channel.Lower, Upper: channel.Upper, SlopeNorm: channel.SlopeNorm, VolRatio: channel.VolRatio}

		pos, hasPosition := broker.Positions[sym]
		if hasPosition {
			if ord, reason := c.evaluateExit(sym, bar, channel, pos, &log); ord != nil {
				log.FinalSignal = -1
				log.Reason = reason
				orders = append(orders, *ord)
			}
		} else {
			if ord := c.evaluateEntry(sym, bar, channel, pivotAbs, i, equity, broker, &log); ord != nil {
				log.FinalSignal = 1
				log.Reason = ReasonChannelEntry
				orders = append(orders, *ord)
			}
		}

		if c.cfg.CaptureLogs {
			c.Logs = append(c.Logs, log)
		}
	}
	return orders
}

func (c *ChannelHF) findChannel(window []barmodel.Bar, winStart int) (indicators.Channel, int) {
	closes := make([]float64, len(window))
	highs := make([]float64, len(window))
	lows := make([]float64, len(window))
	vols := make([]float64, len(window))
	for i, b := range window {
		closes[i], highs[i], lows[i], vols[i] = b.Close, b.High, b.Low, b.Volume
	}
	channel := indicators.FindChannelWithPivot(closes, highs, lows, vols, c.cfg.PivotK, c.cfg.PivotDropMin, c.cfg.PivotReboundDays)
	return channel, winStart + channel.PivotIndex
}

func (c *ChannelHF) step(log *SignalLog, name string, threshold, actual float64, passed bool) bool {
	if c.cfg.CaptureLogs {
		log.Steps = append(log.Steps, TraceStep{Step: name, Threshold: threshold, Actual: actual, Passed: passed})
	}
	return passed
}

// evaluateEntry runs the full filter pipeline; each rule short-circuits
// the rest and is recorded as a trace step when capture is on.
func (c *ChannelHF) evaluateEntry(sym string, bar barmodel.Bar, channel indicators.Channel, pivotAbs, i int, equity float64, broker *portfolio.Broker, log *SignalLog) *barmodel.Order {
	cfg := c.cfg
	st := c.scratch(sym)

	if !c.step(log, "max_positions", float64(cfg.MaxPositions), float64(len(broker.Positions)), len(broker.Positions) < cfg.MaxPositions) {
		return nil
	}
	if !c.step(log, "cooldown", 0, float64(st.cooldownLeft), st.cooldownLeft == 0) {
		return nil
	}
	if cfg.RequireRebound {
		if !c.step(log, "rebound", channel.Lower, bar.Close, bar.Close >= channel.Lower) {
			return nil
		}
	}
	if cfg.RequireGreenCandle {
		if !c.step(log, "green_candle", bar.Open, bar.Close, bar.Close > bar.Open) {
			return nil
		}
	}
	if cfg.VolatilityRatioMax < 1 {
		series := c.bySymbol[sym]
		closes := closesUpTo(series, i)
		_, _, ratio, err := indicators.VolatilityRatio(closes, cfg.ShortVolPeriod, cfg.LongVolPeriod)
		if err == nil {
			if !c.step(log, "volatility_ratio", cfg.VolatilityRatioMax, ratio, ratio <= cfg.VolatilityRatioMax) {
				return nil
			}
		}
		// Insufficient history: rule passes rather than rejects.
	}
	if cfg.TrendMAPeriod > 0 {
		series := c.bySymbol[sym]
		closes := closesUpTo(series, i)
		sma, err := indicators.SMA(closes, cfg.TrendMAPeriod, -1)
		if err != nil {
			c.step(log, "trend_ma", 0, 0, false)
			return nil
		}
		if !c.step(log, "trend_ma", sma, bar.Close, bar.Close >= sma) {
			return nil
		}
	}
	if cfg.MinSlopeNorm > -1 {
		if !c.step(log, "min_slope_norm", cfg.MinSlopeNorm, channel.SlopeNorm, channel.SlopeNorm >= cfg.MinSlopeNorm) {
			return nil
		}
	}
	if !c.step(log, "slope_abs_max", cfg.SlopeAbsMax, math.Abs(channel.SlopeNorm), math.Abs(channel.SlopeNorm) <= cfg.SlopeAbsMax) {
		return nil
	}
	var channelHeight, midRoom float64
	if channel.Mid != 0 {
		channelHeight = (channel.Upper - channel.Lower) / channel.Mid
		midRoom = (channel.Mid - channel.Lower) / channel.Mid
	}
	if !c.step(log, "min_channel_height", cfg.MinChannelHeight, channelHeight, channelHeight >= cfg.MinChannelHeight) {
		return nil
	}
	if !c.step(log, "min_mid_room", cfg.MinMidRoom, midRoom, midRoom >= cfg.MinMidRoom) {
		return nil
	}
	if !c.volumeContractionPasses(channel.VolRatio, log) {
		return nil
	}
	touchThreshold := channel.Lower * (1 + cfg.BuyTouchEps)
	if !c.step(log, "touch", touchThreshold, bar.Low, bar.Low <= touchThreshold) {
		return nil
	}
	if !c.indexRegimePasses(bar.Date, log) {
		return nil
	}
	if cfg.PivotConfirmDays > 0 {
		if !c.pivotConfirmationPasses(sym, channel, pivotAbs, i, log) {
			return nil
		}
	}

	entryPx := bar.Close * (1 + cfg.EntryFillEps)
	targetPx := sellTarget(cfg, channel)
	var profitPct float64
	if entryPx != 0 {
		profitPct = targetPx/entryPx - 1
	}
	if !c.step(log, "min_mid_profit_pct", cfg.MinMidProfitPct, profitPct, profitPct >= cfg.MinMidProfitPct) {
		return nil
	}

	initialStop := entryPx * cfg.StopLossMul
	risk := entryPx - initialStop
	reward := targetPx - entryPx
	var rr float64
	if risk > 0 {
		rr = reward / risk
	}
	if !c.step(log, "min_rr_to_mid", cfg.MinRRToMid, rr, risk > 0 && rr >= cfg.MinRRToMid) {
		return nil
	}

	targetNotional := equity * cfg.MaxPositionPct
	qty := math.Floor(targetNotional/entryPx/float64(c.lotSize)) * float64(c.lotSize)
	if qty <= 0 {
		c.step(log, "lot_size_rounds_to_zero", 0, qty, false)
		return nil
	}

	order := &barmodel.Order{
		Symbol:      sym,
		Qty:         qty,
		Side:        barmodel.Buy,
		Reason:      ReasonChannelEntry,
		InitialStop: initialStop,
	}
	if cfg.FillAtClose {
		order.LimitPrice = entryPx
	}
	return order
}

func (c *ChannelHF) volumeContractionPasses(volRatio float64, log *SignalLog) bool {
	cfg := c.cfg
	if cfg.VolShrinkMin != nil && cfg.VolShrinkMax != nil {
		pass := volRatio >= *cfg.VolShrinkMin && volRatio <= *cfg.VolShrinkMax
		return c.step(log, "vol_shrink_band", *cfg.VolShrinkMax, volRatio, pass)
	}
	if cfg.VolShrinkThreshold > 0 {
		if cfg.VolShrinkThreshold >= 1 {
			return c.step(log, "vol_shrink_threshold", cfg.VolShrinkThreshold, volRatio, volRatio >= cfg.VolShrinkThreshold)
		}
		return c.step(log, "vol_shrink_threshold", cfg.VolShrinkThreshold, volRatio, volRatio <= cfg.VolShrinkThreshold)
	}
	return true
}

func (c *ChannelHF) indexRegimePasses(date time.Time, log *SignalLog) bool {
	cfg := c.cfg
	m, have := c.indexByDate[dateKey(date)]
	if !have {
		return true
	}
	if cfg.RequireIndexCondition {
		bear := m.have5 && m.have10 && m.have20 && m.have30 && m.ma30 > m.ma20 && m.ma20 > m.ma10 && m.ma10 > m.ma5
		if !c.step(log, "index_regime_not_bear", 0, boolToFloat(bear), !bear) {
			return false
		}
	}
	if cfg.IndexTrendMAPeriod > 0 && m.haveTrend {
		if !c.step(log, "index_trend_ma", m.trendMA, m.close, m.close >= m.trendMA) {
			return false
		}
	}
	return true
}

func (c *ChannelHF) pivotConfirmationPasses(sym string, channel indicators.Channel, pivotAbs, i int, log *SignalLog) bool {
	cfg := c.cfg
	if cfg.PivotConfirmRequiresSig {
		if !c.step(log, "pivot_significant", 1, boolToFloat(channel.Significant), channel.Significant) {
			return false
		}
	}
	if !c.step(log, "pivot_confirm_days", float64(cfg.PivotConfirmDays-1), float64(i-pivotAbs), float64(i-pivotAbs) >= float64(cfg.PivotConfirmDays-1)) {
		return false
	}
	series := c.bySymbol[sym]
	confirmStart := i - cfg.PivotConfirmDays + 1
	if confirmStart < 0 {
		confirmStart = 0
	}
	confirmWindow := series[confirmStart : i+1]
	minLow := math.Inf(1)
	maxHigh := math.Inf(-1)
	for _, b := range confirmWindow {
		if b.Low < minLow {
			minLow = b.Low
		}
		if b.High > maxHigh {
			maxHigh = b.High
		}
	}
	pivotLow := channel.Lower // placeholder overwritten below
	if pivotAbs >= 0 && pivotAbs < len(series) {
		pivotLow = series[pivotAbs].Low
	}
	noNewLowFloor := pivotLow * (1 - cfg.PivotNoNewLowTol)
	if !c.step(log, "pivot_no_new_low", noNewLowFloor, minLow, minLow >= noNewLowFloor) {
		return false
	}
	var reboundAmp float64
	if pivotLow != 0 {
		reboundAmp = maxHigh/pivotLow - 1
	}
	if !c.step(log, "pivot_rebound_amplitude", cfg.PivotReboundAmp, reboundAmp, reboundAmp >= cfg.PivotReboundAmp) {
		return false
	}
	return true
}

// evaluateExit checks the exit precedence chain; the first satisfied rule
// wins and produces a full-size SELL order.
func (c *ChannelHF) evaluateExit(sym string, bar barmodel.Bar, channel indicators.Channel, pos *barmodel.PositionState, log *SignalLog) (*barmodel.Order, string) {
	cfg := c.cfg
	st := c.scratch(sym)

	if cfg.IndexBearExit {
		if m, have := c.indexByDate[dateKey(bar.Date)]; have {
			bear := m.have5 && m.have10 && m.have20 && m.have30 && m.ma30 > m.ma20 && m.ma20 > m.ma10 && m.ma10 > m.ma5
			if c.step(log, "index_bear_exit", 1, boolToFloat(bear), bear) {
				return c.exitOrder(sym, pos, st, cfg, ReasonIndexBear), ReasonIndexBear
			}
		}
	}

	if pos.InitialStop > 0 {
		if cfg.StopLossPanicEps > 0 {
			panicLevel := pos.InitialStop * (1 - cfg.StopLossPanicEps)
			if c.step(log, "stop_loss_panic", panicLevel, bar.Low, bar.Low <= panicLevel) {
				return c.exitOrder(sym, pos, st, cfg, ReasonStopLossPanic), ReasonStopLossPanic
			}
		}
		if cfg.StopLossOnClose {
			if c.step(log, "stop_loss_on_close", pos.InitialStop, bar.Close, bar.Close <= pos.InitialStop) {
				return c.exitOrder(sym, pos, st, cfg, ReasonStopLoss), ReasonStopLoss
			}
		} else {
			if c.step(log, "stop_loss_intraday", pos.InitialStop, bar.Low, bar.Low <= pos.InitialStop) {
				return c.exitOrder(sym, pos, st, cfg, ReasonStopLoss), ReasonStopLoss
			}
		}
	}

	if c.step(log, "max_holding_days", float64(cfg.MaxHoldingDays), float64(st.daysHeld), st.daysHeld >= cfg.MaxHoldingDays) {
		return c.exitOrder(sym, pos, st, cfg, ReasonTimeExit), ReasonTimeExit
	}

	targetPx := sellTarget(cfg, channel)
	if c.step(log, "sell_target", targetPx, bar.High, bar.High >= targetPx) {
		return c.exitOrder(sym, pos, st, cfg, ReasonSellTarget), ReasonSellTarget
	}

	breakLevel := channel.Lower * (1 - cfg.ChannelBreakEps)
	if c.step(log, "channel_break", breakLevel, bar.Close, bar.Close < breakLevel) {
		return c.exitOrder(sym, pos, st, cfg, ReasonChannelBreak), ReasonChannelBreak
	}

	return nil, ""
}

func (c *ChannelHF) exitOrder(sym string, pos *barmodel.PositionState, st *symbolScratch, cfg config.ChannelHFConfig, reason string) *barmodel.Order {
	st.daysHeld = 0
	st.cooldownLeft = cfg.CoolingPeriod
	return &barmodel.Order{
		Symbol: sym,
		Qty:    pos.Qty,
		Side:   barmodel.Sell,
		Reason: reason,
	}
}

func sellTarget(cfg config.ChannelHFConfig, channel indicators.Channel) float64 {
	switch cfg.SellTargetMode {
	case config.SellTargetUpperDown:
		return channel.Upper * (1 - cfg.SellTriggerEps)
	case config.SellTargetMidDown:
		return channel.Mid * (1 - cfg.SellTriggerEps)
	default: // SellTargetMidUp
		return channel.Mid * (1 + cfg.SellTriggerEps)
	}
}

func closesUpTo(series []barmodel.Bar, i int) []float64 {
	closes := make([]float64, i+1)
	for j := 0; j <= i; j++ {
		closes[j] = series[j].Close
	}
	return closes
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
