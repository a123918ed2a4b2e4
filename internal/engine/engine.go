// Package engine drives the day-by-day simulation loop: at each trading
// date it fills pending orders at the open, lets the strategy observe the
// open, marks the portfolio to market at the close, and lets the strategy
// emit orders for the following day.
package engine

import (
	"sort"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/obsmetrics"
	"github.com/chquant/channelhf/internal/portfolio"
	"github.com/chquant/channelhf/internal/risk"
	"github.com/rs/zerolog"
)

const (
	minTradingDays = 20
	maxDateGapDays = 15
)

// MarketFrame maps symbol to that day's bar.
type MarketFrame map[string]barmodel.Bar

// Strategy is the callback interface the event engine drives. OnOpen
// observes the frame after orders have filled; OnClose returns new orders
// to be scheduled for the next trading date.
type Strategy interface {
	OnOpen(dayIndex int, frame MarketFrame, broker *portfolio.Broker)
	OnClose(dayIndex int, frame MarketFrame, broker *portfolio.Broker) []barmodel.Order
}

// RunInput bundles everything one simulation needs.
type RunInput struct {
	Bars      []barmodel.Bar // flat, across every symbol
	Benchmark []barmodel.Bar // optional
	Strategy  Strategy
	Event     config.EventConfig
	StartDate *time.Time

	// Risk, when set, gates every BUY order the strategy emits on top of
	// the strategy's own entry pipeline; rejections never reach the
	// broker and are counted in RunResult.RiskRejections. SELL orders
	// always pass through untouched.
	Risk *risk.Manager

	// Metrics, when set, receives fill/rejection/run counters for the
	// process-local Prometheus registry. Nil is safe: every call site
	// guards on it before touching a collector.
	Metrics *obsmetrics.Registry
}

// RunResult is everything observers (metrics, scanner, NDJSON sinks) need.
type RunResult struct {
	Equity          []barmodel.EquityPoint
	BenchmarkEquity []barmodel.EquityPoint
	Utilization     []float64
	Trades          []barmodel.Trade
	Anomalies       []string
	Broker          *portfolio.Broker
	RiskRejections  []risk.RejectionReason
}

// Run executes the full simulation and returns the equity curve, closed
// trades, and any data-quality anomalies observed along the way.
func Run(input RunInput) RunResult {
	bySymbol, dates := indexBySymbolAndDate(input.Bars)
	anomalies := validateInputs(bySymbol)

	broker := portfolio.New(input.Event.InitialCash, input.Event.Broker)
	pending := make(map[string][]barmodel.Order) // keyed by date key

	benchBySymbolDate := indexByDate(input.Benchmark)
	var benchFirstClose float64
	benchStarted := false

	result := RunResult{Broker: broker}

	if input.Metrics != nil {
		input.Metrics.RunsTotal.Inc()
	}

	start := 0
	if input.StartDate != nil {
		for i, d := range dates {
			if !d.Before(*input.StartDate) {
				start = i
				break
			}
		}
	}

	for i := start; i < len(dates); i++ {
		date := dates[i]
		key := dateKey(date)
		frame := buildFrame(bySymbol, date)

		// Benchmark equity, carried forward when no bar exists for the date.
		if bb, ok := benchBySymbolDate[key]; ok {
			if !benchStarted {
				benchFirstClose = bb.Close
				benchStarted = true
			}
			eq := input.Event.InitialCash
			if benchFirstClose > 0 {
				eq = input.Event.InitialCash * bb.Close / benchFirstClose
			}
			result.BenchmarkEquity = append(result.BenchmarkEquity, barmodel.EquityPoint{Date: date, Equity: eq})
		} else if len(result.BenchmarkEquity) > 0 {
			prev := result.BenchmarkEquity[len(result.BenchmarkEquity)-1]
			result.BenchmarkEquity = append(result.BenchmarkEquity, barmodel.EquityPoint{Date: date, Equity: prev.Equity})
		} else if len(input.Benchmark) == 0 {
			// no benchmark at all: the curve stays flat at InitialCash.
			result.BenchmarkEquity = append(result.BenchmarkEquity, barmodel.EquityPoint{Date: date, Equity: input.Event.InitialCash})
		}

		// 1. execute pending orders scheduled for this date.
		for _, ord := range pending[key] {
			b, ok := frame[ord.Symbol]
			if !ok {
				continue // dropped silently, no retry
			}
			_, filled := broker.ExecuteOrderOpen(ord, b, b.Index)
			if input.Metrics != nil {
				if filled {
					input.Metrics.FillsTotal.WithLabelValues(string(ord.Side)).Inc()
				} else {
					input.Metrics.OrdersRejected.Inc()
				}
			}
		}
		delete(pending, key)

		// 2. strategy observes the open.
		if input.Strategy != nil {
			input.Strategy.OnOpen(i, frame, broker)
		}

		// 3. mark to market at the close.
		closes := make(map[string]float64, len(frame))
		for sym, b := range frame {
			closes[sym] = b.Close
		}
		equity := broker.MarkToMarket(closes)
		var ret float64
		if len(result.Equity) > 0 {
			prevEq := result.Equity[len(result.Equity)-1].Equity
			if prevEq != 0 {
				ret = equity/prevEq - 1
			}
		}
		result.Equity = append(result.Equity, barmodel.EquityPoint{Date: date, Equity: equity, Returns: ret})

		if equity != 0 {
			result.Utilization = append(result.Utilization, broker.Exposure(closes)/equity)
		} else {
			result.Utilization = append(result.Utilization, 0)
		}

		// 4. strategy emits orders for the next date; orders emitted on the
		// final date have no date to execute on and are discarded.
		if input.Strategy != nil {
			orders := input.Strategy.OnClose(i, frame, broker)
			if i+1 >= len(dates) {
				orders = nil
			}
			if input.Risk != nil {
				input.Risk.UpdateCapital(equity)
				dailyPnL := risk.DailyPnL{Date: date, RealizedPnL: realizedPnLOnDate(broker.Trades, date)}
				var approved []barmodel.Order
				for _, ord := range orders {
					v := input.Risk.Validate(ord, broker.Positions, dailyPnL, broker.Cash)
					if v.Approved {
						approved = append(approved, ord)
						continue
					}
					result.RiskRejections = append(result.RiskRejections, v.Rejections...)
					if input.Metrics != nil {
						for _, rej := range v.Rejections {
							input.Metrics.RejectionsTotal.WithLabelValues(rej.Rule).Inc()
						}
					}
				}
				orders = approved
			}
			for _, ord := range orders {
				if ord.Qty <= 0 {
					continue
				}
				ord.Dt = dates[i+1]
				nextKey := dateKey(ord.Dt)
				pending[nextKey] = append(pending[nextKey], ord)
			}
		}
	}

	result.Trades = broker.Trades
	result.Anomalies = anomalies
	return result
}

func indexBySymbolAndDate(bars []barmodel.Bar) (map[string][]barmodel.Bar, []time.Time) {
	bySymbol := make(map[string][]barmodel.Bar)
	dateSet := make(map[string]time.Time)
	for _, b := range bars {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], b)
		dateSet[dateKey(b.Date)] = b.Date
	}
	dates := make([]time.Time, 0, len(dateSet))
	for _, d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return bySymbol, dates
}

func indexByDate(bars []barmodel.Bar) map[string]barmodel.Bar {
	m := make(map[string]barmodel.Bar, len(bars))
	for _, b := range bars {
		m[dateKey(b.Date)] = b
	}
	return m
}

func buildFrame(bySymbol map[string][]barmodel.Bar, date time.Time) MarketFrame {
	frame := make(MarketFrame)
	key := dateKey(date)
	for sym, bars := range bySymbol {
		for _, b := range bars {
			if dateKey(b.Date) == key {
				if existing, ok := frame[sym]; !ok || b.Index > existing.Index {
					frame[sym] = b
				}
			}
		}
	}
	return frame
}

func dateKey(t time.Time) string { return t.Format("2006-01-02") }

func realizedPnLOnDate(trades []barmodel.Trade, date time.Time) float64 {
	var total float64
	key := dateKey(date)
	for _, tr := range trades {
		if dateKey(tr.ExitDt) == key {
			total += tr.Pnl
		}
	}
	return total
}

func validateInputs(bySymbol map[string][]barmodel.Bar) []string {
	var anomalies []string
	for sym, bars := range bySymbol {
		if len(bars) < minTradingDays {
			anomalies = append(anomalies, sym+": insufficient_rows")
		}
		sorted := append([]barmodel.Bar(nil), bars...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
		for i := 1; i < len(sorted); i++ {
			gapDays := int(sorted[i].Date.Sub(sorted[i-1].Date).Hours() / 24)
			if gapDays > maxDateGapDays {
				anomalies = append(anomalies, sym+": long_halt")
			}
			if sorted[i-1].Close > 0 {
				gapPct := sorted[i].Open/sorted[i-1].Close - 1
				if gapPct > 0.2 || gapPct < -0.2 {
					anomalies = append(anomalies, sym+": abnormal_gap")
				}
			}
		}
	}
	return anomalies
}

// NewLogger is a small convenience so callers don't need to import zerolog
// directly just to pass a no-op logger into loader options.
func NewLogger() zerolog.Logger { return zerolog.Nop() }
