// Package metrics computes performance statistics from an equity curve and
// closed trades: return/risk ratios, drawdown, trade-level stats, and a
// monthly returns table. Every function is stateless over plain slices so
// it can be exercised independently of the event engine.
package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
)

const (
	tradingDaysPerYear = 252
	defaultRiskFreeRate = 0.02
)

// Drawdown describes the worst peak-to-trough decline in an equity curve.
type Drawdown struct {
	MaxDrawdown  float64 // positive fraction, e.g. 0.23 for a 23% decline
	StartDate    time.Time
	EndDate      time.Time
	RecoveryDate *time.Time // nil if equity never recovered to the prior peak
}

// TradeStats summarizes closed-trade performance independent of the equity
// curve: win rate, profit factor, average win/loss, and R-multiple.
type TradeStats struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	ProfitFactor   float64
	AvgWin         float64
	AvgLoss        float64 // negative
	LargestWin     float64
	LargestLoss    float64 // negative
	WinLossRatio   float64
	AvgRMultiple   float64
	Expectancy     float64
}

// MonthKey identifies a calendar year/month pair.
type MonthKey struct {
	Year  int
	Month time.Month
}

// Report is the full set of metrics derived from one equity curve + its
// trades.
type Report struct {
	TotalReturn        float64
	AnnualReturn       float64 // [EXPANSION] simple, non-compounding return
	CAGR               float64
	Volatility         float64
	DownsideVolatility float64
	Sharpe             float64
	Sortino            float64
	Drawdown           Drawdown
	Calmar             float64
	Trades             TradeStats
	TailRatio          float64
	KRatio             float64
	MonthlyReturns     map[MonthKey]float64
}

// DailyReturns converts an equity curve into close-to-close returns. The
// first point has no prior equity and is skipped.
func DailyReturns(equity []barmodel.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev == 0 {
			rets = append(rets, 0)
			continue
		}
		rets = append(rets, equity[i].Equity/prev-1)
	}
	return rets
}

// Compute derives the full Report from an equity curve and its trades.
// riskFreeRate is the annual risk-free rate used by Sharpe/Sortino; pass 0
// to disable the adjustment, or use DefaultRiskFreeRate.
func Compute(equity []barmodel.EquityPoint, trades []barmodel.Trade, riskFreeRate float64) Report {
	var report Report
	if len(equity) == 0 {
		return report
	}

	first := equity[0].Equity
	last := equity[len(equity)-1].Equity
	n := len(equity)

	if first != 0 {
		report.TotalReturn = last/first - 1
	}
	if n > 1 {
		report.AnnualReturn = report.TotalReturn * tradingDaysPerYear / float64(n-1)
		if 1+report.TotalReturn > 0 {
			report.CAGR = math.Pow(1+report.TotalReturn, tradingDaysPerYear/float64(n-1)) - 1
		}
	}

	rets := DailyReturns(equity)
	report.Volatility = stdev(rets) * math.Sqrt(tradingDaysPerYear)
	report.DownsideVolatility = downsideVolatility(rets)
	report.Sharpe = sharpe(rets, riskFreeRate)
	report.Sortino = sortino(rets, riskFreeRate)

	report.Drawdown = computeDrawdown(equity)
	report.Calmar = calmar(report.CAGR, report.Drawdown.MaxDrawdown)

	report.Trades = computeTradeStats(trades)
	report.TailRatio = tailRatio(rets)
	report.KRatio = kRatio(rets)
	report.MonthlyReturns = monthlyReturns(equity)

	return report
}

// DefaultRiskFreeRate is the annual risk-free rate assumed when the caller
// doesn't override it.
const DefaultRiskFreeRate = defaultRiskFreeRate

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := meanOf(xs)
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// downsideVolatility is the stdev-like measure over returns below the
// sample mean, per spec distinct from Sortino's zero-anchored semivariance.
func downsideVolatility(rets []float64) float64 {
	if len(rets) == 0 {
		return 0
	}
	mean := meanOf(rets)
	var below []float64
	for _, r := range rets {
		if r < mean {
			below = append(below, r)
		}
	}
	if len(below) == 0 {
		return 0
	}
	var ss float64
	for _, r := range below {
		d := r - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(below))) * math.Sqrt(tradingDaysPerYear)
}

func sharpe(rets []float64, riskFreeRate float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	dailyRf := riskFreeRate / tradingDaysPerYear
	mean := meanOf(rets)
	sd := stdev(rets)
	if sd == 0 {
		return 0
	}
	return ((mean - dailyRf) / sd) * math.Sqrt(tradingDaysPerYear)
}

// sortino uses a zero-anchored semivariance over strictly negative excess
// returns, per spec distinct from downsideVolatility above.
func sortino(rets []float64, riskFreeRate float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	dailyRf := riskFreeRate / tradingDaysPerYear
	mean := meanOf(rets)

	var ss float64
	var count int
	for _, r := range rets {
		excess := r - dailyRf
		if excess < 0 {
			ss += excess * excess
			count++
		}
	}
	if count == 0 {
		return 0
	}
	downside := math.Sqrt(ss / float64(count))
	if downside == 0 {
		return 0
	}
	return ((mean - dailyRf) / downside) * math.Sqrt(tradingDaysPerYear)
}

func computeDrawdown(equity []barmodel.EquityPoint) Drawdown {
	var dd Drawdown
	if len(equity) == 0 {
		return dd
	}

	peak := equity[0].Equity
	peakDate := equity[0].Date
	var troughDate time.Time
	maxDD := 0.0

	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
			peakDate = p.Date
		}
		if peak <= 0 {
			continue
		}
		decline := (peak - p.Equity) / peak
		if decline > maxDD {
			maxDD = decline
			dd.StartDate = peakDate
			dd.EndDate = p.Date
			troughDate = p.Date
		}
	}
	dd.MaxDrawdown = maxDD

	if maxDD > 0 {
		recoveryTarget := peakFor(equity, dd.StartDate)
		for i, p := range equity {
			if !p.Date.After(troughDate) {
				continue
			}
			if p.Equity >= recoveryTarget {
				d := equity[i].Date
				dd.RecoveryDate = &d
				break
			}
		}
	}
	return dd
}

func peakFor(equity []barmodel.EquityPoint, date time.Time) float64 {
	for _, p := range equity {
		if p.Date.Equal(date) {
			return p.Equity
		}
	}
	return 0
}

// calmar divides CAGR by the magnitude of the max drawdown. Per spec: 0
// when both CAGR and MDD are zero; +Inf when MDD is zero but CAGR isn't.
func calmar(cagr, maxDrawdown float64) float64 {
	if maxDrawdown > 0 {
		return cagr / maxDrawdown
	}
	if cagr == 0 {
		return 0
	}
	return math.Inf(1)
}

func computeTradeStats(trades []barmodel.Trade) TradeStats {
	var stats TradeStats
	if len(trades) == 0 {
		return stats
	}

	var grossProfit, grossLoss float64
	var sumR float64
	var countR int

	for _, t := range trades {
		stats.TotalTrades++
		if t.Pnl > 0 {
			stats.WinningTrades++
			grossProfit += t.Pnl
			if t.Pnl > stats.LargestWin {
				stats.LargestWin = t.Pnl
			}
		} else if t.Pnl < 0 {
			stats.LosingTrades++
			grossLoss += -t.Pnl
			if t.Pnl < stats.LargestLoss {
				stats.LargestLoss = t.Pnl
			}
		}
		if t.RMultiple != nil {
			sumR += *t.RMultiple
			countR++
		}
	}

	stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)

	switch {
	case grossLoss > 0:
		stats.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		stats.ProfitFactor = grossProfit
	default:
		stats.ProfitFactor = 0
	}

	if stats.WinningTrades > 0 {
		stats.AvgWin = grossProfit / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AvgLoss = -grossLoss / float64(stats.LosingTrades)
	}

	switch {
	case stats.AvgLoss < 0:
		stats.WinLossRatio = stats.AvgWin / -stats.AvgLoss
	case stats.AvgWin > 0:
		stats.WinLossRatio = math.Inf(1)
	default:
		stats.WinLossRatio = 0
	}

	if countR > 0 {
		stats.AvgRMultiple = sumR / float64(countR)
	}

	stats.Expectancy = stats.WinRate*stats.AvgWin - (1-stats.WinRate)*(-stats.AvgLoss)

	return stats
}

// tailRatio is the ratio of the mean of the top 10% of daily returns to the
// absolute mean of the bottom 10%.
func tailRatio(rets []float64) float64 {
	if len(rets) < 10 {
		return 0
	}
	sorted := append([]float64(nil), rets...)
	sort.Float64s(sorted)

	n := len(sorted)
	decile := n / 10
	if decile == 0 {
		decile = 1
	}

	bottom := sorted[:decile]
	top := sorted[n-decile:]

	bottomMean := meanOf(bottom)
	topMean := meanOf(top)
	if bottomMean == 0 {
		return 0
	}
	return math.Abs(topMean / bottomMean)
}

// kRatio regresses the running sum of simple daily returns against time and scales the
// slope by its standard error and sqrt(252), matching the teacher's
// convention of bounded, zero-safe float helpers.
func kRatio(rets []float64) float64 {
	n := len(rets)
	if n < 2 {
		return 0
	}
	cum := make([]float64, n)
	var running float64
	for i, r := range rets {
		running += r
		cum[i] = running
	}

	xMean := float64(n-1) / 2
	yMean := meanOf(cum)

	var num, den float64
	for i, y := range cum {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	slope := num / den

	var ssRes float64
	for i, y := range cum {
		fitted := slope*(float64(i)-xMean) + yMean
		d := y - fitted
		ssRes += d * d
	}
	if n <= 2 {
		return 0
	}
	stdErr := math.Sqrt(ssRes / float64(n-2) / den)
	if stdErr == 0 {
		return 0
	}
	return (slope / stdErr) * math.Sqrt(tradingDaysPerYear)
}

// monthlyReturns pivots the equity curve into end-of-month returns. Each
// period's return is referenced against the previous period's end-equity,
// with the first period referenced against the opening equity.
func monthlyReturns(equity []barmodel.EquityPoint) map[MonthKey]float64 {
	if len(equity) == 0 {
		return nil
	}
	result := make(map[MonthKey]float64)

	prevEquity := equity[0].Equity
	var currentKey MonthKey
	var currentEquity float64
	hasCurrent := false

	flush := func() {
		if hasCurrent && prevEquity != 0 {
			result[currentKey] = currentEquity/prevEquity - 1
			prevEquity = currentEquity
		}
	}

	for _, p := range equity {
		key := MonthKey{Year: p.Date.Year(), Month: p.Date.Month()}
		if hasCurrent && key != currentKey {
			flush()
		}
		currentKey = key
		currentEquity = p.Equity
		hasCurrent = true
	}
	flush()

	return result
}
