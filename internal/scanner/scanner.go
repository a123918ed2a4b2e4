// Package scanner runs the event engine for a single symbol and reduces
// the result to either a full detail report or a compact summary, and
// exposes the most-recent-signal scan used by live screening.
package scanner

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/engine"
	"github.com/chquant/channelhf/internal/metrics"
	"github.com/chquant/channelhf/internal/obsmetrics"
	"github.com/chquant/channelhf/internal/risk"
	"github.com/chquant/channelhf/internal/strategy"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// maxConcurrentSegments bounds how many robust-subperiod segments replay
// the event engine at once; each replay builds its own broker/strategy so
// there is no shared mutable state to guard beyond this weight.
const maxConcurrentSegments = 4

// Result is the full detail backtest output for one symbol.
type Result struct {
	Symbol          string
	Equity          []barmodel.EquityPoint
	BenchmarkEquity []barmodel.EquityPoint
	Trades          []barmodel.Trade
	Logs            []strategy.SignalLog
	Anomalies       []string
	Metrics         metrics.Report
	RiskRejections  []risk.RejectionReason
}

// Summary is the compact, headline-metrics view of a backtest, including
// the optional robust subperiod score.
type Summary struct {
	Symbol       string
	FinalEquity  float64
	TotalReturn  float64
	CAGR         float64
	MaxDrawdown  float64
	Sharpe       float64
	Sortino      float64
	Calmar       float64
	TailRatio    float64
	Expectancy   float64
	ProfitFactor float64
	LargestLoss  float64
	WinRate      float64
	TradeCount   int
	AnomalyCount int

	// Score is 20*Sharpe + 100*CAGR + 50*WinRate - 50*MaxDrawdown, computed
	// either directly from this run (Segments <= 1) or as ScoreMean-ScoreStd
	// across the robust subperiod split (Segments > 1).
	Score     float64
	ScoreMean *float64
	ScoreStd  *float64
}

// Options controls how much work BacktestForSymbol does beyond the headline
// summary.
type Options struct {
	Detail   bool // populate and return the full Result
	Segments int  // > 1 enables the robust subperiod score
	Logger   zerolog.Logger

	// Metrics, when set, receives fill/rejection/run counters for the
	// top-level (non-segment) replay; subperiod segments deliberately
	// don't report, since they share the same symbol/run identity and
	// would otherwise double-count.
	Metrics *obsmetrics.Registry

	// EnableRiskOverlay gates every BUY order the strategy emits through
	// internal/risk.Manager's capital/position/drawdown guardrails on top
	// of the documented ChannelHF entry pipeline. Off by default: the
	// overlay's thresholds (config.RiskConfig) are independent of and can
	// conflict with the strategy's own position sizing, so a caller must
	// opt in deliberately rather than have orders silently dropped.
	EnableRiskOverlay bool
}

// BacktestForSymbol runs the ChannelHF strategy over bars (already windowed
// by the caller) and an optional index series, returning the compact
// Summary and, when opts.Detail is set, the full Result. When
// opts.EnableRiskOverlay is set, every BUY order is additionally gated by
// internal/risk.Manager; rejected orders never reach the broker and are
// reported in Result.RiskRejections.
func BacktestForSymbol(symbol string, bars, indexBars []barmodel.Bar, cfg config.Config, opts Options) (Summary, *Result) {
	result := runOnce(symbol, bars, indexBars, cfg, cfg.ChannelHF.CaptureLogs || opts.Detail, opts.Logger, opts.Metrics, opts.EnableRiskOverlay)
	summary := summarize(symbol, result)

	if opts.Segments > 1 {
		mean, std := robustScore(symbol, bars, indexBars, cfg, opts.Segments, opts.Logger, opts.EnableRiskOverlay)
		summary.ScoreMean = &mean
		summary.ScoreStd = &std
		summary.Score = mean - std
	} else {
		summary.Score = scoreOf(summary)
	}

	if !opts.Detail {
		return summary, nil
	}
	return summary, &result
}

// ScanChannelForSymbol runs the full simulation with signal-trace capture
// forced on and returns the most recent captured SignalLog within the last
// scanRecentDays of the series whose FinalSignal is non-zero (a BUY or
// SELL decision). ok is false when no such signal exists in that window.
func ScanChannelForSymbol(symbol string, bars, indexBars []barmodel.Bar, cfg config.Config, logger zerolog.Logger) (log strategy.SignalLog, ok bool) {
	cfg.ChannelHF.CaptureLogs = true
	// Live scanning only reports the strategy's own signal trace; the risk
	// overlay is an execution-time gate with nothing to execute here, so it
	// stays off regardless of caller configuration.
	result := runOnce(symbol, bars, indexBars, cfg, true, logger, nil, false)
	if len(bars) == 0 {
		return strategy.SignalLog{}, false
	}

	lastDate := lastBarDate(bars)
	cutoff := lastDate.AddDate(0, 0, -cfg.ChannelHF.ScanRecentDays)

	var best strategy.SignalLog
	found := false
	for _, l := range result.Logs {
		if l.FinalSignal == 0 {
			continue
		}
		if l.Date.Before(cutoff) {
			continue
		}
		if !found || l.Date.After(best.Date) {
			best = l
			found = true
		}
	}
	return best, found
}

func lastBarDate(bars []barmodel.Bar) time.Time {
	last := bars[0].Date
	for _, b := range bars[1:] {
		if b.Date.After(last) {
			last = b.Date
		}
	}
	return last
}

// runOnce drives one full event-engine replay for symbol's bars. The risk
// overlay is constructed only when enableRisk is set; engine.Run treats a
// nil Risk manager as "no overlay", so every BUY order passes straight
// through to the broker by default.
func runOnce(symbol string, bars, indexBars []barmodel.Bar, cfg config.Config, captureLogs bool, logger zerolog.Logger, reg *obsmetrics.Registry, enableRisk bool) Result {
	stratCfg := cfg.ChannelHF
	stratCfg.CaptureLogs = captureLogs

	strat := strategy.New(stratCfg, cfg.Event.Broker.LotSize, bars, indexBars, logger)

	var riskMgr *risk.Manager
	if enableRisk {
		riskMgr = risk.NewManager(cfg.Risk, cfg.Event.InitialCash)
	}

	run := engine.Run(engine.RunInput{
		Bars:      bars,
		Benchmark: indexBars,
		Strategy:  strat,
		Event:     cfg.Event,
		Risk:      riskMgr,
		Metrics:   reg,
	})

	report := metrics.Compute(run.Equity, run.Trades, metrics.DefaultRiskFreeRate)

	return Result{
		Symbol:          symbol,
		Equity:          run.Equity,
		BenchmarkEquity: run.BenchmarkEquity,
		Trades:          run.Trades,
		Logs:            strat.Logs,
		Anomalies:       run.Anomalies,
		Metrics:         report,
		RiskRejections:  run.RiskRejections,
	}
}

func summarize(symbol string, r Result) Summary {
	finalEquity := 0.0
	if n := len(r.Equity); n > 0 {
		finalEquity = r.Equity[n-1].Equity
	}
	return Summary{
		Symbol:       symbol,
		FinalEquity:  finalEquity,
		TotalReturn:  r.Metrics.TotalReturn,
		CAGR:         r.Metrics.CAGR,
		MaxDrawdown:  r.Metrics.Drawdown.MaxDrawdown,
		Sharpe:       r.Metrics.Sharpe,
		Sortino:      r.Metrics.Sortino,
		Calmar:       r.Metrics.Calmar,
		TailRatio:    r.Metrics.TailRatio,
		Expectancy:   r.Metrics.Trades.Expectancy,
		ProfitFactor: r.Metrics.Trades.ProfitFactor,
		LargestLoss:  r.Metrics.Trades.LargestLoss,
		WinRate:      r.Metrics.Trades.WinRate,
		TradeCount:   r.Metrics.Trades.TotalTrades,
		AnomalyCount: len(r.Anomalies),
	}
}

// scoreOf is the headline composite score: 20*Sharpe + 100*CAGR + 50*WinRate
// - 50*MaxDrawdown.
func scoreOf(s Summary) float64 {
	return 20*s.Sharpe + 100*s.CAGR + 50*s.WinRate - 50*s.MaxDrawdown
}

// robustScore splits bars into segments equal-length contiguous chunks by
// date order, re-runs the engine independently on each chunk with the same
// configuration, and returns the mean and population standard deviation of
// each chunk's composite score.
func robustScore(symbol string, bars, indexBars []barmodel.Bar, cfg config.Config, segments int, logger zerolog.Logger, enableRisk bool) (mean, std float64) {
	sorted := append([]barmodel.Bar(nil), bars...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	chunks := splitContiguous(sorted, segments)
	if len(chunks) == 0 {
		return 0, 0
	}

	ctx := context.Background()
	sem := semaphore.NewWeighted(maxConcurrentSegments)
	scores := make([]float64, len(chunks))
	var wg sync.WaitGroup
	for i, chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			continue
		}
		wg.Add(1)
		go func(i int, chunk []barmodel.Bar) {
			defer wg.Done()
			defer sem.Release(1)
			segIndex := indexBarsFor(indexBars, chunk[0].Date, chunk[len(chunk)-1].Date)
			r := runOnce(symbol, chunk, segIndex, cfg, false, logger, nil, enableRisk)
			scores[i] = scoreOf(summarize(symbol, r))
		}(i, chunk)
	}
	wg.Wait()
	return meanOf(scores), populationStdev(scores)
}

// splitContiguous divides bars into at most n contiguous, roughly
// equal-length slices, preserving order.
func splitContiguous(bars []barmodel.Bar, n int) [][]barmodel.Bar {
	if n <= 0 || len(bars) == 0 {
		return nil
	}
	if n > len(bars) {
		n = len(bars)
	}
	base := len(bars) / n
	rem := len(bars) % n

	chunks := make([][]barmodel.Bar, 0, n)
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		end := start + size
		if size > 0 {
			chunks = append(chunks, bars[start:end])
		}
		start = end
	}
	return chunks
}

// indexBarsFor restricts indexBars to the [start, end] date window of a
// subperiod chunk so the benchmark/index-regime context stays aligned with
// the symbol bars it will be replayed against.
func indexBarsFor(indexBars []barmodel.Bar, start, end time.Time) []barmodel.Bar {
	if len(indexBars) == 0 {
		return nil
	}
	out := make([]barmodel.Bar, 0, len(indexBars))
	for _, b := range indexBars {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out
}

func meanOf(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// populationStdev uses ddof=0, matching the composite score's cross-segment
// dispersion measure (distinct from metrics.stdev's ddof=1 sample variant
// used over daily returns).
func populationStdev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := meanOf(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}
