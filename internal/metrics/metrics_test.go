package metrics

import (
	"math"
	"testing"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
)

func eq(date time.Time, equity float64) barmodel.EquityPoint {
	return barmodel.EquityPoint{Date: date, Equity: equity}
}

func TestCompute_EmptyEquityReturnsZeroReport(t *testing.T) {
	report := Compute(nil, nil, DefaultRiskFreeRate)
	if report.TotalReturn != 0 || report.CAGR != 0 {
		t.Errorf("expected a zero report, got %+v", report)
	}
}

func TestCompute_TotalReturn(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	equity := []barmodel.EquityPoint{
		eq(day, 100000),
		eq(day.AddDate(0, 0, 1), 110000),
	}
	report := Compute(equity, nil, 0)
	want := 0.10
	if math.Abs(report.TotalReturn-want) > 1e-9 {
		t.Errorf("TotalReturn = %v, want %v", report.TotalReturn, want)
	}
}

func TestCompute_DrawdownFromPeak(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	equity := []barmodel.EquityPoint{
		eq(day, 100000),
		eq(day.AddDate(0, 0, 1), 120000), // peak
		eq(day.AddDate(0, 0, 2), 90000),  // trough: 25% decline
		eq(day.AddDate(0, 0, 3), 130000), // recovers above the peak
	}
	report := Compute(equity, nil, 0)
	want := 0.25
	if math.Abs(report.Drawdown.MaxDrawdown-want) > 1e-9 {
		t.Errorf("MaxDrawdown = %v, want %v", report.Drawdown.MaxDrawdown, want)
	}
	if report.Drawdown.RecoveryDate == nil {
		t.Error("expected a recovery date once equity exceeds the prior peak")
	}
}

func TestCalmar_ZeroDrawdownPositiveCAGR(t *testing.T) {
	if got := calmar(0.10, 0); !math.IsInf(got, 1) {
		t.Errorf("calmar(0.10, 0) = %v, want +Inf", got)
	}
}

func TestCalmar_ZeroDrawdownZeroCAGR(t *testing.T) {
	if got := calmar(0, 0); got != 0 {
		t.Errorf("calmar(0, 0) = %v, want 0", got)
	}
}

func TestComputeTradeStats_WinRateAndProfitFactor(t *testing.T) {
	trades := []barmodel.Trade{
		{Pnl: 100},
		{Pnl: 200},
		{Pnl: -50},
	}
	stats := computeTradeStats(trades)
	if stats.TotalTrades != 3 {
		t.Errorf("TotalTrades = %d, want 3", stats.TotalTrades)
	}
	if stats.WinningTrades != 2 || stats.LosingTrades != 1 {
		t.Errorf("expected 2 wins / 1 loss, got %d/%d", stats.WinningTrades, stats.LosingTrades)
	}
	wantWinRate := 2.0 / 3.0
	if math.Abs(stats.WinRate-wantWinRate) > 1e-9 {
		t.Errorf("WinRate = %v, want %v", stats.WinRate, wantWinRate)
	}
	wantPF := 300.0 / 50.0
	if math.Abs(stats.ProfitFactor-wantPF) > 1e-9 {
		t.Errorf("ProfitFactor = %v, want %v", stats.ProfitFactor, wantPF)
	}
}

func TestComputeTradeStats_AllWinsProfitFactorFinite(t *testing.T) {
	trades := []barmodel.Trade{{Pnl: 100}, {Pnl: 50}}
	stats := computeTradeStats(trades)
	if math.IsInf(stats.ProfitFactor, 1) {
		t.Error("expected a finite profit factor when there are no losses")
	}
	if stats.ProfitFactor != 150 {
		t.Errorf("ProfitFactor = %v, want 150", stats.ProfitFactor)
	}
}

func TestMonthlyReturns_PivotsByCalendarMonth(t *testing.T) {
	equity := []barmodel.EquityPoint{
		eq(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 100000),
		eq(time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), 110000),
		eq(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), 111000),
		eq(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), 121000),
	}
	monthly := monthlyReturns(equity)

	jan := monthly[MonthKey{Year: 2024, Month: time.January}]
	wantJan := 0.10
	if math.Abs(jan-wantJan) > 1e-9 {
		t.Errorf("January return = %v, want %v", jan, wantJan)
	}

	feb := monthly[MonthKey{Year: 2024, Month: time.February}]
	wantFeb := 121000.0/110000.0 - 1
	if math.Abs(feb-wantFeb) > 1e-9 {
		t.Errorf("February return = %v, want %v", feb, wantFeb)
	}
}

func TestTailRatio_RequiresTenPoints(t *testing.T) {
	if got := tailRatio([]float64{0.01, 0.02}); got != 0 {
		t.Errorf("expected 0 with insufficient samples, got %v", got)
	}
}
