package strategy

import (
	"testing"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/engine"
	"github.com/chquant/channelhf/internal/portfolio"
	"github.com/rs/zerolog"
)

// closeSeriesBars builds a sequential run of daily bars for symbol from a
// slice of closes, with Open/High/Low offset by a small fixed spread.
func closeSeriesBars(symbol string, start time.Time, closes []float64) []barmodel.Bar {
	bars := make([]barmodel.Bar, len(closes))
	for i, c := range closes {
		bars[i] = barmodel.Bar{
			Symbol: symbol,
			Date:   start.AddDate(0, 0, i),
			Open:   c + 0.3,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		}
	}
	return bars
}

// relaxedEntryConfig disables every geometry-dependent threshold except the
// touch condition, so a deterministic channel descent reliably emits an
// entry regardless of the exact regression/pivot arithmetic.
func relaxedEntryConfig() config.ChannelHFConfig {
	cfg := config.DefaultChannelHFConfig()
	cfg.ChannelPeriod = 10
	cfg.BuyTouchEps = 1000
	cfg.SlopeAbsMax = 10
	cfg.MinChannelHeight = -10
	cfg.MinMidRoom = -10
	cfg.MinMidProfitPct = -10
	cfg.MinRRToMid = -10
	cfg.RequireIndexCondition = false
	cfg.IndexBearExit = false
	cfg.PivotConfirmDays = 0
	cfg.TrendMAPeriod = 0
	cfg.VolatilityRatioMax = 1
	return cfg
}

func TestChannelHF_MonotoneRiseEmitsNoEntry(t *testing.T) {
	cfg := relaxedEntryConfig()
	cfg.BuyTouchEps = 0.01 // restore the real touch condition for this case

	closes := []float64{80, 82, 84, 86, 88, 90, 92, 94, 96, 98}
	bars := closeSeriesBars("RISE", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes)

	strat := New(cfg, 100, bars, nil, zerolog.Nop())
	broker := portfolio.New(1_000_000, config.DefaultBrokerConfig())

	last := strat.bySymbol["RISE"][len(bars)-1]
	frame := engine.MarketFrame{"RISE": last}
	orders := strat.OnClose(len(bars)-1, frame, broker)

	for _, ord := range orders {
		if ord.Symbol == "RISE" {
			t.Fatalf("expected no entry on a monotonically rising close series, got %+v", ord)
		}
	}
}

func TestChannelHF_DescentTriggersEntry(t *testing.T) {
	cfg := relaxedEntryConfig()

	closes := []float64{102, 100, 97, 94, 91, 88, 85, 82, 80, 78}
	bars := closeSeriesBars("ABC", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes)

	strat := New(cfg, 100, bars, nil, zerolog.Nop())
	broker := portfolio.New(1_000_000, config.DefaultBrokerConfig())

	last := strat.bySymbol["ABC"][len(bars)-1]
	frame := engine.MarketFrame{"ABC": last}
	orders := strat.OnClose(len(bars)-1, frame, broker)

	if len(orders) != 1 {
		t.Fatalf("expected exactly one order, got %d: %+v", len(orders), orders)
	}
	ord := orders[0]
	if !ord.IsBuy() {
		t.Errorf("expected a BUY order, got %v", ord.Side)
	}
	if ord.Qty <= 0 {
		t.Errorf("expected a positive quantity, got %v", ord.Qty)
	}
	if ord.InitialStop <= 0 || ord.InitialStop >= last.Close {
		t.Errorf("expected a stop below entry close %v, got %v", last.Close, ord.InitialStop)
	}
}

func TestChannelHF_StopLossOnCloseTriggersExit(t *testing.T) {
	cfg := config.DefaultChannelHFConfig()
	cfg.ChannelPeriod = 10
	cfg.StopLossOnClose = true
	cfg.StopLossPanicEps = 0 // isolate the close-based stop from the panic check

	closes := []float64{100, 99, 98, 97, 96, 95, 94, 93, 92, 80}
	bars := closeSeriesBars("XYZ", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes)

	strat := New(cfg, 100, bars, nil, zerolog.Nop())
	broker := portfolio.New(1_000_000, config.DefaultBrokerConfig())
	broker.Positions["XYZ"] = &barmodel.PositionState{
		Symbol:      "XYZ",
		Qty:         100,
		AvgPrice:    95,
		EntryPrice:  95,
		InitialStop: 90, // last close of 80 is below this stop.
	}

	last := strat.bySymbol["XYZ"][len(bars)-1]
	frame := engine.MarketFrame{"XYZ": last}
	orders := strat.OnClose(len(bars)-1, frame, broker)

	if len(orders) != 1 {
		t.Fatalf("expected exactly one exit order, got %d: %+v", len(orders), orders)
	}
	ord := orders[0]
	if !ord.IsSell() {
		t.Errorf("expected a SELL order, got %v", ord.Side)
	}
	if ord.Qty != 100 {
		t.Errorf("expected the full position size 100, got %v", ord.Qty)
	}
	if ord.Reason != ReasonStopLoss {
		t.Errorf("expected reason %s, got %s", ReasonStopLoss, ord.Reason)
	}
}

func TestChannelHF_OnOpenAdvancesDaysHeldAndCooldown(t *testing.T) {
	cfg := config.DefaultChannelHFConfig()
	strat := New(cfg, 100, nil, nil, zerolog.Nop())
	strat.scratch("HELD").cooldownLeft = 2

	broker := portfolio.New(1_000_000, config.DefaultBrokerConfig())
	broker.Positions["HELD"] = &barmodel.PositionState{Symbol: "HELD", Qty: 10}

	frame := engine.MarketFrame{"HELD": barmodel.Bar{Symbol: "HELD", Close: 10}}
	strat.OnOpen(0, frame, broker)

	if strat.scratch("HELD").daysHeld != 1 {
		t.Errorf("expected daysHeld to advance to 1, got %d", strat.scratch("HELD").daysHeld)
	}
	if strat.scratch("HELD").cooldownLeft != 1 {
		t.Errorf("expected cooldownLeft to decrement to 1, got %d", strat.scratch("HELD").cooldownLeft)
	}
}

func TestChannelHF_CaptureLogsRecordsTrace(t *testing.T) {
	cfg := relaxedEntryConfig()
	cfg.CaptureLogs = true

	closes := []float64{102, 100, 97, 94, 91, 88, 85, 82, 80, 78}
	bars := closeSeriesBars("LOG", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), closes)

	strat := New(cfg, 100, bars, nil, zerolog.Nop())
	broker := portfolio.New(1_000_000, config.DefaultBrokerConfig())

	last := strat.bySymbol["LOG"][len(bars)-1]
	frame := engine.MarketFrame{"LOG": last}
	strat.OnClose(len(bars)-1, frame, broker)

	if len(strat.Logs) != 1 {
		t.Fatalf("expected one captured signal log, got %d", len(strat.Logs))
	}
	if len(strat.Logs[0].Steps) == 0 {
		t.Error("expected the trace to record at least one pipeline step")
	}
}
