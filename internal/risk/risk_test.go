package risk

import (
	"testing"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
)

func makeTestRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTradePct:      1.0,
		MaxOpenPositions:        5,
		MaxDailyLossPct:         3.0,
		MaxCapitalDeploymentPct: 80.0,
	}
}

func TestRisk_RejectsNoStopLoss(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	order := barmodel.Order{
		Symbol: "TEST", Side: barmodel.Buy, Qty: 10, OpenPrice: 100, InitialStop: 0,
	}

	result := mgr.Validate(order, nil, DailyPnL{}, 500000)

	if result.Approved {
		t.Error("expected rejection for missing stop loss")
	}
	if len(result.Rejections) == 0 {
		t.Fatal("expected rejection reasons")
	}
	if result.Rejections[0].Rule != "MANDATORY_STOP_LOSS" {
		t.Errorf("expected MANDATORY_STOP_LOSS rule, got %s", result.Rejections[0].Rule)
	}
}

func TestRisk_RejectsStopLossAboveEntry(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	order := barmodel.Order{Symbol: "TEST", Side: barmodel.Buy, Qty: 10, OpenPrice: 100, InitialStop: 105}

	result := mgr.Validate(order, nil, DailyPnL{}, 500000)

	if result.Approved {
		t.Error("expected rejection for invalid stop loss")
	}
}

func TestRisk_RejectsExcessiveRiskPerTrade(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	// Risk = (100 - 50) * 200 = 10000 = 2% of 500000 > 1% limit.
	order := barmodel.Order{Symbol: "TEST", Side: barmodel.Buy, Qty: 200, OpenPrice: 100, InitialStop: 50}

	result := mgr.Validate(order, nil, DailyPnL{}, 500000)

	if result.Approved {
		t.Error("expected rejection for excessive risk per trade")
	}
}

func TestRisk_RejectsExceedingMaxPositions(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	positions := make(map[string]*barmodel.PositionState, 5)
	for i := 0; i < 5; i++ {
		sym := "STOCK" + string(rune('A'+i))
		positions[sym] = &barmodel.PositionState{Symbol: sym}
	}

	order := barmodel.Order{Symbol: "NEWSTOCK", Side: barmodel.Buy, Qty: 10, OpenPrice: 100, InitialStop: 95}

	result := mgr.Validate(order, positions, DailyPnL{}, 500000)

	if result.Approved {
		t.Error("expected rejection for exceeding max positions")
	}
}

func TestRisk_RejectsDuplicatePosition(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	positions := map[string]*barmodel.PositionState{
		"TEST": {Symbol: "TEST", Qty: 10, EntryNotional: 1000},
	}

	order := barmodel.Order{Symbol: "TEST", Side: barmodel.Buy, Qty: 10, OpenPrice: 105, InitialStop: 100}

	result := mgr.Validate(order, positions, DailyPnL{}, 500000)

	if result.Approved {
		t.Error("expected rejection for duplicate position")
	}
}

func TestRisk_RejectsAtDailyLossLimit(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	dailyPnL := DailyPnL{Date: time.Now(), RealizedPnL: -15000} // 3% of 500000.

	order := barmodel.Order{Symbol: "TEST", Side: barmodel.Buy, Qty: 10, OpenPrice: 100, InitialStop: 95}

	result := mgr.Validate(order, nil, dailyPnL, 500000)

	if result.Approved {
		t.Error("expected rejection for daily loss limit breach")
	}
}

func TestRisk_ApprovesValidTrade(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	// Risk = 5 * 50 = 250 = 0.05% — well under limit.
	order := barmodel.Order{Symbol: "TEST", Side: barmodel.Buy, Qty: 50, OpenPrice: 100, InitialStop: 95}

	result := mgr.Validate(order, nil, DailyPnL{}, 500000)

	if !result.Approved {
		t.Errorf("expected approval, got rejections: %v", result.Rejections)
	}
}

func TestRisk_AlwaysAllowsSell(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	order := barmodel.Order{Symbol: "TEST", Side: barmodel.Sell, Qty: 10}

	// Even at daily loss limit with max positions, exits should be allowed.
	dailyPnL := DailyPnL{RealizedPnL: -20000}
	positions := make(map[string]*barmodel.PositionState, 5)
	for i := 0; i < 5; i++ {
		sym := "STOCK" + string(rune('A'+i))
		positions[sym] = &barmodel.PositionState{Symbol: sym}
	}

	result := mgr.Validate(order, positions, dailyPnL, 0)

	if !result.Approved {
		t.Error("SELL orders should always be approved")
	}
}

func TestRisk_RejectsInsufficientCapital(t *testing.T) {
	mgr := NewManager(makeTestRiskConfig(), 500000)

	order := barmodel.Order{Symbol: "TEST", Side: barmodel.Buy, Qty: 100, OpenPrice: 100, InitialStop: 95}

	result := mgr.Validate(order, nil, DailyPnL{}, 5000) // Only 5000 available.

	if result.Approved {
		t.Error("expected rejection for insufficient capital")
	}
}
