package barmodel

import (
	"math"
	"testing"
	"time"
)

func TestBarValidate(t *testing.T) {
	good := Bar{Symbol: "ABC", Open: 10, High: 11, Low: 9, Close: 10, Volume: 100}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	bad := Bar{Symbol: "", Open: 10, High: 11, Low: 9, Close: 10}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty symbol")
	}

	negPrice := Bar{Symbol: "ABC", Open: -1, High: 11, Low: 9, Close: 10}
	if err := negPrice.Validate(); err == nil {
		t.Error("expected error for non-positive price")
	}
}

func TestFillNetAmount(t *testing.T) {
	buy := Fill{Side: Buy, Qty: 100, Price: 10, Fee: 5}
	if got := buy.NetAmount(); got != -1005 {
		t.Errorf("buy NetAmount = %v, want -1005", got)
	}

	sell := Fill{Side: Sell, Qty: 100, Price: 10, Fee: 5}
	if got := sell.NetAmount(); got != 995 {
		t.Errorf("sell NetAmount = %v, want 995", got)
	}
}

func TestTradeAnnualizedReturn(t *testing.T) {
	tr := Trade{
		EntryPrice:  100,
		ExitPrice:   110,
		Qty:         10,
		Pnl:         100,
		HoldingDays: 365,
	}
	got := tr.AnnualizedReturn()
	if math.Abs(got-0.1) > 1e-9 {
		t.Errorf("AnnualizedReturn = %v, want ~0.1", got)
	}
}

func TestTradeAnnualizedReturnZeroHoldingDays(t *testing.T) {
	tr := Trade{EntryPrice: 100, ExitPrice: 110, Qty: 10, Pnl: 100, HoldingDays: 0}
	if got := tr.AnnualizedReturn(); got != 0 {
		t.Errorf("AnnualizedReturn = %v, want 0", got)
	}
}

func TestPositionStateUpdateStop(t *testing.T) {
	p := &PositionState{TrailingActive: true, HighestClose: 100}
	p.UpdateStop(110, 2)
	if p.HighestClose != 110 {
		t.Errorf("HighestClose = %v, want 110", p.HighestClose)
	}
	if p.TrailingStop != 106 {
		t.Errorf("TrailingStop = %v, want 106", p.TrailingStop)
	}

	// A lower close should not lower the trailing stop.
	p.UpdateStop(105, 2)
	if p.TrailingStop != 106 {
		t.Errorf("TrailingStop regressed to %v after a lower close", p.TrailingStop)
	}
}

func TestEquityPointRoundTrip(t *testing.T) {
	ep := EquityPoint{Date: time.Now(), Equity: 1000, Returns: 0.01}
	if ep.Equity != 1000 {
		t.Errorf("unexpected equity %v", ep.Equity)
	}
}
