package portfolio

import (
	"testing"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
)

func bar(symbol string, date time.Time, open, high, low, close float64) barmodel.Bar {
	return barmodel.Bar{Symbol: symbol, Date: date, Open: open, High: high, Low: low, Close: close, Volume: 1000}
}

func TestExecuteOrderOpenBuyThenSell(t *testing.T) {
	cfg := config.DefaultBrokerConfig()
	b := New(100000, cfg)

	day0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	buyBar := bar("ABC", day0, 10, 10.5, 9.8, 10.2)
	order := barmodel.Order{Symbol: "ABC", Qty: 100, Side: barmodel.Buy, InitialStop: 9.0}

	fill, ok := b.ExecuteOrderOpen(order, buyBar, 0)
	if !ok {
		t.Fatal("expected buy to fill")
	}
	if fill.Qty != 100 {
		t.Errorf("fill qty = %v, want 100", fill.Qty)
	}
	if b.Cash >= 100000 {
		t.Errorf("cash should have decreased, got %v", b.Cash)
	}
	pos, exists := b.Positions["ABC"]
	if !exists || pos.Qty != 100 {
		t.Fatalf("expected open position of 100 shares, got %+v", pos)
	}

	day1 := day0.AddDate(0, 0, 1)
	sellBar := bar("ABC", day1, 11, 11.5, 10.8, 11.2)
	sellOrder := barmodel.Order{Symbol: "ABC", Qty: 100, Side: barmodel.Sell, Reason: "SellTarget"}
	_, ok = b.ExecuteOrderOpen(sellOrder, sellBar, 1)
	if !ok {
		t.Fatal("expected sell to fill")
	}
	if _, exists := b.Positions["ABC"]; exists {
		t.Error("position should be closed after full sell")
	}
	if len(b.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(b.Trades))
	}
	tr := b.Trades[0]
	if tr.Pnl <= 0 {
		t.Errorf("expected a winning trade, got pnl=%v", tr.Pnl)
	}
	if tr.RMultiple == nil {
		t.Error("expected a computed R-multiple")
	}
}

func TestExecuteOrderOpenRejectsInsufficientCash(t *testing.T) {
	cfg := config.DefaultBrokerConfig()
	b := New(100, cfg)
	buyBar := bar("ABC", time.Now(), 10, 10.5, 9.8, 10.2)
	order := barmodel.Order{Symbol: "ABC", Qty: 1000, Side: barmodel.Buy}

	_, ok := b.ExecuteOrderOpen(order, buyBar, 0)
	if ok {
		t.Fatal("expected order to be rejected for insufficient cash")
	}
	if b.Cash != 100 {
		t.Errorf("cash should be unchanged on rejection, got %v", b.Cash)
	}
}

func TestExecuteOrderOpenLimitFeasibility(t *testing.T) {
	cfg := config.DefaultBrokerConfig()
	b := New(100000, cfg)

	feasible := bar("ABC", time.Now(), 10.50, 10.80, 9.90, 10.60)
	order := barmodel.Order{Symbol: "ABC", Qty: 10, Side: barmodel.Buy, LimitPrice: 10.00}
	fill, ok := b.ExecuteOrderOpen(order, feasible, 0)
	if !ok {
		t.Fatal("expected limit buy to fill when low <= limit")
	}
	if fill.Price > 10.00 {
		t.Errorf("fill price %v exceeds limit 10.00", fill.Price)
	}

	b2 := New(100000, cfg)
	infeasible := bar("ABC", time.Now(), 10.20, 10.80, 10.10, 10.60)
	_, ok = b2.ExecuteOrderOpen(order, infeasible, 0)
	if ok {
		t.Fatal("expected limit buy to be rejected when low > limit")
	}
}

func TestMarkToMarket(t *testing.T) {
	cfg := config.DefaultBrokerConfig()
	b := New(100000, cfg)
	buyBar := bar("ABC", time.Now(), 10, 10.5, 9.8, 10.2)
	order := barmodel.Order{Symbol: "ABC", Qty: 100, Side: barmodel.Buy}
	b.ExecuteOrderOpen(order, buyBar, 0)

	equity := b.MarkToMarket(map[string]float64{"ABC": 11.0})
	if equity <= b.Cash {
		t.Errorf("equity %v should exceed cash %v once position value is added", equity, b.Cash)
	}
}

func TestMarkToMarket_SkipsPositionWithNoCloseForDate(t *testing.T) {
	cfg := config.DefaultBrokerConfig()
	b := New(100000, cfg)
	buyBar := bar("ABC", time.Now(), 10, 10.5, 9.8, 10.2)
	order := barmodel.Order{Symbol: "ABC", Qty: 100, Side: barmodel.Buy}
	b.ExecuteOrderOpen(order, buyBar, 0)

	equity := b.MarkToMarket(map[string]float64{})
	if equity != b.Cash {
		t.Errorf("equity %v should equal cash %v when the held symbol has no close for the date", equity, b.Cash)
	}

	exposure := b.Exposure(map[string]float64{})
	if exposure != 0 {
		t.Errorf("exposure = %v, want 0 when the held symbol has no close for the date", exposure)
	}
}

func TestCashNeverNegative(t *testing.T) {
	cfg := config.DefaultBrokerConfig()
	b := New(1000, cfg)
	buyBar := bar("ABC", time.Now(), 10, 10.5, 9.8, 10.2)
	for i := 0; i < 5; i++ {
		order := barmodel.Order{Symbol: "ABC", Qty: 50, Side: barmodel.Buy}
		b.ExecuteOrderOpen(order, buyBar, 0)
		if b.Cash < 0 {
			t.Fatalf("cash went negative: %v", b.Cash)
		}
	}
}
