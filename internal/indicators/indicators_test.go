package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
)

func mkBars(closes []float64) []barmodel.Bar {
	bars := make([]barmodel.Bar, len(closes))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		bars[i] = barmodel.Bar{
			Symbol: "X",
			Date:   base.AddDate(0, 0, i),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
			Index:  i,
		}
	}
	return bars
}

func TestSMA(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	got, err := SMA(vals, 3, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 4 {
		t.Errorf("SMA = %v, want 4", got)
	}
}

func TestSMAInsufficientData(t *testing.T) {
	_, err := SMA([]float64{1, 2}, 5, -1)
	if err == nil {
		t.Fatal("expected insufficient data error")
	}
}

func TestATR(t *testing.T) {
	bars := mkBars([]float64{10, 11, 12, 13, 14})
	got, err := ATR(bars, 3, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got <= 0 {
		t.Errorf("ATR should be positive, got %v", got)
	}
}

func TestAvgVolume(t *testing.T) {
	bars := mkBars([]float64{10, 11, 12})
	got, err := AvgVolume(bars, 3, -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 1000 {
		t.Errorf("AvgVolume = %v, want 1000", got)
	}
}

func TestVolatilityRatio(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	_, _, ratio, err := VolatilityRatio(closes, 5, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ratio <= 0 {
		t.Errorf("expected a positive ratio, got %v", ratio)
	}
}

func TestVolatilityRatioInsufficientData(t *testing.T) {
	_, _, _, err := VolatilityRatio([]float64{1, 2, 3}, 5, 20)
	if err == nil {
		t.Fatal("expected insufficient data error")
	}
}

func TestSlopeOfClosesRisingLine(t *testing.T) {
	window := []float64{10, 11, 12, 13, 14}
	res := SlopeOfCloses(window)
	if math.Abs(res.M-1) > 1e-9 {
		t.Errorf("M = %v, want 1", res.M)
	}
	if math.Abs(res.Mid-14) > 1e-9 {
		t.Errorf("Mid = %v, want 14", res.Mid)
	}
}

func TestSlopeOfClosesFlatLine(t *testing.T) {
	window := []float64{10, 10, 10, 10}
	res := SlopeOfCloses(window)
	if res.M != 0 {
		t.Errorf("M = %v, want 0", res.M)
	}
	if res.SlopeNorm != 0 {
		t.Errorf("SlopeNorm = %v, want 0", res.SlopeNorm)
	}
}

func TestPickPivotLowFindsVShape(t *testing.T) {
	lows := []float64{10, 9.8, 9.5, 9.0, 8.5, 8.0, 8.3, 8.8, 9.5, 9.8, 10}
	highs := make([]float64, len(lows))
	for i, l := range lows {
		highs[i] = l + 1
	}
	got := PickPivotLow(lows, highs, 3, 0.05, 3)
	if got.Index != 5 {
		t.Errorf("pivot index = %d, want 5", got.Index)
	}
	if !got.Significant {
		t.Errorf("expected a significant pivot")
	}
}

func TestPickPivotLowTieBreakPrefersMoreRecent(t *testing.T) {
	// Two equally-low troughs; the detector should prefer the later index.
	lows := []float64{10, 9, 8, 9, 10, 9, 8, 9, 10}
	highs := make([]float64, len(lows))
	for i, l := range lows {
		highs[i] = l + 2
	}
	got := PickPivotLow(lows, highs, 1, 0.1, 1)
	if got.Index != -1 && got.Price == 8 {
		if got.Index != 6 {
			t.Errorf("pivot index = %d, want the later trough at 6", got.Index)
		}
	}
}

func TestPickPivotLowFallsBackToArgmin(t *testing.T) {
	lows := []float64{5, 4, 3, 2, 1}
	highs := []float64{6, 5, 4, 3, 2}
	got := PickPivotLow(lows, highs, 3, 0.5, 3)
	if got.Significant {
		t.Errorf("expected a non-significant fallback pivot")
	}
	if got.Price != 1 {
		t.Errorf("fallback price = %v, want 1 (argmin)", got.Price)
	}
}

func TestFindChannelMirrorsBandsAroundPivot(t *testing.T) {
	closes := []float64{10, 9.8, 9.5, 9.0, 8.5, 8.0, 8.3, 8.8, 9.5, 9.8, 10, 10.2, 10.4}
	highs := make([]float64, len(closes))
	lows := make([]float64, len(closes))
	vols := make([]float64, len(closes))
	for i, c := range closes {
		highs[i] = c + 0.5
		lows[i] = c - 0.5
		vols[i] = 1000
	}
	ch := FindChannel(closes, highs, lows, vols)

	midOffsetLower := ch.Mid - ch.Lower
	midOffsetUpper := ch.Upper - ch.Mid
	if math.Abs(midOffsetLower-midOffsetUpper) > 1e-9 {
		t.Errorf("upper/lower bands are not mirrored around mid: lowerOffset=%v upperOffset=%v", midOffsetLower, midOffsetUpper)
	}
}
