// Package indicators provides stateless technical-analysis functions over
// plain float64 slices: moving averages, ATR, volatility ratios, and the
// regression-based channel/pivot detector the ChannelHF strategy is built
// on. Every function is deterministic and side-effect free so it can be
// unit tested in isolation from any strategy or engine state.
package indicators

import (
	"math"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/engineerr"
)

// SMA returns the mean of the last `period` values ending at endIndex
// (inclusive). endIndex < 0 means "the last element of values".
func SMA(values []float64, period, endIndex int) (float64, error) {
	end := resolveEnd(endIndex, len(values))
	if period <= 0 || end+1 < period {
		return 0, engineerr.ErrInsufficientData
	}
	var sum float64
	for i := end - period + 1; i <= end; i++ {
		sum += values[i]
	}
	return sum / float64(period), nil
}

// ATR computes the average true range over the last `period` true ranges
// ending at endIndex. Needs at least period+1 bars.
func ATR(bars []barmodel.Bar, period, endIndex int) (float64, error) {
	end := resolveEnd(endIndex, len(bars))
	if period <= 0 || end-period < 0 {
		return 0, engineerr.ErrInsufficientData
	}
	var total float64
	for i := end - period + 1; i <= end; i++ {
		curr := bars[i]
		prev := bars[i-1]
		tr := math.Max(curr.High-curr.Low, math.Max(math.Abs(curr.High-prev.Close), math.Abs(curr.Low-prev.Close)))
		total += tr
	}
	return total / float64(period), nil
}

// AvgVolume is the arithmetic mean of volume over the last `period` bars
// ending at endIndex. Absent volume counts as 0.
func AvgVolume(bars []barmodel.Bar, period, endIndex int) (float64, error) {
	end := resolveEnd(endIndex, len(bars))
	if period <= 0 || end+1 < period {
		return 0, engineerr.ErrInsufficientData
	}
	var sum float64
	for i := end - period + 1; i <= end; i++ {
		sum += bars[i].Volume
	}
	return sum / float64(period), nil
}

// VolatilityRatio computes short- and long-window close-to-close return
// volatility (sample stdev, ddof=1) and their ratio short/long.
func VolatilityRatio(closes []float64, short, long int) (shortVol, longVol, ratio float64, err error) {
	if long <= 1 || len(closes) < long+1 {
		return 0, 0, 0, engineerr.ErrInsufficientData
	}
	rets := returns(closes)
	shortVol = stdev(rets[len(rets)-short:])
	longVol = stdev(rets[len(rets)-long:])
	if longVol == 0 {
		return shortVol, longVol, 1.0, nil
	}
	return shortVol, longVol, shortVol / longVol, nil
}

func returns(closes []float64) []float64 {
	r := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			r = append(r, 0)
			continue
		}
		r = append(r, closes[i]/closes[i-1]-1)
	}
	return r
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

// SlopeResult is the result of an OLS fit of a window of closes against
// x = 0..n-1, using the centered-x form for numerical stability.
type SlopeResult struct {
	M         float64 // raw slope
	C         float64 // intercept at x=0
	Mid       float64 // fitted value at the last index
	SlopeNorm float64 // m / mid
}

// SlopeOfCloses fits a line through window via ordinary least squares.
func SlopeOfCloses(window []float64) SlopeResult {
	n := len(window)
	if n < 2 {
		if n == 1 {
			return SlopeResult{C: window[0], Mid: window[0]}
		}
		return SlopeResult{}
	}
	xMean := float64(n-1) / 2
	yMean := meanOf(window)

	var num, den float64
	for i, y := range window {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	var m float64
	if den != 0 {
		m = num / den
	}
	c := yMean - m*xMean
	mid := m*float64(n-1) + c
	slopeNorm := 0.0
	if mid != 0 {
		slopeNorm = m / mid
	}
	return SlopeResult{M: m, C: c, Mid: mid, SlopeNorm: slopeNorm}
}

// PivotResult describes a detected pivot low within a window.
type PivotResult struct {
	Index       int // index within the window, -1 if not found
	Price       float64
	Significant bool // found via the full neighborhood/drop/rebound test
}

// PickPivotLow finds a local minimum in lows satisfying a k-neighborhood,
// a prior drop threshold, and a post-pivot no-new-low rebound. Falls back
// to the plain argmin of lows (marked non-significant) when no candidate
// qualifies, so callers always get a pivot to anchor the channel on.
func PickPivotLow(lows, highs []float64, k int, dropMin float64, reboundDays int) PivotResult {
	n := len(lows)
	best := PivotResult{Index: -1}

	if n >= 2*k+3 {
		for j := k; j <= n-k-2; j++ {
			lo := lows[j]

			neighborMin := math.Inf(1)
			for i := j - k; i <= j+k; i++ {
				if i == j {
					continue
				}
				if lows[i] < neighborMin {
					neighborMin = lows[i]
				}
			}
			if !(lo < neighborMin) {
				continue
			}

			priorHigh := highs[0]
			for i := 1; i <= j; i++ {
				if highs[i] > priorHigh {
					priorHigh = highs[i]
				}
			}
			if lo <= 0 || priorHigh/lo-1 < dropMin {
				continue
			}

			reboundEnd := j + 1 + reboundDays
			if reboundEnd > n {
				reboundEnd = n
			}
			if j+1 >= reboundEnd {
				continue
			}
			reboundMin := lows[j+1]
			for i := j + 2; i < reboundEnd; i++ {
				if lows[i] < reboundMin {
					reboundMin = lows[i]
				}
			}
			if !(reboundMin > lo) {
				continue
			}

			cand := PivotResult{Index: j, Price: lo, Significant: true}
			if best.Index == -1 || cand.Price < best.Price || (cand.Price == best.Price && cand.Index > best.Index) {
				best = cand
			}
		}
	}

	if best.Index != -1 {
		return best
	}

	// Fall back to the plain minimum, non-significant.
	minIdx, minVal := 0, math.Inf(1)
	for i, v := range lows {
		if v < minVal {
			minVal, minIdx = v, i
		}
	}
	return PivotResult{Index: minIdx, Price: minVal, Significant: false}
}

// Channel is the fitted midline plus the bands anchored at the pivot low.
type Channel struct {
	Mid         float64
	Lower       float64
	Upper       float64
	SlopeNorm   float64
	VolRatio    float64
	PivotIndex  int // index within the window
	Significant bool
}

// FindChannel fits the regression midline over a window, anchors the
// lower/upper bands at the window's pivot low, and reports the volume
// ratio of the last bar against the window average. Pivot detection uses
// the default (k=3, dropMin=0.08, reboundDays=3); use FindChannelWithPivot
// to drive it from a ChannelHFConfig instead.
func FindChannel(closes, highs, lows, vols []float64) Channel {
	return FindChannelWithPivot(closes, highs, lows, vols, 3, 0.08, 3)
}

// FindChannelWithPivot is FindChannel parameterized by the pivot-detection
// knobs, so strategy configuration controls channel geometry end to end.
func FindChannelWithPivot(closes, highs, lows, vols []float64, pivotK int, pivotDropMin float64, pivotReboundDays int) Channel {
	slope := SlopeOfCloses(closes)
	pivot := PickPivotLow(lows, highs, pivotK, pivotDropMin, pivotReboundDays)

	pivotMidY := slope.M*float64(pivot.Index) + slope.C
	offset := pivot.Price - pivotMidY
	lower := slope.Mid + offset
	upper := slope.Mid - offset

	volRatio := 1.0
	if len(vols) > 0 {
		avg := meanOf(vols)
		if avg != 0 {
			volRatio = vols[len(vols)-1] / avg
		}
	}

	return Channel{
		Mid:         slope.Mid,
		Lower:       lower,
		Upper:       upper,
		SlopeNorm:   slope.SlopeNorm,
		VolRatio:    volRatio,
		PivotIndex:  pivot.Index,
		Significant: pivot.Significant,
	}
}

func resolveEnd(endIndex, n int) int {
	if endIndex < 0 || endIndex >= n {
		return n - 1
	}
	return endIndex
}
