package barmodel

import (
	"time"

	"github.com/chquant/channelhf/internal/config"
)

// Anomaly is a single data-quality finding for a symbol's history.
type Anomaly struct {
	Type    string
	Message string
}

// QualityReport summarizes one symbol's CSV against the configured
// thresholds. OK is true iff no anomaly in the report is in the fatal set.
type QualityReport struct {
	Symbol    string
	Path      string
	Rows      int
	LastDate  time.Time
	Anomalies []Anomaly
	OK        bool
}

// InspectQuality classifies data-quality issues in an already-loaded bar
// series without raising — every check appends an Anomaly instead.
func InspectQuality(symbol, path string, bars []Bar, thr config.QualityThresholds, name string, now time.Time) QualityReport {
	report := QualityReport{Symbol: symbol, Path: path}

	if len(bars) == 0 {
		report.Anomalies = append(report.Anomalies, Anomaly{"empty", "no rows parsed"})
		report.OK = !thr.IsFatal("empty")
		return report
	}

	report.Rows = len(bars)
	report.LastDate = bars[len(bars)-1].Date

	if len(bars) < thr.MinRows {
		report.Anomalies = append(report.Anomalies, Anomaly{"insufficient_rows", "fewer rows than required minimum"})
	}

	seen := make(map[string]bool, len(bars))
	for _, b := range bars {
		key := b.Date.Format("2006-01-02")
		if seen[key] {
			report.Anomalies = append(report.Anomalies, Anomaly{"duplicate_dates", "duplicate date " + key})
		}
		seen[key] = true

		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			report.Anomalies = append(report.Anomalies, Anomaly{"non_positive_price", "non-positive price at " + key})
		}
		if b.Low > b.Open || b.Low > b.Close || b.High < b.Open || b.High < b.Close || b.Low > b.High {
			report.Anomalies = append(report.Anomalies, Anomaly{"OHLC_violation", "OHLC ordering violated at " + key})
		}
	}

	if now.Sub(report.LastDate) > time.Duration(thr.StaleDays)*24*time.Hour {
		report.Anomalies = append(report.Anomalies, Anomaly{"stale", "last bar is older than the staleness threshold"})
	}

	if thr.MinListDays > 0 && len(bars) < thr.MinListDays {
		report.Anomalies = append(report.Anomalies, Anomaly{"listing_too_new", "fewer rows than min_list_days"})
	}

	if thr.CheckST && isSTName(name) {
		report.Anomalies = append(report.Anomalies, Anomaly{"ST_name", "symbol name carries an ST marker"})
	}

	if thr.MinPrice > 0 && bars[len(bars)-1].Close < thr.MinPrice {
		report.Anomalies = append(report.Anomalies, Anomaly{"low_price", "latest close below min_price"})
	}

	if thr.MinAvgAmount > 0 {
		var total float64
		for _, b := range bars {
			total += b.Close * b.Volume
		}
		if total/float64(len(bars)) < thr.MinAvgAmount {
			report.Anomalies = append(report.Anomalies, Anomaly{"low_avg_turnover", "average turnover below min_avg_amount"})
		}
	}

	for i := 1; i < len(bars); i++ {
		gapDays := int(bars[i].Date.Sub(bars[i-1].Date).Hours() / 24)
		if gapDays > thr.MaxGapDays {
			report.Anomalies = append(report.Anomalies, Anomaly{"long_halt", "gap exceeds max_gap_days"})
		}
		if bars[i-1].Close > 0 {
			gapPct := bars[i].Open/bars[i-1].Close - 1
			if gapPct > thr.GapOpenAbsPct || gapPct < -thr.GapOpenAbsPct {
				report.Anomalies = append(report.Anomalies, Anomaly{"abnormal_gap", "open gap exceeds gap_open_abs_pct"})
			}
		}
	}

	report.OK = true
	for _, a := range report.Anomalies {
		if thr.IsFatal(a.Type) {
			report.OK = false
			break
		}
	}
	return report
}

func isSTName(name string) bool {
	if name == "" {
		return false
	}
	for _, marker := range []string{"ST", "*ST", "退"} {
		if len(name) >= len(marker) && containsFold(name, marker) {
			return true
		}
	}
	return false
}

func containsFold(haystack, needle string) bool {
	hl, nl := len(haystack), len(needle)
	if nl == 0 || nl > hl {
		return false
	}
	for i := 0; i+nl <= hl; i++ {
		if haystack[i:i+nl] == needle {
			return true
		}
	}
	return false
}
