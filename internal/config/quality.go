package config

// QualityThresholds parameterizes the bar-loader's data quality inspector.
// Field names and defaults follow the reference inspector's signature.
type QualityThresholds struct {
	MaxGapDays     int     `json:"max_gap_days"`
	GapOpenAbsPct  float64 `json:"gap_open_abs_pct"`
	MinRows        int     `json:"min_rows"`
	StaleDays      int     `json:"stale_days"`
	MinAvgAmount   float64 `json:"min_avg_amount"`
	MinPrice       float64 `json:"min_price"`
	MinListDays    int     `json:"min_list_days"`
	CheckST        bool    `json:"check_st"`
	FatalAnomalies []string `json:"fatal_anomalies"`
}

// DefaultQualityThresholds mirrors inspect_csv_quality's defaults. long_halt
// and abnormal_gap are excluded from the fatal set by default — they are
// informational anomalies that do not by themselves disqualify a symbol.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		MaxGapDays:    15,
		GapOpenAbsPct: 0.2,
		MinRows:       60,
		StaleDays:     10,
		MinAvgAmount:  0,
		MinPrice:      0,
		MinListDays:   0,
		CheckST:       true,
		FatalAnomalies: []string{
			"empty",
			"insufficient_rows",
			"duplicate_dates",
			"stale",
			"listing_too_new",
			"ST_name",
			"low_price",
			"low_avg_turnover",
			"non_positive_price",
			"OHLC_violation",
		},
	}
}

// IsFatal reports whether the given anomaly type is in the configured
// fatal set.
func (q QualityThresholds) IsFatal(anomalyType string) bool {
	for _, t := range q.FatalAnomalies {
		if t == anomalyType {
			return true
		}
	}
	return false
}
