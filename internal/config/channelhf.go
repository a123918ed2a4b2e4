package config

import "fmt"

// SellTargetMode selects how the sell target price is derived from the
// channel's midline/upper band.
type SellTargetMode string

const (
	SellTargetMidUp    SellTargetMode = "mid_up"
	SellTargetUpperDown SellTargetMode = "upper_down"
	SellTargetMidDown  SellTargetMode = "mid_down"
)

// ChannelHFConfig is the full, validated parameter set for the ChannelHF
// strategy. Every numeric knob referenced by the filter pipeline and exit
// precedence lives here so a run is fully reproducible from this struct.
type ChannelHFConfig struct {
	ChannelPeriod int `json:"channel_period"`

	BuyTouchEps     float64 `json:"buy_touch_eps"`
	SellTriggerEps  float64 `json:"sell_trigger_eps"`
	ChannelBreakEps float64 `json:"channel_break_eps"`
	SellTargetMode  SellTargetMode `json:"sell_target_mode"`

	StopLossMul      float64 `json:"stop_loss_mul"`
	StopLossOnClose  bool    `json:"stop_loss_on_close"`
	StopLossPanicEps float64 `json:"stop_loss_panic_eps"` // 0 disables the panic check

	MaxHoldingDays int `json:"max_holding_days"`
	CoolingPeriod  int `json:"cooling_period"`

	MinSlopeNorm float64 `json:"min_slope_norm"` // rule disabled when <= -1
	SlopeAbsMax  float64 `json:"slope_abs_max"`

	ShortVolPeriod     int      `json:"short_vol_period"`
	LongVolPeriod      int      `json:"long_vol_period"`
	VolatilityRatioMax float64  `json:"volatility_ratio_max"` // rule disabled when >= 1
	VolShrinkThreshold float64  `json:"vol_shrink_threshold"` // 0 disables unless min/max set
	VolShrinkMin       *float64 `json:"vol_shrink_min,omitempty"`
	VolShrinkMax       *float64 `json:"vol_shrink_max,omitempty"`

	MinChannelHeight float64 `json:"min_channel_height"`
	MinMidRoom       float64 `json:"min_mid_room"`
	MinMidProfitPct  float64 `json:"min_mid_profit_pct"`
	MinRRToMid       float64 `json:"min_rr_to_mid"`

	PivotK                  int     `json:"pivot_k"`
	PivotDropMin            float64 `json:"pivot_drop_min"`
	PivotReboundDays        int     `json:"pivot_rebound_days"`
	PivotConfirmDays        int     `json:"pivot_confirm_days"` // 0 disables confirmation
	PivotConfirmRequiresSig bool    `json:"pivot_confirm_requires_significant"`
	PivotNoNewLowTol        float64 `json:"pivot_no_new_low_tolerance"`
	PivotReboundAmp         float64 `json:"pivot_rebound_amplitude"`

	RequireIndexCondition bool `json:"require_index_condition"`
	IndexBearExit         bool `json:"index_bear_exit"`
	IndexMA5              int  `json:"index_ma_5"`
	IndexMA10             int  `json:"index_ma_10"`
	IndexMA20             int  `json:"index_ma_20"`
	IndexMA30             int  `json:"index_ma_30"`
	IndexTrendMAPeriod    int  `json:"index_trend_ma_period"` // 0 disables

	MaxPositions   int     `json:"max_positions"`
	MaxPositionPct float64 `json:"max_position_pct"`

	EntryFillEps float64 `json:"entry_fill_eps"`
	ExitFillEps  float64 `json:"exit_fill_eps"`
	FillAtClose  bool    `json:"fill_at_close"`

	TrendMAPeriod      int  `json:"trend_ma_period"` // 0 disables
	RequireRebound     bool `json:"require_rebound"`
	RequireGreenCandle bool `json:"require_green_candle"`

	ScanRecentDays int  `json:"scan_recent_days"`
	CaptureLogs    bool `json:"capture_logs"`
}

// DefaultChannelHFConfig returns a conservative, fully-specified default
// configuration so every rule in the filter pipeline is exercised by a
// deterministic knob rather than an implicit zero value.
func DefaultChannelHFConfig() ChannelHFConfig {
	return ChannelHFConfig{
		ChannelPeriod: 60,

		BuyTouchEps:     0.01,
		SellTriggerEps:  0.01,
		ChannelBreakEps: 0.02,
		SellTargetMode:  SellTargetMidUp,

		StopLossMul:      0.95,
		StopLossOnClose:  true,
		StopLossPanicEps: 0.03,

		MaxHoldingDays: 40,
		CoolingPeriod:  5,

		MinSlopeNorm: -1,
		SlopeAbsMax:  0.05,

		ShortVolPeriod:     5,
		LongVolPeriod:      20,
		VolatilityRatioMax: 1,

		MinChannelHeight: 0.05,
		MinMidRoom:       0.02,
		MinMidProfitPct:  0.03,
		MinRRToMid:       1.5,

		PivotK:                  3,
		PivotDropMin:            0.08,
		PivotReboundDays:        3,
		PivotConfirmDays:        0,
		PivotConfirmRequiresSig: true,
		PivotNoNewLowTol:        0.01,
		PivotReboundAmp:         0.05,

		RequireIndexCondition: false,
		IndexBearExit:         true,
		IndexMA5:              5,
		IndexMA10:             10,
		IndexMA20:             20,
		IndexMA30:             30,
		IndexTrendMAPeriod:    0,

		MaxPositions:   10,
		MaxPositionPct: 0.10,

		EntryFillEps: 0,
		ExitFillEps:  0,
		FillAtClose:  false,

		TrendMAPeriod:      0,
		RequireRebound:     false,
		RequireGreenCandle: false,

		ScanRecentDays: 5,
		CaptureLogs:    false,
	}
}

func (c ChannelHFConfig) Validate() error {
	if c.ChannelPeriod < 5 {
		return fmt.Errorf("config: channel_period must be >= 5, got %d", c.ChannelPeriod)
	}
	if c.MaxHoldingDays <= 0 {
		return fmt.Errorf("config: max_holding_days must be > 0, got %d", c.MaxHoldingDays)
	}
	if c.CoolingPeriod < 0 {
		return fmt.Errorf("config: cooling_period must be >= 0, got %d", c.CoolingPeriod)
	}
	if c.MaxPositions <= 0 {
		return fmt.Errorf("config: max_positions must be > 0, got %d", c.MaxPositions)
	}
	if c.MaxPositionPct <= 0 || c.MaxPositionPct > 1 {
		return fmt.Errorf("config: max_position_pct must be in (0, 1], got %v", c.MaxPositionPct)
	}
	if c.PivotK < 1 {
		return fmt.Errorf("config: pivot_k must be >= 1, got %d", c.PivotK)
	}
	if c.StopLossMul <= 0 || c.StopLossMul >= 1 {
		return fmt.Errorf("config: stop_loss_mul must be in (0, 1), got %v", c.StopLossMul)
	}
	switch c.SellTargetMode {
	case SellTargetMidUp, SellTargetUpperDown, SellTargetMidDown:
	default:
		return fmt.Errorf("config: sell_target_mode %q is not recognized", c.SellTargetMode)
	}
	if c.VolShrinkMin != nil && c.VolShrinkMax != nil && *c.VolShrinkMin > *c.VolShrinkMax {
		return fmt.Errorf("config: vol_shrink_min must be <= vol_shrink_max")
	}
	return nil
}
