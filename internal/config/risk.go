package config

import "fmt"

// RiskConfig defines hard risk guardrails applied to every BUY order the
// ChannelHF strategy emits, on top of (and independent from) its own
// entry pipeline. These limits exist so a misconfigured strategy can
// never commit more capital or risk than the operator allows — they are
// never relaxed by strategy parameters.
type RiskConfig struct {
	MaxRiskPerTradePct      float64 `json:"max_risk_per_trade_pct"`
	MaxOpenPositions        int     `json:"max_open_positions"`
	MaxDailyLossPct         float64 `json:"max_daily_loss_pct"`
	MaxCapitalDeploymentPct float64 `json:"max_capital_deployment_pct"`
}

// DefaultRiskConfig mirrors the reference guardrails used in production.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxRiskPerTradePct:      1.0,
		MaxOpenPositions:        10,
		MaxDailyLossPct:         3.0,
		MaxCapitalDeploymentPct: 80.0,
	}
}

func (c RiskConfig) Validate() error {
	if c.MaxRiskPerTradePct <= 0 {
		return fmt.Errorf("config: max_risk_per_trade_pct must be > 0, got %v", c.MaxRiskPerTradePct)
	}
	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("config: max_open_positions must be > 0, got %d", c.MaxOpenPositions)
	}
	if c.MaxDailyLossPct <= 0 {
		return fmt.Errorf("config: max_daily_loss_pct must be > 0, got %v", c.MaxDailyLossPct)
	}
	if c.MaxCapitalDeploymentPct <= 0 || c.MaxCapitalDeploymentPct > 100 {
		return fmt.Errorf("config: max_capital_deployment_pct must be in (0, 100], got %v", c.MaxCapitalDeploymentPct)
	}
	return nil
}
