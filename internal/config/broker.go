package config

import "fmt"

// BrokerConfig controls commission, slippage and lot-size rounding applied
// by the portfolio broker on every fill.
type BrokerConfig struct {
	CommissionRate float64 `json:"commission_rate"`
	SlippageBps    float64 `json:"slippage_bps"`
	MinCommission  float64 `json:"min_commission"`
	StampDutyRate  float64 `json:"stamp_duty_rate"`
	SlippageRate   float64 `json:"slippage_rate"`
	LotSize        int     `json:"lot_size"`
}

// DefaultBrokerConfig mirrors the reference implementation's constructor
// defaults.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		CommissionRate: 0.0003,
		SlippageBps:    2.0,
		MinCommission:  5.0,
		StampDutyRate:  0.001,
		SlippageRate:   0.001,
		LotSize:        100,
	}
}

// Validate enforces the same bounds the reference dataclass enforces.
func (c BrokerConfig) Validate() error {
	if c.CommissionRate < 0 || c.CommissionRate > 0.01 {
		return fmt.Errorf("config: commission_rate must be in [0, 0.01], got %v", c.CommissionRate)
	}
	if c.SlippageBps < 0 || c.SlippageBps > 50 {
		return fmt.Errorf("config: slippage_bps must be in [0, 50], got %v", c.SlippageBps)
	}
	if c.MinCommission < 0 {
		return fmt.Errorf("config: min_commission must be >= 0, got %v", c.MinCommission)
	}
	if c.StampDutyRate < 0 || c.StampDutyRate > 0.01 {
		return fmt.Errorf("config: stamp_duty_rate must be in [0, 0.01], got %v", c.StampDutyRate)
	}
	if c.SlippageRate < 0 || c.SlippageRate > 0.01 {
		return fmt.Errorf("config: slippage_rate must be in [0, 0.01], got %v", c.SlippageRate)
	}
	if c.LotSize <= 0 {
		return fmt.Errorf("config: lot_size must be > 0, got %v", c.LotSize)
	}
	return nil
}

// EventConfig drives one Event Engine run.
type EventConfig struct {
	InitialCash     float64      `json:"initial_cash"`
	Broker          BrokerConfig `json:"broker"`
	BenchmarkSymbol string       `json:"benchmark_symbol,omitempty"`
}

// DefaultEventConfig mirrors BacktestConfig's defaults.
func DefaultEventConfig() EventConfig {
	return EventConfig{
		InitialCash: 1_000_000.0,
		Broker:      DefaultBrokerConfig(),
	}
}

func (c EventConfig) Validate() error {
	if c.InitialCash <= 0 {
		return fmt.Errorf("config: initial_cash must be > 0, got %v", c.InitialCash)
	}
	return c.Broker.Validate()
}
