// Package risk implements hard risk guardrails applied to every BUY order
// the ChannelHF strategy emits, independent of and on top of its own entry
// pipeline.
//
// Design rules (from spec):
//   - Risk rules are implemented in Go, not configuration the strategy can
//     relax.
//   - Every BUY order must carry an initial stop.
//   - Capital preservation takes priority over returns.
//   - The manager prefers rejecting a trade over approving a bad one.
package risk

import (
	"fmt"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
)

// RejectionReason explains why an order was rejected by risk management.
type RejectionReason struct {
	Rule    string
	Message string
}

func (r RejectionReason) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", r.Rule, r.Message)
}

// ValidationResult holds the outcome of risk validation for one order.
type ValidationResult struct {
	Approved   bool
	Order      barmodel.Order
	Rejections []RejectionReason
}

// DailyPnL tracks realized and unrealized P&L for the current trading day.
type DailyPnL struct {
	Date          time.Time
	RealizedPnL   float64
	UnrealizedPnL float64
}

// Manager enforces every hard risk rule. It is the final gatekeeper between
// a strategy's BUY order and the broker; SELL orders always pass through
// unmodified so a position can always be closed.
type Manager struct {
	config       config.RiskConfig
	totalCapital float64
}

// NewManager creates a Manager with the given configuration and capital
// base used for percentage-denominated limits.
func NewManager(riskCfg config.RiskConfig, totalCapital float64) *Manager {
	return &Manager{config: riskCfg, totalCapital: totalCapital}
}

// UpdateCapital updates the capital base used for percentage-based limits.
// Called once per trading day with the broker's current equity.
func (m *Manager) UpdateCapital(newCapital float64) {
	if newCapital > 0 {
		m.totalCapital = newCapital
	}
}

// Validate checks order against every hard risk rule. openPositions is the
// broker's current position set; availableCapital is cash on hand.
func (m *Manager) Validate(
	order barmodel.Order,
	openPositions map[string]*barmodel.PositionState,
	dailyPnL DailyPnL,
	availableCapital float64,
) ValidationResult {
	result := ValidationResult{Approved: true, Order: order}

	if order.IsSell() {
		return result
	}

	m.checkStopLoss(&result, order)
	m.checkMaxRiskPerTrade(&result, order)
	m.checkMaxOpenPositions(&result, order, openPositions)
	m.checkMaxDailyLoss(&result, dailyPnL)
	m.checkMaxCapitalDeployment(&result, order, openPositions, availableCapital)
	m.checkPositionSize(&result, order, availableCapital)

	return result
}

func (m *Manager) entryPrice(order barmodel.Order) float64 {
	switch {
	case order.OpenPrice > 0:
		return order.OpenPrice
	case order.LimitPrice > 0:
		return order.LimitPrice
	default:
		return 0
	}
}

// checkStopLoss ensures every BUY order carries a stop below its intended
// entry price. When the order has no forced/limit price (a pure market
// order), only presence of a stop is checked; the broker does not compare
// the stop with the fill price either.
func (m *Manager) checkStopLoss(result *ValidationResult, order barmodel.Order) {
	if order.InitialStop <= 0 {
		m.reject(result, "MANDATORY_STOP_LOSS", "every BUY order must carry an initial stop")
		return
	}
	px := m.entryPrice(order)
	if px > 0 && order.InitialStop >= px {
		m.reject(result, "INVALID_STOP_LOSS", fmt.Sprintf(
			"stop %.4f must be below intended entry %.4f", order.InitialStop, px,
		))
	}
}

// checkMaxRiskPerTrade ensures the dollar risk implied by qty*(entry-stop)
// doesn't exceed the configured percentage of total capital. Orders with
// no known entry price (pure market orders) skip this check, as they skip
// checkPositionSize; only the broker's own cash check applies to them.
func (m *Manager) checkMaxRiskPerTrade(result *ValidationResult, order barmodel.Order) {
	px := m.entryPrice(order)
	if px <= 0 || order.InitialStop <= 0 {
		return
	}
	riskPerShare := px - order.InitialStop
	totalRisk := riskPerShare * order.Qty
	maxAllowedRisk := m.totalCapital * (m.config.MaxRiskPerTradePct / 100.0)
	if totalRisk > maxAllowedRisk {
		m.reject(result, "MAX_RISK_PER_TRADE", fmt.Sprintf(
			"trade risk %.2f exceeds max allowed %.2f (%.2f%% of %.2f)",
			totalRisk, maxAllowedRisk, m.config.MaxRiskPerTradePct, m.totalCapital,
		))
	}
}

// checkMaxOpenPositions rejects new entries into a symbol already held and
// enforces the position-count ceiling.
func (m *Manager) checkMaxOpenPositions(result *ValidationResult, order barmodel.Order, positions map[string]*barmodel.PositionState) {
	if _, exists := positions[order.Symbol]; exists {
		m.reject(result, "DUPLICATE_POSITION", fmt.Sprintf("already have an open position in %s", order.Symbol))
		return
	}
	if len(positions) >= m.config.MaxOpenPositions {
		m.reject(result, "MAX_OPEN_POSITIONS", fmt.Sprintf(
			"at position limit: %d/%d", len(positions), m.config.MaxOpenPositions,
		))
	}
}

// checkMaxDailyLoss blocks new entries once the day's realized+unrealized
// loss reaches the configured ceiling; exits remain unaffected.
func (m *Manager) checkMaxDailyLoss(result *ValidationResult, dailyPnL DailyPnL) {
	total := dailyPnL.RealizedPnL + dailyPnL.UnrealizedPnL
	maxDailyLoss := m.totalCapital * (m.config.MaxDailyLossPct / 100.0)
	if total < 0 && (-total) >= maxDailyLoss {
		m.reject(result, "MAX_DAILY_LOSS", fmt.Sprintf(
			"daily loss %.2f has reached limit %.2f", -total, maxDailyLoss,
		))
	}
}

// checkMaxCapitalDeployment ensures total capital committed (existing
// positions at cost plus the proposed order) stays under the ceiling.
func (m *Manager) checkMaxCapitalDeployment(
	result *ValidationResult,
	order barmodel.Order,
	positions map[string]*barmodel.PositionState,
	availableCapital float64,
) {
	var deployed float64
	for _, pos := range positions {
		deployed += pos.EntryNotional
	}
	px := m.entryPrice(order)
	if px <= 0 {
		return
	}
	proposed := deployed + px*order.Qty
	maxDeployment := m.totalCapital * (m.config.MaxCapitalDeploymentPct / 100.0)
	if proposed > maxDeployment {
		m.reject(result, "MAX_CAPITAL_DEPLOYMENT", fmt.Sprintf(
			"total deployment %.2f would exceed limit %.2f (%.2f%% of %.2f)",
			proposed, maxDeployment, m.config.MaxCapitalDeploymentPct, m.totalCapital,
		))
	}
}

// checkPositionSize ensures the proposed notional is affordable against
// available cash. Orders with no known entry price are left to the
// broker's own cash check.
func (m *Manager) checkPositionSize(result *ValidationResult, order barmodel.Order, availableCapital float64) {
	px := m.entryPrice(order)
	if px <= 0 {
		return
	}
	cost := px * order.Qty
	if cost > availableCapital {
		m.reject(result, "INSUFFICIENT_CAPITAL", fmt.Sprintf(
			"order cost %.2f exceeds available capital %.2f", cost, availableCapital,
		))
	}
}

func (m *Manager) reject(result *ValidationResult, rule, message string) {
	result.Approved = false
	result.Rejections = append(result.Rejections, RejectionReason{Rule: rule, Message: message})
}
