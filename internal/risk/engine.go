// Package risk evaluates order intents against configured limits.
// Evaluate is a pure function of its inputs so decisions are
// deterministic and replayable.
package risk

import (
	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// DenyReason enumerates why an intent was denied. Callers branch on the
// value; there is no free-text reason.
type DenyReason string

// Deny reasons, in evaluation order.
const (
	ReasonNone                  DenyReason = ""
	ReasonKillSwitch            DenyReason = "KILL_SWITCH"
	ReasonPerInstrumentExposure DenyReason = "PER_INSTRUMENT_EXPOSURE"
	ReasonPortfolioExposure     DenyReason = "PORTFOLIO_EXPOSURE"
	ReasonOrderRate             DenyReason = "ORDER_RATE"
	ReasonDailyLoss             DenyReason = "DAILY_LOSS"
)

// Decision is the outcome of evaluating one intent.
type Decision struct {
	Approved bool
	Reason   DenyReason
}

func approve() Decision { return Decision{Approved: true} }

func deny(r DenyReason) Decision { return Decision{Approved: false, Reason: r} }

// StateView is the read-only snapshot Evaluate judges against. The
// caller assembles it; Evaluate holds no state of its own.
type StateView struct {
	// Positions keyed by instrument, last-committed ledger snapshots.
	Positions map[string]*domain.Position

	// Marks are the latest known prices, used for exposure and
	// mark-to-market P&L. An instrument without a mark falls back to
	// the intent price / its cost basis.
	Marks map[string]decimal.Decimal

	// RecentSubmissions are submit timestamps (Unix ms) of orders sent
	// within at least the rate window ending at Now.
	RecentSubmissions []int64

	// RealizedToday is today's realized P&L from the ledger.
	RealizedToday decimal.Decimal

	// Now is the evaluation time, Unix milliseconds.
	Now int64
}

// Evaluate checks an intent against the limits, short-circuiting on the
// first violation. Check order: per-instrument exposure, portfolio
// exposure, order rate, daily loss. The kill switch precedes everything.
func Evaluate(intent domain.OrderIntent, view StateView, limits domain.RiskLimits) Decision {
	if limits.KillSwitch {
		return deny(ReasonKillSwitch)
	}

	ref := referencePrice(intent, view)

	// (a) per-instrument exposure cap
	if instrumentCap := limits.InstrumentExposureCap(intent.Instrument); instrumentCap.IsPositive() {
		projected := projectedQuantity(intent, view).Abs().Mul(ref)
		if projected.GreaterThan(instrumentCap) {
			return deny(ReasonPerInstrumentExposure)
		}
	}

	// (b) portfolio exposure cap
	if limits.MaxPortfolioExposure.IsPositive() {
		total := projectedQuantity(intent, view).Abs().Mul(ref)
		for sym, pos := range view.Positions {
			if sym == intent.Instrument {
				continue
			}
			total = total.Add(pos.Exposure(markOrCost(pos, view)))
		}
		if total.GreaterThan(limits.MaxPortfolioExposure) {
			return deny(ReasonPortfolioExposure)
		}
	}

	// (c) order-rate limit, sliding window
	if limits.MaxOrderRate > 0 && limits.OrderRateWindow > 0 {
		cutoff := view.Now - limits.OrderRateWindow.Milliseconds()
		inWindow := 0
		for _, ts := range view.RecentSubmissions {
			if ts > cutoff && ts <= view.Now {
				inWindow++
			}
		}
		if inWindow+1 > limits.MaxOrderRate {
			return deny(ReasonOrderRate)
		}
	}

	// (d) daily loss cap: realized + mark-to-market unrealized
	if limits.MaxDailyLoss.IsPositive() {
		pnl := view.RealizedToday
		for _, pos := range view.Positions {
			if mark, ok := view.Marks[pos.Instrument]; ok {
				pnl = pnl.Add(pos.UnrealizedPnL(mark))
			}
		}
		if pnl.IsNegative() && pnl.Neg().GreaterThanOrEqual(limits.MaxDailyLoss) {
			return deny(ReasonDailyLoss)
		}
	}

	return approve()
}

// referencePrice picks the price used for notional math: the intent's
// limit price, else the instrument mark.
func referencePrice(intent domain.OrderIntent, view StateView) decimal.Decimal {
	if intent.Price.IsPositive() {
		return intent.Price
	}
	if mark, ok := view.Marks[intent.Instrument]; ok {
		return mark
	}
	return decimal.Zero
}

// projectedQuantity is the signed position after the intent fully fills.
func projectedQuantity(intent domain.OrderIntent, view StateView) decimal.Decimal {
	current := decimal.Zero
	if pos, ok := view.Positions[intent.Instrument]; ok {
		current = pos.Quantity
	}
	delta := intent.Quantity
	if intent.Side == domain.SideSell {
		delta = delta.Neg()
	}
	return current.Add(delta)
}

func markOrCost(pos *domain.Position, view StateView) decimal.Decimal {
	if mark, ok := view.Marks[pos.Instrument]; ok {
		return mark
	}
	return pos.AvgCost
}
