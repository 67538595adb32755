package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"crypto-trading-agent/internal/domain"
)

func btcIntent(side domain.Side, qty, price int64) domain.OrderIntent {
	return domain.OrderIntent{
		StrategyID: "test",
		Instrument: "BTC-USDT",
		Side:       side,
		Type:       domain.OrderTypeLimit,
		Quantity:   decimal.NewFromInt(qty),
		Price:      decimal.NewFromInt(price),
		Timestamp:  1000,
	}
}

func viewWithPosition(qty int64, mark int64) StateView {
	return StateView{
		Positions: map[string]*domain.Position{
			"BTC-USDT": {
				Instrument: "BTC-USDT",
				Quantity:   decimal.NewFromInt(qty),
				AvgCost:    decimal.NewFromInt(mark),
			},
		},
		Marks: map[string]decimal.Decimal{"BTC-USDT": decimal.NewFromInt(mark)},
		Now:   1000,
	}
}

// Scenario from the risk design: cap 100 units at unit price, position
// 90, buy 20 → denied on the per-instrument cap.
func TestEvaluate_PerInstrumentExposureCap(t *testing.T) {
	limits := domain.RiskLimits{DefaultMaxExposure: decimal.NewFromInt(100)}
	view := viewWithPosition(90, 1)

	d := Evaluate(btcIntent(domain.SideBuy, 20, 1), view, limits)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonPerInstrumentExposure, d.Reason)

	// Buying 10 lands exactly on the cap and passes.
	d = Evaluate(btcIntent(domain.SideBuy, 10, 1), view, limits)
	assert.True(t, d.Approved)

	// Selling reduces exposure and always passes the cap.
	d = Evaluate(btcIntent(domain.SideSell, 20, 1), view, limits)
	assert.True(t, d.Approved)
}

func TestEvaluate_PortfolioExposureCap(t *testing.T) {
	limits := domain.RiskLimits{MaxPortfolioExposure: decimal.NewFromInt(1000)}
	view := StateView{
		Positions: map[string]*domain.Position{
			"ETH-USDT": {Instrument: "ETH-USDT", Quantity: decimal.NewFromInt(100), AvgCost: decimal.NewFromInt(8)},
		},
		Marks: map[string]decimal.Decimal{
			"ETH-USDT": decimal.NewFromInt(8),
			"BTC-USDT": decimal.NewFromInt(50),
		},
		Now: 1000,
	}

	// 800 existing + 5*50 = 1050 > 1000
	d := Evaluate(btcIntent(domain.SideBuy, 5, 50), view, limits)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonPortfolioExposure, d.Reason)

	// 800 + 200 = 1000, at the cap
	d = Evaluate(btcIntent(domain.SideBuy, 4, 50), view, limits)
	assert.True(t, d.Approved)
}

func TestEvaluate_OrderRateSlidingWindow(t *testing.T) {
	limits := domain.RiskLimits{MaxOrderRate: 3, OrderRateWindow: 10 * time.Second}
	view := StateView{
		Now:               20_000,
		RecentSubmissions: []int64{11_000, 14_000, 19_000},
	}

	d := Evaluate(btcIntent(domain.SideBuy, 1, 10), view, limits)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonOrderRate, d.Reason)

	// One submission slid out of the window.
	view.RecentSubmissions = []int64{9_000, 14_000, 19_000}
	d = Evaluate(btcIntent(domain.SideBuy, 1, 10), view, limits)
	assert.True(t, d.Approved)
}

func TestEvaluate_DailyLossCap(t *testing.T) {
	limits := domain.RiskLimits{MaxDailyLoss: decimal.NewFromInt(500)}

	// Realized -300, unrealized (90-100)*20 = -200 → total -500, at cap
	view := StateView{
		Positions: map[string]*domain.Position{
			"BTC-USDT": {Instrument: "BTC-USDT", Quantity: decimal.NewFromInt(20), AvgCost: decimal.NewFromInt(100)},
		},
		Marks:         map[string]decimal.Decimal{"BTC-USDT": decimal.NewFromInt(90)},
		RealizedToday: decimal.NewFromInt(-300),
		Now:           1000,
	}
	d := Evaluate(btcIntent(domain.SideBuy, 1, 90), view, limits)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonDailyLoss, d.Reason)

	view.RealizedToday = decimal.NewFromInt(-200)
	d = Evaluate(btcIntent(domain.SideBuy, 1, 90), view, limits)
	assert.True(t, d.Approved)
}

func TestEvaluate_KillSwitchPrecedesEverything(t *testing.T) {
	limits := domain.RiskLimits{KillSwitch: true}
	d := Evaluate(btcIntent(domain.SideBuy, 1, 1), StateView{Now: 1000}, limits)
	assert.False(t, d.Approved)
	assert.Equal(t, ReasonKillSwitch, d.Reason)
}

func TestEvaluate_ShortCircuitOrder(t *testing.T) {
	// Violates both the instrument cap and the rate limit; the
	// instrument cap is checked first.
	limits := domain.RiskLimits{
		DefaultMaxExposure: decimal.NewFromInt(10),
		MaxOrderRate:       1,
		OrderRateWindow:    time.Minute,
	}
	view := viewWithPosition(0, 1)
	view.RecentSubmissions = []int64{999}

	d := Evaluate(btcIntent(domain.SideBuy, 100, 1), view, limits)
	assert.Equal(t, ReasonPerInstrumentExposure, d.Reason)
}

// Evaluate is a pure function: identical inputs always yield the
// identical decision.
func TestEvaluate_Deterministic(t *testing.T) {
	limits := domain.RiskLimits{
		DefaultMaxExposure:   decimal.NewFromInt(1000),
		MaxPortfolioExposure: decimal.NewFromInt(5000),
		MaxOrderRate:         10,
		OrderRateWindow:      time.Minute,
		MaxDailyLoss:         decimal.NewFromInt(100),
	}
	view := viewWithPosition(3, 50)
	intent := btcIntent(domain.SideBuy, 2, 50)

	first := Evaluate(intent, view, limits)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, Evaluate(intent, view, limits))
	}
}

func TestEvaluate_NoLimitsApprovesEverything(t *testing.T) {
	d := Evaluate(btcIntent(domain.SideBuy, 1_000_000, 99_999), StateView{Now: 1}, domain.RiskLimits{})
	assert.True(t, d.Approved)
	assert.Equal(t, ReasonNone, d.Reason)
}
