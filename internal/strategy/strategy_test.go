package strategy

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"crypto-trading-agent/internal/domain"
)

// Helper to feed a close series as candles, returning every signal
// emitted along the way.
func feedCloses(s Strategy, instrument string, tf domain.Timeframe, closes []int64, view *AccountView) []domain.StrategySignal {
	ctx := context.Background()
	var all []domain.StrategySignal
	step := tf.DurationMs()
	for i, c := range closes {
		all = append(all, s.OnCandle(ctx, &domain.Candle{
			Instrument: instrument,
			Timeframe:  tf,
			OpenTime:   int64(i) * step,
			Close:      decimal.NewFromInt(c),
		}, view)...)
	}
	return all
}

func emptyView() *AccountView {
	return &AccountView{
		Positions: map[string]*domain.Position{},
		Marks:     map[string]decimal.Decimal{},
		OpenQty:   map[string]decimal.Decimal{},
	}
}

func TestSMACross_BuyOnUpwardCross(t *testing.T) {
	s := NewSMACross("sma", []string{"BTC-USD"}, domain.Timeframe1m, 2, 4, decimal.NewFromInt(1))

	// Falling series primes the fast-below-slow state, then a sharp
	// rise crosses upward.
	signals := feedCloses(s, "BTC-USD", domain.Timeframe1m, []int64{110, 108, 106, 104, 102, 120, 140}, emptyView())
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Side != domain.SideBuy {
		t.Errorf("expected BUY, got %s", sig.Side)
	}
	if sig.Kind != domain.SignalKindOrder {
		t.Errorf("expected ORDER signal, got %s", sig.Kind)
	}
	if !sig.Quantity.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected quantity 1, got %s", sig.Quantity)
	}
}

func TestSMACross_SellOnDownwardCross(t *testing.T) {
	s := NewSMACross("sma", []string{"BTC-USD"}, domain.Timeframe1m, 2, 4, decimal.NewFromInt(1))

	signals := feedCloses(s, "BTC-USD", domain.Timeframe1m, []int64{100, 102, 104, 106, 108, 90, 70}, emptyView())
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Side != domain.SideSell {
		t.Errorf("expected SELL, got %s", signals[0].Side)
	}
}

func TestSMACross_NoSignalWithoutCross(t *testing.T) {
	s := NewSMACross("sma", []string{"BTC-USD"}, domain.Timeframe1m, 2, 4, decimal.NewFromInt(1))

	signals := feedCloses(s, "BTC-USD", domain.Timeframe1m, []int64{100, 101, 102, 103, 104, 105, 106}, emptyView())
	if len(signals) != 0 {
		t.Fatalf("steady trend must not signal, got %d signals", len(signals))
	}
}

func TestSMACross_IgnoresOtherTimeframesAndInstruments(t *testing.T) {
	s := NewSMACross("sma", []string{"BTC-USD"}, domain.Timeframe1m, 2, 4, decimal.NewFromInt(1))
	view := emptyView()

	if got := feedCloses(s, "ETH-USD", domain.Timeframe1m, []int64{110, 108, 106, 104, 102, 120, 140}, view); len(got) != 0 {
		t.Errorf("unsubscribed instrument signaled: %v", got)
	}
	if got := feedCloses(s, "BTC-USD", domain.Timeframe5m, []int64{110, 108, 106, 104, 102, 120, 140}, view); len(got) != 0 {
		t.Errorf("wrong timeframe signaled: %v", got)
	}
}

func TestSMACross_Deterministic(t *testing.T) {
	closes := []int64{110, 108, 106, 104, 102, 120, 140, 130, 100, 90}
	var first []domain.StrategySignal
	for run := 0; run < 5; run++ {
		s := NewSMACross("sma", []string{"BTC-USD"}, domain.Timeframe1m, 2, 4, decimal.NewFromInt(1))
		ctx := context.Background()
		var all []domain.StrategySignal
		for i, c := range closes {
			all = append(all, s.OnCandle(ctx, &domain.Candle{
				Instrument: "BTC-USD",
				Timeframe:  domain.Timeframe1m,
				OpenTime:   int64(i) * 60_000,
				Close:      decimal.NewFromInt(c),
			}, emptyView())...)
		}
		if run == 0 {
			first = all
			continue
		}
		if len(all) != len(first) {
			t.Fatalf("run %d: %d signals, first run had %d", run, len(all), len(first))
		}
		for i := range all {
			if all[i].Side != first[i].Side || all[i].Timestamp != first[i].Timestamp {
				t.Fatalf("run %d: signal %d differs from first run", run, i)
			}
		}
	}
}

func TestTargetRebalance_SignalsOutsideBand(t *testing.T) {
	s := NewTargetRebalance("reb", map[string]decimal.Decimal{
		"BTC-USD": decimal.NewFromInt(10),
	}, decimal.NewFromInt(1))

	view := emptyView()
	view.Positions["BTC-USD"] = &domain.Position{Instrument: "BTC-USD", Quantity: decimal.NewFromInt(5)}

	tick := &domain.Tick{Instrument: "BTC-USD", Price: decimal.NewFromInt(100), Timestamp: 1000}
	signals := s.OnTick(context.Background(), tick, view)
	if len(signals) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals))
	}
	if signals[0].Kind != domain.SignalKindTarget {
		t.Errorf("expected TARGET signal, got %s", signals[0].Kind)
	}
	if !signals[0].Target.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected target 10, got %s", signals[0].Target)
	}
}

func TestTargetRebalance_QuietInsideBand(t *testing.T) {
	s := NewTargetRebalance("reb", map[string]decimal.Decimal{
		"BTC-USD": decimal.NewFromInt(10),
	}, decimal.NewFromInt(1))

	view := emptyView()
	view.Positions["BTC-USD"] = &domain.Position{Instrument: "BTC-USD", Quantity: decimal.NewFromInt(10)}

	tick := &domain.Tick{Instrument: "BTC-USD", Price: decimal.NewFromInt(100), Timestamp: 1000}
	if got := s.OnTick(context.Background(), tick, view); len(got) != 0 {
		t.Fatalf("on-target position must not signal, got %d signals", len(got))
	}
}

func TestTargetRebalance_CountsOpenOrders(t *testing.T) {
	s := NewTargetRebalance("reb", map[string]decimal.Decimal{
		"BTC-USD": decimal.NewFromInt(10),
	}, decimal.Zero)

	view := emptyView()
	view.Positions["BTC-USD"] = &domain.Position{Instrument: "BTC-USD", Quantity: decimal.NewFromInt(4)}
	view.OpenQty["BTC-USD"] = decimal.NewFromInt(6) // buy already working

	tick := &domain.Tick{Instrument: "BTC-USD", Price: decimal.NewFromInt(100), Timestamp: 1000}
	if got := s.OnTick(context.Background(), tick, view); len(got) != 0 {
		t.Fatalf("working orders cover the gap, got %d signals", len(got))
	}
}
