package marketdata

import (
	"crypto-trading-agent/internal/domain"
)

// CandleAggregator builds OHLCV candles from normalized ticks. Ticks must
// arrive in normalized order (non-decreasing timestamps per instrument);
// a candle is emitted when the first tick of the next bucket arrives.
type CandleAggregator struct {
	timeframes []domain.Timeframe
	open       map[bucketKey]*domain.Candle
}

type bucketKey struct {
	instrument string
	timeframe  domain.Timeframe
}

// NewCandleAggregator aggregates into the given timeframes.
func NewCandleAggregator(timeframes []domain.Timeframe) *CandleAggregator {
	return &CandleAggregator{
		timeframes: timeframes,
		open:       make(map[bucketKey]*domain.Candle),
	}
}

// Add folds one tick into all timeframe buckets and returns any candles
// completed by it.
func (a *CandleAggregator) Add(t *domain.Tick) []*domain.Candle {
	var completed []*domain.Candle

	for _, tf := range a.timeframes {
		dur := tf.DurationMs()
		if dur == 0 {
			continue
		}
		openTime := t.Timestamp - t.Timestamp%dur
		key := bucketKey{instrument: t.Instrument, timeframe: tf}

		cur := a.open[key]
		if cur != nil && cur.OpenTime != openTime {
			completed = append(completed, cur)
			cur = nil
		}
		if cur == nil {
			a.open[key] = &domain.Candle{
				Instrument: t.Instrument,
				Timeframe:  tf,
				OpenTime:   openTime,
				Open:       t.Price,
				High:       t.Price,
				Low:        t.Price,
				Close:      t.Price,
				Volume:     t.Volume,
				TradeCount: 1,
			}
			continue
		}

		if t.Price.GreaterThan(cur.High) {
			cur.High = t.Price
		}
		if t.Price.LessThan(cur.Low) {
			cur.Low = t.Price
		}
		cur.Close = t.Price
		cur.Volume = cur.Volume.Add(t.Volume)
		cur.TradeCount++
	}

	return completed
}

// Flush returns all open candles and resets the aggregator. Used at
// shutdown so partial buckets are not lost.
func (a *CandleAggregator) Flush() []*domain.Candle {
	out := make([]*domain.Candle, 0, len(a.open))
	for _, c := range a.open {
		out = append(out, c)
	}
	a.open = make(map[bucketKey]*domain.Candle)
	return out
}
