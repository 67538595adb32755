package marketdata

import (
	"errors"
	"time"

	"crypto-trading-agent/internal/domain"
)

// Drop errors returned by Normalizer.Accept. Both are expected during
// normal operation (feed reconnects replay messages); the caller logs
// and counts them, never treats them as fatal.
var (
	// ErrLateTick marks a tick older than the per-instrument watermark
	// by more than the configured tolerance.
	ErrLateTick = errors.New("tick is older than late tolerance, dropped")

	// ErrDuplicateTick marks a tick whose (instrument, timestamp,
	// sequence) key was already emitted within the dedup window.
	ErrDuplicateTick = errors.New("duplicate tick, dropped")
)

// NormalizerConfig controls late/duplicate handling.
type NormalizerConfig struct {
	// LateTolerance is how far behind the watermark a tick may arrive
	// and still be emitted (with its timestamp clamped to the
	// watermark, keeping the output non-decreasing).
	LateTolerance time.Duration

	// DedupWindow is how many recently emitted tick keys are retained
	// per instrument for duplicate detection.
	DedupWindow int
}

// DefaultNormalizerConfig returns production defaults.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		LateTolerance: 2 * time.Second,
		DedupWindow:   256,
	}
}

// Watermark is the restart point for one instrument stream.
type Watermark struct {
	Timestamp int64  // last emitted timestamp, Unix milliseconds
	Sequence  uint64 // last emitted sequence at that timestamp
}

// NormalizerCheckpoint captures per-instrument watermarks so a restarted
// normalizer resumes without re-emitting already processed ticks.
type NormalizerCheckpoint struct {
	Watermarks map[string]Watermark
}

// instrumentState tracks ordering and dedup state for one instrument.
type instrumentState struct {
	watermark Watermark
	seen      map[domain.TickKey]struct{}
	order     []domain.TickKey // FIFO eviction for the dedup window
}

// Normalizer converts raw feed ticks into an ordered, deduplicated
// stream with strictly non-decreasing timestamps per instrument. It
// retains no history beyond the dedup window.
//
// Not safe for concurrent use: each instrument pipeline owns one
// normalizer (or shares one within its single-threaded stage).
type Normalizer struct {
	cfg     NormalizerConfig
	streams map[string]*instrumentState

	// drop counters, exposed for metrics
	lateDropped uint64
	dupDropped  uint64
}

// NewNormalizer creates a normalizer with the given configuration.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultNormalizerConfig().DedupWindow
	}
	return &Normalizer{
		cfg:     cfg,
		streams: make(map[string]*instrumentState),
	}
}

// Accept validates one tick against the instrument stream. On success it
// returns the canonical tick to emit (the input, with its timestamp
// clamped to the watermark when it arrived late but within tolerance).
// ErrLateTick and ErrDuplicateTick mean the tick was dropped.
func (n *Normalizer) Accept(t *domain.Tick) (*domain.Tick, error) {
	st := n.streams[t.Instrument]
	if st == nil {
		st = &instrumentState{seen: make(map[domain.TickKey]struct{})}
		n.streams[t.Instrument] = st
	}

	key := t.Key()
	if _, dup := st.seen[key]; dup {
		n.dupDropped++
		return nil, ErrDuplicateTick
	}

	out := *t
	if t.Timestamp < st.watermark.Timestamp {
		lag := st.watermark.Timestamp - t.Timestamp
		if lag > n.cfg.LateTolerance.Milliseconds() {
			n.lateDropped++
			return nil, ErrLateTick
		}
		// Late but tolerable: clamp so the output stays non-decreasing.
		out.Timestamp = st.watermark.Timestamp
	}
	if t.Timestamp == st.watermark.Timestamp && t.Sequence <= st.watermark.Sequence && st.watermark.Sequence > 0 {
		n.dupDropped++
		return nil, ErrDuplicateTick
	}

	st.remember(key, n.cfg.DedupWindow)
	if out.Timestamp > st.watermark.Timestamp {
		st.watermark = Watermark{Timestamp: out.Timestamp, Sequence: t.Sequence}
	} else if t.Sequence > st.watermark.Sequence {
		st.watermark.Sequence = t.Sequence
	}
	return &out, nil
}

// Checkpoint returns the current per-instrument watermarks.
func (n *Normalizer) Checkpoint() NormalizerCheckpoint {
	cp := NormalizerCheckpoint{Watermarks: make(map[string]Watermark, len(n.streams))}
	for instrument, st := range n.streams {
		cp.Watermarks[instrument] = st.watermark
	}
	return cp
}

// Restore resets the normalizer to a previously captured checkpoint.
// The dedup window restarts empty; everything at or before a watermark
// is rejected by the ordering rules regardless.
func (n *Normalizer) Restore(cp NormalizerCheckpoint) {
	n.streams = make(map[string]*instrumentState, len(cp.Watermarks))
	for instrument, wm := range cp.Watermarks {
		n.streams[instrument] = &instrumentState{
			watermark: wm,
			seen:      make(map[domain.TickKey]struct{}),
		}
	}
}

// DroppedLate returns the count of ticks dropped as too late.
func (n *Normalizer) DroppedLate() uint64 { return n.lateDropped }

// DroppedDuplicate returns the count of ticks dropped as duplicates.
func (n *Normalizer) DroppedDuplicate() uint64 { return n.dupDropped }

func (s *instrumentState) remember(key domain.TickKey, window int) {
	s.seen[key] = struct{}{}
	s.order = append(s.order, key)
	for len(s.order) > window {
		delete(s.seen, s.order[0])
		s.order = s.order[1:]
	}
}
