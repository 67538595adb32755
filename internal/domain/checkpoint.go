package domain

import "github.com/shopspring/decimal"

// LedgerCheckpoint is a periodic snapshot of ledger state. Restore loads
// the latest checkpoint and replays the fill journal from Sequence
// forward, so a checkpoint plus the journal suffix always reproduces the
// live ledger.
type LedgerCheckpoint struct {
	Sequence  uint64 // journal sequence of the last fill included
	Cash      decimal.Decimal
	Positions []*Position
	CreatedAt int64 // Unix milliseconds
}
