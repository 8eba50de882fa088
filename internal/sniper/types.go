// internal/sniper/types.go
// Package sniper drives the position lifecycle: detection intake,
// gated entry, exit monitoring, and escalating sell execution.
package sniper

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-sniper/internal/venue"
)

// Position is one open holding and its entry snapshot. The snapshot
// anchors every exit trigger.
type Position struct {
	Mint         solana.PublicKey
	Pool         solana.PublicKey
	TokenAccount solana.PublicKey
	Creator      solana.PublicKey

	EntrySig    solana.Signature
	TokenAmount uint64
	LamportsIn  uint64

	EntryReserves venue.Reserves
	EntryProgress float64
	EntryPriceSol float64
	OpenedAt      time.Time
}

// ExitReason names what pulled the trigger.
type ExitReason string

const (
	ReasonBlindDelay     ExitReason = "blind_delay"
	ReasonTargetReached  ExitReason = "target_reached"
	ReasonStopLoss       ExitReason = "stop_loss"
	ReasonMaxHold        ExitReason = "max_hold"
	ReasonLiquiditySpike ExitReason = "liquidity_spike"
	ReasonShutdown       ExitReason = "shutdown"
)

// Emergency reports whether the reason warrants race submission.
func (r ExitReason) Emergency() bool {
	return r == ReasonLiquiditySpike
}

// Submitter is the relay surface the controllers use. The transactions
// of one call ride in one bundle.
type Submitter interface {
	SubmitFailover(ctx context.Context, txs ...*solana.Transaction) (solana.Signature, error)
	SubmitRace(ctx context.Context, txs ...*solana.Transaction) (solana.Signature, error)
	TipInstruction(payer solana.PublicKey) solana.Instruction
}

// Confirmer is the confirmation-tracker surface.
type Confirmer interface {
	AwaitEntry(ctx context.Context, sig solana.Signature, tokenAccount solana.PublicKey) (uint64, error)
	AwaitExit(ctx context.Context, sig solana.Signature, tokenAccount solana.PublicKey) error
	AwaitConfirmation(ctx context.Context, sig solana.Signature) error
}

// CurvePool is the curve venue surface, including the curve-specific
// reads the generic Venue interface does not carry.
type CurvePool interface {
	venue.Venue
	Progress(ctx context.Context, pool solana.PublicKey) (float64, error)
	Creator(ctx context.Context, pool solana.PublicKey) (solana.PublicKey, error)
}

// Registry bounds concurrent positions.
type Registry interface {
	TryAcquire(mint string) bool
	Release(mint string)
}
