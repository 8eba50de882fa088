// internal/venue/venue.go
// Package venue abstracts the trading surfaces a position can execute
// against: the launchpad curve pool, the migrated AMM, and an
// aggregator fallback.
package venue

import (
	"context"
	"errors"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/rovshanmuradov/solana-sniper/internal/programs/computebudget"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

var (
	// ErrPoolMigrated signals that the curve pool has graduated and
	// sells must move to the migrated venue. It is a branch signal,
	// not a failure.
	ErrPoolMigrated = errors.New("pool migrated to AMM")

	// ErrNotSupported marks an operation a venue cannot perform.
	ErrNotSupported = errors.New("operation not supported by venue")
)

// Program error surfaces for a completed curve. The error arrives as a
// program log fragment, a custom error code, or its hex form depending
// on the RPC path.
var migrationMarkers = []string{
	"PoolIsCompleted",
	"0x177d",
	"6013",
}

// IsMigrationError reports whether err is the completed-curve
// rejection.
func IsMigrationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolMigrated) {
		return true
	}
	msg := err.Error()
	for _, marker := range migrationMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Reserves is a pool reserve snapshot. Quote is in lamports.
type Reserves struct {
	Base  uint64
	Quote uint64
}

// BuyParams describes one entry swap.
type BuyParams struct {
	Mint            solana.PublicKey
	Pool            solana.PublicKey
	LamportsIn      uint64
	SlippagePercent float64
	Budget          computebudget.Budget
	Extra           []solana.Instruction // tip transfer and similar riders
}

// SellParams describes one exit swap.
type SellParams struct {
	Mint            solana.PublicKey
	Pool            solana.PublicKey
	TokenAmount     uint64
	SlippagePercent float64
	Budget          computebudget.Budget
	Extra           []solana.Instruction
}

// Venue builds signed swap transactions for one trading surface.
type Venue interface {
	Name() string
	BuildBuy(ctx context.Context, p BuyParams) (*solana.Transaction, error)
	BuildSell(ctx context.Context, p SellParams) (*solana.Transaction, error)
	Reserves(ctx context.Context, pool solana.PublicKey) (Reserves, error)
}

// ChainClient is the RPC surface venues need.
type ChainClient interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// Deps carries shared venue dependencies.
type Deps struct {
	Client ChainClient
	Wallet *wallet.Wallet
}

// minOut applies slippage tolerance to an expected output.
func minOut(expected uint64, slippagePercent float64) uint64 {
	if slippagePercent <= 0 {
		return expected
	}
	if slippagePercent >= 100 {
		return 0
	}
	return uint64(float64(expected) * (100 - slippagePercent) / 100)
}

// constantProductOut prices a swap of amountIn against the reserves.
func constantProductOut(reserveIn, reserveOut, amountIn uint64) uint64 {
	if reserveIn == 0 || amountIn == 0 {
		return 0
	}
	return uint64(float64(reserveOut) * float64(amountIn) / (float64(reserveIn) + float64(amountIn)))
}
