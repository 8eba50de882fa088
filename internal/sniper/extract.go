// internal/sniper/extract.go
package sniper

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/rovshanmuradov/solana-sniper/internal/venue"
)

var (
	errNoMintFound = errors.New("no tradable mint in transaction")
	errNoPoolFound = errors.New("no pool account in transaction")
)

// AccountBatchReader fetches account metadata for pool scanning.
type AccountBatchReader interface {
	GetMultipleAccounts(ctx context.Context, pubkeys []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
}

// extractMint finds the launched token in the creating transaction's
// token balance deltas. Wrapped SOL and 0-decimal (NFT) mints are
// ignored; among the rest the largest positive delta wins.
func extractMint(meta *rpc.TransactionMeta) (solana.PublicKey, error) {
	if meta == nil {
		return solana.PublicKey{}, errNoMintFound
	}

	pre := make(map[solana.PublicKey]uint64)
	for _, balance := range meta.PreTokenBalances {
		amount := parseAmount(balance.UiTokenAmount)
		pre[balance.Mint] += amount
	}

	var best solana.PublicKey
	var bestDelta uint64
	for _, balance := range meta.PostTokenBalances {
		if balance.Mint.Equals(solana.SolMint) {
			continue
		}
		if balance.UiTokenAmount != nil && balance.UiTokenAmount.Decimals == 0 {
			continue
		}

		post := parseAmount(balance.UiTokenAmount)
		preAmount := pre[balance.Mint]
		if post <= preAmount {
			continue
		}
		delta := post - preAmount
		if delta > bestDelta {
			bestDelta = delta
			best = balance.Mint
		}
	}

	if best.IsZero() {
		return solana.PublicKey{}, errNoMintFound
	}
	return best, nil
}

func parseAmount(amount *rpc.UiTokenAmount) uint64 {
	if amount == nil {
		return 0
	}
	parsed, err := strconv.ParseUint(amount.Amount, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

// findPool scans the transaction's account keys for the pool account:
// owned by the curve program with the pool account size. Falls back to
// PDA derivation when the scan comes up empty.
func findPool(ctx context.Context, reader AccountBatchReader, keys []solana.PublicKey, mint solana.PublicKey) (solana.PublicKey, error) {
	result, err := reader.GetMultipleAccounts(ctx, keys)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("scan transaction accounts: %w", err)
	}

	if result != nil {
		for i, account := range result.Value {
			if account == nil || i >= len(keys) {
				continue
			}
			if !account.Owner.Equals(venue.CurveProgramID) {
				continue
			}
			if len(account.Data.GetBinary()) != venue.CurvePoolAccountSize {
				continue
			}
			return keys[i], nil
		}
	}

	pool, err := venue.DerivePool(mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", errNoPoolFound, err)
	}
	return pool, nil
}
