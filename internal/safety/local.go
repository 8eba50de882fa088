// internal/safety/local.go
package safety

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/chain"
	"github.com/rovshanmuradov/solana-sniper/internal/config"
)

const (
	mintAccountSize = 82

	mintAuthorityOptionOffset   = 0
	supplyOffset                = 36
	decimalsOffset              = 44
	freezeAuthorityOptionOffset = 46

	topHoldersConsidered = 10
)

var metadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// ChainReader is the RPC surface the local gate needs.
type ChainReader interface {
	GetAccountInfo(ctx context.Context, pubkey solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey) (*rpc.GetTokenLargestAccountsResult, error)
}

// LocalGate answers safety questions from chain state alone: mint and
// freeze authority must be revoked, metadata must be immutable, and no
// single holder may own more than the configured share of supply. Each
// authority check can be waived in config.
type LocalGate struct {
	reader ChainReader
	cfg    config.SafetyConfig
	logger *zap.Logger
}

// NewLocalGate creates the on-chain gate.
func NewLocalGate(reader ChainReader, cfg config.SafetyConfig, logger *zap.Logger) *LocalGate {
	return &LocalGate{
		reader: reader,
		cfg:    cfg,
		logger: logger.Named("safety_local"),
	}
}

// Check runs all local checks. RPC failures surface as errors, not
// verdicts, so callers can distinguish "unsafe" from "unknown" in logs;
// both block entry.
func (g *LocalGate) Check(ctx context.Context, mint solana.PublicKey) (*Report, error) {
	report := &Report{Mint: mint.String(), Safe: true}

	info, err := g.reader.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("read mint account: %w", err)
	}
	if info == nil || info.Value == nil {
		return nil, chain.ErrAccountNotFound
	}

	data := info.Value.Data.GetBinary()
	if len(data) < mintAccountSize {
		return nil, fmt.Errorf("mint account too small: %d bytes", len(data))
	}

	if g.cfg.AllowMintAuthority {
		report.add("mint_authority_revoked", true, "skipped: allowed by config")
	} else {
		mintAuthoritySet := binary.LittleEndian.Uint32(data[mintAuthorityOptionOffset:]) != 0
		report.add("mint_authority_revoked", !mintAuthoritySet, "")
	}

	if g.cfg.AllowFreezeAuthority {
		report.add("freeze_authority_revoked", true, "skipped: allowed by config")
	} else {
		freezeAuthoritySet := binary.LittleEndian.Uint32(data[freezeAuthorityOptionOffset:]) != 0
		report.add("freeze_authority_revoked", !freezeAuthoritySet, "")
	}

	if g.cfg.AllowMutable {
		report.add("metadata_immutable", true, "skipped: allowed by config")
	} else {
		mutable, err := g.metadataMutable(ctx, mint)
		if err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
		report.add("metadata_immutable", !mutable, "")
	}

	supply := binary.LittleEndian.Uint64(data[supplyOffset:])
	decimals := data[decimalsOffset]
	if supply == 0 || decimals == 0 {
		// Zero supply or an NFT-shaped mint: concentration is
		// meaningless, skip the check.
		report.add("holder_concentration", true, "skipped: zero supply or NFT mint")
	} else {
		maxPct, err := g.topHolderPct(ctx, mint, supply)
		if err != nil {
			return nil, fmt.Errorf("read holders: %w", err)
		}
		report.add("holder_concentration",
			maxPct <= g.cfg.MaxHolderPct,
			fmt.Sprintf("max holder %.2f%%, limit %.2f%%", maxPct, g.cfg.MaxHolderPct))
	}

	for _, check := range report.Checks {
		g.logger.Debug("Safety check",
			zap.String("mint", report.Mint),
			zap.String("check", check.Name),
			zap.Bool("passed", check.Passed),
			zap.String("detail", check.Detail))
	}

	return report, nil
}

// metadataMutable resolves the metadata PDA and reads its mutability
// flag. A missing metadata account counts as immutable.
func (g *LocalGate) metadataMutable(ctx context.Context, mint solana.PublicKey) (bool, error) {
	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), metadataProgramID.Bytes(), mint.Bytes()},
		metadataProgramID,
	)
	if err != nil {
		return false, fmt.Errorf("derive metadata address: %w", err)
	}

	info, err := g.reader.GetAccountInfo(ctx, pda)
	if err != nil {
		if chain.IsAccountNotFoundError(err) {
			return false, nil
		}
		return false, err
	}
	if info == nil || info.Value == nil {
		return false, nil
	}

	data := info.Value.Data.GetBinary()
	if len(data) < 2 {
		return false, nil
	}
	return data[1] == 1, nil
}

// topHolderPct returns the largest single-holder share of supply among
// the top holders.
func (g *LocalGate) topHolderPct(ctx context.Context, mint solana.PublicKey, supply uint64) (float64, error) {
	largest, err := g.reader.GetTokenLargestAccounts(ctx, mint)
	if err != nil {
		return 0, err
	}
	if largest == nil || len(largest.Value) == 0 {
		return 0, nil
	}

	holders := largest.Value
	if len(holders) > topHoldersConsidered {
		holders = holders[:topHoldersConsidered]
	}

	var maxPct float64
	for _, holder := range holders {
		amount, err := strconv.ParseUint(holder.Amount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse holder amount %q: %w", holder.Amount, err)
		}
		pct := float64(amount) / float64(supply) * 100
		if pct > maxPct {
			maxPct = pct
		}
	}
	return maxPct, nil
}
