// internal/venue/damm.go
package venue

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/chain"
	"github.com/rovshanmuradov/solana-sniper/internal/programs/computebudget"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

// DammProgramID is the constant-product AMM pools graduate into.
var DammProgramID = solana.MustPublicKeyFromBase58("cpamdpZCGKUy5JxQXB4dcpGPiikHawvSWAd6mEn1sGG")

// Migrated pool state offsets.
const (
	dammTokenAMintOffset  = 8
	dammTokenBMintOffset  = 40
	dammTokenAVaultOffset = 72
	dammTokenBVaultOffset = 104
	dammReserveAOffset    = 136
	dammReserveBOffset    = 144

	dammPoolAccountMinSize = 152
)

// DammVenue sells on the migrated AMM after the curve graduates.
type DammVenue struct {
	client ChainClient
	wallet *wallet.Wallet
	logger *zap.Logger
}

// NewDammVenue creates the migrated-pool venue.
func NewDammVenue(deps Deps, logger *zap.Logger) *DammVenue {
	return &DammVenue{
		client: deps.Client,
		wallet: deps.Wallet,
		logger: logger.Named("damm"),
	}
}

func (v *DammVenue) Name() string { return "damm" }

// DeriveMigratedPool derives the AMM pool address a graduated mint
// lands in.
func DeriveMigratedPool(mint solana.PublicKey) (solana.PublicKey, error) {
	pool, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool"), mint.Bytes(), solana.SolMint.Bytes()},
		DammProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive migrated pool: %w", err)
	}
	return pool, nil
}

type dammState struct {
	TokenAMint  solana.PublicKey
	TokenBMint  solana.PublicKey
	TokenAVault solana.PublicKey
	TokenBVault solana.PublicKey
	ReserveA    uint64
	ReserveB    uint64
}

func (v *DammVenue) fetchPool(ctx context.Context, pool solana.PublicKey) (*dammState, error) {
	info, err := v.client.GetAccountInfo(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("read migrated pool: %w", err)
	}
	if info == nil || info.Value == nil {
		return nil, chain.ErrAccountNotFound
	}

	data := info.Value.Data.GetBinary()
	if len(data) < dammPoolAccountMinSize {
		return nil, fmt.Errorf("migrated pool account too small: %d bytes", len(data))
	}

	return &dammState{
		TokenAMint:  solana.PublicKeyFromBytes(data[dammTokenAMintOffset : dammTokenAMintOffset+32]),
		TokenBMint:  solana.PublicKeyFromBytes(data[dammTokenBMintOffset : dammTokenBMintOffset+32]),
		TokenAVault: solana.PublicKeyFromBytes(data[dammTokenAVaultOffset : dammTokenAVaultOffset+32]),
		TokenBVault: solana.PublicKeyFromBytes(data[dammTokenBVaultOffset : dammTokenBVaultOffset+32]),
		ReserveA:    binary.LittleEndian.Uint64(data[dammReserveAOffset:]),
		ReserveB:    binary.LittleEndian.Uint64(data[dammReserveBOffset:]),
	}, nil
}

// Reserves returns the migrated pool snapshot with the token side as
// base and SOL as quote.
func (v *DammVenue) Reserves(ctx context.Context, pool solana.PublicKey) (Reserves, error) {
	state, err := v.fetchPool(ctx, pool)
	if err != nil {
		return Reserves{}, err
	}
	return state.reserves(), nil
}

func (s *dammState) reserves() Reserves {
	if s.TokenAMint.Equals(solana.SolMint) {
		return Reserves{Base: s.ReserveB, Quote: s.ReserveA}
	}
	return Reserves{Base: s.ReserveA, Quote: s.ReserveB}
}

// BuildBuy is unused in practice; entries always happen on the curve.
func (v *DammVenue) BuildBuy(ctx context.Context, p BuyParams) (*solana.Transaction, error) {
	return v.buildSwap(ctx, p.Pool, p.Mint, true, p.LamportsIn, p.SlippagePercent, p.Budget, p.Extra)
}

// BuildSell builds a signed sell against the migrated pool.
func (v *DammVenue) BuildSell(ctx context.Context, p SellParams) (*solana.Transaction, error) {
	return v.buildSwap(ctx, p.Pool, p.Mint, false, p.TokenAmount, p.SlippagePercent, p.Budget, p.Extra)
}

func (v *DammVenue) buildSwap(
	ctx context.Context,
	pool, mint solana.PublicKey,
	isBuy bool,
	amountIn uint64,
	slippagePercent float64,
	budget computebudget.Budget,
	extra []solana.Instruction,
) (*solana.Transaction, error) {
	state, err := v.fetchPool(ctx, pool)
	if err != nil {
		return nil, err
	}
	reserves := state.reserves()

	var expected uint64
	if isBuy {
		expected = constantProductOut(reserves.Quote, reserves.Base, amountIn)
	} else {
		expected = constantProductOut(reserves.Base, reserves.Quote, amountIn)
	}
	minimumOut := minOut(expected, slippagePercent)

	userToken, err := v.wallet.ATA(mint)
	if err != nil {
		return nil, err
	}
	userQuote, err := v.wallet.ATA(solana.SolMint)
	if err != nil {
		return nil, err
	}

	input, output := userToken, userQuote
	if isBuy {
		input, output = userQuote, userToken
	}

	instructions, err := computebudget.Instructions(budget)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, extra...)
	instructions = append(instructions, v.swapInstruction(pool, state, input, output, amountIn, minimumOut))

	blockhash, err := v.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(v.wallet.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if err := v.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

func (v *DammVenue) swapInstruction(
	pool solana.PublicKey,
	state *dammState,
	inputAccount, outputAccount solana.PublicKey,
	amountIn, minimumAmountOut uint64,
) solana.Instruction {
	data := make([]byte, 8+8+8)
	copy(data[0:8], curveSwapDiscriminator)
	binary.LittleEndian.PutUint64(data[8:16], amountIn)
	binary.LittleEndian.PutUint64(data[16:24], minimumAmountOut)

	authority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool_authority")},
		DammProgramID,
	)
	if err != nil {
		panic(fmt.Sprintf("derive damm pool authority: %v", err))
	}

	eventAuthority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("__event_authority")},
		DammProgramID,
	)
	if err != nil {
		panic(fmt.Sprintf("derive damm event authority: %v", err))
	}

	accountMetas := []*solana.AccountMeta{
		solana.NewAccountMeta(authority, false, false),
		solana.NewAccountMeta(pool, true, false),
		solana.NewAccountMeta(inputAccount, true, false),
		solana.NewAccountMeta(outputAccount, true, false),
		solana.NewAccountMeta(state.TokenAVault, true, false),
		solana.NewAccountMeta(state.TokenBVault, true, false),
		solana.NewAccountMeta(state.TokenAMint, false, false),
		solana.NewAccountMeta(state.TokenBMint, false, false),
		solana.NewAccountMeta(v.wallet.PublicKey, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(DammProgramID, false, false),
	}

	return solana.NewInstruction(DammProgramID, accountMetas, data)
}
