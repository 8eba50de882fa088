// internal/venue/curve.go
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

// CurveProgramID is the launchpad bonding-curve AMM.
var CurveProgramID = solana.MustPublicKeyFromBase58("dbcij3LWUppWqq96dh6gJWwBifmcGfLSB5D4DuSMaqN")

// CurvePoolAccountSize distinguishes pool accounts from the program's
// other account types during transaction scanning.
const CurvePoolAccountSize = 1112

// Pool state offsets.
const (
	poolConfigOffset       = 8
	poolCreatorOffset      = 40
	poolBaseMintOffset     = 72
	poolBaseVaultOffset    = 104
	poolQuoteVaultOffset   = 136
	poolBaseReserveOffset  = 168
	poolQuoteReserveOffset = 176
)

// Anchor swap discriminator.
var curveSwapDiscriminator = []byte{248, 198, 158, 145, 225, 117, 135, 200}

// Quote reserve level at which the curve graduates. Progress is
// measured against this.
const migrationQuoteLamports = 85_000_000_000

// CurveVenue trades directly against the launchpad pool.
type CurveVenue struct {
	client ChainClient
	wallet *wallet.Wallet
	logger *zap.Logger
}

// NewCurveVenue creates the curve venue.
func NewCurveVenue(deps Deps, logger *zap.Logger) *CurveVenue {
	return &CurveVenue{
		client: deps.Client,
		wallet: deps.Wallet,
		logger: logger.Named("curve"),
	}
}

func (v *CurveVenue) Name() string { return "curve" }

// poolState is the subset of the pool account this venue reads.
type poolState struct {
	Config       solana.PublicKey
	Creator      solana.PublicKey
	BaseMint     solana.PublicKey
	BaseVault    solana.PublicKey
	QuoteVault   solana.PublicKey
	BaseReserve  uint64
	QuoteReserve uint64
}

func (v *CurveVenue) fetchPool(ctx context.Context, pool solana.PublicKey) (*poolState, error) {
	info, err := v.client.GetAccountInfo(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("read pool account: %w", err)
	}
	if info == nil || info.Value == nil {
		return nil, chain.ErrAccountNotFound
	}

	data := info.Value.Data.GetBinary()
	if len(data) < CurvePoolAccountSize {
		return nil, fmt.Errorf("pool account too small: %d bytes", len(data))
	}

	return &poolState{
		Config:       solana.PublicKeyFromBytes(data[poolConfigOffset : poolConfigOffset+32]),
		Creator:      solana.PublicKeyFromBytes(data[poolCreatorOffset : poolCreatorOffset+32]),
		BaseMint:     solana.PublicKeyFromBytes(data[poolBaseMintOffset : poolBaseMintOffset+32]),
		BaseVault:    solana.PublicKeyFromBytes(data[poolBaseVaultOffset : poolBaseVaultOffset+32]),
		QuoteVault:   solana.PublicKeyFromBytes(data[poolQuoteVaultOffset : poolQuoteVaultOffset+32]),
		BaseReserve:  binary.LittleEndian.Uint64(data[poolBaseReserveOffset:]),
		QuoteReserve: binary.LittleEndian.Uint64(data[poolQuoteReserveOffset:]),
	}, nil
}

// Reserves returns the pool reserve snapshot.
func (v *CurveVenue) Reserves(ctx context.Context, pool solana.PublicKey) (Reserves, error) {
	state, err := v.fetchPool(ctx, pool)
	if err != nil {
		return Reserves{}, err
	}
	return Reserves{Base: state.BaseReserve, Quote: state.QuoteReserve}, nil
}

// Progress returns how far along the curve is toward graduation, 0-100.
func (v *CurveVenue) Progress(ctx context.Context, pool solana.PublicKey) (float64, error) {
	state, err := v.fetchPool(ctx, pool)
	if err != nil {
		return 0, err
	}
	pct := float64(state.QuoteReserve) / float64(migrationQuoteLamports) * 100
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// Creator returns the pool creator, used by the blacklist and dev
// holdings checks.
func (v *CurveVenue) Creator(ctx context.Context, pool solana.PublicKey) (solana.PublicKey, error) {
	state, err := v.fetchPool(ctx, pool)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return state.Creator, nil
}

// DerivePool derives the pool address for a mint. Used as fallback when
// the creating transaction does not expose the pool account directly.
func DerivePool(mint solana.PublicKey) (solana.PublicKey, error) {
	pool, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool"), mint.Bytes()},
		CurveProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive pool address: %w", err)
	}
	return pool, nil
}

// BuildBuy builds a signed quote-to-base swap.
func (v *CurveVenue) BuildBuy(ctx context.Context, p BuyParams) (*solana.Transaction, error) {
	state, err := v.fetchPool(ctx, p.Pool)
	if err != nil {
		return nil, err
	}

	expected := constantProductOut(state.QuoteReserve, state.BaseReserve, p.LamportsIn)
	minimumOut := minOut(expected, p.SlippagePercent)

	userBase, err := v.wallet.ATA(p.Mint)
	if err != nil {
		return nil, err
	}
	userQuote, err := v.wallet.ATA(solana.SolMint)
	if err != nil {
		return nil, err
	}

	instructions, err := computebudget.Instructions(p.Budget)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, p.Extra...)

	createATA, err := v.wallet.CreateATAIdempotentInstruction(p.Mint)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, createATA)

	instructions = append(instructions, v.swapInstruction(
		p.Pool, state, userQuote, userBase, p.LamportsIn, minimumOut,
	))

	return v.signedTransaction(ctx, instructions)
}

// BuildSell builds a signed base-to-quote swap.
func (v *CurveVenue) BuildSell(ctx context.Context, p SellParams) (*solana.Transaction, error) {
	state, err := v.fetchPool(ctx, p.Pool)
	if err != nil {
		return nil, err
	}

	expected := constantProductOut(state.BaseReserve, state.QuoteReserve, p.TokenAmount)
	minimumOut := minOut(expected, p.SlippagePercent)

	userBase, err := v.wallet.ATA(p.Mint)
	if err != nil {
		return nil, err
	}
	userQuote, err := v.wallet.ATA(solana.SolMint)
	if err != nil {
		return nil, err
	}

	instructions, err := computebudget.Instructions(p.Budget)
	if err != nil {
		return nil, err
	}
	instructions = append(instructions, p.Extra...)

	instructions = append(instructions, v.swapInstruction(
		p.Pool, state, userBase, userQuote, p.TokenAmount, minimumOut,
	))

	return v.signedTransaction(ctx, instructions)
}

// swapInstruction encodes the program's swap with the given input and
// output token accounts. Direction is implied by the account order.
func (v *CurveVenue) swapInstruction(
	pool solana.PublicKey,
	state *poolState,
	inputAccount, outputAccount solana.PublicKey,
	amountIn, minimumAmountOut uint64,
) solana.Instruction {
	data := make([]byte, 8+8+8)
	copy(data[0:8], curveSwapDiscriminator)
	binary.LittleEndian.PutUint64(data[8:16], amountIn)
	binary.LittleEndian.PutUint64(data[16:24], minimumAmountOut)

	authority := poolAuthority()
	eventAuthority := curveEventAuthority()

	accountMetas := []*solana.AccountMeta{
		solana.NewAccountMeta(authority, false, false),
		solana.NewAccountMeta(state.Config, false, false),
		solana.NewAccountMeta(pool, true, false),
		solana.NewAccountMeta(inputAccount, true, false),
		solana.NewAccountMeta(outputAccount, true, false),
		solana.NewAccountMeta(state.BaseVault, true, false),
		solana.NewAccountMeta(state.QuoteVault, true, false),
		solana.NewAccountMeta(state.BaseMint, false, false),
		solana.NewAccountMeta(solana.SolMint, false, false),
		solana.NewAccountMeta(v.wallet.PublicKey, true, true),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(CurveProgramID, false, false),
	}

	return solana.NewInstruction(CurveProgramID, accountMetas, data)
}

func (v *CurveVenue) signedTransaction(ctx context.Context, instructions []solana.Instruction) (*solana.Transaction, error) {
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

func poolAuthority() solana.PublicKey {
	authority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("pool_authority")},
		CurveProgramID,
	)
	if err != nil {
		panic(fmt.Sprintf("derive pool authority: %v", err))
	}
	return authority
}

func curveEventAuthority() solana.PublicKey {
	authority, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("__event_authority")},
		CurveProgramID,
	)
	if err != nil {
		panic(fmt.Sprintf("derive event authority: %v", err))
	}
	return authority
}
