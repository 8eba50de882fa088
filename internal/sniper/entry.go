// internal/sniper/entry.go
package sniper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/chain"
	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/listener"
	"github.com/rovshanmuradov/solana-sniper/internal/logger"
	"github.com/rovshanmuradov/solana-sniper/internal/programs/computebudget"
	"github.com/rovshanmuradov/solana-sniper/internal/retry"
	"github.com/rovshanmuradov/solana-sniper/internal/safety"
	"github.com/rovshanmuradov/solana-sniper/internal/venue"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

const lamportsPerSol = 1_000_000_000

var (
	// ErrLowLiquidity rejects pools below the liquidity floor.
	ErrLowLiquidity = errors.New("pool liquidity below floor")

	// ErrBlacklistedCreator rejects pools from known bad actors.
	ErrBlacklistedCreator = errors.New("pool creator is blacklisted")

	// ErrDevHoldingsTooHigh rejects launches where the creator kept
	// too much supply.
	ErrDevHoldingsTooHigh = errors.New("creator holdings above limit")
)

// EntryChainReader is the RPC surface the entry controller needs.
type EntryChainReader interface {
	AccountBatchReader
	GetTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey) (*rpc.GetTokenSupplyResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error)
}

// EntryController turns a detection into an open position, or rejects
// it. Its registry slot is released on every failure path.
type EntryController struct {
	registry  Registry
	gate      safety.Gate
	curve     CurvePool
	relay     Submitter
	confirm   Confirmer
	reader    EntryChainReader
	wallet    *wallet.Wallet
	bus       *events.Bus
	blacklist *Blacklist
	cfg       *config.Config
	logger    *zap.Logger
}

// NewEntryController wires the entry pipeline.
func NewEntryController(
	registry Registry,
	gate safety.Gate,
	curve CurvePool,
	relay Submitter,
	confirm Confirmer,
	reader EntryChainReader,
	w *wallet.Wallet,
	bus *events.Bus,
	blacklist *Blacklist,
	cfg *config.Config,
	logger *zap.Logger,
) *EntryController {
	return &EntryController{
		registry:  registry,
		gate:      gate,
		curve:     curve,
		relay:     relay,
		confirm:   confirm,
		reader:    reader,
		wallet:    w,
		bus:       bus,
		blacklist: blacklist,
		cfg:       cfg,
		logger:    logger.Named("entry"),
	}
}

// HandleDetection runs the full entry pipeline for one detection. A nil
// position with a nil error means the detection was skipped (slot
// contention or not a pool creation).
func (c *EntryController) HandleDetection(ctx context.Context, det listener.Detection) (*Position, error) {
	txResult, err := c.fetchTransaction(ctx, det.Signature)
	if err != nil {
		return nil, fmt.Errorf("fetch creating transaction: %w", err)
	}

	mint, err := extractMint(txResult.Meta)
	if err != nil {
		c.logger.Debug("No tradable mint in detection",
			zap.String("signature", det.Signature.String()))
		return nil, nil
	}

	if !c.registry.TryAcquire(mint.String()) {
		c.logger.Debug("Skipping detection, slot unavailable",
			zap.String("mint", mint.String()))
		return nil, nil
	}

	opened := false
	defer func() {
		if !opened {
			c.registry.Release(mint.String())
		}
	}()

	log := logger.WithPosition(c.logger, mint.String())

	pos, err := c.enter(ctx, log, txResult, mint)
	if err != nil {
		c.publishAborted(mint, err)
		return nil, err
	}

	opened = true
	c.publishOpened(pos)
	return pos, nil
}

func (c *EntryController) enter(ctx context.Context, log *zap.Logger, txResult *rpc.GetTransactionResult, mint solana.PublicKey) (*Position, error) {
	decoded, err := txResult.Transaction.GetTransaction()
	if err != nil {
		return nil, fmt.Errorf("decode creating transaction: %w", err)
	}

	pool, err := findPool(ctx, c.reader, decoded.Message.AccountKeys, mint)
	if err != nil {
		return nil, err
	}
	log = log.With(zap.String("pool", pool.String()))

	creator, err := c.curve.Creator(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("read pool creator: %w", err)
	}
	if c.blacklist.Contains(creator) {
		return nil, ErrBlacklistedCreator
	}

	if err := c.checkDevHoldings(ctx, mint, creator); err != nil {
		return nil, err
	}

	report, err := c.gate.Check(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("safety gate: %w", err)
	}
	if !report.Safe {
		return nil, safety.ErrUnsafeToken
	}

	reserves, err := c.curve.Reserves(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("read reserves: %w", err)
	}
	floor := uint64(c.cfg.MinLiquiditySol * lamportsPerSol)
	if reserves.Quote < floor {
		return nil, fmt.Errorf("%w: %.2f SOL < %.2f SOL",
			ErrLowLiquidity,
			float64(reserves.Quote)/lamportsPerSol,
			c.cfg.MinLiquiditySol)
	}

	lamportsIn := uint64(c.cfg.BuyAmountSol * lamportsPerSol)
	buyTx, err := c.curve.BuildBuy(ctx, venue.BuyParams{
		Mint:            mint,
		Pool:            pool,
		LamportsIn:      lamportsIn,
		SlippagePercent: c.cfg.SlippagePercent,
		Budget: computebudget.Budget{
			Units:         c.cfg.ComputeUnits,
			MicroLamports: c.cfg.PriorityFeeMicro,
		},
		Extra: []solana.Instruction{c.relay.TipInstruction(c.wallet.PublicKey)},
	})
	if err != nil {
		return nil, fmt.Errorf("build buy: %w", err)
	}

	sig, err := c.relay.SubmitFailover(ctx, buyTx)
	if err != nil {
		return nil, fmt.Errorf("submit buy: %w", err)
	}
	log.Info("🚀 Buy submitted", zap.String("signature", sig.String()))

	tokenAccount, err := c.wallet.ATA(mint)
	if err != nil {
		return nil, err
	}

	amount, err := c.confirm.AwaitEntry(ctx, sig, tokenAccount)
	if err != nil {
		return nil, fmt.Errorf("confirm buy: %w", err)
	}

	progress, err := c.curve.Progress(ctx, pool)
	if err != nil {
		log.Warn("Could not read curve progress at entry", zap.Error(err))
		progress = 0
	}

	pos := &Position{
		Mint:          mint,
		Pool:          pool,
		TokenAccount:  tokenAccount,
		Creator:       creator,
		EntrySig:      sig,
		TokenAmount:   amount,
		LamportsIn:    lamportsIn,
		EntryReserves: reserves,
		EntryProgress: progress,
		EntryPriceSol: entryPrice(reserves),
		OpenedAt:      time.Now(),
	}

	log.Info("✅ Position opened",
		zap.Uint64("tokens", amount),
		zap.Float64("entry_progress_pct", progress))
	return pos, nil
}

// fetchTransaction retries because detection routinely beats the RPC
// node's transaction indexing.
func (c *EntryController) fetchTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	var result *rpc.GetTransactionResult
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: 10,
		Delay:       400 * time.Millisecond,
	}, func() error {
		var fetchErr error
		result, fetchErr = c.reader.GetTransaction(ctx, sig)
		if fetchErr != nil {
			return fetchErr
		}
		if result == nil || result.Meta == nil {
			return fmt.Errorf("transaction %s not indexed yet", sig)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// checkDevHoldings rejects launches where the creator still holds more
// than the configured share of supply.
func (c *EntryController) checkDevHoldings(ctx context.Context, mint, creator solana.PublicKey) error {
	supplyResult, err := c.reader.GetTokenSupply(ctx, mint)
	if err != nil {
		return fmt.Errorf("read supply: %w", err)
	}
	if supplyResult == nil || supplyResult.Value == nil {
		return chain.ErrAccountNotFound
	}
	supply, err := strconv.ParseUint(supplyResult.Value.Amount, 10, 64)
	if err != nil || supply == 0 {
		return nil
	}

	creatorATA, _, err := solana.FindAssociatedTokenAddress(creator, mint)
	if err != nil {
		return err
	}

	balanceResult, err := c.reader.GetTokenAccountBalance(ctx, creatorATA)
	if err != nil {
		if chain.IsAccountNotFoundError(err) {
			return nil
		}
		return fmt.Errorf("read creator balance: %w", err)
	}
	if balanceResult == nil || balanceResult.Value == nil {
		return nil
	}

	held, err := strconv.ParseUint(balanceResult.Value.Amount, 10, 64)
	if err != nil {
		return nil
	}

	pct := float64(held) / float64(supply) * 100
	if pct > c.cfg.MaxDevHoldingsPct {
		return fmt.Errorf("%w: %.2f%% > %.2f%%", ErrDevHoldingsTooHigh, pct, c.cfg.MaxDevHoldingsPct)
	}
	return nil
}

// entryPrice is SOL per whole token unit at the entry snapshot.
func entryPrice(r venue.Reserves) float64 {
	if r.Base == 0 {
		return 0
	}
	return float64(r.Quote) / float64(r.Base)
}

func (c *EntryController) publishOpened(pos *Position) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(events.PositionOpenedEvent{
		BaseEvent:   events.NewBase(events.PositionOpened),
		Mint:        pos.Mint.String(),
		Pool:        pos.Pool.String(),
		EntrySig:    pos.EntrySig.String(),
		TokenAmount: pos.TokenAmount,
		LamportsIn:  pos.LamportsIn,
	})
}

func (c *EntryController) publishAborted(mint solana.PublicKey, cause error) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(events.PositionAbortedEvent{
		BaseEvent: events.NewBase(events.PositionAborted),
		Mint:      mint.String(),
		Reason:    cause.Error(),
	})
}
