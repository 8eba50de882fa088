// internal/sniper/exit.go
package sniper

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/pricefeed"
)

// shutdownSellTimeout bounds the final sell after the run context dies.
const shutdownSellTimeout = 60 * time.Second

// sellExecutor is the seller surface the exit controller drives.
type sellExecutor interface {
	Sell(ctx context.Context, pos *Position, reason ExitReason) (SellOutcome, error)
}

// PriceSource feeds the stop-loss trigger.
type PriceSource interface {
	Price(ctx context.Context, mint solana.PublicKey) (pricefeed.Quote, error)
}

// LamportsReader measures the wallet's SOL balance around an exit.
type LamportsReader interface {
	GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error)
}

// ExitController watches one open position under the configured exit
// regime and liquidates it when a trigger fires. The liquidity-spike
// check runs in every monitored regime and escalates to race
// submission.
type ExitController struct {
	seller    sellExecutor
	curve     CurvePool
	registry  Registry
	prices    PriceSource
	lamports  LamportsReader
	blacklist *Blacklist
	owner     solana.PublicKey
	bus       *events.Bus
	cfg       *config.Config
	logger    *zap.Logger
}

// NewExitController wires exit monitoring for open positions.
func NewExitController(
	seller sellExecutor,
	curve CurvePool,
	registry Registry,
	prices PriceSource,
	lamports LamportsReader,
	blacklist *Blacklist,
	owner solana.PublicKey,
	bus *events.Bus,
	cfg *config.Config,
	logger *zap.Logger,
) *ExitController {
	return &ExitController{
		seller:    seller,
		curve:     curve,
		registry:  registry,
		prices:    prices,
		lamports:  lamports,
		blacklist: blacklist,
		owner:     owner,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.Named("exit"),
	}
}

// Watch blocks until the position is closed or handed to an operator.
// The registry slot is released on every outcome, manual intervention
// included; re-entry into the same creator's pools is blocked by
// blacklisting the creator instead of leaking the slot.
func (c *ExitController) Watch(ctx context.Context, pos *Position) error {
	defer c.registry.Release(pos.Mint.String())

	log := c.logger.With(zap.String("mint", pos.Mint.String()))

	reason := c.awaitTrigger(ctx, log, pos)
	log.Info("Exit trigger fired", zap.String("reason", string(reason)))

	sellCtx := ctx
	if reason == ReasonShutdown {
		var cancel context.CancelFunc
		sellCtx, cancel = context.WithTimeout(context.Background(), shutdownSellTimeout)
		defer cancel()
	}

	before, balErr := c.lamports.GetBalance(sellCtx, c.owner)

	outcome, err := c.seller.Sell(sellCtx, pos, reason)
	if err != nil {
		if errors.Is(err, ErrManualIntervention) && c.blacklist != nil {
			c.blacklist.Add(pos.Creator)
			log.Warn("Creator blacklisted after failed liquidation",
				zap.String("creator", pos.Creator.String()))
		}
		return err
	}

	var lamportsOut uint64
	if balErr == nil {
		if after, err := c.lamports.GetBalance(sellCtx, c.owner); err == nil && after > before {
			lamportsOut = after - before
		}
	}

	c.publishClosed(pos, reason, outcome, lamportsOut)

	log.Info("💰 Position closed",
		zap.String("venue", outcome.Venue),
		zap.String("signature", outcome.Signature.String()),
		zap.Uint64("lamports_out", lamportsOut),
		zap.Duration("hold_time", time.Since(pos.OpenedAt)))
	return nil
}

// awaitTrigger blocks until an exit condition fires and returns its
// reason. Context cancellation always yields ReasonShutdown.
func (c *ExitController) awaitTrigger(ctx context.Context, log *zap.Logger, pos *Position) ExitReason {
	switch c.cfg.Exit.Regime {
	case config.ExitBlindDelay:
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-time.After(c.cfg.Exit.AutoSellDelay):
			return ReasonBlindDelay
		}
	case config.ExitMaxHold:
		return c.monitor(ctx, log, pos, false)
	default:
		return c.monitor(ctx, log, pos, true)
	}
}

// monitor polls the pool until a trigger fires. withProgress enables
// the target-progress and stop-loss legs; the spike check and the
// max-hold deadline run either way.
func (c *ExitController) monitor(ctx context.Context, log *zap.Logger, pos *Position, withProgress bool) ExitReason {
	ticker := time.NewTicker(c.cfg.Exit.MonitorInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(c.cfg.Exit.MaxHold)
	defer deadline.Stop()

	target := targetProgress(pos.EntryProgress)
	var referencePrice float64

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-deadline.C:
			return ReasonMaxHold
		case <-ticker.C:
		}

		reserves, err := c.curve.Reserves(ctx, pos.Pool)
		if err != nil {
			log.Debug("Reserve poll failed", zap.Error(err))
		} else if c.isSpike(pos, reserves.Quote) {
			return ReasonLiquiditySpike
		}

		if !withProgress {
			continue
		}

		if err == nil {
			progress, progressErr := c.curve.Progress(ctx, pos.Pool)
			if progressErr == nil && progress >= target {
				return ReasonTargetReached
			}
		}

		quote, err := c.prices.Price(ctx, pos.Mint)
		if err != nil {
			if !errors.Is(err, pricefeed.ErrPairNotIndexed) {
				log.Debug("Price poll failed", zap.Error(err))
			}
			continue
		}
		if referencePrice == 0 {
			referencePrice = quote.PriceSol
			continue
		}
		if quote.PriceSol > referencePrice {
			referencePrice = quote.PriceSol
		}
		drop := (referencePrice - quote.PriceSol) / referencePrice * 100
		if drop >= c.cfg.Exit.StopLossPercent {
			return ReasonStopLoss
		}
	}
}

// isSpike detects an abrupt absolute growth of the quote reserve, which
// on fresh pools usually precedes a dump.
func (c *ExitController) isSpike(pos *Position, quoteReserve uint64) bool {
	threshold := uint64(c.cfg.Exit.SpikeThresholdSol * lamportsPerSol)
	if threshold == 0 {
		return false
	}
	return quoteReserve > pos.EntryReserves.Quote &&
		quoteReserve-pos.EntryReserves.Quote >= threshold
}

// targetProgress sets the exit target from the entry point on the
// curve. Early entries ride further; late entries take what is left
// before graduation.
func targetProgress(entryProgress float64) float64 {
	var target float64
	switch {
	case entryProgress < 50:
		target = entryProgress + 20
	case entryProgress < 85:
		target = entryProgress + 10
	default:
		target = entryProgress + 3
	}
	if target > 100 {
		target = 100
	}
	return target
}

func (c *ExitController) publishClosed(pos *Position, reason ExitReason, outcome SellOutcome, lamportsOut uint64) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(events.PositionClosedEvent{
		BaseEvent:   events.NewBase(events.PositionClosed),
		Mint:        pos.Mint.String(),
		ExitSig:     outcome.Signature.String(),
		ExitReason:  string(reason),
		ExitVenue:   outcome.Venue,
		LamportsIn:  pos.LamportsIn,
		LamportsOut: lamportsOut,
		HoldTime:    time.Since(pos.OpenedAt),
	})
}
