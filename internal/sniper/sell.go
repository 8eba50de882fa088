// internal/sniper/sell.go
package sniper

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/programs/computebudget"
	"github.com/rovshanmuradov/solana-sniper/internal/venue"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

// ErrManualIntervention means every sell tier failed and the position
// was handed to an operator.
var ErrManualIntervention = errors.New("position requires manual intervention")

// BalanceReader reads the remaining token balance between sell tiers.
type BalanceReader interface {
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error)
}

// BlockhashReader supplies blockhashes for the burn fallback.
type BlockhashReader interface {
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// SellOutcome reports which tier finally closed the position. The
// signature is zero when the balance drained before a submitted sell
// could be confirmed.
type SellOutcome struct {
	Signature solana.Signature
	Venue     string
}

// SellerDeps carries the seller's collaborators.
type SellerDeps struct {
	Curve     venue.Venue
	Damm      venue.Venue
	Jupiter   venue.Venue
	Relay     Submitter
	Confirm   Confirmer
	Balances  BalanceReader
	Blockhash BlockhashReader
	Wallet    *wallet.Wallet
	Bus       *events.Bus
}

// Seller walks the sell escalation ladder until the token account is
// empty: curve at standard fee, curve at rescue fee, the migrated AMM,
// the aggregator, and finally burn and close.
type Seller struct {
	curve     venue.Venue
	damm      venue.Venue
	jupiter   venue.Venue
	relay     Submitter
	confirm   Confirmer
	balances  BalanceReader
	blockhash BlockhashReader
	wallet    *wallet.Wallet
	bus       *events.Bus
	cfg       *config.Config
	logger    *zap.Logger
}

// NewSeller wires the escalation ladder.
func NewSeller(deps SellerDeps, cfg *config.Config, logger *zap.Logger) *Seller {
	return &Seller{
		curve:     deps.Curve,
		damm:      deps.Damm,
		jupiter:   deps.Jupiter,
		relay:     deps.Relay,
		confirm:   deps.Confirm,
		balances:  deps.Balances,
		blockhash: deps.Blockhash,
		wallet:    deps.Wallet,
		bus:       deps.Bus,
		cfg:       cfg,
		logger:    logger.Named("seller"),
	}
}

// Sell liquidates the position. It always terminates: either the token
// account ends up empty, or ErrManualIntervention is returned and the
// position is left to an operator.
func (s *Seller) Sell(ctx context.Context, pos *Position, reason ExitReason) (SellOutcome, error) {
	log := s.logger.With(
		zap.String("mint", pos.Mint.String()),
		zap.String("reason", string(reason)))

	outcome, err := s.tryVenue(ctx, log, s.curve, pos.Pool, pos, reason, s.cfg.PriorityFeeMicro, s.cfg.Exit.MaxSellAttempts, true)
	if err == nil {
		return outcome, nil
	}
	if !venue.IsMigrationError(err) {
		log.Warn("Standard sells failed, raising priority fee", zap.Error(err))

		rescueFee := s.cfg.PriorityFeeMicro * s.cfg.Exit.RescueFeeFactor
		outcome, err = s.tryVenue(ctx, log, s.curve, pos.Pool, pos, reason, rescueFee, s.cfg.Exit.MaxSellAttempts, true)
		if err == nil {
			return outcome, nil
		}
	}

	if venue.IsMigrationError(err) {
		log.Info("Pool migrated, selling on AMM")
		migratedPool, deriveErr := venue.DeriveMigratedPool(pos.Mint)
		if deriveErr == nil {
			outcome, err = s.tryVenue(ctx, log, s.damm, migratedPool, pos, reason, s.cfg.PriorityFeeMicro, 1, true)
			if err == nil {
				return outcome, nil
			}
		} else {
			err = deriveErr
		}
		log.Warn("AMM sell failed, trying aggregator", zap.Error(err))
	} else {
		log.Warn("Rescue sells failed, trying aggregator", zap.Error(err))
	}

	outcome, err = s.tryVenue(ctx, log, s.jupiter, pos.Pool, pos, reason, s.cfg.PriorityFeeMicro, 1, false)
	if err == nil {
		return outcome, nil
	}
	log.Warn("Aggregator sell failed, burning position", zap.Error(err))

	outcome, err = s.burnAndClose(ctx, pos)
	if err == nil {
		return outcome, nil
	}
	log.Error("Burn failed, handing position to operator", zap.Error(err))

	s.publishManualIntervention(ctx, pos, err)
	return SellOutcome{}, fmt.Errorf("%w: %v", ErrManualIntervention, err)
}

// tryVenue runs up to attempts sells on one venue. Every attempt starts
// with a balance check so a sell that landed late is not repeated. A
// migration error aborts the loop immediately so the caller can branch.
// Venues that build their own message cannot carry the tip inline; for
// those the tip rides as a second transaction in the bundle.
func (s *Seller) tryVenue(
	ctx context.Context,
	log *zap.Logger,
	v venue.Venue,
	pool solana.PublicKey,
	pos *Position,
	reason ExitReason,
	microLamports uint64,
	attempts int,
	inlineTip bool,
) (SellOutcome, error) {
	var lastErr error
	var lastSig solana.Signature

	for attempt := 1; attempt <= attempts; attempt++ {
		remaining, err := s.remainingBalance(ctx, pos.TokenAccount)
		if err != nil {
			lastErr = err
			continue
		}
		if remaining == 0 {
			return SellOutcome{Signature: lastSig, Venue: v.Name()}, nil
		}

		var extra []solana.Instruction
		if inlineTip {
			extra = []solana.Instruction{s.relay.TipInstruction(s.wallet.PublicKey)}
		}

		tx, err := v.BuildSell(ctx, venue.SellParams{
			Mint:            pos.Mint,
			Pool:            pool,
			TokenAmount:     remaining,
			SlippagePercent: s.cfg.SlippagePercent,
			Budget: computebudget.Budget{
				Units:         s.cfg.ComputeUnits,
				MicroLamports: microLamports,
			},
			Extra: extra,
		})
		if err != nil {
			if venue.IsMigrationError(err) {
				return SellOutcome{}, err
			}
			lastErr = err
			log.Debug("Sell build failed",
				zap.String("venue", v.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		bundle := []*solana.Transaction{tx}
		if !inlineTip {
			tipTx, err := s.tipTransaction(ctx)
			if err != nil {
				lastErr = err
				continue
			}
			bundle = append(bundle, tipTx)
		}

		sig, err := s.submit(ctx, bundle, reason)
		if err != nil {
			if venue.IsMigrationError(err) {
				return SellOutcome{}, err
			}
			lastErr = err
			log.Debug("Sell submit failed",
				zap.String("venue", v.Name()),
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}
		lastSig = sig

		if err := s.confirm.AwaitExit(ctx, sig, pos.TokenAccount); err != nil {
			if venue.IsMigrationError(err) {
				return SellOutcome{}, err
			}
			lastErr = err
			continue
		}
		return SellOutcome{Signature: sig, Venue: v.Name()}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no sell attempts executed on %s", v.Name())
	}
	return SellOutcome{}, fmt.Errorf("sell on %s: %w", v.Name(), lastErr)
}

func (s *Seller) submit(ctx context.Context, txs []*solana.Transaction, reason ExitReason) (solana.Signature, error) {
	if reason.Emergency() {
		return s.relay.SubmitRace(ctx, txs...)
	}
	return s.relay.SubmitFailover(ctx, txs...)
}

// tipTransaction builds a standalone tip transfer for bundles whose
// main transaction cannot carry the tip instruction itself.
func (s *Seller) tipTransaction(ctx context.Context) (*solana.Transaction, error) {
	blockhash, err := s.blockhash.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{s.relay.TipInstruction(s.wallet.PublicKey)},
		blockhash,
		solana.TransactionPayer(s.wallet.PublicKey),
	)
	if err != nil {
		return nil, fmt.Errorf("build tip transaction: %w", err)
	}
	if err := s.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("sign tip transaction: %w", err)
	}
	return tx, nil
}

// remainingBalance treats a closed token account as fully drained.
func (s *Seller) remainingBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	result, err := s.balances.GetTokenAccountBalance(ctx, account)
	if err != nil {
		if isClosedAccountError(err) {
			return 0, nil
		}
		return 0, err
	}
	if result == nil || result.Value == nil {
		return 0, nil
	}
	return parseAmount(result.Value), nil
}

// burnAndClose is the last automated resort: destroy the tokens and
// reclaim the account rent so the position cannot linger half-open.
func (s *Seller) burnAndClose(ctx context.Context, pos *Position) (SellOutcome, error) {
	remaining, err := s.remainingBalance(ctx, pos.TokenAccount)
	if err != nil {
		return SellOutcome{}, err
	}
	if remaining == 0 {
		return SellOutcome{Venue: "burn"}, nil
	}

	instructions, err := computebudget.Instructions(computebudget.Budget{
		Units:         s.cfg.ComputeUnits,
		MicroLamports: s.cfg.PriorityFeeMicro,
	})
	if err != nil {
		return SellOutcome{}, err
	}

	burn := token.NewBurnInstruction(
		remaining,
		pos.TokenAccount,
		pos.Mint,
		s.wallet.PublicKey,
		nil,
	).Build()
	closeAccount := token.NewCloseAccountInstruction(
		pos.TokenAccount,
		s.wallet.PublicKey,
		s.wallet.PublicKey,
		nil,
	).Build()
	instructions = append(instructions, burn, closeAccount, s.relay.TipInstruction(s.wallet.PublicKey))

	blockhash, err := s.blockhash.GetLatestBlockhash(ctx)
	if err != nil {
		return SellOutcome{}, fmt.Errorf("get blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(s.wallet.PublicKey))
	if err != nil {
		return SellOutcome{}, fmt.Errorf("build burn transaction: %w", err)
	}
	if err := s.wallet.SignTransaction(tx); err != nil {
		return SellOutcome{}, fmt.Errorf("sign burn transaction: %w", err)
	}

	sig, err := s.relay.SubmitFailover(ctx, tx)
	if err != nil {
		return SellOutcome{}, fmt.Errorf("submit burn: %w", err)
	}
	if err := s.confirm.AwaitConfirmation(ctx, sig); err != nil {
		return SellOutcome{}, fmt.Errorf("confirm burn: %w", err)
	}
	return SellOutcome{Signature: sig, Venue: "burn"}, nil
}

func (s *Seller) publishManualIntervention(ctx context.Context, pos *Position, cause error) {
	if s.bus == nil {
		return
	}
	remaining, err := s.remainingBalance(ctx, pos.TokenAccount)
	if err != nil {
		remaining = pos.TokenAmount
	}
	_ = s.bus.Publish(events.ManualInterventionEvent{
		BaseEvent:   events.NewBase(events.ManualIntervention),
		Mint:        pos.Mint.String(),
		TokenAmount: remaining,
		LastError:   cause.Error(),
	})
}

func isClosedAccountError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find account") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "invalid param")
}
