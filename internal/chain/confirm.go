// internal/chain/confirm.go
package chain

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// ErrConfirmationTimeout is returned when a signature neither confirms
// nor fails within the tracker window.
var ErrConfirmationTimeout = fmt.Errorf("confirmation timeout")

// StatusReader is the RPC surface the tracker needs.
type StatusReader interface {
	GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error)
}

// Tracker confirms submitted transactions. Entry and exit confirmations
// race the signature status against a token balance read because the
// status RPC can lag the balance several seconds on busy validators.
type Tracker struct {
	client   StatusReader
	logger   *zap.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewTracker creates a tracker with the standard 500ms/30s window.
func NewTracker(client StatusReader, logger *zap.Logger) *Tracker {
	return &Tracker{
		client:   client,
		logger:   logger.Named("confirm"),
		interval: 500 * time.Millisecond,
		timeout:  30 * time.Second,
	}
}

// AwaitConfirmation polls the signature status until it confirms, fails
// on-chain, or the window expires.
func (t *Tracker) AwaitConfirmation(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	deadline := time.After(t.timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return ErrConfirmationTimeout
		case <-ticker.C:
			confirmed, txErr, err := t.checkStatus(ctx, sig)
			if err != nil {
				t.logger.Warn("Signature status check failed", zap.Error(err))
				continue
			}
			if txErr != nil {
				return fmt.Errorf("transaction failed on chain: %v", txErr)
			}
			if confirmed {
				return nil
			}
		}
	}
}

// AwaitEntry confirms a buy. A nonzero balance on the token account
// proves the fill even when the status RPC has not caught up. On
// timeout the balance is checked one final time before giving up.
func (t *Tracker) AwaitEntry(ctx context.Context, sig solana.Signature, tokenAccount solana.PublicKey) (uint64, error) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	deadline := time.After(t.timeout)

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline:
			// The buy may have landed in the last poll gap.
			if amount, err := t.tokenBalance(ctx, tokenAccount); err == nil && amount > 0 {
				t.logger.Info("Entry confirmed by balance after status timeout",
					zap.Uint64("amount", amount))
				return amount, nil
			}
			return 0, ErrConfirmationTimeout
		case <-ticker.C:
			if amount, err := t.tokenBalance(ctx, tokenAccount); err == nil && amount > 0 {
				return amount, nil
			}

			confirmed, txErr, err := t.checkStatus(ctx, sig)
			if err != nil {
				continue
			}
			if txErr != nil {
				return 0, fmt.Errorf("entry transaction failed on chain: %v", txErr)
			}
			if confirmed {
				// The ATA can lag a confirmed status by a poll or two;
				// keep going until the balance reads.
				amount, err := t.tokenBalance(ctx, tokenAccount)
				if err != nil || amount == 0 {
					continue
				}
				return amount, nil
			}
		}
	}
}

// AwaitExit confirms a sell. A zero balance (or a closed token account)
// is success regardless of what the status RPC says, including on
// timeout.
func (t *Tracker) AwaitExit(ctx context.Context, sig solana.Signature, tokenAccount solana.PublicKey) error {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	deadline := time.After(t.timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			amount, err := t.tokenBalance(ctx, tokenAccount)
			if err == nil && amount == 0 {
				return nil
			}
			if IsAccountNotFoundError(err) {
				return nil
			}
			return ErrConfirmationTimeout
		case <-ticker.C:
			amount, err := t.tokenBalance(ctx, tokenAccount)
			if err == nil && amount == 0 {
				return nil
			}
			if IsAccountNotFoundError(err) {
				return nil
			}

			confirmed, txErr, statusErr := t.checkStatus(ctx, sig)
			if statusErr != nil {
				continue
			}
			if txErr != nil {
				return fmt.Errorf("exit transaction failed on chain: %v", txErr)
			}
			if confirmed {
				return nil
			}
		}
	}
}

func (t *Tracker) checkStatus(ctx context.Context, sig solana.Signature) (confirmed bool, txErr interface{}, err error) {
	statuses, err := t.client.GetSignatureStatuses(ctx, sig)
	if err != nil {
		return false, nil, err
	}
	if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return false, nil, nil
	}
	status := statuses.Value[0]
	if status.Err != nil {
		return false, status.Err, nil
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		return true, nil, nil
	}
	return false, nil, nil
}

func (t *Tracker) tokenBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	result, err := t.client.GetTokenAccountBalance(ctx, account)
	if err != nil {
		return 0, err
	}
	if result == nil || result.Value == nil {
		return 0, ErrAccountNotFound
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token amount %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}
