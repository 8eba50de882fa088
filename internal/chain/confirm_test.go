// internal/chain/confirm_test.go
package chain

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap/zaptest"
)

type fakeReader struct {
	statusCalls  atomic.Int64
	balanceCalls atomic.Int64

	statusFn  func(call int64) (*rpc.GetSignatureStatusesResult, error)
	balanceFn func(call int64) (*rpc.GetTokenAccountBalanceResult, error)
}

func (f *fakeReader) GetSignatureStatuses(_ context.Context, _ ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	return f.statusFn(f.statusCalls.Add(1))
}

func (f *fakeReader) GetTokenAccountBalance(_ context.Context, _ solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error) {
	return f.balanceFn(f.balanceCalls.Add(1))
}

func statusResult(status rpc.ConfirmationStatusType, txErr interface{}) *rpc.GetSignatureStatusesResult {
	return &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{
			{ConfirmationStatus: status, Err: txErr},
		},
	}
}

func balanceResult(amount string) *rpc.GetTokenAccountBalanceResult {
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: amount},
	}
}

func newTestTracker(t *testing.T, reader StatusReader) *Tracker {
	tr := NewTracker(reader, zaptest.NewLogger(t))
	tr.interval = 5 * time.Millisecond
	tr.timeout = 200 * time.Millisecond
	return tr
}

func TestAwaitConfirmationSucceeds(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(call int64) (*rpc.GetSignatureStatusesResult, error) {
			if call < 3 {
				return statusResult(rpc.ConfirmationStatusProcessed, nil), nil
			}
			return statusResult(rpc.ConfirmationStatusConfirmed, nil), nil
		},
	}

	if err := newTestTracker(t, reader).AwaitConfirmation(context.Background(), solana.Signature{}); err != nil {
		t.Fatalf("expected confirmation, got %v", err)
	}
}

func TestAwaitConfirmationOnChainFailure(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			return statusResult(rpc.ConfirmationStatusProcessed, map[string]interface{}{"InstructionError": 1}), nil
		},
	}

	err := newTestTracker(t, reader).AwaitConfirmation(context.Background(), solana.Signature{})
	if err == nil {
		t.Fatal("expected failure for on-chain error")
	}
}

func TestAwaitEntryConfirmedByBalanceBeforeStatus(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			// Status RPC lags forever.
			return statusResult(rpc.ConfirmationStatusProcessed, nil), nil
		},
		balanceFn: func(call int64) (*rpc.GetTokenAccountBalanceResult, error) {
			if call < 2 {
				return balanceResult("0"), nil
			}
			return balanceResult("1000000"), nil
		},
	}

	amount, err := newTestTracker(t, reader).AwaitEntry(context.Background(), solana.Signature{}, solana.PublicKey{})
	if err != nil {
		t.Fatalf("expected entry confirmation, got %v", err)
	}
	if amount != 1000000 {
		t.Fatalf("expected amount 1000000, got %d", amount)
	}
}

func TestAwaitEntryBalanceDoubleCheckOnTimeout(t *testing.T) {
	var landed atomic.Bool
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			return nil, errors.New("rpc unavailable")
		},
		balanceFn: func(int64) (*rpc.GetTokenAccountBalanceResult, error) {
			if landed.Load() {
				return balanceResult("500"), nil
			}
			return balanceResult("0"), nil
		},
	}

	tr := newTestTracker(t, reader)
	tr.timeout = 30 * time.Millisecond
	go func() {
		time.Sleep(20 * time.Millisecond)
		landed.Store(true)
	}()

	amount, err := tr.AwaitEntry(context.Background(), solana.Signature{}, solana.PublicKey{})
	if err != nil {
		t.Fatalf("expected late balance to rescue the entry, got %v", err)
	}
	if amount != 500 {
		t.Fatalf("expected amount 500, got %d", amount)
	}
}

func TestAwaitEntryKeepsPollingWhenBalanceLagsStatus(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			return statusResult(rpc.ConfirmationStatusConfirmed, nil), nil
		},
		balanceFn: func(call int64) (*rpc.GetTokenAccountBalanceResult, error) {
			if call < 4 {
				return nil, errors.New("rpc unavailable")
			}
			return balanceResult("750"), nil
		},
	}

	amount, err := newTestTracker(t, reader).AwaitEntry(context.Background(), solana.Signature{}, solana.PublicKey{})
	if err != nil {
		t.Fatalf("expected entry confirmation, got %v", err)
	}
	if amount != 750 {
		t.Fatalf("a confirmed status with an unreadable balance must not report a fill of %d", amount)
	}
}

func TestAwaitEntryTimesOutWhenBalanceNeverReads(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			return statusResult(rpc.ConfirmationStatusConfirmed, nil), nil
		},
		balanceFn: func(int64) (*rpc.GetTokenAccountBalanceResult, error) {
			return nil, errors.New("rpc unavailable")
		},
	}

	tr := newTestTracker(t, reader)
	tr.timeout = 30 * time.Millisecond
	_, err := tr.AwaitEntry(context.Background(), solana.Signature{}, solana.PublicKey{})
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestAwaitExitZeroBalanceIsSuccess(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			return statusResult(rpc.ConfirmationStatusProcessed, nil), nil
		},
		balanceFn: func(int64) (*rpc.GetTokenAccountBalanceResult, error) {
			return balanceResult("0"), nil
		},
	}

	if err := newTestTracker(t, reader).AwaitExit(context.Background(), solana.Signature{}, solana.PublicKey{}); err != nil {
		t.Fatalf("expected exit success on zero balance, got %v", err)
	}
}

func TestAwaitExitClosedAccountIsSuccess(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			return statusResult(rpc.ConfirmationStatusProcessed, nil), nil
		},
		balanceFn: func(int64) (*rpc.GetTokenAccountBalanceResult, error) {
			return nil, errors.New("could not find account: not found")
		},
	}

	if err := newTestTracker(t, reader).AwaitExit(context.Background(), solana.Signature{}, solana.PublicKey{}); err != nil {
		t.Fatalf("expected exit success on closed account, got %v", err)
	}
}

func TestAwaitExitTimeoutWithBalanceRemains(t *testing.T) {
	reader := &fakeReader{
		statusFn: func(int64) (*rpc.GetSignatureStatusesResult, error) {
			return statusResult(rpc.ConfirmationStatusProcessed, nil), nil
		},
		balanceFn: func(int64) (*rpc.GetTokenAccountBalanceResult, error) {
			return balanceResult("42"), nil
		},
	}

	tr := newTestTracker(t, reader)
	tr.timeout = 30 * time.Millisecond
	err := tr.AwaitExit(context.Background(), solana.Signature{}, solana.PublicKey{})
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}
