// internal/sniper/entry_test.go
package sniper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sniper/internal/chain"
	"github.com/rovshanmuradov/solana-sniper/internal/listener"
	"github.com/rovshanmuradov/solana-sniper/internal/safety"
	"github.com/rovshanmuradov/solana-sniper/internal/venue"
)

type fakeGate struct {
	safe  bool
	err   error
	calls int
}

func (f *fakeGate) Check(_ context.Context, mint solana.PublicKey) (*safety.Report, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &safety.Report{Mint: mint.String(), Safe: f.safe}, nil
}

type fakeEntryReader struct {
	tx          *rpc.GetTransactionResult
	supply      string
	creatorHeld string
	balanceErr  error
}

func (f *fakeEntryReader) GetTransaction(_ context.Context, _ solana.Signature) (*rpc.GetTransactionResult, error) {
	return f.tx, nil
}

func (f *fakeEntryReader) GetMultipleAccounts(_ context.Context, _ []solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	return &rpc.GetMultipleAccountsResult{}, nil
}

func (f *fakeEntryReader) GetTokenSupply(_ context.Context, _ solana.PublicKey) (*rpc.GetTokenSupplyResult, error) {
	return &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{Amount: f.supply, Decimals: 6}}, nil
}

func (f *fakeEntryReader) GetTokenAccountBalance(_ context.Context, _ solana.PublicKey) (*rpc.GetTokenAccountBalanceResult, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return &rpc.GetTokenAccountBalanceResult{
		Value: &rpc.UiTokenAmount{Amount: f.creatorHeld, Decimals: 6},
	}, nil
}

// creationResult wraps a real encoded transaction so the pipeline can
// decode it the way it would a live RPC response.
func creationResult(t *testing.T, mint solana.PublicKey) *rpc.GetTransactionResult {
	t.Helper()

	payer := solana.NewWallet()
	inst := system.NewTransferInstruction(1, payer.PublicKey(), solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{inst}, solana.Hash{}, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		t.Fatalf("build transaction: %v", err)
	}
	encoded, err := tx.ToBase64()
	if err != nil {
		t.Fatalf("encode transaction: %v", err)
	}

	var envelope rpc.TransactionResultEnvelope
	if err := json.Unmarshal([]byte(fmt.Sprintf(`[%q,"base64"]`, encoded)), &envelope); err != nil {
		t.Fatalf("wrap transaction: %v", err)
	}

	return &rpc.GetTransactionResult{
		Transaction: &envelope,
		Meta: &rpc.TransactionMeta{
			PostTokenBalances: []rpc.TokenBalance{
				tokenBalance(mint, "500000", 6),
			},
		},
	}
}

type entryFixture struct {
	registry *fakeRegistry
	gate     *fakeGate
	curve    *fakeVenue
	relay    *fakeSubmitter
	confirm  *fakeConfirmer
	reader   *fakeEntryReader
	mint     solana.PublicKey
}

func newEntryFixture(t *testing.T) *entryFixture {
	t.Helper()
	mint := solana.NewWallet().PublicKey()
	return &entryFixture{
		registry: newFakeRegistry(),
		gate:     &fakeGate{safe: true},
		curve:    &fakeVenue{name: "curve", creator: solana.NewWallet().PublicKey()},
		relay:    &fakeSubmitter{},
		confirm:  &fakeConfirmer{},
		reader: &fakeEntryReader{
			tx:         creationResult(t, mint),
			supply:     "1000000",
			balanceErr: chain.ErrAccountNotFound,
		},
		mint: mint,
	}
}

func (fx *entryFixture) controller(t *testing.T, blacklist *Blacklist) *EntryController {
	t.Helper()
	if blacklist == nil {
		blacklist = NewBlacklist()
	}
	return NewEntryController(
		fx.registry, fx.gate, fx.curve, fx.relay, fx.confirm, fx.reader,
		testWallet(t), nil, blacklist, testConfig(), zaptest.NewLogger(t),
	)
}

func detection() listener.Detection {
	return listener.Detection{Signature: solana.Signature{3}, Slot: 100}
}

func TestHandleDetectionOpensPosition(t *testing.T) {
	fx := newEntryFixture(t)
	c := fx.controller(t, nil)

	pos, err := c.HandleDetection(context.Background(), detection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos == nil {
		t.Fatal("expected an open position")
	}
	if !pos.Mint.Equals(fx.mint) {
		t.Fatalf("expected mint %s, got %s", fx.mint, pos.Mint)
	}
	if pos.TokenAmount != 1000 {
		t.Fatalf("expected confirmed amount 1000, got %d", pos.TokenAmount)
	}
	if pos.LamportsIn != 100_000_000 {
		t.Fatalf("expected 0.1 SOL in, got %d lamports", pos.LamportsIn)
	}
	if fx.registry.releaseCount() != 0 {
		t.Fatal("open position must keep its registry slot")
	}
	if fx.relay.failoverCalls != 1 {
		t.Fatalf("expected one failover submit, got %d", fx.relay.failoverCalls)
	}
}

func TestHandleDetectionSkipsWhenSlotTaken(t *testing.T) {
	fx := newEntryFixture(t)
	fx.registry.acquireOK = false
	c := fx.controller(t, nil)

	pos, err := c.HandleDetection(context.Background(), detection())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos != nil {
		t.Fatal("expected no position when the slot is unavailable")
	}
	if fx.gate.calls != 0 {
		t.Fatal("skipped detection must not reach the safety gate")
	}
}

func TestHandleDetectionReleasesSlotWhenGateFails(t *testing.T) {
	fx := newEntryFixture(t)
	fx.gate.safe = false
	c := fx.controller(t, nil)

	_, err := c.HandleDetection(context.Background(), detection())
	if !errors.Is(err, safety.ErrUnsafeToken) {
		t.Fatalf("expected ErrUnsafeToken, got %v", err)
	}
	if fx.registry.releaseCount() != 1 {
		t.Fatalf("expected slot release, got %d", fx.registry.releaseCount())
	}
}

func TestHandleDetectionRejectsLowLiquidity(t *testing.T) {
	fx := newEntryFixture(t)
	fx.curve.reserves = func() (venue.Reserves, error) {
		return venue.Reserves{Base: 1_000_000, Quote: 10 * lamportsPerSol}, nil
	}
	c := fx.controller(t, nil)

	_, err := c.HandleDetection(context.Background(), detection())
	if !errors.Is(err, ErrLowLiquidity) {
		t.Fatalf("expected ErrLowLiquidity, got %v", err)
	}
	if fx.registry.releaseCount() != 1 {
		t.Fatal("expected slot release on rejection")
	}
}

func TestHandleDetectionLiquidityFloorBoundary(t *testing.T) {
	floor := uint64(testConfig().MinLiquiditySol * lamportsPerSol)

	cases := []struct {
		name   string
		quote  uint64
		reject bool
	}{
		{"one lamport below", floor - 1, true},
		{"exactly at floor", floor, false},
		{"one lamport above", floor + 1, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := newEntryFixture(t)
			fx.curve.reserves = func() (venue.Reserves, error) {
				return venue.Reserves{Base: 1_000_000, Quote: tc.quote}, nil
			}
			c := fx.controller(t, nil)

			pos, err := c.HandleDetection(context.Background(), detection())
			if tc.reject {
				if !errors.Is(err, ErrLowLiquidity) {
					t.Fatalf("expected ErrLowLiquidity, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if pos == nil {
				t.Fatal("expected an open position at or above the floor")
			}
		})
	}
}

func TestHandleDetectionRejectsBlacklistedCreator(t *testing.T) {
	fx := newEntryFixture(t)
	blacklist := NewBlacklist()
	blacklist.Add(fx.curve.creator)
	c := fx.controller(t, blacklist)

	_, err := c.HandleDetection(context.Background(), detection())
	if !errors.Is(err, ErrBlacklistedCreator) {
		t.Fatalf("expected ErrBlacklistedCreator, got %v", err)
	}
	if fx.gate.calls != 0 {
		t.Fatal("blacklisted creator must be rejected before the gate")
	}
}

func TestHandleDetectionRejectsHighDevHoldings(t *testing.T) {
	fx := newEntryFixture(t)
	fx.reader.balanceErr = nil
	fx.reader.creatorHeld = "300000" // 30% of supply

	c := fx.controller(t, nil)
	_, err := c.HandleDetection(context.Background(), detection())
	if !errors.Is(err, ErrDevHoldingsTooHigh) {
		t.Fatalf("expected ErrDevHoldingsTooHigh, got %v", err)
	}
}

func TestHandleDetectionReleasesSlotWhenSubmitFails(t *testing.T) {
	fx := newEntryFixture(t)
	fx.relay.submit = func(...*solana.Transaction) (solana.Signature, error) {
		return solana.Signature{}, errors.New("all block engines failed")
	}
	c := fx.controller(t, nil)

	if _, err := c.HandleDetection(context.Background(), detection()); err == nil {
		t.Fatal("expected submit failure to surface")
	}
	if fx.registry.releaseCount() != 1 {
		t.Fatal("expected slot release when the buy cannot be submitted")
	}
}
