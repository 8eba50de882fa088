// internal/sniper/exit_test.go
package sniper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/pricefeed"
	"github.com/rovshanmuradov/solana-sniper/internal/venue"
)

type fakeSeller struct {
	mu      sync.Mutex
	reasons []ExitReason
	sell    func(pos *Position, reason ExitReason) (SellOutcome, error)
}

func (f *fakeSeller) Sell(_ context.Context, pos *Position, reason ExitReason) (SellOutcome, error) {
	f.mu.Lock()
	f.reasons = append(f.reasons, reason)
	f.mu.Unlock()
	if f.sell == nil {
		return SellOutcome{Signature: solana.Signature{9}, Venue: "curve"}, nil
	}
	return f.sell(pos, reason)
}

func (f *fakeSeller) lastReason(t *testing.T) ExitReason {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reasons) == 0 {
		t.Fatal("seller was never called")
	}
	return f.reasons[len(f.reasons)-1]
}

type fakePrices struct {
	mu     sync.Mutex
	quotes []float64
	idx    int
}

func (f *fakePrices) Price(_ context.Context, _ solana.PublicKey) (pricefeed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.quotes) == 0 {
		return pricefeed.Quote{}, pricefeed.ErrPairNotIndexed
	}
	price := f.quotes[f.idx]
	if f.idx < len(f.quotes)-1 {
		f.idx++
	}
	return pricefeed.Quote{PriceSol: price, Observed: time.Now()}, nil
}

type fakeLamports struct{ balance uint64 }

func (f *fakeLamports) GetBalance(_ context.Context, _ solana.PublicKey) (uint64, error) {
	return f.balance, nil
}

func newTestExit(t *testing.T, seller *fakeSeller, curve *fakeVenue, registry *fakeRegistry, prices *fakePrices, cfg *config.Config) *ExitController {
	t.Helper()
	return NewExitController(
		seller, curve, registry, prices,
		&fakeLamports{balance: lamportsPerSol},
		NewBlacklist(),
		solana.NewWallet().PublicKey(),
		nil, cfg, zaptest.NewLogger(t),
	)
}

func TestTargetProgressTiers(t *testing.T) {
	cases := []struct {
		entry float64
		want  float64
	}{
		{10, 30},
		{49, 69},
		{50, 60},
		{84, 94},
		{85, 88},
		{99, 100},
	}
	for _, tc := range cases {
		if got := targetProgress(tc.entry); got != tc.want {
			t.Fatalf("targetProgress(%v) = %v, want %v", tc.entry, got, tc.want)
		}
	}
}

func TestSpikeDetection(t *testing.T) {
	c := &ExitController{cfg: testConfig()}
	pos := testPosition()

	grown := pos.EntryReserves.Quote + 40*lamportsPerSol
	if !c.isSpike(pos, grown) {
		t.Fatal("growth at the threshold should register as a spike")
	}
	if c.isSpike(pos, pos.EntryReserves.Quote+39*lamportsPerSol) {
		t.Fatal("growth below the threshold should not register")
	}
	if c.isSpike(pos, pos.EntryReserves.Quote-lamportsPerSol) {
		t.Fatal("a shrinking reserve is not a spike")
	}
}

func TestWatchBlindDelay(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.Regime = config.ExitBlindDelay
	cfg.Exit.AutoSellDelay = 5 * time.Millisecond

	seller := &fakeSeller{}
	registry := newFakeRegistry()
	c := newTestExit(t, seller, &fakeVenue{name: "curve"}, registry, &fakePrices{}, cfg)

	if err := c.Watch(context.Background(), testPosition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seller.lastReason(t); got != ReasonBlindDelay {
		t.Fatalf("expected blind_delay reason, got %q", got)
	}
	if registry.releaseCount() != 1 {
		t.Fatalf("expected slot release, got %d releases", registry.releaseCount())
	}
}

func TestWatchManualInterventionFreesSlotAndBansCreator(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.Regime = config.ExitBlindDelay
	cfg.Exit.AutoSellDelay = time.Millisecond

	seller := &fakeSeller{
		sell: func(*Position, ExitReason) (SellOutcome, error) {
			return SellOutcome{}, ErrManualIntervention
		},
	}
	registry := newFakeRegistry()
	c := newTestExit(t, seller, &fakeVenue{name: "curve"}, registry, &fakePrices{}, cfg)

	pos := testPosition()
	if err := c.Watch(context.Background(), pos); err == nil {
		t.Fatal("expected manual intervention error")
	}
	if registry.releaseCount() != 1 {
		t.Fatalf("slot must be released even on manual intervention, got %d releases", registry.releaseCount())
	}
	if !c.blacklist.Contains(pos.Creator) {
		t.Fatal("creator must be blacklisted after a failed liquidation")
	}
}

func TestWatchTriggersOnTargetProgress(t *testing.T) {
	cfg := testConfig()
	curve := &fakeVenue{
		name:     "curve",
		progress: func() (float64, error) { return 65, nil },
	}

	seller := &fakeSeller{}
	c := newTestExit(t, seller, curve, newFakeRegistry(), &fakePrices{}, cfg)

	pos := testPosition()
	pos.EntryProgress = 40 // target 60

	if err := c.Watch(context.Background(), pos); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seller.lastReason(t); got != ReasonTargetReached {
		t.Fatalf("expected target_reached, got %q", got)
	}
}

func TestWatchTriggersStopLoss(t *testing.T) {
	cfg := testConfig()
	curve := &fakeVenue{
		name:     "curve",
		progress: func() (float64, error) { return 10, nil },
	}
	prices := &fakePrices{quotes: []float64{1.0, 0.65}}

	seller := &fakeSeller{}
	c := newTestExit(t, seller, curve, newFakeRegistry(), prices, cfg)

	pos := testPosition()
	pos.EntryProgress = 40

	if err := c.Watch(context.Background(), pos); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seller.lastReason(t); got != ReasonStopLoss {
		t.Fatalf("expected stop_loss, got %q", got)
	}
}

func TestWatchTriggersOnLiquiditySpike(t *testing.T) {
	cfg := testConfig()
	pos := testPosition()
	curve := &fakeVenue{
		name: "curve",
		reserves: func() (venue.Reserves, error) {
			return venue.Reserves{
				Base:  pos.EntryReserves.Base,
				Quote: pos.EntryReserves.Quote + 41*lamportsPerSol,
			}, nil
		},
	}

	seller := &fakeSeller{}
	c := newTestExit(t, seller, curve, newFakeRegistry(), &fakePrices{}, cfg)

	if err := c.Watch(context.Background(), pos); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seller.lastReason(t); got != ReasonLiquiditySpike {
		t.Fatalf("expected liquidity_spike, got %q", got)
	}
}

func TestWatchMaxHoldBackstop(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.Regime = config.ExitMaxHold
	cfg.Exit.MaxHold = 10 * time.Millisecond

	seller := &fakeSeller{}
	c := newTestExit(t, seller, &fakeVenue{name: "curve"}, newFakeRegistry(), &fakePrices{}, cfg)

	if err := c.Watch(context.Background(), testPosition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seller.lastReason(t); got != ReasonMaxHold {
		t.Fatalf("expected max_hold, got %q", got)
	}
}

func TestWatchShutdownStillSells(t *testing.T) {
	cfg := testConfig()
	cfg.Exit.Regime = config.ExitBlindDelay
	cfg.Exit.AutoSellDelay = time.Hour

	seller := &fakeSeller{}
	c := newTestExit(t, seller, &fakeVenue{name: "curve"}, newFakeRegistry(), &fakePrices{}, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Watch(ctx, testPosition()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := seller.lastReason(t); got != ReasonShutdown {
		t.Fatalf("expected shutdown reason, got %q", got)
	}
}
