// internal/relay/pool.go
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// ErrAllEnginesFailed is returned when no engine accepted the bundle.
var ErrAllEnginesFailed = errors.New("all block engines failed")

// BundleSender is the engine surface the pool drives.
type BundleSender interface {
	SendBundle(ctx context.Context, transactions []string) (string, error)
	BundleLanded(ctx context.Context, bundleID string) (bool, error)
	URL() string
}

// DirectSender submits a transaction straight to an RPC node, bypassing
// the engines. Used as an extra lane in race mode.
type DirectSender interface {
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Pool drives a set of block engines.
type Pool struct {
	engines      []BundleSender
	direct       DirectSender
	tipLamports  uint64
	tipIdx       atomic.Uint32
	landInterval time.Duration
	logger       *zap.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// NewPool creates a pool over the given engine URLs.
func NewPool(urls []string, tipLamports uint64, timeout time.Duration, direct DirectSender, logger *zap.Logger) *Pool {
	engines := make([]BundleSender, 0, len(urls))
	for _, url := range urls {
		engines = append(engines, NewEngine(url, timeout, logger))
	}
	return &Pool{
		engines:      engines,
		direct:       direct,
		tipLamports:  tipLamports,
		landInterval: 500 * time.Millisecond,
		logger:       logger.Named("relay"),
	}
}

// newPoolForTest wires arbitrary senders, bypassing HTTP.
func newPoolForTest(engines []BundleSender, direct DirectSender, tipLamports uint64, logger *zap.Logger) *Pool {
	return &Pool{
		engines:      engines,
		direct:       direct,
		tipLamports:  tipLamports,
		landInterval: time.Millisecond,
		logger:       logger,
	}
}

// TipInstruction builds the tip transfer that must ride inside the
// bundled transaction. Tip accounts rotate round-robin.
func (p *Pool) TipInstruction(payer solana.PublicKey) solana.Instruction {
	idx := p.tipIdx.Add(1) - 1
	account := tipAccounts[idx%uint32(len(tipAccounts))]
	return system.NewTransferInstruction(p.tipLamports, payer, account).Build()
}

// SubmitFailover submits the signed transactions as one bundle through
// the engines in order. Any rejection advances to the next engine: a
// bundle one relay refuses (rate limit, auth, even a failed simulation)
// may still land through another. The first transaction's signature is
// returned on acceptance.
func (p *Pool) SubmitFailover(ctx context.Context, txs ...*solana.Transaction) (solana.Signature, error) {
	encoded, err := encodeBundle(txs)
	if err != nil {
		return solana.Signature{}, err
	}

	var lastErr error
	for _, engine := range p.engines {
		if ctx.Err() != nil {
			return solana.Signature{}, ctx.Err()
		}

		bundleID, err := engine.SendBundle(ctx, encoded)
		if err == nil {
			p.sent.Add(1)
			p.logger.Info("Bundle accepted",
				zap.String("engine", engine.URL()),
				zap.String("bundle_id", bundleID))
			return txs[0].Signatures[0], nil
		}

		var engineErr *EngineError
		if errors.As(err, &engineErr) && !engineErr.Failover() {
			p.logger.Warn("Engine rejected bundle, trying next",
				zap.String("engine", engine.URL()),
				zap.Error(err))
		} else {
			p.logger.Warn("Engine unavailable, trying next",
				zap.String("engine", engine.URL()),
				zap.Error(err))
		}
		lastErr = err
	}

	p.failed.Add(1)
	if lastErr != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ErrAllEnginesFailed, lastErr)
	}
	return solana.Signature{}, ErrAllEnginesFailed
}

// SubmitRace submits to every engine and the direct RPC lane at once.
// An engine lane wins only once its bundle reports landed; the direct
// lane wins on acceptance. Used for emergency exits where latency beats
// tip economics.
func (p *Pool) SubmitRace(ctx context.Context, txs ...*solana.Transaction) (solana.Signature, error) {
	encoded, err := encodeBundle(txs)
	if err != nil {
		return solana.Signature{}, err
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lanes := len(p.engines)
	if p.direct != nil {
		lanes++
	}
	results := make(chan error, lanes)

	for _, engine := range p.engines {
		go func(e BundleSender) {
			bundleID, err := e.SendBundle(raceCtx, encoded)
			if err != nil {
				results <- err
				return
			}
			results <- p.awaitBundle(raceCtx, e, bundleID)
		}(engine)
	}
	if p.direct != nil {
		go func() {
			_, err := p.direct.SendTransactionWithOpts(raceCtx, txs[0], rpc.TransactionOpts{
				SkipPreflight: true,
			})
			results <- err
		}()
	}

	var lastErr error
	for i := 0; i < lanes; i++ {
		select {
		case <-ctx.Done():
			return solana.Signature{}, ctx.Err()
		case err := <-results:
			if err == nil {
				p.sent.Add(1)
				return txs[0].Signatures[0], nil
			}
			lastErr = err
		}
	}

	p.failed.Add(1)
	return solana.Signature{}, fmt.Errorf("%w: %v", ErrAllEnginesFailed, lastErr)
}

// awaitBundle polls the engine until the bundle confirms. Acceptance
// alone does not mean the bundle landed.
func (p *Pool) awaitBundle(ctx context.Context, engine BundleSender, bundleID string) error {
	ticker := time.NewTicker(p.landInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			landed, err := engine.BundleLanded(ctx, bundleID)
			if err != nil {
				continue
			}
			if landed {
				return nil
			}
		}
	}
}

func encodeBundle(txs []*solana.Transaction) ([]string, error) {
	if len(txs) == 0 {
		return nil, errors.New("empty bundle")
	}
	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		b64, err := tx.ToBase64()
		if err != nil {
			return nil, fmt.Errorf("encode transaction: %w", err)
		}
		encoded = append(encoded, b64)
	}
	return encoded, nil
}

// Stats returns submission counters.
func (p *Pool) Stats() (sent, failed int64) {
	return p.sent.Load(), p.failed.Load()
}
