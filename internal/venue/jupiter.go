// internal/venue/jupiter.go
package venue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

const jupiterBaseURL = "https://quote-api.jup.ag/v6"

// JupiterVenue routes a sell through the aggregator when both direct
// venues have failed. The aggregator builds the transaction; we only
// re-sign it.
type JupiterVenue struct {
	baseURL string
	http    *http.Client
	wallet  *wallet.Wallet
	logger  *zap.Logger
}

// NewJupiterVenue creates the aggregator venue.
func NewJupiterVenue(w *wallet.Wallet, logger *zap.Logger) *JupiterVenue {
	return &JupiterVenue{
		baseURL: jupiterBaseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		wallet:  w,
		logger:  logger.Named("jupiter"),
	}
}

func (v *JupiterVenue) Name() string { return "jupiter" }

// BuildBuy is not offered: entries always execute on the curve.
func (v *JupiterVenue) BuildBuy(_ context.Context, _ BuyParams) (*solana.Transaction, error) {
	return nil, fmt.Errorf("jupiter buy: %w", ErrNotSupported)
}

// Reserves is not offered: the aggregator has no single pool to read.
func (v *JupiterVenue) Reserves(_ context.Context, _ solana.PublicKey) (Reserves, error) {
	return Reserves{}, fmt.Errorf("jupiter reserves: %w", ErrNotSupported)
}

// BuildSell quotes mint->SOL and asks the aggregator to build the swap
// transaction. The aggregator owns the message, so extra instructions
// cannot be spliced in; callers tip through a separate transaction.
func (v *JupiterVenue) BuildSell(ctx context.Context, p SellParams) (*solana.Transaction, error) {
	if len(p.Extra) > 0 {
		return nil, fmt.Errorf("jupiter sell with extra instructions: %w", ErrNotSupported)
	}

	quote, err := v.quote(ctx, p.Mint, p.TokenAmount, p.SlippagePercent)
	if err != nil {
		return nil, err
	}

	swapTx, err := v.swap(ctx, quote, p.Budget.MicroLamports)
	if err != nil {
		return nil, err
	}

	if err := v.wallet.SignTransaction(swapTx); err != nil {
		return nil, fmt.Errorf("sign aggregator transaction: %w", err)
	}
	return swapTx, nil
}

func (v *JupiterVenue) quote(ctx context.Context, mint solana.PublicKey, amount uint64, slippagePercent float64) (json.RawMessage, error) {
	slippageBps := int(slippagePercent * 100)
	url := fmt.Sprintf("%s/quote?inputMint=%s&outputMint=%s&amount=%d&slippageBps=%d",
		v.baseURL, mint.String(), solana.SolMint.String(), amount, slippageBps)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator quote: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator quote http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func (v *JupiterVenue) swap(ctx context.Context, quote json.RawMessage, priceMicroLamports uint64) (*solana.Transaction, error) {
	fields := map[string]interface{}{
		"quoteResponse":    quote,
		"userPublicKey":    v.wallet.PublicKey.String(),
		"wrapAndUnwrapSol": true,
	}
	if priceMicroLamports > 0 {
		fields["computeUnitPriceMicroLamports"] = priceMicroLamports
	}
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("aggregator swap: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("aggregator swap http %d: %s", resp.StatusCode, string(body))
	}

	var swapResp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(body, &swapResp); err != nil {
		return nil, fmt.Errorf("parse swap response: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(swapResp.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("deserialize swap transaction: %w", err)
	}
	return tx, nil
}
