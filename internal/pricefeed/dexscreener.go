// internal/pricefeed/dexscreener.go
// Package pricefeed reads spot prices from the DexScreener API for the
// stop-loss leg of exit monitoring.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const dexscreenerBaseURL = "https://api.dexscreener.com/latest/dex/tokens"

// ErrPairNotIndexed means the token has no indexed pair yet. Fresh
// launches take a while to appear; callers should keep polling.
var ErrPairNotIndexed = errors.New("pair not indexed yet")

// Quote is one price observation.
type Quote struct {
	PriceSol float64
	PriceUsd float64
	Observed time.Time
}

// Feed polls DexScreener.
type Feed struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewFeed creates the price feed.
func NewFeed(logger *zap.Logger) *Feed {
	return &Feed{
		baseURL: dexscreenerBaseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		logger:  logger.Named("pricefeed"),
	}
}

// Price returns the current quote for mint.
func (f *Feed) Price(ctx context.Context, mint solana.PublicKey) (Quote, error) {
	url := fmt.Sprintf("%s/%s", f.baseURL, mint.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, err
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Quote{}, ErrPairNotIndexed
	}
	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price request: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Quote{}, fmt.Errorf("read price response: %w", err)
	}

	var parsed struct {
		Pairs []struct {
			PriceNative string `json:"priceNative"`
			PriceUsd    string `json:"priceUsd"`
		} `json:"pairs"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("parse price response: %w", err)
	}
	if len(parsed.Pairs) == 0 {
		return Quote{}, ErrPairNotIndexed
	}

	pair := parsed.Pairs[0]
	priceSol, err := strconv.ParseFloat(pair.PriceNative, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("parse native price %q: %w", pair.PriceNative, err)
	}
	priceUsd, _ := strconv.ParseFloat(pair.PriceUsd, 64)

	return Quote{
		PriceSol: priceSol,
		PriceUsd: priceUsd,
		Observed: time.Now(),
	}, nil
}
