// internal/safety/external.go
package safety

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/retry"
)

// errReportNotReady means the provider has not generated a report for
// the mint yet. Fresh launches routinely hit this for several seconds.
var errReportNotReady = errors.New("report not ready")

type externalReport struct {
	Score  int  `json:"score"`
	Rugged bool `json:"rugged"`
	Risks  []struct {
		Name        string `json:"name"`
		Level       string `json:"level"`
		Description string `json:"description"`
	} `json:"risks"`
}

// ExternalGate asks a reputation API for a verdict. Provider outage or
// an exhausted polling budget yields an unsafe report, never a pass.
type ExternalGate struct {
	baseURL    string
	http       *http.Client
	maxRetries int
	budget     time.Duration
	pollDelay  time.Duration
	logger     *zap.Logger
}

// NewExternalGate creates the reputation-API gate.
func NewExternalGate(cfg config.SafetyConfig, client *http.Client, logger *zap.Logger) *ExternalGate {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &ExternalGate{
		baseURL:    cfg.APIBaseURL,
		http:       client,
		maxRetries: cfg.APIRetries,
		budget:     time.Duration(cfg.APIBudget) * time.Second,
		pollDelay:  2 * time.Second,
		logger:     logger.Named("safety_external"),
	}
}

// Check polls the provider until a report exists or the budget runs
// out.
func (g *ExternalGate) Check(ctx context.Context, mint solana.PublicKey) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, g.budget)
	defer cancel()

	var raw *externalReport
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: g.maxRetries,
		Delay:       g.pollDelay,
		IsRetryable: func(err error) bool {
			return errors.Is(err, errReportNotReady) || isTransportError(err)
		},
	}, func() error {
		var fetchErr error
		raw, fetchErr = g.fetch(ctx, mint)
		return fetchErr
	})
	if err != nil {
		g.logger.Warn("Reputation check failed, treating as unsafe",
			zap.String("mint", mint.String()),
			zap.Error(err))
		return &Report{
			Mint: mint.String(),
			Safe: false,
			Checks: []Check{
				{Name: "reputation", Passed: false, Detail: err.Error()},
			},
		}, nil
	}

	report := &Report{Mint: mint.String(), Safe: true}
	report.add("not_rugged", !raw.Rugged, "")
	for _, risk := range raw.Risks {
		report.add("risk:"+risk.Name, risk.Level != "danger", risk.Description)
	}
	return report, nil
}

func (g *ExternalGate) fetch(ctx context.Context, mint solana.PublicKey) (*externalReport, error) {
	url := fmt.Sprintf("%s/v1/tokens/%s/report", g.baseURL, mint.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, &transportError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errReportNotReady
	case resp.StatusCode >= 500:
		return nil, &transportError{fmt.Errorf("provider error: http %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected provider response: http %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err}
	}

	var report externalReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}
	return &report, nil
}

type transportError struct{ err error }

func (t *transportError) Error() string { return t.err.Error() }
func (t *transportError) Unwrap() error { return t.err }

func isTransportError(err error) bool {
	var te *transportError
	return errors.As(err, &te)
}
