// internal/safety/safety.go
// Package safety gates candidate tokens before any money moves. Both
// strategies fail closed: an unanswered question is an unsafe token.
package safety

import (
	"context"
	"errors"
	"net/http"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/config"
)

// Deps carries the strategy dependencies not owned by this package.
type Deps struct {
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// ErrUnsafeToken marks a token that failed the gate.
var ErrUnsafeToken = errors.New("token failed safety checks")

// Check is one named verdict inside a report.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Report is the gate's full verdict for one mint.
type Report struct {
	Mint   string
	Safe   bool
	Checks []Check
}

func (r *Report) add(name string, passed bool, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: detail})
	if !passed {
		r.Safe = false
	}
}

// Gate decides whether a token is safe to enter.
type Gate interface {
	Check(ctx context.Context, mint solana.PublicKey) (*Report, error)
}

// ForConfig selects the gate strategy from configuration.
func ForConfig(cfg config.SafetyConfig, reader ChainReader, deps Deps) (Gate, error) {
	switch cfg.Strategy {
	case config.SafetyLocal:
		return NewLocalGate(reader, cfg, deps.Logger), nil
	case config.SafetyExternal:
		return NewExternalGate(cfg, deps.HTTPClient, deps.Logger), nil
	default:
		return nil, errors.New("unknown safety strategy: " + cfg.Strategy)
	}
}
