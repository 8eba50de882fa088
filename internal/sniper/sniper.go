// internal/sniper/sniper.go
package sniper

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-sniper/internal/chain"
	"github.com/rovshanmuradov/solana-sniper/internal/config"
	"github.com/rovshanmuradov/solana-sniper/internal/events"
	"github.com/rovshanmuradov/solana-sniper/internal/export"
	"github.com/rovshanmuradov/solana-sniper/internal/listener"
	"github.com/rovshanmuradov/solana-sniper/internal/position"
	"github.com/rovshanmuradov/solana-sniper/internal/pricefeed"
	"github.com/rovshanmuradov/solana-sniper/internal/relay"
	"github.com/rovshanmuradov/solana-sniper/internal/safety"
	"github.com/rovshanmuradov/solana-sniper/internal/venue"
	"github.com/rovshanmuradov/solana-sniper/internal/wallet"
)

// Pool creations announce themselves with an initialize instruction in
// the program log.
const poolCreationLogMatch = "initialize"

// Service owns the full pipeline: detection intake, entry, exit
// monitoring, and trade export.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	listener *listener.Listener
	entry    *EntryController
	exit     *ExitController
	relay    *relay.Pool
	bus      *events.Bus
}

// NewService wires the sniper from configuration.
func NewService(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	w, err := wallet.LoadNamed(cfg.WalletsFile, cfg.WalletName)
	if err != nil {
		return nil, err
	}
	logger.Info("Wallet loaded", zap.String("pubkey", w.String()))

	client := chain.NewClient(cfg.RPCEndpoint, logger)
	tracker := chain.NewTracker(client, logger)
	pool := relay.NewPool(cfg.Relay.BlockEngineURLs, cfg.Relay.TipLamports, cfg.Relay.Timeout, client, logger)

	venueDeps := venue.Deps{Client: client, Wallet: w}
	curve := venue.NewCurveVenue(venueDeps, logger)
	damm := venue.NewDammVenue(venueDeps, logger)
	jupiter := venue.NewJupiterVenue(w, logger)

	gate, err := safety.ForConfig(cfg.Safety, client, safety.Deps{
		Logger:     logger,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}

	blacklist, err := LoadBlacklist(cfg.BlacklistFile)
	if err != nil {
		return nil, err
	}

	registry := position.NewRegistry(cfg.MaxPositions, logger)
	bus := events.NewBus(logger, 256)

	tradeLog, err := export.NewTradeLog(cfg.TradesFile, logger)
	if err != nil {
		return nil, err
	}
	tradeLog.Subscribe(bus)

	seller := NewSeller(SellerDeps{
		Curve:     curve,
		Damm:      damm,
		Jupiter:   jupiter,
		Relay:     pool,
		Confirm:   tracker,
		Balances:  client,
		Blockhash: client,
		Wallet:    w,
		Bus:       bus,
	}, cfg, logger)

	entry := NewEntryController(registry, gate, curve, pool, tracker, client, w, bus, blacklist, cfg, logger)
	exit := NewExitController(seller, curve, registry, pricefeed.NewFeed(logger), client, blacklist, w.PublicKey, bus, cfg, logger)

	return &Service{
		cfg:      cfg,
		logger:   logger.Named("sniper"),
		listener: listener.New(cfg.WebSocketURL, venue.CurveProgramID, poolCreationLogMatch, logger),
		entry:    entry,
		exit:     exit,
		relay:    pool,
		bus:      bus,
	}, nil
}

// Run blocks until ctx is canceled. Positions still open at shutdown
// are liquidated before Run returns.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Sniper starting",
		zap.Int("max_positions", s.cfg.MaxPositions),
		zap.String("exit_regime", s.cfg.Exit.Regime),
		zap.String("safety_strategy", s.cfg.Safety.Strategy))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.listener.Run(ctx)
	})

	workers := new(errgroup.Group)
	workers.SetLimit(s.cfg.MaxPositions * 4)

	g.Go(func() error {
		for detection := range s.listener.Out {
			det := detection
			workers.Go(func() error {
				s.handle(ctx, det)
				return nil
			})
		}
		return workers.Wait()
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if busErr := s.bus.Shutdown(shutdownCtx); busErr != nil {
		s.logger.Warn("Event bus did not drain", zap.Error(busErr))
	}

	sent, failed := s.relay.Stats()
	s.logger.Info("Relay totals",
		zap.Int64("bundles_sent", sent),
		zap.Int64("bundles_failed", failed))

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// handle runs one detection through entry and, on an opened position,
// through exit monitoring. Errors end the position, not the service.
func (s *Service) handle(ctx context.Context, det listener.Detection) {
	pos, err := s.entry.HandleDetection(ctx, det)
	if err != nil {
		s.logger.Info("Entry rejected",
			zap.String("signature", det.Signature.String()),
			zap.Error(err))
		return
	}
	if pos == nil {
		return
	}

	if err := s.exit.Watch(ctx, pos); err != nil {
		if errors.Is(err, ErrManualIntervention) {
			s.logger.Error("🚨 Position needs manual intervention",
				zap.String("mint", pos.Mint.String()),
				zap.Error(err))
			return
		}
		s.logger.Error("Exit failed",
			zap.String("mint", pos.Mint.String()),
			zap.Error(err))
	}
}
