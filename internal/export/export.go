// internal/export/export.go
// Package export appends completed trades to a CSV log.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
)

var header = []string{
	"closed_at", "mint", "exit_reason", "exit_venue",
	"entry_lamports", "exit_lamports", "pnl_lamports", "hold_seconds", "exit_signature",
}

// TradeLog is an append-only CSV sink for closed positions.
type TradeLog struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewTradeLog creates the sink and writes the header if the file is
// new.
func NewTradeLog(path string, logger *zap.Logger) (*TradeLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trades directory: %w", err)
	}

	log := &TradeLog{path: path, logger: logger.Named("trades")}

	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return log, nil
	}
	if err := log.appendRow(header); err != nil {
		return nil, err
	}
	return log, nil
}

// Record appends one closed position.
func (l *TradeLog) Record(e events.PositionClosedEvent) error {
	pnl := int64(e.LamportsOut) - int64(e.LamportsIn)
	row := []string{
		e.Timestamp().Format(time.RFC3339),
		e.Mint,
		e.ExitReason,
		e.ExitVenue,
		strconv.FormatUint(e.LamportsIn, 10),
		strconv.FormatUint(e.LamportsOut, 10),
		strconv.FormatInt(pnl, 10),
		strconv.FormatInt(int64(e.HoldTime.Seconds()), 10),
		e.ExitSig,
	}
	return l.appendRow(row)
}

// Subscribe attaches the log to the event bus.
func (l *TradeLog) Subscribe(bus *events.Bus) *events.Subscription {
	return bus.Subscribe(events.PositionClosed, func(_ context.Context, event events.Event) error {
		closed, ok := event.(events.PositionClosedEvent)
		if !ok {
			return nil
		}
		if err := l.Record(closed); err != nil {
			l.logger.Error("Failed to record trade", zap.Error(err))
			return err
		}
		return nil
	})
}

func (l *TradeLog) appendRow(row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open trades file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(row); err != nil {
		return fmt.Errorf("write trade row: %w", err)
	}
	writer.Flush()
	return writer.Error()
}
