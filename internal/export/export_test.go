// internal/export/export_test.go
package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-sniper/internal/events"
)

func TestTradeLogWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")

	if _, err := NewTradeLog(path, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("create log: %v", err)
	}
	// Reopening must not duplicate the header.
	if _, err := NewTradeLog(path, zaptest.NewLogger(t)); err != nil {
		t.Fatalf("reopen log: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 1 {
		t.Fatalf("expected only the header row, got %d rows", len(rows))
	}
}

func TestTradeLogRecordsClosedPosition(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	log, err := NewTradeLog(path, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("create log: %v", err)
	}

	err = log.Record(events.PositionClosedEvent{
		BaseEvent:   events.NewBase(events.PositionClosed),
		Mint:        "MintA",
		ExitSig:     "sig123",
		ExitReason:  "target_reached",
		ExitVenue:   "curve",
		LamportsIn:  1_000_000,
		LamportsOut: 1_500_000,
		HoldTime:    42 * time.Second,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	rows := readRows(t, path)
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}
	row := rows[1]
	if row[1] != "MintA" || row[2] != "target_reached" || row[3] != "curve" {
		t.Fatalf("unexpected row: %v", row)
	}
	if row[6] != "500000" {
		t.Fatalf("expected pnl 500000, got %s", row[6])
	}
	if row[7] != "42" {
		t.Fatalf("expected hold 42s, got %s", row[7])
	}
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return rows
}
