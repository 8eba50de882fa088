// internal/listener/listener.go
// Package listener watches program logs over the RPC websocket and
// emits new-pool detections.
package listener

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	dedupeLimit    = 4096
	reconnectDelay = 2 * time.Second
	writeTimeout   = 10 * time.Second
)

// Detection is one candidate pool-creation transaction.
type Detection struct {
	Signature solana.Signature
	Slot      uint64
	Logs      []string
}

// Listener subscribes to logsSubscribe for one program and pushes
// deduplicated detections into Out. It reconnects and resubscribes on
// any websocket error.
type Listener struct {
	url       string
	programID solana.PublicKey
	logMatch  string
	logger    *zap.Logger
	dedupe    *dedupe

	Out chan Detection
}

// New creates a listener. logMatch, when non-empty, requires a log line
// containing it (case-insensitive) before a detection is emitted.
func New(url string, programID solana.PublicKey, logMatch string, logger *zap.Logger) *Listener {
	return &Listener{
		url:       url,
		programID: programID,
		logMatch:  strings.ToLower(logMatch),
		logger:    logger.Named("listener"),
		dedupe:    newDedupe(dedupeLimit),
		Out:       make(chan Detection, 256),
	}
}

// Run blocks until ctx is canceled, maintaining the subscription across
// disconnects.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.Out)

	for {
		if err := l.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn("Websocket session ended, reconnecting",
				zap.Error(err),
				zap.Duration("delay", reconnectDelay))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx is canceled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := l.subscribe(conn); err != nil {
		return err
	}

	l.logger.Info("🔭 Watching program logs",
		zap.String("program", l.programID.String()))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		l.handleMessage(ctx, message)
	}
}

func (l *Listener) subscribe(conn *websocket.Conn) error {
	request := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "logsSubscribe",
		"params": []interface{}{
			map[string]interface{}{"mentions": []string{l.programID.String()}},
			map[string]interface{}{"commitment": "processed"},
		},
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(request); err != nil {
		return fmt.Errorf("send subscription: %w", err)
	}
	return nil
}

type logsNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Context struct {
				Slot uint64 `json:"slot"`
			} `json:"context"`
			Value struct {
				Signature string      `json:"signature"`
				Err       interface{} `json:"err"`
				Logs      []string    `json:"logs"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

func (l *Listener) handleMessage(ctx context.Context, message []byte) {
	var notification logsNotification
	if err := json.Unmarshal(message, &notification); err != nil {
		return
	}
	if notification.Method != "logsNotification" {
		return
	}

	value := notification.Params.Result.Value
	if value.Err != nil {
		return
	}
	if !l.matches(value.Logs) {
		return
	}
	if !l.dedupe.MarkSeen(value.Signature) {
		return
	}

	sig, err := solana.SignatureFromBase58(value.Signature)
	if err != nil {
		l.logger.Warn("Unparseable signature in notification",
			zap.String("signature", value.Signature))
		return
	}

	detection := Detection{
		Signature: sig,
		Slot:      notification.Params.Result.Context.Slot,
		Logs:      value.Logs,
	}

	select {
	case l.Out <- detection:
	case <-ctx.Done():
	default:
		l.logger.Warn("Detection channel full, dropping",
			zap.String("signature", value.Signature))
	}
}

func (l *Listener) matches(logs []string) bool {
	if l.logMatch == "" {
		return true
	}
	for _, line := range logs {
		if strings.Contains(strings.ToLower(line), l.logMatch) {
			return true
		}
	}
	return false
}
