// internal/listener/listener_test.go
package listener

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

func mustKey(t *testing.T) solana.PublicKey {
	t.Helper()
	return solana.MustPublicKeyFromBase58("dbcij3LWUppWqq96dh6gJWwBifmcGfLSB5D4DuSMaqN")
}

func nopLogger() *zap.Logger {
	return zap.NewNop()
}

func notification(sig string, errField string, logs []string) []byte {
	body := `{"method":"logsNotification","params":{"result":{"context":{"slot":123},"value":{"signature":"` + sig + `","err":` + errField + `,"logs":[`
	for i, l := range logs {
		if i > 0 {
			body += ","
		}
		body += `"` + l + `"`
	}
	body += `]}},"subscription":1}}`
	return []byte(body)
}

func TestHandleMessageEmitsDetection(t *testing.T) {
	l := New("wss://example", mustKey(t), "", nopLogger())
	sig := solana.Signature{1, 2, 3}.String()

	l.handleMessage(context.Background(), notification(sig, "null", []string{"Program log: ok"}))

	select {
	case d := <-l.Out:
		if d.Slot != 123 {
			t.Fatalf("expected slot 123, got %d", d.Slot)
		}
		if d.Signature.String() != sig {
			t.Fatalf("unexpected signature %s", d.Signature)
		}
	default:
		t.Fatal("expected a detection")
	}
}

func TestHandleMessageSkipsFailedTransactions(t *testing.T) {
	l := New("wss://example", mustKey(t), "", nopLogger())
	sig := solana.Signature{4}.String()

	l.handleMessage(context.Background(), notification(sig, `{"InstructionError":[0,"Custom"]}`, nil))

	select {
	case <-l.Out:
		t.Fatal("failed transaction should not be emitted")
	default:
	}
}

func TestHandleMessageDeduplicatesRedelivery(t *testing.T) {
	l := New("wss://example", mustKey(t), "", nopLogger())
	sig := solana.Signature{5}.String()
	msg := notification(sig, "null", []string{"log"})

	l.handleMessage(context.Background(), msg)
	l.handleMessage(context.Background(), msg)

	count := 0
	for {
		select {
		case <-l.Out:
			count++
			continue
		default:
		}
		break
	}
	if count != 1 {
		t.Fatalf("expected exactly one detection, got %d", count)
	}
}
