// internal/venue/venue_test.go
package venue

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMigrationError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrPoolMigrated, true},
		{"wrapped sentinel", fmt.Errorf("sell failed: %w", ErrPoolMigrated), true},
		{"program log name", errors.New(`Program log: AnchorError occurred. Error Code: PoolIsCompleted.`), true},
		{"hex custom code", errors.New("custom program error: 0x177d"), true},
		{"decimal custom code", errors.New(`{"InstructionError":[3,{"Custom":6013}]}`), true},
		{"slippage error", errors.New("custom program error: 0x1771"), false},
		{"plain failure", errors.New("blockhash not found"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsMigrationError(tc.err); got != tc.want {
				t.Fatalf("IsMigrationError(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestMinOut(t *testing.T) {
	if got := minOut(1000, 25); got != 750 {
		t.Fatalf("expected 750, got %d", got)
	}
	if got := minOut(1000, 0); got != 1000 {
		t.Fatalf("zero slippage should keep the full amount, got %d", got)
	}
	if got := minOut(1000, 100); got != 0 {
		t.Fatalf("full slippage should allow zero, got %d", got)
	}
}

func TestConstantProductOut(t *testing.T) {
	// Swapping 10 into a 100/100 pool yields a bit over 9.
	out := constantProductOut(100, 100, 10)
	if out != 9 {
		t.Fatalf("expected 9, got %d", out)
	}

	if constantProductOut(0, 100, 10) != 0 {
		t.Fatal("empty input reserve must price to zero")
	}
	if constantProductOut(100, 100, 0) != 0 {
		t.Fatal("zero input must price to zero")
	}
}
