// internal/programs/computebudget/computebudget.go
// Package computebudget builds ComputeBudget program instructions.
package computebudget

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var ProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	setComputeUnitLimit uint8 = 2
	setComputeUnitPrice uint8 = 3
)

// Budget is the compute limit and priority price for one transaction.
type Budget struct {
	Units         uint32
	MicroLamports uint64
}

// Instructions returns the unit-limit and unit-price instructions to
// prepend to a transaction. The price instruction is omitted when the
// price is zero.
func Instructions(b Budget) ([]solana.Instruction, error) {
	if b.Units == 0 {
		return nil, fmt.Errorf("compute unit limit must be positive")
	}

	var instructions []solana.Instruction

	limit, err := encode(setComputeUnitLimit, b.Units)
	if err != nil {
		return nil, fmt.Errorf("build unit limit instruction: %w", err)
	}
	instructions = append(instructions, limit)

	if b.MicroLamports > 0 {
		price, err := encode(setComputeUnitPrice, b.MicroLamports)
		if err != nil {
			return nil, fmt.Errorf("build unit price instruction: %w", err)
		}
		instructions = append(instructions, price)
	}

	return instructions, nil
}

func encode(discriminator uint8, value interface{}) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, discriminator); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, value); err != nil {
		return nil, err
	}
	return solana.NewInstruction(ProgramID, []*solana.AccountMeta{}, buf.Bytes()), nil
}
