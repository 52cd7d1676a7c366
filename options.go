package ntt

import (
	"errors"
	"fmt"
	"math/bits"
)

// ProofOptions carries the protocol parameters a proof system layers on
// top of the transform engine. The engine itself only consumes the blowup
// factor (it fixes the ratio between trace and evaluation domain sizes),
// but the options validate as a unit so a misconfigured prover fails
// before any GPU work is planned.
type ProofOptions struct {
	NumQueries          uint8
	LDEBlowupFactor     uint8
	GrindingFactor      uint8
	FriFoldingFactor    uint8
	FriMaxRemainderSize uint8
}

// ProofOptions bounds.
const (
	MinNumQueries     = 1
	MaxNumQueries     = 128
	MinBlowupFactor   = 1
	MaxBlowupFactor   = 64
	MaxGrindingFactor = 32
)

var ErrInvalidProofOptions = errors.New("ntt: invalid proof options")

// NewProofOptions validates and constructs proof options. The blowup
// factor must be a power of two.
func NewProofOptions(numQueries, ldeBlowupFactor, grindingFactor, friFoldingFactor, friMaxRemainderSize uint8) (ProofOptions, error) {
	o := ProofOptions{
		NumQueries:          numQueries,
		LDEBlowupFactor:     ldeBlowupFactor,
		GrindingFactor:      grindingFactor,
		FriFoldingFactor:    friFoldingFactor,
		FriMaxRemainderSize: friMaxRemainderSize,
	}
	if numQueries < MinNumQueries || numQueries > MaxNumQueries {
		return o, fmt.Errorf("%w: num queries %d outside [%d, %d]",
			ErrInvalidProofOptions, numQueries, MinNumQueries, MaxNumQueries)
	}
	if ldeBlowupFactor&(ldeBlowupFactor-1) != 0 ||
		ldeBlowupFactor < MinBlowupFactor || ldeBlowupFactor > MaxBlowupFactor {
		return o, fmt.Errorf("%w: blowup factor %d must be a power of two in [%d, %d]",
			ErrInvalidProofOptions, ldeBlowupFactor, MinBlowupFactor, MaxBlowupFactor)
	}
	if grindingFactor > MaxGrindingFactor {
		return o, fmt.Errorf("%w: grinding factor %d exceeds %d",
			ErrInvalidProofOptions, grindingFactor, MaxGrindingFactor)
	}
	return o, nil
}

// grindingContributionFloor is the query security below which grinding
// bits do not count toward the total.
const grindingContributionFloor = 80

// ConjecturedSecurityLevel estimates the bits of security of a proof under
// the conjectured (non-provable) soundness of the FRI protocol. fieldBits
// is the bit size of the field the protocol runs over, hashSecurity the
// collision resistance of the commitment hash, traceLen the trace domain
// size.
func ConjecturedSecurityLevel(fieldBits, hashSecurity int, options ProofOptions, traceLen int) int {
	blowup := int(options.LDEBlowupFactor)

	fieldSecurity := fieldBits - bits.TrailingZeros(uint(blowup*traceLen))

	securityPerQuery := bits.Len(uint(blowup)) - 1
	querySecurity := securityPerQuery * int(options.NumQueries)
	if querySecurity >= grindingContributionFloor {
		querySecurity += int(options.GrindingFactor)
	}

	security := fieldSecurity
	if querySecurity < security {
		security = querySecurity
	}
	security--
	if hashSecurity < security {
		security = hashSecurity
	}
	return security
}
