// Copyright (C) 2025-2026, Lattice Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package types

import (
	"github.com/holiman/uint256"
)

// Amount is a stake or balance value. The live balance domain is
// [0, 2^128); uint256 gives tallies headroom when many weights are summed.
type Amount = uint256.Int

// ZeroAmount returns a fresh zero amount.
func ZeroAmount() Amount {
	return Amount{}
}

// AmountFromUint64 builds an amount from a small integer, mostly for tests
// and thresholds.
func AmountFromUint64(v uint64) Amount {
	var a Amount
	a.SetUint64(v)
	return a
}

// AmountShift returns 1 << bits, used to describe the balance bucket domain.
func AmountShift(bits uint) Amount {
	var a Amount
	a.SetUint64(1)
	a.Lsh(&a, bits)
	return a
}

// AddAmounts returns a + b without mutating either operand.
func AddAmounts(a, b Amount) Amount {
	var r Amount
	r.Add(&a, &b)
	return r
}

// MaxAmount returns the larger of a and b.
func MaxAmount(a, b Amount) Amount {
	if a.Cmp(&b) >= 0 {
		return a
	}
	return b
}

// MinAmount returns the smaller of a and b.
func MinAmount(a, b Amount) Amount {
	if a.Cmp(&b) <= 0 {
		return a
	}
	return b
}
