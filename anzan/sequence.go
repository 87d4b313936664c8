package anzan

import (
	"errors"
	"unicode/utf16"
)

// ErrUnsatisfiable is returned when no term can keep the running total
// non-negative within the retry budget. This is a local failure: it aborts
// the presentation and is never sent to the server.
var ErrUnsatisfiable = errors.New("cannot generate a sequence under these settings; allow negative totals or relax the constraints")

const (
	fnvOffsetBasis = 2166136261
	fnvPrime       = 16777619

	// Rejection retries are budgeted across the whole sequence, and every
	// draw (accepted or not) counts against it.
	retriesPerTerm = 120
)

// hashSeed is the order-sensitive 32-bit FNV-1a accumulation shared by every
// client implementation. It must match bit-for-bit across platforms, so it
// runs over UTF-16 code units rather than bytes.
func hashSeed(s string) uint32 {
	h := uint32(fnvOffsetBasis)
	for _, u := range utf16.Encode([]rune(s)) {
		h ^= uint32(u)
		h *= fnvPrime
	}

	return h
}

// rng is the shared mulberry32 recurrence, yielding floats in [0,1). All
// arithmetic wraps at 32 bits.
type rng struct {
	state uint32
}

func (r *rng) next() float64 {
	r.state += 0x6d2b79f5
	t := r.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)

	return float64(t^(t>>14)) / 4294967296
}

// Sequence is a generated presentation: the signed terms in display order
// and their sum, the expected answer.
type Sequence struct {
	Terms  []int
	Answer int
}

// Generate derives the term sequence for the given settings. Identical
// inputs always yield identical output; the draw order (magnitude, then sign
// for mixed mode, then the non-negative check) is part of the contract.
func Generate(s Settings) (Sequence, error) {
	r := &rng{state: hashSeed(s.Seed + s.canonical())}

	min, max := termRange(s.Digits)
	terms := make([]int, 0, s.Terms)
	total := 0
	retryLimit := s.Terms * retriesPerTerm
	retries := 0

	for i := 0; i < s.Terms; i++ {
		placed := false
		for !placed && retries < retryLimit {
			retries++

			val := int(r.next()*float64(max-min+1)) + min

			sign := 1
			switch s.Mode {
			case ModeSub:
				sign = -1
			case ModeMixed:
				if r.next() >= 0.5 {
					sign = -1
				}
			}

			term := sign * val
			if !s.AllowNegative && total+term < 0 {
				continue
			}

			terms = append(terms, term)
			total += term
			placed = true
		}

		if !placed {
			return Sequence{}, ErrUnsatisfiable
		}
	}

	return Sequence{Terms: terms, Answer: total}, nil
}

// termRange is [10^(d-1), 10^d - 1], special-cased to [1,9] for one digit.
func termRange(digits int) (int, int) {
	if digits <= 1 {
		return 1, 9
	}

	lo := 1
	for i := 1; i < digits; i++ {
		lo *= 10
	}

	return lo, lo*10 - 1
}
