package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// ActiveCodeLister reports the access codes currently held by active
// authorizations.
type ActiveCodeLister interface {
	ActiveCodes(ctx context.Context, at time.Time) ([]int, error)
}

// NumberSequence hands out strictly increasing authorization numbers.
type NumberSequence interface {
	Next(ctx context.Context) (int64, error)
}

// CredentialGenerator produces access codes and authorization numbers. It
// reads the active code set but never persists anything itself.
type CredentialGenerator struct {
	codes       ActiveCodeLister
	sequence    NumberSequence
	min         int
	max         int
	maxAttempts int
	randInt     func(n int) (int, error)
}

func NewCredentialGenerator(codes ActiveCodeLister, sequence NumberSequence, codeMin, codeMax, maxAttempts int) (*CredentialGenerator, error) {
	if codeMin < 0 || codeMax < codeMin {
		return nil, fmt.Errorf("%w: access code range [%d, %d]", ErrInvalidArgument, codeMin, codeMax)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &CredentialGenerator{
		codes:       codes,
		sequence:    sequence,
		min:         codeMin,
		max:         codeMax,
		maxAttempts: maxAttempts,
		randInt:     cryptoRandInt,
	}, nil
}

// NextNumber returns the next authorization number.
func (g *CredentialGenerator) NextNumber(ctx context.Context) (int64, error) {
	n, err := g.sequence.Next(ctx)
	if err != nil {
		return 0, fmt.Errorf("next authorization number: %w", err)
	}
	return n, nil
}

// NextCode draws a code not held by any authorization active at t. Random
// draws are tried first; after maxAttempts collisions the range is scanned
// from a random offset so a free code is found whenever one exists.
func (g *CredentialGenerator) NextCode(ctx context.Context, at time.Time) (int, error) {
	active, err := g.codes.ActiveCodes(ctx, at)
	if err != nil {
		return 0, fmt.Errorf("list active codes: %w", err)
	}

	taken := make(map[int]struct{}, len(active))
	for _, code := range active {
		if code >= g.min && code <= g.max {
			taken[code] = struct{}{}
		}
	}

	size := g.max - g.min + 1
	if len(taken) >= size {
		return 0, fmt.Errorf("%w: all %d access codes are active", ErrResourceExhausted, size)
	}

	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		offset, err := g.randInt(size)
		if err != nil {
			return 0, err
		}
		code := g.min + offset
		if _, used := taken[code]; !used {
			return code, nil
		}
	}

	start, err := g.randInt(size)
	if err != nil {
		return 0, err
	}
	for i := 0; i < size; i++ {
		code := g.min + (start+i)%size
		if _, used := taken[code]; !used {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: all %d access codes are active", ErrResourceExhausted, size)
}

func cryptoRandInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
