package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type staticCodes []int

func (s staticCodes) ActiveCodes(context.Context, time.Time) ([]int, error) {
	return s, nil
}

type counterSequence struct{ n int64 }

func (c *counterSequence) Next(context.Context) (int64, error) {
	c.n++
	return c.n, nil
}

func TestNewCredentialGeneratorRejectsRange(t *testing.T) {
	if _, err := NewCredentialGenerator(staticCodes(nil), &counterSequence{}, 10, 5, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestNextCodeInRange(t *testing.T) {
	gen, err := NewCredentialGenerator(staticCodes(nil), &counterSequence{}, 1000, 9999, 10)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	for i := 0; i < 500; i++ {
		code, err := gen.NextCode(context.Background(), time.Now())
		if err != nil {
			t.Fatalf("next code: %v", err)
		}
		if code < 1000 || code > 9999 {
			t.Fatalf("code %d out of range", code)
		}
	}
}

func TestNextCodeAvoidsActiveCodes(t *testing.T) {
	gen, err := NewCredentialGenerator(staticCodes{1, 2}, &counterSequence{}, 1, 3, 5)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	for i := 0; i < 50; i++ {
		code, err := gen.NextCode(context.Background(), time.Now())
		if err != nil {
			t.Fatalf("next code: %v", err)
		}
		if code != 3 {
			t.Fatalf("expected the only free code 3, got %d", code)
		}
	}
}

func TestNextCodeScansAfterCollisions(t *testing.T) {
	gen, err := NewCredentialGenerator(staticCodes{100}, &counterSequence{}, 100, 104, 3)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	gen.randInt = func(int) (int, error) { return 0, nil }

	code, err := gen.NextCode(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("next code: %v", err)
	}
	if code != 101 {
		t.Fatalf("expected scan to reach 101, got %d", code)
	}
}

func TestNextCodeExhausted(t *testing.T) {
	gen, err := NewCredentialGenerator(staticCodes{7, 8}, &counterSequence{}, 7, 8, 5)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := gen.NextCode(context.Background(), time.Now()); !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}
}

func TestNextNumberIncreases(t *testing.T) {
	gen, err := NewCredentialGenerator(staticCodes(nil), &counterSequence{}, 1000, 9999, 1)
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	var last int64
	for i := 0; i < 5; i++ {
		n, err := gen.NextNumber(context.Background())
		if err != nil {
			t.Fatalf("next number: %v", err)
		}
		if n <= last {
			t.Fatalf("expected increasing numbers, got %d after %d", n, last)
		}
		last = n
	}
}
