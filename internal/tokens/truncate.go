// Package tokens trims text to fit a model's token budget.
package tokens

import (
	"fmt"
	"math/bits"

	"github.com/pkoukk/tiktoken-go"
)

// Counter reports how many tokens a text encodes to.
type Counter interface {
	Count(text string) int
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(string) int

// Count implements Counter.
func (f CounterFunc) Count(text string) int { return f(text) }

// TiktokenCounter counts tokens with a tiktoken encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding: %w", err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements Counter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// Truncator cuts text to the longest prefix within a token budget.
type Truncator struct {
	counter Counter
}

// NewTruncator builds a truncator over counter.
func NewTruncator(counter Counter) *Truncator {
	return &Truncator{counter: counter}
}

// MaxIterations bounds the binary search for an input of n runes.
func MaxIterations(n int) int {
	if n <= 1 {
		return 1
	}
	return bits.Len(uint(n-1)) + 1
}

// SliceByTokenBudget returns text unchanged when it fits, otherwise the longest rune-aligned
// prefix whose count does not exceed maxTokens.
func (t *Truncator) SliceByTokenBudget(text string, maxTokens int) string {
	if text == "" {
		return ""
	}
	if t.counter.Count(text) <= maxTokens {
		return text
	}
	if maxTokens <= 0 {
		return ""
	}

	runes := []rune(text)
	// The full text is known to exceed the budget, so only shorter prefixes are candidates.
	lo, hi := 0, len(runes)-1
	best := 0
	for i := 0; i < MaxIterations(len(runes)) && lo <= hi; i++ {
		mid := lo + (hi-lo)/2
		n := t.counter.Count(string(runes[:mid]))
		if n == maxTokens {
			return string(runes[:mid])
		}
		if n < maxTokens {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:best])
}
