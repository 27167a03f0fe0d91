package tokens

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

// wordCounter counts whitespace-separated words.
var wordCounter = CounterFunc(func(s string) int { return len(strings.Fields(s)) })

// runeCounter counts runes, so any prefix length is reachable.
var runeCounter = CounterFunc(utf8.RuneCountInString)

type callCounter struct {
	inner Counter
	calls int
}

func (c *callCounter) Count(s string) int {
	c.calls++
	return c.inner.Count(s)
}

func TestSliceByTokenBudgetUnderBudgetUnchanged(t *testing.T) {
	t.Parallel()

	tr := NewTruncator(wordCounter)
	require.Equal(t, "one two three", tr.SliceByTokenBudget("one two three", 3))
	require.Equal(t, "one two three", tr.SliceByTokenBudget("one two three", 10))
}

func TestSliceByTokenBudgetProperties(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"the quick brown fox jumps over the lazy dog",
		strings.Repeat("안녕하세요 세계 ", 40),
		strings.Repeat("日本語のテキスト。", 30),
		"a",
	}
	for _, counter := range []Counter{wordCounter, runeCounter} {
		tr := NewTruncator(counter)
		for _, in := range inputs {
			for budget := 1; budget <= 25; budget++ {
				out := tr.SliceByTokenBudget(in, budget)
				require.True(t, strings.HasPrefix(in, out), "result must be a prefix")
				require.True(t, utf8.ValidString(out), "result must be valid utf-8")
				require.LessOrEqual(t, counter.Count(out), budget)
				require.Equal(t, out, tr.SliceByTokenBudget(out, budget), "truncation must be idempotent")
			}
		}
	}
}

func TestSliceByTokenBudgetExactRuneBudget(t *testing.T) {
	t.Parallel()

	tr := NewTruncator(runeCounter)
	require.Equal(t, "日本語", tr.SliceByTokenBudget("日本語のテキスト", 3))
}

func TestSliceByTokenBudgetNonPositive(t *testing.T) {
	t.Parallel()

	tr := NewTruncator(wordCounter)
	require.Empty(t, tr.SliceByTokenBudget("one two", 0))
	require.Empty(t, tr.SliceByTokenBudget("one two", -1))
	require.Empty(t, tr.SliceByTokenBudget("", 5))
}

func TestSliceByTokenBudgetZeroTokenTextUnchanged(t *testing.T) {
	t.Parallel()

	tr := NewTruncator(wordCounter)
	require.Equal(t, "  \n\t ", tr.SliceByTokenBudget("  \n\t ", 0))
	require.Equal(t, " ", tr.SliceByTokenBudget(" ", -1))
}

func TestSliceByTokenBudgetIterationBound(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("x", 1000)
	counter := &callCounter{inner: runeCounter}
	out := NewTruncator(counter).SliceByTokenBudget(in, 337)
	require.Len(t, out, 337)
	// one fast-path call plus the search
	require.LessOrEqual(t, counter.calls, 1+MaxIterations(1000))
}

func TestMaxIterations(t *testing.T) {
	t.Parallel()

	require.Equal(t, 1, MaxIterations(1))
	require.Equal(t, 2, MaxIterations(2))
	require.Equal(t, 11, MaxIterations(1000))
	require.Equal(t, 11, MaxIterations(1024))
}
