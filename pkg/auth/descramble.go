package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Salts are the five values returned alongside the scrambled access token.
type Salts [5]int64

// SpliceIndices are the five offsets into the scrambled token whose
// characters are padding.
type SpliceIndices [5]int

// IndexComputer computes one splice offset per named function. The upstream
// ships these as exports of a small WebAssembly module; the argument order
// each function receives is fixed by ComputeIndices.
type IndexComputer interface {
	Cdx(ctx context.Context, a, b, c, d, e int64) (int, error)
	Rdx(ctx context.Context, a, b, c, d, e int64) (int, error)
	Bdx(ctx context.Context, a, b, c, d, e int64) (int, error)
	Ndx(ctx context.Context, a, b, c, d, e int64) (int, error)
	Mdx(ctx context.Context, a, b, c, d, e int64) (int, error)
}

// ComputeIndices runs the five index functions with their upstream argument
// orders: cdx takes salts 1..5 in order, the others swap salt3 and salt4.
func ComputeIndices(ctx context.Context, c IndexComputer, s Salts) (SpliceIndices, error) {
	calls := []struct {
		name string
		fn   func(ctx context.Context, a, b, c, d, e int64) (int, error)
		args [5]int64
	}{
		{"cdx", c.Cdx, [5]int64{s[0], s[1], s[2], s[3], s[4]}},
		{"rdx", c.Rdx, [5]int64{s[0], s[1], s[3], s[2], s[4]}},
		{"bdx", c.Bdx, [5]int64{s[0], s[1], s[3], s[2], s[4]}},
		{"ndx", c.Ndx, [5]int64{s[0], s[1], s[3], s[2], s[4]}},
		{"mdx", c.Mdx, [5]int64{s[0], s[1], s[3], s[2], s[4]}},
	}

	var idx SpliceIndices
	for i, call := range calls {
		n, err := call.fn(ctx, call.args[0], call.args[1], call.args[2], call.args[3], call.args[4])
		if err != nil {
			return idx, fmt.Errorf("compute %s: %w", call.name, err)
		}
		idx[i] = n
	}
	return idx, nil
}

// Descramble removes the character at each of the five offsets from token.
// Offsets are applied in ascending order regardless of how they are passed.
func Descramble(token string, idx SpliceIndices) (string, error) {
	offsets := idx
	sort.Ints(offsets[:])

	for i, o := range offsets {
		if o < 0 || o >= len(token) {
			return "", fmt.Errorf("splice offset %d out of range for token of length %d", o, len(token))
		}
		if i > 0 && o == offsets[i-1] {
			return "", fmt.Errorf("duplicate splice offset %d", o)
		}
	}

	var b strings.Builder
	b.Grow(len(token) - len(offsets))
	prev := 0
	for _, o := range offsets {
		b.WriteString(token[prev:o])
		prev = o + 1
	}
	b.WriteString(token[prev:])
	return b.String(), nil
}
