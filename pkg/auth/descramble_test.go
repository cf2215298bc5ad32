package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescramble(t *testing.T) {
	const scrambled = "ab1cd2efg3hij4klmnop5qrstuvwxy"
	require.Len(t, scrambled, 30)

	tests := []struct {
		name string
		idx  SpliceIndices
	}{
		{name: "ascending", idx: SpliceIndices{2, 5, 9, 13, 20}},
		{name: "unordered", idx: SpliceIndices{20, 2, 13, 5, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Descramble(scrambled, tt.idx)
			require.NoError(t, err)
			assert.Equal(t, "abcdefghijklmnopqrstuvwxy", got)
		})
	}
}

func TestDescramble_Deterministic(t *testing.T) {
	idx := SpliceIndices{2, 5, 9, 13, 20}
	first, err := Descramble("ab1cd2efg3hij4klmnop5qrstuvwxy", idx)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		got, err := Descramble("ab1cd2efg3hij4klmnop5qrstuvwxy", idx)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestDescramble_InvalidOffsets(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		idx     SpliceIndices
		wantErr string
	}{
		{name: "duplicate", token: "abcdefghij", idx: SpliceIndices{1, 2, 2, 3, 4}, wantErr: "duplicate"},
		{name: "negative", token: "abcdefghij", idx: SpliceIndices{-1, 2, 3, 4, 5}, wantErr: "out of range"},
		{name: "past end", token: "abcdefghij", idx: SpliceIndices{1, 2, 3, 4, 10}, wantErr: "out of range"},
		{name: "short token", token: "abc", idx: SpliceIndices{0, 1, 2, 3, 4}, wantErr: "out of range"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Descramble(tt.token, tt.idx)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// recordingComputer returns fixed results and records the arguments of each
// call.
type recordingComputer struct {
	results map[string]int
	args    map[string][5]int64
	fail    string
}

func newRecordingComputer() *recordingComputer {
	return &recordingComputer{
		results: map[string]int{"cdx": 1, "rdx": 2, "bdx": 3, "ndx": 4, "mdx": 5},
		args:    map[string][5]int64{},
	}
}

func (r *recordingComputer) record(name string, a, b, c, d, e int64) (int, error) {
	r.args[name] = [5]int64{a, b, c, d, e}
	if r.fail == name {
		return 0, errors.New("trap")
	}
	return r.results[name], nil
}

func (r *recordingComputer) Cdx(_ context.Context, a, b, c, d, e int64) (int, error) {
	return r.record("cdx", a, b, c, d, e)
}

func (r *recordingComputer) Rdx(_ context.Context, a, b, c, d, e int64) (int, error) {
	return r.record("rdx", a, b, c, d, e)
}

func (r *recordingComputer) Bdx(_ context.Context, a, b, c, d, e int64) (int, error) {
	return r.record("bdx", a, b, c, d, e)
}

func (r *recordingComputer) Ndx(_ context.Context, a, b, c, d, e int64) (int, error) {
	return r.record("ndx", a, b, c, d, e)
}

func (r *recordingComputer) Mdx(_ context.Context, a, b, c, d, e int64) (int, error) {
	return r.record("mdx", a, b, c, d, e)
}

func TestComputeIndices_ArgumentOrder(t *testing.T) {
	c := newRecordingComputer()

	idx, err := ComputeIndices(context.Background(), c, Salts{11, 22, 33, 44, 55})
	require.NoError(t, err)
	assert.Equal(t, SpliceIndices{1, 2, 3, 4, 5}, idx)

	assert.Equal(t, [5]int64{11, 22, 33, 44, 55}, c.args["cdx"])
	for _, name := range []string{"rdx", "bdx", "ndx", "mdx"} {
		assert.Equal(t, [5]int64{11, 22, 44, 33, 55}, c.args[name], name)
	}
}

func TestComputeIndices_Error(t *testing.T) {
	c := newRecordingComputer()
	c.fail = "ndx"

	_, err := ComputeIndices(context.Background(), c, Salts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compute ndx")
}
