package auth

import (
	"context"
	"testing"

	"github.com/Sternrassler/nepse-collector/internal/testutil"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWASMComputer(t *testing.T) {
	ctx := context.Background()

	c, err := NewWASMComputer(ctx, testutil.IndexModule)
	require.NoError(t, err)
	defer c.Close(ctx)

	tests := []struct {
		name string
		fn   func(ctx context.Context, a, b, c, d, e int64) (int, error)
		want int
	}{
		{name: "cdx", fn: c.Cdx, want: 1},
		{name: "rdx", fn: c.Rdx, want: 2},
		{name: "bdx", fn: c.Bdx, want: 3},
		{name: "ndx", fn: c.Ndx, want: 4},
		{name: "mdx", fn: c.Mdx, want: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.fn(ctx, 1, 2, 3, 4, 5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWASMComputer_ComputeIndices(t *testing.T) {
	ctx := context.Background()

	c, err := NewWASMComputer(ctx, testutil.IndexModule)
	require.NoError(t, err)
	defer c.Close(ctx)

	s := testutil.SaltsFor(testutil.DefaultOffsets)
	idx, err := ComputeIndices(ctx, c, Salts{int64(s[0]), int64(s[1]), int64(s[2]), int64(s[3]), int64(s[4])})
	require.NoError(t, err)
	assert.Equal(t, SpliceIndices(testutil.DefaultOffsets), idx)
}

func TestNewWASMComputer_InvalidModule(t *testing.T) {
	_, err := NewWASMComputer(context.Background(), []byte("not wasm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile index module")
}

func TestNewWASMComputerFromURL(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	ctx := context.Background()
	tr := transport.NewResty(transport.DefaultConfig())

	c, err := NewWASMComputerFromURL(ctx, tr, mock.URL()+IndexModulePath)
	require.NoError(t, err)
	defer c.Close(ctx)

	got, err := c.Mdx(ctx, 0, 0, 0, 0, 42)
	require.NoError(t, err)
	assert.Equal(t, 42, got)

	_, err = LoadWASM(ctx, tr, mock.URL()+"/missing.wasm")
	assert.Error(t, err)
}
