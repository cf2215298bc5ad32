package auth

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/Sternrassler/nepse-collector/internal/testutil"
	"github.com/Sternrassler/nepse-collector/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, mock *testutil.MockUpstream) *Provider {
	t.Helper()
	ctx := context.Background()

	c, err := NewWASMComputer(ctx, testutil.IndexModule)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(ctx) })

	p, err := New(Config{
		BaseURL:   mock.URL(),
		Transport: transport.NewResty(transport.DefaultConfig()),
		Computer:  c,
	})
	require.NoError(t, err)
	return p
}

func TestNew_Validation(t *testing.T) {
	tr := transport.NewResty(transport.DefaultConfig())
	c := newRecordingComputer()

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{BaseURL: "https://nepalstock.com", Transport: tr, Computer: c}},
		{name: "missing base url", cfg: Config{Transport: tr, Computer: c}, wantErr: true},
		{name: "missing transport", cfg: Config{BaseURL: "x", Computer: c}, wantErr: true},
		{name: "missing computer", cfg: Config{BaseURL: "x", Transport: tr}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProvider_Acquire(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	p := newTestProvider(t, mock)
	assert.True(t, p.Headers().IsZero())

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, mock.Token(), h.Token)
	assert.Equal(t, "Salter "+mock.Token(), h.Authorization())
	assert.Equal(t, h, p.Headers())

	header := http.Header{}
	h.Apply(header)
	assert.Equal(t, "Salter "+mock.Token(), header.Get("Authorization"))
	assert.Equal(t, Accept, header.Get("Accept"))
}

func TestProvider_RefreshReplacesSnapshot(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	p := newTestProvider(t, mock)
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	require.NoError(t, err)

	second, err := p.Refresh(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, second, p.Headers())
	assert.Equal(t, 2, mock.ProveCount())
}

func TestProvider_ConcurrentRefresh(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	p := newTestProvider(t, mock)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Refresh(ctx)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, mock.ProveCount(), 10)
	assert.Equal(t, mock.Token(), p.Headers().Token)
}

func TestProvider_ProveFailures(t *testing.T) {
	tests := []struct {
		name       string
		resp       testutil.MockResponse
		wantStatus int
		wantMsg    string
	}{
		{
			name:       "server error",
			resp:       testutil.NewServerErrorResponse(),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    "prove rejected",
		},
		{
			name:       "missing token",
			resp:       testutil.NewJSONResponse(http.StatusOK, `{"salt1": 1, "salt2": 2, "salt3": 3, "salt4": 4, "salt5": 5}`),
			wantStatus: http.StatusOK,
			wantMsg:    "no access token",
		},
		{
			name:       "not an object",
			resp:       testutil.NewJSONResponse(http.StatusOK, `<html>maintenance</html>`),
			wantStatus: http.StatusOK,
			wantMsg:    "not a JSON object",
		},
		{
			name:       "non-numeric salt",
			resp:       testutil.NewJSONResponse(http.StatusOK, `{"accessToken": "abcdefghij", "salt1": "x", "salt2": 2, "salt3": 3, "salt4": 4, "salt5": 5}`),
			wantStatus: http.StatusOK,
			wantMsg:    "invalid salts",
		},
		{
			name:    "offsets out of range",
			resp:    testutil.NewJSONResponse(http.StatusOK, `{"accessToken": "abc", "salt1": 1, "salt2": 2, "salt3": 3, "salt4": 4, "salt5": 5}`),
			wantMsg: "invalid splice offsets",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockUpstream()
			defer mock.Close()
			mock.SetResponse(testutil.ProvePath, tt.resp)

			p := newTestProvider(t, mock)
			_, err := p.Acquire(context.Background())
			require.Error(t, err)

			var authErr *Error
			require.True(t, errors.As(err, &authErr), "expected *auth.Error, got %T", err)
			assert.Equal(t, tt.wantStatus, authErr.StatusCode)
			assert.Contains(t, authErr.Error(), tt.wantMsg)
			assert.True(t, p.Headers().IsZero())
		})
	}
}

func TestProvider_AcquireCancelled(t *testing.T) {
	mock := testutil.NewMockUpstream()
	defer mock.Close()

	p := newTestProvider(t, mock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Acquire(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSalts(t *testing.T) {
	tests := []struct {
		name    string
		obj     map[string]any
		want    Salts
		wantErr bool
	}{
		{
			name: "numbers and strings",
			obj:  map[string]any{"salt1": 1.0, "salt2": "2", "salt3": 3.0, "salt4": 4.0, "salt5": " 5 "},
			want: Salts{1, 2, 3, 4, 5},
		},
		{name: "missing", obj: map[string]any{"salt1": 1.0}, wantErr: true},
		{
			name:    "fractional",
			obj:     map[string]any{"salt1": 1.5, "salt2": 2.0, "salt3": 3.0, "salt4": 4.0, "salt5": 5.0},
			wantErr: true,
		},
		{
			name:    "null",
			obj:     map[string]any{"salt1": nil, "salt2": 2.0, "salt3": 3.0, "salt4": 4.0, "salt5": 5.0},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSalts(tt.obj)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
