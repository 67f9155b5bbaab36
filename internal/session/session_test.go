package session

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avkdev/lingsync/internal/bus"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
)

type memStore struct {
	mu  sync.Mutex
	tok string
}

func (m *memStore) LoadRefreshToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tok == "" {
		return "", errs.ErrNotFound
	}
	return m.tok, nil
}
func (m *memStore) SaveRefreshToken(t string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = t
	return nil
}
func (m *memStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tok = ""
	return nil
}

type fakeRefresher struct {
	calls int32
	delay time.Duration
	out   model.Tokens
	err   error
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (model.Tokens, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.out, f.err
}

func newManager(t *testing.T, r Refresher, s SecureStore) (*Manager, *bus.Bus) {
	t.Helper()
	b := bus.New()
	return NewManager(r, s, b, zap.NewNop()), b
}

func TestManager_CachedTokenReturnedWithoutRenewal(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{}
	m, _ := newManager(t, ref, &memStore{})
	require.NoError(t, m.SetTokens(model.Tokens{
		AccessToken: "a1", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	tok, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a1", tok)
	require.Zero(t, atomic.LoadInt32(&ref.calls))
}

func TestManager_SingleFlightRenewal(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{
		delay: 50 * time.Millisecond,
		out:   model.Tokens{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)},
	}
	m, _ := newManager(t, ref, &memStore{tok: "r1"})

	const n = 8
	var wg sync.WaitGroup
	toks := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.AccessToken(context.Background())
			require.NoError(t, err)
			toks[i] = tok
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&ref.calls), "concurrent callers must share one renewal")
	for _, tok := range toks {
		require.Equal(t, "a2", tok)
	}
	require.Equal(t, Authenticated, m.State())
}

func TestManager_RefreshRejected_TearsDownAndSignals(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{err: errs.ErrUnauthorized}
	sec := &memStore{tok: "r1"}
	m, b := newManager(t, ref, sec)

	var expired int32
	b.Subscribe(bus.SessionExpired, func() { atomic.AddInt32(&expired, 1) })

	_, err := m.AccessToken(context.Background())
	require.ErrorIs(t, err, errs.ErrSessionExpired)
	require.EqualValues(t, 1, atomic.LoadInt32(&expired))
	require.Equal(t, Unauthenticated, m.State())

	_, serr := sec.LoadRefreshToken()
	require.ErrorIs(t, serr, errs.ErrNotFound, "refresh token must be purged")
}

func TestManager_NetworkFailureKeepsSessionRenewable(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{err: errs.ErrUnavailable}
	sec := &memStore{tok: "r1"}
	m, _ := newManager(t, ref, sec)

	_, err := m.AccessToken(context.Background())
	require.ErrorIs(t, err, errs.ErrUnavailable)
	require.Equal(t, Expired, m.State())

	tok, _ := sec.LoadRefreshToken()
	require.Equal(t, "r1", tok)
}

func TestManager_RotatedRefreshTokenPersisted(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{
		out: model.Tokens{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)},
	}
	sec := &memStore{tok: "r1"}
	m, _ := newManager(t, ref, sec)

	_, err := m.AccessToken(context.Background())
	require.NoError(t, err)
	tok, _ := sec.LoadRefreshToken()
	require.Equal(t, "r2", tok)
}

func TestManager_Authorize_RetriesOnceAfterRenewal(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{
		out: model.Tokens{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)},
	}
	m, _ := newManager(t, ref, &memStore{tok: "r1"})
	require.NoError(t, m.SetTokens(model.Tokens{
		AccessToken: "stale", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	var calls []string
	err := m.Authorize(context.Background(), func(token string) error {
		calls = append(calls, token)
		if token == "stale" {
			return errs.ErrUnauthorized
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"stale", "a2"}, calls)
}

func TestManager_Authorize_SecondAuthFailureIsTerminal(t *testing.T) {
	t.Parallel()
	ref := &fakeRefresher{
		out: model.Tokens{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)},
	}
	sec := &memStore{tok: "r1"}
	m, b := newManager(t, ref, sec)
	require.NoError(t, m.SetTokens(model.Tokens{
		AccessToken: "stale", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	var expired int32
	b.Subscribe(bus.SessionExpired, func() { atomic.AddInt32(&expired, 1) })

	err := m.Authorize(context.Background(), func(string) error { return errs.ErrUnauthorized })
	require.ErrorIs(t, err, errs.ErrSessionExpired)
	require.EqualValues(t, 1, atomic.LoadInt32(&expired))
	require.Equal(t, Unauthenticated, m.State())
}

func TestManager_Authorize_NonAuthErrorNotRetried(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, &fakeRefresher{}, &memStore{})
	require.NoError(t, m.SetTokens(model.Tokens{
		AccessToken: "a1", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour),
	}))

	calls := 0
	err := m.Authorize(context.Background(), func(string) error {
		calls++
		return errs.ErrUnavailable
	})
	require.ErrorIs(t, err, errs.ErrUnavailable)
	require.Equal(t, 1, calls)
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()
	fs := NewFileStore(t.TempDir())

	_, err := fs.LoadRefreshToken()
	require.ErrorIs(t, err, errs.ErrNotFound)

	require.NoError(t, fs.SaveRefreshToken("r1"))
	tok, err := fs.LoadRefreshToken()
	require.NoError(t, err)
	require.Equal(t, "r1", tok)

	require.NoError(t, fs.Clear())
	_, err = fs.LoadRefreshToken()
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.NoError(t, fs.Clear(), "clearing twice is fine")
}

func TestManager_RestartWithDurableToken_StartsExpired(t *testing.T) {
	t.Parallel()
	m, _ := newManager(t, &fakeRefresher{}, &memStore{tok: "r1"})
	require.Equal(t, Expired, m.State())
}
