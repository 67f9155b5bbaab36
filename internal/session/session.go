// Package session manages the client token lifecycle: a short-lived access
// token held only in memory and a long-lived refresh token in durable secure
// storage. Every sync call is gated on a valid access token from here.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/avkdev/lingsync/internal/bus"
	"github.com/avkdev/lingsync/internal/errs"
	"github.com/avkdev/lingsync/internal/model"
)

// State is the session lifecycle state.
type State int

// Session states.
const (
	Unauthenticated State = iota
	Authenticating
	Authenticated
	Expired
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Expired:
		return "expired"
	default:
		return "unauthenticated"
	}
}

// expiryLeeway: a token this close to expiry is treated as already expired so
// a flush does not race the server-side check.
const expiryLeeway = 10 * time.Second

// SecureStore persists the refresh token across process restarts.
type SecureStore interface {
	// LoadRefreshToken returns the stored token, or errs.ErrNotFound.
	LoadRefreshToken() (string, error)
	// SaveRefreshToken stores the token durably.
	SaveRefreshToken(token string) error
	// Clear removes the stored token.
	Clear() error
}

// Refresher exchanges a refresh token for a new token pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (model.Tokens, error)
}

// Manager holds the volatile access token and performs single-flight renewal.
type Manager struct {
	refresher Refresher
	secure    SecureStore
	events    *bus.Bus
	log       *zap.Logger

	mu     sync.Mutex
	state  State
	access string
	expiry time.Time
	cur    *renewal
}

type renewal struct {
	done chan struct{}
	tok  string
	err  error
}

// NewManager constructs a session manager.
func NewManager(refresher Refresher, secure SecureStore, events *bus.Bus, log *zap.Logger) *Manager {
	m := &Manager{refresher: refresher, secure: secure, events: events, log: log}
	if _, err := secure.LoadRefreshToken(); err == nil {
		// a durable refresh token means a renewable session; the access
		// token is gone with the old process and will be renewed lazily
		m.state = Expired
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetTokens installs a freshly issued pair (after login).
func (m *Manager) SetTokens(t model.Tokens) error {
	if err := m.secure.SaveRefreshToken(t.RefreshToken); err != nil {
		return fmt.Errorf("persist refresh token: %w", err)
	}
	m.mu.Lock()
	m.access = t.AccessToken
	m.expiry = t.ExpiresAt
	m.state = Authenticated
	m.mu.Unlock()
	return nil
}

// Logout purges both tokens and returns to Unauthenticated.
func (m *Manager) Logout() {
	m.mu.Lock()
	m.access = ""
	m.expiry = time.Time{}
	m.state = Unauthenticated
	m.mu.Unlock()
	_ = m.secure.Clear()
}

// Invalidate drops the cached access token so the next AccessToken call
// renews. Used when the server rejects a token the client believed valid.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.access = ""
	if m.state == Authenticated {
		m.state = Expired
	}
	m.mu.Unlock()
}

// AccessToken returns a non-expired access token, renewing if needed. At most
// one renewal is in flight at a time; concurrent callers await its result.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	if m.access != "" && time.Until(m.expiry) > expiryLeeway {
		tok := m.access
		m.mu.Unlock()
		return tok, nil
	}
	if m.state == Unauthenticated {
		m.mu.Unlock()
		return "", errs.ErrUnauthorized
	}
	if m.cur == nil {
		m.cur = &renewal{done: make(chan struct{})}
		m.state = Authenticating
		go m.renew(m.cur)
	}
	r := m.cur
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.done:
		return r.tok, r.err
	}
}

// renew performs one refresh exchange and publishes the result to all
// waiters. Runs outside the manager lock.
func (m *Manager) renew(r *renewal) {
	defer func() {
		m.mu.Lock()
		m.cur = nil
		m.mu.Unlock()
		close(r.done)
	}()

	refresh, err := m.secure.LoadRefreshToken()
	if err != nil {
		m.mu.Lock()
		m.state = Unauthenticated
		m.mu.Unlock()
		r.err = errs.ErrUnauthorized
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tokens, err := m.refresher.Refresh(ctx, refresh)
	switch {
	case err == nil:
		m.mu.Lock()
		m.access = tokens.AccessToken
		m.expiry = tokens.ExpiresAt
		m.state = Authenticated
		m.mu.Unlock()
		if tokens.RefreshToken != "" {
			if serr := m.secure.SaveRefreshToken(tokens.RefreshToken); serr != nil {
				m.log.Warn("persist rotated refresh token", zap.Error(serr))
			}
		}
		r.tok = tokens.AccessToken
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrSessionExpired):
		// refresh token rejected: the session is over
		m.log.Info("refresh token rejected, session torn down")
		m.teardown()
		r.err = errs.ErrSessionExpired
	default:
		m.mu.Lock()
		m.state = Expired
		m.mu.Unlock()
		r.err = fmt.Errorf("renew: %w", err)
	}
}

func (m *Manager) teardown() {
	m.mu.Lock()
	m.access = ""
	m.expiry = time.Time{}
	m.state = Unauthenticated
	m.mu.Unlock()
	_ = m.secure.Clear()
	m.events.Publish(bus.SessionExpired)
}

// Authorize runs do with a valid access token. A request failing with
// errs.ErrUnauthorized is retried exactly once after a successful renewal;
// a second authorization failure tears the session down and is terminal.
func (m *Manager) Authorize(ctx context.Context, do func(token string) error) error {
	tok, err := m.AccessToken(ctx)
	if err != nil {
		return err
	}
	err = do(tok)
	if !errors.Is(err, errs.ErrUnauthorized) {
		return err
	}

	m.Invalidate()
	tok, rerr := m.AccessToken(ctx)
	if rerr != nil {
		return rerr
	}
	err = do(tok)
	if errors.Is(err, errs.ErrUnauthorized) {
		m.teardown()
		return errs.ErrSessionExpired
	}
	return err
}
