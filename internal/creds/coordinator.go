package creds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrLoggedOut means the refresh token itself was rejected. There is no
// recovery short of a fresh login; callers must drop their session.
var ErrLoggedOut = errors.New("refresh token rejected, login required")

// RefreshFunc exchanges a refresh token for a new credential pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (Credentials, error)

// CoordinatorConfig carries the refresh protocol timings. Zero values fall
// back to the defaults below.
type CoordinatorConfig struct {
	Store         *Store
	Hub           *Broadcast
	Refresh       RefreshFunc
	LockTTL       time.Duration
	BroadcastWait time.Duration
	RetryWait     time.Duration
	Logger        *slog.Logger
}

const (
	defaultLockTTL       = 15 * time.Second
	defaultBroadcastWait = 5 * time.Second
	defaultRetryWait     = 1500 * time.Millisecond

	// Each round is one lock attempt plus one wait window. Three rounds
	// outlive a full lock TTL, so a crashed holder cannot starve us.
	maxRounds = 3
)

// Coordinator guarantees that concurrent expiry across contexts produces
// one refresh call, with every other context adopting the winner's result.
// Same-process callers collapse onto a single in-flight refresh; sibling
// processes coordinate through the store's TTL lock and learn the outcome
// from the broadcast hub or by re-reading the store.
type Coordinator struct {
	store   *Store
	hub     *Broadcast
	refresh RefreshFunc
	id      string
	log     *slog.Logger

	lockTTL       time.Duration
	broadcastWait time.Duration
	retryWait     time.Duration
	now           func() time.Time

	mu       sync.Mutex
	current  Credentials
	inflight *refreshCall
}

type refreshCall struct {
	done  chan struct{}
	creds Credentials
	err   error
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		store:         cfg.Store,
		hub:           cfg.Hub,
		refresh:       cfg.Refresh,
		id:            uuid.NewString(),
		log:           cfg.Logger,
		lockTTL:       cfg.LockTTL,
		broadcastWait: cfg.BroadcastWait,
		retryWait:     cfg.RetryWait,
		now:           time.Now,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.lockTTL <= 0 {
		c.lockTTL = defaultLockTTL
	}
	if c.broadcastWait <= 0 {
		c.broadcastWait = defaultBroadcastWait
	}
	if c.retryWait <= 0 {
		c.retryWait = defaultRetryWait
	}
	if st, err := c.store.Load(); err == nil {
		c.current = st.Credentials()
	}
	return c
}

// ID identifies this coordinator as a lock owner and broadcast origin.
func (c *Coordinator) ID() string { return c.id }

// Current returns the credentials this coordinator believes are freshest.
func (c *Coordinator) Current() Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Adopt records credentials obtained outside the refresh path (login, a
// broadcast from a sibling, or a watcher-observed store change).
func (c *Coordinator) Adopt(creds Credentials) {
	if creds.AccessToken == "" {
		return
	}
	c.mu.Lock()
	c.current = creds
	c.mu.Unlock()
}

// Refresh returns credentials newer than stale, performing at most one
// upstream refresh call across all same-process callers. ErrLoggedOut is
// terminal.
func (c *Coordinator) Refresh(ctx context.Context, stale Credentials) (Credentials, error) {
	c.mu.Lock()
	if c.current.AccessToken != "" && c.current.AccessToken != stale.AccessToken {
		cur := c.current
		c.mu.Unlock()
		return cur, nil
	}
	if c.inflight != nil {
		call := c.inflight
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.creds, call.err
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	creds, err := c.doRefresh(ctx, stale)

	c.mu.Lock()
	call.creds, call.err = creds, err
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)
	return creds, err
}

func (c *Coordinator) doRefresh(ctx context.Context, stale Credentials) (Credentials, error) {
	sub, unsub := c.hub.Subscribe()
	defer unsub()

	var lastErr error
	for round := 0; round < maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Credentials{}, err
		}
		if cur, ok := c.newerThan(stale); ok {
			return cur, nil
		}

		won, err := c.store.TryAcquireLock(c.id, c.lockTTL, c.now())
		if err != nil {
			lastErr = err
			c.log.Warn("refresh lock attempt failed", "err", err)
		}
		if won {
			creds, err := c.refreshAsHolder(ctx, stale)
			if err != nil {
				return Credentials{}, err
			}
			return creds, nil
		}

		// Someone else holds the lock. Wait for their broadcast, then
		// fall back to re-reading the store before trying again.
		select {
		case r := <-sub:
			if r.Credentials.AccessToken != "" && r.Credentials.AccessToken != stale.AccessToken {
				c.Adopt(r.Credentials)
				return r.Credentials, nil
			}
		case <-time.After(c.broadcastWait):
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
		if cur, ok := c.newerThan(stale); ok {
			return cur, nil
		}
		select {
		case <-time.After(c.retryWait):
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
	}
	if lastErr != nil {
		return Credentials{}, fmt.Errorf("refresh coordination failed: %w", lastErr)
	}
	return Credentials{}, ErrLoggedOut
}

// refreshAsHolder performs the upstream call while holding the lock. The
// refresh token is re-read from the store first: a sibling may have
// rotated it between our expiry detection and the lock grant.
func (c *Coordinator) refreshAsHolder(ctx context.Context, stale Credentials) (Credentials, error) {
	defer func() {
		if err := c.store.ReleaseLock(c.id); err != nil {
			c.log.Warn("release refresh lock", "err", err)
		}
	}()

	st, err := c.store.Load()
	if err != nil {
		c.log.Warn("re-read credential store before refresh", "err", err)
		st = State{}
	}
	if st.AccessToken != "" && st.AccessToken != stale.AccessToken {
		creds := st.Credentials()
		c.Adopt(creds)
		return creds, nil
	}
	refreshToken := st.RefreshToken
	if refreshToken == "" {
		refreshToken = stale.RefreshToken
	}
	if refreshToken == "" {
		c.logout()
		return Credentials{}, ErrLoggedOut
	}

	creds, err := c.refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrLoggedOut) {
			c.logout()
		}
		return Credentials{}, err
	}
	if err := c.store.SetCredentials(creds); err != nil {
		c.log.Warn("persist refreshed credentials", "err", err)
	}
	c.Adopt(creds)
	c.hub.Publish(RefreshResult{Credentials: creds, Origin: c.id})
	return creds, nil
}

// logout clears the shared pair so every context observes the logged-out
// state instead of retrying a revoked refresh token.
func (c *Coordinator) logout() {
	c.mu.Lock()
	c.current = Credentials{}
	c.mu.Unlock()
	if err := c.store.Clear(); err != nil {
		c.log.Warn("clear credentials on logout", "err", err)
	}
}

func (c *Coordinator) newerThan(stale Credentials) (Credentials, bool) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur.AccessToken != "" && cur.AccessToken != stale.AccessToken {
		return cur, true
	}
	st, err := c.store.Load()
	if err != nil {
		return Credentials{}, false
	}
	if st.AccessToken != "" && st.AccessToken != stale.AccessToken {
		creds := st.Credentials()
		c.Adopt(creds)
		return creds, true
	}
	return Credentials{}, false
}
