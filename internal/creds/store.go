package creds

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"
)

// Credentials is the access/refresh pair shared by every client context of
// the same user. Mutated only by login, refresh, or logout.
type Credentials struct {
	AccessToken  string `yaml:"access_token" json:"access_token"`
	RefreshToken string `yaml:"refresh_token" json:"refresh_token"`
}

// RefreshLock is a TTL-bounded mutual-exclusion token, not a data lease. A
// crashed owner's lock self-expires so siblings are never blocked forever.
type RefreshLock struct {
	Owner     string `yaml:"owner"`
	ExpiresAt int64  `yaml:"expires_at"` // unix millis
}

func (l *RefreshLock) expired(now time.Time) bool {
	return l == nil || l.ExpiresAt <= now.UnixMilli()
}

// State is the full contents of the shared store file.
type State struct {
	AccessToken     string       `yaml:"access_token,omitempty"`
	RefreshToken    string       `yaml:"refresh_token,omitempty"`
	ActiveWorkspace string       `yaml:"active_workspace,omitempty"`
	Lock            *RefreshLock `yaml:"refresh_lock,omitempty"`
}

func (s State) Credentials() Credentials {
	return Credentials{AccessToken: s.AccessToken, RefreshToken: s.RefreshToken}
}

// Store persists the shared state in a yaml file. Writes are serialized
// across processes by a sidecar flock and land via atomic rename, so
// readers never observe a torn file.
type Store struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

func NewStore(path string) *Store {
	return &Store{path: path, lock: flock.New(path + ".lock")}
}

func (s *Store) Path() string { return s.path }

// Load reads the current state. A missing file is an empty state, not an
// error.
func (s *Store) Load() (State, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("read credential store: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parse credential store: %w", err)
	}
	return st, nil
}

// update applies fn to the current state under the cross-process lock and
// writes the result atomically.
func (s *Store) update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock credential store: %w", err)
	}
	defer s.lock.Unlock()

	st, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(&st); err != nil {
		return err
	}
	return s.write(st)
}

func (s *Store) write(st State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal credential store: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential store: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) SetCredentials(c Credentials) error {
	return s.update(func(st *State) error {
		st.AccessToken = c.AccessToken
		st.RefreshToken = c.RefreshToken
		return nil
	})
}

// Clear removes the credential pair and any lock. Workspace selection
// survives logout.
func (s *Store) Clear() error {
	return s.update(func(st *State) error {
		st.AccessToken = ""
		st.RefreshToken = ""
		st.Lock = nil
		return nil
	})
}

func (s *Store) ActiveWorkspace() (string, error) {
	st, err := s.Load()
	if err != nil {
		return "", err
	}
	return st.ActiveWorkspace, nil
}

func (s *Store) SetActiveWorkspace(id string) error {
	return s.update(func(st *State) error {
		st.ActiveWorkspace = id
		return nil
	})
}

// TryAcquireLock attempts to take the refresh lock for owner. It refuses
// while an unexpired lock held by someone else is present, then re-reads
// to confirm the write actually landed.
func (s *Store) TryAcquireLock(owner string, ttl time.Duration, now time.Time) (bool, error) {
	won := false
	err := s.update(func(st *State) error {
		if st.Lock != nil && st.Lock.Owner != owner && !st.Lock.expired(now) {
			return nil
		}
		st.Lock = &RefreshLock{Owner: owner, ExpiresAt: now.Add(ttl).UnixMilli()}
		won = true
		return nil
	})
	if err != nil || !won {
		return false, err
	}
	st, err := s.Load()
	if err != nil {
		return false, err
	}
	if st.Lock == nil || st.Lock.Owner != owner {
		return false, nil
	}
	return true, nil
}

// ReleaseLock drops the lock if owner still holds it.
func (s *Store) ReleaseLock(owner string) error {
	return s.update(func(st *State) error {
		if st.Lock != nil && st.Lock.Owner == owner {
			st.Lock = nil
		}
		return nil
	})
}
