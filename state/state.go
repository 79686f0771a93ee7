// Package state owns the shared-secret key and the last-query and last-cron
// timestamps that make up the agent's persistent state.
package state

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"math/big"
	"regexp"
	"sync"
	"time"
)

// ErrNoKey is returned when no key exists, before activation or after
// deactivation.
var ErrNoKey = errors.New("no key: agent not activated")

const (
	KeyLength   = 32
	keyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var candidateUnsafe = regexp.MustCompile(`[^a-zA-Z0-9.:]`)

// KeyState is the persisted record. Timestamps are unix seconds; a
// LastQuery of zero means no report has been served.
type KeyState struct {
	Key       string `json:"key"`
	LastQuery int64  `json:"last_query"`
	LastCron  int64  `json:"last_cron"`
}

// Store persists a single KeyState.
type Store interface {
	// Load returns ErrNoKey when nothing is stored.
	Load(ctx context.Context) (KeyState, error)
	Save(ctx context.Context, st KeyState) error
	Delete(ctx context.Context) error
	Close() error
}

type Manager struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

func NewManager(store Store) *Manager {
	return &Manager{store: store, now: time.Now}
}

// Activate replaces any existing state with a fresh key, LastQuery zero and
// LastCron now.
func (m *Manager) Activate(ctx context.Context) (KeyState, error) {
	key, err := GenerateKey()
	if err != nil {
		return KeyState{}, err
	}
	st := KeyState{Key: key, LastQuery: 0, LastCron: m.now().Unix()}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.Save(ctx, st); err != nil {
		return KeyState{}, fmt.Errorf("save key state: %w", err)
	}
	return st, nil
}

// Deactivate removes the key and both timestamps.
func (m *Manager) Deactivate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Delete(ctx)
}

func (m *Manager) Load(ctx context.Context) (KeyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Load(ctx)
}

// Verify reports whether candidate, once normalized, equals the stored key.
func (m *Manager) Verify(ctx context.Context, candidate string) bool {
	normalized := NormalizeCandidate(candidate)
	if len(normalized) != KeyLength {
		return false
	}
	st, err := m.Load(ctx)
	if err != nil || len(st.Key) != KeyLength {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(normalized), []byte(st.Key)) == 1
}

// TouchQuery records that a report was served at now.
func (m *Manager) TouchQuery(ctx context.Context, now time.Time) error {
	return m.update(ctx, func(st *KeyState) { st.LastQuery = now.Unix() })
}

// TouchCron records a liveness tick at now.
func (m *Manager) TouchCron(ctx context.Context, now time.Time) error {
	return m.update(ctx, func(st *KeyState) { st.LastCron = now.Unix() })
}

func (m *Manager) update(ctx context.Context, fn func(*KeyState)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, err := m.store.Load(ctx)
	if err != nil {
		return err
	}
	fn(&st)
	return m.store.Save(ctx, st)
}

// NormalizeCandidate HTML-escapes s and replaces every character outside
// [a-zA-Z0-9.:] with an underscore.
func NormalizeCandidate(s string) string {
	return candidateUnsafe.ReplaceAllString(html.EscapeString(s), "_")
}

// GenerateKey returns a random alphanumeric key of KeyLength characters.
func GenerateKey() (string, error) {
	alphabetLen := big.NewInt(int64(len(keyAlphabet)))
	buf := make([]byte, KeyLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}
		buf[i] = keyAlphabet[n.Int64()]
	}
	return string(buf), nil
}
