package nonce

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Errors returned by ValidateAndConsume. ErrNotFound covers both
// "never issued" and "already consumed" - consumption is destructive.
var (
	ErrNotFound = errors.New("challenge not found")
	ErrExpired  = errors.New("challenge expired")
	ErrTampered = errors.New("challenge integrity check failed")
)

const (
	nonceIDLength = 16 // 128 bits of entropy
	defaultTTL    = 5 * time.Minute
	sweepInterval = time.Minute
)

// Challenge is a one-time value a wallet must sign to prove key ownership.
// The Message text carries no authority of its own - only the stored record does.
type Challenge struct {
	NonceID   string
	OwnerHint string // wallet address, when the client supplied one
	Message   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	tag       []byte // HMAC over the nonce ID, detects record corruption
}

type record struct {
	challenge *Challenge
}

// Store issues and single-use-validates challenge nonces. It is an explicit
// injected object with its own sweep lifecycle so tests can construct
// isolated instances.
type Store struct {
	mu      sync.Mutex
	entries map[string]*record
	secret  []byte
	ttl     time.Duration
	nowFunc func() time.Time

	stopSweep chan struct{}
	closeOnce sync.Once
}

// StoreOption modifies a Store instance.
type StoreOption func(*Store)

// WithTTL sets the challenge lifetime.
func WithTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithNowFunc sets the now time function (primarily for testing).
func WithNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

// NewStore creates a challenge store and starts its background sweep.
// The secret keys the integrity tag over issued nonce IDs.
func NewStore(secret string, options ...StoreOption) *Store {
	s := &Store{
		entries:   make(map[string]*record),
		secret:    []byte(secret),
		ttl:       defaultTTL,
		nowFunc:   time.Now,
		stopSweep: make(chan struct{}),
	}

	for _, opt := range options {
		opt(s)
	}

	go s.sweepLoop()

	return s
}

// Issue generates an unpredictable challenge, stores it, and returns it
// with a human-readable message for the wallet to sign.
func (s *Store) Issue(ownerHint string) (*Challenge, error) {
	idBytes := make([]byte, nonceIDLength)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, errors.Wrap(err, "[Store.Issue] rand.Read")
	}

	nonceID := hex.EncodeToString(idBytes)
	now := s.nowFunc()

	c := &Challenge{
		NonceID:   nonceID,
		OwnerHint: ownerHint,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
		tag:       s.integrityTag(nonceID),
	}
	c.Message = buildMessage(c)

	s.mu.Lock()
	s.entries[nonceID] = &record{challenge: c}
	s.mu.Unlock()

	return c, nil
}

// ValidateAndConsume looks up a nonce by ID and deletes it on success.
// Deletion-on-success is the anti-replay guarantee: a nonce may be
// consumed exactly once.
func (s *Store) ValidateAndConsume(nonceID string) error {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.entries[nonceID]
	if !ok {
		return ErrNotFound
	}

	if now.After(rec.challenge.ExpiresAt) {
		delete(s.entries, nonceID)
		return ErrExpired
	}

	if !hmac.Equal(rec.challenge.tag, s.integrityTag(nonceID)) {
		return ErrTampered
	}

	delete(s.entries, nonceID)
	return nil
}

// Len reports the number of live entries (expired ones included until swept).
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweep goroutine.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		close(s.stopSweep)
	})
}

// Sweep removes every entry past its expiry, bounding memory, and returns
// the number removed. Called periodically by the sweep loop.
func (s *Store) Sweep() int {
	now := s.nowFunc()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.entries {
		if now.After(rec.challenge.ExpiresAt) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stopSweep:
			return
		}
	}
}

func (s *Store) integrityTag(nonceID string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(nonceID))
	return mac.Sum(nil)
}

func buildMessage(c *Challenge) string {
	msg := "Sign this message to authenticate with Empower Grid.\n\n"
	if c.OwnerHint != "" {
		msg += fmt.Sprintf("Wallet: %s\n", c.OwnerHint)
	}
	msg += fmt.Sprintf("Nonce: %s\nIssued At: %s", c.NonceID, c.IssuedAt.UTC().Format(time.RFC3339))
	return msg
}
