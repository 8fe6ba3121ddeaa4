package repofakes

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/empowergrid/wallet-auth/session"
	"github.com/pkg/errors"
)

var _ session.Store = (*FakeStore)(nil)

// FakeStore is an in-memory session.Store for tests. FailNext makes the
// next store call return an error, for exercising fail-closed paths.
type FakeStore struct {
	sessions  map[string]*session.Session
	blacklist map[string]*session.BlacklistEntry
	lock      sync.RWMutex

	FailNext bool
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		sessions:  make(map[string]*session.Session),
		blacklist: make(map[string]*session.BlacklistEntry),
	}
}

func (f *FakeStore) failure() error {
	if f.FailNext {
		f.FailNext = false
		return errors.New("store unavailable")
	}
	return nil
}

func (f *FakeStore) InsertSession(_ context.Context, s *session.Session) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failure(); err != nil {
		return err
	}
	copied := *s
	f.sessions[s.ID] = &copied
	return nil
}

func (f *FakeStore) GetSessionByID(_ context.Context, id string) (*session.Session, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if err := f.failure(); err != nil {
		return nil, err
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *FakeStore) GetSessionByAccessToken(_ context.Context, token string) (*session.Session, error) {
	return f.findSession(func(s *session.Session) bool { return s.AccessToken == token })
}

func (f *FakeStore) GetSessionByRefreshToken(_ context.Context, token string) (*session.Session, error) {
	return f.findSession(func(s *session.Session) bool { return s.RefreshToken == token && token != "" })
}

func (f *FakeStore) ListUserSessions(_ context.Context, userID string, now time.Time) ([]*session.Session, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if err := f.failure(); err != nil {
		return nil, err
	}

	var live []*session.Session
	for _, s := range f.sessions {
		if s.UserID == userID && !s.Expired(now) {
			copied := *s
			live = append(live, &copied)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	return live, nil
}

func (f *FakeStore) UpdateSession(_ context.Context, s *session.Session) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failure(); err != nil {
		return err
	}
	if _, ok := f.sessions[s.ID]; !ok {
		return session.ErrNotFound
	}
	copied := *s
	f.sessions[s.ID] = &copied
	return nil
}

func (f *FakeStore) DeleteSessionByID(_ context.Context, id string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failure(); err != nil {
		return err
	}
	delete(f.sessions, id)
	return nil
}

func (f *FakeStore) DeleteSessionsByUserID(_ context.Context, userID string) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failure(); err != nil {
		return 0, err
	}
	count := 0
	for id, s := range f.sessions {
		if s.UserID == userID {
			delete(f.sessions, id)
			count++
		}
	}
	return count, nil
}

func (f *FakeStore) DeleteExpiredSessions(_ context.Context, now time.Time) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failure(); err != nil {
		return 0, err
	}
	count := 0
	for id, s := range f.sessions {
		if s.Expired(now) {
			delete(f.sessions, id)
			count++
		}
	}
	return count, nil
}

func (f *FakeStore) InsertBlacklistEntry(_ context.Context, e *session.BlacklistEntry) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failure(); err != nil {
		return err
	}
	copied := *e
	f.blacklist[e.Token] = &copied
	return nil
}

func (f *FakeStore) IsTokenBlacklisted(_ context.Context, token string) (bool, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if err := f.failure(); err != nil {
		return false, err
	}
	_, ok := f.blacklist[token]
	return ok, nil
}

func (f *FakeStore) DeleteExpiredBlacklistEntries(_ context.Context, now time.Time) (int, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failure(); err != nil {
		return 0, err
	}
	count := 0
	for token, e := range f.blacklist {
		if now.After(e.ExpiresAt) {
			delete(f.blacklist, token)
			count++
		}
	}
	return count, nil
}

// SessionCount reports the number of stored sessions.
func (f *FakeStore) SessionCount() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return len(f.sessions)
}

// BlacklistCount reports the number of stored blacklist entries.
func (f *FakeStore) BlacklistCount() int {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return len(f.blacklist)
}

func (f *FakeStore) findSession(match func(*session.Session) bool) (*session.Session, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	if err := f.failure(); err != nil {
		return nil, err
	}
	for _, s := range f.sessions {
		if match(s) {
			copied := *s
			return &copied, nil
		}
	}
	return nil, session.ErrNotFound
}
