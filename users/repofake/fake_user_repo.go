package repofake

import (
	"context"
	"sync"
	"time"

	"github.com/empowergrid/wallet-auth/users"
)

var _ users.Repo = (*FakeUserRepo)(nil)

// FakeUserRepo is an in-memory users.Repo for tests.
type FakeUserRepo struct {
	byID map[string]*users.User
	lock sync.RWMutex
}

func NewFakeUserRepo() *FakeUserRepo {
	return &FakeUserRepo{
		byID: make(map[string]*users.User),
	}
}

func (f *FakeUserRepo) GetByID(_ context.Context, id string) (*users.User, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	u, ok := f.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *FakeUserRepo) GetByWallet(_ context.Context, wallet string) (*users.User, error) {
	f.lock.RLock()
	defer f.lock.RUnlock()

	for _, u := range f.byID {
		if u.Wallet == wallet {
			copied := *u
			return &copied, nil
		}
	}
	return nil, users.ErrNotFound
}

func (f *FakeUserRepo) Insert(_ context.Context, u *users.User) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	copied := *u
	f.byID[u.ID] = &copied
	return nil
}

func (f *FakeUserRepo) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	u, ok := f.byID[id]
	if !ok {
		return users.ErrNotFound
	}
	u.LastLoginAt = at
	return nil
}
