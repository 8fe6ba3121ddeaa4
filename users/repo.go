package users

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned when no user matches the lookup.
var ErrNotFound = errors.New("user not found")

// Repo defines the interface for user storage operations.
type Repo interface {
	// GetByID retrieves a user by ID, ErrNotFound when absent.
	GetByID(ctx context.Context, id string) (*User, error)

	// GetByWallet retrieves a user by wallet address, ErrNotFound when absent.
	GetByWallet(ctx context.Context, wallet string) (*User, error)

	// Insert persists a new user.
	Insert(ctx context.Context, u *User) error

	// UpdateLastLogin stamps the user's most recent successful login.
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
}
