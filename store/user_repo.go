package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/empowergrid/wallet-auth/users"
)

var _ users.Repo = (*UserRepo)(nil)

// UserRepo is the SQLite-backed users.Repo.
type UserRepo struct {
	db *DB
}

// NewUserRepo creates a user repository on the given database.
func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, wallet, role, created_at, last_login_at`

func (r *UserRepo) GetByID(ctx context.Context, id string) (*users.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepo) GetByWallet(ctx context.Context, wallet string) (*users.User, error) {
	return r.getUser(ctx, `SELECT `+userColumns+` FROM users WHERE wallet = ?`, wallet)
}

func (r *UserRepo) Insert(ctx context.Context, u *users.User) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Wallet, string(u.Role), u.CreatedAt.UnixNano(), u.LastLoginAt.UnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "[UserRepo.Insert]")
	}
	return nil
}

func (r *UserRepo) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.conn.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`, at.UnixNano(), id,
	)
	if err != nil {
		return errors.Wrap(err, "[UserRepo.UpdateLastLogin]")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[UserRepo.UpdateLastLogin] rows affected")
	}
	if affected == 0 {
		return users.ErrNotFound
	}
	return nil
}

func (r *UserRepo) getUser(ctx context.Context, query string, arg any) (*users.User, error) {
	var (
		u           users.User
		role        string
		createdAt   int64
		lastLoginAt int64
	)
	err := r.db.conn.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Wallet, &role, &createdAt, &lastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, users.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[UserRepo.getUser]")
	}
	u.Role = users.RoleType(role)
	u.CreatedAt = time.Unix(0, createdAt)
	u.LastLoginAt = time.Unix(0, lastLoginAt)
	return &u, nil
}
