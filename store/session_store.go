package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/empowergrid/wallet-auth/session"
)

var _ session.Store = (*SessionStore)(nil)

// SessionStore is the SQLite-backed session.Store. Timestamps are stored
// as integer Unix nanoseconds so ordering survives the round trip exactly.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store on the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

const sessionColumns = `id, user_id, access_token, refresh_token, origin_ip, origin_agent, created_at, expires_at`

func (s *SessionStore) InsertSession(ctx context.Context, sess *session.Session) error {
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.AccessToken, sess.RefreshToken,
		sess.OriginIP, sess.OriginAgent,
		sess.CreatedAt.UnixNano(), sess.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "[SessionStore.InsertSession]")
	}
	return nil
}

func (s *SessionStore) GetSessionByID(ctx context.Context, id string) (*session.Session, error) {
	return s.getSession(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
}

func (s *SessionStore) GetSessionByAccessToken(ctx context.Context, token string) (*session.Session, error) {
	return s.getSession(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE access_token = ?`, token)
}

func (s *SessionStore) GetSessionByRefreshToken(ctx context.Context, token string) (*session.Session, error) {
	if token == "" {
		return nil, session.ErrNotFound
	}
	return s.getSession(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE refresh_token = ?`, token)
}

func (s *SessionStore) ListUserSessions(ctx context.Context, userID string, now time.Time) ([]*session.Session, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND expires_at > ? ORDER BY created_at ASC`,
		userID, now.UnixNano(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[SessionStore.ListUserSessions]")
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, errors.Wrap(err, "[SessionStore.ListUserSessions] scan")
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "[SessionStore.ListUserSessions] rows")
	}
	return sessions, nil
}

func (s *SessionStore) UpdateSession(ctx context.Context, sess *session.Session) error {
	result, err := s.db.conn.ExecContext(ctx,
		`UPDATE sessions SET access_token = ?, refresh_token = ?, expires_at = ? WHERE id = ?`,
		sess.AccessToken, sess.RefreshToken, sess.ExpiresAt.UnixNano(), sess.ID,
	)
	if err != nil {
		return errors.Wrap(err, "[SessionStore.UpdateSession]")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "[SessionStore.UpdateSession] rows affected")
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

func (s *SessionStore) DeleteSessionByID(ctx context.Context, id string) error {
	if _, err := s.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "[SessionStore.DeleteSessionByID]")
	}
	return nil
}

func (s *SessionStore) DeleteSessionsByUserID(ctx context.Context, userID string) (int, error) {
	result, err := s.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, errors.Wrap(err, "[SessionStore.DeleteSessionsByUserID]")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[SessionStore.DeleteSessionsByUserID] rows affected")
	}
	return int(affected), nil
}

func (s *SessionStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, "[SessionStore.DeleteExpiredSessions]")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[SessionStore.DeleteExpiredSessions] rows affected")
	}
	return int(affected), nil
}

func (s *SessionStore) InsertBlacklistEntry(ctx context.Context, e *session.BlacklistEntry) error {
	// INSERT OR REPLACE: blacklisting an already-blacklisted token keeps the
	// later reason rather than failing on the primary key.
	_, err := s.db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO token_blacklist (token, user_id, reason, blacklisted_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		e.Token, e.UserID, e.Reason, e.BlacklistedAt.UnixNano(), e.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return errors.Wrap(err, "[SessionStore.InsertBlacklistEntry]")
	}
	return nil
}

func (s *SessionStore) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM token_blacklist WHERE token = ?`, token,
	).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "[SessionStore.IsTokenBlacklisted]")
	}
	return count > 0, nil
}

func (s *SessionStore) DeleteExpiredBlacklistEntries(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.conn.ExecContext(ctx, `DELETE FROM token_blacklist WHERE expires_at <= ?`, now.UnixNano())
	if err != nil {
		return 0, errors.Wrap(err, "[SessionStore.DeleteExpiredBlacklistEntries]")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "[SessionStore.DeleteExpiredBlacklistEntries] rows affected")
	}
	return int(affected), nil
}

func (s *SessionStore) getSession(ctx context.Context, query string, arg any) (*session.Session, error) {
	sess, err := scanSession(s.db.conn.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "[SessionStore.getSession]")
	}
	return sess, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*session.Session, error) {
	var (
		sess      session.Session
		createdAt int64
		expiresAt int64
	)
	err := row.Scan(
		&sess.ID, &sess.UserID, &sess.AccessToken, &sess.RefreshToken,
		&sess.OriginIP, &sess.OriginAgent, &createdAt, &expiresAt,
	)
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(0, createdAt)
	sess.ExpiresAt = time.Unix(0, expiresAt)
	return &sess, nil
}
