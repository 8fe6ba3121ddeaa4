// Package users holds the account records behind authenticated wallets.
// There are no passwords: the wallet signature is the credential.
package users

import "time"

// Role of a platform user.
type RoleType string

const (
	RoleMember RoleType = "member"
	RoleAdmin  RoleType = "admin"
)

// User is a platform account keyed by its wallet address.
type User struct {
	ID          string
	Wallet      string
	Role        RoleType
	CreatedAt   time.Time
	LastLoginAt time.Time
}
