package dto

import "time"

type UserSummary struct {
	ID    uint64
	Email string
}

type RegisterResult struct {
	User UserSummary
}

// LoginResult carries either a session token or, when TwoFARequired is set, only
// the identity needed for the second step.
type LoginResult struct {
	TwoFARequired bool
	Token         string
	ExpiresAt     time.Time
	User          UserSummary
}

type SessionResult struct {
	Token     string
	ExpiresAt time.Time
	User      UserSummary
}
