package entity

import "database/sql"

// User is one registered identity. Expiry columns hold epoch seconds.
type User struct {
	ID           uint64
	Name         sql.NullString
	Email        string
	PasswordHash string
	TwoFAEnabled bool
	TwoFACode    sql.NullString
	TwoFAExpires sql.NullInt64
	ResetToken   sql.NullString
	ResetExpires sql.NullInt64
	CreatedAt    int64
}

// HasTwoFAChallenge reports whether a complete 2FA challenge is pending.
func (u *User) HasTwoFAChallenge() bool {
	return u.TwoFACode.Valid && u.TwoFACode.String != "" && u.TwoFAExpires.Valid
}

// HasResetChallenge reports whether a complete reset challenge is pending.
func (u *User) HasResetChallenge() bool {
	return u.ResetToken.Valid && u.ResetToken.String != "" && u.ResetExpires.Valid
}
