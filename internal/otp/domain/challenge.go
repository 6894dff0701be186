package domain

import "time"

// Purpose is what a challenge authorizes once verified.
type Purpose string

const (
	PurposeLogin      Purpose = "Login"
	PurposeSignUp     Purpose = "SignUp"
	PurposeConversion Purpose = "Conversion"
)

// Status is the challenge lifecycle state. A challenge is usable only while
// Valid; Consumed is terminal and is what makes a code single-use.
type Status string

const (
	StatusValid    Status = "valid"
	StatusExpired  Status = "expired"
	StatusConsumed Status = "consumed"
)

// Challenge is a stored one-time passcode bound to a contact target and a
// purpose. Only the code hash is persisted; the raw code is returned once at
// generation time.
type Challenge struct {
	ID              string
	CodeHash        string
	Email           string
	Phone           string
	Purpose         Purpose
	Status          Status
	DeliveryMethod  string
	BoundIdentityID string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ExpiredAt reports whether the challenge's expiry has passed at now.
func (c *Challenge) ExpiredAt(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
