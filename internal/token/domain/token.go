package domain

import "time"

// Status is the bearer token lifecycle state. Revoked is terminal; tokens are
// never physically deleted by the core.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// BearerToken is a stored credential pair. Only secret hashes are persisted;
// raw values are returned once at issuance as a Pair.
type BearerToken struct {
	ID               string
	AccessHash       string
	RefreshHash      string
	OwnerID          string
	ClientID         string
	Scopes           string
	Status           Status
	IssuedAt         time.Time
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RevokedAt        *time.Time
}

// Client is a registered consumer of issued tokens.
type Client struct {
	ID         string
	Name       string
	SecretHash string
	CreatedAt  time.Time
}

// Pair carries the raw secrets handed to the caller at issuance.
type Pair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string // always "Bearer"
	ExpiresIn    int    // access token lifetime in seconds
	OwnerKey     string
	ClientID     string
}
