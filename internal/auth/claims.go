package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Principal types a token may carry.
const (
	PrincipalIndividual   = "individual"
	PrincipalOrganization = "organization"
)

// Claims are the only supported JWT claims shape for this service.
// The principal is resolved at login (user or partner organization, plus any
// pooled group membership); this service trusts it and does no lookup.
type Claims struct {
	jwt.RegisteredClaims

	UserID        string    `json:"user_id"`
	PrincipalType string    `json:"principal_type"`
	PrincipalID   string    `json:"principal_id"`
	GroupID       string    `json:"group_id,omitempty"`
	Role          string    `json:"role"`
	TokenType     TokenType `json:"token_type"`
}

// Identity is what a verified access token places in request context.
type Identity struct {
	UserID        string
	PrincipalType string
	PrincipalID   string
	GroupID       string
	Role          string
}

func (c Claims) Identity() Identity {
	return Identity{
		UserID:        c.UserID,
		PrincipalType: c.PrincipalType,
		PrincipalID:   c.PrincipalID,
		GroupID:       c.GroupID,
		Role:          c.Role,
	}
}
