package model

import "github.com/google/uuid"

type UserID string

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// UserIdentity is what the identity verifier yields for a connection. It never
// changes for the lifetime of that connection.
type UserIdentity struct {
	ID   UserID `json:"id"`
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`
}

// DisplayName falls back to the id when no name was issued.
func (u UserIdentity) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return string(u.ID)
}

type SessionID string

func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}
