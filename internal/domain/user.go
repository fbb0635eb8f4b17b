// Package domain contains entities without transport or storage logic, just meta-data
// and the small invariants that travel with it.
package domain

import "strings"

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 36
)

type UserID string

// GlobalRole is the account-wide role from the user store, not the in-room role.
type GlobalRole string

const (
	GlobalRoleUser  GlobalRole = "user"
	GlobalRoleAdmin GlobalRole = "admin"
)

// User is the public view of an account that goes into broadcast payloads.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// Profile is what the user store returns for an account.
type Profile struct {
	ID       UserID
	Username string
	Avatar   string
	Role     GlobalRole
}

func (p Profile) Public() User {
	return User{ID: p.ID, Username: p.DisplayName(), Avatar: p.Avatar}
}

// Elevated reports whether the account may moderate any room.
func (p Profile) Elevated() bool { return p.Role == GlobalRoleAdmin }

// DisplayName falls back to the id when the store has no usable username.
func (p Profile) DisplayName() string {
	name := strings.TrimSpace(p.Username)
	if name == "" {
		return string(p.ID)
	}
	if r := []rune(name); len(r) > MaxUsernameLen {
		name = string(r[:MaxUsernameLen])
	}
	return name
}

// AnonymousProfile is used when the user store cannot be reached.
func AnonymousProfile(id UserID) Profile {
	return Profile{ID: id, Username: string(id), Role: GlobalRoleUser}
}
