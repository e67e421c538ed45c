// Package session owns the signed-in identity of a client: its in-memory state, the
// persisted copy, and the validation round trip against the identity API.
package session

import (
	"errors"
	"strings"
)

// Persisted storage keys. They are always written and deleted together.
const (
	KeyAccessToken = "accessToken"
	KeyRole        = "role"
	KeyUserID      = "user_id"
	KeyUsername    = "username"
)

// Keys lists every key the store persists.
var Keys = []string{KeyAccessToken, KeyRole, KeyUserID, KeyUsername}

// ErrIncompleteSession rejects sessions missing role, user id or username.
var ErrIncompleteSession = errors.New("session: role, user id and username are required")

// Session is the authenticated identity known to the client. The zero value is the
// anonymous session.
type Session struct {
	Role     string `json:"role"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Token    string `json:"-"`
}

// IsAnonymous reports whether no identity is present.
func (s Session) IsAnonymous() bool {
	return s.Role == "" && s.UserID == "" && s.Username == ""
}

// Complete reports whether role, user id and username are all set.
func (s Session) Complete() bool {
	return s.Role != "" && s.UserID != "" && s.Username != ""
}

func (s Session) normalized() Session {
	return Session{
		Role:     strings.TrimSpace(s.Role),
		UserID:   strings.TrimSpace(s.UserID),
		Username: strings.TrimSpace(s.Username),
		Token:    strings.TrimSpace(s.Token),
	}
}

func (s Session) values() map[string]string {
	return map[string]string{
		KeyAccessToken: s.Token,
		KeyRole:        s.Role,
		KeyUserID:      s.UserID,
		KeyUsername:    s.Username,
	}
}

func sessionFromValues(values map[string]string) Session {
	return Session{
		Token:    values[KeyAccessToken],
		Role:     values[KeyRole],
		UserID:   values[KeyUserID],
		Username: values[KeyUsername],
	}.normalized()
}

// State describes how much the store knows about the client.
type State int

const (
	// StateUnknown means initialization has not finished yet.
	StateUnknown State = iota
	// StateAnonymous means nobody is signed in.
	StateAnonymous
	// StateAuthenticated means a complete, verified or freshly issued session is present.
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a consistent read of the store. While State is StateUnknown, Session may
// carry the optimistic cached identity; it must not be used for access decisions.
type Snapshot struct {
	State   State   `json:"state"`
	Session Session `json:"session"`
}
