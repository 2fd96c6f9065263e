// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"fmt"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// UserMeta is the identity a client presents on every request. ID is the key
// that survives reconnects; it must be unique inside a room.
type UserMeta struct {
	ID   UserID `json:"id"`
	Name string `json:"name"`
}

// NewUserMeta validates raw identity fields. An empty name falls back to the id.
func NewUserMeta(id, name string) (UserMeta, error) {
	u := UserMeta{ID: UserID(id), Name: name}
	if err := u.Validate(); err != nil {
		return UserMeta{}, err
	}
	if u.Name == "" {
		u.Name = id
	}
	return u, nil
}

func (u UserMeta) Validate() error {
	if len(u.ID) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidUserMeta, ErrUserIDEmpty)
	}
	if len(u.ID) > MaxUserIDLen {
		return fmt.Errorf("%w: %w", ErrInvalidUserMeta, ErrUserIDTooLong)
	}
	if len(u.Name) > MaxUsernameLen {
		return fmt.Errorf("%w: %w", ErrInvalidUserMeta, ErrUsernameTooLong)
	}
	return nil
}

func (u UserMeta) String() string {
	return fmt.Sprintf("%s(%s)", u.Name, u.ID)
}
