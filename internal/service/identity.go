package service

import (
	"errors"

	"github.com/google/uuid"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Identity reports the signed-in user, if any.
type Identity interface {
	UserID() (uuid.UUID, bool)
}

// StaticIdentity is an Identity that never changes.
type StaticIdentity uuid.UUID

func (s StaticIdentity) UserID() (uuid.UUID, bool) {
	id := uuid.UUID(s)
	return id, id != uuid.Nil
}

func currentUser(identity Identity) (uuid.UUID, error) {
	if identity == nil {
		return uuid.Nil, ErrNotAuthenticated
	}
	id, ok := identity.UserID()
	if !ok {
		return uuid.Nil, ErrNotAuthenticated
	}
	return id, nil
}
