package store

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("already exists")
	ErrNotMember         = errors.New("user is not an active member of the board")
	ErrInvitationClosed  = errors.New("invitation is no longer pending")
	ErrInvitationExpired = errors.New("invitation has expired")
)
