package services

import "errors"

var (
	// ErrInsufficientFunds is returned by the escrow lock when either
	// participant cannot cover the bet. Neither balance is touched.
	ErrInsufficientFunds = errors.New("insufficient balance to cover bet")

	// ErrSessionMissing is returned for guess/leave events that arrive
	// before a session exists; clients should resynchronize.
	ErrSessionMissing = errors.New("no active game session")

	// ErrNotYourTurn is returned for out-of-turn guesses. No state changes.
	ErrNotYourTurn = errors.New("not your turn")

	// ErrSessionFinished is returned when a guess arrives after the
	// session already has a winner.
	ErrSessionFinished = errors.New("game already finished")

	ErrUsernameTaken   = errors.New("username already taken")
	ErrUserNotFound    = errors.New("user not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomNotOpen     = errors.New("room is not open")
	ErrOwnRoom         = errors.New("cannot join your own room")
	ErrStakesNotLocked = errors.New("stakes not locked for room")
)
