package contract

import "errors"

var (
	ErrValidation    = errors.New("validation failed")
	ErrInputInvalid  = errors.New("input is invalid")
	ErrAuthFailed    = errors.New("authentication failed")
	ErrLookupMiss    = errors.New("no directory entry matched")
	ErrTimeout       = errors.New("prompt timed out")
	ErrUnrecoverable = errors.New("unrecoverable dialog failure")
)
