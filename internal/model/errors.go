package model

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrSourceNotSupported = errors.New("download source not supported")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidTransition  = errors.New("invalid status transition")
)
