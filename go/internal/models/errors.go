package models

import "errors"

var (
	// ErrInvalidProgram is returned when a program fails validation
	ErrInvalidProgram = errors.New("invalid program")
	ErrInvalidColor   = errors.New("invalid color")
	ErrInvalidEffect  = errors.New("invalid effect")
	ErrInvalidMode    = errors.New("invalid mode")
)
