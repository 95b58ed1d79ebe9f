package orchestrator

import "errors"

var (
	// ErrProgramRunning rejects manual control while a program is authoritative
	ErrProgramRunning = errors.New("program is running")
	// ErrNoProgram rejects start-program when there is nothing to play
	ErrNoProgram      = errors.New("session has no program")
	ErrInvalidCommand = errors.New("invalid command")
	ErrStopped        = errors.New("orchestrator stopped")
)
