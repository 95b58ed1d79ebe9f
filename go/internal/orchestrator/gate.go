package orchestrator

import (
	"github.com/mcdev12/cylink/go/internal/models"
)

// CommandKind names a session command for gating and metrics.
type CommandKind string

const (
	CommandJoin          CommandKind = "join"
	CommandLeave         CommandKind = "leave"
	CommandChangeColor   CommandKind = "change-color"
	CommandTriggerEffect CommandKind = "trigger-effect"
	CommandChangeMode    CommandKind = "change-mode"
	CommandStartProgram  CommandKind = "start-program"
	CommandStopProgram   CommandKind = "stop-program"
	CommandSaveProgram   CommandKind = "save-program"
	CommandDelete        CommandKind = "delete"
	CommandGet           CommandKind = "get"
	commandComplete      CommandKind = "complete-program"
	commandFlushPresence CommandKind = "flush-presence"
)

// Gate decides whether kind may be applied to the session as it is now.
// Manual color, effect and mode changes are refused while a program is
// running in program mode. Start and stop are always allowed. A program
// cannot be replaced while it is playing.
func Gate(s *models.Session, kind CommandKind) error {
	switch kind {
	case CommandChangeColor, CommandTriggerEffect, CommandChangeMode:
		if s.ControlLocked() {
			return ErrProgramRunning
		}
	case CommandSaveProgram:
		if s.IsProgramRunning {
			return ErrProgramRunning
		}
	}
	return nil
}
