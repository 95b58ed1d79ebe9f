package events

// Name identifies a message on the session socket.
type Name string

// Client to server commands
const (
	JoinSession   Name = "join-session"
	ChangeColor   Name = "change-color"
	TriggerEffect Name = "trigger-effect"
	ChangeMode    Name = "change-mode"
	StartProgram  Name = "start-program"
	StopProgram   Name = "stop-program"
)

// Server to client events. TriggerEffect is used in both directions.
const (
	SyncState     Name = "sync-state"
	ColorChange   Name = "color-change"
	ModeChange    Name = "mode-change"
	ProgramStart  Name = "program-start"
	ProgramStop   Name = "program-stop"
	UserCount     Name = "user-count"
	ControlLocked Name = "control-locked"
	Error         Name = "error"
)

// StopReason says why a program stopped.
type StopReason string

const (
	StopReasonManual    StopReason = "manual"
	StopReasonCompleted StopReason = "completed"
)
