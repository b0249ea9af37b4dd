package domain

// BotState is the orchestrator-level state machine.
//
//	STOPPED -> STARTING -> RUNNING <-> PAUSED -> STOPPED
//
// ERROR is terminal until manual restart.
type BotState string

const (
	BotStateStopped  BotState = "STOPPED"
	BotStateStarting BotState = "STARTING"
	BotStateRunning  BotState = "RUNNING"
	BotStatePaused   BotState = "PAUSED"
	BotStateError    BotState = "ERROR"
)
