package core

// State 传输状态
type State string

const (
	StateIdle      State = "idle"
	StatePreparing State = "preparing"
	StateRunning   State = "running"
	StatePaused    State = "paused"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
	StateFaulted   State = "faulted"
)

func (s State) String() string { return string(s) }
