package lifecycle

// State is the lifecycle of the supervised service.
type State int

const (
	NotStarted State = iota
	Starting
	Running
	Stopping
	Stopped
	// terminal failures, reachable only from Starting
	PortExhausted
	BinaryMissing
	SpawnFailed
)

var stateNames = [...]string{
	NotStarted:    "not_started",
	Starting:      "starting",
	Running:       "running",
	Stopping:      "stopping",
	Stopped:       "stopped",
	PortExhausted: "port_exhausted",
	BinaryMissing: "binary_missing",
	SpawnFailed:   "spawn_failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Failed reports whether s is a terminal startup failure.
func (s State) Failed() bool {
	return s == PortExhausted || s == BinaryMissing || s == SpawnFailed
}

// Mode selects whether the shell spawns the backend itself.
type Mode string

const (
	// ModeProduction spawns the bundled service binary.
	ModeProduction Mode = "production"
	// ModeDevelopment expects a backend started by hand at the dev URL.
	ModeDevelopment Mode = "development"
)

// ParseMode maps a config value to a Mode; anything but "development"/"dev" is production.
func ParseMode(s string) Mode {
	switch s {
	case "development", "dev":
		return ModeDevelopment
	default:
		return ModeProduction
	}
}
