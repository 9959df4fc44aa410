package host

// State is the state of the radio as seen by the Coordinator.
type State int

const (
	StateOff      State = 0
	StateStarting State = 1
	StateRunning  State = 2
	StateStopping State = 3
)

func (s State) String() string {
	str := []string{
		"Off",
		"Starting",
		"Running",
		"Stopping",
	}
	if s < 0 || int(s) >= len(str) {
		return "Unknown"
	}
	return str[int(s)]
}
