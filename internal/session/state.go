package session

// State is the lifecycle state of a session.
type State int

const (
	Idle State = iota
	Discovering
	Connecting
	ConnectedUnresolved
	ConnectedReady
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case ConnectedUnresolved:
		return "connected(unresolved)"
	case ConnectedReady:
		return "connected(ready)"
	case Disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Connected reports whether s is one of the connected states.
func (s State) Connected() bool {
	return s == ConnectedUnresolved || s == ConnectedReady
}
