package afedri

type SessionState uint32

const (
	StateUnconnected SessionState = iota
	StateConnected
	StateStreaming
	StateClosed
)

var SessionStateToName = map[SessionState]string{
	StateUnconnected: "Unconnected",
	StateConnected:   "Connected",
	StateStreaming:   "Streaming",
	StateClosed:      "Closed",
}

func (s SessionState) String() string {
	return SessionStateToName[s]
}
