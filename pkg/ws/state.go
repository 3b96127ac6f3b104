package ws

// ConnState is the channel connection state.
type ConnState string

const (
	StateIdle          ConnState = "idle"
	StateConnecting    ConnState = "connecting"
	StateConnected     ConnState = "connected"
	StateDisconnecting ConnState = "disconnecting"
)

// ConnStateChangedData accompanies connection_state_changed events.
type ConnStateChangedData struct {
	From ConnState `json:"from"`
	To   ConnState `json:"to"`
}
