package domain

// ConnectivityState captures the last observed network condition.
// Connected means an active interface exists; Reachable means the device
// has a working path to the backend.
type ConnectivityState struct {
	Connected bool `json:"connected"`
	Reachable bool `json:"reachable"`
}

// Offline derives the single boolean the engine acts on. Subscribers are
// notified only when this value flips.
func (s ConnectivityState) Offline() bool {
	return !s.Connected || !s.Reachable
}
