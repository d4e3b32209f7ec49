// internal/status/snapshot.go
package status

// Snapshot represents exactly what a status consumer is allowed to see.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16
	LastErrorCode  uint16
	SecondsInError uint16
	Phase          uint16
	Locked         uint16
	Cycles         uint16
}
