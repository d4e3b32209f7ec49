// internal/winch/types.go
package winch

import "errors"

// ErrBusy is returned when an operation is requested while a cycle runs.
var ErrBusy = errors.New("winch: cycle in progress")

// Phase of the door cycle.
type Phase uint8

const (
	Idle Phase = iota
	Opening
	OpenWait
	Closing
	Calibrating
	Cooldown
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Opening:
		return "opening"
	case OpenWait:
		return "open-wait"
	case Closing:
		return "closing"
	case Calibrating:
		return "calibrating"
	case Cooldown:
		return "cooldown"
	default:
		return "invalid"
	}
}

// ErrorKind is carried on the wire in Error and Status messages.
// Values are protocol-locked.
type ErrorKind uint8

const (
	Unknown ErrorKind = iota
	OpenTimeout
	CloseTimeout
	Jammed
	SonarError
	CalibrateTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case Unknown:
		return "UNKNOWN"
	case OpenTimeout:
		return "OPEN_TIMEOUT"
	case CloseTimeout:
		return "CLOSE_TIMEOUT"
	case Jammed:
		return "JAMMED"
	case SonarError:
		return "SONAR_ERROR"
	case CalibrateTimeout:
		return "CALIBRATE_TIMEOUT"
	default:
		return "INVALID"
	}
}

// State is a point-in-time view of the controller.
type State struct {
	Phase                Phase
	Ticks                int64   // encoder count in the running phase
	PeakRate             float64 // ticks/s, running phase
	RequireExtendedClose bool
	FallbackMode         bool // rangefinder abandoned, open bounded by ticks

	LastOpenTicks  int64
	LastCloseTicks int64

	LastError ErrorKind // meaningful when Errors > 0
	Errors    uint64
	Cycles    uint64
}

// Hooks connect the controller to the surrounding loop.
// All hooks run on the controller's goroutine.
type Hooks struct {
	// OnError receives every actuation error after the motor is stopped.
	OnError func(ErrorKind)
	// Interrupt reports activity near the door since the previous call.
	Interrupt func() bool
	// OnTick runs once per control tick, e.g. to service the network.
	OnTick func()
}
