// internal/hal/hal.go

// Package hal defines the actuator and sensor surface the door winch drives.
package hal

import "sync/atomic"

// Direction of winch rotation.
type Direction int8

const (
	Forward Direction = 1  // wind in (opens the door)
	Reverse Direction = -1 // pay out
)

func (d Direction) String() string {
	switch d {
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	default:
		return "stop"
	}
}

// Motor drives the winch.
type Motor interface {
	Drive(dir Direction, power uint8) error
	Stop() error
}

// Encoder counts motor ticks regardless of direction.
// An error means the count could not be read or cleared.
type Encoder interface {
	Ticks() (int64, error)
	// ResetTicks returns the count and zeroes it in one step.
	ResetTicks() (int64, error)
}

// Rangefinder reports the distance to the door leaf.
type Rangefinder interface {
	// Process services the sensor and reports whether a new sample is ready.
	Process() bool
	// Distance returns the latest sample in mm. 0 means no echo.
	Distance() uint16
}

// TickCounter is an Encoder fed by an interrupt or reader goroutine.
// Add may be called concurrently with Ticks and ResetTicks.
type TickCounter struct {
	n atomic.Int64
}

func (c *TickCounter) Add(delta int64) { c.n.Add(delta) }

func (c *TickCounter) Ticks() (int64, error) { return c.n.Load(), nil }

func (c *TickCounter) ResetTicks() (int64, error) { return c.n.Swap(0), nil }
