// internal/status/constants.go
package status

// Door status block layout constants.
// These values define the panel protocol and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerDevice is the fixed number of registers per door.
const SlotsPerDevice = 20

// ---- SLOT INDICES ----

// SlotHealthCode holds the door health state.
const SlotHealthCode = 0

// SlotLastErrorCode holds the last winch error kind.
const SlotLastErrorCode = 1

// SlotSecondsInError holds the duration (in seconds) the door has been in error.
const SlotSecondsInError = 2

// SlotPhase holds the winch phase.
const SlotPhase = 3

// SlotLocked is 1 while the mesh is locked.
const SlotLocked = 4

// SlotCycles holds the completed cycle count, wrapping at 65536.
const SlotCycles = 5

// ---- RESERVED RANGE ----

// Slots 6-10 are reserved.
const SlotReservedStart = 6
const SlotReservedEnd = 10

// ---- DEVICE NAME ----

// SlotDeviceNameStart is the first slot used for the device name.
const SlotDeviceNameStart = 11

// SlotDeviceNameSlots is the number of slots reserved for the device name.
const SlotDeviceNameSlots = 8

// SlotDeviceNameEnd is the last slot used for the device name (inclusive).
const SlotDeviceNameEnd = SlotDeviceNameStart + SlotDeviceNameSlots - 1

// ---- LIMITS ----

// DeviceNameMaxChars is the maximum number of ASCII characters stored for device name.
const DeviceNameMaxChars = 16

// MaxSecondsInError is where the error timer saturates.
const MaxSecondsInError = 65535

// ---- HEALTH CODES ----

// HealthUnknown represents the boot state.
const HealthUnknown uint16 = 0

// HealthOK represents a door ready to cycle.
const HealthOK uint16 = 1

// HealthError represents a door that reported an actuation error.
const HealthError uint16 = 2

// HealthStale represents a node whose control loop stopped servicing.
const HealthStale uint16 = 3

// HealthDisabled represents a door held shut by the mesh lock.
const HealthDisabled uint16 = 4
