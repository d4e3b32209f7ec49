// internal/transport/dispatcher.go
package transport

import (
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/protocol"
)

// Config holds the dispatcher's tunables. Zero durations and frame limits
// take defaults; zero Retries means a single attempt.
type Config struct {
	AckTimeout   time.Duration // per-attempt wait window
	Retries      int           // retransmissions after the first attempt
	PollInterval time.Duration // receive granularity inside the wait window
	MinFrame     int
	MaxFrame     int
	HandlerSlots int
}

// Defaults match the firmware nodes on the mesh.
const (
	DefaultAckTimeout   = 750 * time.Millisecond
	DefaultRetries      = 3
	DefaultPollInterval = 10 * time.Millisecond
)

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MinFrame <= 0 {
		c.MinFrame = protocol.MinFrameSize
	}
	if c.MaxFrame <= 0 {
		c.MaxFrame = protocol.MaxFrameSize
	}
	return c
}

// Stats are cumulative dispatcher counters.
type Stats struct {
	Sent        uint64
	SendErrors  uint64
	AckTimeouts uint64
	Received    uint64
	Dropped     uint64
	Unhandled   uint64
}

// Dispatcher sends payloads with optional ack/retry and demultiplexes inbound frames.
// It is not safe for concurrent use: one control loop owns it.
type Dispatcher struct {
	cfg      Config
	sock     Socket
	clock    clock.Clock
	registry *Registry
	logger   *log.Logger

	awaiting uint16
	acked    bool
	lastAck  uint16

	sent        atomic.Uint64
	sendErrs    atomic.Uint64
	ackTimeouts atomic.Uint64
	received    atomic.Uint64
	dropped     atomic.Uint64
	unhandled   atomic.Uint64
}

// New creates a dispatcher over sock and installs its own ack handler.
func New(cfg Config, sock Socket, clk clock.Clock, logger *log.Logger) (*Dispatcher, error) {
	if sock == nil {
		return nil, errors.New("transport: socket required")
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()

	d := &Dispatcher{
		cfg:      cfg,
		sock:     sock,
		clock:    clk,
		registry: NewRegistry(cfg.HandlerSlots, logger),
		logger:   logger,
	}

	if _, err := d.registry.Register(protocol.CmdAck, d.handleAck); err != nil {
		return nil, err
	}
	return d, nil
}

// Register installs a handler for cmd. The caller must check the error:
// a full registry rejects the handler.
func (d *Dispatcher) Register(cmd protocol.Command, fn HandlerFunc) (Handle, error) {
	return d.registry.Register(cmd, fn)
}

// Dispatch encodes p and sends it to target.
//
// Without waitForAck it reports link-level send success only.
// With waitForAck it retransmits up to Retries times, each attempt followed by
// a wait window of AckTimeout during which inbound traffic keeps being handled.
// false means the recipient is likely absent; it is not fatal.
func (d *Dispatcher) Dispatch(target protocol.Node, p protocol.Payload, waitForAck bool) bool {
	data := p.Encode()

	if !waitForAck {
		return d.send(target, data)
	}

	id := p.ID()
	d.awaiting = id
	d.acked = false
	defer func() { d.awaiting = 0 }()

	for attempt := 0; attempt <= d.cfg.Retries; attempt++ {
		if attempt > 0 {
			d.logger.Printf("transport: retry %d/%d %s id=%d to %s", attempt, d.cfg.Retries, p.Command(), id, target)
		}
		d.send(target, data)
		if d.awaitAck() {
			return true
		}
	}

	d.ackTimeouts.Add(1)
	d.logger.Printf("WARN transport: no ack for %s id=%d from %s after %d attempts", p.Command(), id, target, d.cfg.Retries+1)
	return false
}

func (d *Dispatcher) send(target protocol.Node, data []byte) bool {
	if err := d.sock.Send(target, data); err != nil {
		d.sendErrs.Add(1)
		d.logger.Printf("transport: send to %s failed: %v", target, err)
		return false
	}
	d.sent.Add(1)
	return true
}

// awaitAck services inbound traffic until the window closes or the awaited id is acked.
func (d *Dispatcher) awaitAck() bool {
	deadline := d.clock.Now().Add(d.cfg.AckTimeout)
	for {
		if d.acked {
			return true
		}
		remaining := deadline.Sub(d.clock.Now())
		if remaining <= 0 {
			return false
		}
		d.Poll(min(remaining, d.cfg.PollInterval))
	}
}

func (d *Dispatcher) handleAck(from protocol.Node, data []byte) {
	ack := protocol.DecodeAck(data)
	if ack.IsBad() {
		return
	}
	d.lastAck = ack.AckID
	if d.awaiting != 0 && ack.AckID == d.awaiting {
		d.acked = true
	}
}

// ProcessInbound handles at most one queued frame without blocking.
// It returns false when nothing was queued or the frame was discarded.
func (d *Dispatcher) ProcessInbound() bool {
	return d.Poll(0)
}

// Poll waits up to timeout for one frame and hands it to the matching handlers.
func (d *Dispatcher) Poll(timeout time.Duration) bool {
	dg, err := d.sock.Receive(timeout)
	if err != nil {
		if !errors.Is(err, ErrNoPacket) {
			d.logger.Printf("transport: receive failed: %v", err)
		}
		return false
	}
	return d.handle(dg)
}

func (d *Dispatcher) handle(dg Datagram) bool {
	if len(dg.Data) < d.cfg.MinFrame || len(dg.Data) > d.cfg.MaxFrame {
		d.dropped.Add(1)
		d.logger.Printf("transport: dropped %d-byte frame from %s (limits %d..%d)", len(dg.Data), dg.From, d.cfg.MinFrame, d.cfg.MaxFrame)
		return false
	}
	d.received.Add(1)

	h, _ := protocol.ParseHeader(dg.Data)
	if d.registry.Dispatch(h.Command, dg.From, dg.Data) == 0 {
		d.unhandled.Add(1)
	}
	return true
}

// LastAck returns the most recent acknowledged message id seen on the wire.
func (d *Dispatcher) LastAck() uint16 { return d.lastAck }

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Sent:        d.sent.Load(),
		SendErrors:  d.sendErrs.Load(),
		AckTimeouts: d.ackTimeouts.Load(),
		Received:    d.received.Load(),
		Dropped:     d.dropped.Load(),
		Unhandled:   d.unhandled.Load(),
	}
}

// Close closes the underlying socket.
func (d *Dispatcher) Close() error { return d.sock.Close() }
