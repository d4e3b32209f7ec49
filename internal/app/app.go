// internal/app/app.go

// Package app composes one door node: the mesh dispatcher, the dedup cache,
// the winch controller and the status tracker, driven by a single loop.
package app

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/dedup"
	"github.com/tamzrod/secmesh/internal/protocol"
	"github.com/tamzrod/secmesh/internal/status"
	"github.com/tamzrod/secmesh/internal/transport"
	"github.com/tamzrod/secmesh/internal/winch"
)

var (
	// ErrLocked is returned for actuation requests while the mesh is locked.
	ErrLocked = errors.New("app: node locked")
	// ErrBusy is returned while a cycle runs or is already queued.
	ErrBusy = winch.ErrBusy
	// ErrStopped is returned when the loop is no longer accepting requests.
	ErrStopped = errors.New("app: node stopped")
)

// StatusSink receives the node snapshot once per status period.
type StatusSink interface {
	WriteStatus(s status.Snapshot) error
}

// Options configure a Node.
type Options struct {
	Name   string
	Group  protocol.Node
	Locked bool

	Transport    transport.Config
	DedupSlots   int
	PollInterval time.Duration // main loop receive timeout
	StatusEvery  time.Duration

	Winch winch.Params
	Panel StatusSink

	// OnReady runs once after the network stage.
	OnReady func()
}

const (
	defaultPollInterval = 10 * time.Millisecond
	defaultStatusEvery  = time.Second
	staleAfter          = 5 * time.Second

	// frames serviced per winch control tick
	drainPerTick = 8
)

// Node is one door node. Run owns it; Trigger, Rewind, SetLocked and
// Status are safe from other goroutines.
type Node struct {
	opts   Options
	clock  clock.Clock
	logger *log.Logger

	disp    *transport.Dispatcher
	seen    *dedup.Cache
	winch   *winch.Controller
	tracker *status.Tracker

	started    time.Time
	lastStatus time.Time
	heartbeat  atomic.Int64 // unix nanos of the last loop pass

	locked   atomic.Bool
	activity atomic.Bool

	// loop-owned
	pendingTrigger bool
	pendingRewind  int64
	cycleErrors    int

	requests chan request
	done     chan struct{}
}

// New builds a node over sock and the winch devices.
func New(opts Options, sock transport.Socket, dev winch.Devices, clk clock.Clock, logger *log.Logger) (*Node, error) {
	if opts.Name == "" {
		return nil, errors.New("app: node name required")
	}
	if !opts.Group.IsValid() {
		opts.Group = protocol.MulticastNode
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.StatusEvery <= 0 {
		opts.StatusEvery = defaultStatusEvery
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = log.Default()
	}

	disp, err := transport.New(opts.Transport, sock, clk, logger)
	if err != nil {
		return nil, err
	}

	n := &Node{
		opts:     opts,
		clock:    clk,
		logger:   logger,
		disp:     disp,
		seen:     dedup.New(opts.DedupSlots),
		tracker:  status.NewTracker(),
		started:  clk.Now(),
		requests: make(chan request),
		done:     make(chan struct{}),
	}
	n.locked.Store(opts.Locked)
	n.tracker.SetLocked(opts.Locked)

	w, err := winch.New(opts.Winch, dev, clk, logger, winch.Hooks{
		OnError:   n.onWinchError,
		Interrupt: n.consumeActivity,
		OnTick:    n.service,
	})
	if err != nil {
		return nil, err
	}
	n.winch = w
	return n, nil
}

// Run executes the stage pipeline until ctx is cancelled or a stage fails.
func (n *Node) Run(ctx context.Context) error {
	defer close(n.done)
	return runStages(ctx, n.logger, n.stages())
}

// Close releases the socket. Call after Run returns.
func (n *Node) Close() error { return n.disp.Close() }

// Heartbeat returns the time of the most recent loop pass.
func (n *Node) Heartbeat() time.Time {
	v := n.heartbeat.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// Status is a point-in-time view for operators.
type Status struct {
	Name      string
	Uptime    time.Duration
	Locked    bool
	Snapshot  status.Snapshot
	Winch     winch.State
	Transport transport.Stats
}

// Status reports HealthStale when the loop has not passed for staleAfter.
func (n *Node) Status() Status {
	snap := n.tracker.Snapshot()
	if hb := n.Heartbeat(); !hb.IsZero() && n.clock.Now().Sub(hb) > staleAfter {
		snap.Health = status.HealthStale
	}
	return Status{
		Name:      n.opts.Name,
		Uptime:    n.clock.Now().Sub(n.started),
		Locked:    n.locked.Load(),
		Snapshot:  snap,
		Winch:     n.winch.State(),
		Transport: n.disp.Stats(),
	}
}

// ---- winch hooks ----

func (n *Node) onWinchError(k winch.ErrorKind) {
	n.cycleErrors++
	n.tracker.Fail(uint16(k), n.clock.Now())

	st := n.winch.State()
	msg := protocol.NewError(n.opts.Name, uint8(k), uint16(st.Phase))
	n.disp.Dispatch(n.opts.Group, msg, false)
}

func (n *Node) consumeActivity() bool { return n.activity.Swap(false) }

// service runs on every winch control tick so the node stays responsive
// while a cycle monopolizes the loop.
func (n *Node) service() {
	for i := 0; i < drainPerTick; i++ {
		if !n.disp.ProcessInbound() {
			break
		}
	}
	n.serveRequests()
	n.statusTick(false)
	n.beat()
}

func (n *Node) beat() { n.heartbeat.Store(n.clock.Now().UnixNano()) }

// ---- status ----

func (n *Node) statusTick(force bool) {
	now := n.clock.Now()
	if !force && now.Sub(n.lastStatus) < n.opts.StatusEvery {
		return
	}
	n.lastStatus = now

	st := n.winch.State()
	n.tracker.Observe(uint8(st.Phase), st.Cycles)
	n.tracker.Tick(now)

	if n.opts.Panel != nil {
		if err := n.opts.Panel.WriteStatus(n.tracker.Snapshot()); err != nil {
			n.logger.Printf("status panel write failed (node=%s): %v", n.opts.Name, err)
		}
	}
}

func (n *Node) setLocked(locked bool) {
	if n.locked.Swap(locked) != locked {
		n.logger.Printf("app: lock state -> %v", locked)
	}
	n.tracker.SetLocked(locked)
}

// ---- actuation ----

// runPending executes a queued rewind or trigger. Rewind wins.
func (n *Node) runPending() {
	switch {
	case n.pendingRewind > 0:
		ticks := n.pendingRewind
		n.pendingRewind = 0
		n.logger.Printf("app: rewind %d ticks", ticks)
		n.runCycle(func() error { return n.winch.Rewind(ticks) })

	case n.pendingTrigger:
		n.pendingTrigger = false
		if n.locked.Load() {
			n.logger.Printf("app: queued trigger dropped, node locked")
			return
		}
		n.runCycle(n.winch.Trigger)
	}
}

func (n *Node) runCycle(op func() error) {
	n.cycleErrors = 0
	n.activity.Store(false)

	err := op()
	switch {
	case errors.Is(err, winch.ErrBusy):
		return
	case err != nil:
		n.logger.Printf("app: winch failed: %v", err)
	case n.cycleErrors == 0:
		n.tracker.Recover()
	}
	n.statusTick(true)
}
