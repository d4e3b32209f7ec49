// internal/app/handlers.go
package app

import (
	"fmt"
	"math"
	"time"

	"github.com/tamzrod/secmesh/internal/protocol"
	"github.com/tamzrod/secmesh/internal/status"
	"github.com/tamzrod/secmesh/internal/transport"
)

type binding struct {
	cmd protocol.Command
	fn  transport.HandlerFunc
}

// handlers is the door node's table. The dispatcher's own ack handler
// takes one more slot.
func (n *Node) handlers() []binding {
	return []binding{
		{protocol.CmdTrigger, n.onTrigger},
		{protocol.CmdPing, n.onPing},
		{protocol.CmdSecurity, n.onSecurity},
		{protocol.CmdConfig, n.onConfig},
		{protocol.CmdStatusReq, n.onStatusRequest},
		{protocol.CmdLog, n.onLog},
		{protocol.CmdDebug, n.onDebug},
		{protocol.CmdError, n.onPeerError},
	}
}

// self filters multicast loopback of our own frames.
func (n *Node) self(name string) bool { return name == n.opts.Name }

func (n *Node) ack(to protocol.Node, id uint16) {
	n.disp.Dispatch(to, protocol.NewAck(n.opts.Name, id), false)
}

func (n *Node) reply(to protocol.Node, p protocol.Payload) {
	n.disp.Dispatch(to, p, false)
}

// fresh acks the message and reports whether it is new.
// Duplicates are acked again since the sender retransmits only when our ack was lost.
func (n *Node) fresh(from protocol.Node, id uint16, what protocol.Command) bool {
	dup := n.seen.Validate(from, id)
	n.ack(from, id)
	if dup {
		n.logger.Printf("app: duplicate %s id=%d from %s discarded", what, id, from)
		return false
	}
	return true
}

// ---- trg ----

func (n *Node) onTrigger(from protocol.Node, data []byte) {
	t := protocol.DecodeTrigger(data)
	if t.IsBad() {
		n.logger.Printf("app: malformed trigger from %s", from)
		return
	}
	if n.self(t.Name()) || !n.fresh(from, t.ID(), protocol.CmdTrigger) {
		return
	}

	switch {
	case n.locked.Load():
		n.logger.Printf("app: trigger from %s ignored, node locked", t.Name())
	case n.winch.Busy():
		n.activity.Store(true)
	default:
		n.logger.Printf("app: trigger from %s (device=%d)", t.Name(), t.Device)
		n.pendingTrigger = true
	}
}

// ---- pin ----

func (n *Node) onPing(from protocol.Node, data []byte) {
	g := protocol.DecodeGeneric(data)
	if g.IsBad() || n.self(g.Name()) {
		return
	}
	up := n.clock.Now().Sub(n.started) / time.Second
	n.reply(from, protocol.NewPong(n.opts.Name, protocol.DeviceDoor, uint32(up)))
}

// ---- sec ----

func (n *Node) onSecurity(from protocol.Node, data []byte) {
	s := protocol.DecodeSecurity(data)
	if s.IsBad() || n.self(s.Name()) || !n.fresh(from, s.ID(), protocol.CmdSecurity) {
		return
	}
	if s.State > protocol.SecurityLocked {
		n.logger.Printf("WARN app: security state %d from %s", s.State, s.Name())
	}
	n.setLocked(s.State != protocol.SecurityUnlocked)
}

// ---- cfg ----

func (n *Node) onConfig(from protocol.Node, data []byte) {
	c := protocol.DecodeConfiguration(data)
	if c.IsBad() || n.self(c.Name()) || !n.fresh(from, c.ID(), protocol.CmdConfig) {
		return
	}
	if err := n.applyConfig(c.Key, c.Value); err != nil {
		n.logger.Printf("app: config from %s rejected: %v", c.Name(), err)
		return
	}
	n.logger.Printf("app: config key=%d value=%d from %s", c.Key, c.Value, c.Name())
}

// applyConfig overrides one door setting at runtime.
// A running cycle keeps the settings it started with.
func (n *Node) applyConfig(key protocol.ConfigKey, v int32) error {
	if key == protocol.ConfigLocked {
		n.setLocked(v != 0)
		return nil
	}
	if v <= 0 {
		return fmt.Errorf("key %d: value %d must be positive", key, v)
	}

	p := n.winch.Params()
	switch key {
	case protocol.ConfigOpenDistance:
		if v > math.MaxUint16 {
			return fmt.Errorf("key %d: distance %d out of range", key, v)
		}
		p.OpenDistance = uint16(v)
	case protocol.ConfigOpenWait:
		p.OpenWait = ms(int(v))
	case protocol.ConfigCooldown:
		p.Cooldown = ms(int(v))
	case protocol.ConfigCloseTicks:
		p.OpenTicks = int64(v)
	default:
		return fmt.Errorf("unknown key %d", key)
	}
	return n.winch.SetParams(p)
}

// ---- stq ----

func (n *Node) onStatusRequest(from protocol.Node, data []byte) {
	g := protocol.DecodeGeneric(data)
	if g.IsBad() || n.self(g.Name()) {
		return
	}
	n.reply(from, status.Message(n.opts.Name, n.tracker.Snapshot()))
}

// ---- log / dbg / err ----

func (n *Node) onLog(from protocol.Node, data []byte) {
	m := protocol.DecodeLog(data)
	if m.IsBad() || n.self(m.Name()) {
		return
	}
	n.logger.Printf("mesh: %s level=%d: %s", m.Name(), m.Level, m.Text)
}

func (n *Node) onDebug(from protocol.Node, data []byte) {
	g := protocol.DecodeGeneric(data)
	if g.IsBad() || n.self(g.Name()) {
		return
	}
	st := n.disp.Stats()
	text := fmt.Sprintf(
		"sent=%d send_err=%d ack_timeout=%d recv=%d dropped=%d unhandled=%d",
		st.Sent, st.SendErrors, st.AckTimeouts, st.Received, st.Dropped, st.Unhandled,
	)
	n.reply(from, protocol.NewLog(n.opts.Name, protocol.LogDebug, text))
}

func (n *Node) onPeerError(from protocol.Node, data []byte) {
	e := protocol.DecodeError(data)
	if e.IsBad() || n.self(e.Name()) {
		return
	}
	n.logger.Printf("mesh: %s reports error kind=%d code=%d", e.Name(), e.Kind, e.Code)
}
