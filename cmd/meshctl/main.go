// cmd/meshctl/main.go
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/tamzrod/secmesh/internal/clock"
	"github.com/tamzrod/secmesh/internal/protocol"
	"github.com/tamzrod/secmesh/internal/transport"
)

const usage = `usage: meshctl [flags] <command> [args]

commands:
  trigger [pir|irgrid|switch]   send a trigger
  ping                          ping and print pongs
  status                        request status and print replies
  log <text>                    broadcast a log line
  lock | unlock                 set the mesh security state
  config <key> <value>          override a door setting (open_distance|open_wait|cooldown|close_ticks|locked)
`

func main() {
	var (
		name    = flag.String("name", "meshctl", "device name on the wire")
		group   = flag.String("group", fmt.Sprintf("%s:%d", protocol.MulticastGroup, protocol.MulticastPort), "multicast group")
		target  = flag.String("target", "", "unicast target ip:port (default: the group)")
		iface   = flag.String("iface", "", "interface for the multicast join")
		waitAck = flag.Bool("ack", false, "wait for an ack with retries")
		retries = flag.Int("retries", transport.DefaultRetries, "retransmissions when -ack is set")
		listen  = flag.Duration("wait", 2*time.Second, "how long to collect replies")
	)
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage); flag.PrintDefaults() }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	p, reply, err := buildPayload(*name, flag.Arg(0), flag.Args()[1:])
	if err != nil {
		log.Fatalf("meshctl: %v", err)
	}

	groupNode, err := protocol.ParseNode(*group, protocol.MulticastPort)
	if err != nil {
		log.Fatalf("meshctl: group: %v", err)
	}
	dst := groupNode
	if *target != "" {
		if dst, err = protocol.ParseNode(*target, protocol.UnicastPort); err != nil {
			log.Fatalf("meshctl: target: %v", err)
		}
	}

	logger := log.New(os.Stderr, "", 0)

	// Ephemeral unicast port so meshctl can share a host with a node.
	sock, err := transport.ListenUDP(transport.UDPConfig{Group: groupNode, Interface: *iface}, logger)
	if err != nil {
		log.Fatalf("meshctl: %v", err)
	}

	d, err := transport.New(transport.Config{Retries: *retries}, sock, clock.System{}, logger)
	if err != nil {
		log.Fatalf("meshctl: %v", err)
	}
	defer d.Close()

	if reply != (protocol.Command{}) {
		if _, err := d.Register(reply, printReply(*name)); err != nil {
			log.Fatalf("meshctl: %v", err)
		}
	}

	ok := d.Dispatch(dst, p, *waitAck)
	switch {
	case !ok && *waitAck:
		log.Fatalf("meshctl: no ack for %s id=%d from %s", p.Command(), p.ID(), dst)
	case !ok:
		log.Fatalf("meshctl: send %s to %s failed", p.Command(), dst)
	case *waitAck:
		fmt.Printf("%s id=%d acked\n", p.Command(), p.ID())
	default:
		fmt.Printf("%s id=%d sent to %s\n", p.Command(), p.ID(), dst)
	}

	if reply == (protocol.Command{}) {
		return
	}
	deadline := time.Now().Add(*listen)
	for time.Now().Before(deadline) {
		d.Poll(time.Until(deadline))
	}
}

// buildPayload maps a command line onto a payload and the reply code it expects.
func buildPayload(name, cmd string, args []string) (protocol.Payload, protocol.Command, error) {
	var none protocol.Command

	switch cmd {
	case "trigger":
		device := protocol.DevicePIR
		if len(args) > 0 {
			switch args[0] {
			case "pir":
			case "irgrid":
				device = protocol.DeviceIRGrid
			case "switch":
				device = protocol.DeviceSwitch
			default:
				return nil, none, fmt.Errorf("unknown device %q", args[0])
			}
		}
		return protocol.NewTrigger(name, device, []byte{1}), none, nil

	case "ping":
		return protocol.NewGeneric(name, protocol.CmdPing), protocol.CmdPong, nil

	case "status":
		return protocol.NewGeneric(name, protocol.CmdStatusReq), protocol.CmdStatus, nil

	case "log":
		if len(args) == 0 {
			return nil, none, fmt.Errorf("log needs text")
		}
		return protocol.NewLog(name, protocol.LogInfo, args[0]), none, nil

	case "lock":
		return protocol.NewSecurity(name, protocol.SecurityLocked), none, nil

	case "unlock":
		return protocol.NewSecurity(name, protocol.SecurityUnlocked), none, nil

	case "config":
		if len(args) != 2 {
			return nil, none, fmt.Errorf("config needs <key> <value>")
		}
		key, ok := configKeys[args[0]]
		if !ok {
			return nil, none, fmt.Errorf("unknown config key %q", args[0])
		}
		v, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return nil, none, fmt.Errorf("config value: %w", err)
		}
		return protocol.NewConfiguration(name, key, int32(v)), none, nil
	}

	return nil, none, fmt.Errorf("unknown command %q", cmd)
}

var configKeys = map[string]protocol.ConfigKey{
	"open_distance": protocol.ConfigOpenDistance,
	"open_wait":     protocol.ConfigOpenWait,
	"cooldown":      protocol.ConfigCooldown,
	"close_ticks":   protocol.ConfigCloseTicks,
	"locked":        protocol.ConfigLocked,
}

func printReply(self string) transport.HandlerFunc {
	return func(from protocol.Node, data []byte) {
		switch m := protocol.Decode(data).(type) {
		case protocol.Pong:
			if m.IsBad() {
				return
			}
			fmt.Printf("pong %-20s %s device=%d uptime=%ds\n", m.Name(), from, m.Device, m.Uptime)
		case protocol.StatusMessage:
			if m.IsBad() || m.Name() == self {
				return
			}
			fmt.Printf(
				"status %-20s %s health=%d phase=%d last_error=%d seconds_in_error=%d\n",
				m.Name(), from, m.Health, m.Phase, m.LastError, m.SecondsInError,
			)
		}
	}
}
