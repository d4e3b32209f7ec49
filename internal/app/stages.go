// internal/app/stages.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/tamzrod/secmesh/internal/protocol"
)

// Stage is one named step of node startup or operation.
// Stages run in order; the last one normally runs until ctx ends.
type Stage struct {
	Name string
	Run  func(ctx context.Context) error
}

func runStages(ctx context.Context, logger *log.Logger, stages []Stage) error {
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil
		}
		logger.Printf("app: stage %s", s.Name)
		if err := s.Run(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("app: stage %s: %w", s.Name, err)
		}
	}
	return nil
}

func (n *Node) stages() []Stage {
	return []Stage{
		{Name: "boot", Run: n.boot},
		{Name: "network", Run: n.network},
		{Name: "loop", Run: n.loop},
	}
}

// ---- boot ----

func (n *Node) boot(ctx context.Context) error {
	n.beat()

	p := n.winch.Params()
	n.logger.Printf(
		"app: node %s boot (open_ticks=%d rangefinder=%v locked=%v)",
		n.opts.Name, p.OpenTicks, p.UseRangefinder, n.locked.Load(),
	)
	return nil
}

// ---- network ----

func (n *Node) network(ctx context.Context) error {
	for _, h := range n.handlers() {
		if _, err := n.disp.Register(h.cmd, h.fn); err != nil {
			return fmt.Errorf("register %s: %w", h.cmd, err)
		}
	}

	n.tracker.Ready()
	n.statusTick(true)

	hello := protocol.NewLog(n.opts.Name, protocol.LogInfo, "online")
	n.disp.Dispatch(n.opts.Group, hello, false)

	if n.opts.OnReady != nil {
		n.opts.OnReady()
	}
	return nil
}

// ---- loop ----

func (n *Node) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			n.logger.Printf("app: node %s stopping", n.opts.Name)
			return nil
		default:
		}

		n.disp.Poll(n.opts.PollInterval)
		n.serveRequests()
		n.runPending()
		n.statusTick(false)
		n.beat()
	}
}
