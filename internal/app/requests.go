// internal/app/requests.go
package app

import (
	"context"
	"fmt"
)

type requestKind int

const (
	reqTrigger requestKind = iota
	reqRewind
	reqLock
	reqUnlock
)

// request is an operator command handed to the loop goroutine.
type request struct {
	kind  requestKind
	ticks int64
	reply chan error
}

// Trigger queues a door cycle. It returns once the loop has accepted it,
// not when the cycle ends.
func (n *Node) Trigger(ctx context.Context) error {
	return n.submit(ctx, request{kind: reqTrigger})
}

// Rewind queues a pay-out of ticks followed by calibration.
func (n *Node) Rewind(ctx context.Context, ticks int64) error {
	if ticks <= 0 {
		return fmt.Errorf("app: rewind of %d ticks", ticks)
	}
	return n.submit(ctx, request{kind: reqRewind, ticks: ticks})
}

// SetLocked changes the local lock state.
func (n *Node) SetLocked(ctx context.Context, locked bool) error {
	kind := reqUnlock
	if locked {
		kind = reqLock
	}
	return n.submit(ctx, request{kind: kind})
}

func (n *Node) submit(ctx context.Context, r request) error {
	r.reply = make(chan error, 1)
	select {
	case n.requests <- r:
	case <-n.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.reply:
		return err
	case <-n.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serveRequests answers every waiting request without blocking.
// It runs both from the main loop and from winch control ticks.
func (n *Node) serveRequests() {
	for {
		select {
		case r := <-n.requests:
			r.reply <- n.apply(r)
		default:
			return
		}
	}
}

func (n *Node) apply(r request) error {
	switch r.kind {
	case reqLock:
		n.setLocked(true)
		return nil
	case reqUnlock:
		n.setLocked(false)
		return nil
	}

	if r.kind == reqTrigger && n.locked.Load() {
		return ErrLocked
	}
	if n.winch.Busy() || n.pendingTrigger || n.pendingRewind > 0 {
		return ErrBusy
	}

	switch r.kind {
	case reqTrigger:
		n.pendingTrigger = true
	case reqRewind:
		n.pendingRewind = r.ticks
	}
	return nil
}
