// cmd/meshctl/main_test.go
package main

import (
	"testing"

	"github.com/tamzrod/secmesh/internal/protocol"
)

func TestBuildPayload(t *testing.T) {
	p, reply, err := buildPayload("ctl", "trigger", []string{"irgrid"})
	if err != nil {
		t.Fatalf("trigger err=%v", err)
	}
	trg := protocol.DecodeTrigger(p.Encode())
	if trg.IsBad() || trg.Device != protocol.DeviceIRGrid || trg.Name() != "ctl" {
		t.Fatalf("trigger = %+v", trg)
	}
	if reply != (protocol.Command{}) {
		t.Fatalf("trigger expects no reply, got %s", reply)
	}

	_, reply, err = buildPayload("ctl", "ping", nil)
	if err != nil || reply != protocol.CmdPong {
		t.Fatalf("ping reply=%s err=%v", reply, err)
	}

	p, _, err = buildPayload("ctl", "config", []string{"open_wait", "2500"})
	if err != nil {
		t.Fatalf("config err=%v", err)
	}
	c := protocol.DecodeConfiguration(p.Encode())
	if c.Key != protocol.ConfigOpenWait || c.Value != 2500 {
		t.Fatalf("config = %+v", c)
	}
}

func TestBuildPayload_Errors(t *testing.T) {
	bad := [][]string{
		{"explode"},
		{"trigger", "laser-cannon"},
		{"log"},
		{"config", "open_wait"},
		{"config", "colour", "3"},
		{"config", "open_wait", "soon"},
	}
	for _, args := range bad {
		if _, _, err := buildPayload("ctl", args[0], args[1:]); err == nil {
			t.Fatalf("%v: expected error", args)
		}
	}
}
