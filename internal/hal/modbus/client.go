// internal/hal/modbus/client.go
package modbus

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mb "github.com/goburrow/modbus"
)

// Config selects the link to the motor controller.
type Config struct {
	Mode     string // "tcp" or "rtu"
	Endpoint string // host:port for tcp, serial device for rtu
	UnitID   uint8
	Timeout  time.Duration

	// RTU only; zero values take 19200 8N1.
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
}

// handlerWithConn is a goburrow handler with its lifecycle methods.
type handlerWithConn interface {
	mb.ClientHandler
	Connect() error
	Close() error
}

// Client is one connection to the motor controller.
// Requests are serialized; the controller does not pipeline.
// After a transport failure the connection is dropped and the next
// request makes one reconnect attempt.
type Client struct {
	mu      sync.Mutex
	handler handlerWithConn
	client  mb.Client
	dead    bool
}

func newHandler(cfg Config) (handlerWithConn, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "", "tcp":
		h := mb.NewTCPClientHandler(cfg.Endpoint)
		h.Timeout = timeout
		h.SlaveId = cfg.UnitID
		return h, nil

	case "rtu":
		h := mb.NewRTUClientHandler(cfg.Endpoint)
		h.BaudRate = 19200
		h.DataBits = 8
		h.StopBits = 1
		h.Parity = "N"
		if cfg.BaudRate > 0 {
			h.BaudRate = cfg.BaudRate
		}
		if cfg.DataBits > 0 {
			h.DataBits = cfg.DataBits
		}
		if cfg.StopBits > 0 {
			h.StopBits = cfg.StopBits
		}
		if p := strings.ToUpper(strings.TrimSpace(cfg.Parity)); p != "" {
			h.Parity = p
		}
		h.Timeout = timeout
		h.SlaveId = cfg.UnitID
		return h, nil

	default:
		return nil, fmt.Errorf("hal modbus: unknown mode %q", cfg.Mode)
	}
}

// Dial connects to the controller.
func Dial(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("hal modbus: endpoint required")
	}

	h, err := newHandler(cfg)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("hal modbus: connect %s: %w", cfg.Endpoint, err)
	}

	return &Client{
		handler: h,
		client:  mb.NewClient(h),
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dead = true
	return c.handler.Close()
}

// do runs one request, reconnecting first if the link died.
// Must be called with mu held.
func (c *Client) do(req func() error) error {
	if c.dead {
		if err := c.handler.Connect(); err != nil {
			return fmt.Errorf("hal modbus: reconnect: %w", err)
		}
		c.dead = false
	}

	err := req()
	if err != nil && isTransportError(err) {
		_ = c.handler.Close()
		c.dead = true
	}
	return err
}

// isTransportError is false for exception responses: the device answered.
func isTransportError(err error) bool {
	var mbErr *mb.ModbusError
	return !errors.As(err, &mbErr)
}

func (c *Client) WriteRegisters(addr uint16, regs []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.do(func() error {
		_, err := c.client.WriteMultipleRegisters(addr, uint16(len(regs)), packRegisters(regs))
		return err
	})
}

func (c *Client) WriteRegister(addr, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.do(func() error {
		_, err := c.client.WriteSingleRegister(addr, value)
		return err
	})
}

func (c *Client) ReadInputRegisters(addr, qty uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var raw []byte
	err := c.do(func() error {
		var err error
		raw, err = c.client.ReadInputRegisters(addr, qty)
		return err
	})
	if err != nil {
		return nil, err
	}
	regs := unpackRegisters(raw)
	if len(regs) != int(qty) {
		return nil, fmt.Errorf("hal modbus: read %d registers at %d, got %d", qty, addr, len(regs))
	}
	return regs, nil
}

func packRegisters(regs []uint16) []byte {
	out := make([]byte, len(regs)*2)
	for i, r := range regs {
		out[2*i] = byte(r >> 8)
		out[2*i+1] = byte(r)
	}
	return out
}

func unpackRegisters(data []byte) []uint16 {
	n := len(data) / 2
	out := make([]uint16, n)
	for i := 0; i < n; i++ {
		out[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return out
}
