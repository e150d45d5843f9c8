package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockgate-project/blockgate/internal/protocol"
)

// errFinished is returned by a handler that has completed the exchange and
// wants the connection closed without it being treated as a failure.
var errFinished = errors.New("exchange finished")

// Handler processes one decoded packet for a connection.
type Handler func(ctx context.Context, c *Connection, p protocol.Packet) error

// Dispatcher routes packets to the handler of the connection's current phase.
type Dispatcher struct {
	handlers map[protocol.Phase]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[protocol.Phase]Handler)}
}

// Handle sets the handler for phase, replacing any previous one.
func (d *Dispatcher) Handle(phase protocol.Phase, h Handler) {
	d.handlers[phase] = h
}

// Dispatch invokes the handler for the connection's current phase.
func (d *Dispatcher) Dispatch(ctx context.Context, c *Connection, p protocol.Packet) error {
	phase := c.Phase()
	h, ok := d.handlers[phase]
	if !ok {
		return fmt.Errorf("no handler for phase %s", phase)
	}
	return h(ctx, c, p)
}

func unexpectedPacket(phase protocol.Phase, p protocol.Packet) error {
	return fmt.Errorf("unexpected packet %T (%s) in phase %s", p, p.ID(), phase)
}
