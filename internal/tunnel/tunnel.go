// Package tunnel rotates the network tunnel's circuit between login
// attempts, so consecutive attempts don't share an apparent origin.
package tunnel

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"time"

	"autologin/internal/logging"
)

// Circuit is the orchestrator's view of the tunnel: it can ask for a fresh
// circuit and nothing else.
type Circuit interface {
	Renew(ctx context.Context) error
}

type nopCircuit struct{}

func (nopCircuit) Renew(context.Context) error { return nil }

// Nop returns a circuit that does nothing, for runs without tunnel mode.
func Nop() Circuit {
	return nopCircuit{}
}

// Controller renews circuits through the Tor control port: authenticate,
// signal NEWNYM, done. Each renewal uses a fresh connection.
type Controller struct {
	addr     string
	password string
	timeout  time.Duration
	logger   logging.Logger
}

// NewController creates a control-port client for addr (host:port).
func NewController(addr, password string, logger logging.Logger) *Controller {
	return &Controller{
		addr:     addr,
		password: password,
		timeout:  10 * time.Second,
		logger:   logging.OrNop(logger),
	}
}

// Renew asks the tunnel for a new circuit identity.
func (c *Controller) Renew(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial control port %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	proto := textproto.NewConn(conn)
	defer proto.Close()

	if err := c.command(proto, fmt.Sprintf("AUTHENTICATE %q", c.password)); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if err := c.command(proto, "SIGNAL NEWNYM"); err != nil {
		return fmt.Errorf("signal newnym: %w", err)
	}
	c.logger.Info("tunnel circuit renewed")
	return nil
}

func (c *Controller) command(proto *textproto.Conn, cmd string) error {
	if err := proto.PrintfLine("%s", cmd); err != nil {
		return err
	}
	code, msg, err := proto.ReadCodeLine(250)
	if err != nil {
		return fmt.Errorf("control reply %d %s: %w", code, msg, err)
	}
	return nil
}
