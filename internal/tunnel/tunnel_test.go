package tunnel

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControlPort accepts one connection and scripts the control dialogue.
func fakeControlPort(t *testing.T, authReply, signalReply string) (addr string, received *[]string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	var lines []string
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		for _, reply := range []string{authReply, signalReply} {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines = append(lines, strings.TrimSpace(line))
			conn.Write([]byte(reply + "\r\n"))
			if !strings.HasPrefix(reply, "250") {
				return
			}
		}
	}()
	return listener.Addr().String(), &lines
}

func TestRenewHappyPath(t *testing.T) {
	addr, received := fakeControlPort(t, "250 OK", "250 OK")

	controller := NewController(addr, "secret", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, controller.Renew(ctx))
	require.Len(t, *received, 2)
	assert.Equal(t, `AUTHENTICATE "secret"`, (*received)[0])
	assert.Equal(t, "SIGNAL NEWNYM", (*received)[1])
}

func TestRenewAuthFailure(t *testing.T) {
	addr, _ := fakeControlPort(t, "515 Authentication failed", "250 OK")

	controller := NewController(addr, "wrong", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := controller.Renew(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authenticate")
}

func TestRenewUnreachable(t *testing.T) {
	controller := NewController("127.0.0.1:1", "", nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.Error(t, controller.Renew(ctx))
}

func TestNopCircuit(t *testing.T) {
	require.NoError(t, Nop().Renew(context.Background()))
}
