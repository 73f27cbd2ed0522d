//go:build zmq

package zmqsock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jrtomps/go-statemon/statemon"
	"github.com/jrtomps/go-statemon/zmqsock"
	zmq "github.com/pebbe/zmq4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	requestAddr = `inproc://statemon-request`
	stateAddr   = `inproc://statemon-state`
)

func newContext(t *testing.T) *zmq.Context {
	t.Helper()
	ctx, err := zmq.NewContext()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Term() })
	return ctx
}

func bind(t *testing.T, ctx *zmq.Context, typ zmq.Type, addr string) *zmq.Socket {
	t.Helper()
	s, err := ctx.NewSocket(typ)
	require.NoError(t, err)
	require.NoError(t, s.SetLinger(0))
	require.NoError(t, s.Bind(addr))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// serve replies to requests until the test ends.
func serve(t *testing.T, rep *zmq.Socket, handler func(msg string) string) {
	t.Helper()
	require.NoError(t, rep.SetRcvtimeo(10*time.Millisecond))
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			msg, err := rep.Recv(0)
			if err != nil {
				continue
			}
			if _, err := rep.Send(handler(msg), 0); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})
}

func TestConn_Request(t *testing.T) {
	ctx := newContext(t)
	rep := bind(t, ctx, zmq.REP, requestAddr)
	bind(t, ctx, zmq.PUB, stateAddr)

	received := make(chan string, 1)
	serve(t, rep, func(msg string) string {
		received <- msg
		return `OK`
	})

	conn, err := (&zmqsock.Dialer{Context: ctx}).DialConn(requestAddr, stateAddr)
	require.NoError(t, err)
	defer conn.Close()

	reply, err := conn.Request(`TRANSITION:Ready`)
	require.NoError(t, err)
	assert.Equal(t, `OK`, reply)
	assert.Equal(t, `TRANSITION:Ready`, <-received)
}

func TestConn_Request_timeout(t *testing.T) {
	ctx := newContext(t)
	rep := bind(t, ctx, zmq.REP, requestAddr)
	bind(t, ctx, zmq.PUB, stateAddr)

	conn, err := (&zmqsock.Dialer{Context: ctx, RequestTimeout: 50 * time.Millisecond}).DialConn(requestAddr, stateAddr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Request(`TRANSITION:Ready`)
	assert.ErrorIs(t, err, zmqsock.ErrRequestTimeout)

	msg, err := rep.Recv(0)
	require.NoError(t, err)
	assert.Equal(t, `TRANSITION:Ready`, msg)

	// the socket was reopened, so the next send succeeds
	_, err = conn.Request(`TRANSITION:Paused`)
	assert.ErrorIs(t, err, zmqsock.ErrRequestTimeout)
}

func TestConn_Receive(t *testing.T) {
	ctx := newContext(t)
	bind(t, ctx, zmq.REP, requestAddr)
	pub := bind(t, ctx, zmq.PUB, stateAddr)

	conn, err := (&zmqsock.Dialer{Context: ctx}).DialConn(requestAddr, stateAddr)
	require.NoError(t, err)
	defer conn.Close()

	frame, ok, err := conn.Receive()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, frame)

	require.NoError(t, conn.Subscribe(statemon.PrefixTitle))

	// subscriptions propagate asynchronously
	require.Eventually(t, func() bool {
		_, _ = pub.Send(`RUN:1`, 0)
		_, _ = pub.Send(`TITLE:hello`, 0)
		frame, ok, err := conn.Receive()
		return err == nil && ok && frame == `TITLE:hello`
	}, 5*time.Second, 10*time.Millisecond)

	fd, err := conn.PollFD()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, fd, 0)
}

func TestMonitor_zmq(t *testing.T) {
	ctx := newContext(t)
	rep := bind(t, ctx, zmq.REP, requestAddr)
	pub := bind(t, ctx, zmq.PUB, stateAddr)

	serve(t, rep, func(msg string) string {
		if msg != `TRANSITION:Ready` {
			return `ERROR`
		}
		return `OK`
	})

	m, err := statemon.NewMonitor(&zmqsock.Dialer{Context: ctx}, requestAddr, stateAddr,
		statemon.WithWakeInterval(10*time.Millisecond))
	require.NoError(t, err)

	entered := make(chan string, 16)
	m.Register(`Ready`, func(m *statemon.Monitor, from, to string, arg any) {
		select {
		case entered <- from + `->` + to:
		default:
		}
	}, nil)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()
	defer func() {
		cancel()
		assert.True(t, errors.Is(<-done, context.Canceled))
		assert.NoError(t, m.Close())
	}()

	require.Eventually(t, func() bool {
		_, _ = pub.Send(`TRANSITION:Ready`, 0)
		return m.State() == `Ready`
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, `->Ready`, <-entered)

	reply, err := m.RequestTransition(`Ready`)
	require.NoError(t, err)
	assert.Equal(t, `OK`, reply)
}
