package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/joeycumines/go-eventloop"
	"github.com/jrtomps/go-statemon/relay"
	"github.com/jrtomps/go-statemon/statemon/statemontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_eventLoopHost(t *testing.T) {
	loop, err := eventloop.New()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var loopErr error
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loopErr = loop.Run(ctx)
	}()
	defer func() {
		_ = loop.Shutdown(context.Background())
		cancel()
		<-loopDone
	}()

	server := statemontest.NewServer()
	m := newMonitor(t, relay.PosterFunc(func(fn func()) error { return loop.Submit(fn) }))

	// only touched by the loop goroutine
	var calls []string
	done := make(chan []string, 1)
	m.RegisterState(`Running`, func(from, to string) error {
		calls = append(calls, from+`->`+to)
		return nil
	})
	m.RegisterState(`Halted`, func(from, to string) error {
		calls = append(calls, from+`->`+to)
		done <- calls
		return nil
	})
	startMonitor(t, m, server)

	publish(t, server, `STATE:Ready`, `TRANSITION:Running`, `TRANSITION:Paused`, `TRANSITION:Running`, `TRANSITION:Halted`)

	select {
	case got := <-done:
		assert.Equal(t, []string{`Ready->Running`, `Paused->Running`, `Running->Halted`}, got)
	case <-loopDone:
		t.Fatal(loopErr)
	case <-time.After(waitFor):
		t.Fatal(`actions were not run`)
	}
}
