package statemon_test

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jrtomps/go-statemon/statemon"
	"github.com/jrtomps/go-statemon/statemon/statemontest"
	"github.com/stretchr/testify/require"
)

const (
	testRequestAddr = `inproc://request`
	testStateAddr   = `inproc://state`
	waitFor         = 5 * time.Second
	tick            = time.Millisecond
)

type (
	runner struct {
		cancel context.CancelFunc
		done   chan struct{}
		err    error
	}

	// recorder implements statemon.Hooks, recording each call.
	recorder struct {
		mu    sync.Mutex
		calls []string
	}
)

var flushSeq atomic.Int64

func testOptions(options ...statemon.Option) []statemon.Option {
	return append([]statemon.Option{statemon.WithWakeInterval(10 * time.Millisecond)}, options...)
}

// start runs b on a new goroutine, until the test ends.
func start(t *testing.T, b *statemon.Base) *runner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r := &runner{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		r.err = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-r.done:
		case <-time.After(waitFor):
			t.Error(`run did not stop`)
			return
		}
		if err := b.Close(); err != nil {
			t.Error(err)
		}
	})
	return r
}

// wait returns the result of Run, failing the test if it does not stop.
func (x *runner) wait(t *testing.T) error {
	t.Helper()
	select {
	case <-x.done:
		return x.err
	case <-time.After(waitFor):
		t.Fatal(`run did not stop`)
		return nil
	}
}

func (x *runner) stopped() bool {
	select {
	case <-x.done:
		return true
	default:
		return false
	}
}

// flush publishes a RUN frame, and waits for it to be applied. All prior
// frames have been handled once it returns.
func flush(t *testing.T, server *statemontest.Server, b *statemon.Base) {
	t.Helper()
	n := int(flushSeq.Add(1)) + 100000
	require.Equal(t, 1, server.Publish(`RUN:`+strconv.Itoa(n)))
	require.Eventually(t, func() bool { return b.RunNumber() == n }, waitFor, tick)
}

func (x *recorder) record(format string, args ...any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, fmt.Sprintf(format, args...))
}

func (x *recorder) get() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return slices.Clone(x.calls)
}

func (x *recorder) InitialState(state string) { x.record(`initial %s`, state) }

func (x *recorder) Transition(from, to string) { x.record(`transition %s %s`, from, to) }

func (x *recorder) RunNumber(previous, current int) {
	// flush frames are not recorded
	if current > 100000 {
		return
	}
	x.record(`run %d %d`, previous, current)
}

func (x *recorder) Title(previous, current string) { x.record(`title %q %q`, previous, current) }

func (x *recorder) Recording(previous, current bool, first bool) {
	x.record(`recording %t %t %t`, previous, current, first)
}
