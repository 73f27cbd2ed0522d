package statemon_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jrtomps/go-statemon/statemon"
	"github.com/jrtomps/go-statemon/statemon/statemontest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (x *callLog) add(format string, args ...any) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.calls = append(x.calls, fmt.Sprintf(format, args...))
}

func (x *callLog) get() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.calls...)
}

func newMonitor(t *testing.T, server *statemontest.Server, options ...statemon.Option) *statemon.Monitor {
	t.Helper()
	m, err := statemon.NewMonitor(server, testRequestAddr, testStateAddr, testOptions(options...)...)
	require.NoError(t, err)
	return m
}

func (x *callLog) state(m *statemon.Monitor, from, to string, arg any) {
	x.add(`%v %q -> %q`, arg, from, to)
}

func TestMonitor_orderedDispatch(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	var log callLog
	for _, state := range [...]string{`A`, `B`, `C`} {
		m.Register(state, log.state, state)
	}
	start(t, m.Base)

	for _, frame := range [...]string{
		`STATE:Idle`,
		`TRANSITION:A`,
		`TRANSITION:B`,
		`TRANSITION:C`,
	} {
		require.Equal(t, 1, server.Publish(frame))
	}
	flush(t, server, m.Base)

	assert.Equal(t, []string{
		`A "Idle" -> "A"`,
		`B "A" -> "B"`,
		`C "B" -> "C"`,
	}, log.get())
}

func TestMonitor_initialState(t *testing.T) {
	for _, tc := range [...]struct {
		Name  string
		Frame string
	}{
		{`state`, `STATE:Ready`},
		{`transition`, `TRANSITION:Ready`},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			server := statemontest.NewServer()
			m := newMonitor(t, server)
			var log callLog
			m.Register(`Ready`, log.state, `ready`)
			start(t, m.Base)

			require.Equal(t, 1, server.Publish(tc.Frame))
			flush(t, server, m.Base)

			assert.Equal(t, `Ready`, m.State())
			assert.Equal(t, []string{`ready "" -> "Ready"`}, log.get())
			assert.Equal(t, []string{statemon.PrefixState}, server.Conns()[0].Unsubscribed())
		})
	}
}

func TestMonitor_caseInsensitive(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	var log callLog
	m.Register(`ready`, log.state, 1)
	m.Register(`READY`, log.state, 2)
	assert.True(t, m.Registered(`Ready`))
	start(t, m.Base)

	require.Equal(t, 1, server.Publish(`TRANSITION:Ready`))
	flush(t, server, m.Base)

	assert.Equal(t, []string{`2 "" -> "Ready"`}, log.get())
}

func TestMonitor_Unregister(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	var log callLog
	m.Register(`Ready`, log.state, nil)
	m.Register(`Paused`, log.state, nil)
	m.Unregister(`READY`)
	m.Register(`Paused`, nil, nil)
	m.Unregister(`Unknown`)
	assert.False(t, m.Registered(`Ready`))
	assert.False(t, m.Registered(`Paused`))
	start(t, m.Base)

	require.Equal(t, 1, server.Publish(`STATE:Ready`))
	require.Equal(t, 1, server.Publish(`TRANSITION:Paused`))
	flush(t, server, m.Base)

	assert.Empty(t, log.get())
	assert.Equal(t, `Paused`, m.State())
}

func TestMonitor_registerFromCallback(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	var log callLog
	m.Register(`A`, func(m *statemon.Monitor, from, to string, arg any) {
		log.state(m, from, to, arg)
		m.Unregister(`A`)
		m.Register(`B`, log.state, `b`)
	}, `a`)
	start(t, m.Base)

	for _, frame := range [...]string{`TRANSITION:A`, `TRANSITION:B`, `TRANSITION:A`} {
		require.Equal(t, 1, server.Publish(frame))
	}
	flush(t, server, m.Base)

	assert.Equal(t, []string{`a "" -> "A"`, `b "A" -> "B"`}, log.get())
}

func TestMonitor_runNumberCallback(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	var log callLog
	m.SetRunNumberCallback(func(m *statemon.Monitor, runNumber int, arg any) {
		if runNumber < 100000 {
			log.add(`%v %d`, arg, runNumber)
		}
	}, `run`)
	start(t, m.Base)

	for _, frame := range [...]string{`RUN:1`, `RUN:1`, `RUN:2`, `RUN:-1`} {
		require.Equal(t, 1, server.Publish(frame))
	}
	flush(t, server, m.Base)

	assert.Equal(t, []string{`run 1`, `run 2`, `run -1`}, log.get())
}

func TestMonitor_titleCallback(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	var log callLog
	m.SetTitleCallback(func(m *statemon.Monitor, title string, arg any) {
		log.add(`%v %q`, arg, title)
	}, `title`)
	start(t, m.Base)

	for _, frame := range [...]string{`TITLE:`, `TITLE:first`, `TITLE:first`, `TITLE:second`} {
		require.Equal(t, 1, server.Publish(frame))
	}
	flush(t, server, m.Base)

	assert.Equal(t, []string{`title "first"`, `title "second"`}, log.get())

	m.SetTitleCallback(nil, nil)
	require.Equal(t, 1, server.Publish(`TITLE:third`))
	flush(t, server, m.Base)
	assert.Len(t, log.get(), 2)
	assert.Equal(t, `third`, m.Title())
}

func TestMonitor_recordingCallback(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	var log callLog
	m.SetRecordingCallback(func(m *statemon.Monitor, recording bool, arg any) {
		log.add(`%v %t`, arg, recording)
	}, `recording`)
	start(t, m.Base)

	for _, frame := range [...]string{
		`RECORD:False`,
		`RECORD:False`,
		`RECORD:True`,
		`RECORD:True`,
		`RECORD:yes`,
	} {
		require.Equal(t, 1, server.Publish(frame))
	}
	flush(t, server, m.Base)

	assert.Equal(t, []string{
		`recording false`,
		`recording true`,
		`recording false`,
	}, log.get())
}

func TestMonitor_recordingBeforeCallback(t *testing.T) {
	server := statemontest.NewServer()
	m := newMonitor(t, server)
	start(t, m.Base)

	require.Equal(t, 1, server.Publish(`RECORD:False`))
	flush(t, server, m.Base)

	var log callLog
	m.SetRecordingCallback(func(m *statemon.Monitor, recording bool, arg any) {
		log.add(`%t`, recording)
	}, nil)

	// the first frame was already consumed
	require.Equal(t, 1, server.Publish(`RECORD:False`))
	require.Equal(t, 1, server.Publish(`RECORD:True`))
	flush(t, server, m.Base)

	assert.Equal(t, []string{`true`}, log.get())
}

func TestNewMonitor_init(t *testing.T) {
	server := statemontest.NewServer()
	var got *statemon.Base
	m, err := statemon.NewMonitor(server, testRequestAddr, testStateAddr,
		statemon.WithHooks(new(recorder)),
		statemon.WithInit(func(b *statemon.Base) error {
			got = b
			return nil
		}),
	)
	require.NoError(t, err)
	defer m.Close()
	assert.Same(t, m.Base, got)

	_, err = statemon.NewMonitor(nil, testRequestAddr, testStateAddr)
	assert.ErrorIs(t, err, statemon.ErrNilDialer)
}
