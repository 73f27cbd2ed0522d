package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/joeycumines/go-eventloop"
	"github.com/joeycumines/logiface"
	"github.com/jrtomps/go-statemon/relay"
)

// watcher holds the actions run by the event loop.
type watcher struct {
	out    io.Writer
	logger *logiface.Logger[logiface.Event]
	mirror *mirror
	hooks  map[string][]hook
	until  string
	ctx    context.Context
	cancel context.CancelFunc
}

func runWatch(ctx context.Context, args []string, e *env) error {
	var common commonFlags
	fs := newFlagSet(`watch`, e, &common)
	onFlags := fs.StringArray(`on`, nil, `run a shell command on entering a state, as STATE=COMMAND (repeatable)`)
	until := fs.String(`until`, ``, `exit once this state is entered`)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf(`%w: unexpected argument %q`, errUsage, fs.Arg(0))
	}

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	logger, err := newLogger(e.stderr, cfg.LogLevel)
	if err != nil {
		return err
	}
	hooks, err := parseHooks(cfg.Hooks, *onFlags)
	if err != nil {
		return fmt.Errorf(`%w: %w`, errUsage, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// hooks outlive --until, but not signals
	w := &watcher{
		out:    e.stdout,
		logger: logger,
		hooks:  make(map[string][]hook),
		until:  strings.ToUpper(strings.TrimSpace(*until)),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, h := range hooks {
		key := strings.ToUpper(h.state)
		w.hooks[key] = append(w.hooks[key], h)
	}

	if cfg.MQTT.Broker != `` {
		if w.mirror, err = e.mirror(cfg.MQTT, logger); err != nil {
			return err
		}
		defer w.mirror.Close()
	}

	loop, err := eventloop.New()
	if err != nil {
		return err
	}

	// releases the loop if it never runs
	abort := func() { _ = loop.Shutdown(context.Background()) }

	m, err := relay.New(
		relay.PosterFunc(func(fn func()) error { return loop.Submit(fn) }),
		relay.WithLogger(logger),
		relay.WithMonitorOptions(cfg.monitorOptions()...),
	)
	if err != nil {
		abort()
		return err
	}

	for _, state := range w.states(cfg.States, hooks) {
		m.RegisterState(state, w.state)
	}
	m.SetTitleCallback(w.title)
	m.SetRunNumberCallback(w.runNumber)
	m.SetRecordingCallback(w.recording)

	if err := m.Start(runCtx, e.dialer(cfg, logger), cfg.RequestAddr, cfg.StateAddr); err != nil {
		abort()
		return err
	}
	defer m.Close()

	logger.Info().
		Str(`request_addr`, cfg.RequestAddr).
		Str(`state_addr`, cfg.StateAddr).
		Log(`watching run control`)

	var waitErr error
	waitDone := make(chan struct{})
	go func() {
		defer close(waitDone)
		waitErr = m.Wait()
		// drains the posted actions
		_ = loop.Shutdown(context.Background())
	}()

	err = loop.Run(context.Background())
	<-waitDone
	if err != nil && !errors.Is(err, eventloop.ErrLoopTerminated) {
		return err
	}
	return waitErr
}

// states returns the states to bind, without case-insensitive duplicates.
func (x *watcher) states(configured []string, hooks []hook) []string {
	seen := make(map[string]struct{})
	var states []string
	add := func(state string) {
		state = strings.TrimSpace(state)
		key := strings.ToUpper(state)
		if key == `` {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		states = append(states, state)
	}
	for _, state := range configured {
		add(state)
	}
	for _, h := range hooks {
		add(h.state)
	}
	add(x.until)
	return states
}

func (x *watcher) state(from, to string) error {
	if from == `` {
		fmt.Fprintf(x.out, "state %s\n", to)
	} else {
		fmt.Fprintf(x.out, "state %s -> %s\n", from, to)
	}
	if x.mirror != nil {
		x.mirror.State(from, to)
	}

	key := strings.ToUpper(to)
	var errs []error
	for _, h := range x.hooks[key] {
		if err := h.start(x.ctx, x.logger, from, to); err != nil {
			errs = append(errs, err)
		}
	}

	if x.until != `` && key == x.until {
		x.logger.Info().
			Str(`state`, to).
			Log(`reached target state`)
		x.cancel()
	}

	return errors.Join(errs...)
}

func (x *watcher) title(title string) error {
	fmt.Fprintf(x.out, "title %q\n", title)
	if x.mirror != nil {
		x.mirror.Title(title)
	}
	return nil
}

func (x *watcher) runNumber(runNumber int) error {
	fmt.Fprintf(x.out, "run %d\n", runNumber)
	if x.mirror != nil {
		x.mirror.RunNumber(runNumber)
	}
	return nil
}

func (x *watcher) recording(recording bool) error {
	fmt.Fprintf(x.out, "recording %t\n", recording)
	if x.mirror != nil {
		x.mirror.Recording(recording)
	}
	return nil
}
