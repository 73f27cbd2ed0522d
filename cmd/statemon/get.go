package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jrtomps/go-statemon/statemon"
)

type (
	// knownHooks signals once the state is known.
	knownHooks struct {
		statemon.NopHooks
		once  sync.Once
		known chan struct{}
	}

	snapshotJSON struct {
		State     string `json:"state"`
		Title     string `json:"title"`
		RunNumber int    `json:"run_number"`
		Recording bool   `json:"recording"`
	}
)

func (x *knownHooks) InitialState(string) {
	x.once.Do(func() { close(x.known) })
}

func runGet(ctx context.Context, args []string, e *env) error {
	var common commonFlags
	fs := newFlagSet(`get`, e, &common)
	timeout := fs.Duration(`timeout`, 10*time.Second, `maximum wait for the state`)
	settle := fs.Duration(`settle`, 100*time.Millisecond, `wait for run facts, after the state is known`)
	asJSON := fs.Bool(`json`, false, `print JSON`)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 0 {
		return fmt.Errorf(`%w: unexpected argument %q`, errUsage, fs.Arg(0))
	}
	if *timeout <= 0 {
		return fmt.Errorf(`%w: timeout must be positive`, errUsage)
	}

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	logger, err := newLogger(e.stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	hooks := &knownHooks{known: make(chan struct{})}
	b, err := statemon.NewBase(e.dialer(cfg, logger), cfg.RequestAddr, cfg.StateAddr,
		append(cfg.monitorOptions(), statemon.WithLogger(logger), statemon.WithHooks(hooks))...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	var runErr error
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		runErr = b.Run(ctx)
	}()

	select {
	case <-hooks.known:
		sleepContext(ctx, *settle)
	case <-finished:
	}
	snapshot := b.Snapshot()
	cancel()
	<-finished
	if err := b.Close(); err != nil {
		return err
	}

	select {
	case <-hooks.known:
	default:
		if errors.Is(runErr, context.DeadlineExceeded) {
			return fmt.Errorf(`state not known after %s: %w`, *timeout, runErr)
		}
		if runErr == nil {
			runErr = errors.New(`state not known`)
		}
		return runErr
	}

	if *asJSON {
		enc := json.NewEncoder(e.stdout)
		enc.SetIndent(``, `  `)
		return enc.Encode(snapshotJSON(snapshot))
	}
	fmt.Fprintf(e.stdout, "state: %s\nrun: %d\ntitle: %q\nrecording: %t\n",
		snapshot.State, snapshot.RunNumber, snapshot.Title, snapshot.Recording)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
