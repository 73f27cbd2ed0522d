package main

import (
	"fmt"

	"github.com/jrtomps/go-statemon/statemon"
)

func runRequest(args []string, e *env) error {
	var common commonFlags
	fs := newFlagSet(`request`, e, &common)
	if help, err := parseFlags(fs, args); help || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(e.stderr, `Usage: statemon request [flags] STATE`)
		return errUsage
	}

	cfg, err := common.load(fs)
	if err != nil {
		return err
	}
	logger, err := newLogger(e.stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	b, err := statemon.NewBase(e.dialer(cfg, logger), cfg.RequestAddr, cfg.StateAddr,
		append(cfg.monitorOptions(), statemon.WithLogger(logger))...)
	if err != nil {
		return err
	}
	defer b.Close()

	reply, err := b.RequestTransition(fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, reply)
	return nil
}
