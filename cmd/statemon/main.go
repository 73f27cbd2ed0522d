// Command statemon follows the state of a run-control service, reporting
// transitions, and run facts, as they are published.
//
// Usage:
//
//	statemon watch [flags]            print notifications, optionally running hooks
//	statemon request [flags] STATE    request a transition, printing the reply
//	statemon get [flags]              print the current state, and facts
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/logiface"
	"github.com/jrtomps/go-statemon/statemon"
	"github.com/jrtomps/go-statemon/zmqsock"
	"github.com/spf13/pflag"
)

var errUsage = errors.New(`invalid usage`)

// env carries the process dependencies of run.
type env struct {
	stdout io.Writer
	stderr io.Writer
	dialer func(cfg *Config, logger *logiface.Logger[logiface.Event]) statemon.Dialer
	mirror func(cfg MQTTConfig, logger *logiface.Logger[logiface.Event]) (*mirror, error)
}

type commonFlags struct {
	configPath  string
	requestAddr string
	stateAddr   string
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], defaultEnv())
	stop()
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "statemon: %v\n", err)
		}
		os.Exit(1)
	}
}

func defaultEnv() *env {
	return &env{
		stdout: os.Stdout,
		stderr: os.Stderr,
		dialer: func(cfg *Config, logger *logiface.Logger[logiface.Event]) statemon.Dialer {
			return &zmqsock.Dialer{
				Logger:         logger,
				RequestTimeout: cfg.RequestTimeout,
			}
		},
		mirror: dialMirror,
	}
}

func run(ctx context.Context, args []string, e *env) error {
	if len(args) == 0 {
		printUsage(e.stderr)
		return errUsage
	}
	switch args[0] {
	case `watch`:
		return runWatch(ctx, args[1:], e)
	case `request`:
		return runRequest(args[1:], e)
	case `get`:
		return runGet(ctx, args[1:], e)
	case `help`, `-h`, `--help`:
		printUsage(e.stdout)
		return nil
	default:
		fmt.Fprintf(e.stderr, "statemon: unknown command %q\n", args[0])
		printUsage(e.stderr)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `Usage: statemon <command> [flags]

Commands:
  watch     print state transitions, and run facts, as they are published
  request   request a state transition, printing the reply
  get       print the current state, and run facts

Run "statemon <command> --help" for the command flags.
`)
}

func newFlagSet(name string, e *env, common *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(`statemon `+name, pflag.ContinueOnError)
	fs.SetOutput(e.stderr)
	fs.StringVarP(&common.configPath, `config`, `c`, ``, `YAML config file`)
	fs.StringVar(&common.requestAddr, `request-addr`, ``, `run-control request endpoint`)
	fs.StringVar(&common.stateAddr, `state-addr`, ``, `run-control state publisher endpoint`)
	fs.StringVar(&common.logLevel, `log-level`, ``, `log level, e.g. debug, info, warning`)
	return fs
}

// parseFlags returns true if help was requested.
func parseFlags(fs *pflag.FlagSet, args []string) (bool, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, fmt.Errorf(`%w: %w`, errUsage, err)
	}
	return false, nil
}

// load reads the config, applying any flags that were set.
func (x *commonFlags) load(fs *pflag.FlagSet) (*Config, error) {
	cfg, err := Load(x.configPath)
	if err != nil {
		return nil, err
	}
	if fs.Changed(`request-addr`) {
		cfg.RequestAddr = x.requestAddr
	}
	if fs.Changed(`state-addr`) {
		cfg.StateAddr = x.stateAddr
	}
	if fs.Changed(`log-level`) {
		cfg.LogLevel = x.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
