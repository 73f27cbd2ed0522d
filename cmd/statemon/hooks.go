package main

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/joeycumines/logiface"
)

// hook runs a shell command on entering a state.
type hook struct {
	state   string
	command string
}

// parseHooks merges the config hooks with STATE=COMMAND flag values, which
// take precedence.
func parseHooks(config map[string]string, flags []string) ([]hook, error) {
	byState := make(map[string]int)
	var hooks []hook
	add := func(state, command string) {
		key := strings.ToUpper(state)
		if i, ok := byState[key]; ok {
			hooks[i].command = command
			return
		}
		byState[key] = len(hooks)
		hooks = append(hooks, hook{state: state, command: command})
	}

	for _, state := range sortedKeys(config) {
		add(state, config[state])
	}

	for _, v := range flags {
		state, command, ok := strings.Cut(v, `=`)
		state = strings.TrimSpace(state)
		if !ok || state == `` || strings.TrimSpace(command) == `` {
			return nil, fmt.Errorf(`invalid hook %q, expected STATE=COMMAND`, v)
		}
		add(state, command)
	}

	return hooks, nil
}

// start runs the command without waiting, the exit status is logged.
func (x hook) start(ctx context.Context, logger *logiface.Logger[logiface.Event], from, to string) error {
	cmd := exec.CommandContext(ctx, `/bin/sh`, `-c`, x.command)
	cmd.Env = append(os.Environ(), `STATEMON_FROM=`+from, `STATEMON_TO=`+to)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf(`hook %s: %w`, x.state, err)
	}
	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warning().
				Str(`state`, to).
				Str(`command`, x.command).
				Err(err).
				Log(`hook failed`)
			return
		}
		logger.Debug().
			Str(`state`, to).
			Str(`command`, x.command).
			Log(`hook finished`)
	}()
	return nil
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
