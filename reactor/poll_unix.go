//go:build unix

package reactor

import (
	"time"

	"golang.org/x/sys/unix"
)

func pollFDs(fds []int, masks []Events, timeout time.Duration) ([]Events, error) {
	pfds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pfds[i] = unix.PollFd{
			Fd:     int32(fd),
			Events: eventsToPoll(masks[i]),
		}
	}

	revents := make([]Events, len(fds))

	_, err := unix.Poll(pfds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return revents, nil
		}
		return nil, err
	}

	for i := range pfds {
		revents[i] = pollToEvents(pfds[i].Revents)
	}
	return revents, nil
}

// timeoutMillis rounds positive sub-millisecond timeouts up, so they don't
// become a busy poll.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}

// eventsToPoll converts Events to poll(2) event flags.
func eventsToPoll(events Events) int16 {
	var pollEvents int16
	if events&EventRead != 0 {
		pollEvents |= unix.POLLIN
	}
	if events&EventWrite != 0 {
		pollEvents |= unix.POLLOUT
	}
	return pollEvents
}

// pollToEvents converts poll(2) revents to Events.
func pollToEvents(pollEvents int16) Events {
	var events Events
	if pollEvents&unix.POLLIN != 0 {
		events |= EventRead
	}
	if pollEvents&unix.POLLOUT != 0 {
		events |= EventWrite
	}
	if pollEvents&(unix.POLLERR|unix.POLLNVAL) != 0 {
		events |= EventError
	}
	if pollEvents&unix.POLLHUP != 0 {
		events |= EventHangup
	}
	return events
}
