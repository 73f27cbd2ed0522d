//go:build !windows

package zmqsock

import (
	zmq "github.com/pebbe/zmq4"
)

func socketFD(s *zmq.Socket) (int, error) {
	return s.GetFd()
}
