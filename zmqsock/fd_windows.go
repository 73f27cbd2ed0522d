package zmqsock

import (
	zmq "github.com/pebbe/zmq4"
)

func socketFD(s *zmq.Socket) (int, error) {
	fd, err := s.GetFd()
	return int(fd), err
}
