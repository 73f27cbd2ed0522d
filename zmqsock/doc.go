// Package zmqsock implements statemon.Transport using ZeroMQ, via
// github.com/pebbe/zmq4, with a REQ socket for transition requests, and a SUB
// socket for published frames.
//
// The SUB socket is exposed to the reactor via ZMQ_FD, which is edge
// triggered, and ZMQ_EVENTS, which reports the actual readiness.
package zmqsock
