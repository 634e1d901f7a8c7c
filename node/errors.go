package node

import "errors"

// ErrNotConnected is wrapped into the error returned when a peer
// connection (a service client's dial to a resolved service URI) cannot
// be established.
var ErrNotConnected = errors.New("node: not connected")

// ErrQueueOverflow is wrapped into the error delivered to a call dropped
// because it exceeded a client-side queue bound (§4.9: service client
// call queue).
var ErrQueueOverflow = errors.New("node: queue overflow")
