package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/goros/rosnode/internal/peer"
	"github.com/goros/rosnode/pkg/header"
	"github.com/goros/rosnode/pkg/message"
)

type serviceCall struct {
	ctx      context.Context
	req      message.Message
	resultCh chan serviceCallResult
}

type serviceCallResult struct {
	resp message.Message
	err  error
}

// ServiceClient resolves a service's URI via the master and calls it over
// a TCP connection, optionally keeping that connection open across calls
// (§4.9). Outstanding calls are queued FIFO and bounded; only one call is
// ever in flight.
type ServiceClient struct {
	node        *Node
	name        string
	svc         message.Service
	persistent  bool
	queueLength int // < 0: unbounded

	mu      sync.Mutex
	queue   []*serviceCall
	running bool
	conn    net.Conn // cached, persistent mode only
}

// ServiceClient creates a client handle for calling name. queueLength
// bounds outstanding calls (§4.9); a negative value means unbounded. The
// node tracks every client it creates so Shutdown can close their cached
// persistent connections.
func (n *Node) ServiceClient(name string, svc message.Service, persistent bool, queueLength int) *ServiceClient {
	c := &ServiceClient{node: n, name: name, svc: svc, persistent: persistent, queueLength: queueLength}
	n.mu.Lock()
	n.serviceClients = append(n.serviceClients, c)
	n.mu.Unlock()
	return c
}

// Call enqueues req and blocks until it completes, is dropped by queue
// overflow, or ctx is canceled (§4.9).
func (c *ServiceClient) Call(ctx context.Context, req message.Message) (message.Message, error) {
	call := &serviceCall{ctx: ctx, req: req, resultCh: make(chan serviceCallResult, 1)}

	c.mu.Lock()
	// queueLength bounds calls WAITING behind the in-flight one (§4.9); the
	// in-flight call (queue index 0 while c.running) never counts against
	// it and is never dropped.
	waitingLen := len(c.queue)
	if c.running {
		waitingLen--
	}
	if c.queueLength >= 0 && waitingLen+1 > c.queueLength {
		dropIdx := 0
		if c.running {
			dropIdx = 1
		}
		if dropIdx >= len(c.queue) {
			// Nothing waiting to drop, so the new call itself is rejected.
			c.mu.Unlock()
			return nil, fmt.Errorf("node: service call to %q dropped: %w", c.name, ErrQueueOverflow)
		}
		dropped := c.queue[dropIdx]
		c.queue = append(c.queue[:dropIdx], c.queue[dropIdx+1:]...)
		dropped.resultCh <- serviceCallResult{err: fmt.Errorf("node: service call to %q dropped: %w", c.name, ErrQueueOverflow)}
	}
	c.queue = append(c.queue, call)
	startRunner := !c.running
	if startRunner {
		c.running = true
	}
	c.mu.Unlock()

	if startRunner {
		go c.run()
	}

	select {
	case res := <-call.resultCh:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *ServiceClient) run() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.running = false
			c.mu.Unlock()
			return
		}
		head := c.queue[0]
		c.mu.Unlock()

		resp, err := c.execute(head.ctx, head.req)

		c.mu.Lock()
		c.queue = c.queue[1:]
		c.mu.Unlock()

		head.resultCh <- serviceCallResult{resp: resp, err: err}
	}
}

func (c *ServiceClient) execute(ctx context.Context, req message.Message) (message.Message, error) {
	conn, fresh, err := c.acquireConn(ctx)
	if err != nil {
		return nil, err
	}

	if fresh {
		reqHeader := header.New()
		reqHeader.Set(header.KeyCallerID, c.node.Name)
		reqHeader.Set(header.KeyService, c.name)
		reqHeader.Set(header.KeyMD5Sum, c.svc.MD5Sum())
		if c.persistent {
			reqHeader.Set(header.KeyPersistent, "1")
		}
		if err := header.WriteHeader(conn, reqHeader); err != nil {
			conn.Close()
			c.clearConn()
			return nil, fmt.Errorf("node: writing service client header: %w", err)
		}
		respHeader, err := header.ReadHeader(conn)
		if err != nil {
			conn.Close()
			c.clearConn()
			return nil, fmt.Errorf("node: reading service server header: %w", err)
		}
		if errMsg, ok := respHeader.Get(header.KeyError); ok {
			conn.Close()
			c.clearConn()
			return nil, fmt.Errorf("node: service server rejected client: %s", errMsg)
		}
		md5, _ := respHeader.Get(header.KeyMD5Sum)
		if !header.MD5Matches(c.svc.MD5Sum(), md5) {
			conn.Close()
			c.clearConn()
			return nil, fmt.Errorf("node: service server md5 mismatch")
		}
	}

	buf, err := req.Serialize(make([]byte, 0, req.GetMessageSize()))
	if err != nil {
		return nil, fmt.Errorf("node: serializing service request: %w", err)
	}
	if err := peer.WriteFrame(conn, buf); err != nil {
		conn.Close()
		c.clearConn()
		return nil, fmt.Errorf("node: sending service request: %w", err)
	}

	svcResp, err := peer.ReadServiceResponse(conn)
	if err != nil {
		conn.Close()
		c.clearConn()
		return nil, fmt.Errorf("node: reading service response: %w", err)
	}

	if !c.persistent {
		conn.Close()
		c.clearConn()
	}

	if !svcResp.Success {
		return nil, fmt.Errorf("node: service call failed: %s", string(svcResp.Body))
	}

	resp := c.svc.NewResponse()
	offset := 0
	if err := resp.Deserialize(svcResp.Body, &offset); err != nil {
		return nil, fmt.Errorf("node: deserializing service response: %w", err)
	}
	return resp, nil
}

// acquireConn returns the cached persistent connection if one exists, else
// dials a new connection via the URI looked up from the master. fresh
// reports whether the header handshake must still happen.
func (c *ServiceClient) acquireConn(ctx context.Context) (net.Conn, bool, error) {
	c.mu.Lock()
	if c.persistent && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, false, nil
	}
	c.mu.Unlock()

	resp, err := c.node.callMaster(ctx, "lookupService", []interface{}{c.node.Name, c.name})
	if err != nil {
		return nil, false, err
	}
	var uri string
	if err := json.Unmarshal(resp.Value, &uri); err != nil {
		return nil, false, fmt.Errorf("node: decoding service uri: %w", err)
	}
	addr, err := parsePeerURI(uri)
	if err != nil {
		return nil, false, err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, false, fmt.Errorf("node: dialing service %q at %s: %w: %w", c.name, addr, ErrNotConnected, err)
	}

	if c.persistent {
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
	}
	return conn, true, nil
}

func (c *ServiceClient) clearConn() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

// Close closes any cached persistent connection.
func (c *ServiceClient) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
