package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goros/rosnode/internal/peer"
	"github.com/goros/rosnode/pkg/header"
	"github.com/goros/rosnode/pkg/message"
)

// PublisherState tracks the advertise lifecycle (§4.6).
type PublisherState int

const (
	PublisherUnregistered PublisherState = iota
	PublisherRegistering
	PublisherReady
	PublisherShutdown
)

// PublisherOptions configures Node.Advertise.
type PublisherOptions struct {
	Latching   bool
	TCPNoDelay bool
	QueueSize  int // spinner queue bound; ignored if ThrottleMs < 0
	ThrottleMs int // < 0 synchronous, 0 next tick, > 0 minimum interval
}

// Publisher owns every subscriber socket accepted for one topic and
// broadcasts serialized messages to all of them (§4.6).
type Publisher struct {
	node       *Node
	topic      string
	sample     message.Message // used only for datatype/md5/definition
	latching   bool
	tcpNoDelay bool
	queueSize  int
	throttleMs int

	mu        sync.Mutex
	state     PublisherState
	subs      map[net.Conn]string // conn -> connection ID, for correlating connect/disconnect log lines
	lastSent  []byte
	spinnerID string
}

// Advertise creates and registers a publisher for topic (§4.6). sample is
// used only to read the type's datatype/md5sum/messageDefinition; publish
// a different value of the same type with Publish.
func (n *Node) Advertise(ctx context.Context, topic string, sample message.Message, opts PublisherOptions) (*Publisher, error) {
	n.mu.Lock()
	if _, exists := n.publishers[topic]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("node: topic %q already advertised on this node", topic)
	}
	p := &Publisher{
		node:       n,
		topic:      topic,
		sample:     sample,
		latching:   opts.Latching,
		tcpNoDelay: opts.TCPNoDelay,
		queueSize:  opts.QueueSize,
		throttleMs: opts.ThrottleMs,
		state:      PublisherRegistering,
		subs:       make(map[net.Conn]string),
		spinnerID:  "pub:" + topic,
	}
	n.publishers[topic] = p
	n.mu.Unlock()

	if p.throttleMs >= 0 {
		n.spin.Register(p.spinnerID, p.queueSize, time.Duration(p.throttleMs)*time.Millisecond, p)
	}

	// The master hands the third parameter to subscribers as this
	// publisher's URI, and they dial it directly, so it is the shared
	// TCPROS peer address (the same shape AdvertiseService registers).
	publisherURI := "tcp://" + n.PeerAddr()
	_, err := n.callMaster(ctx, "registerPublisher", []interface{}{n.Name, topic, publisherURI, n.SlaveURI()})
	if err != nil {
		n.mu.Lock()
		delete(n.publishers, topic)
		n.mu.Unlock()
		return nil, err
	}

	p.mu.Lock()
	p.state = PublisherReady
	p.mu.Unlock()
	n.logger.Info("registered", "kind", "publisher", "topic", topic, "type", sample.DataType())
	return p, nil
}

// State returns the publisher's current lifecycle state.
func (p *Publisher) State() PublisherState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// handleSubscriberConn validates an inbound subscriber connection and, if
// valid, adds it to the subscriber set (§4.6).
func (p *Publisher) handleSubscriberConn(conn net.Conn, h *header.Header) {
	if err := h.RequireAll(header.KeyCallerID, header.KeyMD5Sum, header.KeyTopic, header.KeyType); err != nil {
		p.node.rejectConn(conn, err.Error())
		return
	}
	topic, _ := h.Get(header.KeyTopic)
	if topic != p.topic {
		p.node.rejectConn(conn, fmt.Sprintf("topic mismatch: got %q, want %q", topic, p.topic))
		return
	}
	md5, _ := h.Get(header.KeyMD5Sum)
	if !header.MD5Matches(p.sample.MD5Sum(), md5) {
		p.node.rejectConn(conn, "md5sum mismatch")
		return
	}
	typ, _ := h.Get(header.KeyType)
	if !header.TypeMatches(p.sample.DataType(), typ) {
		p.node.rejectConn(conn, "type mismatch")
		return
	}

	resp := header.New()
	resp.Set(header.KeyCallerID, p.node.Name)
	resp.Set(header.KeyMD5Sum, p.sample.MD5Sum())
	resp.Set(header.KeyType, p.sample.DataType())
	if p.latching {
		resp.Set(header.KeyLatching, "1")
	}
	if err := header.WriteHeader(conn, resp); err != nil {
		conn.Close()
		return
	}

	if p.tcpNoDelay {
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
	}

	connID := uuid.NewString()
	p.mu.Lock()
	p.subs[conn] = connID
	latched := p.latching
	lastSent := p.lastSent
	p.mu.Unlock()
	p.node.logf("publisher %s: subscriber connected from %s", p.topic, conn.RemoteAddr())
	p.node.logger.Info("connection", "topic", p.topic, "remote", conn.RemoteAddr().String(), "conn_id", connID)

	if latched && lastSent != nil {
		if err := peer.WriteFrame(conn, lastSent); err != nil {
			p.dropSubscriber(conn)
			return
		}
	}

	go p.watchSubscriber(conn)
}

// watchSubscriber blocks reading from conn (subscribers send nothing after
// the header, so any read returning is disconnect/error) and removes the
// socket from the subscriber set once it ends.
func (p *Publisher) watchSubscriber(conn net.Conn) {
	buf := make([]byte, 1)
	conn.Read(buf) //nolint: errcheck -- any return (EOF or error) means disconnect
	p.dropSubscriber(conn)
}

func (p *Publisher) dropSubscriber(conn net.Conn) {
	p.mu.Lock()
	connID, existed := p.subs[conn]
	delete(p.subs, conn)
	p.mu.Unlock()
	if existed {
		conn.Close()
		p.node.logf("publisher %s: subscriber disconnected %s", p.topic, conn.RemoteAddr())
		p.node.logger.Info("disconnect", "topic", p.topic, "remote", conn.RemoteAddr().String(), "conn_id", connID)
	}
}

// Publish serializes msg and delivers it to every connected subscriber,
// either synchronously or via the spinner depending on ThrottleMs (§4.4,
// §4.6).
func (p *Publisher) Publish(msg message.Message) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	if state != PublisherReady {
		return fmt.Errorf("node: publisher %q not ready", p.topic)
	}

	if p.throttleMs < 0 {
		return p.broadcast(msg)
	}
	p.node.spin.Push(p.spinnerID, msg)
	return nil
}

// Deliver implements spinner.Client: it is invoked by the spinner with a
// batch of queued messages, serializing and broadcasting each in order
// (§4.6: "serializes once per batch per message").
func (p *Publisher) Deliver(batch []interface{}) {
	for _, item := range batch {
		msg, ok := item.(message.Message)
		if !ok {
			continue
		}
		if err := p.broadcast(msg); err != nil {
			p.node.logf("publisher %s: broadcast error: %v", p.topic, err)
		}
	}
}

func (p *Publisher) broadcast(msg message.Message) error {
	buf, err := msg.Serialize(make([]byte, 0, msg.GetMessageSize()))
	if err != nil {
		return fmt.Errorf("node: serializing message for topic %q: %w", p.topic, err)
	}

	p.mu.Lock()
	if p.latching {
		p.lastSent = buf
	}
	conns := make([]net.Conn, 0, len(p.subs))
	for c := range p.subs {
		conns = append(conns, c)
	}
	p.mu.Unlock()

	for _, c := range conns {
		if err := peer.WriteFrame(c, buf); err != nil {
			p.node.logf("publisher %s: write to %s failed: %v", p.topic, c.RemoteAddr(), err)
			p.dropSubscriber(c)
		}
	}
	return nil
}

// unadvertise tears the publisher down: best-effort master unregister,
// close every subscriber socket, deregister from the spinner.
func (p *Publisher) unadvertise(ctx context.Context) {
	p.mu.Lock()
	p.state = PublisherShutdown
	conns := make([]net.Conn, 0, len(p.subs))
	for c := range p.subs {
		conns = append(conns, c)
	}
	p.subs = make(map[net.Conn]string)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	p.node.spin.Deregister(p.spinnerID)

	p.node.mu.Lock()
	delete(p.node.publishers, p.topic)
	p.node.mu.Unlock()

	p.node.master.Call(ctx, "unregisterPublisher", []interface{}{p.node.Name, p.topic, p.node.SlaveURI()})
}

// Unadvertise is the public entry point for the unadvertise half of the
// advertise/unadvertise pair.
func (p *Publisher) Unadvertise(ctx context.Context) { p.unadvertise(ctx) }
