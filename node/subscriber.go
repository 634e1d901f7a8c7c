package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/goros/rosnode/internal/peer"
	"github.com/goros/rosnode/pkg/header"
	"github.com/goros/rosnode/pkg/message"
)

// SubscriberOptions configures Node.Subscribe.
type SubscriberOptions struct {
	QueueSize  int
	ThrottleMs int // < 0 dispatches synchronously inline with the reader goroutine
}

type publisherConn struct {
	uri       string
	conn      net.Conn
	spinnerID string
}

// Subscriber discovers publishers from the master and maintains one TCP
// connection per publisher URI, decoding inbound frames into typed
// messages handed to the user callback (§4.7).
type Subscriber struct {
	node       *Node
	topic      string
	sample     message.Message
	factory    message.Factory
	callback   func(message.Message)
	queueSize  int
	throttleMs int

	mu    sync.Mutex
	conns map[string]*publisherConn // publisher URI -> connection
}

type subscriberDeliveryClient struct{ sub *Subscriber }

func (d subscriberDeliveryClient) Deliver(batch []interface{}) {
	for _, item := range batch {
		if msg, ok := item.(message.Message); ok {
			d.sub.callback(msg)
		}
	}
}

// Subscribe registers a subscriber for topic, connects to every currently
// known publisher, and delivers deserialized messages to callback (§4.7).
// factory must produce instances of the same concrete type as sample.
func (n *Node) Subscribe(ctx context.Context, topic string, sample message.Message, factory message.Factory, callback func(message.Message), opts SubscriberOptions) (*Subscriber, error) {
	n.mu.Lock()
	if _, exists := n.subscribers[topic]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("node: topic %q already subscribed on this node", topic)
	}
	s := &Subscriber{
		node:       n,
		topic:      topic,
		sample:     sample,
		factory:    factory,
		callback:   callback,
		queueSize:  opts.QueueSize,
		throttleMs: opts.ThrottleMs,
		conns:      make(map[string]*publisherConn),
	}
	n.subscribers[topic] = s
	n.mu.Unlock()

	resp, err := n.callMaster(ctx, "registerSubscriber", []interface{}{n.Name, topic, n.SlaveURI()})
	if err != nil {
		n.mu.Lock()
		delete(n.subscribers, topic)
		n.mu.Unlock()
		return nil, err
	}

	var pubURIs []string
	if len(resp.Value) > 0 {
		json.Unmarshal(resp.Value, &pubURIs)
	}
	for _, uri := range pubURIs {
		s.connect(uri)
	}
	n.logger.Info("registered", "kind", "subscriber", "topic", topic, "type", sample.DataType())
	return s, nil
}

// connect opens a TCP connection to a publisher URI, exchanges headers,
// and starts the inbound frame reader goroutine.
func (s *Subscriber) connect(uri string) {
	s.mu.Lock()
	if _, exists := s.conns[uri]; exists {
		s.mu.Unlock()
		return
	}
	pc := &publisherConn{uri: uri, spinnerID: "sub:" + s.topic + "#" + uri}
	s.conns[uri] = pc
	s.mu.Unlock()

	addr, err := parsePeerURI(uri)
	if err != nil {
		s.node.logf("subscriber %s: bad publisher uri %q: %v", s.topic, uri, err)
		return
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		s.node.logf("subscriber %s: dial %s failed: %v", s.topic, addr, err)
		s.mu.Lock()
		delete(s.conns, uri)
		s.mu.Unlock()
		return
	}
	pc.conn = conn

	req := header.New()
	req.Set(header.KeyCallerID, s.node.Name)
	req.Set(header.KeyMD5Sum, s.sample.MD5Sum())
	req.Set(header.KeyTopic, s.topic)
	req.Set(header.KeyType, s.sample.DataType())
	if err := header.WriteHeader(conn, req); err != nil {
		conn.Close()
		return
	}

	respHeader, err := header.ReadHeader(conn)
	if err != nil {
		s.node.logf("subscriber %s: reading publisher response header: %v", s.topic, err)
		conn.Close()
		s.mu.Lock()
		delete(s.conns, uri)
		s.mu.Unlock()
		return
	}
	if errMsg, ok := respHeader.Get(header.KeyError); ok {
		s.node.logf("subscriber %s: publisher %s rejected: %s", s.topic, uri, errMsg)
		conn.Close()
		s.mu.Lock()
		delete(s.conns, uri)
		s.mu.Unlock()
		return
	}
	md5, _ := respHeader.Get(header.KeyMD5Sum)
	if !header.MD5Matches(s.sample.MD5Sum(), md5) {
		s.node.logf("subscriber %s: publisher %s md5 mismatch", s.topic, uri)
		conn.Close()
		s.mu.Lock()
		delete(s.conns, uri)
		s.mu.Unlock()
		return
	}

	if s.throttleMs >= 0 {
		s.node.spin.Register(pc.spinnerID, s.queueSize, time.Duration(s.throttleMs)*time.Millisecond, subscriberDeliveryClient{sub: s})
	}

	go s.readLoop(pc)
}

func (s *Subscriber) readLoop(pc *publisherConn) {
	fr := peer.NewFrameReader(pc.conn)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			break
		}
		msg := s.factory()
		offset := 0
		if err := msg.Deserialize(payload, &offset); err != nil {
			s.node.logf("subscriber %s: deserialize error from %s: %v (frame dropped, connection kept)", s.topic, pc.uri, err)
			continue
		}
		if s.throttleMs < 0 {
			s.callback(msg)
		} else {
			s.node.spin.Push(pc.spinnerID, msg)
		}
	}

	s.mu.Lock()
	delete(s.conns, pc.uri)
	s.mu.Unlock()
	s.node.spin.Deregister(pc.spinnerID)
	pc.conn.Close()
}

// Reconcile is called by the node's slave API on publisherUpdate (§4.7):
// connect to new URIs, close connections for removed URIs.
func (s *Subscriber) Reconcile(newURIs []string) {
	want := make(map[string]struct{}, len(newURIs))
	for _, u := range newURIs {
		want[u] = struct{}{}
	}

	s.mu.Lock()
	var toClose []*publisherConn
	for uri, pc := range s.conns {
		if _, keep := want[uri]; !keep {
			toClose = append(toClose, pc)
		}
	}
	s.mu.Unlock()

	for _, pc := range toClose {
		s.mu.Lock()
		delete(s.conns, pc.uri)
		s.mu.Unlock()
		if pc.conn != nil {
			pc.conn.Close()
		}
		s.node.spin.Deregister(pc.spinnerID)
	}

	for uri := range want {
		s.mu.Lock()
		_, have := s.conns[uri]
		s.mu.Unlock()
		if !have {
			s.connect(uri)
		}
	}
}

// unsubscribe tears the subscriber down: close every publisher connection,
// deregister spinner clients, best-effort master unregister.
func (s *Subscriber) unsubscribe(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*publisherConn, 0, len(s.conns))
	for _, pc := range s.conns {
		conns = append(conns, pc)
	}
	s.conns = make(map[string]*publisherConn)
	s.mu.Unlock()

	for _, pc := range conns {
		if pc.conn != nil {
			pc.conn.Close()
		}
		s.node.spin.Deregister(pc.spinnerID)
	}

	s.node.mu.Lock()
	delete(s.node.subscribers, s.topic)
	s.node.mu.Unlock()

	s.node.master.Call(ctx, "unregisterSubscriber", []interface{}{s.node.Name, s.topic})
}

// Unsubscribe is the public entry point mirroring Publisher.Unadvertise.
func (s *Subscriber) Unsubscribe(ctx context.Context) { s.unsubscribe(ctx) }

// parsePeerURI extracts "host:port" from a "tcp://host:port" publisher URI.
func parsePeerURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parsing publisher uri: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("publisher uri %q has no host:port", uri)
	}
	return u.Host, nil
}
