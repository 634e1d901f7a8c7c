// Package node implements the per-process runtime described in §4.10 of
// the core spec: identity, master registration, the shared TCPROS peer
// listener, the slave RPC server, and the lifecycle that ties publishers,
// subscribers, and service endpoints together.
//
// The accept-loop/dispatch-by-header-field shape is grounded on the
// broker's single TCP listener routing requests to topics/pipes by
// decoded method name; here routing is by the peer connection header's
// topic/service field instead of a JSON method field.
package node

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/goros/rosnode/internal/masterclient"
	"github.com/goros/rosnode/internal/rosenv"
	"github.com/goros/rosnode/internal/spinner"
	"github.com/goros/rosnode/pkg/header"
)

// Options configures a new Node. Zero value resolves everything from the
// environment (§4.10, §6).
type Options struct {
	MasterURI  string // explicit master endpoint; falls back to ROS_MASTER_URI
	Host       string // advertised host; falls back to ROS_HOSTNAME/ROS_IP/discovery
	PeerPort   int    // TCPROS port; 0 picks an ephemeral port
	SlavePort  int    // slave RPC HTTP port; 0 picks an ephemeral port
	SpinRateHz int    // spinner tick rate; 0 selects spinner.DefaultRateHz
	Debug      bool
	Logger     *slog.Logger // structured events (connection/disconnect/registered); defaults to slog.Default()
}

// Node is the runtime owning every publisher, subscriber, service
// endpoint, the master client, the slave RPC server, and the spinner for
// one process (§3: "the node runtime owns all publishers, subscribers,
// service servers/clients, the master client, the slave RPC server, and
// the spinner").
type Node struct {
	Name string
	Host string
	PID  int

	masterURI string
	master    *masterclient.Client
	spin      *spinner.Spinner
	debug     bool
	logger    *slog.Logger

	peerListener net.Listener
	peerPort     int

	slaveListener net.Listener
	slaveServer   *http.Server
	slaveURI      string

	mu             sync.Mutex
	publishers     map[string]*Publisher
	subscribers    map[string]*Subscriber
	serviceServers map[string]*ServiceServer
	serviceClients []*ServiceClient
	shutdown       bool
}

// New creates and starts a node: it binds the peer listener and the slave
// RPC server, then returns before any topic/service registration happens
// (registration is lazy, per §4.10, done by Advertise/Subscribe/
// AdvertiseService).
func New(name string, opts Options) (*Node, error) {
	if name == "" || name[0] != '/' {
		return nil, fmt.Errorf("node: name %q must begin with '/'", name)
	}
	masterURI, err := rosenv.MasterURI(opts.MasterURI)
	if err != nil {
		return nil, err
	}
	host := rosenv.AdvertiseHost(opts.Host)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	n := &Node{
		Name:           name,
		Host:           host,
		PID:            os.Getpid(),
		masterURI:      masterURI,
		master:         masterclient.New(masterURI),
		spin:           spinner.New(opts.SpinRateHz),
		debug:          opts.Debug,
		logger:         logger,
		publishers:     make(map[string]*Publisher),
		subscribers:    make(map[string]*Subscriber),
		serviceServers: make(map[string]*ServiceServer),
	}

	if err := n.startPeerListener(opts.PeerPort); err != nil {
		return nil, err
	}
	if err := n.startSlaveServer(opts.SlavePort); err != nil {
		n.peerListener.Close()
		return nil, err
	}

	n.logf("started name=%s host=%s peer=%d slave=%s", n.Name, n.Host, n.peerPort, n.slaveURI)
	n.logger.Info("node started", "name", n.Name, "host", n.Host, "peer_port", n.peerPort, "slave_uri", n.slaveURI)
	return n, nil
}

func (n *Node) logf(format string, args ...interface{}) {
	if n.debug {
		log.Printf("[node %s] "+format, append([]interface{}{n.Name}, args...)...)
	}
}

// SlaveURI is the HTTP endpoint this node's slave RPC server answers on.
func (n *Node) SlaveURI() string { return n.slaveURI }

// PeerAddr is the "host:port" this node's shared TCPROS listener accepts
// publisher/service connections on.
func (n *Node) PeerAddr() string { return fmt.Sprintf("%s:%d", n.Host, n.peerPort) }

func (n *Node) startPeerListener(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("node: binding peer listener: %w", err)
	}
	n.peerListener = ln
	n.peerPort = ln.Addr().(*net.TCPAddr).Port
	go n.acceptPeerConnections()
	return nil
}

// acceptPeerConnections is the node's single TCPROS accept loop (§4.10:
// "publishers advertise tcp://<host>:<publisher_accept_port>"): every
// publisher and service server on this node shares one listening port,
// routed by the connection header's topic/service field.
func (n *Node) acceptPeerConnections() {
	for {
		conn, err := n.peerListener.Accept()
		if err != nil {
			return // listener closed during shutdown
		}
		go n.routePeerConnection(conn)
	}
}

func (n *Node) routePeerConnection(conn net.Conn) {
	h, err := header.ReadHeader(conn)
	if err != nil {
		n.logf("peer connection header read failed: %v", err)
		conn.Close()
		return
	}

	if topic, ok := h.Get(header.KeyTopic); ok {
		n.mu.Lock()
		pub, found := n.publishers[topic]
		n.mu.Unlock()
		if !found {
			n.rejectConn(conn, fmt.Sprintf("no publisher for topic %q", topic))
			return
		}
		pub.handleSubscriberConn(conn, h)
		return
	}

	if service, ok := h.Get(header.KeyService); ok {
		n.mu.Lock()
		srv, found := n.serviceServers[service]
		n.mu.Unlock()
		if !found {
			n.rejectConn(conn, fmt.Sprintf("no service server for %q", service))
			return
		}
		srv.handleClientConn(conn, h)
		return
	}

	n.rejectConn(conn, "connection header carries neither topic nor service")
}

func (n *Node) rejectConn(conn net.Conn, msg string) {
	header.WriteHeader(conn, header.ErrorHeader(msg))
	conn.Close()
}

func (n *Node) startSlaveServer(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("node: binding slave listener: %w", err)
	}
	n.slaveListener = ln
	n.slaveURI = fmt.Sprintf("http://%s:%d/", n.Host, ln.Addr().(*net.TCPAddr).Port)

	api := &slaveAPI{node: n}
	n.slaveServer = &http.Server{Handler: api.Handler()}
	go n.slaveServer.Serve(ln)
	return nil
}

// callMaster is a small convenience wrapper around masterclient.Call that
// returns a plain error for non-success application responses.
func (n *Node) callMaster(ctx context.Context, method string, params interface{}) (masterclient.Response, error) {
	resp, err := n.master.Call(ctx, method, params)
	if err != nil {
		return resp, fmt.Errorf("node: master call %s: %w", method, err)
	}
	if !resp.Succeeded() {
		return resp, fmt.Errorf("node: master rejected %s: %s", method, resp.StatusMessage)
	}
	return resp, nil
}

// Shutdown tears the node down per §4.10: unregister all endpoints
// best-effort, close peer sockets, stop the slave server, disarm the
// spinner.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.shutdown {
		n.mu.Unlock()
		return nil
	}
	n.shutdown = true
	pubs := make([]*Publisher, 0, len(n.publishers))
	for _, p := range n.publishers {
		pubs = append(pubs, p)
	}
	subs := make([]*Subscriber, 0, len(n.subscribers))
	for _, s := range n.subscribers {
		subs = append(subs, s)
	}
	srvs := make([]*ServiceServer, 0, len(n.serviceServers))
	for _, s := range n.serviceServers {
		srvs = append(srvs, s)
	}
	clients := make([]*ServiceClient, len(n.serviceClients))
	copy(clients, n.serviceClients)
	n.mu.Unlock()

	for _, p := range pubs {
		p.unadvertise(ctx)
	}
	for _, s := range subs {
		s.unsubscribe(ctx)
	}
	for _, s := range srvs {
		s.unadvertise(ctx)
	}
	for _, c := range clients {
		c.Close()
	}

	n.peerListener.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n.slaveServer.Shutdown(shutdownCtx)
	n.spin.Stop()
	n.master.Stop()
	n.logf("shutdown complete")
	return nil
}
