package node

import (
	"context"
	"fmt"
	"net"

	"github.com/goros/rosnode/internal/peer"
	"github.com/goros/rosnode/pkg/header"
	"github.com/goros/rosnode/pkg/message"
)

// ServiceHandler processes one request and returns either a response or an
// error; a returned error becomes a failure-tagged response carrying its
// message text (§4.8).
type ServiceHandler func(req message.Message) (message.Message, error)

// ServiceServer accepts connections for one service name, validates each,
// and dispatches requests to a user handler (§4.8).
type ServiceServer struct {
	node    *Node
	name    string
	svc     message.Service
	handler ServiceHandler
}

// AdvertiseService registers a service server (§4.8). The server accepts
// on the node's shared peer listener, routed by the connection header's
// service field.
func (n *Node) AdvertiseService(ctx context.Context, name string, svc message.Service, handler ServiceHandler) (*ServiceServer, error) {
	n.mu.Lock()
	if _, exists := n.serviceServers[name]; exists {
		n.mu.Unlock()
		return nil, fmt.Errorf("node: service %q already advertised on this node", name)
	}
	s := &ServiceServer{node: n, name: name, svc: svc, handler: handler}
	n.serviceServers[name] = s
	n.mu.Unlock()

	serviceURI := "tcp://" + n.PeerAddr()
	if _, err := n.callMaster(ctx, "registerService", []interface{}{n.Name, name, serviceURI, n.SlaveURI()}); err != nil {
		n.mu.Lock()
		delete(n.serviceServers, name)
		n.mu.Unlock()
		return nil, err
	}
	n.logger.Info("registered", "kind", "service", "name", name, "type", svc.Type())
	return s, nil
}

// handleClientConn validates an inbound service-client header and, if
// valid, serves requests from conn until it closes (§4.8).
func (s *ServiceServer) handleClientConn(conn net.Conn, h *header.Header) {
	if err := h.RequireAll(header.KeyCallerID, header.KeyService, header.KeyMD5Sum); err != nil {
		s.node.rejectConn(conn, err.Error())
		return
	}
	service, _ := h.Get(header.KeyService)
	if service != s.name {
		s.node.rejectConn(conn, fmt.Sprintf("service mismatch: got %q, want %q", service, s.name))
		return
	}
	md5, _ := h.Get(header.KeyMD5Sum)
	if !header.MD5Matches(s.svc.MD5Sum(), md5) {
		s.node.rejectConn(conn, "md5sum mismatch")
		return
	}

	resp := header.New()
	resp.Set(header.KeyCallerID, s.node.Name)
	resp.Set(header.KeyMD5Sum, s.svc.MD5Sum())
	resp.Set(header.KeyType, s.svc.Type())
	if err := header.WriteHeader(conn, resp); err != nil {
		conn.Close()
		return
	}

	persistent := h.GetDefault(header.KeyPersistent, "0") == "1"

	fr := peer.NewFrameReader(conn)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			break
		}
		s.handleRequest(conn, payload)
		if !persistent {
			break
		}
	}
	conn.Close()
}

func (s *ServiceServer) handleRequest(conn net.Conn, payload []byte) {
	req := s.svc.NewRequest()
	offset := 0
	if err := req.Deserialize(payload, &offset); err != nil {
		peer.WriteServiceResponse(conn, peer.ServiceResponse{Success: false, Body: []byte("malformed request: " + err.Error())})
		return
	}

	respMsg, err := s.invokeHandler(req)
	if err != nil {
		peer.WriteServiceResponse(conn, peer.ServiceResponse{Success: false, Body: []byte(err.Error())})
		return
	}

	buf, err := respMsg.Serialize(make([]byte, 0, respMsg.GetMessageSize()))
	if err != nil {
		peer.WriteServiceResponse(conn, peer.ServiceResponse{Success: false, Body: []byte("serializing response: " + err.Error())})
		return
	}
	peer.WriteServiceResponse(conn, peer.ServiceResponse{Success: true, Body: buf})
}

// invokeHandler recovers from a panicking handler, turning it into a
// failure response the way §4.8 describes ("service handler exceptions
// become 0-tagged error responses carrying a short message").
func (s *ServiceServer) invokeHandler(req message.Message) (resp message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service handler panic: %v", r)
		}
	}()
	return s.handler(req)
}

// unadvertise tears the service server down: best-effort master
// unregister.
func (s *ServiceServer) unadvertise(ctx context.Context) {
	s.node.mu.Lock()
	delete(s.node.serviceServers, s.name)
	s.node.mu.Unlock()
	s.node.master.Call(ctx, "unregisterService", []interface{}{s.node.Name, s.name})
}

// Unadvertise is the public entry point.
func (s *ServiceServer) Unadvertise(ctx context.Context) { s.unadvertise(ctx) }
