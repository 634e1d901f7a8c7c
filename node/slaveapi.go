package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// slaveAPI answers the per-node RPC surface a master or a peer calls
// (§4.10): getBusStats, getBusInfo, getMasterUri, shutdown, getPid,
// getSubscriptions, getPublications, paramUpdate, publisherUpdate,
// requestTopic. It speaks the same `[method, params]` ->
// `[statusCode, statusMessage, value]` convention as internal/masterserver
// and internal/masterclient.
type slaveAPI struct {
	node *Node
}

func (a *slaveAPI) Handler() http.Handler {
	return http.HandlerFunc(a.serveHTTP)
}

func (a *slaveAPI) serveHTTP(w http.ResponseWriter, req *http.Request) {
	var envelope [2]json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
		writeSlaveTuple(w, 0, fmt.Sprintf("malformed request: %v", err), nil)
		return
	}
	var method string
	if err := json.Unmarshal(envelope[0], &method); err != nil {
		writeSlaveTuple(w, 0, "malformed method", nil)
		return
	}
	var params []json.RawMessage
	json.Unmarshal(envelope[1], &params)

	code, msg, value := a.dispatch(method, params)
	writeSlaveTuple(w, code, msg, value)
}

func writeSlaveTuple(w http.ResponseWriter, code int, msg string, value interface{}) {
	body, err := json.Marshal([3]interface{}{code, msg, value})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func slaveStr(raw json.RawMessage) string {
	var s string
	json.Unmarshal(raw, &s)
	return s
}

func (a *slaveAPI) dispatch(method string, params []json.RawMessage) (int, string, interface{}) {
	get := func(i int) json.RawMessage {
		if i < len(params) {
			return params[i]
		}
		return nil
	}
	n := a.node

	switch method {
	case "getMasterUri":
		return 1, "master uri", n.masterURI

	case "getPid":
		return 1, "pid", n.PID

	case "getBusStats":
		return 1, "bus stats", [3]interface{}{[]interface{}{}, []interface{}{}, []interface{}{}}

	case "getBusInfo":
		return 1, "bus info", a.busInfo()

	case "getSubscriptions":
		n.mu.Lock()
		defer n.mu.Unlock()
		var out [][2]string
		for topic, s := range n.subscribers {
			out = append(out, [2]string{topic, s.sample.DataType()})
		}
		return 1, "subscriptions", out

	case "getPublications":
		n.mu.Lock()
		defer n.mu.Unlock()
		var out [][2]string
		for topic, p := range n.publishers {
			out = append(out, [2]string{topic, p.sample.DataType()})
		}
		return 1, "publications", out

	case "paramUpdate":
		// Parameter propagation is outside this core's scope; acknowledge
		// so callers following the standard slave API don't treat it as a
		// hard failure.
		return 1, "ack", nil

	case "publisherUpdate":
		topic := slaveStr(get(0))
		var uris []string
		json.Unmarshal(get(1), &uris)
		n.mu.Lock()
		sub, ok := n.subscribers[topic]
		n.mu.Unlock()
		if !ok {
			return -1, fmt.Sprintf("not subscribed to %q", topic), nil
		}
		sub.Reconcile(uris)
		return 1, "reconciled", nil

	case "requestTopic":
		topic := slaveStr(get(0))
		n.mu.Lock()
		_, ok := n.publishers[topic]
		n.mu.Unlock()
		if !ok {
			return -1, fmt.Sprintf("not advertising %q", topic), nil
		}
		return 1, "TCPROS", []interface{}{"TCPROS", n.Host, n.peerPort}

	case "shutdown":
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			n.Shutdown(ctx)
		}()
		return 1, "shutting down", nil

	default:
		return 0, fmt.Sprintf("unknown method %q", method), nil
	}
}

func (a *slaveAPI) busInfo() []interface{} {
	n := a.node
	n.mu.Lock()
	defer n.mu.Unlock()
	var info []interface{}
	for topic := range n.publishers {
		info = append(info, []interface{}{0, n.Name, "o", "TCPROS", topic})
	}
	for topic := range n.subscribers {
		info = append(info, []interface{}{0, n.Name, "i", "TCPROS", topic})
	}
	return info
}
