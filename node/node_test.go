package node

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goros/rosnode/internal/masterserver"
	"github.com/goros/rosnode/pkg/message"
	"github.com/goros/rosnode/pkg/message/rospytutorials"
	"github.com/goros/rosnode/pkg/message/stdmsgs"
)

func newTestMaster(t *testing.T) (*masterserver.Registry, *httptest.Server) {
	t.Helper()
	reg := masterserver.NewRegistry(false)
	srv := httptest.NewServer(reg.Handler())
	t.Cleanup(srv.Close)
	return reg, srv
}

func newTestNode(t *testing.T, name, masterURI string) *Node {
	t.Helper()
	n, err := New(name, Options{MasterURI: masterURI, Host: "127.0.0.1"})
	if err != nil {
		t.Fatalf("New(%s): %v", name, err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n.Shutdown(ctx)
	})
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestPubSubLoopbackSynchronous(t *testing.T) {
	_, srv := newTestMaster(t)
	talker := newTestNode(t, "/talker", srv.URL)
	listener := newTestNode(t, "/listener", srv.URL)

	pub, err := talker.Advertise(context.Background(), "/chatter", stdmsgs.NewString(), PublisherOptions{ThrottleMs: -1})
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}

	var mu sync.Mutex
	var received []string
	_, err = listener.Subscribe(context.Background(), "/chatter", stdmsgs.NewString(), func() message.Message { return stdmsgs.NewString() },
		func(msg message.Message) {
			mu.Lock()
			received = append(received, msg.(*stdmsgs.String).Data)
			mu.Unlock()
		}, SubscriberOptions{ThrottleMs: -1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return pub.State() == PublisherReady })

	for i := 0; i < 3; i++ {
		if err := pub.Publish(&stdmsgs.String{Data: fmt.Sprintf("msg-%d", i)}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"msg-0", "msg-1", "msg-2"}
	for i, w := range want {
		if received[i] != w {
			t.Fatalf("received[%d] = %q, want %q (order must match publish order)", i, received[i], w)
		}
	}
}

func TestLatchedPublisherDeliversToNewSubscriberImmediately(t *testing.T) {
	_, srv := newTestMaster(t)
	talker := newTestNode(t, "/talker", srv.URL)
	listener := newTestNode(t, "/listener", srv.URL)

	pub, err := talker.Advertise(context.Background(), "/status", stdmsgs.NewString(), PublisherOptions{Latching: true, ThrottleMs: -1})
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return pub.State() == PublisherReady })

	if err := pub.Publish(&stdmsgs.String{Data: "ready"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	var mu sync.Mutex
	var received []string
	_, err = listener.Subscribe(context.Background(), "/status", stdmsgs.NewString(), func() message.Message { return stdmsgs.NewString() },
		func(msg message.Message) {
			mu.Lock()
			received = append(received, msg.(*stdmsgs.String).Data)
			mu.Unlock()
		}, SubscriberOptions{ThrottleMs: -1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "ready"
	})
}

func TestServiceCallSuccessAndApplicationFailure(t *testing.T) {
	_, srv := newTestMaster(t)
	server := newTestNode(t, "/adder", srv.URL)
	client := newTestNode(t, "/caller", srv.URL)

	_, err := server.AdvertiseService(context.Background(), "/add_two_ints", rospytutorials.AddTwoInts, func(req message.Message) (message.Message, error) {
		r := req.(*rospytutorials.AddTwoIntsRequest)
		if r.A < 0 || r.B < 0 {
			return nil, fmt.Errorf("negative operands not supported")
		}
		return &rospytutorials.AddTwoIntsResponse{Sum: r.A + r.B}, nil
	})
	if err != nil {
		t.Fatalf("AdvertiseService: %v", err)
	}

	sc := client.ServiceClient("/add_two_ints", rospytutorials.AddTwoInts, false, -1)
	resp, err := sc.Call(context.Background(), &rospytutorials.AddTwoIntsRequest{A: 2, B: 3})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.(*rospytutorials.AddTwoIntsResponse).Sum != 5 {
		t.Fatalf("got sum %d, want 5", resp.(*rospytutorials.AddTwoIntsResponse).Sum)
	}

	_, err = sc.Call(context.Background(), &rospytutorials.AddTwoIntsRequest{A: -1, B: 3})
	if err == nil {
		t.Fatalf("expected error for negative operands")
	}
}

func TestPublisherUpdateReconciliationAddsSecondPublisher(t *testing.T) {
	_, srv := newTestMaster(t)
	talker1 := newTestNode(t, "/talker1", srv.URL)
	talker2 := newTestNode(t, "/talker2", srv.URL)
	listener := newTestNode(t, "/listener", srv.URL)

	pub1, err := talker1.Advertise(context.Background(), "/chatter", stdmsgs.NewString(), PublisherOptions{ThrottleMs: -1})
	if err != nil {
		t.Fatalf("Advertise talker1: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return pub1.State() == PublisherReady })

	var mu sync.Mutex
	var received []string
	sub, err := listener.Subscribe(context.Background(), "/chatter", stdmsgs.NewString(), func() message.Message { return stdmsgs.NewString() },
		func(msg message.Message) {
			mu.Lock()
			received = append(received, msg.(*stdmsgs.String).Data)
			mu.Unlock()
		}, SubscriberOptions{ThrottleMs: -1})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.conns) == 1
	})

	pub2, err := talker2.Advertise(context.Background(), "/chatter", stdmsgs.NewString(), PublisherOptions{ThrottleMs: -1})
	if err != nil {
		t.Fatalf("Advertise talker2: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return pub2.State() == PublisherReady })

	waitFor(t, 2*time.Second, func() bool {
		sub.mu.Lock()
		defer sub.mu.Unlock()
		return len(sub.conns) == 2
	})

	if err := pub2.Publish(&stdmsgs.String{Data: "from-talker2"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1 && received[0] == "from-talker2"
	})
}
