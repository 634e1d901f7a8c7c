package masterclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func writeTuple(w http.ResponseWriter, code int, msg string, value interface{}) {
	body, _ := json.Marshal([3]interface{}{code, msg, value})
	w.Write(body)
}

func TestSuccessfulCallReturnsValue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTuple(w, 1, "success", "caller-uri")
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Call(context.Background(), "registerPublisher", []string{"/chatter"})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.Succeeded() || resp.StatusMessage != "success" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestApplicationErrorIsDefinitiveNotRetried(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		writeTuple(w, 0, "topic already in use", nil)
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Call(context.Background(), "registerPublisher", nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Succeeded() {
		t.Fatalf("expected application failure, got success")
	}
	mu.Lock()
	n := calls
	mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one attempt for a definitive application error, got %d", n)
	}
}

func TestConnectionRefusedRetriesWithBackoffThenSucceeds(t *testing.T) {
	// Reserve a port, then close the listener so the address refuses
	// connections, mirroring §8 scenario 4 ("kill requests are refused").
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New("http://" + addr + "/")

	var delays []time.Duration
	var mu sync.Mutex
	fireImmediately := make(chan time.Time)
	close(fireImmediately)
	c.sleep = func(d time.Duration) <-chan time.Time {
		mu.Lock()
		delays = append(delays, d)
		mu.Unlock()
		return fireImmediately
	}

	// Bring a real listener up on the same address after a few failed
	// attempts by swapping the client's endpoint once enough retries have
	// been observed. We can't easily rebind the same port deterministically
	// across platforms, so instead verify the retry classification and
	// schedule directly: spin up a second httptest server and redirect the
	// client's endpoint to it once several refused attempts are logged.
	var redirected bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeTuple(w, 1, "ok", nil)
	}))
	defer srv.Close()

	done := make(chan struct{})
	go func() {
		for {
			mu.Lock()
			n := len(delays)
			mu.Unlock()
			if n >= 3 && !redirected {
				c.mu.Lock()
				c.endpoint = srv.URL
				c.mu.Unlock()
				redirected = true
			}
			select {
			case <-done:
				return
			default:
			}
			time.Sleep(time.Millisecond)
		}
	}()

	resp, err := c.Call(context.Background(), "registerPublisher", nil)
	close(done)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.Succeeded() {
		t.Fatalf("expected eventual success, got %+v", resp)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delays) < 3 {
		t.Fatalf("expected at least 3 backoff delays, got %d", len(delays))
	}
	want := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 2 * time.Millisecond}
	for i, w := range want {
		if delays[i] != w {
			t.Fatalf("delay[%d] = %v, want %v (schedule %v)", i, delays[i], w, delays)
		}
	}
	if c.backoff != 0 {
		t.Fatalf("backoff index should reset to 0 after success, got %d", c.backoff)
	}
}

func TestCallsToSameClientAreFIFO(t *testing.T) {
	var mu sync.Mutex
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req [2]json.RawMessage
		json.NewDecoder(r.Body).Decode(&req)
		var method string
		json.Unmarshal(req[0], &method)
		mu.Lock()
		order = append(order, method)
		mu.Unlock()
		writeTuple(w, 1, "ok", nil)
	}))
	defer srv.Close()

	c := New(srv.URL)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		method := fmt.Sprintf("call-%d", i)
		go func() {
			defer wg.Done()
			if _, err := c.Call(context.Background(), method, nil); err != nil {
				t.Errorf("Call(%s): %v", method, err)
			}
		}()
		time.Sleep(2 * time.Millisecond) // encourage enqueue order
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("expected 3 calls recorded, got %d: %v", len(order), order)
	}
	for i, m := range order {
		if want := fmt.Sprintf("call-%d", i); m != want {
			t.Fatalf("order[%d] = %q, want %q (calls must reach the master in enqueue order): %v", i, m, want, order)
		}
	}
}

func TestStopRejectsPendingCalls(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New("http://" + addr + "/")
	c.sleep = func(d time.Duration) <-chan time.Time {
		ch := make(chan time.Time)
		return ch // never fires, simulating a call stuck retrying
	}

	resultCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "registerPublisher", nil)
		resultCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	c.Stop()

	select {
	case err := <-resultCh:
		if !errors.Is(err, ErrShuttingDown) {
			t.Fatalf("expected ErrShuttingDown after Stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Call did not return after Stop")
	}
}
