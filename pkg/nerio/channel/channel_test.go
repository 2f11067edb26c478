package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

type readResult struct {
	data []byte
	err  error
}

// fakeTransport is a scriptable in-memory transport.
type fakeTransport struct {
	mu          sync.Mutex
	inbound     chan readResult
	written     [][]byte
	connects    int
	connectErrs []error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{inbound: make(chan readResult, 16)}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-f.inbound:
		return r.data, r.err
	}
}

func (f *fakeTransport) Write(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) push(frame any) {
	data, _ := json.Marshal(frame)
	f.inbound <- readResult{data: data}
}

func (f *fakeTransport) pushError(err error) {
	f.inbound <- readResult{err: err}
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) writtenFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func lastResponse(t *testing.T, ft *fakeTransport) ResponseFrame {
	t.Helper()
	frames := ft.writtenFrames()
	if len(frames) == 0 {
		t.Fatal("no frames written")
	}
	var resp ResponseFrame
	if err := json.Unmarshal(frames[len(frames)-1], &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestChannelDispatchAndRespond(t *testing.T) {
	ft := newFakeTransport()
	ch := New(ft, time.Hour, nil)

	if err := ch.Handle(RequestGetConfig, func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		return map[string]string{"name": "test"}, nil
	}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ch.Stop()

	if got := ch.State(); got != StateConnected {
		t.Errorf("State = %v, want connected", got)
	}

	ft.push(Frame{Type: RequestGetConfig, RequestID: "req-1"})

	waitFor(t, "response frame", func() bool { return len(ft.writtenFrames()) > 0 })

	resp := lastResponse(t, ft)
	if resp.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", resp.RequestID)
	}
	if !resp.Success {
		t.Errorf("Success = false, want true (error: %s)", resp.Error)
	}
}

func TestChannelDuplicateHandlerRegistration(t *testing.T) {
	ch := New(newFakeTransport(), time.Hour, nil)

	h := func(_ context.Context, _ string, _ json.RawMessage) (any, error) { return nil, nil }
	if err := ch.Handle(RequestCommand, h); err != nil {
		t.Fatalf("first Handle failed: %v", err)
	}
	if err := ch.Handle(RequestCommand, h); err == nil {
		t.Fatal("expected error for duplicate handler registration")
	}
}

func TestChannelHandlerErrorIsSanitized(t *testing.T) {
	ft := newFakeTransport()
	ch := New(ft, time.Hour, nil)

	secret := errors.New("db password is hunter2")
	_ = ch.Handle(RequestGetSession, func(_ context.Context, _ string, _ json.RawMessage) (any, error) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, secret)
	})

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ch.Stop()

	ft.push(Frame{Type: RequestGetSession, RequestID: "req-2"})
	waitFor(t, "error frame", func() bool { return len(ft.writtenFrames()) > 0 })

	resp := lastResponse(t, ft)
	if resp.Success {
		t.Error("Success = true, want false")
	}
	if resp.Error != "Invalid request parameters" {
		t.Errorf("Error = %q, want sanitized message", resp.Error)
	}
}

func TestChannelUnknownRequestType(t *testing.T) {
	ft := newFakeTransport()
	ch := New(ft, time.Hour, nil)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ch.Stop()

	ft.push(Frame{Type: RequestType("bogus"), RequestID: "req-3"})
	waitFor(t, "error frame", func() bool { return len(ft.writtenFrames()) > 0 })

	resp := lastResponse(t, ft)
	if resp.Success {
		t.Error("Success = true, want false")
	}
}

func TestChannelKeepaliveAckObserved(t *testing.T) {
	ft := newFakeTransport()
	ch := New(ft, time.Hour, nil)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ch.Stop()

	if !ch.LastKeepaliveAck().IsZero() {
		t.Error("LastKeepaliveAck should be zero before any ack")
	}

	ft.push(Frame{Type: RequestKeepaliveAck})
	waitFor(t, "keepalive ack", func() bool { return !ch.LastKeepaliveAck().IsZero() })
}

func TestChannelReconnectAfterReadError(t *testing.T) {
	ft := newFakeTransport()
	ch := New(ft, time.Hour, nil)

	var closedCalls int
	var mu sync.Mutex
	ch.OnClosed(func() {
		mu.Lock()
		closedCalls++
		mu.Unlock()
	})

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ch.Stop()

	ft.pushError(io.ErrUnexpectedEOF)

	// First reconnect attempt has zero delay, so this is quick.
	waitFor(t, "reconnect", func() bool { return ft.connectCount() >= 2 })
	waitFor(t, "connected state", func() bool { return ch.State() == StateConnected })

	mu.Lock()
	calls := closedCalls
	mu.Unlock()
	if calls != 1 {
		t.Errorf("onClosed calls = %d, want 1", calls)
	}
}

func TestChannelStartTwice(t *testing.T) {
	ft := newFakeTransport()
	ch := New(ft, time.Hour, nil)

	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer ch.Stop()

	if err := ch.Start(context.Background()); err == nil {
		t.Fatal("expected error starting an already-started channel")
	}
}

func TestChannelInitialConnectFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.connectErrs = []error{errors.New("refused")}
	ch := New(ft, time.Hour, nil)

	if err := ch.Start(context.Background()); err == nil {
		t.Fatal("expected error when initial connect fails")
	}
	if got := ch.State(); got != StateDisconnected {
		t.Errorf("State = %v, want disconnected", got)
	}
}
