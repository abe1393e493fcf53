package sourceconn

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// fakeConn is an in-memory wsConn used to drive the state machine in tests
// without a real socket. outbound carries frames the connection under test
// writes; inbound carries frames fed to it as if read from the wire.
type fakeConn struct {
	mu       sync.Mutex
	inbound  chan []byte
	outbound chan []byte
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 32),
		outbound: make(chan []byte, 32),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.inbound
	if !ok {
		return 0, nil, errors.New("fakeConn closed")
	}
	return 1, data, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return errors.New("fakeConn closed")
	}
	select {
	case f.outbound <- data:
		return nil
	default:
		return errors.New("fakeConn outbound full")
	}
}

func (f *fakeConn) SetReadDeadline(t time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(t time.Time) error  { return nil }
func (f *fakeConn) SetReadLimit(limit int64)            {}
func (f *fakeConn) SetPongHandler(h func(string) error) {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return nil
}

func (f *fakeConn) sendFrame(frame Frame) {
	data, _ := json.Marshal(frame)
	f.inbound <- data
}

func (f *fakeConn) recvFrame(timeout time.Duration) (Frame, bool) {
	select {
	case data := <-f.outbound:
		var frame Frame
		_ = json.Unmarshal(data, &frame)
		return frame, true
	case <-time.After(timeout):
		return Frame{}, false
	}
}

// dialerFor returns a Dialer that hands out conns in order, looping on the
// last one if exhausted.
func dialerFor(conns ...*fakeConn) Dialer {
	i := 0
	return func(ctx context.Context, url string, tlsConfig *tls.Config) (wsConn, error) {
		c := conns[i]
		if i < len(conns)-1 {
			i++
		}
		return c, nil
	}
}

// countingDialer is dialerFor plus a dial counter.
func countingDialer(dials *int, conns ...*fakeConn) Dialer {
	inner := dialerFor(conns...)
	return func(ctx context.Context, url string, tlsConfig *tls.Config) (wsConn, error) {
		*dials++
		return inner(ctx, url, tlsConfig)
	}
}

// handshake drives a fakeConn through validate/connectExtension/
// configureExtension so the connection under test reaches READY, returning
// the captured connectExtension frame.
func handshake(t testingT, conn *fakeConn) Frame {
	t.Helper()

	validateReq, ok := conn.recvFrame(time.Second)
	if !ok || validateReq.Op != OpValidate {
		t.Fatalf("expected validate frame, got %+v ok=%v", validateReq, ok)
	}
	conn.sendFrame(Frame{Status: 200})

	connectReq, ok := conn.recvFrame(time.Second)
	if !ok || connectReq.Op != OpConnectExtension {
		t.Fatalf("expected connectExtension frame, got %+v ok=%v", connectReq, ok)
	}
	if connectReq.ResourceName != sourcesResource {
		t.Fatalf("connectExtension resourceName = %q, want %q", connectReq.ResourceName, sourcesResource)
	}

	conn.sendFrame(Frame{Op: OpConfigureExtension, Object: json.RawMessage(`{"config":{}}`)})
	return connectReq
}

// testingT is the minimal subset of *testing.T this helper file needs, so it
// doesn't have to import "testing" into a non-_test.go-adjacent helper.
type testingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}
