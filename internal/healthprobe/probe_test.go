package healthprobe

import (
	"net"
	"strconv"
	"testing"
	"time"
)

// freePort grabs a port the kernel considers free right now. There is a small
// window where something else could claim it, acceptable for a test.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func tryConnect(port int) bool {
	conn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(port), 500*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func TestProbeLifecycle(t *testing.T) {
	port := freePort(t)
	p := New(port)
	defer p.Close()

	if p.IsHealthy() != nil {
		t.Error("expected undeclared health state before any declaration")
	}
	if tryConnect(port) {
		t.Error("expected probe connect to fail before declareHealthy")
	}

	if err := p.DeclareHealthy(); err != nil {
		t.Fatalf("DeclareHealthy() error = %v", err)
	}
	if h := p.IsHealthy(); h == nil || !*h {
		t.Error("expected healthy after DeclareHealthy")
	}
	if !tryConnect(port) {
		t.Error("expected probe connect to succeed while healthy")
	}

	if err := p.DeclareUnhealthy(); err != nil {
		t.Fatalf("DeclareUnhealthy() error = %v", err)
	}
	if h := p.IsHealthy(); h == nil || *h {
		t.Error("expected unhealthy after DeclareUnhealthy")
	}
	if tryConnect(port) {
		t.Error("expected probe connect to fail after declareUnhealthy")
	}
}

func TestDeclareHealthyIsIdempotent(t *testing.T) {
	port := freePort(t)
	p := New(port)
	defer p.Close()

	if err := p.DeclareHealthy(); err != nil {
		t.Fatalf("DeclareHealthy() error = %v", err)
	}
	// A second declaration must not try to bind the port again.
	if err := p.DeclareHealthy(); err != nil {
		t.Fatalf("second DeclareHealthy() error = %v", err)
	}
	if !tryConnect(port) {
		t.Error("expected probe connect to succeed")
	}
}
