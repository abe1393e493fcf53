package sourceconn

import (
	"testing"
	"time"
)

func TestReadinessGateOpenThenWait(t *testing.T) {
	g := newReadinessGate()
	g.markOpen()

	done := make(chan bool, 1)
	go func() { done <- g.wait() }()

	select {
	case opened := <-done:
		if !opened {
			t.Error("expected wait() to return true after markOpen")
		}
	case <-time.After(time.Second):
		t.Fatal("wait() did not return")
	}
}

func TestReadinessGateCancelWakesWaiter(t *testing.T) {
	g := newReadinessGate()
	done := make(chan bool, 1)
	go func() { done <- g.wait() }()

	time.Sleep(10 * time.Millisecond)
	g.cancel()

	select {
	case opened := <-done:
		if opened {
			t.Error("expected wait() to return false after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("wait() did not return after cancel")
	}
}

func TestReadinessHolderResetGivesNewGeneration(t *testing.T) {
	h := newReadinessHolder()
	first := h.get()
	h.reset()
	second := h.get()

	if first == second {
		t.Error("expected reset() to install a new gate generation")
	}
}

func TestReadinessHolderWaitUntilReadyAcrossReconnect(t *testing.T) {
	h := newReadinessHolder()
	done := make(chan struct{})
	result := make(chan bool, 1)

	go func() { result <- h.waitUntilReady(done) }()

	// Simulate a reconnect cycle: cancel the first generation, then open the
	// second. The waiter must re-read the current gate and eventually see
	// it open rather than returning false at the first cancellation.
	time.Sleep(10 * time.Millisecond)
	h.reset()
	time.Sleep(10 * time.Millisecond)
	h.markOpen()

	select {
	case opened := <-result:
		if !opened {
			t.Error("expected waitUntilReady to eventually observe the new generation open")
		}
	case <-time.After(time.Second):
		t.Fatal("waitUntilReady did not return")
	}
}

func TestReadinessHolderWaitUntilReadyRespectsDone(t *testing.T) {
	h := newReadinessHolder()
	done := make(chan struct{})
	result := make(chan bool, 1)

	go func() { result <- h.waitUntilReady(done) }()

	close(done)

	select {
	case opened := <-result:
		if opened {
			t.Error("expected waitUntilReady to return false when done fires")
		}
	case <-time.After(time.Second):
		t.Fatal("waitUntilReady did not return after done closed")
	}
}
