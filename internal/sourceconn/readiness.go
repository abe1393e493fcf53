package sourceconn

import "sync"

// readinessGate is a one-shot signal: markOpen() closes it exactly once,
// marking the connection READY; readinessHolder.reset() replaces it with a
// fresh, unopened gate and cancels the old one. A sender waiting on a gate that
// gets replaced must re-read readinessHolder.get() and wait again on the new
// generation, never send on a dead socket, and never drop a pending send.
type readinessGate struct {
	mu   sync.Mutex
	ch   chan struct{}
	open bool
}

func newReadinessGate() *readinessGate {
	return &readinessGate{ch: make(chan struct{})}
}

// wait blocks until this generation of the gate opens or is cancelled
// (replaced by reset). It returns true if the gate opened, false if cancelled.
func (g *readinessGate) wait() bool {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	<-ch
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.open
}

// markOpen closes the current generation's channel with open=true.
func (g *readinessGate) markOpen() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return
	}
	g.open = true
	close(g.ch)
}

// cancel closes the current generation's channel with open=false, waking any
// waiters so they can re-read the connection's current gate.
func (g *readinessGate) cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.open {
		return
	}
	select {
	case <-g.ch:
		// already closed
	default:
		close(g.ch)
	}
}

// readinessHolder lets multiple goroutines safely read "the current gate" of
// a SourceConnection, replacing it atomically across reconnects.
type readinessHolder struct {
	mu      sync.RWMutex
	current *readinessGate
}

func newReadinessHolder() *readinessHolder {
	return &readinessHolder{current: newReadinessGate()}
}

func (h *readinessHolder) get() *readinessGate {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// markOpen opens the current generation, signaling READY.
func (h *readinessHolder) markOpen() {
	h.get().markOpen()
}

// reset cancels the current generation and installs a fresh one for the next
// connection attempt.
func (h *readinessHolder) reset() {
	h.mu.Lock()
	old := h.current
	h.current = newReadinessGate()
	h.mu.Unlock()
	old.cancel()
}

// waitUntilReady blocks, re-reading the current gate across cancellations,
// until some generation opens or done fires.
func (h *readinessHolder) waitUntilReady(done <-chan struct{}) bool {
	for {
		gate := h.get()
		gate.mu.Lock()
		ch := gate.ch
		gate.mu.Unlock()

		select {
		case <-ch:
			gate.mu.Lock()
			opened := gate.open
			gate.mu.Unlock()
			if opened {
				return true
			}
			// cancelled: loop and re-read the (possibly new) current gate.
		case <-done:
			return false
		}
	}
}
