package sourceconn

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxMessageSize  = 512 * 1024
	maxStatusFrames = 10
)

// wsConn is the subset of *websocket.Conn this package depends on, so tests
// can substitute a fake transport.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Dialer opens a wsConn to url. The production implementation wraps
// websocket.DefaultDialer; tests substitute a fake.
type Dialer func(ctx context.Context, url string, tlsConfig *tls.Config) (wsConn, error)

// DefaultDialer dials using gorilla/websocket.
func DefaultDialer(ctx context.Context, url string, tlsConfig *tls.Config) (wsConn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
		TLSClientConfig:  tlsConfig,
	}
	conn, _, err := dialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// HealthReporter is the health surface a connection delegates to its owning
// connector set. Nil until the set wires itself in.
type HealthReporter interface {
	DeclareHealthy()
	DeclareUnhealthy()
	IsHealthy() *bool
}

// Options configures a SourceConnection.
type Options struct {
	SourceName            string
	TargetServer          string
	AuthToken             string
	SendPings             bool
	FailOnConnectionError bool
	FixedReconnectSecret  string
	TLSConfig             *tls.Config
	Dial                  Dialer
}

// SourceConnection owns the dial/auth/negotiate/serve reconnect loop for one
// named source. conn and the active readiness gate are only valid while the
// connection is READY; reconnect replaces both.
type SourceConnection struct {
	opts            Options
	handlers        Handlers
	reconnectSecret string
	health          HealthReporter

	mu   sync.RWMutex
	conn wsConn

	ready *readinessHolder

	writeCh chan []byte
	liveTasks
}

// New builds a SourceConnection with a stable reconnect secret computed once.
func New(opts Options, handlers Handlers) *SourceConnection {
	if opts.Dial == nil {
		opts.Dial = DefaultDialer
	}
	suffix := opts.FixedReconnectSecret
	if suffix == "" {
		suffix = uuid.NewString()
	}
	return &SourceConnection{
		opts:            opts,
		handlers:        handlers,
		reconnectSecret: opts.SourceName + "_" + suffix,
		ready:           newReadinessHolder(),
		writeCh:         make(chan []byte, 256),
		liveTasks:       newLiveTasks(),
	}
}

// ReconnectSecret returns this connection's stable reconnect secret.
func (c *SourceConnection) ReconnectSecret() string { return c.reconnectSecret }

// Name returns the source name this connection serves.
func (c *SourceConnection) Name() string { return c.opts.SourceName }

// ConfigureHandlers replaces the connection's handler callbacks. Must be
// called before Run.
func (c *SourceConnection) ConfigureHandlers(handlers Handlers) {
	c.handlers = handlers
}

// SetHealthReporter wires the owning connector set's health surface in.
func (c *SourceConnection) SetHealthReporter(h HealthReporter) { c.health = h }

// DeclareHealthy declares the owning connector set healthy, if one is wired.
func (c *SourceConnection) DeclareHealthy() {
	if c.health != nil {
		c.health.DeclareHealthy()
	}
}

// DeclareUnhealthy declares the owning connector set unhealthy.
func (c *SourceConnection) DeclareUnhealthy() {
	if c.health != nil {
		c.health.DeclareUnhealthy()
	}
}

// IsHealthy reports the owning set's health state; nil means undeclared or
// no set is wired.
func (c *SourceConnection) IsHealthy() *bool {
	if c.health == nil {
		return nil
	}
	return c.health.IsHealthy()
}

// IsReady reports whether the connection is currently in the READY state.
func (c *SourceConnection) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil
}

// Close drops the current socket, if any. The serve loop observes the closed
// socket and winds the cycle down.
func (c *SourceConnection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
	}
}

// Run drives the reconnect loop until ctx is cancelled or the server requests
// a terminal close. Each failed attempt backs off 0.5s * consecutive-failure
// count before retrying, unless FailOnConnectionError is set, in which case
// the first failure returns. Auth rejections and other fatal errors return
// immediately regardless.
func (c *SourceConnection) Run(ctx context.Context) error {
	failCount := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		log.Printf("[SourceConnection:%s] connecting to %s", c.opts.SourceName, c.opts.TargetServer)
		terminal, err := c.connectCycle(ctx)
		if terminal {
			return nil
		}
		if err == nil {
			failCount = 0
			continue
		}

		if cerr, ok := err.(*connectorerr.Error); ok && cerr.Fatal {
			log.Printf("[SourceConnection:%s] fatal error, stopping: %v", c.opts.SourceName, err)
			return err
		}

		failCount++
		log.Printf("[SourceConnection:%s] connection attempt failed (count=%d): %v", c.opts.SourceName, failCount, err)
		if c.opts.FailOnConnectionError {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(float64(failCount) * 0.5 * float64(time.Second))):
		}
	}
}

// connectCycle performs one Dialing->Authenticating->Negotiating->Ready->
// Closing pass. terminal is true only for the test-requested client close.
// A nil error means the cycle reached READY and then ended (a server-requested
// reconnect or a failed socket read) and the caller should redial without
// backoff.
func (c *SourceConnection) connectCycle(ctx context.Context) (bool, error) {
	conn, err := c.opts.Dial(ctx, c.opts.TargetServer, c.opts.TLSConfig)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}

	if err := c.authenticate(conn); err != nil {
		conn.Close()
		return false, err
	}

	if err := c.negotiate(conn); err != nil {
		conn.Close()
		return false, err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.ready.markOpen()

	var wg sync.WaitGroup
	wg.Add(2)
	readDone := make(chan cycleEnd, 1)
	go func() {
		defer wg.Done()
		readDone <- c.readPump(conn)
	}()
	writeStop := make(chan struct{})
	go func() {
		defer wg.Done()
		c.writePump(conn, writeStop)
	}()

	end := <-readDone
	close(writeStop)
	conn.Close()
	wg.Wait()

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	c.ready.reset()

	if c.handlers.OnClose != nil {
		c.safeCall(c.handlers.OnClose)
	}

	return end.terminal, end.err
}

// authenticate sends the validate frame carrying the auth token and checks
// the single reply. A rejection is fatal: retrying with the same token cannot
// succeed, so the error propagates out of the reconnect loop.
func (c *SourceConnection) authenticate(conn wsConn) error {
	auth := Frame{
		Op:           OpValidate,
		ResourceName: credentialsResource,
		Object:       mustMarshal(c.opts.AuthToken),
	}
	if err := writeFrame(conn, auth); err != nil {
		return err
	}

	resp, err := readFrame(conn)
	if err != nil {
		return err
	}
	if resp.Status != 0 && resp.Status != http.StatusOK {
		code, msg := firstStatusError(resp.Body)
		return connectorerr.WithParams(connectorerr.ErrAuthRejected, resp.Status, code, msg)
	}
	return nil
}

// negotiate sends connectExtension and waits for the configureExtension frame
// carrying this source's configuration, tolerating up to maxStatusFrames
// status-only frames in between.
func (c *SourceConnection) negotiate(conn wsConn) error {
	connect := Frame{
		Op:           OpConnectExtension,
		ResourceName: sourcesResource,
		ResourceID:   c.opts.SourceName,
		Parameters:   map[string]interface{}{ParamReconnectSecret: c.reconnectSecret},
	}
	if err := writeFrame(conn, connect); err != nil {
		return err
	}

	frame, err := readFrame(conn)
	if err != nil {
		return err
	}

	statusFrames := 0
	for frame.Op == "" && statusFrames < maxStatusFrames {
		statusFrames++
		if frame.Status >= 300 {
			code, msg := firstStatusError(frame.Body)
			return connectorerr.WithParams(connectorerr.ErrConnectFailed, frame.Status, code, msg)
		}
		frame, err = readFrame(conn)
		if err != nil {
			return err
		}
	}

	if frame.Op == "" {
		return connectorerr.WithParams(connectorerr.ErrProtocolViolation,
			fmt.Sprintf("no %s message received after %d tries", OpConfigureExtension, statusFrames))
	}
	if frame.Op != OpConfigureExtension {
		return connectorerr.WithParams(connectorerr.ErrProtocolViolation,
			fmt.Sprintf("unexpected operation for configuration: %s", frame.Op))
	}

	var wrapper struct {
		Config json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(frame.Object, &wrapper); err != nil || wrapper.Config == nil {
		return connectorerr.WithParams(connectorerr.ErrProtocolViolation,
			fmt.Sprintf("malformed configuration message: %s", string(frame.Object)))
	}

	if c.handlers.OnConnect != nil {
		var herr error
		c.safeCall(func() { herr = c.handlers.OnConnect(wrapper.Config) })
		if herr != nil {
			return herr
		}
	}
	return nil
}

// cycleEnd describes how a READY serve loop ended.
type cycleEnd struct {
	terminal bool
	err      error
}

func (c *SourceConnection) readPump(conn wsConn) cycleEnd {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return cycleEnd{}
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[SourceConnection:%s] malformed message received from server: %s", c.opts.SourceName, data)
			continue
		}

		switch {
		case frame.Op == OpReconnectRequired:
			log.Printf("[SourceConnection:%s] server requested reconnect", c.opts.SourceName)
			return cycleEnd{}
		case frame.Op == opTestClose:
			return cycleEnd{terminal: true}
		case frame.Op != "":
			c.dispatch(frame)
		case frame.Status != 0:
			if frame.Status >= 300 {
				log.Printf("[SourceConnection:%s] received status message indicating a problem: %s", c.opts.SourceName, data)
			}
		default:
			log.Printf("[SourceConnection:%s] malformed message received from server: %s", c.opts.SourceName, data)
		}
	}
}

func (c *SourceConnection) writePump(conn wsConn, stop <-chan struct{}) {
	var tickerC <-chan time.Time
	if c.opts.SendPings {
		ticker := time.NewTicker(pingPeriod)
		tickerC = ticker.C
		defer ticker.Stop()
	}

	for {
		select {
		case msg, ok := <-c.writeCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// The socket is dead: hand the frame back to the queue so the
				// next session's write pump sends it instead of losing it.
				select {
				case c.writeCh <- msg:
				default:
				}
				return
			}
		case <-tickerC:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// send enqueues a frame for the write pump, waiting for READY if necessary
// and re-waiting across reconnects, so a frame is never written to a dead
// socket and a pending send resumes once a new session reaches READY.
func (c *SourceConnection) send(ctx context.Context, frame Frame) error {
	if !c.ready.waitUntilReady(ctx.Done()) {
		return connectorerr.WithParams(connectorerr.ErrQueryNotOpen, c.opts.SourceName)
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(writeWait):
		return fmt.Errorf("send timed out after %s", writeWait)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func writeFrame(conn wsConn, frame Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func readFrame(conn wsConn) (Frame, error) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, err
	}
	return frame, nil
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
