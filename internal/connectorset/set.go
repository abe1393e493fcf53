// Package connectorset orchestrates the full complement of source
// connections described by one server configuration: it builds a connection
// per source, fans handler registration out to all of them, drives their
// reconnect loops in parallel, and owns the shared health probe.
package connectorset

import (
	"context"
	"crypto/tls"
	"log"
	"sync"

	"github.com/streamspace-dev/scriptconnector/internal/connconfig"
	"github.com/streamspace-dev/scriptconnector/internal/healthprobe"
	"github.com/streamspace-dev/scriptconnector/internal/sourceconn"
)

// Set is the collection of source connections for one connector process.
type Set struct {
	cfg     *connconfig.ServerConfig
	sources []string
	conns   map[string]*sourceconn.SourceConnection
	probe   *healthprobe.Probe
}

// New builds a Set from cfg: one source connection per configured source,
// each wired back to the set for health declarations.
func New(cfg *connconfig.ServerConfig) *Set {
	s := &Set{
		cfg:   cfg,
		conns: make(map[string]*sourceconn.SourceConnection, len(cfg.Sources)),
		probe: healthprobe.New(cfg.TCPProbePort),
	}

	var tlsConfig *tls.Config
	if cfg.ConnectOptions.DisableSSLVerification {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	for _, name := range cfg.Sources {
		conn := sourceconn.New(sourceconn.Options{
			SourceName:            name,
			TargetServer:          cfg.TargetServer,
			AuthToken:             cfg.AuthToken,
			SendPings:             cfg.SendPings,
			FailOnConnectionError: cfg.FailOnConnectionError,
			FixedReconnectSecret:  cfg.FixedReconnectSecret,
			TLSConfig:             tlsConfig,
		}, sourceconn.Handlers{})
		conn.SetHealthReporter(s)
		s.conns[name] = conn
		s.sources = append(s.sources, name)
	}
	return s
}

// Sources returns the configured source names in configuration order.
func (s *Set) Sources() []string { return s.sources }

// Connections returns the source connections keyed by source name.
func (s *Set) Connections() map[string]*sourceconn.SourceConnection { return s.conns }

// ConnectionForSource returns the connection for a named source, or nil.
func (s *Set) ConnectionForSource(name string) *sourceconn.SourceConnection {
	return s.conns[name]
}

// ConfigureHandlersForAll registers the same handler callbacks on every
// connection in the set.
func (s *Set) ConfigureHandlersForAll(handlers sourceconn.Handlers) {
	for _, name := range s.sources {
		s.conns[name].ConfigureHandlers(handlers)
	}
}

// Run drives every connection's reconnect loop in parallel, blocking until
// all of them return. The first error observed (fatal errors, or any error
// when failOnConnectionError is set) is returned after the rest wind down.
func (s *Set) Run(ctx context.Context) error {
	log.Printf("[ConnectorSet] starting %d connectors", len(s.sources))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(s.sources))
	for _, name := range s.sources {
		conn := s.conns[name]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := conn.Run(ctx); err != nil {
				errCh <- err
				// One fatal source takes the set down: cancel the siblings'
				// reconnect loops and drop their sockets so they observe it.
				cancel()
				for _, other := range s.conns {
					other.Close()
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	return <-errCh
}

// Close drops every connection's socket and tears down the health probe.
func (s *Set) Close() {
	for _, name := range s.sources {
		s.conns[name].Close()
	}
	s.probe.Close()
}

// DeclareHealthy marks the set healthy, starting the shared TCP probe
// listener if needed.
func (s *Set) DeclareHealthy() {
	if err := s.probe.DeclareHealthy(); err != nil {
		log.Printf("[ConnectorSet] failed to start health probe: %v", err)
	}
}

// DeclareUnhealthy marks the set unhealthy and stops the probe listener.
func (s *Set) DeclareUnhealthy() {
	if err := s.probe.DeclareUnhealthy(); err != nil {
		log.Printf("[ConnectorSet] failed to stop health probe: %v", err)
	}
}

// IsHealthy returns nil until the first declaration, then the last declared
// state.
func (s *Set) IsHealthy() *bool { return s.probe.IsHealthy() }
