// Package connconfig loads and validates the connector's server configuration,
// following the same struct-with-Validate-and-defaults shape as a typical agent
// config loader, but reading from a Java-properties-style file instead of flags.
package connconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/magiconair/properties"

	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
)

const (
	defaultTCPProbePort = 8000
	envAuthTokenVar     = "CONNECTOR_AUTH_TOKEN"
)

// ConnectOptions mirrors the "connectKWArgs" property: extra options applied
// when dialing the server's websocket endpoint.
type ConnectOptions struct {
	DisableSSLVerification bool `json:"disableSslVerification"`
}

// ServerConfig is the parsed, validated configuration for one connector process.
// A single ServerConfig is shared by every source connection it configures.
type ServerConfig struct {
	TargetServer          string
	AuthToken             string
	Sources               []string
	SendPings             bool
	FailOnConnectionError bool
	TCPProbePort          int
	FixedReconnectSecret  string
	ConnectOptions        ConnectOptions
}

// Load searches, in order, for "serverConfig/server.config" and then
// "server.config" under dir, parses the first one found with the
// Java-properties format, and validates it.
func Load(dir string) (*ServerConfig, error) {
	candidates := []string{
		joinIfDir(dir, "serverConfig/server.config"),
		joinIfDir(dir, "server.config"),
	}

	var path string
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			path = c
			break
		}
	}
	if path == "" {
		return nil, connectorerr.WithParams(connectorerr.ErrConfigMissing, candidates[0], candidates[1])
	}

	props, err := properties.LoadFile(path, properties.UTF8)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return fromProperties(props)
}

func joinIfDir(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

func fromProperties(props *properties.Properties) (*ServerConfig, error) {
	cfg := &ServerConfig{
		TCPProbePort: defaultTCPProbePort,
	}

	cfg.TargetServer = props.GetString("targetServer", "")
	if cfg.TargetServer == "" {
		return nil, connectorerr.ErrTargetServerMissing
	}
	cfg.TargetServer = NormalizeURL(cfg.TargetServer)

	cfg.AuthToken = props.GetString("authToken", "")
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv(envAuthTokenVar)
	}

	sources := props.GetString("sources", "")
	for _, s := range strings.Split(sources, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			cfg.Sources = append(cfg.Sources, s)
		}
	}

	cfg.SendPings = parseBool(props.GetString("sendPings", "false"))
	cfg.FailOnConnectionError = parseBool(props.GetString("failOnConnectionError", "false"))
	cfg.FixedReconnectSecret = props.GetString("reconnectSecret", "")

	if port := props.GetString("tcpProbePort", ""); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, connectorerr.WithParams(connectorerr.ErrConfigInvalid, "tcpProbePort", port)
		}
		cfg.TCPProbePort = p
	}

	if raw := props.GetString("connectKWArgs", ""); raw != "" {
		var opts ConnectOptions
		if err := json.Unmarshal([]byte(raw), &opts); err != nil {
			return nil, connectorerr.WithParams(connectorerr.ErrConfigInvalid, "connectKWArgs", err.Error())
		}
		cfg.ConnectOptions = opts
	}

	return cfg, nil
}

// parseBool accepts the case-insensitive forms true/t/yes/1; everything else
// is false.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "1":
		return true
	default:
		return false
	}
}
