package connconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/magiconair/properties"
)

func loadFromString(t *testing.T, content string) (*ServerConfig, error) {
	t.Helper()
	props, err := properties.LoadString(content)
	if err != nil {
		t.Fatalf("LoadString() error = %v", err)
	}
	return fromProperties(props)
}

func TestFromProperties(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(t *testing.T, cfg *ServerConfig)
	}{
		{
			name: "minimal valid config applies defaults",
			content: "targetServer = https://example.com\n" +
				"sources = Source1, Source2\n",
			check: func(t *testing.T, cfg *ServerConfig) {
				if cfg.TargetServer != "wss://example.com/api/v1/wsock/websocket" {
					t.Errorf("TargetServer = %q", cfg.TargetServer)
				}
				if len(cfg.Sources) != 2 || cfg.Sources[0] != "Source1" || cfg.Sources[1] != "Source2" {
					t.Errorf("Sources = %v", cfg.Sources)
				}
				if cfg.TCPProbePort != defaultTCPProbePort {
					t.Errorf("TCPProbePort = %d, want %d", cfg.TCPProbePort, defaultTCPProbePort)
				}
				if cfg.SendPings {
					t.Error("SendPings should default false")
				}
			},
		},
		{
			name:    "missing targetServer",
			content: "sources = Source1\n",
			wantErr: true,
		},
		{
			name: "sendPings true variants",
			content: "targetServer = https://example.com\n" +
				"sendPings = TRUE\n",
			check: func(t *testing.T, cfg *ServerConfig) {
				if !cfg.SendPings {
					t.Error("SendPings should be true")
				}
			},
		},
		{
			name: "invalid tcpProbePort",
			content: "targetServer = https://example.com\n" +
				"tcpProbePort = notanumber\n",
			wantErr: true,
		},
		{
			name: "connectKWArgs parsed",
			content: "targetServer = https://example.com\n" +
				`connectKWArgs = {"disableSslVerification": true}` + "\n",
			check: func(t *testing.T, cfg *ServerConfig) {
				if !cfg.ConnectOptions.DisableSSLVerification {
					t.Error("DisableSSLVerification should be true")
				}
			},
		},
		{
			name: "invalid connectKWArgs JSON",
			content: "targetServer = https://example.com\n" +
				"connectKWArgs = not-json\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadFromString(t, tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoadSearchesServerConfigThenServerDotConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.config")
	if err := os.WriteFile(path, []byte("targetServer = https://example.com\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TargetServer == "" {
		t.Error("TargetServer should be populated")
	}
}

func TestLoadMissingBothFiles(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err == nil {
		t.Fatal("expected ErrConfigMissing, got nil")
	}
}
