// Command scriptconnector runs the script-execution source connector: it
// reads server.config, opens one server connection per configured source,
// and serves script-execution queries until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/streamspace-dev/scriptconnector/internal/connconfig"
	"github.com/streamspace-dev/scriptconnector/internal/connectorset"
	"github.com/streamspace-dev/scriptconnector/internal/docstore"
	"github.com/streamspace-dev/scriptconnector/internal/scriptexec"
)

func main() {
	configDir := flag.String("config-dir", "", "Directory to search for server.config (default: working directory)")
	flag.Parse()

	cfg, err := connconfig.Load(*configDir)
	if err != nil {
		log.Printf("[ScriptConnector] %v", err)
		os.Exit(1)
	}
	if len(cfg.Sources) == 0 {
		log.Printf("[ScriptConnector] no sources configured")
		os.Exit(1)
	}

	set := connectorset.New(cfg)

	// One handler per source connection: each owns its own artifact cache and
	// executor, rebuilt from the source configuration on every (re)connect.
	for _, name := range set.Sources() {
		conn := set.ConnectionForSource(name)
		log.Printf("[ScriptConnector] creating script executor for source: %s", name)
		handler := scriptexec.NewHandler(conn, docstore.HTTPClientFactory(cfg.BaseURL(), cfg.AuthToken))
		conn.ConfigureHandlers(handler.Handlers())
	}

	runningInK8s := os.Getenv("KUBERNETES_SERVICE_HOST") != ""
	if runningInK8s {
		log.Printf("[ScriptConnector] performing declareHealthy() action")
		set.DeclareHealthy()
	}

	plural := ""
	if len(set.Sources()) > 1 {
		plural = "s"
	}
	suffix := ""
	if runningInK8s {
		suffix = " in Kubernetes"
	}
	banner := fmt.Sprintf("Running connector%s for source%s %s%s",
		plural, plural, strings.Join(set.Sources(), ","), suffix)
	fmt.Println(banner)
	log.Printf("[ScriptConnector] %s", banner)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = set.Run(ctx)
	set.Close()
	if err != nil {
		log.Printf("[ScriptConnector] exiting with error: %v", err)
		os.Exit(1)
	}
	log.Printf("[ScriptConnector] shutdown complete")
}
