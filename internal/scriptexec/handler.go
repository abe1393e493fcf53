package scriptexec

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"

	"github.com/streamspace-dev/scriptconnector/internal/artifactcache"
	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
	"github.com/streamspace-dev/scriptconnector/internal/docstore"
	"github.com/streamspace-dev/scriptconnector/internal/scriptexec/runtime"
	"github.com/streamspace-dev/scriptconnector/internal/sourceconn"
)

const defaultCacheSize = 128

// QueryConnection is the slice of source-connection behavior the handler and
// the script runtime surface need. Satisfied by *sourceconn.SourceConnection.
type QueryConnection interface {
	Name() string
	SendQueryResponse(ctx context.Context, qctx sourceconn.QueryContext, status int, body interface{}) error
	SendQueryError(ctx context.Context, qctx sourceconn.QueryContext, cerr *connectorerr.Error) error
	SendNotification(ctx context.Context, body interface{}) error
	DeclareHealthy()
	DeclareUnhealthy()
}

// Handler serves script-execution queries for one source connection. It owns
// the per-connection artifact cache and executor, both rebuilt from the
// negotiated source configuration each time the connection (re)opens.
type Handler struct {
	conn    QueryConnection
	factory docstore.ClientFactory

	mu       sync.Mutex
	open     bool
	executor *Executor
}

// NewHandler builds a Handler for conn. factory constructs the document-store
// client used for script-by-name resolution; it is invoked lazily on the
// first such query.
func NewHandler(conn QueryConnection, factory docstore.ClientFactory) *Handler {
	return &Handler{conn: conn, factory: factory}
}

// Handlers returns the callback set to register on the source connection.
func (h *Handler) Handlers() sourceconn.Handlers {
	return sourceconn.Handlers{
		OnConnect: h.onConnect,
		OnClose:   h.onClose,
		OnPublish: h.onPublish,
		OnQuery:   h.onQuery,
	}
}

// execConfig is the subset of the negotiated source configuration this
// handler understands. Field names are part of the server contract.
type execConfig struct {
	PythonExecConfig struct {
		General struct {
			CodeCacheSize            int         `json:"codeCacheSize"`
			ReturnRuntimeInformation interface{} `json:"returnRuntimeInformation"`
		} `json:"general"`
	} `json:"pythonExecConfig"`
}

func (h *Handler) onConnect(config json.RawMessage) error {
	var cfg execConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		log.Printf("[ScriptExecutor:%s] unparseable source configuration, using defaults: %v", h.conn.Name(), err)
	}

	cacheSize := cfg.PythonExecConfig.General.CodeCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := artifactcache.New(cacheSize)
	if err != nil {
		return err
	}

	var fetcher *docstore.Fetcher
	if h.factory != nil {
		fetcher = docstore.NewFetcher(h.factory)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.executor = NewExecutor(cache, fetcher,
		booleanValue(cfg.PythonExecConfig.General.ReturnRuntimeInformation))
	h.open = true
	return nil
}

func (h *Handler) onClose() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
}

func (h *Handler) onPublish(ctx sourceconn.QueryContext, body json.RawMessage) {
	log.Printf("[ScriptExecutor:%s] unexpected call to publish handler -- message: %s", ctx.SourceName, body)
}

func (h *Handler) onQuery(qctx sourceconn.QueryContext, body json.RawMessage) {
	ctx := context.Background()

	h.mu.Lock()
	open, executor := h.open, h.executor
	h.mu.Unlock()

	if !open || executor == nil {
		h.sendError(ctx, qctx, connectorerr.WithParams(connectorerr.ErrQueryNotOpen, qctx.SourceName))
		return
	}

	opts, cerr := ParseOptions(body)
	if cerr != nil {
		h.sendError(ctx, qctx, cerr)
		return
	}

	bound := boundConnection{conn: h.conn, qctx: qctx}
	rctx := runtime.Context{SourceName: qctx.SourceName, ReplyAddress: qctx.ReplyAddress}

	result, cerr := executor.Execute(ctx, opts, bound, rctx)
	if cerr != nil {
		h.sendError(ctx, qctx, cerr)
		return
	}

	if opts.CodeHandlesReturn {
		return
	}

	payload := map[string]interface{}{"pythonCallResults": result.Results}
	if result.Telemetry != nil {
		payload["connectorRuntimeInfo"] = result.Telemetry
	}
	if err := h.conn.SendQueryResponse(ctx, qctx, sourceconn.StatusComplete, payload); err != nil {
		log.Printf("[ScriptExecutor:%s] failed to send query response: %v", qctx.SourceName, err)
	}
}

func (h *Handler) sendError(ctx context.Context, qctx sourceconn.QueryContext, cerr *connectorerr.Error) {
	if err := h.conn.SendQueryError(ctx, qctx, cerr); err != nil {
		log.Printf("[ScriptExecutor:%s] failed to send query error: %v", qctx.SourceName, err)
	}
}

// boundConnection adapts a source connection plus one query's context to the
// callback surface scripts see as connectorConnection.
type boundConnection struct {
	conn QueryConnection
	qctx sourceconn.QueryContext
}

func (b boundConnection) SendQueryResponseRaw(status int, body interface{}) error {
	return b.conn.SendQueryResponse(context.Background(), b.qctx, status, body)
}

func (b boundConnection) SendQueryErrorRaw(code, template string, params []interface{}) error {
	return b.conn.SendQueryError(context.Background(), b.qctx,
		&connectorerr.Error{Code: code, Template: template, Params: params})
}

func (b boundConnection) SendNotificationRaw(body interface{}) error {
	return b.conn.SendNotification(context.Background(), body)
}

func (b boundConnection) DeclareUnhealthy() { b.conn.DeclareUnhealthy() }
func (b boundConnection) DeclareHealthy()   { b.conn.DeclareHealthy() }

// booleanValue interprets a configuration value that may arrive as a JSON
// bool or as a string. Case notwithstanding, "yes", "true", "t", and "1" are
// true; everything else is false.
func booleanValue(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(t) {
		case "yes", "true", "t", "1":
			return true
		}
	}
	return false
}
