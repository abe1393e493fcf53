package scriptexec

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/streamspace-dev/scriptconnector/internal/artifactcache"
	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
	"github.com/streamspace-dev/scriptconnector/internal/docstore"
	"github.com/streamspace-dev/scriptconnector/internal/scriptexec/runtime"
)

// Executor resolves, compiles, caches, and executes scripts for one source
// connection. Each Handler builds a new Executor, with its own cache, every
// time its connection opens; all queries on that connection share it.
type Executor struct {
	cache             *artifactcache.Cache
	fetcher           *docstore.Fetcher
	returnRuntimeInfo bool
}

// NewExecutor builds an Executor. fetcher may be nil if no source ever uses
// the script-by-name (document store) resolution path.
func NewExecutor(cache *artifactcache.Cache, fetcher *docstore.Fetcher, returnRuntimeInfo bool) *Executor {
	return &Executor{cache: cache, fetcher: fetcher, returnRuntimeInfo: returnRuntimeInfo}
}

// ExecutionResult is the successful outcome of Execute.
type ExecutionResult struct {
	Results map[string]interface{}
	// Telemetry is nil unless returnRuntimeInfo is enabled.
	Telemetry map[string]interface{}
}

// Execute resolves opts to a compiled artifact (inline code, fetched
// document, or a pure cache hit), runs it in a fresh goja runtime, and
// collects its results.
func (e *Executor) Execute(ctx context.Context, opts RequestOptions, conn runtime.Connection, rctx runtime.Context) (*ExecutionResult, *connectorerr.Error) {
	start := time.Now()

	if opts.Replace && opts.Name != "" {
		e.cache.Remove(opts.Name)
	}

	program, usingCached, newCacheEntry, compileTime, cerr := e.resolveProgram(ctx, opts)
	if cerr != nil {
		return nil, cerr
	}

	results := runtime.NewResults()
	surface := runtime.NewSurface(conn, results)

	execStart := time.Now()
	vm, err := e.run(program, surface, rctx, opts.PresetValues)
	if err != nil {
		// An out-of-memory-class failure is assumed unrecoverable: flag the
		// process unhealthy so an orchestrator restarts it, then report the
		// error to the caller as usual.
		if isMemoryError(err) {
			conn.DeclareUnhealthy()
		}
		return nil, connectorerr.WithParams(connectorerr.ErrExecutionException, err.Error())
	}
	executionTime := time.Since(execStart)

	out := &ExecutionResult{}
	if !opts.CodeHandlesReturn {
		// Globals the script defined come back alongside anything it handed
		// to setResult; the explicit handle wins on a name collision.
		collected := collectGlobals(vm)
		for k, v := range results.Snapshot() {
			collected[k] = v
		}
		out.Results = filterResults(collected, opts.LimitReturnTo)
	}

	if e.returnRuntimeInfo {
		totalTime := time.Since(start).Seconds()
		info := map[string]interface{}{
			"using_cached":     usingCached,
			"newCacheEntry":    newCacheEntry,
			"totalTime":        totalTime,
			"query_time":       totalTime,
			"currentCacheSize": e.cache.Size(),
			"cacheCapacity":    e.cache.Capacity(),
		}
		if opts.Name != "" {
			info["name"] = opts.Name
		}
		if compileTime > 0 {
			info["compileTime"] = compileTime.Seconds()
		}
		if executionTime > 0 {
			info["executionTime"] = executionTime.Seconds()
		}
		out.Telemetry = info
	}

	return out, nil
}

// isMemoryError reports whether err looks like memory exhaustion rather than
// an ordinary script failure.
func isMemoryError(err error) bool {
	var soe *goja.StackOverflowError
	if errors.As(err, &soe) {
		return true
	}
	return strings.Contains(err.Error(), "out of memory")
}

// resolveProgram returns the compiled program to execute, whether it was
// served from cache, whether a new cache entry was created, and how long
// compilation took (zero if served from cache).
func (e *Executor) resolveProgram(ctx context.Context, opts RequestOptions) (*goja.Program, bool, bool, time.Duration, *connectorerr.Error) {
	switch {
	case opts.Code != "":
		return e.resolveInlineCode(opts)
	case opts.Script != "":
		return e.resolveFetchedScript(ctx, opts)
	default:
		entry, ok := e.cache.Get(opts.Name)
		if !ok {
			return nil, false, false, 0, connectorerr.WithParams(connectorerr.ErrNoCacheEntry, opts.Name)
		}
		return entry.Artifact.(*goja.Program), true, false, 0, nil
	}
}

func (e *Executor) resolveInlineCode(opts RequestOptions) (*goja.Program, bool, bool, time.Duration, *connectorerr.Error) {
	if opts.Name == "" {
		program, compileTime, cerr := compile(opts.Code)
		return program, false, false, compileTime, cerr
	}

	// Named inline code: a cached artifact is valid only while its content
	// signature matches the code in hand.
	sig := signatureOf(opts.Code)
	if entry, ok := e.cache.Get(opts.Name); ok {
		if bytes.Equal(entry.Signature, sig) {
			return entry.Artifact.(*goja.Program), true, false, 0, nil
		}
		e.cache.Remove(opts.Name)
	}

	program, compileTime, cerr := compile(opts.Code)
	if cerr != nil {
		return nil, false, false, compileTime, cerr
	}
	if opts.CacheResultDefault() {
		e.cache.Put(opts.Name, &artifactcache.Entry{Signature: sig, Artifact: program})
		return program, false, true, compileTime, nil
	}
	return program, false, false, compileTime, nil
}

func (e *Executor) resolveFetchedScript(ctx context.Context, opts RequestOptions) (*goja.Program, bool, bool, time.Duration, *connectorerr.Error) {
	if e.fetcher == nil {
		return nil, false, false, 0, connectorerr.WithParams(connectorerr.ErrDocStoreConnectFailed, "no document store configured")
	}

	cached, hadCache := e.cache.Get(opts.Script)

	result, err := e.fetcher.Fetch(ctx, opts.Script, func(modTime string) bool {
		return hadCache && cached.ModTime == modTime
	})
	if err != nil {
		if cerr, ok := err.(*connectorerr.Error); ok {
			return nil, false, false, 0, cerr
		}
		return nil, false, false, 0, connectorerr.WithParams(connectorerr.ErrDocStoreConnectFailed, err.Error())
	}

	if !result.Fresh {
		return cached.Artifact.(*goja.Program), true, false, 0, nil
	}

	// The document changed out from under the cached artifact.
	if hadCache {
		e.cache.Remove(opts.Script)
	}

	program, compileTime, cerr := compile(string(result.Bytes))
	if cerr != nil {
		return nil, false, false, compileTime, cerr
	}

	if opts.CacheResultDefault() {
		e.cache.Put(opts.Script, &artifactcache.Entry{ModTime: result.ModTime, Artifact: program})
		return program, false, true, compileTime, nil
	}
	return program, false, false, compileTime, nil
}

func compile(code string) (*goja.Program, time.Duration, *connectorerr.Error) {
	start := time.Now()
	program, err := goja.Compile("script.js", code, false)
	elapsed := time.Since(start)
	if err != nil {
		if _, ok := err.(*goja.CompilerSyntaxError); ok {
			return nil, elapsed, connectorerr.WithParams(connectorerr.ErrCompileSyntax, err.Error())
		}
		return nil, elapsed, connectorerr.WithParams(connectorerr.ErrCompileException, err.Error())
	}
	return program, elapsed, nil
}

// frameworkGlobals are the names injected into every script's scope; they are
// never part of the collected results.
var frameworkGlobals = map[string]bool{
	"__file__":            true,
	"__name__":            true,
	"connectorConnection": true,
	"connectorContext":    true,
}

func (e *Executor) run(program *goja.Program, surface *runtime.Surface, rctx runtime.Context, preset map[string]interface{}) (*goja.Runtime, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.UncapFieldNameMapper())

	vm.Set("__file__", "script.js")
	vm.Set("__name__", "__main__")
	vm.Set("connectorConnection", surface)
	vm.Set("connectorContext", rctx)

	for k, v := range preset {
		vm.Set(k, v)
	}

	_, err := vm.RunProgram(program)
	return vm, err
}

// collectGlobals exports every enumerable global the script's scope holds
// after execution, minus the injected framework bindings. Built-ins are
// non-enumerable and so excluded automatically.
func collectGlobals(vm *goja.Runtime) map[string]interface{} {
	out := make(map[string]interface{})
	global := vm.GlobalObject()
	for _, key := range global.Keys() {
		if frameworkGlobals[key] {
			continue
		}
		if v := global.Get(key); v != nil {
			out[key] = v.Export()
		}
	}
	return out
}

func signatureOf(code string) []byte {
	sum := sha256.Sum256([]byte(code))
	return sum[:]
}

func filterResults(all map[string]interface{}, limit []string) map[string]interface{} {
	filtered := all
	if len(limit) > 0 {
		filtered = make(map[string]interface{}, len(limit))
		for _, name := range limit {
			if v, ok := all[name]; ok {
				filtered[name] = v
			}
		}
	}

	serializable := make(map[string]interface{}, len(filtered))
	for k, v := range filtered {
		if _, err := json.Marshal(v); err == nil {
			serializable[k] = v
		}
	}
	return serializable
}
