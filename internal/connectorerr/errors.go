// Package connectorerr defines the coded, templated error taxonomy used across
// the connector: machine-readable codes paired with a human message template and
// an ordered parameter list, so that both log lines and query-error frames carry
// the same structured information.
package connectorerr

import (
	"fmt"
	"strconv"
	"strings"
)

// Category groups related codes for propagation-policy decisions.
type Category string

const (
	CategoryConfig     Category = "config"
	CategoryProtocol   Category = "protocol"
	CategoryConnection Category = "connection"
	CategoryValidation Category = "validation"
	CategoryCompile    Category = "compile"
	CategoryExecution  Category = "execution"
	CategoryDocStore   Category = "docstore"
	CategoryQuery      Category = "query"
)

// Error is a coded, templated error. Template placeholders are written "{0}",
// "{1}", ... and are substituted positionally from Params at Error() time.
type Error struct {
	Code     string
	Category Category
	Template string
	Params   []interface{}
	// Fatal marks errors that should terminate the owning connection/process
	// rather than being surfaced as a query-error frame or merely logged.
	Fatal bool
}

func (e *Error) Error() string {
	msg := e.Template
	for i, p := range e.Params {
		placeholder := "{" + strconv.Itoa(i) + "}"
		msg = strings.ReplaceAll(msg, placeholder, fmt.Sprint(p))
	}
	return msg
}

// New builds an Error with the given code, category and template, binding params.
func New(code string, category Category, template string, params ...interface{}) *Error {
	return &Error{Code: code, Category: category, Template: template, Params: params}
}

// Fatalf is New with Fatal set, for errors that must abort the reconnect loop.
func Fatalf(code string, category Category, template string, params ...interface{}) *Error {
	err := New(code, category, template, params...)
	err.Fatal = true
	return err
}

// Configuration errors.
var (
	ErrConfigMissing = Fatalf("config.missing", CategoryConfig,
		"no configuration file found at {0} or {1}")
	ErrConfigInvalid = Fatalf("config.invalid", CategoryConfig,
		"configuration value {0} is invalid: {1}")
	ErrTargetServerMissing = Fatalf("config.missing.targetserver", CategoryConfig,
		"targetServer is required in configuration")
)

// Protocol errors. Neither is fatal: the reconnect loop retries both with
// backoff, unlike auth/config failures.
var (
	ErrProtocolViolation = New("protocol.violation", CategoryProtocol,
		"unexpected frame from server: {0}")
	ErrConnectFailed = New("connection.failed", CategoryConnection,
		"connect call failed: {0} :: {1}:{2}")
	// ErrAuthRejected is raised when the server refuses the auth token.
	// Retrying with the same token cannot succeed, so it is fatal.
	ErrAuthRejected = Fatalf("config.invalid.authtoken", CategoryConfig,
		"Connect call failed: {0} :: {1}:{2}")
)

// Query / response validation errors.
var (
	ErrInvalidStatusCode = New("query.invalid_status", CategoryQuery,
		"invalid status code {0}, must be one of 100, 200, 204")
	ErrQueryNotOpen = New("query.not_open", CategoryQuery,
		"Connection to source {0} is currently closed.")
	ErrMissingReplyAddress = New("query.missing_reply_address", CategoryQuery,
		"query context is missing a reply address")
	ErrInvalidUsage = New("query.invalid_usage", CategoryQuery,
		"invalid usage: {0} {1}")
)

// All query-scoped error codes share the connector's wire namespace.
const codePrefix = "io.vantiq.pyexecsource."

const runpythonPrefix = codePrefix + "runpython."

var (
	ErrNoCacheName = New(runpythonPrefix+"nocachename", CategoryValidation,
		"cacheCode was specified without a name to cache under")
	ErrNoCode = New(runpythonPrefix+"nocode", CategoryValidation,
		"no code, script, or name was provided")
	ErrAmbiguousCode = New(runpythonPrefix+"ambiguouscode", CategoryValidation,
		"both code and script were provided; only one may be specified")
	ErrAmbiguousName = New(runpythonPrefix+"ambiguousname", CategoryValidation,
		"name must match script when both are provided")
	ErrBadReturnValuesFor = New(runpythonPrefix+"badreturnvaluesfor", CategoryValidation,
		"limitReturnTo must be a string or list of strings")
	ErrConflictingReturn = New(runpythonPrefix+"conflictingreturn", CategoryValidation,
		"codeHandlesReturn is incompatible with limitReturnTo")
	ErrBadGlobalPreset = New(runpythonPrefix+"badglobalpreset", CategoryValidation,
		"presetValues must be a JSON object")
	ErrNoCacheEntry = New(runpythonPrefix+"nocache", CategoryValidation,
		"no cached artifact exists for name {0}")
)

// Compile errors.
var (
	ErrCompileSyntax = New(codePrefix+"compile.syntaxerror", CategoryCompile,
		"Compilation resulted in: {0}")
	ErrCompileImport = New(codePrefix+"compile.importerror", CategoryCompile,
		"Compilation resulted in: {0}")
	ErrCompileImportWarning = New(codePrefix+"compile.importwarning", CategoryCompile,
		"Compilation resulted in: {0}")
	ErrCompileException = New(codePrefix+"compile.exception", CategoryCompile,
		"Compilation resulted in: {0}")
)

// Execution errors.
var (
	ErrExecutionImport = New(codePrefix+"execution.importerror", CategoryExecution,
		"Execution raised exception: {0}")
	ErrExecutionImportWarning = New(codePrefix+"execution.importwarning", CategoryExecution,
		"Executing code raised exception: {0}")
	ErrExecutionException = New(codePrefix+"execution.exception", CategoryExecution,
		"Executing code raised exception: {0}")
)

// Document-store errors.
var (
	ErrDocIncomplete = New(codePrefix+"docincomplete", CategoryDocStore,
		"document {0} is incomplete")
	ErrDocLength = New(codePrefix+"doclength", CategoryDocStore,
		"document {0} has invalid content length")
	ErrDocContentEmpty = New(codePrefix+"doccontent.empty", CategoryDocStore,
		"document {0} downloaded with empty body")
	ErrDocStoreConnectFailed = New(codePrefix+"vantiqconnectfail", CategoryDocStore,
		"failed to connect to document store: {0}")
)

// WithParams returns a copy of a sentinel error with Params bound, leaving the
// shared sentinel untouched for reuse.
func WithParams(sentinel *Error, params ...interface{}) *Error {
	cp := *sentinel
	cp.Params = params
	return &cp
}
