// Package runtime provides the callback surface bound into a script's global
// scope during execution: connectorConnection (response/health callbacks) and
// connectorContext (source/reply-address identifiers), plus a results handle
// that lets a script call setResult(name, value) in addition to assigning
// global variables.
package runtime

import "sync"

// Connection is the subset of source-connection behavior a running script may
// invoke. Implemented in production by the scriptexec handler's
// boundConnection, which binds a source connection to one query's context.
type Connection interface {
	SendQueryResponseRaw(status int, body interface{}) error
	SendQueryErrorRaw(code, template string, params []interface{}) error
	SendNotificationRaw(body interface{}) error
	DeclareUnhealthy()
	DeclareHealthy()
}

// Context carries the source name and reply address of the query a script
// instance is executing on behalf of.
type Context struct {
	SourceName   string `json:"sourceName"`
	ReplyAddress string `json:"replyAddress"`
}

// Results is the explicit results handle scripts use via
// connectorConnection.setResult(name, value), collected by the executor after
// the script runs and merged with (filtered by) limitReturnTo.
type Results struct {
	mu     sync.Mutex
	values map[string]interface{}
}

func NewResults() *Results {
	return &Results{values: make(map[string]interface{})}
}

// SetResult is the function bound as connectorConnection.setResult.
func (r *Results) SetResult(name string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[name] = value
}

// Snapshot returns a copy of the accumulated results.
func (r *Results) Snapshot() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Surface is the bound object exposed to scripts as `connectorConnection`.
type Surface struct {
	conn    Connection
	results *Results
}

func NewSurface(conn Connection, results *Results) *Surface {
	return &Surface{conn: conn, results: results}
}

func (s *Surface) SendQueryResponse(status int, body interface{}) error {
	return s.conn.SendQueryResponseRaw(status, body)
}

func (s *Surface) SendQueryError(code, template string, params []interface{}) error {
	return s.conn.SendQueryErrorRaw(code, template, params)
}

func (s *Surface) SendNotification(body interface{}) error {
	return s.conn.SendNotificationRaw(body)
}

func (s *Surface) DeclareUnhealthy() { s.conn.DeclareUnhealthy() }
func (s *Surface) DeclareHealthy()   { s.conn.DeclareHealthy() }

func (s *Surface) SetResult(name string, value interface{}) {
	s.results.SetResult(name, value)
}
