// Package sourceconn implements the per-source connection state machine:
// dial, authenticate, negotiate configuration, then serve publish/query/
// notification frames until a reconnect is required, looping with backoff.
package sourceconn

import "encoding/json"

// Wire operation names, carried verbatim from the external protocol.
const (
	OpValidate           = "validate"
	OpConnectExtension   = "connectExtension"
	OpConfigureExtension = "configureExtension"
	OpReconnectRequired  = "reconnectRequired"
	OpPublish            = "publish"
	OpQuery              = "query"
	OpNotification       = "notification"
)

// opTestClose is a pseudo-operation the test server sends to shut the
// connection down terminally instead of triggering a reconnect.
const opTestClose = "testRequestsClientClose"

// Wire resource names.
const (
	credentialsResource = "system.credentials"
	sourcesResource     = "sources"
)

// ParamReconnectSecret is the key under which the reconnect secret is sent in
// the connectExtension frame's parameters.
const ParamReconnectSecret = "reconnectSecret"

// ReplyAddressHeader is the outbound header carrying the query correlation id.
const ReplyAddressHeader = "X-Reply-Address"

// originAddressKey is the inbound messageHeaders key the server uses to hand
// us the reply address for a query.
const originAddressKey = "REPLY_ADDR_HEADER"

// Status codes for query responses.
const (
	StatusComplete = 200
	StatusEmpty    = 204
	StatusPartial  = 100
	StatusError    = 400
)

// Frame is one JSON message exchanged over the websocket connection, in
// either direction. Fields are a union over every frame shape the protocol
// uses; omitempty keeps each serialized frame minimal.
type Frame struct {
	Op             string                 `json:"op,omitempty"`
	ResourceName   string                 `json:"resourceName,omitempty"`
	ResourceID     string                 `json:"resourceId,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Object         json.RawMessage        `json:"object,omitempty"`
	Status         int                    `json:"status,omitempty"`
	Headers        map[string]string      `json:"headers,omitempty"`
	MessageHeaders map[string]string      `json:"messageHeaders,omitempty"`
	Body           json.RawMessage        `json:"body,omitempty"`
}

// replyAddress extracts the inbound reply address, or "".
func (f Frame) replyAddress() string {
	if f.MessageHeaders == nil {
		return ""
	}
	return f.MessageHeaders[originAddressKey]
}

// statusBodyEntry is one element of the body a status frame carries when the
// server reports an error (e.g. an auth rejection).
type statusBodyEntry struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// firstStatusError decodes the first code/message pair from a status frame's
// body, returning empty strings if the body is absent or unparseable.
func firstStatusError(body json.RawMessage) (string, string) {
	var entries []statusBodyEntry
	if err := json.Unmarshal(body, &entries); err != nil || len(entries) == 0 {
		return "", ""
	}
	return entries[0].Code, entries[0].Message
}

// errorBody is the body shape of an outbound query-error frame.
type errorBody struct {
	Code     string        `json:"messageCode"`
	Template string        `json:"messageTemplate"`
	Params   []interface{} `json:"parameters"`
}

// QueryContext identifies the source and reply address a query/notification
// response must be addressed to.
type QueryContext struct {
	SourceName   string
	ReplyAddress string
}

// Handlers is the set of callbacks a source connection dispatches inbound
// frames to. Any callback may be nil. OnConnect receives the negotiated
// configuration object; OnQuery runs on its own goroutine per query with no
// ordering guarantee across queries; panics in any handler are recovered and
// logged rather than tearing down the connection.
type Handlers struct {
	OnConnect func(config json.RawMessage) error
	OnPublish func(ctx QueryContext, body json.RawMessage)
	OnQuery   func(ctx QueryContext, body json.RawMessage)
	OnClose   func()
}
