package scriptexec

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
	"github.com/streamspace-dev/scriptconnector/internal/sourceconn"
)

// recordingConn captures every frame the handler sends.
type recordingConn struct {
	mu        sync.Mutex
	responses []recordedResponse
	errors    []*connectorerr.Error
	unhealthy int
}

type recordedResponse struct {
	qctx   sourceconn.QueryContext
	status int
	body   interface{}
}

func (r *recordingConn) Name() string { return "Source1" }

func (r *recordingConn) SendQueryResponse(ctx context.Context, qctx sourceconn.QueryContext, status int, body interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, recordedResponse{qctx: qctx, status: status, body: body})
	return nil
}

func (r *recordingConn) SendQueryError(ctx context.Context, qctx sourceconn.QueryContext, cerr *connectorerr.Error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, cerr)
	return nil
}

func (r *recordingConn) SendNotification(ctx context.Context, body interface{}) error { return nil }
func (r *recordingConn) DeclareHealthy()                                              {}
func (r *recordingConn) DeclareUnhealthy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unhealthy++
}

func openHandler(t *testing.T, conn *recordingConn) *Handler {
	t.Helper()
	h := NewHandler(conn, nil)
	config := `{"pythonExecConfig":{"general":{"returnRuntimeInformation":true}}}`
	if err := h.Handlers().OnConnect(json.RawMessage(config)); err != nil {
		t.Fatalf("OnConnect() error = %v", err)
	}
	return h
}

func TestHandlerHappyPathInlineCode(t *testing.T) {
	conn := &recordingConn{}
	h := openHandler(t, conn)

	qctx := sourceconn.QueryContext{SourceName: "Source1", ReplyAddress: "reply-1"}
	h.Handlers().OnQuery(qctx, json.RawMessage(`{"code":"x = 41 + 1","name":"a","cache_code":true}`))

	if len(conn.errors) != 0 {
		t.Fatalf("unexpected errors: %v", conn.errors)
	}
	if len(conn.responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(conn.responses))
	}
	resp := conn.responses[0]
	if resp.status != sourceconn.StatusComplete {
		t.Errorf("status = %d, want 200", resp.status)
	}
	if resp.qctx.ReplyAddress != "reply-1" {
		t.Errorf("reply address = %q", resp.qctx.ReplyAddress)
	}
	payload := resp.body.(map[string]interface{})
	results := payload["pythonCallResults"].(map[string]interface{})
	if toFloat(t, results["x"]) != 42 {
		t.Errorf("pythonCallResults.x = %v, want 42", results["x"])
	}
	if _, ok := payload["connectorRuntimeInfo"]; !ok {
		t.Error("expected connectorRuntimeInfo when returnRuntimeInformation is on")
	}
}

func TestHandlerAmbiguousRequest(t *testing.T) {
	conn := &recordingConn{}
	h := openHandler(t, conn)

	qctx := sourceconn.QueryContext{SourceName: "Source1", ReplyAddress: "reply-2"}
	h.Handlers().OnQuery(qctx, json.RawMessage(`{"code":"pass","script":"doc1"}`))

	if len(conn.responses) != 0 {
		t.Fatalf("unexpected responses: %v", conn.responses)
	}
	if len(conn.errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(conn.errors))
	}
	if conn.errors[0].Code != "io.vantiq.pyexecsource.runpython.ambiguouscode" {
		t.Errorf("error code = %q", conn.errors[0].Code)
	}
}

func TestHandlerQueryBeforeOpen(t *testing.T) {
	conn := &recordingConn{}
	h := NewHandler(conn, nil)

	qctx := sourceconn.QueryContext{SourceName: "Source1", ReplyAddress: "reply-3"}
	h.Handlers().OnQuery(qctx, json.RawMessage(`{"code":"1"}`))

	if len(conn.errors) != 1 {
		t.Fatalf("errors = %d, want 1", len(conn.errors))
	}
	if conn.errors[0].Code != connectorerr.ErrQueryNotOpen.Code {
		t.Errorf("error code = %q, want %q", conn.errors[0].Code, connectorerr.ErrQueryNotOpen.Code)
	}
}

func TestHandlerCloseReopensAsNotOpen(t *testing.T) {
	conn := &recordingConn{}
	h := openHandler(t, conn)

	h.Handlers().OnClose()

	qctx := sourceconn.QueryContext{SourceName: "Source1", ReplyAddress: "reply-4"}
	h.Handlers().OnQuery(qctx, json.RawMessage(`{"code":"1"}`))

	if len(conn.errors) != 1 || conn.errors[0].Code != connectorerr.ErrQueryNotOpen.Code {
		t.Fatalf("expected query.not_open after close, got %v", conn.errors)
	}
}

func TestHandlerCodeHandlesReturnEmitsNothing(t *testing.T) {
	conn := &recordingConn{}
	h := openHandler(t, conn)

	qctx := sourceconn.QueryContext{SourceName: "Source1", ReplyAddress: "reply-5"}
	body := `{"code":"connectorConnection.sendQueryResponse(200, {done: true});","codeHandlesReturn":true}`
	h.Handlers().OnQuery(qctx, json.RawMessage(body))

	if len(conn.errors) != 0 {
		t.Fatalf("unexpected errors: %v", conn.errors)
	}
	// Exactly the one response the script itself sent; no auto-emission.
	if len(conn.responses) != 1 {
		t.Fatalf("responses = %d, want 1 (script-sent only)", len(conn.responses))
	}
}

func TestBooleanValue(t *testing.T) {
	tests := []struct {
		in   interface{}
		want bool
	}{
		{true, true},
		{false, false},
		{"TRUE", true},
		{"yes", true},
		{"t", true},
		{"1", true},
		{"no", false},
		{"", false},
		{42, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := booleanValue(tt.in); got != tt.want {
			t.Errorf("booleanValue(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
