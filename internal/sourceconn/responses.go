package sourceconn

import (
	"context"
	"encoding/json"

	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
)

func validateStatus(status int) error {
	switch status {
	case StatusComplete, StatusEmpty, StatusPartial:
		return nil
	default:
		return connectorerr.WithParams(connectorerr.ErrInvalidStatusCode, status)
	}
}

func (c *SourceConnection) validateContext(ctx QueryContext) error {
	if ctx.SourceName != c.opts.SourceName {
		return connectorerr.WithParams(connectorerr.ErrInvalidUsage, "sourceName", ctx.SourceName)
	}
	if ctx.ReplyAddress == "" {
		return connectorerr.ErrMissingReplyAddress
	}
	return nil
}

// SendQueryResponse sends a query-result frame back to the caller identified
// by ctx. body is required unless status is StatusEmpty.
func (c *SourceConnection) SendQueryResponse(pctx context.Context, ctx QueryContext, status int, body interface{}) error {
	if err := validateStatus(status); err != nil {
		return err
	}
	if status != StatusEmpty && body == nil {
		return connectorerr.WithParams(connectorerr.ErrInvalidUsage, "body", "required unless status is 204")
	}
	if err := c.validateContext(ctx); err != nil {
		return err
	}

	var raw json.RawMessage
	if status != StatusEmpty {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		raw = data
	}

	frame := Frame{
		Status:  status,
		Headers: map[string]string{ReplyAddressHeader: ctx.ReplyAddress},
		Body:    raw,
	}
	return c.send(pctx, frame)
}

// SendQueryError sends a StatusError query response carrying a coded error.
// err must carry a non-empty Code and Template; a nil err or one missing
// either field is rejected before any socket write.
func (c *SourceConnection) SendQueryError(pctx context.Context, ctx QueryContext, err *connectorerr.Error) error {
	if err == nil || err.Code == "" || err.Template == "" {
		return connectorerr.WithParams(connectorerr.ErrInvalidUsage, "error", "must carry messageCode and messageTemplate")
	}
	if verr := c.validateContext(ctx); verr != nil {
		return verr
	}

	params := err.Params
	if params == nil {
		params = []interface{}{}
	}
	body, merr := json.Marshal(errorBody{Code: err.Code, Template: err.Template, Params: params})
	if merr != nil {
		return merr
	}

	frame := Frame{
		Status:  StatusError,
		Headers: map[string]string{ReplyAddressHeader: ctx.ReplyAddress},
		Body:    body,
	}
	return c.send(pctx, frame)
}

// SendNotification sends an unsolicited event frame for this source.
func (c *SourceConnection) SendNotification(pctx context.Context, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	frame := Frame{
		Op:           OpNotification,
		ResourceName: sourcesResource,
		ResourceID:   c.opts.SourceName,
		Object:       data,
	}
	return c.send(pctx, frame)
}
