// Package scriptexec implements the script-execution query handler: request
// option parsing and validation, the compile/cache/execute pipeline via goja,
// and per-call telemetry reporting.
package scriptexec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/streamspace-dev/scriptconnector/internal/connectorerr"
)

// RequestOptions is the parsed and validated shape of a query's payload.
type RequestOptions struct {
	Code              string
	Script            string
	Name              string
	CacheCode         *bool
	Replace           bool
	CodeHandlesReturn bool
	LimitReturnTo     []string
	PresetValues      map[string]interface{}
}

type rawOptions struct {
	Code              *string         `json:"code"`
	Script            *string         `json:"script"`
	Name              *string         `json:"name"`
	CacheCode         *bool           `json:"cache_code"`
	Replace           *bool           `json:"replace"`
	CodeHandlesReturn *bool           `json:"codeHandlesReturn"`
	LimitReturnTo     json.RawMessage `json:"limitReturnTo"`
	PresetValues      json.RawMessage `json:"presetValues"`
}

// ParseOptions validates and normalizes a raw query body into RequestOptions,
// enforcing the mutual-exclusion rules between code, script, and name, and
// returning the namespaced validation error codes on failure.
func ParseOptions(body json.RawMessage) (RequestOptions, *connectorerr.Error) {
	var raw rawOptions
	if err := json.Unmarshal(body, &raw); err != nil {
		return RequestOptions{}, connectorerr.ErrNoCode
	}

	opts := RequestOptions{}
	if raw.Code != nil {
		opts.Code = *raw.Code
	}
	if raw.Script != nil {
		opts.Script = *raw.Script
	}
	if raw.Name != nil {
		opts.Name = *raw.Name
	}
	if raw.Replace != nil {
		opts.Replace = *raw.Replace
	}
	if raw.CodeHandlesReturn != nil {
		opts.CodeHandlesReturn = *raw.CodeHandlesReturn
	}
	opts.CacheCode = raw.CacheCode

	hasCode := opts.Code != ""
	hasScript := opts.Script != ""

	if hasCode && hasScript {
		return RequestOptions{}, connectorerr.ErrAmbiguousCode
	}
	// A fetched script is cached under its own document name; an explicit
	// name is tolerated only when it agrees.
	if hasScript {
		if opts.Name != "" && opts.Name != opts.Script {
			return RequestOptions{}, connectorerr.ErrAmbiguousName
		}
		opts.Name = opts.Script
	}
	hasName := opts.Name != ""

	if !hasCode && !hasScript && !hasName {
		return RequestOptions{}, connectorerr.ErrNoCode
	}

	if opts.CacheCode != nil && *opts.CacheCode && !hasName {
		return RequestOptions{}, connectorerr.ErrNoCacheName
	}

	if len(raw.LimitReturnTo) > 0 {
		limit, err := parseLimitReturnTo(raw.LimitReturnTo)
		if err != nil {
			return RequestOptions{}, connectorerr.ErrBadReturnValuesFor
		}
		opts.LimitReturnTo = limit
	}

	if opts.CodeHandlesReturn && len(opts.LimitReturnTo) > 0 {
		return RequestOptions{}, connectorerr.ErrConflictingReturn
	}

	if len(raw.PresetValues) > 0 {
		var preset map[string]interface{}
		if err := json.Unmarshal(raw.PresetValues, &preset); err != nil {
			return RequestOptions{}, connectorerr.ErrBadGlobalPreset
		}
		opts.PresetValues = preset
	}

	return opts, nil
}

func parseLimitReturnTo(raw json.RawMessage) ([]string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if asString == "" {
			return nil, nil
		}
		return splitAndTrim(asString), nil
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	return nil, fmt.Errorf("limitReturnTo must be a string or list of strings")
}

func splitAndTrim(s string) []string {
	var out []string
	for _, field := range strings.Split(s, ",") {
		if field = strings.TrimSpace(field); field != "" {
			out = append(out, field)
		}
	}
	return out
}

// CacheResultDefault reports whether compile output should be cached: an
// explicit cache_code wins, otherwise caching is on whenever a name is given.
func (o RequestOptions) CacheResultDefault() bool {
	if o.CacheCode != nil {
		return *o.CacheCode
	}
	return o.Name != ""
}
