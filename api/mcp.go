package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/hovertime/display"
)

// endpoint is a transport-neutral operation: typed request in, JSON-able
// response out.
type endpoint func(ctx context.Context, req any) (any, error)

// registerTool exposes an endpoint as an MCP tool. Decode and endpoint
// errors become tool errors, not protocol errors.
func registerTool(srv *mcp.Server, tool *mcp.Tool, ep endpoint, decode func(*mcp.CallToolRequest) (any, error)) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in, err := decode(req)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("invalid arguments: %w", err))
			return &res, nil
		}
		out, err := ep(ctx, in)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(errors.New(err.Error()))
			return &res, nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			var res mcp.CallToolResult
			res.SetError(fmt.Errorf("marshal: %w", err))
			return &res, nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

// decodeInto returns a decoder for requests of type T. Missing arguments
// decode to the zero value.
func decodeInto[T any]() func(*mcp.CallToolRequest) (any, error) {
	return func(req *mcp.CallToolRequest) (any, error) {
		var v T
		if req.Params != nil && len(req.Params.Arguments) > 0 {
			if err := json.Unmarshal(req.Params.Arguments, &v); err != nil {
				return nil, err
			}
		}
		return &v, nil
	}
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type lookupRequest struct {
	Fingerprint string `json:"fingerprint"`
}

type fingerprintRequest struct {
	Text string `json:"text"`
}

type listRequest struct {
	Limit int `json:"limit,omitempty"`
}

type empty struct{}

// RegisterMCP registers the hovertime tools on srv.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	registerTool(srv, &mcp.Tool{
		Name:        "hovertime_lookup",
		Description: "Return the stored creation time of a chat message by fingerprint (msg_ followed by base36).",
		InputSchema: inputSchema(map[string]any{
			"fingerprint": map[string]any{"type": "string", "description": "Message fingerprint, e.g. msg_1n1e4y"},
		}, []string{"fingerprint"}),
	}, func(ctx context.Context, req any) (any, error) {
		return s.Lookup(ctx, req.(*lookupRequest).Fingerprint)
	}, decodeInto[lookupRequest]())

	registerTool(srv, &mcp.Tool{
		Name:        "hovertime_timestamps",
		Description: "List stored message creation times, most recent last. limit keeps only the most recent entries.",
		InputSchema: inputSchema(map[string]any{
			"limit": map[string]any{"type": "integer", "description": "Max entries (default all)"},
		}, nil),
	}, func(ctx context.Context, req any) (any, error) {
		all := s.Timestamps(ctx)
		if n := req.(*listRequest).Limit; n > 0 && n < len(all) {
			all = all[len(all)-n:]
		}
		return all, nil
	}, decodeInto[listRequest]())

	registerTool(srv, &mcp.Tool{
		Name:        "hovertime_fingerprint",
		Description: "Compute the fingerprint of a message text and return its stored creation time if known.",
		InputSchema: inputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Message text as displayed"},
		}, []string{"text"}),
	}, func(ctx context.Context, req any) (any, error) {
		return s.Fingerprint(ctx, req.(*fingerprintRequest).Text), nil
	}, decodeInto[fingerprintRequest]())

	registerTool(srv, &mcp.Tool{
		Name:        "hovertime_settings",
		Description: "Return the hover label display settings with a preview of the current time.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ any) (any, error) {
		return s.Settings(ctx), nil
	}, decodeInto[empty]())

	registerTool(srv, &mcp.Tool{
		Name:        "hovertime_update_settings",
		Description: "Change display settings. Omitted fields keep their value. A change rebuilds every hover label.",
		InputSchema: inputSchema(map[string]any{
			"color":      map[string]any{"type": "string", "description": "Hex colour, e.g. #3b82f6"},
			"timeFormat": map[string]any{"type": "string", "enum": []any{display.TimeFormat12h, display.TimeFormat24h}},
			"dateFormat": map[string]any{"type": "string", "enum": []any{display.DateFormatNumeric, display.DateFormatLetters}},
			"showDate":   map[string]any{"type": "boolean", "description": "Prefix the time with the date"},
		}, nil),
	}, func(ctx context.Context, req any) (any, error) {
		return s.UpdateSettings(ctx, *req.(*display.Patch))
	}, decodeInto[display.Patch]())

	registerTool(srv, &mcp.Tool{
		Name:        "hovertime_transcript",
		Description: "Return the messages currently showing a hover label as Markdown with their creation time, oldest first.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ any) (any, error) {
		return s.Transcript(ctx)
	}, decodeInto[empty]())

	registerTool(srv, &mcp.Tool{
		Name:        "hovertime_refresh",
		Description: "Remove every hover label and rescan the page.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, func(ctx context.Context, _ any) (any, error) {
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "refreshed"}, nil
	}, decodeInto[empty]())
}
