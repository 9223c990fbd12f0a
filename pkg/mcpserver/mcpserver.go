// Package mcpserver exposes loaded capabilities as Model Context Protocol
// tools, so MCP clients can discover and run them.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"

	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/engine"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/logger"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/params"
	"github.com/pluginagentmarketplace/custom-plugin-ai-agents/pkg/types/capability"
)

const (
	// ServerName is reported to MCP clients during initialization
	ServerName = "agentplug"

	// RequestArg carries the free-text request of a capability tool call
	RequestArg = "request"

	// ResolveTool matches a free-text request and executes the best plan
	ResolveTool = "agentplug_resolve"
)

var invalidToolChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

const maxToolName = 64

// ToolName returns the MCP tool name of a capability id. Distinct ids may
// share a tool name; New disambiguates them.
func ToolName(id string) string {
	name := invalidToolChars.ReplaceAllString(id, "_")
	if len(name) > maxToolName {
		name = name[:maxToolName]
	}
	return name
}

// toolNames assigns a unique tool name to every descriptor. Ids that are
// already valid tool names keep them; the others get ToolName(id), with a
// numeric suffix when that name is taken.
func toolNames(descriptors []*capability.Descriptor) map[string]string {
	names := make(map[string]string, len(descriptors))
	taken := map[string]struct{}{ResolveTool: {}}

	for _, d := range descriptors {
		name := ToolName(d.ID)
		if name != d.ID {
			continue
		}
		if _, ok := taken[name]; ok {
			continue
		}
		names[d.ID] = name
		taken[name] = struct{}{}
	}

	for _, d := range descriptors {
		if _, ok := names[d.ID]; ok {
			continue
		}
		base := ToolName(d.ID)
		name := base
		for n := 2; ; n++ {
			if _, ok := taken[name]; !ok {
				break
			}
			suffix := fmt.Sprintf("_%d", n)
			trimmed := base
			if len(trimmed)+len(suffix) > maxToolName {
				trimmed = trimmed[:maxToolName-len(suffix)]
			}
			name = trimmed + suffix
		}
		if name != base {
			logger.G(context.Background()).WithFields(map[string]interface{}{
				"descriptor": d.ID,
				"tool":       name,
			}).Warn("MCP tool name collision, using suffixed name")
		}
		names[d.ID] = name
		taken[name] = struct{}{}
	}
	return names
}

// New creates an MCP server with one tool per capability in the engine's
// current snapshot, plus ResolveTool. The engine must be loaded.
func New(eng *engine.Engine, version string) (*server.MCPServer, error) {
	snap := eng.Snapshot()
	if snap == nil {
		return nil, engine.ErrNotLoaded
	}

	s := server.NewMCPServer(ServerName, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool(ResolveTool,
		mcp.WithDescription("Match a free-text request against the available skills, agents and commands and run the best plan"),
		mcp.WithString(RequestArg, mcp.Required(), mcp.Description("What you want done")),
	), resolveHandler(eng))

	descriptors := snap.Registry.All()
	names := toolNames(descriptors)
	for _, d := range descriptors {
		tool, err := capabilityTool(d, names[d.ID])
		if err != nil {
			return nil, err
		}
		s.AddTool(tool, capabilityHandler(eng, d.ID))
	}

	logger.G(context.Background()).WithField("tools", snap.Registry.Len()+1).Debug("registered MCP tools")
	return s, nil
}

// capabilityTool builds a tool whose input schema is the capability's
// parameter schema plus the free-text request
func capabilityTool(d *capability.Descriptor, name string) (mcp.Tool, error) {
	b, err := json.Marshal(params.JSONSchema(d))
	if err != nil {
		return mcp.Tool{}, errors.Wrapf(err, "failed to render schema of '%s'", d.ID)
	}
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(b, &schema); err != nil {
		return mcp.Tool{}, errors.Wrapf(err, "failed to render schema of '%s'", d.ID)
	}
	if schema.Properties == nil {
		schema.Properties = map[string]any{}
	}
	if _, taken := schema.Properties[RequestArg]; !taken {
		schema.Properties[RequestArg] = map[string]any{
			"type":        "string",
			"description": "The request to pass to the " + string(d.Kind),
		}
	}

	return mcp.Tool{
		Name:        name,
		Description: fmt.Sprintf("[%s] %s", d.Kind, d.Description),
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: schema.Properties,
			Required:   schema.Required,
		},
	}, nil
}

func capabilityHandler(eng *engine.Engine, id string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, input := toRawArgs(request)
		plan, err := eng.ResolveID(ctx, id, input, raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return execute(ctx, eng, plan), nil
	}
}

func resolveHandler(eng *engine.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		raw, input := toRawArgs(request)
		if strings.TrimSpace(input) == "" {
			return mcp.NewToolResultError(RequestArg + " is required"), nil
		}
		plan, err := eng.Resolve(ctx, input, raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return execute(ctx, eng, plan), nil
	}
}

// execute runs plan and renders every step output. Failures become tool
// errors carrying the partial output.
func execute(ctx context.Context, eng *engine.Engine, plan *capability.Plan) *mcp.CallToolResult {
	results, err := eng.Execute(ctx, plan)
	var failure *capability.ExecutionFailure
	if errors.As(err, &failure) {
		results = failure.Partial
	}

	var out strings.Builder
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				out.WriteString("\n\n")
			}
			fmt.Fprintf(&out, "## %s\n\n", r.DescriptorID)
		}
		out.WriteString(r.Output)
	}

	if err != nil {
		if out.Len() > 0 {
			out.WriteString("\n\n")
		}
		out.WriteString("error: " + err.Error())
		return mcp.NewToolResultError(out.String())
	}
	return mcp.NewToolResultText(out.String())
}

// toRawArgs converts JSON tool arguments to the string form the parameter
// validator coerces. Arrays are joined with commas.
func toRawArgs(request mcp.CallToolRequest) (map[string]string, string) {
	args, _ := any(request.Params.Arguments).(map[string]any)

	raw := make(map[string]string, len(args))
	var input string
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if k == RequestArg {
			input, _ = args[k].(string)
			continue
		}
		if v, ok := stringify(args[k]); ok {
			raw[k] = v
		}
	}
	return raw, input
}

func stringify(v any) (string, bool) {
	switch v := v.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := stringify(item); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ","), true
	default:
		return fmt.Sprint(v), true
	}
}
