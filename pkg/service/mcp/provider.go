package mcp

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
)

// Category is the tool category given to every remote MCP tool
const Category = "mcp"

// Provider turns the tools of connected MCP servers into tool.Tool variants
type Provider struct {
	client *Client
}

// NewProvider creates a new MCP tool provider
func NewProvider(client *Client) *Provider {
	return &Provider{client: client}
}

// Client returns the underlying MCP client
func (p *Provider) Client() *Client {
	return p.client
}

// Tools converts every remote tool into a tool.Tool. Tools whose input schema
// cannot be converted are skipped with a warning.
func (p *Provider) Tools(ctx context.Context) []tool.Tool {
	if p == nil || p.client == nil {
		return nil
	}
	logger := logging.From(ctx)

	var tools []tool.Tool
	for _, serverName := range p.client.GetAllServers() {
		remote, err := p.client.GetTools(serverName)
		if err != nil {
			logger.Warn("failed to get MCP tools", "server", serverName, logging.ErrAttr(err))
			continue
		}

		for _, t := range remote {
			spec, err := descriptorOf(t)
			if err != nil {
				logger.Warn("skip MCP tool", "server", serverName, "tool", t.Name, logging.ErrAttr(err))
				continue
			}
			tools = append(tools, &remoteTool{
				client:     p.client,
				serverName: serverName,
				remoteName: t.Name,
				spec:       spec,
			})
		}
	}
	return tools
}

// remoteTool is one tool hosted by an MCP server
type remoteTool struct {
	client     *Client
	serverName string
	remoteName string
	spec       *model.ToolDescriptor
}

func (x *remoteTool) Spec() *model.ToolDescriptor {
	return x.spec
}

func (x *remoteTool) Flags() []cli.Flag {
	return nil
}

func (x *remoteTool) Init(ctx context.Context, client *tool.Client) (bool, error) {
	return true, nil
}

func (x *remoteTool) Prompt(ctx context.Context) string {
	return ""
}

// Execute calls the remote tool. A result flagged as an error by the server
// becomes a failure result; transport errors are returned.
func (x *remoteTool) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	args := make(map[string]any, len(params))
	for k, v := range params {
		if k == "confirm" {
			continue
		}
		args[k] = v
	}

	result, err := x.client.CallTool(ctx, x.serverName, x.remoteName, args)
	if err != nil {
		return nil, err
	}

	text := contentText(result.Content)
	if result.IsError {
		if text == "" {
			text = "remote tool reported an error"
		}
		return tool.Failure("%s", text), nil
	}

	data := map[string]any{
		"server":  x.serverName,
		"content": text,
	}
	if result.StructuredContent != nil {
		data["structured"] = result.StructuredContent
	}
	return tool.Success(data), nil
}

func contentText(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		switch v := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.ImageContent:
			parts = append(parts, "[image "+v.MIMEType+"]")
		case *mcp.AudioContent:
			parts = append(parts, "[audio "+v.MIMEType+"]")
		}
	}
	return strings.Join(parts, "\n")
}

func descriptorOf(t *mcp.Tool) (*model.ToolDescriptor, error) {
	params, err := convertInputSchema(t.InputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to convert input schema")
	}

	desc := t.Description
	if desc == "" && t.Title != "" {
		desc = t.Title
	}
	spec := &model.ToolDescriptor{
		Name:        ToolName(t.Name),
		Description: desc,
		Category:    Category,
		Parameters:  params,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// ToolName maps a remote tool name onto the local lowercase_with_underscores
// convention
func ToolName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" || out[0] < 'a' || out[0] > 'z' {
		out = "mcp_" + out
	}
	return out
}
