package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/omrylcn/gbot/internal/tools"
)

// BridgeTool adapts one remote MCP tool to the registry contract. The
// registered name is prefixed with the server name so two servers can
// expose the same tool without colliding.
type BridgeTool struct {
	serverName string
	tool       mcpgo.Tool
	client     *mcpclient.Client
	timeout    time.Duration
	connected  *atomic.Bool
}

func NewBridgeTool(serverName string, tool mcpgo.Tool, client *mcpclient.Client, timeoutSec int, connected *atomic.Bool) *BridgeTool {
	return &BridgeTool{
		serverName: serverName,
		tool:       tool,
		client:     client,
		timeout:    time.Duration(timeoutSec) * time.Second,
		connected:  connected,
	}
}

func (b *BridgeTool) Name() string { return b.serverName + "_" + b.tool.Name }

// OriginalName returns the tool's name on the remote server.
func (b *BridgeTool) OriginalName() string { return b.tool.Name }

func (b *BridgeTool) Description() string {
	if b.tool.Description != "" {
		return b.tool.Description
	}
	return fmt.Sprintf("%s tool from the %s MCP server", b.tool.Name, b.serverName)
}

// Parameters round-trips the remote input schema through JSON; the
// schema arrived as JSON in the first place, so this cannot lose
// anything the server sent.
func (b *BridgeTool) Parameters() map[string]interface{} {
	raw, err := json.Marshal(b.tool.InputSchema)
	if err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	var schema map[string]interface{}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	return schema
}

func (b *BridgeTool) Execute(ctx context.Context, args map[string]interface{}) *tools.Result {
	if !b.connected.Load() {
		return tools.ErrorResult(fmt.Sprintf("MCP server %s is not connected", b.serverName))
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := mcpgo.CallToolRequest{}
	req.Params.Name = b.tool.Name
	req.Params.Arguments = args

	result, err := b.client.CallTool(callCtx, req)
	if err != nil {
		return tools.ErrorResult(fmt.Sprintf("MCP tool %s failed: %v", b.Name(), err)).WithError(err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error without detail"
		}
		return tools.ErrorResult(text)
	}
	if text == "" {
		text = "(empty result)"
	}
	return tools.NewResult(text)
}

// flattenContent joins text blocks; non-text content is named but not
// inlined, since the conversation transport is text.
func flattenContent(content []mcpgo.Content) string {
	var sb strings.Builder
	for _, c := range content {
		switch v := c.(type) {
		case mcpgo.TextContent:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(v.Text)
		case mcpgo.ImageContent:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			fmt.Fprintf(&sb, "[image content, %s]", v.MIMEType)
		case mcpgo.EmbeddedResource:
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("[embedded resource]")
		}
	}
	return sb.String()
}
