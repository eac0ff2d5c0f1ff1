// Command banter-tools is a small stdio tool server for trying banter
// end to end. It advertises a text lookup tool and a dashboard tool whose
// result carries an embeddable ui:// resource.
//
// Wire it up in ~/.banter/config.yaml:
//
//	tools:
//	  servers:
//	    - name: demo
//	      command: banter-tools
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/banterhq/banter/internal/version"
)

func main() {
	s := server.NewMCPServer(
		"banter-tools",
		version.Version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(mcp.NewToolWithRawSchema(
		"lookup",
		"Look up a term in the built-in glossary",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "term to look up"}
			},
			"required": ["query"]
		}`),
	), handleLookup)

	s.AddTool(mcp.NewToolWithRawSchema(
		"dashboard",
		"Render a small status dashboard",
		json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "description": "dashboard heading"}
			}
		}`),
	), handleDashboard)

	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}

var glossary = map[string]string{
	"session":    "a persisted, titled sequence of chat messages",
	"tool":       "a named, parameterized action the assistant can run",
	"transcript": "the ordered message history of one session",
}

func handleLookup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, _ := args["query"].(string)
	if query == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	if def, ok := glossary[strings.ToLower(strings.TrimSpace(query))]; ok {
		return mcp.NewToolResultText(fmt.Sprintf("%s: %s", query, def)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("no entry for %q", query)), nil
}

func handleDashboard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	title, _ := args["title"].(string)
	if title == "" {
		title = "banter demo"
	}

	page := fmt.Sprintf(`<h1>%s</h1>
<p>Rendered at %s.</p>
<button onclick="parent.postMessage({id: 'r1', action: {type: 'tool', payload: {name: 'lookup', params: {query: 'session'}}}}, '*')">
  Look up "session"
</button>`, title, time.Now().Format(time.RFC3339))

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "Dashboard ready."},
			mcp.EmbeddedResource{
				Type: "resource",
				Resource: mcp.TextResourceContents{
					URI:      "ui://banter-tools/dashboard",
					MIMEType: "text/html",
					Text:     page,
				},
			},
		},
	}, nil
}
