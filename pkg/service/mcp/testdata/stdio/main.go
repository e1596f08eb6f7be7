package main

import (
	"context"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type greetParams struct {
	Name     string `json:"name" jsonschema:"Name to greet"`
	Language string `json:"language,omitempty" jsonschema:"Greeting language"`
}

func greet(ctx context.Context, req *mcp.CallToolRequest, params *greetParams) (*mcp.CallToolResult, any, error) {
	name := params.Name
	if name == "" {
		name = "World"
	}

	greeting := "Hello"
	if params.Language == "ja" {
		greeting = "Konnichiwa"
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: greeting + ", " + name + "!"},
		},
	}, nil, nil
}

type lookupParams struct {
	Key string `json:"key" jsonschema:"Key to look up"`
}

func lookup(ctx context.Context, req *mcp.CallToolRequest, params *lookupParams) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: "no such key: " + params.Key},
		},
	}, nil, nil
}

func main() {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-stdio-server",
		Version: "1.0.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "greet",
		Description: "Greet someone by name",
	}, greet)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "Lookup-Key",
		Description: "Look up a stored value",
	}, lookup)

	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
