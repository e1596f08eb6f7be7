package tool

import (
	"context"

	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/urfave/cli/v3"
)

// Tool represents a capability the model can invoke through the JSON tool
// protocol
type Tool interface {
	// Spec returns the tool descriptor. It must not change after Init.
	Spec() *model.ToolDescriptor

	// Execute runs the tool. Failures the model should see are returned as a
	// Failure result; a non-nil error is converted by the registry.
	Execute(ctx context.Context, params map[string]any) (Result, error)

	// Prompt returns additional information to be added to the system prompt
	// when the tool is selected. Returns empty string if none is needed.
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag

	// Init binds shared resources. Returning false disables the tool.
	Init(ctx context.Context, client *Client) (bool, error)
}
