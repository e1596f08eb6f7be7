package builtin

import (
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/tool/clock"
	"github.com/m-mizutani/llmchat/pkg/tool/file"
	"github.com/m-mizutani/llmchat/pkg/tool/recall"
)

// Tools returns the built-in tool candidates in registration order. Adding a
// tool means adding it here.
func Tools() []tool.Tool {
	return []tool.Tool{
		clock.New(),
		file.New(),
		recall.New(),
	}
}
