package prompt

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/m-mizutani/llmchat/pkg/model"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// ParseToolCall extracts a tool call from a model reply. The call is a JSON
// object with a "tool" field, either in a fenced code block or as the whole
// reply. Anything else is a plain answer.
func ParseToolCall(reply string) (*model.ToolCall, bool) {
	var candidates []string
	for _, m := range fencedBlock.FindAllStringSubmatch(reply, -1) {
		candidates = append(candidates, m[1])
	}

	trimmed := strings.TrimSpace(reply)
	if strings.HasPrefix(trimmed, "{") {
		candidates = append(candidates, trimmed)
		if end := strings.LastIndex(trimmed, "}"); end > 0 {
			candidates = append(candidates, trimmed[:end+1])
		}
	}

	for _, c := range candidates {
		var call model.ToolCall
		if err := json.Unmarshal([]byte(c), &call); err != nil {
			continue
		}
		call.Tool = strings.TrimSpace(call.Tool)
		if call.Tool == "" {
			continue
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		return &call, true
	}
	return nil, false
}
