package policy

import (
	"context"
	_ "embed"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed default.rego
var defaultPolicy string

const confirmQuery = "data.confirm"

// regoPrintHook sends Rego print() output to the debug log
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Confirm decides which tool calls need user confirmation before they run
type Confirm struct {
	query *rego.PreparedEvalQuery
}

// Decision is the outcome of a confirmation check
type Decision struct {
	Required bool
	Reasons  []string
}

// Summary joins reasons into one line for display
func (d *Decision) Summary() string {
	return strings.Join(d.Reasons, "; ")
}

// New loads the built-in policy plus every .rego file in policyDir. An
// empty policyDir uses only the built-in policy.
func New(ctx context.Context, policyDir string) (*Confirm, error) {
	modules := []func(*rego.Rego){rego.Module("default.rego", defaultPolicy)}

	if policyDir != "" {
		files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to glob policy files")
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read policy file", goerr.Value("path", file))
			}
			modules = append(modules, rego.Module(file, string(data)))
		}
	}

	query, err := prepareQuery(ctx, modules, confirmQuery)
	if err != nil {
		return nil, err
	}
	return &Confirm{query: query}, nil
}

// prepareQuery prepares a Rego query with all loaded modules
func prepareQuery(ctx context.Context, modules []func(*rego.Rego), query string) (*rego.PreparedEvalQuery, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+2)
	options = append(options, rego.Query(query), rego.EnablePrintStatements(true))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.Value("query", query))
	}
	return &prepared, nil
}

// Check evaluates the policy for one tool call
func (c *Confirm) Check(ctx context.Context, desc *model.ToolDescriptor, params map[string]any) (*Decision, error) {
	if params == nil {
		params = map[string]any{}
	}
	input := map[string]any{
		"tool":     desc.Name,
		"category": desc.Category,
		"params":   params,
	}

	rs, err := c.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate confirm policy", goerr.V("tool", desc.Name))
	}

	decision := &Decision{}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return decision, nil
	}
	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return decision, nil
	}

	reasons, _ := data["reasons"].([]any)
	for _, r := range reasons {
		if s, ok := r.(string); ok {
			decision.Reasons = append(decision.Reasons, s)
		}
	}
	sort.Strings(decision.Reasons)
	decision.Required = len(decision.Reasons) > 0
	return decision, nil
}
