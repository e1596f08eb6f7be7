package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/adapter"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/policy"
	"github.com/m-mizutani/llmchat/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// DefaultSettleDelay is how long the registry waits after the memory service
// reports ready before indexing tools
const DefaultSettleDelay = 2 * time.Second

// Guard decides whether a tool call needs user confirmation
type Guard interface {
	Check(ctx context.Context, desc *model.ToolDescriptor, params map[string]any) (*policy.Decision, error)
}

// Registry manages available tools for the LLM
type Registry struct {
	mu          sync.RWMutex
	candidates  []Tool
	tools       map[string]Tool
	memory      adapter.MemoryService
	guard       Guard
	settleDelay time.Duration
}

// New creates a new tool registry with candidate tools. Candidates are not
// usable until Init.
func New(tools ...Tool) *Registry {
	return &Registry{
		candidates:  tools,
		tools:       make(map[string]Tool),
		settleDelay: DefaultSettleDelay,
	}
}

// SetGuard installs the confirmation guard consulted by Execute
func (r *Registry) SetGuard(g Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guard = g
}

// SetSettleDelay overrides DefaultSettleDelay
func (r *Registry) SetSettleDelay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleDelay = d
}

// Flags returns all candidate tool flags combined
func (r *Registry) Flags() []cli.Flag {
	var flags []cli.Flag
	for _, t := range r.candidates {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Init initializes every candidate and registers the enabled ones. A tool
// that fails to initialize or has an invalid descriptor is skipped with a
// warning; loading continues.
func (r *Registry) Init(ctx context.Context, client *Client) {
	logger := logging.From(ctx)

	for _, t := range r.candidates {
		enabled, err := t.Init(ctx, client)
		if err != nil {
			logger.Warn("skip tool: init failed", logging.ErrAttr(err))
			continue
		}
		if !enabled {
			continue
		}
		if err := r.Register(ctx, t); err != nil {
			logger.Warn("skip tool: invalid descriptor", logging.ErrAttr(err))
		}
	}
}

// Register adds loaded tools. A name registered twice keeps the later tool.
// Invalid tools are skipped and the first validation error is returned after
// the valid ones are registered.
func (r *Registry) Register(ctx context.Context, tools ...Tool) error {
	logger := logging.From(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, t := range tools {
		spec := t.Spec()
		if err := spec.Validate(); err != nil {
			if firstErr == nil {
				firstErr = goerr.Wrap(err, "tool descriptor is invalid")
			}
			continue
		}
		if _, exists := r.tools[spec.Name]; exists {
			logger.Warn("duplicate tool name, replacing earlier registration", "name", spec.Name)
		}
		r.tools[spec.Name] = t
		logger.Debug("tool registered", "name", spec.Name, "category", spec.Category)
	}
	return firstErr
}

// GetTools returns all loaded tools sorted by name
func (r *Registry) GetTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

func (r *Registry) sortedLocked() []Tool {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	tools := make([]Tool, len(names))
	for i, name := range names {
		tools[i] = r.tools[name]
	}
	return tools
}

// GetTool returns the tool with the given name
func (r *Registry) GetTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// GetToolsAsSchemaArray returns the function schemas of all loaded tools
func (r *Registry) GetToolsAsSchemaArray() []*model.ToolSchema {
	tools := r.GetTools()
	schemas := make([]*model.ToolSchema, len(tools))
	for i, t := range tools {
		schemas[i] = t.Spec().Schema()
	}
	return schemas
}

// Prompts returns the additional prompts of the given tools concatenated
func Prompts(ctx context.Context, tools []Tool) string {
	var prompts []string
	for _, t := range tools {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// SetMemoryService attaches the memory service used for selection and
// registers for its readiness. Tools are indexed once the service is ready
// and the settle delay has passed, and again after every later transition
// into ready.
func (r *Registry) SetMemoryService(svc adapter.MemoryService) {
	r.mu.Lock()
	r.memory = svc
	r.mu.Unlock()

	if svc != nil {
		svc.AddInitializationListener(r.onMemoryReady)
	}
}

func (r *Registry) onMemoryReady(ctx context.Context) {
	logger := logging.From(ctx)

	r.mu.RLock()
	delay := r.settleDelay
	r.mu.RUnlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}

	n, err := r.IndexTools(ctx)
	if err != nil {
		logger.Warn("failed to index tools", logging.ErrAttr(err))
		return
	}
	logger.Debug("tools indexed", "count", n)
}

// IndexTools indexes loaded tools missing from the memory service's tools
// namespace and returns how many were written. Per-tool failures are logged
// and skipped.
func (r *Registry) IndexTools(ctx context.Context) (int, error) {
	logger := logging.From(ctx)

	r.mu.RLock()
	svc := r.memory
	tools := r.sortedLocked()
	r.mu.RUnlock()

	if svc == nil {
		return 0, goerr.Wrap(adapter.ErrMemoryUnavailable, "no memory service attached")
	}

	ids, err := svc.ListIDs(ctx, model.NamespaceTools)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list indexed tools")
	}
	indexed := make(map[string]bool, len(ids))
	for _, id := range ids {
		indexed[id] = true
	}

	count := 0
	for _, t := range tools {
		spec := t.Spec()
		if indexed[spec.Name] {
			continue
		}
		ok, err := svc.IndexMemory(ctx, adapter.ToolRecord(spec))
		if err != nil {
			logger.Warn("failed to index tool", "name", spec.Name, logging.ErrAttr(err))
			continue
		}
		if ok {
			count++
		}
	}
	return count, nil
}

// SelectTools returns up to k tools relevant to query. It falls back to the
// full set when no memory service is attached, the service fails, or nothing
// relevant is found.
func (r *Registry) SelectTools(ctx context.Context, query string, k int) []Tool {
	logger := logging.From(ctx)

	r.mu.RLock()
	svc := r.memory
	all := r.sortedLocked()
	r.mu.RUnlock()

	if svc == nil || strings.TrimSpace(query) == "" || k <= 0 {
		return all
	}

	descs, err := svc.GetRelevantToolDescriptions(ctx, query, k)
	if err != nil {
		logger.Debug("tool selection unavailable, using all tools", logging.ErrAttr(err))
		return all
	}

	seen := make(map[string]bool, len(descs))
	selected := make([]Tool, 0, len(descs))
	for _, d := range descs {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		if t, ok := r.GetTool(d.Name); ok {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		return all
	}
	return selected
}

// Execute runs the named tool. It never returns an error: failures come
// back as a Failure result so the model can see them.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) Result {
	logger := logging.From(ctx)

	t, ok := r.GetTool(name)
	if !ok {
		return Failure("tool not found: %s", name)
	}
	if params == nil {
		params = map[string]any{}
	}

	r.mu.RLock()
	guard := r.guard
	r.mu.RUnlock()

	if guard != nil && !Confirmed(params) {
		decision, err := guard.Check(ctx, t.Spec(), params)
		if err != nil {
			logger.Error("confirmation policy failed", "tool", name, logging.ErrAttr(err))
			return Failure("confirmation policy failed: %v", err)
		}
		if decision.Required {
			return ConfirmationRequired(decision.Summary(), params)
		}
	}

	logger.Debug("execute tool", "name", name, "params", params)
	result, err := t.Execute(ctx, params)
	if err != nil {
		logger.Warn("tool execution failed", "name", name, logging.ErrAttr(err))
		return Failure("%s failed: %v", name, err)
	}
	if result == nil {
		return Success(nil)
	}
	return result
}

// Describe renders tools as the plain-text catalogue placed in the system
// prompt
func Describe(tools []Tool) string {
	var b strings.Builder
	for i, t := range tools {
		spec := t.Spec()
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s", spec.Name)
		if spec.Category != "" {
			fmt.Fprintf(&b, " [%s]", spec.Category)
		}
		fmt.Fprintf(&b, ": %s\n", spec.Description)

		for _, name := range spec.ParamNames() {
			p := spec.Parameters[name]
			if p == nil {
				continue
			}
			req := "required"
			if p.Optional {
				req = "optional"
			}
			fmt.Fprintf(&b, "    - %s (%s, %s): %s", name, p.Type, req, p.Description)
			if len(p.Enum) > 0 {
				fmt.Fprintf(&b, " One of: %s.", strings.Join(p.Enum, ", "))
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
