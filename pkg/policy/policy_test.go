package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/policy"
)

var fileOps = &model.ToolDescriptor{Name: "file_operations", Description: "files", Category: "filesystem"}

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	p, err := policy.New(ctx, "")
	gt.NoError(t, err)

	testCases := []struct {
		name     string
		desc     *model.ToolDescriptor
		params   map[string]any
		required bool
	}{
		{"delete needs confirmation", fileOps, map[string]any{"action": "delete", "path": "a.txt"}, true},
		{"move needs confirmation", fileOps, map[string]any{"action": "move", "path": "a.txt"}, true},
		{"read is allowed", fileOps, map[string]any{"action": "read", "path": "a.txt"}, false},
		{"nil params", fileOps, nil, false},
		{"system category", &model.ToolDescriptor{Name: "shutdown", Description: "x", Category: "system"}, nil, true},
		{"other tool", &model.ToolDescriptor{Name: "time_date", Description: "x", Category: "utility"}, map[string]any{"action": "delete"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := p.Check(ctx, tc.desc, tc.params)
			gt.NoError(t, err)
			gt.Equal(t, d.Required, tc.required)
		})
	}

	t.Run("summary names the action and path", func(t *testing.T) {
		d, err := p.Check(ctx, fileOps, map[string]any{"action": "delete", "path": "notes/todo.txt"})
		gt.NoError(t, err)
		gt.Equal(t, d.Summary(), "delete notes/todo.txt")
	})
}

func TestUserPolicy(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	userPolicy := `package confirm

reasons contains "writes outside notes" if {
	input.tool == "file_operations"
	input.params.action == "write"
	not startswith(input.params.path, "notes/")
}
`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "write.rego"), []byte(userPolicy), 0644))

	p, err := policy.New(ctx, dir)
	gt.NoError(t, err)

	d, err := p.Check(ctx, fileOps, map[string]any{"action": "write", "path": "etc/hosts"})
	gt.NoError(t, err)
	gt.True(t, d.Required)
	gt.A(t, d.Reasons).Length(1)

	d, err = p.Check(ctx, fileOps, map[string]any{"action": "write", "path": "notes/a.md"})
	gt.NoError(t, err)
	gt.False(t, d.Required)

	// built-in rules stay active
	d, err = p.Check(ctx, fileOps, map[string]any{"action": "delete", "path": "notes/a.md"})
	gt.NoError(t, err)
	gt.True(t, d.Required)
}

func TestInvalidPolicy(t *testing.T) {
	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "bad.rego"), []byte("package confirm\nreasons contains"), 0644))

	_, err := policy.New(context.Background(), dir)
	gt.Error(t, err)
}
