package file_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/m-mizutani/llmchat/pkg/tool/file"
)

func setup(t *testing.T) (tool.Tool, string) {
	t.Helper()
	root := t.TempDir()
	x := file.NewWithRoot(root)
	enabled, err := x.Init(context.Background(), &tool.Client{})
	gt.NoError(t, err)
	gt.True(t, enabled)
	return x, root
}

func TestFileOperationsDisabledWithoutRoot(t *testing.T) {
	enabled, err := file.New().Init(context.Background(), &tool.Client{})
	gt.NoError(t, err)
	gt.False(t, enabled)
}

func TestFileOperationsSpec(t *testing.T) {
	spec := file.New().Spec()
	gt.NoError(t, spec.Validate())
	gt.Equal(t, spec.Schema().Parameters.Required, []string{"action", "path"})
	_, exposed := spec.Parameters["confirm"]
	gt.False(t, exposed)
}

func TestFileOperations(t *testing.T) {
	x, root := setup(t)
	ctx := context.Background()

	t.Run("write then read", func(t *testing.T) {
		res, err := x.Execute(ctx, map[string]any{"action": "write", "path": "notes/todo.txt", "content": "buy milk"})
		gt.NoError(t, err)
		gt.False(t, res.IsError())

		res, err = x.Execute(ctx, map[string]any{"action": "read", "path": "notes/todo.txt"})
		gt.NoError(t, err)
		gt.Equal(t, res["content"].(string), "buy milk")
		gt.False(t, res["truncated"].(bool))
	})

	t.Run("list", func(t *testing.T) {
		res, err := x.Execute(ctx, map[string]any{"action": "list", "path": "notes"})
		gt.NoError(t, err)
		entries := res["entries"].([]map[string]any)
		gt.A(t, entries).Length(1)
		gt.Equal(t, entries[0]["name"].(string), "todo.txt")
	})

	t.Run("overwrite needs confirmation", func(t *testing.T) {
		params := map[string]any{"action": "write", "path": "notes/todo.txt", "content": "buy eggs"}
		res, err := x.Execute(ctx, params)
		gt.NoError(t, err)
		gt.True(t, res.NeedsConfirmation())

		res, err = x.Execute(ctx, res.Params())
		gt.NoError(t, err)
		gt.False(t, res.IsError())

		data, err := os.ReadFile(filepath.Join(root, "notes", "todo.txt"))
		gt.NoError(t, err)
		gt.Equal(t, string(data), "buy eggs")
	})

	t.Run("delete without confirm is held", func(t *testing.T) {
		params := map[string]any{"action": "delete", "path": "notes/todo.txt"}
		res, err := x.Execute(ctx, params)
		gt.NoError(t, err)
		gt.True(t, res.NeedsConfirmation())
		gt.False(t, res.IsError())
		gt.Equal(t, res.Params()["confirm"], any(true))
		gt.Equal(t, res.Params()["path"], any("notes/todo.txt"))

		_, statErr := os.Stat(filepath.Join(root, "notes", "todo.txt"))
		gt.NoError(t, statErr)
	})

	t.Run("delete with confirm", func(t *testing.T) {
		res, err := x.Execute(ctx, map[string]any{"action": "delete", "path": "notes/todo.txt", "confirm": true})
		gt.NoError(t, err)
		gt.Equal(t, res["deleted"], any(true))

		_, statErr := os.Stat(filepath.Join(root, "notes", "todo.txt"))
		gt.True(t, os.IsNotExist(statErr))
	})

	t.Run("move", func(t *testing.T) {
		gt.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))

		res, err := x.Execute(ctx, map[string]any{"action": "move", "path": "a.txt", "destination": "archive/a.txt"})
		gt.NoError(t, err)
		gt.True(t, res.NeedsConfirmation())

		res, err = x.Execute(ctx, res.Params())
		gt.NoError(t, err)
		gt.False(t, res.IsError())
		_, statErr := os.Stat(filepath.Join(root, "archive", "a.txt"))
		gt.NoError(t, statErr)
	})

	t.Run("paths stay inside root", func(t *testing.T) {
		res, err := x.Execute(ctx, map[string]any{"action": "read", "path": "../../etc/passwd"})
		gt.NoError(t, err)
		// "../../etc/passwd" is clamped to "<root>/etc/passwd", which does not exist
		gt.True(t, res.IsError())
	})

	t.Run("root cannot be deleted", func(t *testing.T) {
		res, err := x.Execute(ctx, map[string]any{"action": "delete", "path": "/", "confirm": true})
		gt.NoError(t, err)
		gt.True(t, res.IsError())
	})

	t.Run("unknown action", func(t *testing.T) {
		res, err := x.Execute(ctx, map[string]any{"action": "chmod", "path": "x"})
		gt.NoError(t, err)
		gt.S(t, res.ErrorMessage()).Contains("unknown action")
	})
}
