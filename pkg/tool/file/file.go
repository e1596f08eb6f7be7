package file

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/urfave/cli/v3"
)

const (
	toolName     = "file_operations"
	maxReadBytes = 64 * 1024
)

type fileOps struct {
	root string
}

// New creates the file_operations tool. All paths are resolved inside the
// configured root directory.
func New() *fileOps {
	return &fileOps{}
}

// NewWithRoot creates the tool bound to root without going through flags
func NewWithRoot(root string) *fileOps {
	return &fileOps{root: root}
}

// Flags returns CLI flags for this tool
func (x *fileOps) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "file-root",
			Sources:     cli.EnvVars("LLMCHAT_FILE_ROOT"),
			Usage:       "Directory the file_operations tool is confined to (empty disables the tool)",
			Destination: &x.root,
		},
	}
}

// Init enables the tool only when a root directory is configured
func (x *fileOps) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if x.root == "" {
		return false, nil
	}
	abs, err := filepath.Abs(x.root)
	if err != nil {
		return false, goerr.Wrap(err, "failed to resolve file root", goerr.V("root", x.root))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return false, goerr.Wrap(err, "file root is not accessible", goerr.V("root", abs))
	}
	if !info.IsDir() {
		return false, goerr.New("file root is not a directory", goerr.V("root", abs))
	}
	x.root = abs
	return true, nil
}

func (x *fileOps) Prompt(ctx context.Context) string {
	return "Paths given to file_operations are relative to the user's workspace directory. " +
		"Destructive actions (delete, move, overwriting write) return confirmation_required; relay the summary to the user instead of retrying on your own."
}

func (x *fileOps) Spec() *model.ToolDescriptor {
	return &model.ToolDescriptor{
		Name:        toolName,
		Description: "List, read, write, move and delete files in the user's workspace directory",
		Category:    "filesystem",
		Keywords:    []string{"file", "directory", "folder", "read", "write", "delete", "save"},
		Parameters: map[string]*model.ParamSpec{
			"action": {
				Type:        model.ParamTypeString,
				Description: "Operation to perform",
				Enum:        []string{"list", "read", "write", "delete", "move"},
			},
			"path": {
				Type:        model.ParamTypeString,
				Description: "File or directory path relative to the workspace",
			},
			"content": {
				Type:        model.ParamTypeString,
				Description: "Content to write (write only)",
				Optional:    true,
			},
			"destination": {
				Type:        model.ParamTypeString,
				Description: "Destination path (move only)",
				Optional:    true,
			},
		},
	}
}

// resolve maps a workspace-relative path onto an absolute path inside root
func (x *fileOps) resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	cleaned := filepath.Clean(string(filepath.Separator) + path)
	abs := filepath.Join(x.root, cleaned)
	if abs != x.root && !strings.HasPrefix(abs, x.root+string(filepath.Separator)) {
		return "", goerr.New("path escapes workspace", goerr.V("path", path))
	}
	return abs, nil
}

func (x *fileOps) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	action, _ := tool.StringParam(params, "action")
	path, _ := tool.StringParam(params, "path")

	target, err := x.resolve(path)
	if err != nil {
		return tool.Failure("%v", err), nil
	}

	switch action {
	case "list":
		return x.list(target, path)
	case "read":
		return x.read(target, path)
	case "write":
		return x.write(target, path, params)
	case "delete":
		return x.delete(target, path, params)
	case "move":
		return x.move(target, path, params)
	default:
		return tool.Failure("unknown action %q; use one of list, read, write, delete, move", action), nil
	}
}

func (x *fileOps) list(target, path string) (tool.Result, error) {
	entries, err := os.ReadDir(target)
	if err != nil {
		return tool.Failure("cannot list %s: %v", path, err), nil
	}

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{"name": e.Name(), "type": "file"}
		if e.IsDir() {
			item["type"] = "directory"
		} else if info, err := e.Info(); err == nil {
			item["size"] = info.Size()
		}
		items = append(items, item)
	}
	return tool.Success(map[string]any{"path": path, "entries": items}), nil
}

func (x *fileOps) read(target, path string) (tool.Result, error) {
	f, err := os.Open(target)
	if err != nil {
		return tool.Failure("cannot read %s: %v", path, err), nil
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return tool.Failure("cannot read %s: %v", path, err), nil
	}
	truncated := len(data) > maxReadBytes
	if truncated {
		data = data[:maxReadBytes]
	}
	return tool.Success(map[string]any{
		"path":      path,
		"content":   string(data),
		"truncated": truncated,
	}), nil
}

func (x *fileOps) write(target, path string, params map[string]any) (tool.Result, error) {
	content, _ := params["content"].(string)

	if _, err := os.Stat(target); err == nil && !tool.Confirmed(params) {
		return tool.ConfirmationRequired("overwrite "+path, params), nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return tool.Failure("cannot create directory for %s: %v", path, err), nil
	}
	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return tool.Failure("cannot write %s: %v", path, err), nil
	}
	return tool.Success(map[string]any{"path": path, "bytes": len(content)}), nil
}

func (x *fileOps) delete(target, path string, params map[string]any) (tool.Result, error) {
	if target == x.root {
		return tool.Failure("refusing to delete the workspace root"), nil
	}
	if !tool.Confirmed(params) {
		return tool.ConfirmationRequired("delete "+path, params), nil
	}

	if err := os.RemoveAll(target); err != nil {
		return tool.Failure("cannot delete %s: %v", path, err), nil
	}
	return tool.Success(map[string]any{"path": path, "deleted": true}), nil
}

func (x *fileOps) move(target, path string, params map[string]any) (tool.Result, error) {
	destPath, ok := tool.StringParam(params, "destination")
	if !ok {
		return tool.Failure("destination is required for move"), nil
	}
	dest, err := x.resolve(destPath)
	if err != nil {
		return tool.Failure("%v", err), nil
	}
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		return tool.Failure("cannot move %s: not found", path), nil
	}
	if !tool.Confirmed(params) {
		return tool.ConfirmationRequired("move "+path+" to "+destPath, params), nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return tool.Failure("cannot create directory for %s: %v", destPath, err), nil
	}
	if err := os.Rename(target, dest); err != nil {
		return tool.Failure("cannot move %s: %v", path, err), nil
	}
	return tool.Success(map[string]any{"path": path, "destination": destPath}), nil
}
