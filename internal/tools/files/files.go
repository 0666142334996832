// Package files provides the builtin filesystem tools. Path arguments
// arrive already resolved by the workspace guard, so handlers operate on
// absolute in-workspace paths.
package files

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/amonhq/amon/internal/store"
	"github.com/amonhq/amon/internal/tools"
)

// DefaultMaxReadBytes caps filesystem.read output.
const DefaultMaxReadBytes = 200000

// Config controls the builtin filesystem tools.
type Config struct {
	MaxReadBytes int
}

// Register adds filesystem.read, filesystem.write, and filesystem.list to
// the registry as builtin tools.
func Register(r *tools.Registry, cfg Config) {
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = DefaultMaxReadBytes
	}

	r.Register(tools.Spec{
		Name:        "filesystem.read",
		Description: "Read a file from the workspace with optional offset and byte limit.",
		Source:      tools.SourceBuiltin,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":      map[string]any{"type": "string"},
				"offset":    map[string]any{"type": "integer"},
				"max_bytes": map[string]any{"type": "integer"},
			},
			"required": []any{"path"},
		},
	}, readHandler(limit))

	r.Register(tools.Spec{
		Name:        "filesystem.write",
		Description: "Write file content atomically inside the workspace.",
		Source:      tools.SourceBuiltin,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []any{"path", "content"},
		},
	}, writeHandler)

	r.Register(tools.Spec{
		Name:        "filesystem.list",
		Description: "List directory entries inside the workspace.",
		Source:      tools.SourceBuiltin,
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []any{"path"},
		},
	}, listHandler)
}

func readHandler(maxBytes int) tools.Handler {
	return func(ctx context.Context, call *tools.Call) (*tools.Result, error) {
		path, _ := call.Args["path"].(string)
		if strings.TrimSpace(path) == "" {
			return tools.ErrorResult("invalid_arguments", "path is required"), nil
		}
		offset := intArg(call.Args, "offset")
		if offset < 0 {
			return tools.ErrorResult("invalid_arguments", "offset must be >= 0"), nil
		}
		limit := maxBytes
		if req := intArg(call.Args, "max_bytes"); req > 0 && req < limit {
			limit = req
		}

		file, err := os.Open(path)
		if err != nil {
			return tools.ErrorResult("execution_failed", fmt.Sprintf("open file: %v", err)), nil
		}
		defer file.Close()

		info, err := file.Stat()
		if err != nil {
			return tools.ErrorResult("execution_failed", fmt.Sprintf("stat file: %v", err)), nil
		}
		if offset > 0 {
			if _, err := file.Seek(int64(offset), io.SeekStart); err != nil {
				return tools.ErrorResult("execution_failed", fmt.Sprintf("seek file: %v", err)), nil
			}
		}

		buf, err := io.ReadAll(io.LimitReader(file, int64(limit)))
		if err != nil {
			return tools.ErrorResult("execution_failed", fmt.Sprintf("read file: %v", err)), nil
		}
		truncated := int64(offset)+int64(len(buf)) < info.Size()

		return jsonResult(map[string]any{
			"path":      path,
			"content":   string(buf),
			"offset":    offset,
			"bytes":     len(buf),
			"truncated": truncated,
		})
	}
}

func writeHandler(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	path, _ := call.Args["path"].(string)
	content, _ := call.Args["content"].(string)
	if strings.TrimSpace(path) == "" {
		return tools.ErrorResult("invalid_arguments", "path is required"), nil
	}
	if err := store.WriteTextAtomic(path, content); err != nil {
		return tools.ErrorResult("execution_failed", fmt.Sprintf("write file: %v", err)), nil
	}
	return jsonResult(map[string]any{"path": path, "bytes": len(content)})
}

func listHandler(ctx context.Context, call *tools.Call) (*tools.Result, error) {
	path, _ := call.Args["path"].(string)
	if strings.TrimSpace(path) == "" {
		return tools.ErrorResult("invalid_arguments", "path is required"), nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return tools.ErrorResult("execution_failed", fmt.Sprintf("read dir: %v", err)), nil
	}
	names := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		names = append(names, map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
		})
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i]["name"].(string) < names[j]["name"].(string)
	})
	return jsonResult(map[string]any{"path": path, "entries": names})
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

func jsonResult(v map[string]any) (*tools.Result, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return tools.ErrorResult("execution_failed", fmt.Sprintf("encode result: %v", err)), nil
	}
	return tools.TextResult(string(payload)), nil
}
