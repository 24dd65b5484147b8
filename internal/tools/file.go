package tools

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"toolsandbox/internal/fileguard"
	"toolsandbox/internal/toolerr"
)

// FileReadTool reads a text file inside the workspace.
type FileReadTool struct {
	guard *fileguard.Guard
}

func NewFileReadTool(guard *fileguard.Guard) *FileReadTool {
	return &FileReadTool{guard: guard}
}

func (f *FileReadTool) Name() string { return "file_read" }

func (f *FileReadTool) Description() string {
	return fmt.Sprintf("Read a UTF-8 text file from the workspace (at most %d bytes).", f.guard.MaxFileBytes())
}

func (f *FileReadTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Path relative to the workspace root."},
	}, "path")
}

type pathInput struct {
	Path string `mapstructure:"path"`
}

func (f *FileReadTool) Execute(_ context.Context, args map[string]any) (Output, error) {
	var in pathInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	data, err := f.guard.ReadFile(in.Path)
	if err != nil {
		return Output{}, err
	}
	if !utf8.Valid(data) {
		return Output{}, toolerr.Validation("file is not UTF-8 text")
	}
	return Output{Text: string(data)}, nil
}

// FileWriteTool creates or replaces a file inside the workspace.
type FileWriteTool struct {
	guard *fileguard.Guard
}

func NewFileWriteTool(guard *fileguard.Guard) *FileWriteTool {
	return &FileWriteTool{guard: guard}
}

func (f *FileWriteTool) Name() string { return "file_write" }

func (f *FileWriteTool) Description() string {
	return fmt.Sprintf("Write a text file in the workspace, creating parent directories. Content over %d bytes is rejected.", f.guard.MaxFileBytes())
}

func (f *FileWriteTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":    map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
	}, "path", "content")
}

type writeInput struct {
	Path    string `mapstructure:"path"`
	Content string `mapstructure:"content"`
}

func (f *FileWriteTool) Execute(_ context.Context, args map[string]any) (Output, error) {
	var in writeInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	if err := f.guard.WriteFile(in.Path, []byte(in.Content)); err != nil {
		return Output{}, err
	}
	resolved, err := f.guard.Resolve(in.Path)
	if err != nil {
		return Output{}, err
	}
	return Output{Text: fmt.Sprintf("wrote %d bytes to %s", len(in.Content), f.guard.Rel(resolved))}, nil
}

// FileListTool lists one workspace directory.
type FileListTool struct {
	guard *fileguard.Guard
}

func NewFileListTool(guard *fileguard.Guard) *FileListTool {
	return &FileListTool{guard: guard}
}

func (f *FileListTool) Name() string { return "file_list" }

func (f *FileListTool) Description() string {
	return "List a workspace directory. Directories end with a slash; files show their size in bytes."
}

func (f *FileListTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "Directory relative to the workspace root; defaults to the root."},
	})
}

func (f *FileListTool) Execute(_ context.Context, args map[string]any) (Output, error) {
	var in pathInput
	if err := decodeArgs(args, &in); err != nil {
		return Output{}, err
	}
	entries, truncated, err := f.guard.List(in.Path)
	if err != nil {
		return Output{}, err
	}
	var b strings.Builder
	for _, e := range entries {
		if e.IsDir {
			fmt.Fprintf(&b, "%s/\n", e.Name)
			continue
		}
		fmt.Fprintf(&b, "%s\t%d\n", e.Name, e.Size)
	}
	if truncated {
		b.WriteString("...[listing truncated]\n")
	}
	return Output{Text: b.String(), Truncated: truncated}, nil
}
