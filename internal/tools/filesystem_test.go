package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePath(t *testing.T) {
	ws := t.TempDir()
	tests := []struct {
		name     string
		path     string
		restrict bool
		wantErr  bool
	}{
		{"relative inside", "notes/a.txt", true, false},
		{"absolute inside", filepath.Join(ws, "b.txt"), true, false},
		{"dot escape", "../outside.txt", true, true},
		{"nested escape", "a/../../outside.txt", true, true},
		{"absolute outside", "/etc/passwd", true, true},
		{"escape allowed when unrestricted", "../outside.txt", false, false},
		{"empty path", "", true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolvePath(ws, tt.restrict, tt.path)
			if (err != nil) != tt.wantErr {
				t.Errorf("resolvePath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestReadWriteListRoundTrip(t *testing.T) {
	ws := t.TempDir()
	ctx := context.Background()

	write := NewWriteFileTool(ws, true)
	res := write.Execute(ctx, map[string]any{"path": "sub/hello.txt", "content": "hello world"})
	if res.IsError {
		t.Fatalf("write: %+v", res)
	}

	read := NewReadFileTool(ws, true)
	res = read.Execute(ctx, map[string]any{"path": "sub/hello.txt"})
	if res.IsError || res.ForLLM != "hello world" {
		t.Fatalf("read: %+v", res)
	}

	list := NewListFilesTool(ws, true)
	res = list.Execute(ctx, map[string]any{})
	if res.IsError || !strings.Contains(res.ForLLM, "sub/") {
		t.Fatalf("list: %+v", res)
	}
}

func TestReadFileTruncation(t *testing.T) {
	ws := t.TempDir()
	big := strings.Repeat("x", maxFileReadBytes+100)
	if err := os.WriteFile(filepath.Join(ws, "big.txt"), []byte(big), 0o644); err != nil {
		t.Fatal(err)
	}

	res := NewReadFileTool(ws, true).Execute(context.Background(), map[string]any{"path": "big.txt"})
	if res.IsError {
		t.Fatalf("read: %+v", res)
	}
	if !strings.Contains(res.ForLLM, "truncated") {
		t.Error("oversized read not truncated")
	}
}

func TestWriteOutsideWorkspaceRejected(t *testing.T) {
	ws := t.TempDir()
	res := NewWriteFileTool(ws, true).Execute(context.Background(), map[string]any{
		"path":    "../escape.txt",
		"content": "nope",
	})
	if !res.IsError {
		t.Fatal("workspace escape accepted")
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(ws), "escape.txt")); !os.IsNotExist(err) {
		t.Error("file written outside workspace")
	}
}

func TestReadMissingFile(t *testing.T) {
	res := NewReadFileTool(t.TempDir(), true).Execute(context.Background(), map[string]any{"path": "nope.txt"})
	if !res.IsError {
		t.Error("missing file read succeeded")
	}
}
