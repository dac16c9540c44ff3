package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hivemind-dev/hivemind/internal/artifacts"
)

// PutArtifactTool stores content in the artifact store and hands back a
// reference the agent can pass around instead of inlining large payloads.
type PutArtifactTool struct{ store *artifacts.Store }

func NewPutArtifactTool(store *artifacts.Store) *PutArtifactTool {
	return &PutArtifactTool{store: store}
}

func (t *PutArtifactTool) Name() string { return "put_artifact" }
func (t *PutArtifactTool) Description() string {
	return "Store content as an artifact and get back an artifact:<uuid> reference. Use base64 content for binary data."
}
func (t *PutArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"type":    map[string]any{"type": "string", "enum": []string{"text", "image", "file"}},
			"content": map[string]any{"type": "string", "description": "Text, or base64 for image/file types"},
			"meta": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":     map[string]any{"type": "string"},
					"mimeType": map[string]any{"type": "string"},
				},
			},
		},
		"required": []string{"type", "content"},
	}
}

func (t *PutArtifactTool) Execute(ctx context.Context, args map[string]any) *Result {
	typ, _ := args["type"].(string)
	content, _ := args["content"].(string)
	if typ == "" || content == "" {
		return ErrorResult("type and content are required")
	}

	var data []byte
	if typ == "text" {
		data = []byte(content)
	} else {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return ErrorResult(fmt.Sprintf("content must be base64 for type %s: %v", typ, err))
		}
		data = decoded
	}

	opts := artifacts.PutOptions{Type: typ, CreatedBy: AgentIDFromCtx(ctx)}
	if meta, ok := args["meta"].(map[string]any); ok {
		opts.Name, _ = meta["name"].(string)
		opts.MimeType, _ = meta["mimeType"].(string)
	}

	ref, _, err := t.store.Put(ctx, data, opts)
	if err != nil {
		return ErrorResult(fmt.Sprintf("put_artifact failed: %v", err)).WithError(err)
	}
	return NewResult(ref)
}

// GetArtifactTool resolves a reference back into content. Image artifacts
// come back as a multimodal data URL; binary files as base64.
type GetArtifactTool struct{ store *artifacts.Store }

func NewGetArtifactTool(store *artifacts.Store) *GetArtifactTool {
	return &GetArtifactTool{store: store}
}

func (t *GetArtifactTool) Name() string { return "get_artifact" }
func (t *GetArtifactTool) Description() string {
	return "Fetch the content of an artifact:<uuid> reference."
}
func (t *GetArtifactTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ref": map[string]any{"type": "string", "description": "artifact:<uuid> reference"},
		},
		"required": []string{"ref"},
	}
}

func (t *GetArtifactTool) Execute(ctx context.Context, args map[string]any) *Result {
	ref, _ := args["ref"].(string)
	if ref == "" {
		return ErrorResult("ref is required")
	}
	data, meta, err := t.store.Get(ctx, ref)
	if err != nil {
		return ErrorResult(fmt.Sprintf("get_artifact failed: %v", err)).WithError(err)
	}

	switch {
	case meta.Type == "image" || strings.HasPrefix(meta.MimeType, "image/"):
		mime := meta.MimeType
		if mime == "" {
			mime = "image/png"
		}
		res := NewResult(fmt.Sprintf("image artifact %s (%s, %d bytes)", meta.ID, mime, meta.Size))
		res.ImageURL = "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
		return res
	case meta.Type == "text" || utf8.Valid(data):
		return NewResult(string(data))
	default:
		return NewResult(base64.StdEncoding.EncodeToString(data))
	}
}
