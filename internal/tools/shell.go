package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const maxCommandOutput = 64 * 1024

// RunCommandTool executes a shell command inside the workspace with a hard
// timeout. Output is combined and truncated.
type RunCommandTool struct {
	workspace string
	timeout   time.Duration
}

func NewRunCommandTool(workspace string, timeoutSec int) *RunCommandTool {
	if timeoutSec <= 0 {
		timeoutSec = 60
	}
	return &RunCommandTool{workspace: workspace, timeout: time.Duration(timeoutSec) * time.Second}
}

func (t *RunCommandTool) Name() string        { return "run_command" }
func (t *RunCommandTool) Description() string { return "Run a shell command in the workspace" }
func (t *RunCommandTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "Shell command to execute"},
			"timeoutSec": map[string]any{
				"type":        "integer",
				"description": "Override the default timeout (seconds)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]any) *Result {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return ErrorResult("command is required")
	}
	timeout := t.timeout
	if sec, ok := args["timeoutSec"].(float64); ok && sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, "sh", "-c", command)
	cmd.Dir = t.workspace
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > maxCommandOutput {
		output = output[:maxCommandOutput] + "\n... (output truncated)"
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		return ErrorResult(fmt.Sprintf("command timed out after %s\n%s", timeout, output))
	}
	if err != nil {
		return ErrorResult(fmt.Sprintf("command failed: %v\n%s", err, output)).WithError(err)
	}
	if output == "" {
		return NewResult("(no output)")
	}
	return NewResult(output)
}
