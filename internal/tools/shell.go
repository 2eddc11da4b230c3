package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/omrylcn/gbot/internal/config"
)

// denyPatterns block destructive or privilege-escalating commands before
// execution. Matched commands never reach the shell.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+(-[rR]|-[rR]?f|-f?[rR])\b`), // rm -rf, rm -r, rm -f
	regexp.MustCompile(`\bdel\s+/[fFqQ]\b`),                // Windows del /f /q
	regexp.MustCompile(`\brmdir\s+/[sS]\b`),                // Windows rmdir /s
	regexp.MustCompile(`\b(format|mkfs|diskpart)\b`),       // disk format
	regexp.MustCompile(`\bdd\s+if=`),                       // dd disk copy
	regexp.MustCompile(`>\s*/dev/sd`),                      // write to disk device
	regexp.MustCompile(`\b(shutdown|reboot|poweroff|halt)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\}`), // fork bomb
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`), // curl | sh
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bmkfifo\b`),
}

// maxCommandOutput caps run_command output sent back to the LLM.
const maxCommandOutput = 10_000

const defaultShellTimeout = 60 * time.Second

// RunCommandTool executes a shell command with safety guards.
type RunCommandTool struct {
	cfg *config.Config
}

func NewRunCommandTool(cfg *config.Config) *RunCommandTool {
	return &RunCommandTool{cfg: cfg}
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Description() string {
	return "Execute a shell command. Dangerous commands (rm -rf, format, etc.) are blocked."
}

func (t *RunCommandTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to run",
			},
			"working_dir": map[string]interface{}{
				"type":        "string",
				"description": "Optional working directory (defaults to the workspace)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *RunCommandTool) Requires() Requirements {
	return Requirements{Binaries: []string{"sh"}}
}

func (t *RunCommandTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}
	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return ErrorResult(fmt.Sprintf("Command blocked by safety filter: %s", command))
		}
	}

	set := t.cfg.ShellSettings()
	timeout := defaultShellTimeout
	if set.TimeoutSeconds > 0 {
		timeout = time.Duration(set.TimeoutSeconds) * time.Second
	}
	workingDir, _ := args["working_dir"].(string)
	if set.RestrictToWorkspace {
		target := workingDir
		if target == "" {
			target = "."
		}
		resolved, err := resolvePath(t.cfg.WorkspacePath(), target)
		if err != nil {
			return deniedResult(target, t.cfg.WorkspacePath(), err)
		}
		workingDir = resolved
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, "sh", "-c", command)
	cmd.Dir = workingDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(cctx.Err(), context.DeadlineExceeded) {
		return ErrorResult(fmt.Sprintf("Command timed out after %ds: %s", int(timeout.Seconds()), command))
	}
	var exitErr *exec.ExitError
	if runErr != nil && !errors.As(runErr, &exitErr) {
		return ErrorResult(fmt.Sprintf("Execution error: %v", runErr)).WithError(runErr)
	}

	var parts []string
	if stdout.Len() > 0 {
		parts = append(parts, stdout.String())
	}
	if stderr.Len() > 0 {
		parts = append(parts, "[stderr]\n"+stderr.String())
	}
	output := strings.Join(parts, "\n")
	if runes := []rune(output); len(runes) > maxCommandOutput {
		output = string(runes[:maxCommandOutput]) +
			fmt.Sprintf("\n\n... truncated (%d chars)", len(runes))
	}

	exitCode := cmd.ProcessState.ExitCode()
	if output == "" {
		return NewResult(fmt.Sprintf("[exit code: %d]", exitCode))
	}
	return NewResult(fmt.Sprintf("[exit code: %d]\n%s", exitCode, output))
}
