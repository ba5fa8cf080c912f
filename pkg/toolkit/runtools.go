package toolkit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/corvidae-ai/warden/pkg/sandbox"
)

// interpreters maps run_code languages to their launch command.
var interpreters = map[string][]string{
	"python": {"python3"},
	"node":   {"node"},
	"sh":     {"sh"},
}

func execTool(opts Options) Tool {
	return Tool{
		Name:  "exec",
		Usage: "Run a shell command in the sandbox; args: command, optional cwd, timeout.",
		Parameters: []Parameter{
			{Name: "command", Type: "string", Description: "Shell command line", Required: true},
			{Name: "cwd", Type: "string", Description: "Working directory relative to the workspace"},
			{Name: "timeout", Type: "number", Description: "Timeout in seconds"},
		},
		SideEffects: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if opts.Sandbox == nil {
				return "", fmt.Errorf("sandbox is not configured")
			}
			command := strings.TrimSpace(argString(args, "command"))
			if command == "" {
				return "", fmt.Errorf("command is required")
			}

			workingDir := opts.WorkspaceRoot
			if cwd := argString(args, "cwd"); cwd != "" {
				resolved, err := resolvePath(opts.WorkspaceRoot, cwd)
				if err != nil {
					return "", err
				}
				workingDir = resolved
			}

			result, err := opts.Sandbox.Execute(ctx, sandbox.ExecuteRequest{
				Command:    "sh",
				Args:       []string{"-c", command},
				WorkingDir: workingDir,
				Timeout:    time.Duration(argNumber(args, "timeout", 0)) * time.Second,
			})
			if err != nil {
				return "", err
			}
			return formatExecResult(result), nil
		},
	}
}

func runCodeTool(opts Options) Tool {
	return Tool{
		Name:  "run_code",
		Usage: "Execute a code snippet in the sandbox; args: language (python|node|sh), code.",
		Parameters: []Parameter{
			{Name: "language", Type: "string", Description: "Interpreter to use", Required: true},
			{Name: "code", Type: "string", Description: "Source to execute", Required: true},
		},
		SideEffects: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if opts.Sandbox == nil {
				return "", fmt.Errorf("sandbox is not configured")
			}

			language := strings.ToLower(argString(args, "language"))
			launch, ok := interpreters[language]
			if !ok {
				return "", fmt.Errorf("unsupported language %q", language)
			}

			// The snippet lands in a scratch file inside the workspace so
			// the sandbox path policy still applies.
			scratch := filepath.Join(opts.WorkspaceRoot, ".warden", "scratch")
			if err := os.MkdirAll(scratch, 0755); err != nil {
				return "", fmt.Errorf("failed to create scratch directory: %w", err)
			}
			file := filepath.Join(scratch, fmt.Sprintf("snippet-%s", gonanoid.Must()))
			if err := os.WriteFile(file, []byte(argString(args, "code")), 0644); err != nil {
				return "", fmt.Errorf("failed to write snippet: %w", err)
			}
			defer os.Remove(file)

			result, err := opts.Sandbox.Execute(ctx, sandbox.ExecuteRequest{
				Command:    launch[0],
				Args:       append(launch[1:], file),
				WorkingDir: opts.WorkspaceRoot,
			})
			if err != nil {
				return "", err
			}
			return formatExecResult(result), nil
		},
	}
}

func formatExecResult(result sandbox.ExecuteResult) string {
	var b strings.Builder
	if len(result.Stdout) > 0 {
		b.Write(result.Stdout)
	}
	if len(result.Stderr) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("stderr: ")
		b.Write(result.Stderr)
	}
	if result.ExitCode != 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "exit code: %d", result.ExitCode)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}
