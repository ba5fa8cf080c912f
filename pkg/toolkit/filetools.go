package toolkit

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	defaultReadLimit = 200_000
	searchMatchLimit = 50
	listEntriesLimit = 500
)

func readFileTool(opts Options) Tool {
	return Tool{
		Name:  "read_file",
		Usage: "Read a file from the workspace; args: path, optional max_bytes.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			target, err := resolvePath(opts.WorkspaceRoot, argString(args, "path"))
			if err != nil {
				return "", err
			}

			limit := int64(argNumber(args, "max_bytes", defaultReadLimit))
			data, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("failed to read file: %w", err)
			}
			if int64(len(data)) > limit {
				return string(data[:limit]) + "\n... [truncated]", nil
			}
			return string(data), nil
		},
	}
}

func writeFileTool(opts Options) Tool {
	return Tool{
		Name:  "write_file",
		Usage: "Write content to a workspace file; args: path, content, optional append.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append instead of overwrite"},
		},
		SideEffects: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			target, err := resolvePath(opts.WorkspaceRoot, argString(args, "path"))
			if err != nil {
				return "", err
			}
			content := argString(args, "content")

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return "", fmt.Errorf("failed to create directory: %w", err)
			}

			flag := os.O_CREATE | os.O_WRONLY
			if argBool(args, "append") {
				flag |= os.O_APPEND
			} else {
				flag |= os.O_TRUNC
			}
			f, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return "", fmt.Errorf("failed to open file: %w", err)
			}
			defer f.Close()
			if _, err := f.WriteString(content); err != nil {
				return "", fmt.Errorf("failed to write file: %w", err)
			}

			return fmt.Sprintf("wrote %d bytes to %s", len(content), argString(args, "path")), nil
		},
	}
}

func editFileTool(opts Options) Tool {
	return Tool{
		Name:  "edit_file",
		Usage: "Replace an exact text fragment in a workspace file; args: path, find, replace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "find", Type: "string", Description: "Exact text to replace", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
		},
		SideEffects: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			target, err := resolvePath(opts.WorkspaceRoot, argString(args, "path"))
			if err != nil {
				return "", err
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("failed to read file: %w", err)
			}

			find := argString(args, "find")
			content := string(data)
			count := strings.Count(content, find)
			if count == 0 {
				return "", fmt.Errorf("text not found in %s", argString(args, "path"))
			}

			updated := strings.ReplaceAll(content, find, argString(args, "replace"))
			if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
				return "", fmt.Errorf("failed to write file: %w", err)
			}
			return fmt.Sprintf("replaced %d occurrence(s) in %s", count, argString(args, "path")), nil
		},
	}
}

func applyPatchTool(opts Options) Tool {
	return Tool{
		Name:  "apply_patch",
		Usage: "Apply a unified diff to one workspace file; args: path, patch.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "patch", Type: "string", Description: "Unified diff hunks", Required: true},
		},
		SideEffects: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			target, err := resolvePath(opts.WorkspaceRoot, argString(args, "path"))
			if err != nil {
				return "", err
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return "", fmt.Errorf("failed to read file: %w", err)
			}

			patched, applied, err := applyUnifiedDiff(string(data), argString(args, "patch"))
			if err != nil {
				return "", err
			}
			if err := os.WriteFile(target, []byte(patched), 0644); err != nil {
				return "", fmt.Errorf("failed to write file: %w", err)
			}
			return fmt.Sprintf("applied %d hunk(s) to %s", applied, argString(args, "path")), nil
		},
	}
}

func listDirTool(opts Options) Tool {
	return Tool{
		Name:  "list_dir",
		Usage: "List a workspace directory; args: optional path.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative directory path"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			rel := argString(args, "path")
			if rel == "" {
				rel = "."
			}
			target, err := resolvePath(opts.WorkspaceRoot, rel)
			if err != nil {
				return "", err
			}

			entries, err := os.ReadDir(target)
			if err != nil {
				return "", fmt.Errorf("failed to list directory: %w", err)
			}

			var b strings.Builder
			for i, e := range entries {
				if i >= listEntriesLimit {
					b.WriteString("... [truncated]\n")
					break
				}
				if e.IsDir() {
					fmt.Fprintf(&b, "%s/\n", e.Name())
				} else {
					fmt.Fprintf(&b, "%s\n", e.Name())
				}
			}
			if b.Len() == 0 {
				return "(empty directory)", nil
			}
			return b.String(), nil
		},
	}
}

func searchTextTool(opts Options) Tool {
	return Tool{
		Name:  "search_text",
		Usage: "Search workspace files with a regular expression; args: pattern, optional path.",
		Parameters: []Parameter{
			{Name: "pattern", Type: "string", Description: "Regular expression", Required: true},
			{Name: "path", Type: "string", Description: "Relative directory to search"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			re, err := regexp.Compile(argString(args, "pattern"))
			if err != nil {
				return "", fmt.Errorf("invalid pattern: %w", err)
			}

			rel := argString(args, "path")
			if rel == "" {
				rel = "."
			}
			root, err := resolvePath(opts.WorkspaceRoot, rel)
			if err != nil {
				return "", err
			}

			var matches []string
			err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil || d.IsDir() {
					return err
				}
				if len(matches) >= searchMatchLimit {
					return fs.SkipAll
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return nil
				}
				relPath, _ := filepath.Rel(opts.WorkspaceRoot, path)
				for i, line := range strings.Split(string(data), "\n") {
					if re.MatchString(line) {
						matches = append(matches, fmt.Sprintf("%s:%d: %s", relPath, i+1, strings.TrimSpace(line)))
						if len(matches) >= searchMatchLimit {
							break
						}
					}
				}
				return nil
			})
			if err != nil {
				return "", fmt.Errorf("search failed: %w", err)
			}
			if len(matches) == 0 {
				return "no matches", nil
			}
			sort.Strings(matches)
			return strings.Join(matches, "\n"), nil
		},
	}
}

// resolvePath joins a relative path onto the workspace root and rejects
// anything that escapes it.
func resolvePath(root, rel string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("workspace root is not configured")
	}
	if rel == "" {
		return "", fmt.Errorf("path is required")
	}

	target := filepath.Clean(filepath.Join(root, rel))
	cleanRoot := filepath.Clean(root)
	if target != cleanRoot && !strings.HasPrefix(target, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s escapes the workspace", rel)
	}
	return target, nil
}

// applyUnifiedDiff applies the hunks of a single-file unified diff. Hunks
// are located by matching their context and deleted lines rather than
// trusting line numbers, so slightly stale offsets still apply.
func applyUnifiedDiff(content, patch string) (string, int, error) {
	lines := strings.Split(content, "\n")
	applied := 0

	var hunks [][]string
	var current []string
	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			continue
		case strings.HasPrefix(line, "@@"):
			if current != nil {
				hunks = append(hunks, current)
			}
			current = []string{}
		default:
			if current != nil {
				current = append(current, line)
			}
		}
	}
	if current != nil {
		hunks = append(hunks, current)
	}
	if len(hunks) == 0 {
		return "", 0, fmt.Errorf("patch contains no hunks")
	}

	for _, hunk := range hunks {
		var before, after []string
		for _, line := range hunk {
			if line == "" && len(before) == 0 {
				continue
			}
			switch {
			case strings.HasPrefix(line, "-"):
				before = append(before, line[1:])
			case strings.HasPrefix(line, "+"):
				after = append(after, line[1:])
			default:
				text := strings.TrimPrefix(line, " ")
				before = append(before, text)
				after = append(after, text)
			}
		}

		idx := findLines(lines, before)
		if idx < 0 {
			return "", 0, fmt.Errorf("hunk %d does not match file content", applied+1)
		}
		replaced := make([]string, 0, len(lines)-len(before)+len(after))
		replaced = append(replaced, lines[:idx]...)
		replaced = append(replaced, after...)
		replaced = append(replaced, lines[idx+len(before):]...)
		lines = replaced
		applied++
	}

	return strings.Join(lines, "\n"), applied, nil
}

func findLines(haystack, needle []string) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
	for i := 0; i <= len(haystack)-len(needle); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func argString(args map[string]interface{}, key string) string {
	v, _ := args[key].(string)
	return v
}

func argBool(args map[string]interface{}, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func argNumber(args map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := args[key].(float64); ok && v > 0 {
		return v
	}
	return fallback
}
