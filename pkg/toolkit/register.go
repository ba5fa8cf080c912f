package toolkit

import (
	"fmt"

	"github.com/corvidae-ai/warden/pkg/governor"
	"github.com/corvidae-ai/warden/pkg/sandbox"
)

// Options wires the core tools to their collaborators.
type Options struct {
	WorkspaceRoot string
	Sandbox       *sandbox.Sandbox
	Delegate      DelegateFunc
	Governor      *governor.Governor
}

// RegisterCoreTools fills a registry with the fixed tool table.
func RegisterCoreTools(registry *Registry, opts Options) error {
	tools := []Tool{
		llmQueryTool(opts),
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
		applyPatchTool(opts),
		listDirTool(opts),
		searchTextTool(opts),
		execTool(opts),
		runCodeTool(opts),
		personaReviewTool(opts),
		summarizeTool(opts),
		budgetStatusTool(opts),
	}

	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", tool.Name, err)
		}
	}
	return nil
}
