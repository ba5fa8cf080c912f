// Package toolkit holds the fixed tool table the reasoning loop dispatches
// actions to. Tools are registered once at startup; every invocation
// validates its arguments against a JSON Schema generated from the tool's
// parameter list.
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownTool is returned when an action names a tool that was never
// registered. Callers surface it as an observation, not a run failure.
var ErrUnknownTool = errors.New("unknown tool")

// Parameter describes one tool argument.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// Handler executes a tool invocation and returns a textual observation.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is one entry in the dispatch table.
type Tool struct {
	Name       string
	Usage      string
	Parameters []Parameter
	// SideEffects marks tools with filesystem, process, or shell effects.
	// The loop's safety gate only screens these.
	SideEffects bool
	Handler     Handler
}

// Registry is the fixed tool table, built at startup and read-only after.
type Registry struct {
	order   []string
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger,
	}
}

// Register adds a tool. Names must be unique; parameter lists compile to a
// schema at registration so bad definitions fail at startup, not mid-run.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return errors.New("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s has no handler", tool.Name)
	}
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name)
	}

	schema, err := generateSchema(tool)
	if err != nil {
		return fmt.Errorf("failed to build schema for %s: %w", tool.Name, err)
	}

	r.tools[tool.Name] = tool
	r.schemas[tool.Name] = schema
	r.order = append(r.order, tool.Name)
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Catalogue renders the one-line-per-tool usage listing fed into prompts.
func (r *Registry) Catalogue() string {
	var b strings.Builder
	for _, name := range r.order {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.tools[name].Usage)
	}
	return b.String()
}

// Invoke validates args and runs the named tool.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if err := validateArgs(r.schemas[name], args); err != nil {
		return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	invocationID := gonanoid.Must()
	start := time.Now()
	observation, err := tool.Handler(ctx, args)

	evt := r.logger.Debug()
	if err != nil {
		evt = r.logger.Warn().Err(err)
	}
	evt.Str("tool", name).
		Str("invocation_id", invocationID).
		Dur("duration", time.Since(start)).
		Msg("Tool invoked")

	return observation, err
}

// generateSchema builds a JSON Schema from the tool's parameter list.
func generateSchema(tool Tool) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{})
	required := []string{}

	for _, p := range tool.Parameters {
		switch p.Type {
		case "string", "number", "integer", "boolean", "object", "array":
		default:
			return nil, fmt.Errorf("invalid parameter type %s for %s", p.Type, p.Name)
		}
		properties[p.Name] = map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	return nil
}
