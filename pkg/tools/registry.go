// Package tools builds the executable tool adapters declared in the agent
// runtime config and exposes them to the gateway by name.
package tools

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/agentmesh/agentgate/pkg/config"
	"github.com/agentmesh/agentgate/pkg/logger"
	tooltypes "github.com/agentmesh/agentgate/pkg/types/tools"
)

// GenerateSchema derives the JSON schema for a tool input type.
func GenerateSchema[T any]() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T

	return reflector.Reflect(v)
}

// Registry maps configured tool names to executable adapters. Built once at
// startup and read-only afterwards.
type Registry struct {
	tools map[string]tooltypes.Tool
	names []string
}

// NewRegistry builds tool adapters from configuration. An unknown tool kind
// is a startup error.
func NewRegistry(configs []config.ToolConfig) (*Registry, error) {
	registry := &Registry{
		tools: make(map[string]tooltypes.Tool, len(configs)),
	}

	for _, cfg := range configs {
		tool, err := buildTool(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build tool %q", cfg.Name)
		}
		registry.tools[cfg.Name] = tool
		registry.names = append(registry.names, cfg.Name)
	}

	sort.Strings(registry.names)
	return registry, nil
}

func buildTool(cfg config.ToolConfig) (tooltypes.Tool, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = "web"
	}

	switch kind {
	case "web":
		return NewWebRequestTool(cfg)
	default:
		return nil, errors.Errorf("unknown tool kind %q", kind)
	}
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (tooltypes.Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Call validates and executes the named tool with the given payload.
func (r *Registry) Call(ctx context.Context, name string, payload map[string]string) (tooltypes.ToolResult, error) {
	tool, ok := r.tools[name]
	if !ok {
		return tooltypes.ToolResult{}, errors.Errorf("tool %q not found", name)
	}

	parameters, err := json.Marshal(payload)
	if err != nil {
		return tooltypes.ToolResult{}, errors.Wrap(err, "failed to encode tool payload")
	}

	if err := tool.ValidateInput(string(parameters)); err != nil {
		return tooltypes.ToolResult{Error: err.Error()}, nil
	}

	logger.G(ctx).WithField("tool", name).Debug("executing tool")
	return tool.Execute(ctx, string(parameters)), nil
}
