// Package tools defines the tool contract shared between the tool registry
// and the gateway runtime.
package tools

import (
	"context"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Tool is an external callable action the planning gateway can invoke.
// Parameters are passed as a JSON-encoded string, matching the payloads the
// model emits.
type Tool interface {
	Name() string
	Description() string
	GenerateSchema() *jsonschema.Schema
	ValidateInput(parameters string) error
	Execute(ctx context.Context, parameters string) ToolResult
}

// ToolResult is the outcome of one tool execution.
type ToolResult struct {
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// IsError reports whether the execution failed.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// String renders the result for inclusion in model-facing context.
func (r ToolResult) String() string {
	out := ""
	if r.Error != "" {
		out = fmt.Sprintf("<error>\n%s\n</error>\n", r.Error)
	}
	if r.Result != "" {
		out += fmt.Sprintf("<result>\n%s\n</result>\n", r.Result)
	}
	return out
}
