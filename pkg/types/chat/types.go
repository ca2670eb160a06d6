// Package chat defines the OpenAI-shaped request and response types served
// by the /api/v1/chat endpoint, extended with the gateway planning fields.
package chat

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Message roles accepted on the chat endpoint.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single chat message.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// CompletionRequest is the OpenAI-shaped chat completion request body.
// Temperature and MaxTokens are pointers so that an absent field can be
// distinguished from an explicit zero.
type CompletionRequest struct {
	Model       string         `json:"model"`
	Messages    []Message      `json:"messages"`
	Temperature *float32       `json:"temperature,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Stream      bool           `json:"stream,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

const (
	// DefaultTemperature applies when the request omits temperature.
	DefaultTemperature float32 = 0.7
	// DefaultMaxTokens applies when the request omits max_tokens.
	DefaultMaxTokens = 512
)

var validRoles = map[string]bool{
	RoleSystem:    true,
	RoleUser:      true,
	RoleAssistant: true,
	RoleTool:      true,
}

// Validate checks the request for required fields and valid roles.
func (r *CompletionRequest) Validate() error {
	if r.Model == "" {
		return errors.New("model is required")
	}
	if len(r.Messages) == 0 {
		return errors.New("messages cannot be empty")
	}
	for i, msg := range r.Messages {
		if !validRoles[msg.Role] {
			return errors.Errorf("messages[%d]: invalid role %q", i, msg.Role)
		}
	}
	return nil
}

// TemperatureOrDefault returns the requested temperature or the default.
func (r *CompletionRequest) TemperatureOrDefault() float32 {
	if r.Temperature == nil {
		return DefaultTemperature
	}
	return *r.Temperature
}

// MaxTokensOrDefault returns the requested max tokens or the default.
func (r *CompletionRequest) MaxTokensOrDefault() int {
	if r.MaxTokens == nil {
		return DefaultMaxTokens
	}
	return *r.MaxTokens
}

type requestMetadata struct {
	IncludeFullSkills bool `mapstructure:"include_full_skills"`
}

// IncludeFullSkills reports whether metadata.include_full_skills is set.
// Malformed metadata values are treated as false.
func (r *CompletionRequest) IncludeFullSkills() bool {
	if r.Metadata == nil {
		return false
	}

	meta := requestMetadata{}
	if err := mapstructure.Decode(r.Metadata, &meta); err != nil {
		return false
	}
	return meta.IncludeFullSkills
}

// Usage reports upstream token accounting.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one completion choice in the response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// GatewayPlan is the execution trace of the planning gateway, attached to
// the completion response. LastAction and ExecutionHistory carry the
// gateway package's action and history records.
type GatewayPlan struct {
	Summary          string   `json:"summary"`
	SelectedSkills   []string `json:"selected_skills"`
	ExecutionSummary string   `json:"execution_summary"`
	IsDone           bool     `json:"is_done"`
	Decision         string   `json:"decision,omitempty"`
	LastAction       any      `json:"last_action"`
	ExecutionHistory any      `json:"execution_history"`
}

// CompletionResponse is the OpenAI-shaped chat completion response body,
// extended with the gateway plan and skill payloads.
type CompletionResponse struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Created      int64             `json:"created"`
	Model        string            `json:"model"`
	Choices      []Choice          `json:"choices"`
	Usage        Usage             `json:"usage"`
	GatewayPlan  *GatewayPlan      `json:"gateway_plan,omitempty"`
	SkillHeaders []map[string]any  `json:"skill_headers"`
	FullSkills   map[string]string `json:"full_skills,omitempty"`
}
