// Package gateway implements the planning layer of the agent runtime. Each
// turn it asks the model to choose the next step as structured JSON: run a
// tool, request skill content, or finish with a final response. Malformed
// model output never fails the loop; it degrades to a safe final response.
package gateway

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/agentmesh/agentgate/pkg/llm"
	"github.com/agentmesh/agentgate/pkg/logger"
	"github.com/agentmesh/agentgate/pkg/types/chat"
)

// Decision values a planning turn can produce.
const (
	DecisionRunTool       = "run_tool"
	DecisionAskForSkill   = "ask_for_skill"
	DecisionFinalResponse = "final_response"
)

// Action describes one planned step.
type Action struct {
	StepID         string            `json:"step_id"`
	Title          string            `json:"title"`
	Objective      string            `json:"objective"`
	RequiredSkills []string          `json:"required_skills"`
	ToolName       string            `json:"tool_name,omitempty"`
	ToolPayload    map[string]string `json:"tool_payload,omitempty"`
}

// NextAction is the model's decision for one loop iteration.
type NextAction struct {
	Summary       string  `json:"summary"`
	Done          bool    `json:"is_done"`
	Decision      string  `json:"decision,omitempty"`
	Action        *Action `json:"action"`
	FinalResponse string  `json:"final_response,omitempty"`
}

// SkillPlan is the model's up-front skill selection.
type SkillPlan struct {
	Summary        string   `json:"summary"`
	RequiredSkills []string `json:"required_skills"`
}

// ToolOutcome records what happened to the tool part of a step.
type ToolOutcome struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
	Output string `json:"output,omitempty"`
}

// Tool outcome status values.
const (
	ToolStatusOK      = "ok"
	ToolStatusSkipped = "skipped"
	ToolStatusError   = "error"
)

// HistoryEntry is the transcript record of one completed loop step. Entries
// accumulate within a single request and are discarded afterwards.
type HistoryEntry struct {
	StepID         string            `json:"step_id,omitempty"`
	Title          string            `json:"title,omitempty"`
	Objective      string            `json:"objective,omitempty"`
	RequiredSkills []string          `json:"required_skills,omitempty"`
	ToolName       string            `json:"tool_name,omitempty"`
	ToolPayload    map[string]string `json:"tool_payload,omitempty"`
	ToolResult     *ToolOutcome      `json:"tool_result,omitempty"`
	Status         string            `json:"status,omitempty"`
	Message        string            `json:"message,omitempty"`
}

// ChatCompleter is the upstream LLM call the agent depends on.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, req llm.Request) (*llm.Response, error)
}

const (
	plannerTemperature float32 = 0.1
	plannerMaxTokens           = 700
)

const nextActionPrompt = "You are an execution coordinator for an agent gateway. " +
	"Given the user request, selected skill headers, available tools, and execution history, decide the next action. " +
	"Return JSON only with keys: summary, is_done, decision, action, final_response. " +
	"decision must be one of run_tool, ask_for_skill, final_response. " +
	"If is_done=true, set action=null and include final_response. " +
	"If is_done=false, set action with: step_id, title, objective, required_skills, tool_name, tool_payload."

const skillPlanPrompt = "You are a planning gateway for an agent framework. " +
	"Given a user request and available skill headers, choose required skills for the next round. " +
	"Only use skill names from the provided headers. " +
	"Return JSON only with keys: summary, required_skills."

// PlanningAgent asks the model for planning decisions.
type PlanningAgent struct {
	client ChatCompleter
}

// NewPlanningAgent creates a planning agent over the given LLM client.
func NewPlanningAgent(client ChatCompleter) *PlanningAgent {
	return &PlanningAgent{client: client}
}

// DecideNextAction runs one planning turn. An upstream call failure is
// returned as an error; malformed model output yields a fallback final
// response instead.
func (a *PlanningAgent) DecideNextAction(
	ctx context.Context,
	model string,
	userRequest string,
	skillHeaders []map[string]any,
	toolNames []string,
	history []HistoryEntry,
) (*NextAction, error) {
	payload, err := json.Marshal(map[string]any{
		"request":           userRequest,
		"skill_headers":     skillHeaders,
		"available_tools":   toolNames,
		"execution_history": history,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode planning context")
	}

	resp, err := a.client.ChatCompletion(ctx, llm.Request{
		Model: model,
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: nextActionPrompt},
			{Role: chat.RoleUser, Content: string(payload)},
		},
		Temperature: plannerTemperature,
		MaxTokens:   plannerMaxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, "next action planning call failed")
	}

	next := &NextAction{}
	if err := json.Unmarshal([]byte(unwrapCodeFence(resp.Message.Content)), next); err != nil {
		logger.G(ctx).WithError(err).Warn("planner returned non-JSON output, falling back to a final response")
		return fallbackNextAction(), nil
	}

	next.Decision = normalizeDecision(next)
	return next, nil
}

// BuildSkillPlan asks the model which skills the request needs.
func (a *PlanningAgent) BuildSkillPlan(
	ctx context.Context,
	model string,
	userRequest string,
	skillHeaders []map[string]any,
) (*SkillPlan, error) {
	payload, err := json.Marshal(map[string]any{
		"request":       userRequest,
		"skill_headers": skillHeaders,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode planning context")
	}

	resp, err := a.client.ChatCompletion(ctx, llm.Request{
		Model: model,
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: skillPlanPrompt},
			{Role: chat.RoleUser, Content: string(payload)},
		},
		Temperature: plannerTemperature,
		MaxTokens:   plannerMaxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, "skill planning call failed")
	}

	plan := &SkillPlan{}
	if err := json.Unmarshal([]byte(unwrapCodeFence(resp.Message.Content)), plan); err != nil {
		logger.G(ctx).WithError(err).Warn("planner returned non-JSON output, falling back to an empty skill plan")
		return &SkillPlan{Summary: "Fallback plan due to non-JSON planner output."}, nil
	}

	return plan, nil
}

func fallbackNextAction() *NextAction {
	return &NextAction{
		Summary:       "Fallback next action due to non-JSON planner output.",
		Done:          true,
		Decision:      DecisionFinalResponse,
		FinalResponse: "I could not produce a structured next action, so I am returning a safe fallback response.",
	}
}

// normalizeDecision maps missing or out-of-enum decisions onto the closest
// valid one, inferred from the rest of the action.
func normalizeDecision(next *NextAction) string {
	switch next.Decision {
	case DecisionRunTool, DecisionAskForSkill, DecisionFinalResponse:
		return next.Decision
	}

	if next.Done {
		return DecisionFinalResponse
	}
	if next.Action != nil && next.Action.ToolName != "" {
		return DecisionRunTool
	}
	return DecisionAskForSkill
}

// unwrapCodeFence strips a surrounding markdown code fence from model
// output, tolerating a language tag after the opening fence.
func unwrapCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}

	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return trimmed
	}

	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}

	return strings.TrimSpace(strings.Join(lines, "\n"))
}
