// Package agent orchestrates the gateway decision loop: it repeatedly asks
// the planning agent for the next step, executes tools, accumulates an
// execution history, injects selected skill content, and assembles the final
// chat completion response.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/agentmesh/agentgate/pkg/config"
	"github.com/agentmesh/agentgate/pkg/gateway"
	"github.com/agentmesh/agentgate/pkg/llm"
	"github.com/agentmesh/agentgate/pkg/logger"
	"github.com/agentmesh/agentgate/pkg/prompts"
	"github.com/agentmesh/agentgate/pkg/skills"
	"github.com/agentmesh/agentgate/pkg/tools"
	"github.com/agentmesh/agentgate/pkg/types/chat"
)

// maxIterations bounds the decision loop per request.
const maxIterations = 5

const historyMessageName = "gateway-execution-history"

// Planner decides the next step of the loop. Satisfied by
// gateway.PlanningAgent.
type Planner interface {
	DecideNextAction(
		ctx context.Context,
		model string,
		userRequest string,
		skillHeaders []map[string]any,
		toolNames []string,
		history []gateway.HistoryEntry,
	) (*gateway.NextAction, error)
}

// Runtime wires the configuration, skill store, prompt registry, tool
// registry, planning agent, and LLM client. All collaborators are built once
// at startup and read-only afterwards.
type Runtime struct {
	config  *config.Config
	skills  *skills.Store
	prompts *prompts.Registry
	tools   *tools.Registry
	planner Planner
	llm     gateway.ChatCompleter
}

// NewRuntime builds the runtime from the agent config. Skill files are
// loaded eagerly; a malformed skill file fails startup.
func NewRuntime(cfg *config.Config, client gateway.ChatCompleter) (*Runtime, error) {
	store, err := skills.NewStore(cfg.Settings.SkillsDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load skills")
	}

	promptRegistry, err := prompts.NewRegistry(cfg.Prompts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build prompt registry")
	}

	toolRegistry, err := tools.NewRegistry(cfg.Tools)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build tool registry")
	}

	return &Runtime{
		config:  cfg,
		skills:  store,
		prompts: promptRegistry,
		tools:   toolRegistry,
		planner: gateway.NewPlanningAgent(client),
		llm:     client,
	}, nil
}

// Skills returns the runtime's skill store.
func (r *Runtime) Skills() *skills.Store {
	return r.skills
}

// Prompts returns the runtime's prompt registry.
func (r *Runtime) Prompts() *prompts.Registry {
	return r.prompts
}

// Tools returns the runtime's tool registry.
func (r *Runtime) Tools() *tools.Registry {
	return r.tools
}

// HandleChat runs the gateway decision loop for one chat completion request
// and assembles the response. The execution history lives only for the
// duration of the call.
func (r *Runtime) HandleChat(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
	userText := collectUserText(req.Messages)

	var (
		selectedSkills  []string
		selectedHeaders []map[string]any
		history         []gateway.HistoryEntry
		finalAction     *gateway.NextAction
	)

	for iteration := 0; iteration < maxIterations; iteration++ {
		next, err := r.planner.DecideNextAction(ctx, req.Model, userText, selectedHeaders, r.tools.Names(), history)
		if err != nil {
			return nil, err
		}
		finalAction = next

		if next.Action != nil {
			for _, name := range next.Action.RequiredSkills {
				if slices.Contains(selectedSkills, name) {
					continue
				}
				selectedSkills = append(selectedSkills, name)
				if skill, ok := r.skills.Get(name); ok {
					selectedHeaders = append(selectedHeaders, skill.Header)
				}
			}
		}

		if next.Done {
			break
		}

		if next.Action == nil {
			history = append(history, gateway.HistoryEntry{
				Status:  "error",
				Message: "Planner did not provide an action while is_done is false.",
			})
			break
		}

		outcome := r.executeStep(ctx, next)
		history = append(history, gateway.HistoryEntry{
			StepID:         next.Action.StepID,
			Title:          next.Action.Title,
			Objective:      next.Action.Objective,
			RequiredSkills: next.Action.RequiredSkills,
			ToolName:       next.Action.ToolName,
			ToolPayload:    next.Action.ToolPayload,
			ToolResult:     outcome,
		})
	}

	includeFull := req.IncludeFullSkills()
	messages := r.augmentMessages(ctx, req.Messages, selectedSkills, history, includeFull)

	assistant, usage, err := r.finalAnswer(ctx, req, messages, finalAction)
	if err != nil {
		return nil, err
	}

	return r.buildResponse(req, assistant, usage, selectedSkills, history, finalAction, includeFull), nil
}

// executeStep runs the tool part of one planned step.
func (r *Runtime) executeStep(ctx context.Context, next *gateway.NextAction) *gateway.ToolOutcome {
	switch next.Decision {
	case gateway.DecisionRunTool:
		toolName := next.Action.ToolName
		if toolName == "" || !slices.Contains(r.tools.Names(), toolName) {
			return &gateway.ToolOutcome{
				Status: gateway.ToolStatusError,
				Error:  "Requested tool is not available.",
			}
		}

		payload := next.Action.ToolPayload
		if len(payload) == 0 {
			payload = map[string]string{"objective": next.Action.Objective}
		}

		result, err := r.tools.Call(ctx, toolName, payload)
		if err != nil {
			return &gateway.ToolOutcome{Status: gateway.ToolStatusError, Error: err.Error()}
		}
		if result.IsError() {
			return &gateway.ToolOutcome{Status: gateway.ToolStatusError, Error: result.Error}
		}
		return &gateway.ToolOutcome{Status: gateway.ToolStatusOK, Output: result.Result}

	case gateway.DecisionAskForSkill:
		return &gateway.ToolOutcome{Status: gateway.ToolStatusSkipped, Reason: "Skill request only"}

	default:
		return &gateway.ToolOutcome{Status: gateway.ToolStatusSkipped, Reason: "No tool requested"}
	}
}

// augmentMessages prepends skill system messages and appends the execution
// history to the conversation sent upstream.
func (r *Runtime) augmentMessages(
	ctx context.Context,
	original []chat.Message,
	selectedSkills []string,
	history []gateway.HistoryEntry,
	includeFull bool,
) []chat.Message {
	var systemMessages []chat.Message
	for _, name := range selectedSkills {
		skill, ok := r.skills.Get(name)
		if !ok {
			continue
		}

		content := skill.Body
		if !includeFull {
			content = headerOnlyContent(ctx, skill)
		}

		systemMessages = append(systemMessages, chat.Message{
			Role:    chat.RoleSystem,
			Content: content,
			Name:    name,
		})
	}

	messages := make([]chat.Message, 0, len(systemMessages)+len(original)+1)
	messages = append(messages, systemMessages...)
	messages = append(messages, original...)

	if len(history) > 0 {
		serialized, err := json.Marshal(history)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to serialize execution history")
		} else {
			messages = append(messages, chat.Message{
				Role:    chat.RoleSystem,
				Content: fmt.Sprintf("Execution history: %s", serialized),
				Name:    historyMessageName,
			})
		}
	}

	return messages
}

// headerOnlyContent renders a skill's frontmatter as YAML with a hint on how
// to request the full body.
func headerOnlyContent(ctx context.Context, skill *skills.Skill) string {
	header, err := yaml.Marshal(skill.Header)
	if err != nil {
		logger.G(ctx).WithError(err).WithField("skill", skill.Name).Warn("failed to render skill header")
		header = []byte(skill.Description + "\n")
	}

	return fmt.Sprintf(
		"Skill header only:\n%sSet metadata.include_full_skills=true to request the full skill body.",
		header,
	)
}

// finalAnswer produces the assistant message: the planner's final response
// when it finished on its own, otherwise one upstream completion call with
// the augmented conversation.
func (r *Runtime) finalAnswer(
	ctx context.Context,
	req *chat.CompletionRequest,
	messages []chat.Message,
	finalAction *gateway.NextAction,
) (chat.Message, chat.Usage, error) {
	if finalAction != nil && finalAction.Done && finalAction.FinalResponse != "" {
		return chat.Message{Role: chat.RoleAssistant, Content: finalAction.FinalResponse}, chat.Usage{}, nil
	}

	resp, err := r.llm.ChatCompletion(ctx, llm.Request{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.TemperatureOrDefault(),
		MaxTokens:   req.MaxTokensOrDefault(),
	})
	if err != nil {
		return chat.Message{}, chat.Usage{}, errors.Wrap(err, "upstream completion failed")
	}

	return resp.Message, resp.Usage, nil
}

func (r *Runtime) buildResponse(
	req *chat.CompletionRequest,
	assistant chat.Message,
	usage chat.Usage,
	selectedSkills []string,
	history []gateway.HistoryEntry,
	finalAction *gateway.NextAction,
	includeFull bool,
) *chat.CompletionResponse {
	plan := &chat.GatewayPlan{
		Summary:          "No execution output.",
		SelectedSkills:   selectedSkills,
		ExecutionSummary: "No execution output.",
		ExecutionHistory: history,
	}
	if finalAction != nil {
		plan.Summary = finalAction.Summary
		plan.ExecutionSummary = finalAction.Summary
		plan.IsDone = finalAction.Done
		plan.Decision = finalAction.Decision
		plan.LastAction = finalAction.Action
	}

	var skillHeaders []map[string]any
	var fullSkills map[string]string
	for _, name := range selectedSkills {
		skill, ok := r.skills.Get(name)
		if !ok {
			continue
		}
		skillHeaders = append(skillHeaders, skill.Header)
		if includeFull {
			if fullSkills == nil {
				fullSkills = make(map[string]string)
			}
			fullSkills[name] = skill.Body
		}
	}

	return &chat.CompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []chat.Choice{
			{Index: 0, Message: assistant, FinishReason: "stop"},
		},
		Usage:        usage,
		GatewayPlan:  plan,
		SkillHeaders: skillHeaders,
		FullSkills:   fullSkills,
	}
}

// completionID generates an OpenAI-style chat completion id.
func completionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "chatcmpl-" + hex[:24]
}

// collectUserText concatenates the content of all user-role messages.
func collectUserText(messages []chat.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role == chat.RoleUser {
			parts = append(parts, msg.Content)
		}
	}
	return strings.Join(parts, "\n")
}
