package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentgate/pkg/config"
	"github.com/agentmesh/agentgate/pkg/gateway"
	"github.com/agentmesh/agentgate/pkg/llm"
	"github.com/agentmesh/agentgate/pkg/types/chat"
)

// scriptedLLM serves queued planner responses to planning calls and a fixed
// completion to everything else, mirroring how the planner and the final
// answer share one upstream client.
type scriptedLLM struct {
	plannerResponses []string
	finalResponse    string
	plannerCalls     int
	finalRequests    []llm.Request
}

func (s *scriptedLLM) ChatCompletion(_ context.Context, req llm.Request) (*llm.Response, error) {
	if len(req.Messages) > 0 &&
		req.Messages[0].Role == chat.RoleSystem &&
		strings.Contains(req.Messages[0].Content, "execution coordinator") {
		idx := s.plannerCalls
		if idx >= len(s.plannerResponses) {
			idx = len(s.plannerResponses) - 1
		}
		s.plannerCalls++
		return &llm.Response{
			Message: chat.Message{Role: chat.RoleAssistant, Content: s.plannerResponses[idx]},
			Usage:   chat.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		}, nil
	}

	s.finalRequests = append(s.finalRequests, req)
	return &llm.Response{
		Message: chat.Message{Role: chat.RoleAssistant, Content: s.finalResponse},
		Usage:   chat.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
	}, nil
}

func writeSkill(t *testing.T, dir, folder, content string) {
	t.Helper()
	skillDir := filepath.Join(dir, folder)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte(content), 0o644))
}

func newTestRuntime(t *testing.T, client gateway.ChatCompleter, toolConfigs []config.ToolConfig) *Runtime {
	t.Helper()

	skillsDir := t.TempDir()
	writeSkill(t, skillsDir, "repo-assistant", `---
name: repo-assistant
description: Helps with repository review and test runs
---

# Repo Assistant

Review repositories and run their test suites.
`)

	cfg := &config.Config{
		Tools: toolConfigs,
		Settings: config.Settings{
			SkillsDir: skillsDir,
		},
	}

	runtime, err := NewRuntime(cfg, client)
	require.NoError(t, err)
	return runtime
}

func userRequest(content string) *chat.CompletionRequest {
	return &chat.CompletionRequest{
		Model:    "qwen3-32b",
		Messages: []chat.Message{{Role: chat.RoleUser, Content: content}},
	}
}

func TestHandleChatPlannerFinishesDirectly(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{`{
			"summary": "Answered directly",
			"is_done": true,
			"decision": "final_response",
			"action": {
				"step_id": "step-1",
				"title": "Answer",
				"objective": "Answer the question",
				"required_skills": ["repo-assistant"]
			},
			"final_response": "all reviewed"
		}`},
	}
	runtime := newTestRuntime(t, client, nil)

	resp, err := runtime.HandleChat(context.Background(), userRequest("review repository"))
	require.NoError(t, err)

	// planner answered, so no upstream completion call happened
	assert.Empty(t, client.finalRequests)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "all reviewed", resp.Choices[0].Message.Content)
	assert.Equal(t, chat.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, chat.Usage{}, resp.Usage)

	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Len(t, strings.TrimPrefix(resp.ID, "chatcmpl-"), 24)
	assert.Equal(t, "chat.completion", resp.Object)
	assert.Equal(t, "qwen3-32b", resp.Model)

	require.NotNil(t, resp.GatewayPlan)
	assert.True(t, resp.GatewayPlan.IsDone)
	assert.Equal(t, gateway.DecisionFinalResponse, resp.GatewayPlan.Decision)
	assert.Equal(t, []string{"repo-assistant"}, resp.GatewayPlan.SelectedSkills)

	require.Len(t, resp.SkillHeaders, 1)
	assert.Equal(t, "repo-assistant", resp.SkillHeaders[0]["name"])
	assert.Nil(t, resp.FullSkills)
}

func TestHandleChatInjectsSkillHeadersIntoUpstreamCall(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{
			`{
				"summary": "Need the repo skill",
				"is_done": false,
				"decision": "ask_for_skill",
				"action": {
					"step_id": "step-1",
					"title": "Gather skills",
					"objective": "Load repo instructions",
					"required_skills": ["repo-assistant"]
				}
			}`,
			`{"summary": "Ready to answer", "is_done": true, "decision": "final_response"}`,
		},
		finalResponse: "example response",
	}
	runtime := newTestRuntime(t, client, nil)

	resp, err := runtime.HandleChat(context.Background(), userRequest("review repository and run tests"))
	require.NoError(t, err)

	// second planner turn had no final_response, so the upstream call ran
	require.Len(t, client.finalRequests, 1)
	messages := client.finalRequests[0].Messages

	require.GreaterOrEqual(t, len(messages), 3)
	assert.Equal(t, chat.RoleSystem, messages[0].Role)
	assert.Equal(t, "repo-assistant", messages[0].Name)
	assert.Contains(t, messages[0].Content, "Skill header only:")
	assert.Contains(t, messages[0].Content, "include_full_skills=true")
	assert.NotContains(t, messages[0].Content, "# Repo Assistant")

	last := messages[len(messages)-1]
	assert.Equal(t, historyMessageName, last.Name)
	assert.Contains(t, last.Content, "Execution history:")
	assert.Contains(t, last.Content, "Skill request only")

	assert.Equal(t, "example response", resp.Choices[0].Message.Content)
	assert.Equal(t, chat.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3}, resp.Usage)
}

func TestHandleChatFullSkillsWhenRequested(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{
			`{
				"summary": "Need the repo skill",
				"is_done": false,
				"decision": "ask_for_skill",
				"action": {
					"step_id": "step-1",
					"title": "Gather skills",
					"objective": "Load repo instructions",
					"required_skills": ["repo-assistant"]
				}
			}`,
			`{"summary": "Done", "is_done": true, "decision": "final_response"}`,
		},
		finalResponse: "example response",
	}
	runtime := newTestRuntime(t, client, nil)

	req := userRequest("review repository")
	req.Metadata = map[string]any{"include_full_skills": true}

	resp, err := runtime.HandleChat(context.Background(), req)
	require.NoError(t, err)

	require.Contains(t, resp.FullSkills, "repo-assistant")
	assert.Contains(t, resp.FullSkills["repo-assistant"], "# Repo Assistant")

	// the full body was injected into the upstream conversation
	require.Len(t, client.finalRequests, 1)
	assert.Contains(t, client.finalRequests[0].Messages[0].Content, "# Repo Assistant")
}

func TestHandleChatRunsConfiguredTool(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "fetched payload")
	}))
	defer server.Close()

	client := &scriptedLLM{
		plannerResponses: []string{
			fmt.Sprintf(`{
				"summary": "Fetch the docs",
				"is_done": false,
				"decision": "run_tool",
				"action": {
					"step_id": "step-1",
					"title": "Fetch",
					"objective": "Fetch the docs",
					"required_skills": [],
					"tool_name": "web-request",
					"tool_payload": {"url": %q}
				}
			}`, server.URL),
			`{"summary": "Done", "is_done": true, "decision": "final_response", "final_response": "done"}`,
		},
	}
	runtime := newTestRuntime(t, client, []config.ToolConfig{{Name: "web-request", Kind: "web"}})

	resp, err := runtime.HandleChat(context.Background(), userRequest("fetch the docs"))
	require.NoError(t, err)

	history, ok := resp.GatewayPlan.ExecutionHistory.([]gateway.HistoryEntry)
	require.True(t, ok)
	require.Len(t, history, 1)
	assert.Equal(t, "web-request", history[0].ToolName)
	require.NotNil(t, history[0].ToolResult)
	assert.Equal(t, gateway.ToolStatusOK, history[0].ToolResult.Status)
	assert.Equal(t, "fetched payload", history[0].ToolResult.Output)
}

func TestHandleChatUnavailableTool(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{
			`{
				"summary": "Try a missing tool",
				"is_done": false,
				"decision": "run_tool",
				"action": {
					"step_id": "step-1",
					"title": "Call",
					"objective": "Use a tool that is not configured",
					"required_skills": [],
					"tool_name": "sql-query"
				}
			}`,
			`{"summary": "Done", "is_done": true, "decision": "final_response", "final_response": "done"}`,
		},
	}
	runtime := newTestRuntime(t, client, nil)

	resp, err := runtime.HandleChat(context.Background(), userRequest("query the database"))
	require.NoError(t, err)

	history := resp.GatewayPlan.ExecutionHistory.([]gateway.HistoryEntry)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ToolResult)
	assert.Equal(t, gateway.ToolStatusError, history[0].ToolResult.Status)
	assert.Equal(t, "Requested tool is not available.", history[0].ToolResult.Error)
}

func TestHandleChatMissingActionStopsLoop(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{
			`{"summary": "Confused", "is_done": false, "decision": "ask_for_skill"}`,
		},
		finalResponse: "best effort answer",
	}
	runtime := newTestRuntime(t, client, nil)

	resp, err := runtime.HandleChat(context.Background(), userRequest("hello"))
	require.NoError(t, err)

	assert.Equal(t, 1, client.plannerCalls)
	history := resp.GatewayPlan.ExecutionHistory.([]gateway.HistoryEntry)
	require.Len(t, history, 1)
	assert.Equal(t, "error", history[0].Status)
	assert.Contains(t, history[0].Message, "did not provide an action")
	assert.Equal(t, "best effort answer", resp.Choices[0].Message.Content)
}

func TestHandleChatIterationBudget(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{`{
			"summary": "Keep going",
			"is_done": false,
			"decision": "ask_for_skill",
			"action": {
				"step_id": "step-n",
				"title": "Again",
				"objective": "Request more context",
				"required_skills": ["repo-assistant"]
			}
		}`},
		finalResponse: "ran out of budget",
	}
	runtime := newTestRuntime(t, client, nil)

	resp, err := runtime.HandleChat(context.Background(), userRequest("loop forever"))
	require.NoError(t, err)

	assert.Equal(t, maxIterations, client.plannerCalls)
	history := resp.GatewayPlan.ExecutionHistory.([]gateway.HistoryEntry)
	assert.Len(t, history, maxIterations)
	assert.False(t, resp.GatewayPlan.IsDone)
	assert.Equal(t, "ran out of budget", resp.Choices[0].Message.Content)
}

func TestHandleChatMalformedPlannerOutputFallsBack(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{"I'd suggest fetching the docs first."},
	}
	runtime := newTestRuntime(t, client, nil)

	resp, err := runtime.HandleChat(context.Background(), userRequest("hello"))
	require.NoError(t, err)

	assert.Equal(t, 1, client.plannerCalls)
	assert.Empty(t, client.finalRequests)
	assert.True(t, resp.GatewayPlan.IsDone)
	assert.Contains(t, resp.Choices[0].Message.Content, "safe fallback response")
}

func TestHandleChatUnknownSkillNamesAreTolerated(t *testing.T) {
	client := &scriptedLLM{
		plannerResponses: []string{`{
			"summary": "Done",
			"is_done": true,
			"decision": "final_response",
			"action": {
				"step_id": "step-1",
				"title": "Answer",
				"objective": "Answer",
				"required_skills": ["repo-assistant", "no-such-skill"]
			},
			"final_response": "ok"
		}`},
	}
	runtime := newTestRuntime(t, client, nil)

	resp, err := runtime.HandleChat(context.Background(), userRequest("hello"))
	require.NoError(t, err)

	// the unknown name stays in the selection but produces no header
	assert.Equal(t, []string{"repo-assistant", "no-such-skill"}, resp.GatewayPlan.SelectedSkills)
	require.Len(t, resp.SkillHeaders, 1)
	assert.Equal(t, "repo-assistant", resp.SkillHeaders[0]["name"])
}

func TestCollectUserText(t *testing.T) {
	text := collectUserText([]chat.Message{
		{Role: chat.RoleSystem, Content: "be nice"},
		{Role: chat.RoleUser, Content: "first"},
		{Role: chat.RoleAssistant, Content: "sure"},
		{Role: chat.RoleUser, Content: "second"},
	})
	assert.Equal(t, "first\nsecond", text)
}

func TestHistorySerializesForUpstream(t *testing.T) {
	entry := gateway.HistoryEntry{
		StepID:     "step-1",
		ToolName:   "web-request",
		ToolResult: &gateway.ToolOutcome{Status: gateway.ToolStatusOK, Output: "body"},
	}

	out, err := json.Marshal([]gateway.HistoryEntry{entry})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"step_id":"step-1"`)
	assert.Contains(t, string(out), `"status":"ok"`)
}
