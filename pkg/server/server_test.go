package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmesh/agentgate/pkg/types/chat"
)

// mockRuntime implements ChatHandler for testing
type mockRuntime struct {
	handleFunc func(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error)
}

func (m *mockRuntime) HandleChat(ctx context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, req)
	}
	return &chat.CompletionResponse{
		ID:      "chatcmpl-000000000000000000000000",
		Object:  "chat.completion",
		Model:   req.Model,
		Choices: []chat.Choice{
			{Index: 0, Message: chat.Message{Role: chat.RoleAssistant, Content: "ok"}, FinishReason: "stop"},
		},
	}, nil
}

func newTestServer(t *testing.T, runtime ChatHandler) *Server {
	t.Helper()
	s, err := NewServer(&Config{Host: "localhost", Port: 8080}, runtime)
	require.NoError(t, err)
	return s
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "valid config",
			config: Config{Host: "localhost", Port: 8080},
		},
		{
			name:    "empty host",
			config:  Config{Host: "", Port: 8080},
			wantErr: "host cannot be empty",
		},
		{
			name:    "port too low",
			config:  Config{Host: "localhost", Port: 0},
			wantErr: "port must be between",
		},
		{
			name:    "port too high",
			config:  Config{Host: "localhost", Port: 70000},
			wantErr: "port must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	_, err := NewServer(&Config{Host: "", Port: 8080}, &mockRuntime{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server configuration")
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &mockRuntime{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestChatEndpoint(t *testing.T) {
	var captured *chat.CompletionRequest
	s := newTestServer(t, &mockRuntime{
		handleFunc: func(_ context.Context, req *chat.CompletionRequest) (*chat.CompletionResponse, error) {
			captured = req
			return &chat.CompletionResponse{
				ID:      "chatcmpl-abc",
				Object:  "chat.completion",
				Model:   req.Model,
				Choices: []chat.Choice{
					{Index: 0, Message: chat.Message{Role: chat.RoleAssistant, Content: "hello there"}, FinishReason: "stop"},
				},
			}, nil
		},
	})

	payload := `{"model": "qwen3-32b", "messages": [{"role": "user", "content": "hello"}]}`
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "qwen3-32b", captured.Model)

	var resp chat.CompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello there", resp.Choices[0].Message.Content)
}

func TestChatEndpointInvalidJSON(t *testing.T) {
	s := newTestServer(t, &mockRuntime{})

	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "invalid request body", body["error"])
	assert.Equal(t, false, body["success"])
}

func TestChatEndpointValidationFailure(t *testing.T) {
	s := newTestServer(t, &mockRuntime{})

	tests := []struct {
		name    string
		payload string
		wantErr string
	}{
		{
			name:    "missing model",
			payload: `{"messages": [{"role": "user", "content": "hi"}]}`,
			wantErr: "model is required",
		},
		{
			name:    "empty messages",
			payload: `{"model": "qwen3-32b", "messages": []}`,
			wantErr: "messages cannot be empty",
		},
		{
			name:    "bad role",
			payload: `{"model": "qwen3-32b", "messages": [{"role": "robot", "content": "hi"}]}`,
			wantErr: "invalid role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewBufferString(tt.payload))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Contains(t, body["error"], tt.wantErr)
		})
	}
}

func TestChatEndpointRuntimeError(t *testing.T) {
	s := newTestServer(t, &mockRuntime{
		handleFunc: func(context.Context, *chat.CompletionRequest) (*chat.CompletionResponse, error) {
			return nil, errors.New("upstream exploded")
		},
	})

	payload := `{"model": "qwen3-32b", "messages": [{"role": "user", "content": "hello"}]}`
	req := httptest.NewRequest("POST", "/api/v1/chat", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "chat completion failed", body["error"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, &mockRuntime{})

	req := httptest.NewRequest("OPTIONS", "/api/v1/chat", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
