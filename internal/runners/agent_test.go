package runners

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/schema"
)

func TestAgentRunner_Run(t *testing.T) {
	var got agentInvocation
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/agents/run", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": "the answer", "token_usage": 42}`))
	}))
	defer srv.Close()

	r := NewHTTPAgentRunner(srv.URL, time.Second)
	result, err := r.Run(context.Background(), "tenant-1", "researcher", "find the answer", map[string]any{"topic": "go"})
	require.NoError(t, err)

	assert.Equal(t, "the answer", result.Text)
	assert.Equal(t, 42, result.TokenUsage)
	assert.Equal(t, "tenant-1", got.TenantID)
	assert.Equal(t, "researcher", got.AgentID)
	assert.Equal(t, "find the answer", got.Instruction)
	assert.Equal(t, "go", got.Context["topic"])
}

func TestAgentRunner_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := NewHTTPAgentRunner(srv.URL, time.Second)
	_, err := r.Run(context.Background(), "tenant-1", "a1", "hi", nil)
	require.Error(t, err)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeCapability, engErr.Code)
	assert.Contains(t, engErr.Message, "503")
	assert.Contains(t, engErr.Message, "model overloaded")
}

func TestAgentRunner_Unreachable(t *testing.T) {
	r := NewHTTPAgentRunner("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := r.Run(context.Background(), "tenant-1", "a1", "hi", nil)
	require.Error(t, err)

	var engErr *schema.EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, schema.ErrCodeCapability, engErr.Code)
}

func TestAgentRunner_NotConfigured(t *testing.T) {
	r := NewHTTPAgentRunner("", time.Second)
	_, err := r.Run(context.Background(), "tenant-1", "a1", "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestAgentRunner_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	r := NewHTTPAgentRunner(srv.URL, time.Second)
	_, err := r.Run(context.Background(), "tenant-1", "a1", "hi", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode agent response")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "lon...", truncate("long string", 3))
}
