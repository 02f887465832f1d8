package runners

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/strandlabs/strand/pkg/schema"
)

// HTTPAgentRunner implements AgentRunner against an HTTP agent backend.
// The backend receives a JSON invocation and responds with
// {"text": "...", "token_usage": N}. Which model serves the agent is the
// backend's concern; the engine only carries the instruction and context.
type HTTPAgentRunner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPAgentRunner creates an agent runner targeting the given backend URL.
func NewHTTPAgentRunner(baseURL string, timeout time.Duration) *HTTPAgentRunner {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPAgentRunner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type agentInvocation struct {
	TenantID    string         `json:"tenant_id"`
	AgentID     string         `json:"agent_id"`
	Instruction string         `json:"instruction"`
	Context     map[string]any `json:"context,omitempty"`
}

// Run posts the invocation to the backend and decodes the agent result.
func (r *HTTPAgentRunner) Run(ctx context.Context, tenantID, agentID, instruction string, agentCtx map[string]any) (*AgentResult, error) {
	if r.baseURL == "" {
		return nil, schema.NewError(schema.ErrCodeCapability, "agent backend is not configured")
	}

	payload, err := json.Marshal(agentInvocation{
		TenantID:    tenantID,
		AgentID:     agentID,
		Instruction: instruction,
		Context:     agentCtx,
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "marshal agent invocation").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/agents/run", bytes.NewReader(payload))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "create agent request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCapability, "agent backend unreachable: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "read agent response").WithCause(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, schema.NewErrorf(schema.ErrCodeCapability,
			"agent backend returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result AgentResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, schema.NewError(schema.ErrCodeCapability, "decode agent response").WithCause(err)
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}

var _ AgentRunner = (*HTTPAgentRunner)(nil)
