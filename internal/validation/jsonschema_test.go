package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strandlabs/strand/pkg/schema"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:       "wf-1",
		TenantID: "tenant-1",
		Name:     "research",
		Version:  1,
		Status:   schema.WorkflowStatusActive,
		Steps: []schema.StepDefinition{
			{
				Name:    "gather",
				Type:    schema.StepTypeAgent,
				AgentID: "a1",
				Input:   map[string]any{"instruction": "gather facts about {input.topic}"},
			},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	v := newValidator(t)
	assert.NoError(t, v.ValidateDefinition(validDefinition()))
}

func TestValidateDefinition_Nil(t *testing.T) {
	v := newValidator(t)

	err := v.ValidateDefinition(nil)
	require.Error(t, err)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, engErr.Code)
}

func TestValidateDefinition_EmptySteps(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Steps = nil

	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_MissingName(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Name = ""

	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_UnknownStepType(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Steps[0].Type = "webhook"

	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_LegacyMCPToolTypeAccepted(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Steps[0] = schema.StepDefinition{
		Name:     "lookup",
		Type:     schema.StepTypeMCPTool,
		ServerID: "srv-1",
		ToolName: "search",
	}

	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_BadWaitForPattern(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Steps[0] = schema.StepDefinition{
		Name:    "par",
		Type:    schema.StepTypeParallel,
		WaitFor: "most",
		Steps: []schema.StepDefinition{
			{Name: "a", Type: schema.StepTypeHTTP, URL: "https://example.com"},
		},
	}

	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_InvalidRetryStrategy(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.RetryStrategy = "fibonacci"

	assert.Error(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_ViolationsInDetails(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Steps[0].Name = ""

	err := v.ValidateDefinition(def)
	require.Error(t, err)

	engErr, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.NotEmpty(t, engErr.Details["violations"])
}
