// Package validation checks workflow definitions once at load time, so the
// engine can assume a well-formed step tree during execution.
package validation

import "github.com/strandlabs/strand/pkg/schema"

// Validator checks a workflow definition for structural and semantic
// correctness before it is stored or executed.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
}
