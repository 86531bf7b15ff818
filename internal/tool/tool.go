// Package tool defines the contract every agent tool implements and the
// registry the scheduler and providers read schemas from.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Declaration is the schema form sent to model providers.
type Declaration struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ConfirmationDetails describes why a call needs user approval before
// executing. RiskLevel uses the exact strings low|medium|high|critical.
type ConfirmationDetails struct {
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RiskLevel string         `json:"risk_level,omitempty"`
}

// Tool is the uniform interface the scheduler drives. Implementations
// embed Base for the metadata plumbing and schema validation.
type Tool interface {
	Name() string
	DisplayName() string
	Description() string
	Schema() map[string]any

	// Validate checks params against the declared schema before the
	// call is scheduled.
	Validate(params map[string]any) error

	// ShouldConfirm returns confirmation details when the call needs
	// user approval, or nil when it can run immediately.
	ShouldConfirm(ctx context.Context, params map[string]any) (*ConfirmationDetails, error)

	// Execute runs the tool. progress, when non-nil and the tool
	// declares CanUpdateOutput, receives live output lines.
	Execute(ctx context.Context, params map[string]any, progress func(string)) (Result, error)

	IsOutputMarkdown() bool
	CanUpdateOutput() bool
	ShouldSummarizeDisplay() bool

	// IsParallelSafe reports whether calls to this tool may run
	// concurrently with other calls in the same batch.
	IsParallelSafe() bool
}

// ValidationError reports schema violations in tool params.
type ValidationError struct {
	ToolName string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Problems, "; "))
}

// Base carries the shared metadata and default behavior. Zero-config
// tools only implement Execute on top of it.
type Base struct {
	ToolName          string
	ToolDisplayName   string
	ToolDescription   string
	ParameterSchema   map[string]any
	OutputMarkdown    bool
	UpdatesOutput     bool
	SummarizesDisplay bool
	Serial            bool
}

func (b *Base) Name() string            { return b.ToolName }
func (b *Base) DisplayName() string     { return b.ToolDisplayName }
func (b *Base) Description() string     { return b.ToolDescription }
func (b *Base) Schema() map[string]any  { return b.ParameterSchema }
func (b *Base) IsOutputMarkdown() bool  { return b.OutputMarkdown }
func (b *Base) CanUpdateOutput() bool   { return b.UpdatesOutput }
func (b *Base) IsParallelSafe() bool    { return !b.Serial }
func (b *Base) ShouldSummarizeDisplay() bool {
	return b.SummarizesDisplay
}

// ShouldConfirm defaults to no confirmation.
func (b *Base) ShouldConfirm(ctx context.Context, params map[string]any) (*ConfirmationDetails, error) {
	return nil, nil
}

// Validate checks params against the declared JSON schema.
func (b *Base) Validate(params map[string]any) error {
	if b.ParameterSchema == nil {
		return nil
	}
	schemaLoader := gojsonschema.NewGoLoader(b.ParameterSchema)
	docLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("validate %s params: %w", b.ToolName, err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return &ValidationError{ToolName: b.ToolName, Problems: problems}
}

// Declaration exports the schema form for providers.
func (b *Base) Declaration() Declaration {
	return Declaration{
		Name:        b.ToolName,
		Description: b.ToolDescription,
		Parameters:  b.ParameterSchema,
	}
}

// MustSchema parses an inline JSON schema literal. Panics on malformed
// literals, which are programmer errors caught by tests.
func MustSchema(schemaJSON string) map[string]any {
	var schema map[string]any
	if err := json.Unmarshal([]byte(schemaJSON), &schema); err != nil {
		panic(fmt.Sprintf("invalid tool schema: %v", err))
	}
	return schema
}
