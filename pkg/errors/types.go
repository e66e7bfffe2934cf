// Copyright 2025 The Hyperagent Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errors defines the error taxonomy for the hyperagent runtime.
//
// Callers pattern-match on error class with errors.As; the message is the
// sole machine-actionable signal beyond the type itself.
package errors

import "fmt"

// SchemaError indicates an invalid workflow document or parser schema.
// Reported when a document fails validation; never recovered at runtime.
type SchemaError struct {
	// Field identifies the document field that failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the document
	Suggestion string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("schema error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("schema error: %s", e.Message)
}

// InputValidationError indicates run inputs failed the document's user schema.
type InputValidationError struct {
	// WorkflowID is the workflow whose user schema rejected the inputs
	WorkflowID string

	// Details describes which input failed and why
	Details string
}

// Error implements the error interface.
func (e *InputValidationError) Error() string {
	return fmt.Sprintf("Invalid user inputs for workflow %s: %s", e.WorkflowID, e.Details)
}

// TemplateError indicates a malformed template expression. Fatal to the step.
type TemplateError struct {
	// Expression is the offending template text (possibly truncated)
	Expression string

	// Message explains what is malformed
	Message string
}

// Error implements the error interface.
func (e *TemplateError) Error() string {
	if e.Expression != "" {
		return fmt.Sprintf("template error in %q: %s", e.Expression, e.Message)
	}
	return fmt.Sprintf("template error: %s", e.Message)
}

// ParseError indicates an agent reply could not be parsed against its
// role's parser schema.
type ParseError struct {
	// Role is the role whose parser rejected the reply
	Role string

	// Raw is the reply text that failed to parse (possibly truncated)
	Raw string

	// Cause is the underlying validation or JSON decode error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse reply for role %s: %v", e.Role, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ParseError) Unwrap() error { return e.Cause }

// CliError indicates a process spawn failure (command not found, IO error).
// Non-zero exit codes are data, not errors, and never produce a CliError.
type CliError struct {
	// Command is the command that failed to spawn
	Command string

	// Cause is the underlying spawn error
	Cause error
}

// Error implements the error interface.
func (e *CliError) Error() string {
	return fmt.Sprintf("failed to run command %s: %v", e.Command, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CliError) Unwrap() error { return e.Cause }

// UnknownWorkflowError indicates a workflow step referenced an id the
// registry could not resolve.
type UnknownWorkflowError struct {
	// WorkflowID is the id that failed to resolve
	WorkflowID string
}

// Error implements the error interface.
func (e *UnknownWorkflowError) Error() string {
	return fmt.Sprintf("workflow not found: %s", e.WorkflowID)
}

// ChildWorkflowError indicates a nested workflow run failed with an
// uncaught fatal error. The child run id is attached for provenance lookup.
type ChildWorkflowError struct {
	// WorkflowID is the child workflow id
	WorkflowID string

	// RunID is the child run id
	RunID string

	// Cause is the child's fatal error
	Cause error
}

// Error implements the error interface.
func (e *ChildWorkflowError) Error() string {
	return fmt.Sprintf("child workflow %s (run %s) failed: %v", e.WorkflowID, e.RunID, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ChildWorkflowError) Unwrap() error { return e.Cause }

// ProviderError indicates a session provider failure (session creation,
// prompt delivery, diff retrieval). Fatal to the run.
type ProviderError struct {
	// Operation describes what the provider was asked to do
	Operation string

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("provider error during %s: %s", e.Operation, e.Message)
	}
	return fmt.Sprintf("provider error: %s", e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ProviderError) Unwrap() error { return e.Cause }

// CancelledError indicates a run was cancelled through its handle.
type CancelledError struct {
	// RunID is the cancelled run
	RunID string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("run %s cancelled", e.RunID)
}
