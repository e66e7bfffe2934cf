package workflow

import (
	"context"
)

// Session identifies an agent session held by the provider.
type Session struct {
	// ID is the provider's session identifier.
	ID string `json:"id"`

	// Name is the session's display name, if the provider assigned one.
	Name string `json:"name,omitempty"`
}

// MessagePart is one part of a prompt or response message.
type MessagePart struct {
	// Type is the part kind. The orchestrator sends "text" parts;
	// providers may return other kinds (tool use, attachments) which
	// pass through to provenance untouched.
	Type string `json:"type"`

	// Text is the part's text content when Type is "text".
	Text string `json:"text,omitempty"`
}

// TextPart builds a text message part.
func TextPart(text string) MessagePart {
	return MessagePart{Type: "text", Text: text}
}

// PromptRequest carries one prompt exchange to the provider.
type PromptRequest struct {
	// Session is the target session.
	Session Session

	// Parts are delivered to the provider in list order.
	Parts []MessagePart

	// Model selects the model for this exchange.
	Model string

	// AgentName optionally selects a registered agent definition.
	AgentName string
}

// PromptResponse is the provider's reply to a prompt.
type PromptResponse struct {
	// MessageID identifies the reply message for later diff lookup.
	MessageID string

	// Parts are the response parts in delivery order.
	Parts []MessagePart
}

// SessionProvider is the LLM backend boundary. Implementations must be
// safe for concurrent use across runs; within a run the orchestrator
// issues at most one call at a time.
type SessionProvider interface {
	// CreateSession opens a session in the given working directory. An
	// empty name requests an anonymous per-run session.
	CreateSession(ctx context.Context, dir, name string) (Session, error)

	// ListSessions returns the sessions the provider holds for a
	// working directory. The session manager scans the result for a
	// stable name before creating a new session.
	ListSessions(ctx context.Context, dir string) ([]Session, error)

	// Prompt sends the parts and blocks until the provider replies.
	// Cancelling the context aborts the in-flight exchange.
	Prompt(ctx context.Context, req PromptRequest) (PromptResponse, error)

	// MessageDiff returns the file diff produced while handling the
	// identified message.
	MessageDiff(ctx context.Context, session Session, messageID string) (string, error)

	// RegisterAgentDefinition writes an agent definition (system
	// prompt, model, tool grants) into the working directory so
	// prompts can reference it by name.
	RegisterAgentDefinition(ctx context.Context, dir, name, model, systemPrompt string, tools ToolPermissions) error

	// Invalidate drops any cached state for the working directory.
	// Required after RegisterAgentDefinition so later calls observe
	// the new definition.
	Invalidate(dir string)
}

// ProcessRequest describes one external command invocation.
type ProcessRequest struct {
	// Command is the executable to spawn.
	Command string

	// Args are the fully rendered arguments.
	Args []string

	// Cwd is the working directory; empty inherits the parent's.
	Cwd string

	// Stdin is piped to the child when HasStdin is set. String scope
	// values arrive UTF-8 encoded, buffer values arrive unchanged.
	Stdin    []byte
	HasStdin bool

	// Capture selects which output forms the result carries.
	Capture CaptureMode
}

// ProcessResult is the outcome of a spawned command. A non-zero exit
// code is data, not an error; only spawn failures error.
type ProcessResult struct {
	Stdout       string
	Stderr       string
	StdoutBuffer []byte
	StderrBuffer []byte
	ExitCode     int
}

// ProcessRunner spawns a command and waits for it. Implementations must
// write stdin to completion before the child's output is collected and
// must kill the child when the context is cancelled.
type ProcessRunner func(ctx context.Context, req ProcessRequest) (ProcessResult, error)

// Registry resolves workflow ids for workflow steps. An unknown id
// returns *errors.UnknownWorkflowError.
type Registry interface {
	Resolve(workflowID string) (*Document, error)
}
