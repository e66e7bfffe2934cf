package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyperagent/hyperagent/pkg/errors"
	"github.com/hyperagent/hyperagent/pkg/provenance"
)

// sessionManager resolves a usable session per role. Sessions declared
// under sessions.roles open at run start; roles used by agent steps
// without a declaration get a lazy per-run session on first use.
type sessionManager struct {
	doc      *Document
	provider SessionProvider
	sink     provenance.Sink
	logger   *slog.Logger

	dir   string
	runID string
	model string

	sessions map[string]Session
}

func newSessionManager(doc *Document, provider SessionProvider, sink provenance.Sink, logger *slog.Logger, dir, runID, model string) *sessionManager {
	return &sessionManager{
		doc:      doc,
		provider: provider,
		sink:     sink,
		logger:   logger,
		dir:      dir,
		runID:    runID,
		model:    model,
		sessions: make(map[string]Session),
	}
}

// open creates or reuses the sessions declared by the document, in
// declaration order.
func (m *sessionManager) open(ctx context.Context) error {
	for _, sr := range m.doc.Sessions.Roles {
		if _, err := m.establish(ctx, sr.Role, sr.NameTemplate); err != nil {
			return err
		}
	}
	return nil
}

// session returns the session for a role, establishing one lazily if
// the role was not declared under sessions.roles.
func (m *sessionManager) session(ctx context.Context, role string) (Session, error) {
	if s, ok := m.sessions[role]; ok {
		return s, nil
	}
	var nameTemplate string
	if sr := m.doc.sessionRole(role); sr != nil {
		nameTemplate = sr.NameTemplate
	}
	return m.establish(ctx, role, nameTemplate)
}

func (m *sessionManager) establish(ctx context.Context, role, nameTemplate string) (Session, error) {
	def := m.doc.role(role)
	if def == nil {
		return Session{}, errors.New("unknown role " + role)
	}

	// Writing the definition must precede session lookup; the provider
	// caches per directory, so invalidate after the write.
	if err := m.provider.RegisterAgentDefinition(ctx, m.dir, role, m.model, def.SystemPrompt, def.Tools); err != nil {
		return Session{}, &errors.ProviderError{Operation: "registerAgentDefinition", Message: "registering role " + role, Cause: err}
	}
	m.provider.Invalidate(m.dir)

	name, err := m.sessionName(role, nameTemplate)
	if err != nil {
		return Session{}, err
	}

	session, reused, err := m.resolve(ctx, name)
	if err != nil {
		return Session{}, err
	}
	m.sessions[role] = session

	m.logger.Debug("session ready",
		"role", role, "session", session.ID, "name", name, "reused", reused)

	if err := m.sink.RegisterAgent(m.runID, provenance.AgentRecord{
		Role:      role,
		SessionID: session.ID,
		Name:      name,
	}); err != nil {
		return Session{}, errors.Wrapf(err, "recording session for role %s", role)
	}
	return session, nil
}

// sessionName renders the declared name template against {runId}, or
// falls back to a per-run default.
func (m *sessionManager) sessionName(role, nameTemplate string) (string, error) {
	if nameTemplate == "" {
		return fmt.Sprintf("%s-%s-%s", m.doc.ID, role, m.runID), nil
	}
	return Render(nameTemplate, Scope{"runId": m.runID})
}

// resolve reuses an existing session carrying the name, else creates
// one. Stable names (templates not mentioning {runId}) let a provider
// keep context across runs.
func (m *sessionManager) resolve(ctx context.Context, name string) (Session, bool, error) {
	existing, err := m.provider.ListSessions(ctx, m.dir)
	if err != nil {
		return Session{}, false, &errors.ProviderError{Operation: "listSessions", Message: "scanning " + m.dir, Cause: err}
	}
	for _, s := range existing {
		if s.Name == name {
			return s, true, nil
		}
	}

	session, err := m.provider.CreateSession(ctx, m.dir, name)
	if err != nil {
		return Session{}, false, &errors.ProviderError{Operation: "createSession", Message: "creating session " + name, Cause: err}
	}
	return session, false, nil
}
