package services

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	// ErrKindInfraUnhealthy: an infrastructure service (broker) never became
	// healthy. Propagates to the caller; no cleanup, no progress update.
	ErrKindInfraUnhealthy ErrorKind = "infra_unhealthy"
	// ErrKindAgentNotInstalled: a required agent image is missing. Reported,
	// but already-created resources are left standing.
	ErrKindAgentNotInstalled ErrorKind = "agent_not_installed"
	// ErrKindAgentNotHealthy: an agent tier failed its health check. The only
	// recoverable kind: dispatches Stop and sets progress ERROR.
	ErrKindAgentNotHealthy ErrorKind = "agent_not_healthy"
)

// RuntimeError is the tagged failure result of the orchestrator taxonomy.
// Recoverable selects the cleanup dispatch deterministically, instead of call
// sites depending on which failure type happens to be caught.
type RuntimeError struct {
	Kind        ErrorKind
	AgentKey    string
	Message     string
	Recoverable bool
}

func (e *RuntimeError) Error() string {
	if e.AgentKey != "" {
		return fmt.Sprintf("%s: agent %s", e.Kind, e.AgentKey)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

// IsRecoverable reports whether err carries a recoverable RuntimeError.
func IsRecoverable(err error) bool {
	var rerr *RuntimeError
	return errors.As(err, &rerr) && rerr.Recoverable
}

// KindOf returns the taxonomy kind of err, or empty for untagged errors.
func KindOf(err error) ErrorKind {
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}

func errInfraUnhealthy(msg string) *RuntimeError {
	return &RuntimeError{Kind: ErrKindInfraUnhealthy, Message: msg, Recoverable: false}
}

func errAgentNotInstalled(agentKey string) *RuntimeError {
	return &RuntimeError{Kind: ErrKindAgentNotInstalled, AgentKey: agentKey, Recoverable: false}
}

func errAgentNotHealthy(msg string) *RuntimeError {
	return &RuntimeError{Kind: ErrKindAgentNotHealthy, Message: msg, Recoverable: true}
}
