package task

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/vulnscan-armada/internal/domain/deployment"
	"github.com/ahrav/vulnscan-armada/internal/domain/engine"
)

// Session carries the provider and engine state a task needs across cycles.
// It is stored as an opaque JSON blob alongside the task.
type Session struct {
	Deployment     *deployment.Info `json:"deployment,omitempty"`
	Engine         *engine.Handles  `json:"engine,omitempty"`
	LaunchFailures int              `json:"launch_failures,omitempty"`
}

// IsZero reports whether no infrastructure was ever requested for the task.
func (s Session) IsZero() bool { return s.Deployment == nil && s.Engine == nil }

// DeploymentID returns the provider identifier, or "" when none was allocated.
func (s Session) DeploymentID() string {
	if s.Deployment == nil {
		return ""
	}
	return s.Deployment.ID
}

// Endpoint returns the engine endpoint recorded for the deployment.
func (s Session) Endpoint() (engine.Endpoint, bool) {
	if s.Deployment == nil || s.Deployment.Host == "" || s.Deployment.Port == 0 {
		return engine.Endpoint{}, false
	}
	return engine.Endpoint{Host: s.Deployment.Host, Port: s.Deployment.Port}, true
}

// Handles returns the engine handles of the launched scan.
func (s Session) Handles() (engine.Handles, bool) {
	if s.Engine == nil || s.Engine.IsZero() {
		return engine.Handles{}, false
	}
	return *s.Engine, true
}

// MarshalSession encodes s for storage. A zero session encodes to nil.
func MarshalSession(s Session) ([]byte, error) {
	if s.IsZero() && s.LaunchFailures == 0 {
		return nil, nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	return b, nil
}

// UnmarshalSession decodes a stored session. Empty input yields a zero session.
func UnmarshalSession(b []byte) (Session, error) {
	var s Session
	if len(b) == 0 || string(b) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return s, nil
}
