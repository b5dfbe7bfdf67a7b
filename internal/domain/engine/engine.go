// Package engine defines the contract with the external vulnerability scan
// engine that runs inside a provisioned deployment.
package engine

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/ahrav/vulnscan-armada/internal/domain/finding"
)

// RunStatus is the engine-reported state of a launched scan, collapsed to the
// three outcomes the orchestrator acts on.
type RunStatus string

const (
	RunStatusRunning RunStatus = "RUNNING"
	RunStatusStopped RunStatus = "STOPPED"
	RunStatusFailed  RunStatus = "FAILED"
)

// String returns the string representation of the RunStatus.
func (s RunStatus) String() string { return string(s) }

var (
	// ErrServerUnavailable indicates the engine could not be reached or the
	// connection dropped mid-command.
	ErrServerUnavailable = errors.New("scan engine unavailable")

	// ErrCommandFailed indicates the engine answered but rejected a command.
	ErrCommandFailed = errors.New("scan engine rejected command")
)

// Endpoint is the network location of an engine instance.
type Endpoint struct {
	Host string
	Port int
}

// Address returns the host:port pair for dialing.
func (e Endpoint) Address() string { return net.JoinHostPort(e.Host, strconv.Itoa(e.Port)) }

// Handles are the engine-side identifiers of a launched scan. They are
// persisted in the task session and are required by every follow-up command.
type Handles struct {
	TaskID   string `json:"task_id"`
	TargetID string `json:"target_id"`
}

// IsZero reports whether no scan has been launched.
func (h Handles) IsZero() bool { return h.TaskID == "" && h.TargetID == "" }

// Client talks to a scan engine. All calls are synchronous and perform no
// retries of their own; callers decide how to react to each error class.
type Client interface {
	// Launch creates a scan target and task for target and starts it.
	Launch(ctx context.Context, ep Endpoint, target string) (Handles, error)
	// Status returns the current run status of a launched scan.
	Status(ctx context.Context, ep Endpoint, h Handles) (RunStatus, error)
	// Report downloads the raw report of a finished scan.
	Report(ctx context.Context, ep Endpoint, h Handles) ([]byte, error)
	// Terminate stops a running scan.
	Terminate(ctx context.Context, ep Endpoint, h Handles) error
	// Delete removes the engine-side task and target.
	Delete(ctx context.Context, ep Endpoint, h Handles) error
	// ParseReport extracts catalog entries and findings from a raw report.
	ParseReport(raw []byte) (*finding.Report, error)
}
