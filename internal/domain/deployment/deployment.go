// Package deployment defines how scanner infrastructure is provisioned and
// torn down. A Provider turns an optional deployment identifier into a
// network-reachable scan engine endpoint.
package deployment

import "context"

// Status reports the lifecycle stage of a scanner deployment.
type Status string

const (
	// StatusRunning indicates the workload is available and reachable.
	StatusRunning Status = "RUNNING"

	// StatusWaiting indicates the workload exists but is not yet reachable.
	StatusWaiting Status = "WAITING"

	// StatusFailed indicates the control plane reported an unrecoverable problem.
	StatusFailed Status = "FAILED"

	// StatusNotExist indicates no workload exists for the identifier.
	StatusNotExist Status = "NOT_EXIST"
)

// String returns the string representation of the Status.
func (s Status) String() string { return string(s) }

// Info describes a deployment as last observed by its Provider. It is
// persisted inside a task's session so later cycles can reuse the workload.
type Info struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Host   string `json:"host,omitempty"`
	Port   int    `json:"port,omitempty"`
}

// Ready reports whether the deployment can accept scan engine traffic.
func (i Info) Ready() bool {
	return i.Status == StatusRunning && i.Host != "" && i.Port > 0
}

// Provider provisions scanner infrastructure.
//
// Create is idempotent by identifier: an empty id allocates a new deployment,
// a known id returns the current state of the existing one. Once an id has
// been allocated, Create returns it in Info even when it also returns an
// error, since resources may already exist under it. Delete must tolerate
// identifiers that no longer exist.
type Provider interface {
	Create(ctx context.Context, id string) (Info, error)
	Delete(ctx context.Context, id string) error
	IsReady(ctx context.Context, id string) (bool, error)
}
