package sandbox

import (
	"time"

	"toolsmith/internal/types"
)

// AuditEventType names a point in a container's lifecycle.
type AuditEventType string

const (
	AuditEventCreated   AuditEventType = "created"
	AuditEventRunning   AuditEventType = "running"
	AuditEventFinished  AuditEventType = "finished"
	AuditEventRemoved   AuditEventType = "removed"
	AuditEventRemoveErr AuditEventType = "remove_failed"
)

// AuditEvent reports a sandbox state transition.
type AuditEvent struct {
	Type        AuditEventType     `json:"type"`
	ContainerID string             `json:"container_id"`
	Name        string             `json:"name"`
	State       types.SandboxState `json:"state"`
	Timestamp   time.Time          `json:"timestamp"`
	Elapsed     time.Duration      `json:"elapsed"`
	Error       string             `json:"error,omitempty"`
}
