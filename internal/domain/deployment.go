package domain

import "time"

// Status is the settled or in-flight state of a document deployment.
type Status string

const (
	StatusReady       Status = "READY"
	StatusPending     Status = "PENDING"
	StatusNotDeployed Status = "NOT_DEPLOYED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReady, StatusPending, StatusNotDeployed:
		return true
	}
	return false
}

// Deployment is the persisted deployment record of one document.
type Deployment struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Host      string    `json:"host,omitempty"`
	Port      int       `json:"port,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeploymentUpdate captures mutable fields for a deployment. Nil fields are
// left unchanged.
type DeploymentUpdate struct {
	Status Status
	Host   *string
	Port   *int
}

// Apply merges u into d.
func (u DeploymentUpdate) Apply(d *Deployment, now time.Time) {
	if u.Status != "" {
		d.Status = u.Status
	}
	if u.Host != nil {
		d.Host = *u.Host
	}
	if u.Port != nil {
		d.Port = *u.Port
	}
	d.UpdatedAt = now
}
