package model

import "time"

// DeploymentStatus is the derived health of a deployment.
type DeploymentStatus string

const (
	DeploymentRunning DeploymentStatus = "running"
	DeploymentFailed  DeploymentStatus = "failed"
	DeploymentPending DeploymentStatus = "pending"
	DeploymentUnknown DeploymentStatus = "unknown"
)

// Condition is one entry of a deployment's structured condition list.
type Condition struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// PodEvent is a cluster event observed for a pod belonging to a deployment.
type PodEvent struct {
	PodName        string     `json:"pod_name"`
	Type           string     `json:"type"` // Normal or Warning
	Reason         string     `json:"reason"`
	Message        string     `json:"message,omitempty"`
	Count          int        `json:"count"`
	FirstTimestamp *time.Time `json:"first_timestamp,omitempty"`
	LastTimestamp  *time.Time `json:"last_timestamp,omitempty"`
}

// ContainerSpec captures the per-container attributes classification needs:
// whether resource requests and health probes are declared.
type ContainerSpec struct {
	Name                string `json:"name"`
	Image               string `json:"image"`
	HasResourceRequests bool   `json:"has_resource_requests"`
	HasLivenessProbe    bool   `json:"has_liveness_probe"`
	HasReadinessProbe   bool   `json:"has_readiness_probe"`
}

// ProviderData is the free-form provider metadata attached to a deployment
// record, kept as explicit structs so detectors can pattern-match on it.
type ProviderData struct {
	UID                string          `json:"uid,omitempty"`
	Generation         int64           `json:"generation,omitempty"`
	ObservedGeneration int64           `json:"observed_generation,omitempty"`
	Containers         []ContainerSpec `json:"containers,omitempty"`
	Events             []PodEvent      `json:"events,omitempty"`
}

// DeploymentSnapshot is a normalized point-in-time read of one deployment,
// as delivered by a source adapter.
type DeploymentSnapshot struct {
	Name              string       `json:"name"`
	Namespace         string       `json:"namespace"`
	Image             string       `json:"image"`
	DesiredReplicas   int32        `json:"desired_replicas"`
	AvailableReplicas int32        `json:"available_replicas"`
	ReadyReplicas     int32        `json:"ready_replicas"`
	Conditions        []Condition  `json:"conditions,omitempty"`
	Provider          ProviderData `json:"provider,omitempty"`
}

// DeriveStatus maps the condition list onto a DeploymentStatus.
// Available=True wins, then the explicit failure conditions; a deployment
// with conditions but no decisive one is still progressing.
func (s DeploymentSnapshot) DeriveStatus() DeploymentStatus {
	if len(s.Conditions) == 0 {
		return DeploymentUnknown
	}
	for _, c := range s.Conditions {
		switch {
		case c.Type == "Available" && c.Status == "True":
			return DeploymentRunning
		case c.Type == "Progressing" && c.Status == "False":
			return DeploymentFailed
		case c.Type == "ReplicaFailure" && c.Status == "True":
			return DeploymentFailed
		}
	}
	return DeploymentPending
}

// DeploymentRecord is the persisted current state of one (name, namespace)
// pair. Unlike RunRecord it is mutated in place on every poll.
type DeploymentRecord struct {
	ID                int64            `json:"id"`
	Name              string           `json:"name"`
	Namespace         string           `json:"namespace"`
	Image             string           `json:"image"`
	Status            DeploymentStatus `json:"status"`
	DesiredReplicas   int32            `json:"desired_replicas"`
	AvailableReplicas int32            `json:"available_replicas"`
	ReadyReplicas     int32            `json:"ready_replicas"`
	Conditions        []Condition      `json:"conditions,omitempty"`
	Provider          ProviderData     `json:"provider,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// NewDeploymentRecord builds an unsaved DeploymentRecord from a snapshot.
func NewDeploymentRecord(s DeploymentSnapshot) DeploymentRecord {
	now := time.Now().UTC()
	return DeploymentRecord{
		Name:              s.Name,
		Namespace:         s.Namespace,
		Image:             s.Image,
		Status:            s.DeriveStatus(),
		DesiredReplicas:   s.DesiredReplicas,
		AvailableReplicas: s.AvailableReplicas,
		ReadyReplicas:     s.ReadyReplicas,
		Conditions:        s.Conditions,
		Provider:          s.Provider,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// ApplySnapshot overwrites the mutable fields from a fresh poll.
func (d *DeploymentRecord) ApplySnapshot(s DeploymentSnapshot) {
	d.Image = s.Image
	d.Status = s.DeriveStatus()
	d.DesiredReplicas = s.DesiredReplicas
	d.AvailableReplicas = s.AvailableReplicas
	d.ReadyReplicas = s.ReadyReplicas
	d.Conditions = s.Conditions
	d.Provider = s.Provider
	d.UpdatedAt = time.Now().UTC()
}
