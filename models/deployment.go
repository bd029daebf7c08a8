package models

import "time"

// DeploymentState tracks a deployment record through its lifecycle.
type DeploymentState string

const (
	DeploymentPending       DeploymentState = "PENDING"
	DeploymentBootstrapping DeploymentState = "BOOTSTRAPPING"
	DeploymentReady         DeploymentState = "READY"
	DeploymentDegraded      DeploymentState = "DEGRADED"
	DeploymentFailed        DeploymentState = "FAILED"
	DeploymentTerminated    DeploymentState = "TERMINATED"
)

// DeploymentRecord is the persisted outcome of a deploy invocation, keyed by
// app id in the local state store.
type DeploymentRecord struct {
	// AppID is the application this deployment belongs to.
	AppID string `json:"app_id"`

	// DeployID is a unique identifier for this deploy invocation.
	DeployID string `json:"deploy_id"`

	// PodID is the provider-assigned pod identifier.
	PodID string `json:"pod_id"`

	// Provider names the compute provider that owns the pod.
	Provider string `json:"provider"`

	// State is the last known deployment state.
	State DeploymentState `json:"state"`

	// EndpointURL is the resolved public gateway URL, when available.
	EndpointURL string `json:"endpoint_url,omitempty"`

	// ImageRef is the golden image the pod was reconciled to.
	ImageRef string `json:"image_ref,omitempty"`

	// ImageBuilt reports whether this deploy triggered an image build.
	ImageBuilt bool `json:"image_built"`

	// ContractID identifies the workflow contract deployed with the app.
	ContractID string `json:"contract_id,omitempty"`

	// StatusDetail is the provider's last status message, verbatim.
	StatusDetail string `json:"status_detail,omitempty"`

	// UpdatedAt is the time this record was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// ReconciliationResult is the terminal outcome of one reconciliation run:
// the final observed pod state plus the resolved endpoint, if any.
type ReconciliationResult struct {
	Pod      PodObservedState `json:"pod"`
	Endpoint *Endpoint        `json:"endpoint,omitempty"`
}
