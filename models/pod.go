package models

// PodStatus is the provider-reported pod lifecycle status, normalized across
// providers.
type PodStatus string

const (
	PodStatusCreating   PodStatus = "creating"
	PodStatusRunning    PodStatus = "running"
	PodStatusResuming   PodStatus = "resuming"
	PodStatusExited     PodStatus = "exited"
	PodStatusTerminated PodStatus = "terminated"
	PodStatusError      PodStatus = "error"
	PodStatusUnknown    PodStatus = "unknown"
)

// PodDesiredState is the target state the reconciler drives a pod toward.
// It is derived fresh on every deploy from the AppSpec and the resolved
// golden image tag.
type PodDesiredState struct {
	// Name is the pod display name at the provider.
	Name string `json:"name"`

	// ImageRef is the fully qualified golden image reference.
	ImageRef string `json:"image_ref"`

	// Env is the full environment map applied to the pod.
	Env map[string]string `json:"env"`

	// Ports lists exposed ports in "<port>/<proto>" form, e.g. "8080/http".
	Ports []string `json:"ports"`

	// VolumeSizeGB is the minimum cache volume size.
	VolumeSizeGB int `json:"volume_size_gb"`

	// VolumeMountPath is the cache volume mount point inside the container.
	VolumeMountPath string `json:"volume_mount_path"`

	// ContainerDiskGB is the ephemeral container disk size.
	ContainerDiskGB int `json:"container_disk_gb"`

	// GPUTypeID is the provider GPU type selected by the compute policy.
	GPUTypeID string `json:"gpu_type_id"`

	// GPUCount is the number of GPUs attached to the pod.
	GPUCount int `json:"gpu_count"`

	// DataCenterID pins the pod to a provider region, when set.
	DataCenterID string `json:"data_center_id,omitempty"`

	// ContainerRegistryAuthID names the provider-side registry credential.
	ContainerRegistryAuthID string `json:"container_registry_auth_id,omitempty"`
}

// PodObservedState is a snapshot of the remote pod record. The pod is a
// remote resource: the reconciler only ever converges it toward the desired
// state, it never assumes exclusive ownership.
type PodObservedState struct {
	// ID is the provider-assigned pod identifier.
	ID string `json:"id"`

	// Status is the normalized lifecycle status.
	Status PodStatus `json:"status"`

	// StatusDetail is the provider's last status change message, verbatim.
	StatusDetail string `json:"status_detail,omitempty"`

	// ImageRef is the image currently assigned to the pod.
	ImageRef string `json:"image_ref,omitempty"`

	// Env is the environment currently assigned to the pod.
	Env map[string]string `json:"env,omitempty"`

	// Ports lists the currently exposed ports in "<port>/<proto>" form.
	Ports []string `json:"ports,omitempty"`

	// VolumeSizeGB is the current cache volume size; 0 when unreported.
	VolumeSizeGB int `json:"volume_size_gb,omitempty"`

	// Host is the provider-specific host identifier used for endpoint
	// resolution. Empty until the provider assigns one.
	Host string `json:"host,omitempty"`
}

// Endpoint is a publicly reachable gateway address resolved from a pod.
type Endpoint struct {
	// URL is the full base URL, e.g. https://abc123-8080.proxy.runpod.net.
	URL string `json:"url"`

	// Port is the gateway port behind the URL.
	Port string `json:"port"`
}
