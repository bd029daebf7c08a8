// Package provider abstracts the GPU cloud hosting deployed pods. The
// reconciler only needs a handful of operations per pod: create, read,
// volume resize, image/env/ports patch, resume, destroy. Every method that
// talks to the provider takes a context and classifies failures into the
// package error taxonomy so the caller can tell retryable from fatal.
package provider

import (
	"context"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// Provider is a GPU cloud adapter.
type Provider interface {
	// Name identifies the provider, e.g. "runpod".
	Name() string

	// CreatePod provisions a new pod from the desired state and returns the
	// provider-assigned pod id.
	CreatePod(ctx context.Context, desired models.PodDesiredState) (string, error)

	// GetPod reads the current remote pod record.
	GetPod(ctx context.Context, podID string) (models.PodObservedState, error)

	// EnsureVolume grows the pod's cache volume to at least sizeGB.
	// A volume already at or above the requested size is left untouched.
	EnsureVolume(ctx context.Context, podID string, sizeGB int, mountPath string) error

	// PatchPod applies the desired image ref, env map, and port list to the
	// pod record. Patching identical values is safe.
	PatchPod(ctx context.Context, podID string, desired models.PodDesiredState) error

	// ResumePod starts a stopped or freshly patched pod.
	ResumePod(ctx context.Context, podID string) error

	// ListGPUTypes returns a snapshot of the provider GPU catalog.
	ListGPUTypes(ctx context.Context) ([]models.GPUType, error)

	// Destroy stops and deletes the pod.
	Destroy(ctx context.Context, podID string) error

	// Logs returns up to tailLines of recent pod output, best effort.
	Logs(ctx context.Context, podID string, tailLines int) (string, error)
}

// EndpointResolver turns an observed pod record into a reachable gateway
// address. Resolution is a pure function of the pod snapshot; nil means the
// provider has not assigned a host yet, which the caller treats as "not
// ready" rather than an error.
type EndpointResolver interface {
	ResolveEndpoint(pod models.PodObservedState) *models.Endpoint
}
