package provider

import (
	"context"
	"fmt"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// Unsupported is a placeholder adapter for providers the spec format names
// but this release does not implement. Every operation fails with the same
// message so a mistyped provider surfaces immediately instead of half-way
// through a deploy.
type Unsupported struct {
	name string
}

func NewUnsupported(name string) *Unsupported { return &Unsupported{name: name} }

func (u *Unsupported) Name() string { return u.name }

func (u *Unsupported) unsupported() error {
	return fmt.Errorf("provider %q is not implemented in this release", u.name)
}

func (u *Unsupported) CreatePod(context.Context, models.PodDesiredState) (string, error) {
	return "", u.unsupported()
}

func (u *Unsupported) GetPod(context.Context, string) (models.PodObservedState, error) {
	return models.PodObservedState{}, u.unsupported()
}

func (u *Unsupported) EnsureVolume(context.Context, string, int, string) error {
	return u.unsupported()
}

func (u *Unsupported) PatchPod(context.Context, string, models.PodDesiredState) error {
	return u.unsupported()
}

func (u *Unsupported) ResumePod(context.Context, string) error { return u.unsupported() }

func (u *Unsupported) ListGPUTypes(context.Context) ([]models.GPUType, error) {
	return nil, u.unsupported()
}

func (u *Unsupported) Destroy(context.Context, string) error { return u.unsupported() }

func (u *Unsupported) Logs(context.Context, string, int) (string, error) {
	return "", u.unsupported()
}

func (u *Unsupported) ResolveEndpoint(models.PodObservedState) *models.Endpoint { return nil }
