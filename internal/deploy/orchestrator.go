// Package deploy sequences one deploy invocation end to end: validate the
// app spec, derive and ensure both image tags, reconcile the pod, resolve
// the public endpoint, gate on gateway health, and persist the outcome. A
// deploy is a linear chain of blocking calls on the caller's goroutine; any
// fatal component error aborts the chain with the original error surfaced
// and the pod left in its last observed state for inspection.
package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/comfy-endpoints/comfy-endpoints/internal/appspec"
	"github.com/comfy-endpoints/comfy-endpoints/internal/build"
	"github.com/comfy-endpoints/comfy-endpoints/internal/imaging"
	"github.com/comfy-endpoints/comfy-endpoints/internal/provider"
	"github.com/comfy-endpoints/comfy-endpoints/internal/reconcile"
	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// hfEnvKeys are forwarded from the operator environment into the pod when
// the spec does not set them itself, so private model downloads work out of
// the box.
var hfEnvKeys = []string{"HF_TOKEN", "HUGGING_FACE_HUB_TOKEN"}

// HealthProber checks the deployed gateway's health endpoint.
type HealthProber interface {
	Healthz(ctx context.Context, baseURL string) error
}

// HealthFunc adapts a plain function to a HealthProber.
type HealthFunc func(ctx context.Context, baseURL string) error

func (f HealthFunc) Healthz(ctx context.Context, baseURL string) error { return f(ctx, baseURL) }

// PodDefaults carries the provider-independent pod shape applied to every
// deploy.
type PodDefaults struct {
	VolumeSizeGB    int
	VolumeMountPath string
	ContainerDiskGB int
	Ports           []string
	PublicPort      string
}

// Orchestrator wires the deploy pipeline together.
type Orchestrator struct {
	Provider   provider.Provider
	Images     *imaging.Resolver
	Builds     *build.Manager
	Reconciler *reconcile.Reconciler
	Store      *Store

	// ResolveEndpoint maps an observed pod to its public URL; nil results
	// mean the host is not assigned yet.
	ResolveEndpoint func(pod models.PodObservedState) *models.Endpoint

	// Health, when set, gates the READY state on a passing gateway health
	// probe. A reconciled pod whose gateway is still warming up is recorded
	// as BOOTSTRAPPING, not as a failure.
	Health HealthProber

	Defaults PodDefaults

	// HealthWaitTimeout and HealthWaitInterval bound the health gate.
	HealthWaitTimeout  time.Duration
	HealthWaitInterval time.Duration
}

// Deploy runs the full pipeline for one spec file and returns the persisted
// deployment record.
func (o *Orchestrator) Deploy(ctx context.Context, specPath string) (*models.DeploymentRecord, error) {
	spec, contract, err := appspec.LoadDeployable(specPath)
	if err != nil {
		return nil, fmt.Errorf("spec validation failed: %w", err)
	}
	log.Printf("deploy: validated app spec %s with contract %s", spec.AppID, contract.ContractID)

	goldenRef, built, err := o.ensureImages(ctx, spec)
	if err != nil {
		return nil, err
	}
	log.Printf("deploy: image ready: %s (built=%v)", goldenRef, built)

	desired, err := o.desiredState(spec, contract, goldenRef)
	if err != nil {
		return nil, fmt.Errorf("tag derivation failed: %w", err)
	}

	// Reuse the recorded pod so repeated deploys converge one pod instead
	// of leaking a new one per invocation.
	podID := ""
	if previous, err := o.Store.Get(spec.AppID); err == nil && previous != nil {
		podID = previous.PodID
	}

	record := models.DeploymentRecord{
		AppID:      spec.AppID,
		DeployID:   models.GenerateID("deploy"),
		Provider:   spec.Provider,
		ImageRef:   goldenRef,
		ImageBuilt: built,
		ContractID: contract.ContractID,
		State:      models.DeploymentPending,
	}

	result, err := o.Reconciler.Reconcile(ctx, podID, desired, spec.ComputePolicy)
	record.PodID = result.Pod.ID
	record.StatusDetail = result.Pod.StatusDetail
	if err != nil {
		record.State = models.DeploymentFailed
		if putErr := o.Store.Put(record); putErr != nil {
			log.Printf("deploy: failed to persist failure record: %v", putErr)
		}
		return nil, fmt.Errorf("pod reconciliation failed: %w", err)
	}

	endpoint, err := o.awaitEndpoint(ctx, result.Pod)
	if err != nil {
		record.State = models.DeploymentFailed
		if putErr := o.Store.Put(record); putErr != nil {
			log.Printf("deploy: failed to persist failure record: %v", putErr)
		}
		return nil, fmt.Errorf("endpoint resolution failed: %w", err)
	}
	record.EndpointURL = endpoint.URL
	log.Printf("deploy: endpoint resolved: %s", endpoint.URL)

	record.State = models.DeploymentReady
	if o.Health != nil {
		if err := o.awaitHealthy(ctx, endpoint.URL); err != nil {
			// The pod converged but the gateway has not come up yet; that
			// is a warmup condition, not a deploy failure.
			log.Printf("deploy: gateway health gate pending: %v", err)
			record.State = models.DeploymentBootstrapping
			record.StatusDetail = fmt.Sprintf("gateway not healthy yet: %v", err)
		}
	}

	if err := o.Store.Put(record); err != nil {
		return nil, fmt.Errorf("failed to persist deployment record: %w", err)
	}
	return &record, nil
}

// ensureImages derives the comfybase and golden tags and guarantees both
// exist in the registry, building whichever is missing. The golden tag
// depends on the resolved base ref, so the base is always handled first.
func (o *Orchestrator) ensureImages(ctx context.Context, spec *models.AppSpec) (string, bool, error) {
	if spec.Build.ImageRef != "" {
		// A pinned image skips derivation and building entirely.
		return spec.Build.ImageRef, false, nil
	}

	baseRef, err := o.Images.ResolveComfyBase(spec)
	if err != nil {
		return "", false, fmt.Errorf("tag derivation failed: %w", err)
	}

	built := false
	baseOutcome, err := o.ensureOne(ctx, build.Request{
		ImageRef:       baseRef,
		DockerfilePath: o.Images.BaseDockerfile(spec),
		ContextDir:     o.Images.BaseBuildContext(spec),
	})
	if err != nil {
		return "", false, err
	}
	built = built || baseOutcome != build.OutcomeExists

	goldenRef, err := o.Images.ResolveGolden(spec, baseRef)
	if err != nil {
		return "", false, fmt.Errorf("tag derivation failed: %w", err)
	}

	goldenOutcome, err := o.ensureOne(ctx, build.Request{
		ImageRef:       goldenRef,
		DockerfilePath: o.Images.GoldenDockerfile(spec),
		ContextDir:     o.Images.GoldenBuildContext(spec),
	})
	if err != nil {
		return "", false, err
	}
	built = built || goldenOutcome != build.OutcomeExists

	return goldenRef, built, nil
}

func (o *Orchestrator) ensureOne(ctx context.Context, req build.Request) (build.Outcome, error) {
	result, err := o.Builds.EnsureBuilt(ctx, req)
	if err != nil {
		return "", fmt.Errorf("image build failed for %s: %w", req.ImageRef, err)
	}
	if result.Outcome == build.OutcomeDispatched {
		log.Printf("deploy: build dispatched for %s, waiting for registry", req.ImageRef)
		if err := o.Builds.WaitForImage(ctx, req.ImageRef); err != nil {
			return "", fmt.Errorf("image build failed for %s: %w", req.ImageRef, err)
		}
	}
	return result.Outcome, nil
}

// desiredState assembles the pod target from spec, contract, and defaults.
// The workflow and contract travel to the pod through env so the runtime
// can boot without fetching anything from the control machine.
func (o *Orchestrator) desiredState(spec *models.AppSpec, contract *models.WorkflowContract, imageRef string) (models.PodDesiredState, error) {
	workflow, err := os.ReadFile(spec.WorkflowPath)
	if err != nil {
		return models.PodDesiredState{}, &imaging.InputUnavailableError{Input: spec.WorkflowPath, Err: err}
	}
	contractJSON, err := json.Marshal(contract)
	if err != nil {
		return models.PodDesiredState{}, fmt.Errorf("failed to encode contract: %w", err)
	}

	env := make(map[string]string, len(spec.Env)+8)
	for k, v := range spec.Env {
		env[k] = v
	}
	for _, key := range hfEnvKeys {
		if _, set := env[key]; set {
			continue
		}
		if value := os.Getenv(key); value != "" {
			env[key] = value
		}
	}
	env["COMFY_HEADLESS"] = "1"
	env["COMFY_ENDPOINTS_APP_ID"] = spec.AppID
	env["COMFY_ENDPOINTS_CONTRACT_ID"] = contract.ContractID
	env["COMFY_ENDPOINTS_CONTRACT_JSON"] = string(contractJSON)
	env["COMFY_ENDPOINTS_WORKFLOW_JSON"] = string(workflow)

	volumeSize := o.Defaults.VolumeSizeGB
	region := ""
	if len(spec.Regions) > 0 {
		region = spec.Regions[0]
	}

	return models.PodDesiredState{
		Name:                    "comfy-endpoints-" + spec.AppID,
		ImageRef:                imageRef,
		Env:                     env,
		Ports:                   o.Defaults.Ports,
		VolumeSizeGB:            volumeSize,
		VolumeMountPath:         o.Defaults.VolumeMountPath,
		ContainerDiskGB:         o.Defaults.ContainerDiskGB,
		GPUCount:                spec.GPUCount(),
		DataCenterID:            provider.DataCenterForRegion(region, ""),
		ContainerRegistryAuthID: spec.Build.ContainerRegistryAuthID,
	}, nil
}

// awaitEndpoint resolves the public endpoint, re-reading the pod while the
// provider has not assigned a host yet. A nil resolution is "not ready",
// not an error; only an exhausted budget fails.
func (o *Orchestrator) awaitEndpoint(ctx context.Context, pod models.PodObservedState) (*models.Endpoint, error) {
	interval := o.HealthWaitInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(o.healthBudget())

	for {
		if endpoint := o.ResolveEndpoint(pod); endpoint != nil {
			return endpoint, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("pod %s never reported a host identifier", pod.ID)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		refreshed, err := o.Provider.GetPod(ctx, pod.ID)
		if err != nil {
			return nil, err
		}
		pod = refreshed
	}
}

// awaitHealthy polls the gateway health endpoint until it answers or the
// budget runs out.
func (o *Orchestrator) awaitHealthy(ctx context.Context, baseURL string) error {
	interval := o.HealthWaitInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(o.healthBudget())

	var lastErr error
	for {
		lastErr = o.Health.Healthz(ctx, baseURL)
		if lastErr == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (o *Orchestrator) healthBudget() time.Duration {
	if o.HealthWaitTimeout > 0 {
		return o.HealthWaitTimeout
	}
	return 15 * time.Minute
}

// Status refreshes the stored record for an app from the provider.
func (o *Orchestrator) Status(ctx context.Context, appID string) (*models.DeploymentRecord, error) {
	record, err := o.Store.Get(appID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("no deployment record found for app %q", appID)
	}

	observed, err := o.Provider.GetPod(ctx, record.PodID)
	if err != nil {
		return nil, err
	}
	record.StatusDetail = observed.StatusDetail
	switch observed.Status {
	case models.PodStatusRunning:
		record.State = models.DeploymentReady
	case models.PodStatusResuming, models.PodStatusCreating:
		record.State = models.DeploymentBootstrapping
	case models.PodStatusExited:
		record.State = models.DeploymentDegraded
	case models.PodStatusTerminated:
		record.State = models.DeploymentTerminated
	default:
		record.State = models.DeploymentDegraded
	}

	if err := o.Store.Put(*record); err != nil {
		return nil, err
	}
	return record, nil
}

// Destroy tears down the recorded pod and removes the record.
func (o *Orchestrator) Destroy(ctx context.Context, appID string) error {
	record, err := o.Store.Get(appID)
	if err != nil {
		return err
	}
	if record == nil {
		return fmt.Errorf("no deployment record found for app %q", appID)
	}

	if record.PodID != "" {
		if err := o.Provider.Destroy(ctx, record.PodID); err != nil {
			return fmt.Errorf("failed to destroy pod %s: %w", record.PodID, err)
		}
	}
	return o.Store.Delete(appID)
}

// Logs returns recent pod output for an app.
func (o *Orchestrator) Logs(ctx context.Context, appID string, tailLines int) (string, error) {
	record, err := o.Store.Get(appID)
	if err != nil {
		return "", err
	}
	if record == nil {
		return "", fmt.Errorf("no deployment record found for app %q", appID)
	}
	return o.Provider.Logs(ctx, record.PodID, tailLines)
}
