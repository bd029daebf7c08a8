package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comfy-endpoints/comfy-endpoints/internal/build"
	"github.com/comfy-endpoints/comfy-endpoints/internal/imaging"
	"github.com/comfy-endpoints/comfy-endpoints/internal/provider"
	"github.com/comfy-endpoints/comfy-endpoints/internal/reconcile"
	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// memoryRegistry tracks pushed tags and counts probes.
type memoryRegistry struct {
	tags   map[string]bool
	probes int
}

func (m *memoryRegistry) Exists(_ context.Context, ref string) (bool, error) {
	m.probes++
	return m.tags[ref], nil
}

// pushBuilder records builds and marks the tag present in the registry.
type pushBuilder struct {
	registry *memoryRegistry
	builds   []string
}

func (b *pushBuilder) Available(_ context.Context) bool { return true }

func (b *pushBuilder) BuildAndPush(_ context.Context, req build.Request) error {
	b.builds = append(b.builds, req.ImageRef)
	b.registry.tags[req.ImageRef] = true
	return nil
}

// cloudFake simulates a provider whose pods converge after one resume.
type cloudFake struct {
	catalog     []models.GPUType
	pods        map[string]*models.PodObservedState
	createCalls int
	nextID      int
}

func newCloudFake() *cloudFake {
	return &cloudFake{
		catalog: []models.GPUType{
			{ID: "NVIDIA RTX A5000", VRAMGB: 24, RAMPerGPUGB: 48, MaxGPUCount: 4, CommunityPrice: 0.26},
		},
		pods: map[string]*models.PodObservedState{},
	}
}

func (c *cloudFake) Name() string { return "fake" }

func (c *cloudFake) CreatePod(_ context.Context, desired models.PodDesiredState) (string, error) {
	c.createCalls++
	c.nextID++
	id := fmt.Sprintf("pod-%d", c.nextID)
	c.pods[id] = &models.PodObservedState{
		ID:           id,
		Status:       models.PodStatusCreating,
		ImageRef:     desired.ImageRef,
		Env:          desired.Env,
		Ports:        desired.Ports,
		VolumeSizeGB: desired.VolumeSizeGB,
		Host:         id,
	}
	return id, nil
}

func (c *cloudFake) GetPod(_ context.Context, podID string) (models.PodObservedState, error) {
	pod, ok := c.pods[podID]
	if !ok {
		return models.PodObservedState{}, fmt.Errorf("pod %s not found", podID)
	}
	return *pod, nil
}

func (c *cloudFake) EnsureVolume(_ context.Context, podID string, sizeGB int, _ string) error {
	if pod, ok := c.pods[podID]; ok && pod.VolumeSizeGB < sizeGB {
		pod.VolumeSizeGB = sizeGB
	}
	return nil
}

func (c *cloudFake) PatchPod(_ context.Context, podID string, desired models.PodDesiredState) error {
	if pod, ok := c.pods[podID]; ok {
		pod.ImageRef = desired.ImageRef
		pod.Env = desired.Env
		pod.Ports = desired.Ports
	}
	return nil
}

func (c *cloudFake) ResumePod(_ context.Context, podID string) error {
	if pod, ok := c.pods[podID]; ok {
		pod.Status = models.PodStatusRunning
	}
	return nil
}

func (c *cloudFake) ListGPUTypes(_ context.Context) ([]models.GPUType, error) {
	return c.catalog, nil
}

func (c *cloudFake) Destroy(_ context.Context, podID string) error {
	delete(c.pods, podID)
	return nil
}

func (c *cloudFake) Logs(_ context.Context, _ string, _ int) (string, error) {
	return "server listening", nil
}

type healthyGateway struct{ calls int }

func (h *healthyGateway) Healthz(_ context.Context, _ string) error {
	h.calls++
	return nil
}

const orchestratorSpec = `app_id: demo
version: v1
workflow_path: workflow.json
provider: runpod
gpu_profile: A10G
regions: [US]
env: {}
endpoint:
  name: run
  mode: sync
  auth_mode: api_key
  timeout_seconds: 120
  max_payload_mb: 32
cache_policy:
  watch_paths: []
  min_file_size_mb: 100
build:
  comfy_version: 0.3.26
  image_repository: ghcr.io/acme/golden
  plugins:
    - repo: https://github.com/comfyanonymous/ComfyUI
      ref: master
compute_policy:
  min_vram_gb: %d
`

func writeProject(t *testing.T, minVRAM int) (projectRoot, specPath string) {
	t.Helper()
	dir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docker"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker", "Dockerfile.comfybase"), []byte("FROM nvidia/cuda:12.1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker", "Dockerfile.golden"), []byte("FROM comfybase"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.json"), []byte(`{"12":{}}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.contract.json"), []byte(`{
		"contract_id": "demo-contract", "version": "1",
		"inputs": [{"name": "image", "type": "image", "required": true, "node_id": "12"}],
		"outputs": [{"name": "result", "type": "image", "node_id": "42"}]
	}`), 0o644))

	specPath = filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(fmt.Sprintf(orchestratorSpec, minVRAM)), 0o644))
	return dir, specPath
}

func newOrchestrator(t *testing.T, projectRoot string, cloud *cloudFake, reg *memoryRegistry) (*Orchestrator, *pushBuilder, *healthyGateway) {
	t.Helper()

	builder := &pushBuilder{registry: reg}
	store, err := NewStore(filepath.Join(projectRoot, ".comfy-endpoints"))
	require.NoError(t, err)

	gateway := &healthyGateway{}
	o := &Orchestrator{
		Provider:   cloud,
		Images:     &imaging.Resolver{ProjectRoot: projectRoot},
		Builds:     build.NewManager(reg, builder, nil, build.BackendLocal, time.Second, time.Millisecond),
		Reconciler: reconcile.New(cloud, time.Millisecond, 50, "COMMUNITY"),
		Store:      store,
		ResolveEndpoint: func(pod models.PodObservedState) *models.Endpoint {
			if pod.Host == "" {
				return nil
			}
			return &models.Endpoint{URL: "https://" + pod.Host + "-3000.proxy.runpod.net", Port: "3000"}
		},
		Health: gateway,
		Defaults: PodDefaults{
			VolumeSizeGB:    100,
			VolumeMountPath: "/cache",
			ContainerDiskGB: 30,
			Ports:           []string{"8080/http", "3000/http", "8188/http"},
			PublicPort:      "3000",
		},
		HealthWaitTimeout:  time.Second,
		HealthWaitInterval: time.Millisecond,
	}
	return o, builder, gateway
}

func TestDeployEndToEndBuildsBothTagsAndConverges(t *testing.T) {
	projectRoot, specPath := writeProject(t, 16)
	cloud := newCloudFake()
	reg := &memoryRegistry{tags: map[string]bool{}}
	o, builder, gateway := newOrchestrator(t, projectRoot, cloud, reg)

	record, err := o.Deploy(context.Background(), specPath)
	require.NoError(t, err)

	// Both tags missed the registry, so both were built, base first.
	require.Len(t, builder.builds, 2)
	assert.Contains(t, builder.builds[0], "-base-")
	assert.Equal(t, record.ImageRef, builder.builds[1])
	assert.True(t, record.ImageBuilt)

	assert.Equal(t, models.DeploymentReady, record.State)
	assert.Equal(t, "https://pod-1-3000.proxy.runpod.net", record.EndpointURL)
	assert.Equal(t, "demo-contract", record.ContractID)
	assert.NotEmpty(t, record.DeployID)
	assert.Positive(t, gateway.calls)

	// The record survives for status and destroy.
	stored, err := o.Store.Get("demo")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "pod-1", stored.PodID)

	// The pod env carries the workflow and contract for the runtime.
	pod := cloud.pods["pod-1"]
	assert.Equal(t, "1", pod.Env["COMFY_HEADLESS"])
	assert.Equal(t, "demo", pod.Env["COMFY_ENDPOINTS_APP_ID"])
	assert.NotEmpty(t, pod.Env["COMFY_ENDPOINTS_WORKFLOW_JSON"])
}

func TestDeploySecondRunIsFullyIdempotent(t *testing.T) {
	projectRoot, specPath := writeProject(t, 16)
	cloud := newCloudFake()
	reg := &memoryRegistry{tags: map[string]bool{}}
	o, builder, _ := newOrchestrator(t, projectRoot, cloud, reg)

	_, err := o.Deploy(context.Background(), specPath)
	require.NoError(t, err)
	firstBuilds := len(builder.builds)

	record, err := o.Deploy(context.Background(), specPath)
	require.NoError(t, err)

	// Same inputs derive the same tags, which now hit the registry, and
	// the recorded pod is reused instead of creating a second one.
	assert.Equal(t, firstBuilds, len(builder.builds), "no rebuild on identical inputs")
	assert.False(t, record.ImageBuilt)
	assert.Equal(t, 1, cloud.createCalls)
	assert.Equal(t, "pod-1", record.PodID)
}

func TestDeployComputePolicyRejectionCreatesNoPod(t *testing.T) {
	projectRoot, specPath := writeProject(t, 80)
	cloud := newCloudFake()
	reg := &memoryRegistry{tags: map[string]bool{}}
	o, _, _ := newOrchestrator(t, projectRoot, cloud, reg)

	_, err := o.Deploy(context.Background(), specPath)
	require.Error(t, err)

	var noMatch *provider.NoMatchingGPUTypeError
	require.True(t, errors.As(err, &noMatch), "original error kind must survive: %v", err)
	assert.Equal(t, 0, cloud.createCalls)

	// The failure is recorded for inspection.
	stored, storeErr := o.Store.Get("demo")
	require.NoError(t, storeErr)
	require.NotNil(t, stored)
	assert.Equal(t, models.DeploymentFailed, stored.State)
}

func TestDeployInvalidSpecNamesValidationStage(t *testing.T) {
	projectRoot, specPath := writeProject(t, 16)
	require.NoError(t, os.Remove(filepath.Join(projectRoot, "workflow.contract.json")))
	cloud := newCloudFake()
	o, _, _ := newOrchestrator(t, projectRoot, cloud, &memoryRegistry{tags: map[string]bool{}})

	_, err := o.Deploy(context.Background(), specPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spec validation failed")
}

func TestDeployMissingDockerfileSurfacesInputError(t *testing.T) {
	projectRoot, specPath := writeProject(t, 16)
	require.NoError(t, os.Remove(filepath.Join(projectRoot, "docker", "Dockerfile.comfybase")))
	cloud := newCloudFake()
	o, _, _ := newOrchestrator(t, projectRoot, cloud, &memoryRegistry{tags: map[string]bool{}})

	_, err := o.Deploy(context.Background(), specPath)
	require.Error(t, err)

	var inputErr *imaging.InputUnavailableError
	assert.True(t, errors.As(err, &inputErr))
	assert.Contains(t, err.Error(), "tag derivation failed")
}

func TestStatusRefreshesFromProvider(t *testing.T) {
	projectRoot, specPath := writeProject(t, 16)
	cloud := newCloudFake()
	o, _, _ := newOrchestrator(t, projectRoot, cloud, &memoryRegistry{tags: map[string]bool{}})

	record, err := o.Deploy(context.Background(), specPath)
	require.NoError(t, err)

	cloud.pods[record.PodID].Status = models.PodStatusExited
	cloud.pods[record.PodID].StatusDetail = "stopped by provider"

	refreshed, err := o.Status(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentDegraded, refreshed.State)
	assert.Equal(t, "stopped by provider", refreshed.StatusDetail)
}

func TestDestroyRemovesPodAndRecord(t *testing.T) {
	projectRoot, specPath := writeProject(t, 16)
	cloud := newCloudFake()
	o, _, _ := newOrchestrator(t, projectRoot, cloud, &memoryRegistry{tags: map[string]bool{}})

	record, err := o.Deploy(context.Background(), specPath)
	require.NoError(t, err)

	require.NoError(t, o.Destroy(context.Background(), "demo"))
	assert.NotContains(t, cloud.pods, record.PodID)

	stored, err := o.Store.Get("demo")
	require.NoError(t, err)
	assert.Nil(t, stored)
}
