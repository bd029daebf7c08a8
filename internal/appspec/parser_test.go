package appspec

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specYAML = `app_id: portrait-upscaler
version: v1
workflow_path: workflow.json
provider: runpod
gpu_profile: A10G
regions: [US]
env:
  COMFY_HEADLESS: "1"
endpoint:
  name: upscale
  mode: sync
  auth_mode: api_key
  timeout_seconds: 120
  max_payload_mb: 32
cache_policy:
  watch_paths: [/opt/comfy/models]
  min_file_size_mb: 100
  symlink_targets: []
build:
  comfy_version: 0.3.26
  image_repository: ghcr.io/acme/golden
  plugins:
    - repo: https://github.com/comfyanonymous/ComfyUI
      ref: master
compute_policy:
  min_vram_gb: 16
`

const contractJSON = `{
  "contract_id": "portrait-upscaler-contract",
  "version": "1",
  "inputs": [{"name": "image", "type": "image", "required": true, "node_id": "12"}],
  "outputs": [{"name": "result", "type": "image", "node_id": "42"}]
}`

func writeApp(t *testing.T, withWorkflow, withContract bool) string {
	t.Helper()
	dir := t.TempDir()

	specPath := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(specPath, []byte(specYAML), 0o644))
	if withWorkflow {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.json"), []byte(`{"12":{}}`), 0o644))
	}
	if withContract {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "workflow.contract.json"), []byte(contractJSON), 0o644))
	}
	return specPath
}

func TestLoadResolvesWorkflowRelativeToSpec(t *testing.T) {
	specPath := writeApp(t, true, true)

	spec, err := Load(specPath)
	require.NoError(t, err)

	assert.Equal(t, "portrait-upscaler", spec.AppID)
	assert.Equal(t, filepath.Join(filepath.Dir(specPath), "workflow.json"), spec.WorkflowPath)
	require.NotNil(t, spec.ComputePolicy)
	assert.Equal(t, 16, spec.ComputePolicy.MinVRAMGB)
	assert.Equal(t, 1, spec.GPUCount())
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	specPath := filepath.Join(dir, "app.yaml")
	bad := []byte("app_id: x\nversion: v1\nworkflow_path: w.json\nprovider: heroku\n")
	require.NoError(t, os.WriteFile(specPath, bad, 0o644))

	_, err := Load(specPath)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Contains(t, validationErr.Detail, "Provider")
}

func TestLoadDeployableRequiresWorkflowFile(t *testing.T) {
	specPath := writeApp(t, false, false)

	_, _, err := LoadDeployable(specPath)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Contains(t, validationErr.Detail, "workflow file not found")
}

func TestLoadDeployableRequiresContractExport(t *testing.T) {
	specPath := writeApp(t, true, false)

	_, _, err := LoadDeployable(specPath)
	var validationErr *ValidationError
	require.True(t, errors.As(err, &validationErr))
	assert.Contains(t, validationErr.Detail, "contract export")
}

func TestLoadDeployableParsesContract(t *testing.T) {
	specPath := writeApp(t, true, true)

	spec, contract, err := LoadDeployable(specPath)
	require.NoError(t, err)
	assert.Equal(t, "portrait-upscaler", spec.AppID)
	assert.Equal(t, "portrait-upscaler-contract", contract.ContractID)
	require.Len(t, contract.Inputs, 1)
	assert.True(t, contract.Inputs[0].Required)
}

func TestLoadContractRejectsEmptyInputs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workflow.contract.json")
	empty := `{"contract_id":"c","version":"1","inputs":[],"outputs":[{"name":"r","type":"image","node_id":"1"}]}`
	require.NoError(t, os.WriteFile(path, []byte(empty), 0o644))

	_, err := LoadContract(path)
	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))
}

func TestContractPath(t *testing.T) {
	assert.Equal(t, "/apps/demo/workflow.contract.json", ContractPath("/apps/demo/workflow.json"))
}
