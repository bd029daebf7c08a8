package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initAppCmd = &cobra.Command{
	Use:   "init [app-dir]",
	Short: "Initialize a new app scaffold",
	Long: `Init creates an app directory with a starter spec, an empty
workflow, and a minimal contract export. Existing files are left alone.

Examples:
  comfy-endpoints init apps/portrait-upscaler`,
	Args: cobra.ExactArgs(1),
	RunE: runInitApp,
}

const scaffoldSpec = `app_id: %s
version: v1
workflow_path: ./workflow.json
provider: runpod
gpu_profile: A10G
regions:
  - US
env:
  COMFY_HEADLESS: "1"
endpoint:
  name: run
  mode: async
  auth_mode: api_key
  timeout_seconds: 300
  max_payload_mb: 10
cache_policy:
  watch_paths:
    - /opt/comfy/models
  min_file_size_mb: 100
  symlink_targets:
    - /opt/comfy/models
build:
  comfy_version: 0.3.26
  image_repository: ghcr.io/comfy-endpoints/golden
  dockerfile_path: docker/Dockerfile.golden
  build_context: .
  plugins:
    - repo: https://github.com/comfyanonymous/ComfyUI
      ref: master
`

const scaffoldContract = `{
  "contract_id": "%s-contract",
  "version": "v1",
  "inputs": [
    {
      "name": "prompt",
      "type": "string",
      "required": true,
      "node_id": "api_input_prompt"
    }
  ],
  "outputs": [
    {
      "name": "image",
      "type": "image/png",
      "node_id": "api_output_image"
    }
  ]
}
`

func writeIfAbsent(path, content string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func runInitApp(cmd *cobra.Command, args []string) error {
	appDir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if err := os.MkdirAll(appDir, 0o755); err != nil {
		return fmt.Errorf("failed to create app dir: %w", err)
	}
	appName := filepath.Base(appDir)

	if err := writeIfAbsent(filepath.Join(appDir, "workflow.json"), "{}\n"); err != nil {
		return err
	}
	if err := writeIfAbsent(filepath.Join(appDir, "workflow.contract.json"), fmt.Sprintf(scaffoldContract, appName)); err != nil {
		return err
	}
	if err := writeIfAbsent(filepath.Join(appDir, "app.yaml"), fmt.Sprintf(scaffoldSpec, appName)); err != nil {
		return err
	}

	fmt.Printf("Initialized app scaffold at %s\n", appDir)
	return nil
}
