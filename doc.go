// Package comfyendpoints turns ComfyUI workflows into deployed GPU endpoints.
//
// # Overview
//
// comfy-endpoints takes an application spec (a workflow file, its API
// contract, and a GPU profile) and converges cloud state until a pod runs the
// matching golden image and answers on a public endpoint.
//
// The deploy pipeline consists of four stages:
//   - Tag Deriver: deterministic, content-addressed image tags
//   - Image Builder: registry probe, then local Docker or GitHub Actions build
//   - Pod Reconciler: create/patch/resume a provider pod until ready
//   - Endpoint Resolver: public proxy URL for the pod's gateway port
//
// # Architecture
//
//	┌─────────────────┐
//	│  CLI            │
//	│  (cobra)        │
//	└────────┬────────┘
//	         │
//	┌────────▼────────┐       ┌─────────────────┐
//	│  Orchestrator   │◄──────┤  Image Builder  │
//	│  (deploy)       │       │  (docker / CI)  │
//	└────────┬────────┘       └─────────────────┘
//	         │
//	┌────────▼────────┐
//	│  Pod Reconciler │
//	│  (RunPod)       │
//	└─────────────────┘
//
// # Core Features
//
// Deterministic images:
//   - Base and golden tags derived from declared build inputs
//   - Registry probe before any build, so unchanged inputs never rebuild
//   - Local Docker builds or remote workflow dispatch, selected automatically
//
// Pod reconciliation:
//   - Six-state convergence from absent to ready
//   - Fail-closed GPU compute policy before any pod is created
//   - Idempotent volume and image patches, cooperative polling
//
// Deployment records:
//   - JSON state store keyed by app id
//   - Status refresh, logs, and teardown per deployment
//
// # Usage
//
// Scaffold an application:
//
//	comfy-endpoints init my-app
//
// Validate the spec and contract:
//
//	comfy-endpoints validate my-app/app.yaml
//
// Deploy:
//
//	comfy-endpoints deploy my-app/app.yaml
//
// Invoke the deployed endpoint:
//
//	comfy-endpoints invoke my-app --input prompt="a lighthouse at dusk" --wait
//
// # Configuration
//
// Configuration can be provided via:
//   - YAML file (configs/config.yaml)
//   - Environment variables (CE_ prefix)
//   - .env file
//
// Example configuration:
//
//	state:
//	  dir: ~/.comfy-endpoints
//	provider:
//	  name: runpod
//	  api_key_env: RUNPOD_API_KEY
//	registry:
//	  probe_attempts: 3
//	build:
//	  backend: auto
//	  platform: linux/amd64
//	pod:
//	  ready_poll_interval: 5s
//	  ready_max_attempts: 180
//
// # Development
//
// Run tests:
//
//	go test ./...
//
// Build the binary:
//
//	go build -o comfy-endpoints ./cmd/comfy-endpoints
//
// # Technology Stack
//
//   - Go 1.25+
//   - Cobra / Viper (CLI and configuration)
//   - Docker API (builds and registry probing)
//   - RunPod REST and GraphQL APIs (pods and GPU catalog)
package comfyendpoints
