// Package models defines the data types shared across the comfy-endpoints
// deployment core: application specs, workflow contracts, pod state, GPU
// catalog entries, and deployment records.
//
// Provider API responses are dynamically typed JSON upstream; everything that
// crosses a package boundary here is represented as a strongly typed record
// with explicit optional fields instead of raw maps.
package models

// AppSpec is the declarative description of a deployable pipeline.
// It is loaded from a validated spec file (YAML or JSON) and is immutable
// for the duration of a deploy.
//
// Example spec file:
//
//	app_id: portrait-upscaler
//	version: v3
//	workflow_path: ./workflow.json
//	provider: runpod
//	gpu_profile: A10G
//	regions: [US]
//	env:
//	  COMFY_HEADLESS: "1"
//	endpoint:
//	  name: run
//	  mode: async
//	  auth_mode: api_key
//	  timeout_seconds: 300
//	  max_payload_mb: 10
//	cache_policy:
//	  watch_paths: [/opt/comfy/models]
//	  min_file_size_mb: 100
//	build:
//	  comfy_version: 0.3.26
//	  image_repository: ghcr.io/comfy-endpoints/golden
//	  plugins:
//	    - repo: https://github.com/comfyanonymous/ComfyUI
//	      ref: master
type AppSpec struct {
	// AppID is the unique application identifier.
	AppID string `yaml:"app_id" json:"app_id" validate:"required"`

	// Version is the application version used in golden image tags.
	Version string `yaml:"version" json:"version" validate:"required"`

	// WorkflowPath points at the workflow JSON, relative to the spec file.
	WorkflowPath string `yaml:"workflow_path" json:"workflow_path" validate:"required"`

	// Provider selects the compute provider (runpod, vast, lambda, aws, gcp).
	Provider string `yaml:"provider" json:"provider" validate:"required,oneof=runpod vast lambda aws gcp"`

	// GPUProfile is a human-readable GPU class hint (e.g. A10G).
	GPUProfile string `yaml:"gpu_profile" json:"gpu_profile" validate:"required"`

	// Regions lists deployment regions in preference order.
	Regions []string `yaml:"regions" json:"regions"`

	// Env contains environment variables injected into the pod.
	Env map[string]string `yaml:"env" json:"env"`

	// Endpoint describes the gateway endpoint exposed by the pod.
	Endpoint EndpointSpec `yaml:"endpoint" json:"endpoint" validate:"required"`

	// CachePolicy configures the model cache volume.
	CachePolicy CachePolicy `yaml:"cache_policy" json:"cache_policy"`

	// Build configures image derivation and the build backends.
	Build BuildSpec `yaml:"build" json:"build" validate:"required"`

	// ComputePolicy constrains the GPU classes a pod may land on.
	// Nil means any GPU satisfying the provider defaults is acceptable.
	ComputePolicy *ComputePolicy `yaml:"compute_policy,omitempty" json:"compute_policy,omitempty"`
}

// EndpointSpec describes the authenticated endpoint the gateway exposes.
type EndpointSpec struct {
	Name           string `yaml:"name" json:"name" validate:"required"`
	Mode           string `yaml:"mode" json:"mode" validate:"required,oneof=sync async"`
	AuthMode       string `yaml:"auth_mode" json:"auth_mode" validate:"required,oneof=api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds" validate:"gt=0"`
	MaxPayloadMB   int    `yaml:"max_payload_mb" json:"max_payload_mb" validate:"gt=0"`
}

// CachePolicy configures which files are promoted into the content-addressed
// model cache mounted into the pod.
type CachePolicy struct {
	// WatchPaths are directories scanned for large model files.
	WatchPaths []string `yaml:"watch_paths" json:"watch_paths"`

	// MinFileSizeMB is the promotion threshold; smaller files stay in place.
	MinFileSizeMB int `yaml:"min_file_size_mb" json:"min_file_size_mb"`

	// SymlinkTargets are directories that receive symlinks into the cache.
	SymlinkTargets []string `yaml:"symlink_targets" json:"symlink_targets"`
}

// ComputePolicy is the fail-closed GPU constraint set. A deploy must abort,
// never fall back to a weaker GPU class, when no catalog entry satisfies it.
type ComputePolicy struct {
	// MinVRAMGB is the minimum GPU memory per device, in gigabytes.
	MinVRAMGB int `yaml:"min_vram_gb" json:"min_vram_gb"`

	// MinRAMPerGPUGB is the minimum system memory per GPU, in gigabytes.
	MinRAMPerGPUGB int `yaml:"min_ram_per_gpu_gb" json:"min_ram_per_gpu_gb"`

	// GPUCount is the number of GPUs the pod requests (default 1).
	GPUCount int `yaml:"gpu_count" json:"gpu_count"`
}

// PluginRef pins a pipeline plugin repository to a git ref.
type PluginRef struct {
	Repo string `yaml:"repo" json:"repo" validate:"required"`
	Ref  string `yaml:"ref" json:"ref" validate:"required"`
}

// BuildSpec configures golden image derivation.
type BuildSpec struct {
	// ComfyVersion is the pinned pipeline runtime version.
	ComfyVersion string `yaml:"comfy_version" json:"comfy_version" validate:"required"`

	// Plugins lists pinned plugin repositories baked into the image.
	Plugins []PluginRef `yaml:"plugins" json:"plugins" validate:"required,min=1,dive"`

	// ImageRef, when set, bypasses derivation and deploys this exact image.
	ImageRef string `yaml:"image_ref,omitempty" json:"image_ref,omitempty"`

	// ImageRepository is the golden image repository (without tag).
	ImageRepository string `yaml:"image_repository,omitempty" json:"image_repository,omitempty"`

	// BaseImageRepository is the comfybase image repository (without tag).
	BaseImageRepository string `yaml:"base_image_repository,omitempty" json:"base_image_repository,omitempty"`

	// ContainerRegistryAuthID names a provider-side registry credential for
	// pulling from a private registry.
	ContainerRegistryAuthID string `yaml:"container_registry_auth_id,omitempty" json:"container_registry_auth_id,omitempty"`

	// DockerfilePath is the golden Dockerfile, relative to the project root.
	DockerfilePath string `yaml:"dockerfile_path,omitempty" json:"dockerfile_path,omitempty"`

	// BaseDockerfilePath is the comfybase Dockerfile.
	BaseDockerfilePath string `yaml:"base_dockerfile_path,omitempty" json:"base_dockerfile_path,omitempty"`

	// BuildContext is the golden build context directory (default ".").
	BuildContext string `yaml:"build_context,omitempty" json:"build_context,omitempty"`

	// BaseBuildContext is the comfybase build context directory.
	BaseBuildContext string `yaml:"base_build_context,omitempty" json:"base_build_context,omitempty"`
}

// GPUCount returns the effective GPU count for a spec, defaulting to 1.
func (s *AppSpec) GPUCount() int {
	if s.ComputePolicy == nil || s.ComputePolicy.GPUCount <= 0 {
		return 1
	}
	return s.ComputePolicy.GPUCount
}
