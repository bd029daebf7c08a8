// Package config provides configuration management for the comfy-endpoints
// deployment core.
//
// Configuration is loaded in the following order (later sources override
// earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./comfy-endpoints.yaml, ~/.comfy-endpoints/config.yaml)
//  3. .env files
//  4. Environment variables (CE_ prefix)
//
// Environment variables use the CE_ prefix with underscores for nested keys:
//   - CE_BUILD_BACKEND=github_actions
//   - CE_POD_READY_MAX_ATTEMPTS=180
//   - CE_PROVIDER_DATA_CENTER_ID=EU-RO-1
//
// Every polling interval and retry budget used by the deploy workflow lives
// here rather than as a constant, because the provider-appropriate values are
// an operational choice, not a code invariant.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure.
type Config struct {
	// State configures the local deployment state store.
	State StateConfig `mapstructure:"state"`

	// Provider contains compute provider API settings.
	Provider ProviderConfig `mapstructure:"provider"`

	// Registry contains image registry probing settings.
	Registry RegistryConfig `mapstructure:"registry"`

	// Build contains image build dispatch settings.
	Build BuildConfig `mapstructure:"build"`

	// Pod contains pod reconciliation settings.
	Pod PodConfig `mapstructure:"pod"`
}

// StateConfig configures where deployment records are persisted.
type StateConfig struct {
	// Dir is the state directory (default: ./.comfy-endpoints).
	Dir string `mapstructure:"dir"`
}

// ProviderConfig contains compute provider API settings.
type ProviderConfig struct {
	// APIURL is the provider GraphQL endpoint.
	APIURL string `mapstructure:"api_url"`

	// RESTAPIURL is the provider REST endpoint for pod operations.
	RESTAPIURL string `mapstructure:"rest_api_url"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `mapstructure:"api_key_env"`

	// RequestTimeout bounds a single provider API call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// RequestsPerSecond rate-limits provider API calls.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// DataCenterID is the default provider region.
	DataCenterID string `mapstructure:"data_center_id"`

	// CloudType selects the provider cloud tier (COMMUNITY or SECURE).
	CloudType string `mapstructure:"cloud_type"`
}

// RegistryConfig contains registry probe settings.
type RegistryConfig struct {
	// ProbeAttempts is the retry budget for transient probe failures.
	ProbeAttempts int `mapstructure:"probe_attempts"`

	// ProbeBackoff is the initial backoff between probe retries; it grows
	// exponentially up to ProbeBackoffMax.
	ProbeBackoff    time.Duration `mapstructure:"probe_backoff"`
	ProbeBackoffMax time.Duration `mapstructure:"probe_backoff_max"`
}

// BuildConfig contains image build dispatch settings.
type BuildConfig struct {
	// Backend selects the build path: auto, local, or github_actions.
	Backend string `mapstructure:"backend"`

	// Platform is the target platform for local builds.
	Platform string `mapstructure:"platform"`

	// GitHubRepository is the owner/repo hosting the build workflows.
	GitHubRepository string `mapstructure:"github_repository"`

	// GitHubTokenEnv names the environment variable holding the token used
	// for workflow dispatch.
	GitHubTokenEnv string `mapstructure:"github_token_env"`

	// Workflow is the remote build workflow file name.
	Workflow string `mapstructure:"workflow"`

	// WorkflowRef is the git ref the workflow is dispatched on.
	WorkflowRef string `mapstructure:"workflow_ref"`

	// WaitTimeout bounds the post-dispatch wait for the tag to appear.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`

	// WaitInterval is the registry re-probe interval after a dispatch.
	WaitInterval time.Duration `mapstructure:"wait_interval"`
}

// PodConfig contains pod reconciliation settings.
type PodConfig struct {
	// ReadyPollInterval is the status poll interval while resuming.
	ReadyPollInterval time.Duration `mapstructure:"ready_poll_interval"`

	// ReadyMaxAttempts bounds the number of status polls before the
	// reconciler gives up with a timeout.
	ReadyMaxAttempts int `mapstructure:"ready_max_attempts"`

	// VolumeSizeGB is the cache volume size the reconciler ensures.
	VolumeSizeGB int `mapstructure:"volume_size_gb"`

	// VolumeMountPath is the cache volume mount point.
	VolumeMountPath string `mapstructure:"volume_mount_path"`

	// ContainerDiskGB is the ephemeral container disk size.
	ContainerDiskGB int `mapstructure:"container_disk_gb"`

	// Ports lists the pod ports in "<port>/<proto>" form.
	Ports []string `mapstructure:"ports"`

	// PublicPort is the preferred gateway port for endpoint resolution.
	PublicPort string `mapstructure:"public_port"`
}

var cfg *Config

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for comfy-endpoints.yaml in standard
// locations.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("comfy-endpoints")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.comfy-endpoints")
		v.AddConfigPath("/etc/comfy-endpoints")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix("CE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg = &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("state.dir", "./.comfy-endpoints")

	v.SetDefault("provider.api_url", "https://api.runpod.io/graphql")
	v.SetDefault("provider.rest_api_url", "https://rest.runpod.io/v1")
	v.SetDefault("provider.api_key_env", "RUNPOD_API_KEY")
	v.SetDefault("provider.request_timeout", "30s")
	v.SetDefault("provider.requests_per_second", 5.0)
	v.SetDefault("provider.data_center_id", "US-KS-2")
	v.SetDefault("provider.cloud_type", "COMMUNITY")

	v.SetDefault("registry.probe_attempts", 3)
	v.SetDefault("registry.probe_backoff", "2s")
	v.SetDefault("registry.probe_backoff_max", "30s")

	v.SetDefault("build.backend", "auto")
	v.SetDefault("build.platform", "linux/amd64")
	v.SetDefault("build.github_token_env", "GITHUB_TOKEN")
	v.SetDefault("build.workflow", "build_golden_image.yml")
	v.SetDefault("build.workflow_ref", "main")
	v.SetDefault("build.wait_timeout", "30m")
	v.SetDefault("build.wait_interval", "15s")

	v.SetDefault("pod.ready_poll_interval", "5s")
	v.SetDefault("pod.ready_max_attempts", 180)
	v.SetDefault("pod.volume_size_gb", 100)
	v.SetDefault("pod.volume_mount_path", "/cache")
	v.SetDefault("pod.container_disk_gb", 30)
	v.SetDefault("pod.ports", []string{"8080/http", "3000/http", "8188/http"})
	v.SetDefault("pod.public_port", "3000")
}

func validate(cfg *Config) error {
	switch cfg.Build.Backend {
	case "auto", "local", "github_actions":
	default:
		return fmt.Errorf("build.backend must be one of: auto, local, github_actions (got %q)", cfg.Build.Backend)
	}

	if cfg.Registry.ProbeAttempts < 1 {
		return fmt.Errorf("registry.probe_attempts must be at least 1")
	}

	if cfg.Pod.ReadyMaxAttempts < 1 {
		return fmt.Errorf("pod.ready_max_attempts must be at least 1")
	}

	if cfg.Pod.ReadyPollInterval <= 0 {
		return fmt.Errorf("pod.ready_poll_interval must be positive")
	}

	if cfg.Pod.VolumeSizeGB < 1 {
		return fmt.Errorf("pod.volume_size_gb must be at least 1")
	}

	if len(cfg.Pod.Ports) == 0 {
		return fmt.Errorf("pod.ports must list at least one port")
	}

	return nil
}

func Get() *Config {
	return cfg
}
