package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/comfy-endpoints/comfy-endpoints/internal/appspec"
	"github.com/comfy-endpoints/comfy-endpoints/internal/build"
	"github.com/comfy-endpoints/comfy-endpoints/internal/deploy"
	"github.com/comfy-endpoints/comfy-endpoints/internal/imaging"
	"github.com/comfy-endpoints/comfy-endpoints/internal/provider"
	"github.com/comfy-endpoints/comfy-endpoints/internal/reconcile"
	"github.com/comfy-endpoints/comfy-endpoints/internal/registry"
	"github.com/comfy-endpoints/comfy-endpoints/models"
	"github.com/comfy-endpoints/comfy-endpoints/pkg/endpoints/client"
)

var deployCmd = &cobra.Command{
	Use:   "deploy [app-spec]",
	Short: "Deploy an app to its configured provider",
	Long: `Deploy validates the app spec, ensures the comfybase and golden
images exist in the registry (building whatever is missing), reconciles
the provider pod to the desired state, and prints the resulting record.

Examples:
  comfy-endpoints deploy apps/portrait-upscaler/app.yaml
  comfy-endpoints deploy app.yaml --config config.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runDeploy,
}

func runDeploy(cmd *cobra.Command, args []string) error {
	specPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	orchestrator, err := newOrchestrator(specPath)
	if err != nil {
		return err
	}

	record, err := orchestrator.Deploy(cmd.Context(), specPath)
	if err != nil {
		return err
	}
	return printJSON(record)
}

// newOrchestrator assembles the deploy pipeline for the spec's provider and
// the spec file's project directory.
func newOrchestrator(specPath string) (*deploy.Orchestrator, error) {
	spec, err := appspec.Load(specPath)
	if err != nil {
		return nil, err
	}
	projectRoot := filepath.Dir(specPath)

	prov, err := provider.New(spec.Provider, cfg.Provider, nil)
	if err != nil {
		return nil, err
	}

	prober, err := registry.NewDefaultProber(
		registry.WithRetry(cfg.Registry.ProbeAttempts, cfg.Registry.ProbeBackoff, cfg.Registry.ProbeBackoffMax),
		registry.WithAuth(registry.EncodedAuthFromEnv()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize registry prober: %w", err)
	}

	var local build.Builder
	if builder, err := build.NewDockerBuilder(cfg.Build.Platform, registry.EncodedAuthFromEnv()); err == nil {
		local = builder
	}

	var remote build.Dispatcher
	if cfg.Build.GitHubRepository != "" {
		token := os.Getenv(cfg.Build.GitHubTokenEnv)
		dispatcher, err := build.NewGitHubDispatcher(cfg.Build.GitHubRepository, cfg.Build.Workflow, cfg.Build.WorkflowRef, token)
		if err == nil {
			remote = dispatcher
		} else if cfg.Build.Backend == string(build.BackendGitHubActions) {
			return nil, err
		}
	}

	store, err := deploy.NewStore(cfg.State.Dir)
	if err != nil {
		return nil, err
	}

	publicPort := cfg.Pod.PublicPort
	return &deploy.Orchestrator{
		Provider: prov,
		Images:   &imaging.Resolver{ProjectRoot: projectRoot},
		Builds: build.NewManager(
			prober, local, remote,
			build.Backend(cfg.Build.Backend),
			cfg.Build.WaitTimeout, cfg.Build.WaitInterval,
		),
		Reconciler: reconcile.New(prov, cfg.Pod.ReadyPollInterval, cfg.Pod.ReadyMaxAttempts, cfg.Provider.CloudType),
		Store:      store,
		ResolveEndpoint: func(pod models.PodObservedState) *models.Endpoint {
			return provider.ProxyEndpoint(pod, publicPort)
		},
		Health: deploy.HealthFunc(client.Healthz),
		Defaults: deploy.PodDefaults{
			VolumeSizeGB:    cfg.Pod.VolumeSizeGB,
			VolumeMountPath: cfg.Pod.VolumeMountPath,
			ContainerDiskGB: cfg.Pod.ContainerDiskGB,
			Ports:           cfg.Pod.Ports,
			PublicPort:      publicPort,
		},
		HealthWaitTimeout:  cfg.Pod.ReadyPollInterval * time.Duration(cfg.Pod.ReadyMaxAttempts),
		HealthWaitInterval: cfg.Pod.ReadyPollInterval,
	}, nil
}

func printJSON(payload any) error {
	encoded, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
