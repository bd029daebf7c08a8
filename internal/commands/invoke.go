package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/comfy-endpoints/comfy-endpoints/internal/deploy"
	"github.com/comfy-endpoints/comfy-endpoints/pkg/endpoints/client"
)

var (
	invokeInputs []string
	invokeWait   bool
)

var invokeCmd = &cobra.Command{
	Use:   "invoke [app-id]",
	Short: "Submit a job to a deployed app's gateway",
	Long: `Invoke posts a job payload to the app's gateway and prints the
queued job. With --wait it polls until the job finishes.

The gateway API key is read from COMFY_ENDPOINTS_API_KEY.

Examples:
  comfy-endpoints invoke portrait-upscaler --input prompt="a red fox"
  comfy-endpoints invoke portrait-upscaler --input image=file-12 --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runInvoke,
}

var jobCmd = &cobra.Command{
	Use:   "job [app-id] [job-id]",
	Short: "Fetch a gateway job by id",
	Args:  cobra.ExactArgs(2),
	RunE:  runJob,
}

func init() {
	invokeCmd.Flags().StringArrayVar(&invokeInputs, "input", nil, "job input as name=value (repeatable)")
	invokeCmd.Flags().BoolVar(&invokeWait, "wait", false, "poll until the job completes")
}

func gatewayClient(appID string) (*client.Client, error) {
	store, err := deploy.NewStore(cfg.State.Dir)
	if err != nil {
		return nil, err
	}
	record, err := store.Get(appID)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("no deployment record found for app %q", appID)
	}
	if record.EndpointURL == "" {
		return nil, fmt.Errorf("app %q has no resolved endpoint yet", appID)
	}
	return client.New(record.EndpointURL, os.Getenv("COMFY_ENDPOINTS_API_KEY"))
}

func runInvoke(cmd *cobra.Command, args []string) error {
	gateway, err := gatewayClient(args[0])
	if err != nil {
		return err
	}

	payload := map[string]any{}
	for _, input := range invokeInputs {
		name, value, found := strings.Cut(input, "=")
		if !found || name == "" {
			return fmt.Errorf("invalid --input %q, expected name=value", input)
		}
		// Values that parse as JSON pass through typed; everything else is
		// a string.
		var typed any
		if err := json.Unmarshal([]byte(value), &typed); err == nil {
			payload[name] = typed
		} else {
			payload[name] = value
		}
	}

	job, err := gateway.Run(cmd.Context(), payload)
	if err != nil {
		return err
	}
	if !invokeWait {
		return printJSON(job)
	}

	finished, err := gateway.WaitForJob(cmd.Context(), job.JobID, 2*time.Second)
	if err != nil {
		return err
	}
	return printJSON(finished)
}

func runJob(cmd *cobra.Command, args []string) error {
	gateway, err := gatewayClient(args[0])
	if err != nil {
		return err
	}
	job, err := gateway.GetJob(cmd.Context(), args[1])
	if err != nil {
		return err
	}
	return printJSON(job)
}
