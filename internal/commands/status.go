package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/comfy-endpoints/comfy-endpoints/internal/deploy"
	"github.com/comfy-endpoints/comfy-endpoints/internal/provider"
)

var logsTailLines int

var statusCmd = &cobra.Command{
	Use:   "status [app-id]",
	Short: "Refresh and print the deployment status for an app",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var logsCmd = &cobra.Command{
	Use:   "logs [app-id]",
	Short: "Fetch recent pod logs for an app",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var destroyCmd = &cobra.Command{
	Use:   "destroy [app-id]",
	Short: "Tear down an app's pod and forget its deployment record",
	Args:  cobra.ExactArgs(1),
	RunE:  runDestroy,
}

func init() {
	logsCmd.Flags().IntVar(&logsTailLines, "tail", 200, "number of log lines to fetch")
}

// recordedOrchestrator builds the pipeline from the stored record's
// provider, for commands that operate on an already-deployed app.
func recordedOrchestrator(appID string) (*deploy.Orchestrator, error) {
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

	prov, err := provider.New(record.Provider, cfg.Provider, nil)
	if err != nil {
		return nil, err
	}
	return &deploy.Orchestrator{Provider: prov, Store: store}, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	orchestrator, err := recordedOrchestrator(args[0])
	if err != nil {
		return err
	}
	record, err := orchestrator.Status(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(record)
}

func runLogs(cmd *cobra.Command, args []string) error {
	orchestrator, err := recordedOrchestrator(args[0])
	if err != nil {
		return err
	}
	logs, err := orchestrator.Logs(cmd.Context(), args[0], logsTailLines)
	if err != nil {
		return err
	}
	fmt.Println(logs)
	return nil
}

func runDestroy(cmd *cobra.Command, args []string) error {
	orchestrator, err := recordedOrchestrator(args[0])
	if err != nil {
		return err
	}
	if err := orchestrator.Destroy(cmd.Context(), args[0]); err != nil {
		return err
	}
	return printJSON(map[string]string{"result": "destroyed"})
}
