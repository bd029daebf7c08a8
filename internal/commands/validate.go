package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/comfy-endpoints/comfy-endpoints/internal/appspec"
)

var validateCmd = &cobra.Command{
	Use:   "validate [app-spec]",
	Short: "Validate an app spec and its workflow contract",
	Long: `Validate checks the app spec structurally, confirms the workflow
file exists, and parses the contract export next to it. It performs no
remote calls.

Examples:
  comfy-endpoints validate apps/portrait-upscaler/app.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	specPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}

	spec, contract, err := appspec.LoadDeployable(specPath)
	if err != nil {
		return err
	}

	return printJSON(map[string]string{
		"app_id":      spec.AppID,
		"contract_id": contract.ContractID,
		"result":      "ok",
	})
}
