package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comfy-endpoints/comfy-endpoints/internal/config"
	"github.com/comfy-endpoints/comfy-endpoints/internal/envfile"
	"github.com/comfy-endpoints/comfy-endpoints/internal/version"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "comfy-endpoints",
	Short: "Deploy generative pipelines to GPU clouds",
	Long: `comfy-endpoints turns a declarative app spec into a running,
authenticated pipeline endpoint: it derives deterministic golden image
tags, builds only what the registry is missing, reconciles a GPU pod to
the desired state, and resolves the public gateway URL.`,
	Version: version.Version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().String("state-dir", "", "deployment state directory (default: ./.comfy-endpoints)")

	rootCmd.AddCommand(initAppCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "%s" .Version}}
`)
}

func initConfig() {
	// Project env files load first so config env overrides can live there.
	if _, err := envfile.LoadLocal(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if flag := rootCmd.PersistentFlags().Lookup("state-dir"); flag != nil && flag.Changed {
		cfg.State.Dir = flag.Value.String()
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Println(info.String())

		if cmd.Flag("verbose").Changed {
			fmt.Printf("\nDetails:\n")
			fmt.Printf("  Version:    %s\n", info.Version)
			fmt.Printf("  Git Commit: %s\n", info.GitCommit)
			fmt.Printf("  Built:      %s\n", info.BuildTime)
			fmt.Printf("  Go Version: %s\n", info.GoVersion)
			fmt.Printf("  Platform:   %s\n", info.Platform)
		}
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "verbose version output")
}
