package commands

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/comfy-endpoints/comfy-endpoints/internal/appspec"
	"github.com/comfy-endpoints/comfy-endpoints/internal/cache"
)

var cacheRoot string

var cacheCmd = &cobra.Command{
	Use:   "cache [app-spec]",
	Short: "Reconcile the model cache for an app's watch paths",
	Long: `Cache scans the spec's cache_policy watch paths, moves files at or
above the size threshold into the content-addressed cache, and replaces
them with symlinks. Run it inside the pod against the mounted cache
volume.

Examples:
  comfy-endpoints cache app.yaml --cache-root /cache`,
	Args: cobra.ExactArgs(1),
	RunE: runCache,
}

func init() {
	cacheCmd.Flags().StringVar(&cacheRoot, "cache-root", "/cache", "cache volume root")
}

func runCache(cmd *cobra.Command, args []string) error {
	specPath, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	spec, err := appspec.Load(specPath)
	if err != nil {
		return err
	}

	minSize := spec.CachePolicy.MinFileSizeMB
	if minSize <= 0 {
		minSize = 100
	}
	manager, err := cache.NewManager(cacheRoot, spec.CachePolicy.WatchPaths, minSize)
	if err != nil {
		return err
	}

	manifest, err := manager.Reconcile()
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"cached_files": len(manifest),
		"cache_root":   cacheRoot,
	})
}
