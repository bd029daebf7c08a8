package imaging

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// Default repositories used when the app spec does not name its own.
const (
	DefaultComfyBaseRepository = "ghcr.io/comfy-endpoints/comfybase"
	DefaultGoldenRepository    = "ghcr.io/comfy-endpoints/golden"

	defaultBaseDockerfile   = "docker/Dockerfile.comfybase"
	defaultGoldenDockerfile = "docker/Dockerfile.golden"

	defaultEngineRepo = "https://github.com/comfyanonymous/ComfyUI.git"
	defaultEngineRef  = "master"
)

// Resolver derives image references for an app spec. ProjectRoot anchors
// relative Dockerfile and workflow paths.
type Resolver struct {
	ProjectRoot string
}

func (r *Resolver) readInput(path string) ([]byte, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.ProjectRoot, path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &InputUnavailableError{Input: path, Err: err}
	}
	return content, nil
}

// EngineSource returns the upstream pipeline-engine repo and ref for a spec.
// The engine is pinned through the plugin list when present; otherwise the
// canonical upstream is assumed.
func EngineSource(spec *models.AppSpec) (repo, ref string) {
	for _, plugin := range spec.Build.Plugins {
		if strings.Contains(strings.ToLower(plugin.Repo), "comfyui") {
			return plugin.Repo, plugin.Ref
		}
	}
	return defaultEngineRepo, defaultEngineRef
}

func baseRepository(spec *models.AppSpec) string {
	if spec.Build.BaseImageRepository != "" {
		return spec.Build.BaseImageRepository
	}
	if spec.Build.ImageRepository != "" {
		return spec.Build.ImageRepository + "-base"
	}
	return DefaultComfyBaseRepository
}

// BaseDockerfile returns the comfybase Dockerfile path for a spec.
func (r *Resolver) BaseDockerfile(spec *models.AppSpec) string {
	if spec.Build.BaseDockerfilePath != "" {
		return spec.Build.BaseDockerfilePath
	}
	return defaultBaseDockerfile
}

// GoldenDockerfile returns the golden Dockerfile path for a spec.
func (r *Resolver) GoldenDockerfile(spec *models.AppSpec) string {
	if spec.Build.DockerfilePath != "" {
		return spec.Build.DockerfilePath
	}
	return defaultGoldenDockerfile
}

// BaseBuildContext returns the comfybase build context directory.
func (r *Resolver) BaseBuildContext(spec *models.AppSpec) string {
	if spec.Build.BaseBuildContext != "" {
		return spec.Build.BaseBuildContext
	}
	return r.ProjectRoot
}

// GoldenBuildContext returns the golden build context directory.
func (r *Resolver) GoldenBuildContext(spec *models.AppSpec) string {
	if spec.Build.BuildContext != "" {
		return spec.Build.BuildContext
	}
	return r.ProjectRoot
}

// ResolveComfyBase computes the comfybase image reference for a spec:
// <repo>:<comfy_version>-base-<fingerprint>.
func (r *Resolver) ResolveComfyBase(spec *models.AppSpec) (string, error) {
	dockerfile, err := r.readInput(r.BaseDockerfile(spec))
	if err != nil {
		return "", err
	}

	engineRepo, engineRef := EngineSource(spec)
	fp := ComfyBaseFingerprint(spec.Build.ComfyVersion, engineRepo, engineRef, dockerfile)
	return baseRepository(spec) + ":" + spec.Build.ComfyVersion + "-base-" + fp, nil
}

// ResolveGolden computes the golden image reference for a spec:
// <repo>:<comfy_version>-<app_version>-<fingerprint>. The golden fingerprint
// depends on the already-resolved comfybase reference. When the spec pins an
// explicit image_ref, that reference is returned untouched.
func (r *Resolver) ResolveGolden(spec *models.AppSpec, comfyBaseRef string) (string, error) {
	if spec.Build.ImageRef != "" {
		return spec.Build.ImageRef, nil
	}

	dockerfile, err := r.readInput(r.GoldenDockerfile(spec))
	if err != nil {
		return "", err
	}

	workflow, err := r.readInput(spec.WorkflowPath)
	if err != nil {
		return "", err
	}

	repository := spec.Build.ImageRepository
	if repository == "" {
		repository = DefaultGoldenRepository
	}

	fp := GoldenFingerprint(AppSourceDigest(spec, workflow), dockerfile, comfyBaseRef)
	return repository + ":" + spec.Build.ComfyVersion + "-" + spec.Version + "-" + fp, nil
}
