package build

import (
	"context"
	"fmt"
	"io"

	buildtypes "github.com/docker/docker/api/types/build"
	imagetypes "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
)

// DockerBuilder builds and pushes images through the local Docker daemon.
// BuildAndPush blocks until the push has fully completed, so a successful
// return means the tag is live in the registry.
type DockerBuilder struct {
	cli         *client.Client
	platform    string
	encodedAuth string
}

// NewDockerBuilder connects to the ambient Docker daemon. encodedAuth is the
// Docker-encoded registry credential used for the push; it may be empty for
// public registries.
func NewDockerBuilder(platform, encodedAuth string) (*DockerBuilder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerBuilder{cli: cli, platform: platform, encodedAuth: encodedAuth}, nil
}

// Available reports whether the daemon answers a ping.
func (b *DockerBuilder) Available(ctx context.Context) bool {
	_, err := b.cli.Ping(ctx)
	return err == nil
}

// BuildAndPush tars the build context, builds the image for the configured
// platform, and pushes the resulting tag.
func (b *DockerBuilder) BuildAndPush(ctx context.Context, req Request) error {
	buildContext, err := archive.TarWithOptions(req.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to create build context: %w", err)
	}
	defer buildContext.Close()

	resp, err := b.cli.ImageBuild(ctx, buildContext, buildtypes.ImageBuildOptions{
		Tags:       []string{req.ImageRef},
		Dockerfile: req.DockerfilePath,
		Platform:   b.platform,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image: %w", err)
	}
	// The build only completes once the response stream is drained.
	if err := drain(resp.Body); err != nil {
		return fmt.Errorf("build stream error: %w", err)
	}

	pushResp, err := b.cli.ImagePush(ctx, req.ImageRef, imagetypes.PushOptions{
		RegistryAuth: b.encodedAuth,
	})
	if err != nil {
		return fmt.Errorf("failed to push image: %w", err)
	}
	if err := drain(pushResp); err != nil {
		return fmt.Errorf("push stream error: %w", err)
	}

	return nil
}

func drain(r io.ReadCloser) error {
	defer r.Close()
	_, err := io.Copy(io.Discard, r)
	return err
}
