// Package registry answers one question: does an image tag already exist in
// its remote registry? A hit on a content-addressed tag means no rebuild is
// needed, so a wrong answer here causes redundant or conflicting builds.
// Errors are therefore never collapsed into "missing": a definitive
// not-found is false, everything else is a ProbeError.
package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	registrytypes "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
)

// Prober reports whether an image reference exists in its registry.
type Prober interface {
	Exists(ctx context.Context, imageRef string) (bool, error)
}

// ProbeError reports a probe that could not produce a definitive answer:
// network failure, auth failure, or an unexpected registry response.
type ProbeError struct {
	ImageRef string
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("registry probe failed for %s: %v", e.ImageRef, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ManifestInspector is the read-only slice of the Docker client used for
// probing. DistributionInspect issues a manifest HEAD/GET against the remote
// registry without pulling anything.
type ManifestInspector interface {
	DistributionInspect(ctx context.Context, imageRef, encodedRegistryAuth string) (registrytypes.DistributionInspect, error)
}

// DockerProber probes registries through the Docker distribution API.
// Transient failures are retried with exponential backoff up to a configured
// attempt budget; exhausting the budget surfaces a ProbeError.
type DockerProber struct {
	inspector   ManifestInspector
	encodedAuth string

	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Option configures a DockerProber.
type Option func(*DockerProber)

// WithRetry sets the attempt budget and backoff bounds.
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(p *DockerProber) {
		p.attempts = attempts
		p.initialBackoff = initial
		p.maxBackoff = max
	}
}

// WithAuth sets the encoded registry credential sent with each probe.
func WithAuth(encodedAuth string) Option {
	return func(p *DockerProber) {
		p.encodedAuth = encodedAuth
	}
}

// NewDockerProber wraps a manifest inspector (normally a *client.Client).
func NewDockerProber(inspector ManifestInspector, opts ...Option) *DockerProber {
	p := &DockerProber{
		inspector:      inspector,
		attempts:       3,
		initialBackoff: 2 * time.Second,
		maxBackoff:     30 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewDefaultProber builds a prober on the ambient Docker client with
// credentials from the environment.
func NewDefaultProber(opts ...Option) (*DockerProber, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if auth := EncodedAuthFromEnv(); auth != "" {
		opts = append(opts, WithAuth(auth))
	}
	return NewDockerProber(cli, opts...), nil
}

// Exists reports whether imageRef resolves to a manifest in its registry.
// A definitive not-found is (false, nil). Auth failures are permanent and
// surface immediately; other failures are retried within the budget.
func (p *DockerProber) Exists(ctx context.Context, imageRef string) (bool, error) {
	var found bool

	operation := func() error {
		_, err := p.inspector.DistributionInspect(ctx, imageRef, p.encodedAuth)
		if err == nil {
			found = true
			return nil
		}
		if errdefs.IsNotFound(err) {
			found = false
			return nil
		}
		if errdefs.IsUnauthorized(err) || errdefs.IsForbidden(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.initialBackoff
	bo.MaxInterval = p.maxBackoff

	retries := uint64(0)
	if p.attempts > 1 {
		retries = uint64(p.attempts - 1)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx))
	if err != nil {
		return false, &ProbeError{ImageRef: imageRef, Err: err}
	}
	return found, nil
}

// EncodedAuthFromEnv builds the Docker-encoded registry credential from
// GHCR_USERNAME/GHCR_TOKEN, falling back to GITHUB_REPOSITORY owner with
// GITHUB_TOKEN. Returns "" when no credential is configured.
func EncodedAuthFromEnv() string {
	username := strings.TrimSpace(os.Getenv("GHCR_USERNAME"))
	token := strings.TrimSpace(os.Getenv("GHCR_TOKEN"))

	if (username == "" || token == "") && os.Getenv("GITHUB_TOKEN") != "" {
		repository := strings.TrimSpace(os.Getenv("GITHUB_REPOSITORY"))
		if owner, _, ok := strings.Cut(repository, "/"); ok && owner != "" {
			username = owner
			token = strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
		}
	}

	if username == "" || token == "" {
		return ""
	}

	payload, err := json.Marshal(registrytypes.AuthConfig{
		Username: username,
		Password: token,
	})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(payload)
}
