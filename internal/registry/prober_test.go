package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	registrytypes "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInspector replays a scripted sequence of errors, one per call.
type fakeInspector struct {
	responses []error
	calls     int
}

func (f *fakeInspector) DistributionInspect(_ context.Context, _, _ string) (registrytypes.DistributionInspect, error) {
	var err error
	if f.calls < len(f.responses) {
		err = f.responses[f.calls]
	}
	f.calls++
	return registrytypes.DistributionInspect{}, err
}

func fastRetry() Option {
	return WithRetry(3, time.Millisecond, 2*time.Millisecond)
}

func TestExistsHit(t *testing.T) {
	inspector := &fakeInspector{responses: []error{nil}}
	prober := NewDockerProber(inspector, fastRetry())

	found, err := prober.Exists(context.Background(), "ghcr.io/acme/golden:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, inspector.calls)
}

func TestExistsDefinitiveMiss(t *testing.T) {
	inspector := &fakeInspector{responses: []error{errdefs.NotFound(errors.New("manifest unknown"))}}
	prober := NewDockerProber(inspector, fastRetry())

	found, err := prober.Exists(context.Background(), "ghcr.io/acme/golden:abc")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 1, inspector.calls, "not-found is definitive, no retry")
}

func TestExistsRetriesTransientThenSucceeds(t *testing.T) {
	inspector := &fakeInspector{responses: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		nil,
	}}
	prober := NewDockerProber(inspector, fastRetry())

	found, err := prober.Exists(context.Background(), "ghcr.io/acme/golden:abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 3, inspector.calls)
}

func TestExistsExhaustedRetriesSurfacesProbeError(t *testing.T) {
	inspector := &fakeInspector{responses: []error{
		errors.New("connection reset"),
		errors.New("connection reset"),
		errors.New("connection reset"),
	}}
	prober := NewDockerProber(inspector, fastRetry())

	_, err := prober.Exists(context.Background(), "ghcr.io/acme/golden:abc")
	require.Error(t, err)

	var probeErr *ProbeError
	assert.True(t, errors.As(err, &probeErr))
	assert.Equal(t, "ghcr.io/acme/golden:abc", probeErr.ImageRef)
	assert.Equal(t, 3, inspector.calls)
}

func TestExistsAuthFailureIsNotMissing(t *testing.T) {
	inspector := &fakeInspector{responses: []error{errdefs.Unauthorized(errors.New("bad credentials"))}}
	prober := NewDockerProber(inspector, fastRetry())

	_, err := prober.Exists(context.Background(), "ghcr.io/acme/golden:abc")
	require.Error(t, err)

	var probeErr *ProbeError
	assert.True(t, errors.As(err, &probeErr))
	assert.Equal(t, 1, inspector.calls, "auth failures are permanent")
}

func TestEncodedAuthFromEnv(t *testing.T) {
	t.Setenv("GHCR_USERNAME", "octo")
	t.Setenv("GHCR_TOKEN", "s3cret")
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GITHUB_REPOSITORY", "")

	assert.NotEmpty(t, EncodedAuthFromEnv())

	t.Setenv("GHCR_USERNAME", "")
	t.Setenv("GHCR_TOKEN", "")
	assert.Empty(t, EncodedAuthFromEnv())

	t.Setenv("GITHUB_TOKEN", "gh-token")
	t.Setenv("GITHUB_REPOSITORY", "acme/pipelines")
	assert.NotEmpty(t, EncodedAuthFromEnv())
}
