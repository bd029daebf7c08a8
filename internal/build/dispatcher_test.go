package build

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedProber returns a fixed sequence of exists answers, then keeps
// returning the last one.
type scriptedProber struct {
	answers []bool
	err     error
	calls   int
}

func (p *scriptedProber) Exists(_ context.Context, _ string) (bool, error) {
	idx := p.calls
	p.calls++
	if p.err != nil {
		return false, p.err
	}
	if idx >= len(p.answers) {
		idx = len(p.answers) - 1
	}
	return p.answers[idx], nil
}

type fakeBuilder struct {
	available bool
	calls     int
	err       error
}

func (b *fakeBuilder) Available(_ context.Context) bool { return b.available }

func (b *fakeBuilder) BuildAndPush(_ context.Context, _ Request) error {
	b.calls++
	return b.err
}

type fakeDispatcher struct {
	calls int
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, _ Request) error {
	d.calls++
	return d.err
}

func testRequest() Request {
	return Request{
		ImageRef:       "ghcr.io/acme/golden:0.3.26-v1-abc123def456",
		DockerfilePath: "docker/Dockerfile.golden",
		ContextDir:     ".",
	}
}

func TestEnsureBuiltShortCircuitsOnRegistryHit(t *testing.T) {
	prober := &scriptedProber{answers: []bool{true}}
	builder := &fakeBuilder{available: true}
	mgr := NewManager(prober, builder, nil, BackendLocal, time.Minute, time.Millisecond)

	result, err := mgr.EnsureBuilt(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeExists, result.Outcome)
	assert.Equal(t, 0, builder.calls, "existing tag must not trigger a build")
}

func TestEnsureBuiltLocalBlocksUntilPushed(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	builder := &fakeBuilder{available: true}
	mgr := NewManager(prober, builder, nil, BackendLocal, time.Minute, time.Millisecond)

	result, err := mgr.EnsureBuilt(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, OutcomeBuilt, result.Outcome)
	assert.Equal(t, 1, builder.calls)
}

func TestEnsureBuiltDispatchesExactlyOnceThenPolls(t *testing.T) {
	// Registry misses for the initial probe and N=3 wait polls, then hits.
	prober := &scriptedProber{answers: []bool{false, false, false, false, true}}
	dispatcher := &fakeDispatcher{}
	mgr := NewManager(prober, nil, dispatcher, BackendGitHubActions, time.Minute, time.Millisecond)

	result, err := mgr.EnsureBuilt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, result.Outcome)
	assert.Equal(t, 1, dispatcher.calls)

	require.NoError(t, mgr.WaitForImage(context.Background(), testRequest().ImageRef))
	assert.Equal(t, 1, dispatcher.calls, "wait loop never re-dispatches")
	assert.Equal(t, 5, prober.calls, "one initial probe plus N+1 wait probes")
}

func TestWaitForImageTimesOut(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	mgr := NewManager(prober, nil, &fakeDispatcher{}, BackendGitHubActions, 10*time.Millisecond, 2*time.Millisecond)

	err := mgr.WaitForImage(context.Background(), testRequest().ImageRef)
	require.Error(t, err)

	var timeoutErr *BuildTimeoutError
	assert.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, testRequest().ImageRef, timeoutErr.ImageRef)
}

func TestWaitForImageHonorsCancellation(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	mgr := NewManager(prober, nil, &fakeDispatcher{}, BackendGitHubActions, time.Hour, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := mgr.WaitForImage(ctx, testRequest().ImageRef)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAutoPrefersLocalThenRemote(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	builder := &fakeBuilder{available: true}
	dispatcher := &fakeDispatcher{}
	mgr := NewManager(prober, builder, dispatcher, BackendAuto, time.Minute, time.Millisecond)

	result, err := mgr.EnsureBuilt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeBuilt, result.Outcome)
	assert.Equal(t, 0, dispatcher.calls)

	builder.available = false
	prober.calls = 0
	result, err = mgr.EnsureBuilt(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDispatched, result.Outcome)
	assert.Equal(t, 1, dispatcher.calls)
}

func TestAutoWithNoBackendsFails(t *testing.T) {
	prober := &scriptedProber{answers: []bool{false}}
	builder := &fakeBuilder{available: false}
	mgr := NewManager(prober, builder, nil, BackendAuto, time.Minute, time.Millisecond)

	_, err := mgr.EnsureBuilt(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrNoBuilderAvailable)
}

func TestEnsureBuiltPropagatesProbeError(t *testing.T) {
	prober := &scriptedProber{err: errors.New("registry unreachable")}
	builder := &fakeBuilder{available: true}
	mgr := NewManager(prober, builder, nil, BackendLocal, time.Minute, time.Millisecond)

	_, err := mgr.EnsureBuilt(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, 0, builder.calls, "probe errors must not fall through to a build")
}

func TestGitHubDispatcherPostsWorkflowDispatch(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload dispatchPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	d, err := NewGitHubDispatcher("acme/pipelines", "build_golden_image.yml", "main", "gh-token")
	require.NoError(t, err)
	d.APIURL = server.URL

	require.NoError(t, d.Dispatch(context.Background(), testRequest()))

	assert.Equal(t, "/repos/acme/pipelines/actions/workflows/build_golden_image.yml/dispatches", gotPath)
	assert.Equal(t, "Bearer gh-token", gotAuth)
	assert.Equal(t, "main", gotPayload.Ref)
	assert.Equal(t, testRequest().ImageRef, gotPayload.Inputs["image_ref"])
}

func TestGitHubDispatcherSurfacesHTTPErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	d, err := NewGitHubDispatcher("acme/pipelines", "missing.yml", "main", "gh-token")
	require.NoError(t, err)
	d.APIURL = server.URL

	err = d.Dispatch(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
}
