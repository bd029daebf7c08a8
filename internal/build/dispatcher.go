// Package build decides whether a derived image tag needs building and, if
// so, through which backend. The local backend builds and pushes
// synchronously; the github_actions backend only dispatches a workflow and
// returns immediately, after which the caller must poll the registry until
// the tag appears. That asymmetry is deliberate: a remote build's progress
// is only observable through the registry.
package build

import (
	"context"
	"fmt"
	"time"

	"github.com/comfy-endpoints/comfy-endpoints/internal/registry"
)

// Backend selects the build path.
type Backend string

const (
	BackendAuto          Backend = "auto"
	BackendLocal         Backend = "local"
	BackendGitHubActions Backend = "github_actions"
)

// Outcome describes how EnsureBuilt satisfied a request.
type Outcome string

const (
	// OutcomeExists means the tag was already present; nothing was built.
	OutcomeExists Outcome = "exists"

	// OutcomeBuilt means a local build-and-push completed synchronously.
	OutcomeBuilt Outcome = "built"

	// OutcomeDispatched means a remote workflow was triggered; the image is
	// not yet in the registry and the caller must wait for it.
	OutcomeDispatched Outcome = "dispatched"
)

// Request names the image to ensure and its build inputs.
type Request struct {
	ImageRef       string
	DockerfilePath string
	ContextDir     string
}

// Result is the outcome of one EnsureBuilt call.
type Result struct {
	ImageRef string
	Outcome  Outcome
}

// ErrNoBuilderAvailable is returned by backend auto when neither a local
// builder nor a remote dispatcher can serve the request.
var ErrNoBuilderAvailable = fmt.Errorf("no build backend available: docker daemon unreachable and no workflow dispatcher configured")

// BuildTimeoutError reports a dispatched build whose tag never appeared in
// the registry within the wait budget.
type BuildTimeoutError struct {
	ImageRef string
	Waited   time.Duration
}

func (e *BuildTimeoutError) Error() string {
	return fmt.Sprintf("image %s not available in registry after %s", e.ImageRef, e.Waited)
}

// Builder is the synchronous local build-and-push path.
type Builder interface {
	// Available reports whether the builder can be used right now.
	Available(ctx context.Context) bool

	// BuildAndPush builds the image and blocks until the push completes.
	BuildAndPush(ctx context.Context, req Request) error
}

// Dispatcher triggers a remote build without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) error
}

// Manager routes build requests to a backend, probing the registry first so
// an existing tag is never rebuilt.
type Manager struct {
	prober  registry.Prober
	local   Builder
	remote  Dispatcher
	backend Backend

	waitTimeout  time.Duration
	waitInterval time.Duration
}

// NewManager assembles a Manager. Either builder may be nil when that path
// is not configured.
func NewManager(prober registry.Prober, local Builder, remote Dispatcher, backend Backend, waitTimeout, waitInterval time.Duration) *Manager {
	return &Manager{
		prober:       prober,
		local:        local,
		remote:       remote,
		backend:      backend,
		waitTimeout:  waitTimeout,
		waitInterval: waitInterval,
	}
}

// EnsureBuilt guarantees the requested tag exists in the registry or that a
// build producing it is underway. A registry hit short-circuits without any
// build call. OutcomeDispatched results must be followed by WaitForImage.
func (m *Manager) EnsureBuilt(ctx context.Context, req Request) (Result, error) {
	exists, err := m.prober.Exists(ctx, req.ImageRef)
	if err != nil {
		return Result{}, err
	}
	if exists {
		return Result{ImageRef: req.ImageRef, Outcome: OutcomeExists}, nil
	}

	switch m.backend {
	case BackendLocal:
		return m.buildLocal(ctx, req)

	case BackendGitHubActions:
		return m.dispatchRemote(ctx, req)

	case BackendAuto:
		if m.local != nil && m.local.Available(ctx) {
			return m.buildLocal(ctx, req)
		}
		if m.remote != nil {
			return m.dispatchRemote(ctx, req)
		}
		return Result{}, ErrNoBuilderAvailable

	default:
		return Result{}, fmt.Errorf("unknown build backend %q", m.backend)
	}
}

func (m *Manager) buildLocal(ctx context.Context, req Request) (Result, error) {
	if m.local == nil {
		return Result{}, ErrNoBuilderAvailable
	}
	if err := m.local.BuildAndPush(ctx, req); err != nil {
		return Result{}, fmt.Errorf("local build failed for %s: %w", req.ImageRef, err)
	}
	return Result{ImageRef: req.ImageRef, Outcome: OutcomeBuilt}, nil
}

func (m *Manager) dispatchRemote(ctx context.Context, req Request) (Result, error) {
	if m.remote == nil {
		return Result{}, ErrNoBuilderAvailable
	}
	if err := m.remote.Dispatch(ctx, req); err != nil {
		return Result{}, fmt.Errorf("workflow dispatch failed for %s: %w", req.ImageRef, err)
	}
	return Result{ImageRef: req.ImageRef, Outcome: OutcomeDispatched}, nil
}

// WaitForImage polls the registry at a fixed interval until the tag appears
// or the wait budget is exhausted. The loop is a cooperative wait: each
// iteration sleeps then re-checks the deadline, and the caller's context
// cancels it between iterations.
func (m *Manager) WaitForImage(ctx context.Context, imageRef string) error {
	deadline := time.Now().Add(m.waitTimeout)

	for {
		exists, err := m.prober.Exists(ctx, imageRef)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}

		if time.Now().After(deadline) {
			return &BuildTimeoutError{ImageRef: imageRef, Waited: m.waitTimeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.waitInterval):
		}
	}
}
