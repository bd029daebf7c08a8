// Package reconcile drives a remote compute pod toward a desired state.
// One reconciliation is a linear walk through a small state machine; every
// transition performs exactly one remote read or mutation, and the polling
// tail is a cooperative sleep-and-recheck loop bounded by a configured
// attempt budget. The pod is a shared remote resource: the reconciler
// converges it, it never assumes exclusive ownership.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"maps"
	"slices"
	"time"

	"github.com/comfy-endpoints/comfy-endpoints/internal/provider"
	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// State names one reconciliation phase.
type State string

const (
	StateAbsent      State = "absent"
	StateCreating    State = "creating"
	StateVolumeCheck State = "volume_check"
	StateImagePatch  State = "image_patch"
	StateResuming    State = "resuming"
	StateReady       State = "ready"
	StateError       State = "error"
)

// PodNotReadyTimeoutError reports a pod that never reached running status
// within the polling budget.
type PodNotReadyTimeoutError struct {
	PodID      string
	Attempts   int
	Interval   time.Duration
	LastStatus models.PodStatus
	LastDetail string
}

func (e *PodNotReadyTimeoutError) Error() string {
	return fmt.Sprintf(
		"pod %s not ready after %d polls at %s intervals (last status %s: %s)",
		e.PodID, e.Attempts, e.Interval, e.LastStatus, e.LastDetail,
	)
}

// Result is the outcome of one reconciliation.
type Result struct {
	// Pod is the terminal observed state.
	Pod models.PodObservedState

	// Created reports whether this reconciliation provisioned a new pod.
	Created bool

	// Transitions lists every state entered, starting at absent.
	Transitions []State
}

// Reconciler converges pods for one provider.
type Reconciler struct {
	provider provider.Provider

	pollInterval    time.Duration
	maxPollAttempts int
	cloudType       string
}

// New builds a Reconciler. pollInterval and maxPollAttempts bound the
// resuming-to-ready wait; cloudType scopes GPU selection to one tier.
func New(p provider.Provider, pollInterval time.Duration, maxPollAttempts int, cloudType string) *Reconciler {
	return &Reconciler{
		provider:        p,
		pollInterval:    pollInterval,
		maxPollAttempts: maxPollAttempts,
		cloudType:       cloudType,
	}
}

// Reconcile drives the pod identified by podID toward desired. An empty
// podID means no pod exists yet and one is created, after the compute
// policy check passes. The returned Result carries the terminal observed
// state; any error leaves the pod in its last valid intermediate state for
// operator inspection.
func (r *Reconciler) Reconcile(ctx context.Context, podID string, desired models.PodDesiredState, policy *models.ComputePolicy) (Result, error) {
	result := Result{Transitions: []State{StateAbsent}}

	enter := func(s State) {
		result.Transitions = append(result.Transitions, s)
		log.Printf("reconcile: pod %q entering %s", podID, s)
	}

	fail := func(err error) (Result, error) {
		result.Transitions = append(result.Transitions, StateError)
		return result, err
	}

	// The compute policy gates creation. It fails closed: no catalog match
	// means no create call at all.
	if podID == "" && policy != nil && desired.GPUTypeID == "" {
		catalog, err := r.provider.ListGPUTypes(ctx)
		if err != nil {
			return fail(fmt.Errorf("failed to list GPU types: %w", err))
		}
		gpu, err := provider.SelectGPUType(catalog, *policy, desired.GPUCount, r.cloudType)
		if err != nil {
			return fail(err)
		}
		desired.GPUTypeID = gpu.ID
		log.Printf("reconcile: compute policy selected GPU type %q", gpu.ID)
	}

	enter(StateCreating)
	if podID == "" {
		created, err := r.provider.CreatePod(ctx, desired)
		if err != nil {
			return fail(err)
		}
		podID = created
		result.Created = true
	}

	// An existing pod may already match the desired state. Observing it
	// before patching lets the resume call and the readiness poll be
	// skipped when nothing will change.
	observed, err := r.provider.GetPod(ctx, podID)
	if err != nil {
		return fail(err)
	}
	alreadyCorrect := !result.Created && matchesDesired(observed, desired)

	enter(StateVolumeCheck)
	if err := r.provider.EnsureVolume(ctx, podID, desired.VolumeSizeGB, desired.VolumeMountPath); err != nil {
		return fail(fmt.Errorf("volume check for pod %s failed: %w", podID, err))
	}

	enter(StateImagePatch)
	if err := r.provider.PatchPod(ctx, podID, desired); err != nil {
		return fail(fmt.Errorf("image patch for pod %s failed: %w", podID, err))
	}

	if alreadyCorrect {
		enter(StateReady)
		result.Pod = observed
		return result, nil
	}

	enter(StateResuming)
	if err := r.provider.ResumePod(ctx, podID); err != nil {
		return fail(fmt.Errorf("resume for pod %s failed: %w", podID, err))
	}

	ready, err := r.awaitReady(ctx, podID)
	if err != nil {
		result.Pod = ready
		return fail(err)
	}

	enter(StateReady)
	result.Pod = ready
	return result, nil
}

// matchesDesired reports whether the observed pod already carries the
// desired image, env, ports, and a sufficient volume, and is running.
func matchesDesired(observed models.PodObservedState, desired models.PodDesiredState) bool {
	return observed.Status == models.PodStatusRunning &&
		observed.ImageRef == desired.ImageRef &&
		observed.VolumeSizeGB >= desired.VolumeSizeGB &&
		slices.Equal(observed.Ports, desired.Ports) &&
		maps.Equal(observed.Env, desired.Env)
}

// awaitReady polls pod status until it reports running, a terminal failure
// status appears, or the attempt budget runs out. Each iteration sleeps the
// configured interval and honors caller cancellation.
func (r *Reconciler) awaitReady(ctx context.Context, podID string) (models.PodObservedState, error) {
	var last models.PodObservedState

	for attempt := 1; attempt <= r.maxPollAttempts; attempt++ {
		observed, err := r.provider.GetPod(ctx, podID)
		if err != nil {
			return last, err
		}
		last = observed

		switch observed.Status {
		case models.PodStatusRunning:
			return observed, nil
		case models.PodStatusTerminated, models.PodStatusError:
			return observed, fmt.Errorf(
				"pod %s entered terminal status %s: %s",
				podID, observed.Status, observed.StatusDetail,
			)
		}

		if attempt == r.maxPollAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}

	return last, &PodNotReadyTimeoutError{
		PodID:      podID,
		Attempts:   r.maxPollAttempts,
		Interval:   r.pollInterval,
		LastStatus: last.Status,
		LastDetail: last.StatusDetail,
	}
}
