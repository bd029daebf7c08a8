package provider

import (
	"errors"
	"fmt"
)

// AuthError is a non-retryable credential failure. It aborts the deploy
// immediately; retrying with the same key cannot succeed.
type AuthError struct {
	Provider string
	Detail   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Detail)
}

// QuotaError is a non-retryable account limit failure.
type QuotaError struct {
	Provider string
	Detail   string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s quota exceeded: %s", e.Provider, e.Detail)
}

// TransientError marks a provider call that failed for a reason expected to
// clear on its own, such as a network error or a 5xx response. The owning
// component retries these with bounded backoff; everything else propagates
// unchanged.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NoMatchingGPUTypeError reports that no GPU type in the provider catalog
// satisfies the app's compute policy. The deploy fails closed: there is no
// fallback to a weaker GPU class.
type NoMatchingGPUTypeError struct {
	MinVRAMGB      int
	MinRAMPerGPUGB int
	GPUCount       int
	CatalogSize    int
}

func (e *NoMatchingGPUTypeError) Error() string {
	return fmt.Sprintf(
		"no GPU type among %d catalog entries satisfies min_vram_gb=%d min_ram_per_gpu_gb=%d gpu_count=%d",
		e.CatalogSize, e.MinVRAMGB, e.MinRAMPerGPUGB, e.GPUCount,
	)
}

// IsRetryable reports whether err may be retried. Only transient errors
// qualify; auth and quota failures are always fatal.
func IsRetryable(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
