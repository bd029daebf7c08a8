package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/docker/go-connections/nat"
	"golang.org/x/time/rate"

	"github.com/comfy-endpoints/comfy-endpoints/internal/config"
	"github.com/comfy-endpoints/comfy-endpoints/models"
)

const runpodName = "runpod"

// restRetryAttempts bounds local retries of transient REST failures.
const restRetryAttempts = 3

// RunPod adapts the RunPod cloud. Pod lifecycle operations go through the
// REST API; the GPU catalog comes from the GraphQL API. All calls share one
// rate limiter so bursts of reconciler polling stay under the provider's
// request budget.
type RunPod struct {
	apiURL     string
	restAPIURL string
	apiKey     string
	cloudType  string
	dataCenter string

	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRunPod builds a RunPod adapter from config, resolving the API key
// through the credential chain.
func NewRunPod(cfg config.ProviderConfig, store CredentialStore) (*RunPod, error) {
	apiKey, err := ResolveAPIKey(runpodName, cfg.APIKeyEnv, store)
	if err != nil {
		return nil, err
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &RunPod{
		apiURL:     cfg.APIURL,
		restAPIURL: strings.TrimRight(cfg.RESTAPIURL, "/"),
		apiKey:     apiKey,
		cloudType:  cfg.CloudType,
		dataCenter: cfg.DataCenterID,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (r *RunPod) Name() string { return runpodName }

// runpodPod is the REST pod record, reduced to the fields the reconciler
// reads. RunPod reports a desiredStatus plus a free-form lastStatusChange
// message; the message is the only place warmup progress shows up.
type runpodPod struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	DesiredStatus    string            `json:"desiredStatus"`
	LastStatusChange string            `json:"lastStatusChange"`
	ImageName        string            `json:"imageName"`
	Env              map[string]string `json:"env"`
	Ports            []string          `json:"ports"`
	VolumeInGb       int               `json:"volumeInGb"`
}

type createPodPayload struct {
	Name                    string            `json:"name"`
	ImageName               string            `json:"imageName"`
	GPUTypeIDs              []string          `json:"gpuTypeIds,omitempty"`
	GPUCount                int               `json:"gpuCount"`
	CloudType               string            `json:"cloudType"`
	Interruptible           bool              `json:"interruptible"`
	ContainerDiskInGb       int               `json:"containerDiskInGb"`
	VolumeInGb              int               `json:"volumeInGb"`
	VolumeMountPath         string            `json:"volumeMountPath"`
	Ports                   []string          `json:"ports"`
	Env                     map[string]string `json:"env"`
	DataCenterIDs           []string          `json:"dataCenterIds,omitempty"`
	SupportPublicIP         bool              `json:"supportPublicIp"`
	ContainerRegistryAuthID string            `json:"containerRegistryAuthId,omitempty"`
}

// deployProfile is one cloud tier to attempt pod creation on.
type deployProfile struct {
	cloudType     string
	interruptible bool
}

// deployProfiles lists creation attempts cheapest first. A configured cloud
// type restricts attempts to that tier.
func (r *RunPod) deployProfiles() []deployProfile {
	if r.cloudType != "" {
		return []deployProfile{
			{cloudType: r.cloudType, interruptible: true},
			{cloudType: r.cloudType, interruptible: false},
		}
	}
	return []deployProfile{
		{cloudType: "COMMUNITY", interruptible: true},
		{cloudType: "COMMUNITY", interruptible: false},
		{cloudType: "SECURE", interruptible: true},
		{cloudType: "SECURE", interruptible: false},
	}
}

func (r *RunPod) CreatePod(ctx context.Context, desired models.PodDesiredState) (string, error) {
	dataCenter := desired.DataCenterID
	if dataCenter == "" {
		dataCenter = r.dataCenter
	}

	payload := createPodPayload{
		Name:                    desired.Name,
		ImageName:               desired.ImageRef,
		GPUCount:                desired.GPUCount,
		ContainerDiskInGb:       desired.ContainerDiskGB,
		VolumeInGb:              desired.VolumeSizeGB,
		VolumeMountPath:         desired.VolumeMountPath,
		Ports:                   desired.Ports,
		Env:                     desired.Env,
		SupportPublicIP:         true,
		ContainerRegistryAuthID: desired.ContainerRegistryAuthID,
	}
	if desired.GPUTypeID != "" {
		payload.GPUTypeIDs = []string{desired.GPUTypeID}
	}
	if dataCenter != "" {
		payload.DataCenterIDs = []string{dataCenter}
	}

	var lastErr error
	for _, profile := range r.deployProfiles() {
		payload.CloudType = profile.cloudType
		payload.Interruptible = profile.interruptible

		var created runpodPod
		if err := r.rest(ctx, http.MethodPost, "/pods", payload, &created); err != nil {
			if !IsRetryable(err) && !isCapacityError(err) {
				return "", err
			}
			lastErr = err
			continue
		}
		if created.ID == "" {
			lastErr = fmt.Errorf("create pod response missing id")
			continue
		}
		return created.ID, nil
	}

	return "", fmt.Errorf("failed to create pod across cloud profiles: %w", lastErr)
}

// isCapacityError matches provider rejections for unavailable capacity,
// which are worth retrying on the next cloud profile.
func isCapacityError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no instances") ||
		strings.Contains(msg, "no longer any instances") ||
		strings.Contains(msg, "not available") ||
		strings.Contains(msg, "capacity")
}

func (r *RunPod) GetPod(ctx context.Context, podID string) (models.PodObservedState, error) {
	var pod runpodPod
	if err := r.rest(ctx, http.MethodGet, "/pods/"+podID, nil, &pod); err != nil {
		return models.PodObservedState{}, err
	}
	return observe(pod, podID), nil
}

// observe normalizes a RunPod record. RunPod can report RUNNING while the
// container is still being created or the image is still pulling; the
// warmup markers in lastStatusChange distinguish that from an actually
// running pod.
func observe(pod runpodPod, fallbackID string) models.PodObservedState {
	id := pod.ID
	if id == "" {
		id = fallbackID
	}

	status := models.PodStatusUnknown
	detail := strings.TrimSpace(pod.LastStatusChange)
	switch strings.ToUpper(pod.DesiredStatus) {
	case "RUNNING":
		if isWarmingUp(detail) {
			status = models.PodStatusResuming
		} else {
			status = models.PodStatusRunning
		}
	case "EXITED", "STOPPED":
		status = models.PodStatusExited
	case "TERMINATED":
		status = models.PodStatusTerminated
	case "CREATED", "":
		status = models.PodStatusCreating
	}

	return models.PodObservedState{
		ID:           id,
		Status:       status,
		StatusDetail: detail,
		ImageRef:     pod.ImageName,
		Env:          pod.Env,
		Ports:        pod.Ports,
		VolumeSizeGB: pod.VolumeInGb,
		Host:         id,
	}
}

var warmupMarkers = []string{
	"create container",
	"still fetching image",
	"pulling image",
	"downloading",
}

func isWarmingUp(statusChange string) bool {
	lowered := strings.ToLower(statusChange)
	for _, marker := range warmupMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

func (r *RunPod) EnsureVolume(ctx context.Context, podID string, sizeGB int, mountPath string) error {
	var pod runpodPod
	if err := r.rest(ctx, http.MethodGet, "/pods/"+podID, nil, &pod); err != nil {
		return err
	}
	if pod.VolumeInGb >= sizeGB {
		return nil
	}

	patch := map[string]any{
		"volumeInGb":      sizeGB,
		"volumeMountPath": mountPath,
	}
	return r.rest(ctx, http.MethodPatch, "/pods/"+podID, patch, nil)
}

func (r *RunPod) PatchPod(ctx context.Context, podID string, desired models.PodDesiredState) error {
	patch := map[string]any{
		"imageName":         desired.ImageRef,
		"env":               desired.Env,
		"ports":             desired.Ports,
		"volumeMountPath":   desired.VolumeMountPath,
		"containerDiskInGb": desired.ContainerDiskGB,
	}
	if desired.ContainerRegistryAuthID != "" {
		patch["containerRegistryAuthId"] = desired.ContainerRegistryAuthID
	}
	return r.rest(ctx, http.MethodPatch, "/pods/"+podID, patch, nil)
}

func (r *RunPod) ResumePod(ctx context.Context, podID string) error {
	err := r.rest(ctx, http.MethodPost, "/pods/"+podID+"/start", nil, nil)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "not in exited state") {
		// Already running.
		return nil
	}
	return err
}

func (r *RunPod) Destroy(ctx context.Context, podID string) error {
	// Best effort stop first so billing ends even if the delete fails.
	_ = r.rest(ctx, http.MethodPost, "/pods/"+podID+"/stop", nil, nil)
	return r.rest(ctx, http.MethodDelete, "/pods/"+podID, nil, nil)
}

func (r *RunPod) Logs(ctx context.Context, podID string, tailLines int) (string, error) {
	if tailLines <= 0 {
		tailLines = 200
	}

	for _, path := range []string{
		fmt.Sprintf("/pods/%s/logs?tail=%d", podID, tailLines),
		fmt.Sprintf("/pods/%s/events?limit=%d", podID, tailLines),
		"/pods/" + podID,
	} {
		var payload json.RawMessage
		if err := r.rest(ctx, http.MethodGet, path, nil, &payload); err != nil {
			if IsRetryable(err) {
				return "", err
			}
			// Endpoint not supported for this pod; fall through.
			continue
		}
		if logs := normalizeLogs(payload, tailLines); logs != "" {
			return logs, nil
		}
	}
	return "", nil
}

// ResolveEndpoint builds the public proxy URL for a pod. RunPod proxies
// each exposed HTTP port at <podID>-<port>.proxy.runpod.net. Returns nil
// while the provider has not assigned a host identifier.
func (r *RunPod) ResolveEndpoint(pod models.PodObservedState) *models.Endpoint {
	return ProxyEndpoint(pod, "")
}

// ProxyEndpoint resolves the RunPod proxy URL, preferring preferredPort when
// the pod exposes it, then the gateway default 3000, then the first exposed
// HTTP port.
func ProxyEndpoint(pod models.PodObservedState, preferredPort string) *models.Endpoint {
	if pod.Host == "" {
		return nil
	}
	if preferredPort == "" {
		preferredPort = "3000"
	}

	var httpPorts []string
	for _, spec := range pod.Ports {
		proto, port := nat.SplitProtoPort(spec)
		if proto == "http" {
			httpPorts = append(httpPorts, port)
		}
	}

	selected := preferredPort
	if len(httpPorts) > 0 {
		selected = httpPorts[0]
		for _, candidate := range []string{preferredPort, "3000"} {
			for _, port := range httpPorts {
				if port == candidate {
					selected = candidate
				}
			}
			if selected == candidate {
				break
			}
		}
	}

	return &models.Endpoint{
		URL:  fmt.Sprintf("https://%s-%s.proxy.runpod.net", pod.Host, selected),
		Port: selected,
	}
}

// DataCenterForRegion maps a coarse region hint from an app spec onto a
// concrete RunPod data center. Unknown hints fall back to the default.
func DataCenterForRegion(regionHint, fallback string) string {
	switch strings.ToUpper(strings.TrimSpace(regionHint)) {
	case "US", "USA", "NA":
		return "US-KS-2"
	case "EU", "EUR":
		return "EU-RO-1"
	case "APAC", "ASIA":
		return "AP-JP-1"
	default:
		return fallback
	}
}

// gpuTypesQuery pulls VRAM, per-GPU system memory, and both cloud tier
// prices in one round trip.
const gpuTypesQuery = `query GpuTypes {
  gpuTypes {
    id
    displayName
    memoryInGb
    maxGpuCount
    securePrice
    communityPrice
    lowestPrice(input: {gpuCount: 1}) {
      minMemory
    }
  }
}`

type gpuTypesResponse struct {
	Data struct {
		GPUTypes []struct {
			ID             string  `json:"id"`
			DisplayName    string  `json:"displayName"`
			MemoryInGb     int     `json:"memoryInGb"`
			MaxGPUCount    int     `json:"maxGpuCount"`
			SecurePrice    float64 `json:"securePrice"`
			CommunityPrice float64 `json:"communityPrice"`
			LowestPrice    *struct {
				MinMemory int `json:"minMemory"`
			} `json:"lowestPrice"`
		} `json:"gpuTypes"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (r *RunPod) ListGPUTypes(ctx context.Context) ([]models.GPUType, error) {
	body, err := json.Marshal(map[string]string{"query": gpuTypesQuery})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GPU catalog query: %w", err)
	}

	var resp gpuTypesResponse
	if err := r.do(ctx, http.MethodPost, r.apiURL, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GPU catalog query failed: %s", resp.Errors[0].Message)
	}

	catalog := make([]models.GPUType, 0, len(resp.Data.GPUTypes))
	for _, gpu := range resp.Data.GPUTypes {
		entry := models.GPUType{
			ID:             gpu.ID,
			DisplayName:    gpu.DisplayName,
			VRAMGB:         gpu.MemoryInGb,
			MaxGPUCount:    gpu.MaxGPUCount,
			SecurePrice:    gpu.SecurePrice,
			CommunityPrice: gpu.CommunityPrice,
		}
		if gpu.LowestPrice != nil {
			entry.RAMPerGPUGB = gpu.LowestPrice.MinMemory
		}
		catalog = append(catalog, entry)
	}
	return catalog, nil
}

// rest issues one REST call with transient retry. Auth, quota, and client
// errors surface on the first attempt.
func (r *RunPod) rest(ctx context.Context, method, path string, body any, out any) error {
	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s %s body: %w", method, path, err)
		}
	}

	operation := func() error {
		err := r.do(ctx, method, r.restAPIURL+path, encoded, out)
		if err != nil && !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), restRetryAttempts-1),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

func (r *RunPod) do(ctx context.Context, method, rawURL string, body []byte, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return &TransientError{Provider: runpodName, Err: err}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Provider: runpodName, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &TransientError{Provider: runpodName, Err: err}
	}

	if resp.StatusCode >= 400 {
		return classifyHTTP(resp.StatusCode, string(raw))
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", rawURL, err)
	}
	return nil
}

// classifyHTTP maps an HTTP failure onto the error taxonomy. 401/403 are
// credential problems, 402 and quota-flavored messages are account limits,
// 5xx and 429 clear on their own, the rest are caller mistakes.
func classifyHTTP(status int, detail string) error {
	detail = strings.TrimSpace(detail)
	lowered := strings.ToLower(detail)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Provider: runpodName, Detail: fmt.Sprintf("HTTP %d: %s", status, detail)}
	case status == http.StatusPaymentRequired || strings.Contains(lowered, "quota") || strings.Contains(lowered, "insufficient funds"):
		return &QuotaError{Provider: runpodName, Detail: fmt.Sprintf("HTTP %d: %s", status, detail)}
	case status == http.StatusTooManyRequests || status >= 500:
		return &TransientError{Provider: runpodName, Err: fmt.Errorf("HTTP %d: %s", status, detail)}
	default:
		return fmt.Errorf("runpod HTTP %d: %s", status, detail)
	}
}

// normalizeLogs flattens a provider log payload into deduplicated lines.
// The logs endpoint answers with either a raw string, a list of entries, or
// an object wrapping either; the shapes vary by pod age so every one is
// handled.
func normalizeLogs(payload json.RawMessage, tailLines int) string {
	var lines []string
	collectLogLines(payload, &lines)
	if len(lines) == 0 {
		return ""
	}

	seen := make(map[string]struct{}, len(lines))
	deduped := lines[:0]
	for _, line := range lines {
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		deduped = append(deduped, line)
	}
	if len(deduped) > tailLines {
		deduped = deduped[len(deduped)-tailLines:]
	}
	return strings.Join(deduped, "\n")
}

func collectLogLines(raw json.RawMessage, lines *[]string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return
	}

	switch trimmed[0] {
	case '"':
		var text string
		if json.Unmarshal(trimmed, &text) == nil {
			for _, entry := range strings.Split(text, "\n") {
				if value := strings.TrimSpace(entry); value != "" {
					*lines = append(*lines, value)
				}
			}
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(trimmed, &items) == nil {
			for _, item := range items {
				collectLogLines(item, lines)
			}
		}
	case '{':
		var object map[string]json.RawMessage
		if json.Unmarshal(trimmed, &object) != nil {
			return
		}
		for _, key := range []string{
			"message", "log", "line", "text", "detail", "error", "status", "lastStatusChange",
			"logs", "events", "data", "items",
		} {
			if value, ok := object[key]; ok {
				collectLogLines(value, lines)
			}
		}
	}
}
