package models

// GPUType is one entry of a provider GPU catalog snapshot.
type GPUType struct {
	// ID is the provider GPU type identifier, e.g. "NVIDIA A10G".
	ID string `json:"id"`

	// DisplayName is the human-readable GPU name.
	DisplayName string `json:"display_name"`

	// VRAMGB is the GPU memory per device, in gigabytes.
	VRAMGB int `json:"vram_gb"`

	// RAMPerGPUGB is the system memory allotted per GPU, in gigabytes.
	RAMPerGPUGB int `json:"ram_per_gpu_gb"`

	// MaxGPUCount is the largest pod this GPU type can be provisioned with.
	MaxGPUCount int `json:"max_gpu_count"`

	// SecurePrice and CommunityPrice are hourly on-demand prices in USD;
	// 0 means the cloud type is unavailable for this GPU.
	SecurePrice    float64 `json:"secure_price"`
	CommunityPrice float64 `json:"community_price"`
}
