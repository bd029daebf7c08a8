package provider

import (
	"sort"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// SelectGPUType picks the cheapest catalog entry satisfying the compute
// policy for the given GPU count and cloud tier. It is a pure function over
// a catalog snapshot so policy decisions can be tested without a live
// provider.
//
// The check fails closed: an empty result is a NoMatchingGPUTypeError, never
// a silent fallback to a weaker GPU class. Catalog entries with unreported
// VRAM or RAM (zero values) are treated as not satisfying a positive policy
// minimum.
func SelectGPUType(catalog []models.GPUType, policy models.ComputePolicy, gpuCount int, cloudType string) (models.GPUType, error) {
	if gpuCount < 1 {
		gpuCount = 1
	}

	var matches []models.GPUType
	for _, gpu := range catalog {
		if policy.MinVRAMGB > 0 && gpu.VRAMGB < policy.MinVRAMGB {
			continue
		}
		if policy.MinRAMPerGPUGB > 0 && gpu.RAMPerGPUGB < policy.MinRAMPerGPUGB {
			continue
		}
		if gpu.MaxGPUCount > 0 && gpu.MaxGPUCount < gpuCount {
			continue
		}
		if priceFor(gpu, cloudType) <= 0 {
			continue
		}
		matches = append(matches, gpu)
	}

	if len(matches) == 0 {
		return models.GPUType{}, &NoMatchingGPUTypeError{
			MinVRAMGB:      policy.MinVRAMGB,
			MinRAMPerGPUGB: policy.MinRAMPerGPUGB,
			GPUCount:       gpuCount,
			CatalogSize:    len(catalog),
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return priceFor(matches[i], cloudType) < priceFor(matches[j], cloudType)
	})
	return matches[0], nil
}

func priceFor(gpu models.GPUType, cloudType string) float64 {
	if cloudType == "SECURE" {
		return gpu.SecurePrice
	}
	return gpu.CommunityPrice
}
