package provider

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

func catalogFixture() []models.GPUType {
	return []models.GPUType{
		{ID: "NVIDIA RTX A4000", VRAMGB: 16, RAMPerGPUGB: 32, MaxGPUCount: 4, CommunityPrice: 0.17, SecurePrice: 0.32},
		{ID: "NVIDIA RTX A5000", VRAMGB: 24, RAMPerGPUGB: 48, MaxGPUCount: 4, CommunityPrice: 0.26, SecurePrice: 0.44},
		{ID: "NVIDIA A100 80GB PCIe", VRAMGB: 80, RAMPerGPUGB: 117, MaxGPUCount: 8, CommunityPrice: 1.19, SecurePrice: 1.64},
		{ID: "NVIDIA H100 NVL", VRAMGB: 94, RAMPerGPUGB: 94, MaxGPUCount: 2, CommunityPrice: 0, SecurePrice: 2.79},
	}
}

func TestSelectGPUTypePicksCheapestMatch(t *testing.T) {
	policy := models.ComputePolicy{MinVRAMGB: 24}

	gpu, err := SelectGPUType(catalogFixture(), policy, 1, "COMMUNITY")
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA RTX A5000", gpu.ID)
}

func TestSelectGPUTypeHonorsRAMFloor(t *testing.T) {
	policy := models.ComputePolicy{MinVRAMGB: 24, MinRAMPerGPUGB: 100}

	gpu, err := SelectGPUType(catalogFixture(), policy, 1, "COMMUNITY")
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA A100 80GB PCIe", gpu.ID)
}

func TestSelectGPUTypeFailsClosed(t *testing.T) {
	policy := models.ComputePolicy{MinVRAMGB: 24}
	catalog := []models.GPUType{
		{ID: "NVIDIA RTX A4000", VRAMGB: 16, RAMPerGPUGB: 32, MaxGPUCount: 4, CommunityPrice: 0.17},
	}

	_, err := SelectGPUType(catalog, policy, 1, "COMMUNITY")
	require.Error(t, err)

	var noMatch *NoMatchingGPUTypeError
	require.True(t, errors.As(err, &noMatch))
	assert.Equal(t, 24, noMatch.MinVRAMGB)
	assert.Equal(t, 1, noMatch.CatalogSize)
}

func TestSelectGPUTypeRespectsGPUCountCeiling(t *testing.T) {
	policy := models.ComputePolicy{MinVRAMGB: 80}

	// H100 NVL caps at 2 GPUs on SECURE; asking for 4 leaves only the A100.
	gpu, err := SelectGPUType(catalogFixture(), policy, 4, "SECURE")
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA A100 80GB PCIe", gpu.ID)
}

func TestSelectGPUTypeSkipsUnavailableCloudTier(t *testing.T) {
	// H100 NVL has no community price, so it must not match on COMMUNITY
	// even though it satisfies the VRAM floor.
	policy := models.ComputePolicy{MinVRAMGB: 90}

	_, err := SelectGPUType(catalogFixture(), policy, 1, "COMMUNITY")
	var noMatch *NoMatchingGPUTypeError
	require.True(t, errors.As(err, &noMatch))

	gpu, err := SelectGPUType(catalogFixture(), policy, 1, "SECURE")
	require.NoError(t, err)
	assert.Equal(t, "NVIDIA H100 NVL", gpu.ID)
}

func TestSelectGPUTypeTreatsUnreportedRAMAsUnfit(t *testing.T) {
	policy := models.ComputePolicy{MinRAMPerGPUGB: 16}
	catalog := []models.GPUType{
		{ID: "mystery-gpu", VRAMGB: 48, RAMPerGPUGB: 0, MaxGPUCount: 2, CommunityPrice: 0.5},
	}

	_, err := SelectGPUType(catalog, policy, 1, "COMMUNITY")
	var noMatch *NoMatchingGPUTypeError
	assert.True(t, errors.As(err, &noMatch))
}
