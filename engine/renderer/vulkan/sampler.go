package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/renderer/device"
)

// samplerCache deduplicates samplers by their state key. Samplers are tiny
// and immutable; the cache lives for the backend's lifetime.
type samplerCache struct {
	ctx      *Context
	samplers map[device.Sampling]vk.Sampler
}

func newSamplerCache(ctx *Context) *samplerCache {
	return &samplerCache{ctx: ctx, samplers: make(map[device.Sampling]vk.Sampler)}
}

func (c *samplerCache) get(sampling device.Sampling) (vk.Sampler, error) {
	if sampler, ok := c.samplers[sampling]; ok {
		return sampler, nil
	}

	filter := vk.FilterLinear
	if sampling.Filter == device.FilterNearest {
		filter = vk.FilterNearest
	}
	address := vk.SamplerAddressModeRepeat
	switch sampling.Address {
	case device.AddressClampToEdge:
		address = vk.SamplerAddressModeClampToEdge
	case device.AddressMirroredRepeat:
		address = vk.SamplerAddressModeMirroredRepeat
	}

	createInfo := vk.SamplerCreateInfo{
		SType:            vk.StructureTypeSamplerCreateInfo,
		MagFilter:        filter,
		MinFilter:        filter,
		AddressModeU:     address,
		AddressModeV:     address,
		AddressModeW:     address,
		AnisotropyEnable: vk.True,
		MaxAnisotropy:    16,
		MipmapMode:       vk.SamplerMipmapModeLinear,
		MaxLod:           vk.LodClampNone,
	}

	var sampler vk.Sampler
	if res := vk.CreateSampler(c.ctx.device, &createInfo, c.ctx.allocator, &sampler); res != vk.Success {
		return vk.NullSampler, fmt.Errorf("vulkan: creating sampler: %s", resultString(res))
	}
	c.samplers[sampling] = sampler
	return sampler, nil
}

func (c *samplerCache) destroy() {
	for key, sampler := range c.samplers {
		vk.DestroySampler(c.ctx.device, sampler, c.ctx.allocator)
		delete(c.samplers, key)
	}
}
