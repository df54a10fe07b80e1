package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/renderer/binding"
	"github.com/spaghettifunk/keel/engine/renderer/residency"
)

// Per-frame set layout: a fixed window of binding indices per descriptor
// type. Shaders address these bindings directly, so the split is part of the
// pipeline contract.
const (
	uniformBindingBase = 0
	uniformBindingMax  = 8
	sampledBindingBase = 8
	sampledBindingMax  = 16
	storageBindingBase = 16
	storageBindingMax  = 24
)

// DescriptorTables owns the backend descriptor state: one per-frame set for
// rotating bindings and one global set holding the bindless texture array.
// It implements binding.TableWriter and residency.BindlessWriter.
type DescriptorTables struct {
	ctx  *Context
	pool vk.DescriptorPool

	frameLayout vk.DescriptorSetLayout
	frameSets   []vk.DescriptorSet

	bindlessLayout vk.DescriptorSetLayout
	bindlessSet    vk.DescriptorSet
	bindlessSize   uint32
}

func createDescriptorTables(ctx *Context, framesInFlight, maxBindless uint32) (*DescriptorTables, error) {
	t := &DescriptorTables{ctx: ctx, bindlessSize: maxBindless}

	poolSizes := []vk.DescriptorPoolSize{
		{Type: vk.DescriptorTypeUniformBuffer, DescriptorCount: uniformBindingMax * framesInFlight},
		{Type: vk.DescriptorTypeCombinedImageSampler, DescriptorCount: (sampledBindingMax-sampledBindingBase)*framesInFlight + maxBindless},
		{Type: vk.DescriptorTypeStorageBuffer, DescriptorCount: (storageBindingMax - storageBindingBase) * framesInFlight},
	}
	poolInfo := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       framesInFlight + 1,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	if res := vk.CreateDescriptorPool(ctx.device, &poolInfo, ctx.allocator, &t.pool); res != vk.Success {
		return nil, fmt.Errorf("vulkan: creating descriptor pool: %s", resultString(res))
	}

	var frameBindings []vk.DescriptorSetLayoutBinding
	addRange := func(base, max uint32, descriptorType vk.DescriptorType) {
		for i := base; i < max; i++ {
			frameBindings = append(frameBindings, vk.DescriptorSetLayoutBinding{
				Binding:         i,
				DescriptorType:  descriptorType,
				DescriptorCount: 1,
				StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllGraphics),
			})
		}
	}
	addRange(uniformBindingBase, uniformBindingMax, vk.DescriptorTypeUniformBuffer)
	addRange(sampledBindingBase, sampledBindingMax, vk.DescriptorTypeCombinedImageSampler)
	addRange(storageBindingBase, storageBindingMax, vk.DescriptorTypeStorageBuffer)

	frameLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(frameBindings)),
		PBindings:    frameBindings,
	}
	if res := vk.CreateDescriptorSetLayout(ctx.device, &frameLayoutInfo, ctx.allocator, &t.frameLayout); res != vk.Success {
		t.destroy()
		return nil, fmt.Errorf("vulkan: creating frame set layout: %s", resultString(res))
	}

	// One array binding covering the whole bindless table. The residency
	// manager populates every slot at startup (fallback texture), so the
	// set is always fully valid without descriptor-indexing extensions.
	bindlessBinding := vk.DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
		DescriptorCount: maxBindless,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageAllGraphics),
	}
	bindlessLayoutInfo := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: 1,
		PBindings:    []vk.DescriptorSetLayoutBinding{bindlessBinding},
	}
	if res := vk.CreateDescriptorSetLayout(ctx.device, &bindlessLayoutInfo, ctx.allocator, &t.bindlessLayout); res != vk.Success {
		t.destroy()
		return nil, fmt.Errorf("vulkan: creating bindless set layout: %s", resultString(res))
	}

	t.frameSets = make([]vk.DescriptorSet, framesInFlight)
	for i := range t.frameSets {
		set, err := allocateSet(ctx, t.pool, t.frameLayout)
		if err != nil {
			t.destroy()
			return nil, err
		}
		t.frameSets[i] = set
	}
	set, err := allocateSet(ctx, t.pool, t.bindlessLayout)
	if err != nil {
		t.destroy()
		return nil, err
	}
	t.bindlessSet = set

	return t, nil
}

func allocateSet(ctx *Context, pool vk.DescriptorPool, layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	allocInfo := vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     pool,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{layout},
	}
	var set vk.DescriptorSet
	if res := vk.AllocateDescriptorSets(ctx.device, &allocInfo, &set); res != vk.Success {
		return vk.NullDescriptorSet, fmt.Errorf("vulkan: allocating descriptor set: %s", resultString(res))
	}
	return set, nil
}

// WriteBindings applies one frame slot's dirty bindings as a single bulk
// descriptor update.
func (t *DescriptorTables) WriteBindings(frameSlot uint32, writes []binding.Write) error {
	if int(frameSlot) >= len(t.frameSets) {
		return fmt.Errorf("vulkan: frame slot %d out of range (%d sets)", frameSlot, len(t.frameSets))
	}

	updates := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		update := vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          t.frameSets[frameSlot],
			DstBinding:      w.Slot,
			DescriptorCount: 1,
		}
		switch w.Binding.Kind {
		case binding.KindUniformBuffer, binding.KindStorageBuffer:
			base, max := uint32(uniformBindingBase), uint32(uniformBindingMax)
			update.DescriptorType = vk.DescriptorTypeUniformBuffer
			if w.Binding.Kind == binding.KindStorageBuffer {
				base, max = storageBindingBase, storageBindingMax
				update.DescriptorType = vk.DescriptorTypeStorageBuffer
			}
			if w.Slot < base || w.Slot >= max {
				return fmt.Errorf("vulkan: binding slot %d outside range [%d, %d)", w.Slot, base, max)
			}
			update.PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: w.Binding.Buffer.(*buffer).handle,
				Offset: vk.DeviceSize(w.Binding.Offset),
				Range:  vk.DeviceSize(w.Binding.Size),
			}}
		case binding.KindSampledImage:
			if w.Slot < sampledBindingBase || w.Slot >= sampledBindingMax {
				return fmt.Errorf("vulkan: binding slot %d outside range [%d, %d)", w.Slot, sampledBindingBase, sampledBindingMax)
			}
			update.DescriptorType = vk.DescriptorTypeCombinedImageSampler
			update.PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     w.Binding.Sampler.(vk.Sampler),
				ImageView:   w.Binding.View.(imageView).handle,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}}
		default:
			return fmt.Errorf("vulkan: unknown binding kind %d", w.Binding.Kind)
		}
		updates = append(updates, update)
	}

	vk.UpdateDescriptorSets(t.ctx.device, uint32(len(updates)), updates, 0, nil)
	return nil
}

// WriteSlots applies a batch of bindless table updates as one bulk write.
func (t *DescriptorTables) WriteSlots(writes []residency.SlotWrite) error {
	updates := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		if w.Slot >= t.bindlessSize {
			return fmt.Errorf("vulkan: bindless slot %d out of range (%d)", w.Slot, t.bindlessSize)
		}
		updates = append(updates, vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          t.bindlessSet,
			DstBinding:      0,
			DstArrayElement: w.Slot,
			DescriptorType:  vk.DescriptorTypeCombinedImageSampler,
			DescriptorCount: 1,
			PImageInfo: []vk.DescriptorImageInfo{{
				Sampler:     w.Sampler.(vk.Sampler),
				ImageView:   w.View.(imageView).handle,
				ImageLayout: vk.ImageLayoutShaderReadOnlyOptimal,
			}},
		})
	}

	vk.UpdateDescriptorSets(t.ctx.device, uint32(len(updates)), updates, 0, nil)
	return nil
}

func (t *DescriptorTables) destroy() {
	if t.bindlessLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(t.ctx.device, t.bindlessLayout, t.ctx.allocator)
		t.bindlessLayout = vk.NullDescriptorSetLayout
	}
	if t.frameLayout != vk.NullDescriptorSetLayout {
		vk.DestroyDescriptorSetLayout(t.ctx.device, t.frameLayout, t.ctx.allocator)
		t.frameLayout = vk.NullDescriptorSetLayout
	}
	if t.pool != vk.NullDescriptorPool {
		vk.DestroyDescriptorPool(t.ctx.device, t.pool, t.ctx.allocator)
		t.pool = vk.NullDescriptorPool
	}
}
