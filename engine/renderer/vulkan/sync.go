package vulkan

import (
	"fmt"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/keel/engine/core"
	"github.com/spaghettifunk/keel/engine/renderer/device"
)

type pendingSubmit struct {
	serial uint64
	fence  vk.Fence
}

// submitFences maps monotonic submission serials onto fences. Every submit
// carries one fence; polling the fences in submission order yields the
// highest contiguously completed serial, which is what the lifecycle core
// gates all reclamation on.
type submitFences struct {
	ctx       *Context
	pending   []pendingSubmit
	recycled  []vk.Fence
	completed uint64
	issued    uint64
}

func newSubmitFences(ctx *Context) *submitFences {
	return &submitFences{ctx: ctx}
}

// next returns a reset fence bound to the next submission serial. The caller
// must pass the fence to exactly one queue submit.
func (s *submitFences) next() (vk.Fence, uint64, error) {
	var fence vk.Fence
	if n := len(s.recycled); n > 0 {
		fence = s.recycled[n-1]
		s.recycled = s.recycled[:n-1]
		if res := vk.ResetFences(s.ctx.device, 1, []vk.Fence{fence}); res != vk.Success {
			return vk.NullFence, 0, fmt.Errorf("vulkan: resetting fence: %s", resultString(res))
		}
	} else {
		createInfo := vk.FenceCreateInfo{SType: vk.StructureTypeFenceCreateInfo}
		if res := vk.CreateFence(s.ctx.device, &createInfo, s.ctx.allocator, &fence); res != vk.Success {
			return vk.NullFence, 0, fmt.Errorf("vulkan: creating fence: %s", resultString(res))
		}
	}

	s.issued++
	s.pending = append(s.pending, pendingSubmit{serial: s.issued, fence: fence})
	return fence, s.issued, nil
}

// poll advances the completed serial past every signaled fence, in order.
// Stops at the first unsignaled fence: serials complete contiguously.
func (s *submitFences) poll() uint64 {
	for len(s.pending) > 0 {
		head := s.pending[0]
		if vk.GetFenceStatus(s.ctx.device, head.fence) != vk.Success {
			break
		}
		s.completed = head.serial
		s.recycled = append(s.recycled, head.fence)
		s.pending = s.pending[1:]
	}
	return s.completed
}

// wait blocks until the given serial's fence signals or the timeout elapses.
func (s *submitFences) wait(serial uint64, timeout time.Duration) error {
	if serial <= s.poll() {
		return nil
	}
	if serial > s.issued {
		return fmt.Errorf("vulkan: waiting on serial %d but only %d were submitted", serial, s.issued)
	}

	// Waiting on the target serial's fence covers every earlier one too,
	// since the queue completes submissions in order.
	var fence vk.Fence
	for _, p := range s.pending {
		if p.serial == serial {
			fence = p.fence
			break
		}
	}

	switch res := vk.WaitForFences(s.ctx.device, 1, []vk.Fence{fence}, vk.True, uint64(timeout.Nanoseconds())); res {
	case vk.Success:
		s.poll()
		return nil
	case vk.Timeout:
		return fmt.Errorf("vulkan: serial %d did not complete within %v: %w", serial, timeout, device.ErrWaitTimeout)
	case vk.ErrorDeviceLost:
		return fmt.Errorf("vulkan: waiting on serial %d: %w", serial, device.ErrDeviceLost)
	default:
		return fmt.Errorf("vulkan: waiting on serial %d: %s", serial, resultString(res))
	}
}

func (s *submitFences) destroy() {
	if len(s.pending) > 0 {
		core.LogWarn("vulkan: destroying %d in-flight fences, device should be idle", len(s.pending))
	}
	for _, p := range s.pending {
		vk.DestroyFence(s.ctx.device, p.fence, s.ctx.allocator)
	}
	for _, fence := range s.recycled {
		vk.DestroyFence(s.ctx.device, fence, s.ctx.allocator)
	}
	s.pending = nil
	s.recycled = nil
}
