package core

import (
	"errors"
)

var (
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")

	ErrOutOfDeviceMemory = errors.New("no memory type or chunk can satisfy this allocation")
	ErrOutOfBufferSpace  = errors.New("no free sub-range large enough in the backing buffer")
	ErrInvalidHandle     = errors.New("handle does not reference a live resource")
	ErrNotRecording      = errors.New("command buffer is not in a recording state")
	ErrAlreadySubmitted  = errors.New("frame has already been submitted and is not yet done")
	ErrQueueFamilyUnmet  = errors.New("no queue family satisfies the requested capability set")
)
