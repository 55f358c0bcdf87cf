// Package frame implements the frame orchestrator: a framebuffer plus
// the command pools and command buffers used to render one frame, with
// an optional helper-thread offload path for finalizing the primary
// command buffer off the application thread.
package frame

import (
	"fmt"
	"sync"
	"time"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
	"github.com/spaghettifunk/corevk/engine/renderer/syncevent"
)

// Usable is implemented by anything the main command must transition
// to its sampled state before a render pass begins (textures).
type Usable interface {
	Use(cmd vk.CommandBuffer, includeTransition bool) error
}

// Orchestrator owns one framebuffer's worth of command-recording state.
type Orchestrator struct {
	device vk.Device

	id     int
	name   string
	width  uint32
	height uint32

	renderPass  vk.RenderPass
	framebuffer vk.Framebuffer
	views       []vk.ImageView
	built       bool

	graphicPool   vk.CommandPool
	secondaryPool vk.CommandPool
	mainCmd       vk.CommandBuffer
	cmds          []vk.CommandBuffer
	actual        vk.CommandBuffer

	alwaysRecord    bool
	useSecondary    bool
	staticSecondary bool

	inheritance vk.CommandBufferInheritanceInfo
	cmdFlags    vk.CommandBufferUsageFlags

	mu      sync.Mutex
	batches [][]vk.CommandBuffer
	batch   int

	submitted bool
	finalize  func()
}

// New creates an orchestrator for framebuffer id, bound to renderPass,
// with the given pixel dimensions. Call Bind for each attachment before
// Build.
func New(device vk.Device, renderPass vk.RenderPass, id int, width, height uint32, name string) *Orchestrator {
	if name == "" {
		name = fmt.Sprintf("frame-%d", id)
	}
	return &Orchestrator{
		device:     device,
		id:         id,
		name:       name,
		width:      width,
		height:     height,
		renderPass: renderPass,
		submitted:  true,
	}
}

// Bind attaches view as the framebuffer attachment at slot id.
func (o *Orchestrator) Bind(id int, view vk.ImageView) {
	if id >= len(o.views) {
		grown := make([]vk.ImageView, id+1)
		copy(grown, o.views)
		o.views = grown
	}
	o.views[id] = view
}

// Build creates the framebuffer, the graphic command pool and its
// primary command buffer, and (if useSecondary) the secondary pool.
// alwaysRecord marks the primary's pool transient and its recordings
// one-time-submit; staticSecondary forbids per-buffer reset on the
// secondary pool, requiring DiscardRecord to re-record any of them.
func (o *Orchestrator) Build(passCount int, queueFamily uint32, alwaysRecord, useSecondary, staticSecondary bool) error {
	o.alwaysRecord = alwaysRecord
	o.useSecondary = useSecondary
	o.staticSecondary = staticSecondary

	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      o.renderPass,
		AttachmentCount: uint32(len(o.views)),
		PAttachments:    o.views,
		Width:           o.width,
		Height:          o.height,
		Layers:          1,
	}
	var framebuffer vk.Framebuffer
	if res := vk.CreateFramebuffer(o.device, &info, nil, &framebuffer); res != vk.Success {
		err := fmt.Errorf("failed to build framebuffer %q", o.name)
		core.LogError(err.Error())
		return err
	}
	o.framebuffer = framebuffer
	o.built = true

	poolFlags := vk.CommandPoolCreateFlags(0)
	if alwaysRecord {
		poolFlags = vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit)
	}
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            poolFlags,
		QueueFamilyIndex: queueFamily,
	}
	if res := vk.CreateCommandPool(o.device, &poolInfo, nil, &o.graphicPool); res != vk.Success {
		return fmt.Errorf("failed to create graphic command pool for %q", o.name)
	}

	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        o.graphicPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	cmds := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(o.device, &allocInfo, cmds); res != vk.Success {
		return fmt.Errorf("failed to allocate main command buffer for %q", o.name)
	}
	o.mainCmd = cmds[0]

	if alwaysRecord {
		o.cmdFlags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}

	if useSecondary {
		secondaryFlags := poolFlags
		if !staticSecondary {
			secondaryFlags |= vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit)
		}
		secondaryInfo := vk.CommandPoolCreateInfo{
			SType:            vk.StructureTypeCommandPoolCreateInfo,
			Flags:            secondaryFlags,
			QueueFamilyIndex: queueFamily,
		}
		if res := vk.CreateCommandPool(o.device, &secondaryInfo, nil, &o.secondaryPool); res != vk.Success {
			return fmt.Errorf("failed to create secondary command pool for %q", o.name)
		}
		o.inheritance = vk.CommandBufferInheritanceInfo{
			SType:       vk.StructureTypeCommandBufferInheritanceInfo,
			RenderPass:  o.renderPass,
			Framebuffer: o.framebuffer,
		}
	}

	o.views = nil
	o.batches = make([][]vk.CommandBuffer, passCount)
	core.LogInfo("built frame orchestrator %q (%dx%d)", o.name, o.width, o.height)
	return nil
}

// Create allocates count secondary command buffers and returns the
// index of the first one; subsequent ones are contiguous.
func (o *Orchestrator) Create(count uint32) (int, error) {
	first := len(o.cmds)
	allocInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        o.secondaryPool,
		Level:              vk.CommandBufferLevelSecondary,
		CommandBufferCount: count,
	}
	fresh := make([]vk.CommandBuffer, count)
	if res := vk.AllocateCommandBuffers(o.device, &allocInfo, fresh); res != vk.Success {
		return 0, fmt.Errorf("failed to allocate secondary command buffers for %q", o.name)
	}
	o.cmds = append(o.cmds, fresh...)
	return first, nil
}

// Handle returns the secondary command buffer at idx.
func (o *Orchestrator) Handle(idx int) vk.CommandBuffer {
	return o.cmds[idx]
}

// MainHandle returns the primary command buffer.
func (o *Orchestrator) MainHandle() vk.CommandBuffer {
	return o.mainCmd
}

func (o *Orchestrator) beginInfo(subpass int) vk.CommandBufferBeginInfo {
	inh := o.inheritance
	inh.Subpass = uint32(subpass)
	return vk.CommandBufferBeginInfo{
		SType:           vk.StructureTypeCommandBufferBeginInfo,
		Flags:           vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit),
		PInheritanceInfo: &inh,
	}
}

// Begin starts recording the secondary at idx for use in the given
// subpass. Not safe to call concurrently with itself.
func (o *Orchestrator) Begin(idx int, subpass int) vk.CommandBuffer {
	info := o.beginInfo(subpass)
	o.actual = o.cmds[idx]
	vk.BeginCommandBuffer(o.actual, &info)
	return o.cmds[idx]
}

// BeginAsync starts recording cmd for use in subpass. Safe to call
// concurrently for distinct command buffers because it builds its
// begin-info locally rather than mutating shared state.
func (o *Orchestrator) BeginAsync(cmd vk.CommandBuffer, subpass int) {
	info := o.beginInfo(subpass)
	vk.BeginCommandBuffer(cmd, &info)
}

// Compile ends the secondary at idx, or the buffer started via Begin
// if idx is -1.
func (o *Orchestrator) Compile(idx int) {
	if idx < 0 {
		vk.EndCommandBuffer(o.actual)
		o.actual = nil
		return
	}
	vk.EndCommandBuffer(o.cmds[idx])
}

// CompileAsync ends cmd, the counterpart to BeginAsync.
func (o *Orchestrator) CompileAsync(cmd vk.CommandBuffer) {
	vk.EndCommandBuffer(cmd)
}

// DiscardRecord resets the secondary pool, invalidating every
// secondary recorded so far. Only meaningful when staticSecondary.
func (o *Orchestrator) DiscardRecord() {
	if o.secondaryPool != nil {
		vk.ResetCommandPool(o.device, o.secondaryPool, 0)
	}
}

// BeginMain resets the graphic pool, starts recording the primary,
// transitions every texture to its sampled layout, replays sync's
// destination dependency if given, and begins the render pass.
func (o *Orchestrator) BeginMain(content vk.SubpassContents, textures []Usable, sync *syncevent.Primitive, clearValues []vk.ClearValue) vk.CommandBuffer {
	vk.ResetCommandPool(o.device, o.graphicPool, 0)
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: o.cmdFlags,
	}
	vk.BeginCommandBuffer(o.mainCmd, &info)
	for _, tex := range textures {
		tex.Use(o.mainCmd, true)
	}
	if sync != nil {
		if sync.HasMultiDstDependency() {
			sync.MultiDstDependency(o.mainCmd)
		} else {
			sync.DstDependency(o.mainCmd)
		}
	}
	passInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  o.renderPass,
		Framebuffer: o.framebuffer,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: o.width, Height: o.height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(o.mainCmd, &passInfo, content)
	o.trackContents(content)
	return o.mainCmd
}

func (o *Orchestrator) trackContents(content vk.SubpassContents) {
	switch content {
	case vk.SubpassContentsInline:
		o.actual = o.mainCmd
	case vk.SubpassContentsSecondaryCommandBuffers:
		if o.actual == o.mainCmd {
			o.actual = nil
		}
	}
}

// Next advances the primary to the next subpass.
func (o *Orchestrator) Next(content vk.SubpassContents) {
	vk.CmdNextSubpass(o.mainCmd, content)
	o.trackContents(content)
}

// Execute replays the secondary at idx onto the primary.
func (o *Orchestrator) Execute(idx int) {
	vk.CmdExecuteCommands(o.mainCmd, 1, []vk.CommandBuffer{o.cmds[idx]})
}

// ExecuteCmds replays an arbitrary batch of secondaries onto the primary.
func (o *Orchestrator) ExecuteCmds(cmds []vk.CommandBuffer) {
	if len(cmds) == 0 {
		return
	}
	vk.CmdExecuteCommands(o.mainCmd, uint32(len(cmds)), cmds)
}

// CompileMain ends the render pass and the primary command buffer.
func (o *Orchestrator) CompileMain() {
	vk.CmdEndRenderPass(o.mainCmd)
	vk.EndCommandBuffer(o.mainCmd)
	if o.actual == o.mainCmd {
		o.actual = nil
	}
}

// ToExecute enqueues the secondary at idx for the helper to replay in
// the current subpass batch.
func (o *Orchestrator) ToExecute(idx int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches[o.batch] = append(o.batches[o.batch], o.cmds[idx])
}

// NextPass advances the batch index ToExecute appends to; it does not
// touch the primary command buffer directly.
func (o *Orchestrator) NextPass() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batch++
}

// CancelExecution removes a contiguous, previously-enqueued sequence
// of secondaries from the batches. cmds must be sorted the same way
// they were enqueued (by subpass, then by enqueue order); each batch
// is scanned in order and, once a match starts, the remainder of the
// batch is compacted as matches are consumed.
func (o *Orchestrator) CancelExecution(cmds []vk.CommandBuffer) {
	if len(cmds) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	next := 0
	for b := range o.batches {
		batch := o.batches[b]
		write := 0
		for read := 0; read < len(batch); read++ {
			if next < len(cmds) && batch[read] == cmds[next] {
				next++
				continue
			}
			batch[write] = batch[read]
			write++
		}
		o.batches[b] = batch[:write]
		if next >= len(cmds) {
			break
		}
	}
}

// IsDone reports whether the last submission has been finalized.
func (o *Orchestrator) IsDone() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.submitted
}

// Submit enqueues this orchestrator on the process-wide helper queue,
// spin-sleeping while the queue is full. finalize is invoked by the
// helper once every batch has been replayed and the render pass and
// primary have ended; it typically submits mainCmd to a queue.
func (o *Orchestrator) Submit(finalize func()) {
	o.mu.Lock()
	o.submitted = false
	o.finalize = finalize
	o.mu.Unlock()
	for !helperQueue.Push(o) {
		time.Sleep(spin)
	}
}

// submitInline walks the batches, emits NextSubpass between non-first
// batches and ExecuteCommands for non-empty ones, ends the render pass
// and primary, invokes finalize, and resets orchestrator state for the
// next frame. Called only from the helper goroutine.
func (o *Orchestrator) submitInline() {
	o.mu.Lock()
	batches := o.batches
	finalize := o.finalize
	o.mu.Unlock()

	for i, batch := range batches {
		if i > 0 {
			vk.CmdNextSubpass(o.mainCmd, vk.SubpassContentsSecondaryCommandBuffers)
		}
		if len(batch) > 0 {
			vk.CmdExecuteCommands(o.mainCmd, uint32(len(batch)), batch)
		}
	}
	vk.CmdEndRenderPass(o.mainCmd)
	vk.EndCommandBuffer(o.mainCmd)
	if finalize != nil {
		finalize()
	}

	o.mu.Lock()
	for i := range o.batches {
		o.batches[i] = o.batches[i][:0]
	}
	o.batch = 0
	o.submitted = true
	o.finalize = nil
	o.mu.Unlock()
}

// Destroy releases the framebuffer and command pools.
func (o *Orchestrator) Destroy() {
	if !o.built {
		return
	}
	vk.DestroyFramebuffer(o.device, o.framebuffer, nil)
	vk.DestroyCommandPool(o.device, o.graphicPool, nil)
	if o.secondaryPool != nil {
		vk.DestroyCommandPool(o.device, o.secondaryPool, nil)
	}
	o.built = false
}
