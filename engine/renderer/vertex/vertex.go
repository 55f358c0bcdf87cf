// Package vertex implements the vertex array and vertex/index buffer
// thin wrappers: a binding+attribute description builder feeding a
// pipeline's vertex input state, and typed sub-buffers with
// vertex-offset semantics so indexed draws can switch between models
// packed into the same buffer without rebinding it.
package vertex

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/corevk/engine/core"
	"github.com/spaghettifunk/corevk/engine/renderer/bufalloc"
)

// Array accumulates the binding and attribute descriptions a pipeline
// needs for its vertex input state.
type Array struct {
	bindings   []vk.VertexInputBindingDescription
	attributes []vk.VertexInputAttributeDescription
}

// New creates an empty Array.
func New() *Array {
	return &Array{}
}

// AddBinding records one vertex buffer binding slot; stride is the
// size in bytes of one vertex's worth of data read from it.
func (a *Array) AddBinding(binding uint32, stride uint32, inputRate vk.VertexInputRate) {
	a.bindings = append(a.bindings, vk.VertexInputBindingDescription{
		Binding:   binding,
		Stride:    stride,
		InputRate: inputRate,
	})
}

// AddAttribute records one shader input location sourced from binding
// at byte offset within each vertex.
func (a *Array) AddAttribute(location, binding uint32, format vk.Format, offset uint32) {
	a.attributes = append(a.attributes, vk.VertexInputAttributeDescription{
		Location: location,
		Binding:  binding,
		Format:   format,
		Offset:   offset,
	})
}

// BindingDescriptions returns the accumulated binding descriptions, in
// the form a pipeline's SetVertexInput expects.
func (a *Array) BindingDescriptions() []vk.VertexInputBindingDescription {
	return a.bindings
}

// AttributeDescriptions returns the accumulated attribute
// descriptions, in the form a pipeline's SetVertexInput expects.
func (a *Array) AttributeDescriptions() []vk.VertexInputAttributeDescription {
	return a.attributes
}

// Buffer is a host-visible sub-buffer packing one or more models'
// vertex data back to back. It is bound once; AddModel returns each
// model's vertex offset (a count of vertices, not bytes) for use as
// the vertexOffset argument of an indexed draw, so switching between
// models sharing this buffer never requires a rebind.
type Buffer struct {
	alloc  *bufalloc.Allocator
	sub    bufalloc.SubRange
	stride int
	cursor int
}

// NewBuffer acquires a sub-buffer from alloc sized to hold
// capacityVertices vertices of stride bytes each.
func NewBuffer(alloc *bufalloc.Allocator, stride int, capacityVertices int) (*Buffer, error) {
	sub, err := alloc.AcquireBuffer(stride * capacityVertices)
	if err != nil {
		return nil, err
	}
	return &Buffer{alloc: alloc, sub: sub, stride: stride}, nil
}

// AddModel copies data (a whole number of stride-sized vertices) into
// the next free span of the buffer and returns its vertex offset.
func (b *Buffer) AddModel(data []byte) (int32, error) {
	if len(data)%b.stride != 0 {
		err := fmt.Errorf("vertex data length %d is not a multiple of stride %d", len(data), b.stride)
		core.LogError(err.Error())
		return 0, err
	}
	if b.cursor+len(data) > b.sub.Size {
		return 0, core.ErrOutOfBufferSpace
	}

	dst := unsafe.Slice((*byte)(unsafe.Add(b.alloc.GetPtr(b.sub), b.cursor)), len(data))
	copy(dst, data)

	vertexOffset := int32(b.cursor / b.stride)
	b.cursor += len(data)
	return vertexOffset, nil
}

// Flush makes every AddModel write so far visible to the device.
func (b *Buffer) Flush() error {
	return b.alloc.Flush(b.sub)
}

// Bind binds this buffer's backing range at binding, offset zero.
func (b *Buffer) Bind(cmd vk.CommandBuffer, binding uint32) {
	vk.CmdBindVertexBuffers(cmd, binding, 1, []vk.Buffer{b.sub.Buffer}, []vk.DeviceSize{vk.DeviceSize(b.sub.Offset)})
}

// Release returns the backing sub-buffer to its allocator.
func (b *Buffer) Release() {
	b.alloc.ReleaseBuffer(b.sub)
}

// IndexBuffer is a host-visible sub-buffer of vk.IndexType-typed
// indices, packing one or more models back to back the same way
// Buffer does for vertices.
type IndexBuffer struct {
	alloc     *bufalloc.Allocator
	sub       bufalloc.SubRange
	indexType vk.IndexType
	stride    int
	cursor    int
}

// indexStride returns the byte size of one index of indexType.
func indexStride(indexType vk.IndexType) int {
	if indexType == vk.IndexTypeUint16 {
		return 2
	}
	return 4
}

// NewIndexBuffer acquires a sub-buffer from alloc sized to hold
// capacityIndices indices of indexType.
func NewIndexBuffer(alloc *bufalloc.Allocator, indexType vk.IndexType, capacityIndices int) (*IndexBuffer, error) {
	stride := indexStride(indexType)
	sub, err := alloc.AcquireBuffer(stride * capacityIndices)
	if err != nil {
		return nil, err
	}
	return &IndexBuffer{alloc: alloc, sub: sub, indexType: indexType, stride: stride}, nil
}

// AddModel copies data (a whole number of indexType-sized indices)
// into the next free span and returns its starting index offset, in
// indices, for use as the firstIndex argument of an indexed draw.
func (b *IndexBuffer) AddModel(data []byte) (uint32, error) {
	if len(data)%b.stride != 0 {
		err := fmt.Errorf("index data length %d is not a multiple of stride %d", len(data), b.stride)
		core.LogError(err.Error())
		return 0, err
	}
	if b.cursor+len(data) > b.sub.Size {
		return 0, core.ErrOutOfBufferSpace
	}

	dst := unsafe.Slice((*byte)(unsafe.Add(b.alloc.GetPtr(b.sub), b.cursor)), len(data))
	copy(dst, data)

	firstIndex := uint32(b.cursor / b.stride)
	b.cursor += len(data)
	return firstIndex, nil
}

// Flush makes every AddModel write so far visible to the device.
func (b *IndexBuffer) Flush() error {
	return b.alloc.Flush(b.sub)
}

// Bind binds this index buffer's backing range at offset zero.
func (b *IndexBuffer) Bind(cmd vk.CommandBuffer) {
	vk.CmdBindIndexBuffer(cmd, b.sub.Buffer, vk.DeviceSize(b.sub.Offset), b.indexType)
}

// Release returns the backing sub-buffer to its allocator.
func (b *IndexBuffer) Release() {
	b.alloc.ReleaseBuffer(b.sub)
}

// DrawIndexed issues one vkCmdDrawIndexed call. vertexOffset and
// firstIndex are normally values returned by a prior Buffer.AddModel
// and IndexBuffer.AddModel, letting the same bound buffers serve
// several models without a rebind between draws.
func DrawIndexed(cmd vk.CommandBuffer, indexCount, instanceCount uint32, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(cmd, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}
