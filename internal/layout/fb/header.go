// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package fb holds the hand-maintained FlatBuffers bindings for the data
// layout header. Everything here follows the flatc naming convention used
// by internal/curator/durable/state/fb: an "F"-suffixed type per FlatBuffer
// table/struct, a Build___ function that appends it to a builder, and
// direct field accessors on the read side. There is no .fbs source and no
// generated file to regenerate from -- the schema is small and fixed, so
// it is written by hand the way that package's own doc.go recommends doing
// for anything you intend to read directly rather than convert to a plain
// struct first.
package fb

import (
	flatbuffers "github.com/google/flatbuffers/go"
)

// BlockNameSize is the fixed width of a block name inside a BlockF struct.
// Must match core.MaxBlockNameLen.
const BlockNameSize = 64

// blockFSize is the total byte size of one BlockF struct: name(64) +
// elementCount(8) + elementSize(4) + alignment(4) + offset(8).
const blockFSize = BlockNameSize + 8 + 4 + 4 + 8

// BlockF is a fixed-layout FlatBuffers struct, not a table: every field is
// always present, so there is no vtable indirection.
type BlockF struct {
	_tab flatbuffers.Struct
}

// Init points obj at the struct starting at the given absolute offset.
func (obj *BlockF) Init(buf []byte, i flatbuffers.UOffsetT) {
	obj._tab.Bytes = buf
	obj._tab.Pos = i
}

// NameByte returns the j'th byte of the fixed-width name field.
func (obj *BlockF) NameByte(j int) byte {
	return obj._tab.GetByte(obj._tab.Pos + flatbuffers.UOffsetT(j))
}

// ElementCount returns the block's element count field.
func (obj *BlockF) ElementCount() uint64 {
	return obj._tab.GetUint64(obj._tab.Pos + BlockNameSize)
}

// ElementSize returns the block's per-element byte size field.
func (obj *BlockF) ElementSize() uint32 {
	return obj._tab.GetUint32(obj._tab.Pos + BlockNameSize + 8)
}

// Alignment returns the block's required alignment field.
func (obj *BlockF) Alignment() uint32 {
	return obj._tab.GetUint32(obj._tab.Pos + BlockNameSize + 12)
}

// Offset returns the block's byte offset field.
func (obj *BlockF) Offset() uint64 {
	return obj._tab.GetUint64(obj._tab.Pos + BlockNameSize + 16)
}

// CreateBlockF appends one BlockF struct to the builder. Struct fields are
// written back to front, matching flatc's own struct codegen.
func CreateBlockF(b *flatbuffers.Builder, name [BlockNameSize]byte, elementCount uint64, elementSize, alignment uint32, offset uint64) flatbuffers.UOffsetT {
	b.Prep(8, blockFSize)
	b.PrependUint64(offset)
	b.PrependUint32(alignment)
	b.PrependUint32(elementSize)
	b.PrependUint64(elementCount)
	for i := BlockNameSize - 1; i >= 0; i-- {
		b.PrependByte(name[i])
	}
	return b.Offset()
}

// LayoutHeaderF is the root table: format version, data area size, and
// the ordered vector of BlockF structs.
type LayoutHeaderF struct {
	_tab flatbuffers.Table
}

// GetRootAsLayoutHeaderF reads the root table out of buf.
func GetRootAsLayoutHeaderF(buf []byte, offset flatbuffers.UOffsetT) *LayoutHeaderF {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	x := &LayoutHeaderF{}
	x._tab.Bytes = buf
	x._tab.Pos = n + offset
	return x
}

// Version returns the layout format version.
func (rcv *LayoutHeaderF) Version() uint32 {
	if o := flatbuffers.UOffsetT(rcv._tab.Offset(4)); o != 0 {
		return rcv._tab.GetUint32(o + rcv._tab.Pos)
	}
	return 0
}

// TotalSize returns the byte size of the data area the header describes,
// not counting the header itself.
func (rcv *LayoutHeaderF) TotalSize() uint64 {
	if o := flatbuffers.UOffsetT(rcv._tab.Offset(6)); o != 0 {
		return rcv._tab.GetUint64(o + rcv._tab.Pos)
	}
	return 0
}

// BlocksLength returns the number of blocks in the catalog.
func (rcv *LayoutHeaderF) BlocksLength() int {
	if o := flatbuffers.UOffsetT(rcv._tab.Offset(8)); o != 0 {
		return rcv._tab.VectorLen(o)
	}
	return 0
}

// Blocks populates obj with the i'th block in the catalog and reports
// whether the vector field was present.
func (rcv *LayoutHeaderF) Blocks(obj *BlockF, i int) bool {
	o := flatbuffers.UOffsetT(rcv._tab.Offset(8))
	if o == 0 {
		return false
	}
	x := rcv._tab.Vector(o)
	x += flatbuffers.UOffsetT(i) * blockFSize
	obj.Init(rcv._tab.Bytes, x)
	return true
}

// LayoutHeaderFStart/Add/End follow the flatc convention for building a
// table with two scalar fields and a vector-of-structs field.
func LayoutHeaderFStart(b *flatbuffers.Builder) {
	b.StartObject(3)
}

func LayoutHeaderFAddVersion(b *flatbuffers.Builder, version uint32) {
	b.PrependUint32Slot(0, version, 0)
}

func LayoutHeaderFAddTotalSize(b *flatbuffers.Builder, totalSize uint64) {
	b.PrependUint64Slot(1, totalSize, 0)
}

func LayoutHeaderFAddBlocks(b *flatbuffers.Builder, blocks flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(2, blocks, 0)
}

func LayoutHeaderFEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	return b.EndObject()
}

// LayoutHeaderFStartBlocksVector starts the blocks vector; structs are
// appended in reverse so that index order matches the call order.
func LayoutHeaderFStartBlocksVector(b *flatbuffers.Builder, numElems int) flatbuffers.UOffsetT {
	b.StartVector(blockFSize, numElems, 8)
	return b.Offset()
}
