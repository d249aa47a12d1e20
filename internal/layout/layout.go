// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

// Package layout computes the block catalog of a shared memory region: an
// ordered, name-addressed map from block to (element count, element size,
// alignment, offset), and the self-describing header that lets a reader
// reconstruct that catalog from nothing but the region's base address.
package layout

import (
	"unsafe"

	flatbuffers "github.com/google/flatbuffers/go"
	log "github.com/golang/glog"

	"github.com/westerndigitalcorporation/osrm-datastore/internal/core"
	"github.com/westerndigitalcorporation/osrm-datastore/internal/layout/fb"
)

const formatVersion uint32 = 1

// Block is one named chunk of a region. ByteSize is ElementCount*ElementSize
// rounded up to Alignment; Offset is filled in once the owning DataLayout is
// finalized.
type Block struct {
	Name         string
	ElementCount uint64
	ElementSize  uint32
	Alignment    uint32
	ByteSize     uint64
	Offset       uint64
}

// DataLayout is an ordered block catalog. Blocks keep the order SetBlock
// was called in; offsets are assigned in that same order. A DataLayout is
// mutable until Serialize is called, after which it is frozen: further
// SetBlock calls return core.ErrInvalidArgument rather than mutate a
// finalized structure.
type DataLayout struct {
	strict bool
	frozen bool
	order  []string
	byName map[string]*Block
}

// New returns an empty layout. When strict is true, SetBlock on an
// already-present name fails with core.ErrDuplicateBlock instead of
// replacing it.
func New(strict bool) *DataLayout {
	return &DataLayout{strict: strict, byName: make(map[string]*Block)}
}

// SetBlock upserts a block. Re-setting an existing name replaces its prior
// element count/size/alignment and keeps its position in iteration order.
func (l *DataLayout) SetBlock(name string, elementCount uint64, elementSize, alignment uint32) core.Error {
	if l.frozen {
		return core.ErrInvalidArgument
	}
	if len(name) == 0 || len(name) > core.MaxBlockNameLen {
		return core.ErrInvalidArgument
	}
	if alignment == 0 {
		alignment = 1
	}
	if existing, ok := l.byName[name]; ok {
		if l.strict {
			return core.ErrDuplicateBlock
		}
		existing.ElementCount = elementCount
		existing.ElementSize = elementSize
		existing.Alignment = alignment
		existing.ByteSize = roundUp(elementCount*uint64(elementSize), uint64(alignment))
		return core.NoError
	}
	l.order = append(l.order, name)
	l.byName[name] = &Block{
		Name:         name,
		ElementCount: elementCount,
		ElementSize:  elementSize,
		Alignment:    alignment,
		ByteSize:     roundUp(elementCount*uint64(elementSize), uint64(alignment)),
	}
	return core.NoError
}

// roundUp pads n up to the next multiple of align. Grounded on the
// diskBits/diskMask bit-packing arithmetic in
// internal/tractserver/store.go, generalized from bit-packing a single
// word to byte-aligning a block boundary.
func roundUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	rem := n % align
	if rem == 0 {
		return n
	}
	return n + (align - rem)
}

// Blocks returns the catalog in SetBlock call order, with offsets assigned
// (valid only after assignOffsets/Serialize has run; zero before that).
func (l *DataLayout) Blocks() []Block {
	out := make([]Block, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, *l.byName[name])
	}
	return out
}

// assignOffsets walks blocks in order, padding each start to its own
// alignment, and returns the offset one past the last block -- i.e. the
// payload region's total size before the header is accounted for.
func (l *DataLayout) assignOffsets() uint64 {
	var cursor uint64
	for _, name := range l.order {
		b := l.byName[name]
		cursor = roundUp(cursor, uint64(b.Alignment))
		b.Offset = cursor
		cursor += b.ByteSize
	}
	return cursor
}

// TotalSize returns the full byte size of the region this layout requires:
// the serialized header plus every block's padded size. Because it builds
// the header with Serialize, it also freezes the layout.
func (l *DataLayout) TotalSize() uint64 {
	payload := l.assignOffsets()
	header := l.headerSize()
	return header + payload
}

// headerSize returns the byte length Serialize produces. It calls
// Serialize (which freezes the layout) to build the header and caches
// nothing -- callers that need both TotalSize
// and Serialize pay the flatbuffers cost twice, which is acceptable given
// headers describe tens, not millions, of blocks.
func (l *DataLayout) headerSize() uint64 {
	buf, cerr := l.Serialize()
	if cerr != core.NoError {
		return 0
	}
	return uint64(len(buf))
}

// BlockOffset returns the byte offset of name within the region's data
// area (i.e. relative to data_ptr = base + len(header), not to base
// itself). Fails with core.ErrNotFound if name isn't in the layout.
func (l *DataLayout) BlockOffset(name string) (uint64, core.Error) {
	b, ok := l.byName[name]
	if !ok {
		return 0, core.ErrNotFound
	}
	if !l.frozen {
		l.assignOffsets()
	}
	return b.Offset, core.NoError
}

// View reinterprets the byte slice rooted at dataBase (i.e. base+header
// length) as a []T for the named block, with no copy. It calls log.Fatalf
// (ending the process) if T's size differs from the block's recorded
// element size, which would indicate the caller picked the wrong Go type
// for this block --
// grounded on core.SizeofNodeID and friends being compile-time constants
// the caller is expected to match against ElementSize.
func View[T any](dataBase []byte, l *DataLayout, name string) ([]T, core.Error) {
	b, ok := l.byName[name]
	if !ok {
		return nil, core.ErrNotFound
	}
	if b.ElementCount == 0 {
		return []T{}, core.NoError
	}
	var zero T
	elemSize := uint64(unsafe.Sizeof(zero))
	if elemSize == 0 || elemSize != uint64(b.ElementSize) {
		log.Fatalf("layout: View[%T] element size %d doesn't match block %q size %d", zero, elemSize, name, b.ElementSize)
	}
	end := b.Offset + b.ElementCount*elemSize
	if end > uint64(len(dataBase)) {
		return nil, core.ErrCorruptArchive
	}
	region := dataBase[b.Offset:end]
	ptr := unsafe.Pointer(&region[0])
	return unsafe.Slice((*T)(ptr), b.ElementCount), core.NoError
}

// Serialize freezes the layout and returns its self-describing header: a
// flatbuffers-encoded LayoutHeaderF containing the format version, the
// size of the data area that follows the header (every block's padded
// size; the header itself is not counted), and the ordered block catalog
// (name, element count,
// element size, alignment, offset). Once called, the layout accepts no
// further SetBlock calls.
func (l *DataLayout) Serialize() ([]byte, core.Error) {
	payloadSize := l.assignOffsets()
	l.frozen = true

	b := flatbuffers.NewBuilder(1024)

	blocks := l.Blocks()
	blockOffsets := make([]flatbuffers.UOffsetT, 0, len(blocks))
	fb.LayoutHeaderFStartBlocksVector(b, len(blocks))
	for i := len(blocks) - 1; i >= 0; i-- {
		blk := blocks[i]
		if len(blk.Name) > fb.BlockNameSize {
			return nil, core.ErrInvalidArgument
		}
		var name [fb.BlockNameSize]byte
		copy(name[:], blk.Name)
		off := fb.CreateBlockF(b, name, blk.ElementCount, blk.ElementSize, blk.Alignment, blk.Offset)
		blockOffsets = append(blockOffsets, off)
	}
	blocksVec := b.EndVector(len(blocks))

	fb.LayoutHeaderFStart(b)
	fb.LayoutHeaderFAddVersion(b, formatVersion)
	fb.LayoutHeaderFAddTotalSize(b, payloadSize)
	fb.LayoutHeaderFAddBlocks(b, blocksVec)
	header := fb.LayoutHeaderFEnd(b)
	b.Finish(header)

	return b.FinishedBytes(), core.NoError
}

// Deserialize reconstructs a DataLayout (frozen, non-strict) from a buffer
// produced by Serialize.
func Deserialize(buf []byte) (*DataLayout, core.Error) {
	if len(buf) < 4 {
		return nil, core.ErrCorruptArchive
	}
	header := fb.GetRootAsLayoutHeaderF(buf, 0)
	if header.Version() != formatVersion {
		log.Errorf("layout: unsupported header version %d", header.Version())
		return nil, core.ErrCorruptArchive
	}

	l := New(false)
	var block fb.BlockF
	n := header.BlocksLength()
	for i := 0; i < n; i++ {
		if !header.Blocks(&block, i) {
			return nil, core.ErrCorruptArchive
		}
		nameBuf := make([]byte, 0, fb.BlockNameSize)
		for j := 0; j < fb.BlockNameSize; j++ {
			c := block.NameByte(j)
			if c == 0 {
				break
			}
			nameBuf = append(nameBuf, c)
		}
		name := string(nameBuf)
		if cerr := l.SetBlock(name, block.ElementCount(), block.ElementSize(), block.Alignment()); cerr != core.NoError {
			return nil, cerr
		}
		l.byName[name].Offset = block.Offset()
	}
	l.frozen = true
	return l, core.NoError
}
