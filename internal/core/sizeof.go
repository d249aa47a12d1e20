// Copyright (c) 2017 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

import "unsafe"

// SizeofNodeID is the size of a NodeID value in bytes. Declared here so other
// packages don't have to import unsafe.
const SizeofNodeID = int(unsafe.Sizeof(NodeID(0)))

// SizeofEdgeDuration is the size of an EdgeDuration value in bytes.
const SizeofEdgeDuration = int(unsafe.Sizeof(EdgeDuration(0)))

// SizeofEdgeDistance is the size of an EdgeDistance value in bytes.
const SizeofEdgeDistance = int(unsafe.Sizeof(EdgeDistance(0)))
