// Copyright 2018 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package bqsr

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// cellChunkSize is the number of cells allocated at once. Cells never move
// once allocated, so a *Cell stays valid across table growth.
const cellChunkSize = 256

// MaxTableKey is the largest key a NestedTable accepts. It bounds the size of
// one dense block to 4 MiB.
const MaxTableKey = 1<<20 - 1

// NestedTable is a sparse multi-dimensional array of Cells, indexed by a fixed
// number of small non-negative integer keys.
//
// Level i of the table is a flat []int32 holding one block of bounds[i]
// entries per node at that level. An entry is 0 if the key is absent, or
// 1 + the index of the child node (the leaf cell on the last level). Node and
// cell indexes never change, so growing a dimension only re-blocks that one
// level.
//
// A NestedTable is not safe for concurrent use.
type NestedTable struct {
	bounds []int
	levels [][]int32
	nNodes []int
	cells  [][]Cell
	nCells int
}

// NewNestedTable creates a table with len(bounds) key dimensions. bounds[i] is
// the initial allocation of dimension i; the dimension grows past it on
// demand, up to MaxTableKey+1. A bound outside [1, MaxTableKey+1] is a
// configuration error.
func NewNestedTable(bounds ...int) (*NestedTable, error) {
	if len(bounds) == 0 {
		return nil, errors.E(errors.Invalid, "bqsr: table needs at least one dimension")
	}
	for i, b := range bounds {
		if b <= 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: dimension %d has non-positive bound %d", i, b))
		}
		if b > MaxTableKey+1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("bqsr: dimension %d bound %d exceeds %d", i, b, MaxTableKey+1))
		}
	}
	t := &NestedTable{
		bounds: append([]int(nil), bounds...),
		levels: make([][]int32, len(bounds)),
		nNodes: make([]int, len(bounds)),
	}
	t.newNode(0)
	return t, nil
}

// Depth returns the number of key dimensions.
func (t *NestedTable) Depth() int { return len(t.bounds) }

// Bounds returns the current allocation of each dimension. Every stored key
// is smaller than its dimension's bound.
func (t *NestedTable) Bounds() []int {
	return append([]int(nil), t.bounds...)
}

// NumCells returns the number of allocated leaf cells, including cells that
// were created but never incremented.
func (t *NestedTable) NumCells() int { return t.nCells }

func (t *NestedTable) newNode(level int) int {
	n := t.nNodes[level]
	t.nNodes[level]++
	t.levels[level] = append(t.levels[level], make([]int32, t.bounds[level])...)
	return n
}

func (t *NestedTable) newCell() int {
	n := t.nCells
	if n%cellChunkSize == 0 {
		t.cells = append(t.cells, make([]Cell, cellChunkSize))
	}
	t.nCells++
	return n
}

func (t *NestedTable) cell(i int) *Cell {
	return &t.cells[i/cellChunkSize][i%cellChunkSize]
}

// growTo enlarges dimension level to exactly n entries per node, copying the
// existing blocks. It is a noop if the dimension is already large enough.
func (t *NestedTable) growTo(level, n int) {
	old := t.bounds[level]
	if n <= old {
		return
	}
	src := t.levels[level]
	dst := make([]int32, t.nNodes[level]*n)
	for node := 0; node < t.nNodes[level]; node++ {
		copy(dst[node*n:node*n+old], src[node*old:(node+1)*old])
	}
	t.levels[level] = dst
	t.bounds[level] = n
}

// grow doubles dimension level until key fits. key must not exceed
// MaxTableKey.
func (t *NestedTable) grow(level, key int) {
	n := t.bounds[level]
	for n <= key {
		n *= 2
	}
	if n > MaxTableKey+1 {
		n = MaxTableKey + 1
	}
	t.growTo(level, n)
}

func (t *NestedTable) checkKeys(keys []int) {
	if len(keys) != len(t.bounds) {
		panic(fmt.Sprintf("bqsr: got %d keys for a table of depth %d", len(keys), len(t.bounds)))
	}
}

// GetOrCreate returns the cell for the given key path, creating a zero cell if
// the path is new. Dimensions grow as needed. The returned pointer remains
// valid for the lifetime of the table. All keys must be in [0, MaxTableKey].
func (t *NestedTable) GetOrCreate(keys ...int) *Cell {
	t.checkKeys(keys)
	node := 0
	last := len(keys) - 1
	for level, key := range keys {
		if key < 0 || key > MaxTableKey {
			panic(fmt.Sprintf("bqsr: key %d at level %d out of range", key, level))
		}
		if key >= t.bounds[level] {
			t.grow(level, key)
		}
		idx := node*t.bounds[level] + key
		e := t.levels[level][idx]
		if e == 0 {
			if level == last {
				e = int32(t.newCell() + 1)
			} else {
				e = int32(t.newNode(level+1) + 1)
			}
			t.levels[level][idx] = e
		}
		node = int(e - 1)
	}
	return t.cell(node)
}

// Get returns the cell stored at the given key path. It returns false if any
// key is outside of the allocated range or the path was never created.
func (t *NestedTable) Get(keys ...int) (Cell, bool) {
	t.checkKeys(keys)
	node := 0
	for level, key := range keys {
		if key < 0 || key >= t.bounds[level] {
			return Cell{}, false
		}
		e := t.levels[level][node*t.bounds[level]+key]
		if e == 0 {
			return Cell{}, false
		}
		node = int(e - 1)
	}
	return *t.cell(node), true
}

// Clone returns a deep copy of t.
func (t *NestedTable) Clone() *NestedTable {
	c := &NestedTable{
		bounds: append([]int(nil), t.bounds...),
		levels: make([][]int32, len(t.levels)),
		nNodes: append([]int(nil), t.nNodes...),
		cells:  make([][]Cell, len(t.cells)),
		nCells: t.nCells,
	}
	for i, l := range t.levels {
		c.levels[i] = append([]int32(nil), l...)
	}
	for i, chunk := range t.cells {
		c.cells[i] = append([]Cell(nil), chunk...)
	}
	return c
}

// mergeFrom adds every leaf of src into t, and enlarges t's dimensions to at
// least src's bounds.
func (t *NestedTable) mergeFrom(src *NestedTable) {
	for level, b := range src.bounds {
		t.growTo(level, b)
	}
	for it := src.Leaves(); it.Scan(); {
		leaf := it.Leaf()
		c := t.GetOrCreate(leaf.Keys...)
		*c = c.Merge(leaf.Cell)
	}
}

// Leaf is one non-empty cell of a NestedTable and its key path.
type Leaf struct {
	Keys []int
	Cell Cell
}

// LeafIterator enumerates the non-empty leaves of a NestedTable in
// lexicographic key order. The table must not be modified during iteration.
//
// Example:
//   for it := table.Leaves(); it.Scan(); {
//     leaf := it.Leaf()
//     ...
//   }
type LeafIterator struct {
	t     *NestedTable
	level int
	node  []int
	key   []int
	leaf  Leaf
}

// Leaves returns a new iterator over the non-empty leaves of t. Each call
// restarts the enumeration.
func (t *NestedTable) Leaves() *LeafIterator {
	it := &LeafIterator{
		t:    t,
		node: make([]int, len(t.bounds)),
		key:  make([]int, len(t.bounds)),
	}
	it.key[0] = -1
	return it
}

// Scan advances to the next leaf. It returns false once all leaves have been
// visited.
func (it *LeafIterator) Scan() bool {
	t := it.t
	last := len(t.bounds) - 1
	for it.level >= 0 {
		l := it.level
		it.key[l]++
		if it.key[l] >= t.bounds[l] {
			it.level--
			continue
		}
		e := t.levels[l][it.node[l]*t.bounds[l]+it.key[l]]
		if e == 0 {
			continue
		}
		if l < last {
			it.level++
			it.node[l+1] = int(e - 1)
			it.key[l+1] = -1
			continue
		}
		c := t.cell(int(e - 1))
		if c.IsZero() {
			continue
		}
		it.leaf = Leaf{Keys: append([]int(nil), it.key...), Cell: *c}
		return true
	}
	return false
}

// Leaf returns the leaf found by the last successful Scan. The Keys slice is
// owned by the caller.
func (it *LeafIterator) Leaf() Leaf { return it.leaf }
