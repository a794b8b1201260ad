package storage

import (
	"sync"

	"github.com/tidwall/btree"

	"mit.edu/dsg/bmindex/common"
)

// FreeSpaceMap tracks pages of one relation that have been reclaimed and may be reused. Pages are handed out lowest
// block first so that reuse stays near the front of the file.
//
// The map is not persisted; after a restart an index rebuilds it by scanning for unreachable pages.
type FreeSpaceMap struct {
	mu    sync.Mutex
	pages *btree.BTreeG[common.BlockNumber]
}

func NewFreeSpaceMap() *FreeSpaceMap {
	return &FreeSpaceMap{
		pages: btree.NewBTreeGOptions(func(a, b common.BlockNumber) bool { return a < b },
			btree.Options{NoLocks: true}),
	}
}

// RecordFreePage marks blk as reusable. Recording a page twice is harmless.
func (fsm *FreeSpaceMap) RecordFreePage(blk common.BlockNumber) {
	common.Assert(blk.IsValid(), "recording invalid block as free")
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	fsm.pages.Set(blk)
}

// GetFreePage removes and returns the lowest reusable block, or InvalidBlockNumber if there is none. The caller
// must still verify that the page is actually reusable: the map is only a hint.
func (fsm *FreeSpaceMap) GetFreePage() common.BlockNumber {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	blk, ok := fsm.pages.PopMin()
	if !ok {
		return common.InvalidBlockNumber
	}
	return blk
}

// Vacuum drops entries that point past the end of a file of numPages pages and returns how many were dropped.
func (fsm *FreeSpaceMap) Vacuum(numPages int) int {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	var stale []common.BlockNumber
	fsm.pages.Ascend(common.BlockNumber(numPages), func(blk common.BlockNumber) bool {
		stale = append(stale, blk)
		return true
	})
	for _, blk := range stale {
		fsm.pages.Delete(blk)
	}
	return len(stale)
}

// Len returns the number of reusable pages recorded.
func (fsm *FreeSpaceMap) Len() int {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	return fsm.pages.Len()
}

// Pages returns the recorded blocks in ascending order.
func (fsm *FreeSpaceMap) Pages() []common.BlockNumber {
	fsm.mu.Lock()
	defer fsm.mu.Unlock()
	out := make([]common.BlockNumber, 0, fsm.pages.Len())
	fsm.pages.Scan(func(blk common.BlockNumber) bool {
		out = append(out, blk)
		return true
	})
	return out
}
