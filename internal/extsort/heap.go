package extsort

import "github.com/quarrylabs/quarry/pkg/core"

// heapItem is one run head in the merge heap.
type heapItem struct {
	row core.Row
	run int
}

// mergeHeap is a binary min-heap over run heads, keyed by (comparator, run
// index). The run index is the tie-break: lower index wins, preserving the
// relative order of equal keys that originated in different runs.
type mergeHeap struct {
	items []heapItem
	cmp   RowComparator
}

func newMergeHeap(cmp RowComparator) *mergeHeap {
	return &mergeHeap{cmp: cmp}
}

func (h *mergeHeap) len() int { return len(h.items) }

func (h *mergeHeap) less(i, j int) bool {
	if c := h.cmp(h.items[i].row, h.items[j].row); c != 0 {
		return c < 0
	}
	return h.items[i].run < h.items[j].run
}

func (h *mergeHeap) push(item heapItem) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

// pop removes and returns the minimum item.
func (h *mergeHeap) pop() heapItem {
	top := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	h.items = h.items[:last]
	if len(h.items) > 0 {
		h.siftDown(0)
	}
	return top
}

func (h *mergeHeap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *mergeHeap) siftDown(i int) {
	n := len(h.items)
	for {
		smallest := i
		if left := 2*i + 1; left < n && h.less(left, smallest) {
			smallest = left
		}
		if right := 2*i + 2; right < n && h.less(right, smallest) {
			smallest = right
		}
		if smallest == i {
			return
		}
		h.items[i], h.items[smallest] = h.items[smallest], h.items[i]
		i = smallest
	}
}
