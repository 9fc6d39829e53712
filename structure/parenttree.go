package structure

// ParentTree builds the per-page reverse index from marked-content id
// to owning element. mcidCounts holds the number of content runs per
// page. Runs no element claimed fall back to the Document element:
// they stay marked, but cannot be traced to a true semantic parent.
// This is a documented conformance compromise, and the pipeline counts
// every fallback entry in its summary.
func (t *Tree) ParentTree(mcidCounts []int) [][]*Element {
	entries := make([][]*Element, len(mcidCounts))
	for page, n := range mcidCounts {
		row := make([]*Element, n)
		for i := range row {
			row[i] = t.Root
		}
		entries[page] = row
	}
	t.Walk(func(e *Element) {
		for _, kid := range e.Kids {
			if kid.Element != nil || kid.MCID < 0 {
				continue
			}
			if kid.Page < 0 || kid.Page >= len(entries) {
				continue
			}
			if kid.MCID < len(entries[kid.Page]) {
				entries[kid.Page][kid.MCID] = e
			}
		}
	})
	return entries
}

// Fallbacks counts parent-tree entries that point at the Document
// element, i.e. runs the linker could not resolve.
func (t *Tree) Fallbacks(parentTree [][]*Element) int {
	n := 0
	for _, row := range parentTree {
		for _, e := range row {
			if e == t.Root {
				n++
			}
		}
	}
	return n
}
