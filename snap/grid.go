// Package snap computes drop slots for reordering a vertical list of
// widgets by dragging, and applies the resulting moves.
package snap

import (
	"errors"
	"fmt"
	"math"
)

// ErrStaleGeometry is returned when the extents cannot describe a laid out
// list: no items, zero sizes, or items out of order or overlapping.
var ErrStaleGeometry = errors.New("geometry not laid out")

// ErrIndex is returned by Reorder for indices outside the sequence.
var ErrIndex = errors.New("index out of range")

// Extent is the position and size of one widget along the drag axis.
type Extent struct {
	Pos  float64 `json:"pos"`
	Size float64 `json:"size"`
}

// End returns the coordinate just past the widget.
func (e Extent) End() float64 {
	return e.Pos + e.Size
}

// Geometry describes the draggable widgets in display order, the closest
// sibling widgets that do not take part in the drag, and the container
// bounds. Before and After are nil when no such sibling exists.
type Geometry struct {
	Items  []Extent `json:"items"`
	Before *Extent  `json:"before,omitempty"`
	After  *Extent  `json:"after,omitempty"`
	Start  float64  `json:"start"`
	End    float64  `json:"end"`
}

// Grid holds N+1 drop slots for N widgets. Slot i means "insert before
// widget i"; slot N means "after the last widget".
type Grid []float64

// Build returns the grid for g. Inner slots lie midway in the gap between
// adjacent widgets. The outer slots lie midway to the nearest sibling, or
// to the container edge when there is none.
func Build(g Geometry) (Grid, error) {
	if len(g.Items) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrStaleGeometry)
	}
	for i, it := range g.Items {
		if it.Size <= 0 {
			return nil, fmt.Errorf("%w: item %d has size %v", ErrStaleGeometry, i, it.Size)
		}
		if i > 0 && it.Pos < g.Items[i-1].End() {
			return nil, fmt.Errorf("%w: item %d overlaps item %d", ErrStaleGeometry, i, i-1)
		}
	}

	items := g.Items
	first, last := items[0], items[len(items)-1]
	grid := make(Grid, 0, len(items)+1)

	if g.Before != nil {
		grid = append(grid, (g.Before.End()+first.Pos)/2)
	} else {
		grid = append(grid, (g.Start+first.Pos)/2)
	}
	for i := 0; i < len(items)-1; i++ {
		grid = append(grid, (items[i].End()+items[i+1].Pos)/2)
	}
	if g.After != nil {
		grid = append(grid, (last.End()+g.After.Pos)/2)
	} else {
		grid = append(grid, (last.End()+g.End)/2)
	}
	return grid, nil
}

// Nearest returns the slot closest to y. Ties go to the earlier slot.
func (g Grid) Nearest(y float64) float64 {
	return g[g.DropIndex(y)]
}

// DropIndex returns the index of the slot closest to y. Ties go to the
// earlier slot.
func (g Grid) DropIndex(y float64) int {
	best := 0
	for i := 1; i < len(g); i++ {
		if math.Abs(g[i]-y) < math.Abs(g[best]-y) {
			best = i
		}
	}
	return best
}

// IsSnapping reports whether y lies strictly within threshold of a slot.
func (g Grid) IsSnapping(y, threshold float64) bool {
	if len(g) == 0 {
		return false
	}
	return math.Abs(y-g.Nearest(y)) < threshold
}

// Reorder returns a copy of seq with the element at from moved to slot to.
// Slots count positions before removal, so a slot after from lands one
// index lower. to may equal len(seq).
func Reorder[T any](seq []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(seq) {
		return nil, fmt.Errorf("%w: from %d, len %d", ErrIndex, from, len(seq))
	}
	if to < 0 || to > len(seq) {
		return nil, fmt.Errorf("%w: to %d, len %d", ErrIndex, to, len(seq))
	}
	if to > from {
		to--
	}

	moved := seq[from]
	out := make([]T, 0, len(seq))
	out = append(out, seq[:from]...)
	out = append(out, seq[from+1:]...)
	out = append(out, moved)
	copy(out[to+1:], out[to:len(out)-1])
	out[to] = moved
	return out, nil
}
