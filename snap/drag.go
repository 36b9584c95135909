package snap

import "sync"

// Feedback is what a drag reports while the pointer moves.
type Feedback struct {
	Point    float64 `json:"point"`
	Index    int     `json:"index"`
	Snapping bool    `json:"snapping"`
}

// Drop is a completed move: the widget at From goes to slot To.
type Drop struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Drag tracks one press, motion, release gesture. Motion only reports
// feedback; the move is decided once, on release, from the grid built
// during the last motion.
type Drag struct {
	mu        sync.Mutex
	threshold float64
	from      int
	pressed   bool
	moved     bool
	grid      Grid
}

// NewDrag returns a gesture tracker snapping within threshold.
func NewDrag(threshold float64) *Drag {
	return &Drag{threshold: threshold}
}

// Press starts a gesture on the widget at index. A press while another
// gesture is active restarts it.
func (d *Drag) Press(index int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.from = index
	d.pressed = true
	d.moved = false
	d.grid = nil
}

// Motion rebuilds the grid from the current geometry and reports the slot
// nearest to y. A motion without a press is ignored.
func (d *Drag) Motion(g Geometry, y float64) (Feedback, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.pressed {
		return Feedback{}, nil
	}
	grid, err := Build(g)
	if err != nil {
		return Feedback{}, err
	}
	if d.from < 0 || d.from >= len(grid)-1 {
		return Feedback{}, ErrIndex
	}
	d.grid = grid
	d.moved = true
	i := grid.DropIndex(y)
	return Feedback{Point: grid[i], Index: i, Snapping: grid.IsSnapping(y, d.threshold)}, nil
}

// Release ends the gesture. It returns a drop only when the pointer moved,
// y is snapping, and the target slot actually changes the order.
func (d *Drag) Release(y float64) (Drop, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pressed, moved, grid, from := d.pressed, d.moved, d.grid, d.from
	d.pressed, d.moved, d.grid = false, false, nil
	if !pressed || !moved || !grid.IsSnapping(y, d.threshold) {
		return Drop{}, false
	}
	to := grid.DropIndex(y)
	if to == from || to == from+1 {
		return Drop{}, false
	}
	return Drop{From: from, To: to}, true
}

// Active reports whether a gesture is in progress.
func (d *Drag) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pressed
}
