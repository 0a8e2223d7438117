package sim

import "math"

const GridCellSize = 100.0 // ~2x FighterRadius + bolt travel per step

// Grid is a fixed-size uniform grid over the arena used as the broad phase
// for bolt/fighter hits. Cells hold indexes into the engine's fighter slice.
type Grid struct {
	cols, rows int
	cells      [][]int
}

// NewGrid creates a grid covering a w x h arena.
func NewGrid(w, h float64) *Grid {
	cols := int(math.Ceil(w/GridCellSize)) + 1
	rows := int(math.Ceil(h/GridCellSize)) + 1
	return &Grid{cols: cols, rows: rows, cells: make([][]int, cols*rows)}
}

// Clear resets all cells, keeping their capacity.
func (g *Grid) Clear() {
	for i := range g.cells {
		g.cells[i] = g.cells[i][:0]
	}
}

func (g *Grid) span(x, y, radius float64) (minCX, maxCX, minCY, maxCY int) {
	minCX = clampCell(int(math.Floor((x-radius)/GridCellSize)), g.cols)
	maxCX = clampCell(int(math.Floor((x+radius)/GridCellSize)), g.cols)
	minCY = clampCell(int(math.Floor((y-radius)/GridCellSize)), g.rows)
	maxCY = clampCell(int(math.Floor((y+radius)/GridCellSize)), g.rows)
	return
}

func clampCell(c, n int) int {
	return max(0, min(c, n-1))
}

// InsertCircle adds idx to every cell overlapping the circle's bounding box.
func (g *Grid) InsertCircle(pos Vec2, radius float64, idx int) {
	minCX, maxCX, minCY, maxCY := g.span(pos.X, pos.Y, radius)
	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			c := cy*g.cols + cx
			g.cells[c] = append(g.cells[c], idx)
		}
	}
}

// QueryBuf appends the indexes stored in the cell containing pos to buf.
func (g *Grid) QueryBuf(pos Vec2, buf []int) []int {
	minCX, _, minCY, _ := g.span(pos.X, pos.Y, 0)
	return append(buf, g.cells[minCY*g.cols+minCX]...)
}
