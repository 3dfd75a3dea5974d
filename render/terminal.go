package render

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Terminal is a cell-granular surface for text consoles: each fill is recorded against
// the cell containing its origin and String() draws one two-column block per cell.
type Terminal struct {
	cellSize int
	cols     int
	rows     int
	cells    []color.RGBA
	clear    color.RGBA
}

// NewTerminal returns a terminal surface for the given pixel bounds and cell pitch.
func NewTerminal(bounds image.Rectangle, cellSize int, background color.RGBA) *Terminal {
	cols, rows := bounds.Dx()/cellSize, bounds.Dy()/cellSize
	t := &Terminal{
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		cells:    make([]color.RGBA, cols*rows),
		clear:    background,
	}
	t.Clear()
	return t
}

func (t *Terminal) Bounds() image.Rectangle {
	return image.Rect(0, 0, t.cols*t.cellSize, t.rows*t.cellSize)
}

func (t *Terminal) Clear() {
	for i := range t.cells {
		t.cells[i] = t.clear
	}
}

func (t *Terminal) FillRect(r image.Rectangle, c color.RGBA) {
	if r.Min.X < 0 || r.Min.Y < 0 {
		return
	}
	x, y := r.Min.X/t.cellSize, r.Min.Y/t.cellSize
	if x >= t.cols || y >= t.rows {
		return
	}
	t.cells[y*t.cols+x] = c
}

// Cell returns the color last painted at cell (x, y).
func (t *Terminal) Cell(x, y int) color.RGBA {
	return t.cells[y*t.cols+x]
}

func (t *Terminal) String() string {
	var sb strings.Builder
	for y := 0; y < t.rows; y++ {
		for x := 0; x < t.cols; x++ {
			c := t.Cell(x, y)
			hex := fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
			sb.WriteString(lipgloss.NewStyle().Background(lipgloss.Color(hex)).Render("  "))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
