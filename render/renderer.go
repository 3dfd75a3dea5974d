package render

import (
	"image"
	"image/color"

	"tetrisviz/models"
)

// Surface is the minimal raster primitive set the renderer needs.
type Surface interface {
	Bounds() image.Rectangle
	Clear()
	FillRect(r image.Rectangle, c color.RGBA)
}

// Size returns the pixel rectangle covering a full board at the given cell size.
func Size(cellSize int) image.Rectangle {
	return image.Rect(0, 0, models.BoardCols*cellSize, models.BoardRows*cellSize)
}

// BoardRenderer repaints a whole board plus an optional overlay piece on every call.
// It holds no state between calls, so identical inputs always produce identical draws.
type BoardRenderer struct {
	palette  Palette
	cellSize int
}

// NewBoardRenderer returns a renderer drawing cells of cellSize pixels with the given palette.
func NewBoardRenderer(palette Palette, cellSize int) *BoardRenderer {
	return &BoardRenderer{
		palette:  palette,
		cellSize: cellSize,
	}
}

// CellSize is the pixel pitch of one board cell.
func (br *BoardRenderer) CellSize() int {
	return br.cellSize
}

// Render clears the surface, paints all 20x10 board cells, then overlays the piece if present.
// Piece cells that land outside the board are skipped.
func (br *BoardRenderer) Render(
	surface Surface,
	board models.BoardMatrix,
	piece *models.Piece,
) {
	surface.Clear()

	for y := 0; y < models.BoardRows; y++ {
		for x := 0; x < models.BoardCols; x++ {
			br.drawCell(surface, x, y, board.At(x, y))
		}
	}

	if piece == nil {
		return
	}
	for ly, row := range piece.Shape {
		for lx, kind := range row {
			if kind == 0 {
				continue
			}
			x, y := piece.X+lx, piece.Y+ly
			if !onBoard(x, y) {
				continue
			}
			br.drawCell(surface, x, y, kind)
		}
	}
}

// drawCell fills a cellSize-1 square, leaving a one pixel grid gap to the right and below.
func (br *BoardRenderer) drawCell(surface Surface, x, y, kind int) {
	px, py := x*br.cellSize, y*br.cellSize
	side := br.cellSize - 1
	surface.FillRect(
		image.Rect(px, py, px+side, py+side),
		br.palette.Color(kind))
}

func onBoard(x, y int) bool {
	return x >= 0 && x < models.BoardCols && y >= 0 && y < models.BoardRows
}
