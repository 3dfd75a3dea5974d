// render paints board matrices and pieces onto raster surfaces.
package render

import (
	"image/color"

	"tetrisviz/models"
)

// Palette is the fixed, ordered set of colors indexed by cell-kind.
// Index 0 is the background and must equal the surface clear color.
type Palette [models.MaxCellKind + 1]color.RGBA

// FallbackColor paints cell-kinds the palette cannot map, so one bad cell stays visible
// without blanking the rest of the board.
var FallbackColor = color.RGBA{R: 0xFF, G: 0x00, B: 0xFF, A: 0xFF}

// DefaultPalette: empty, cyan, yellow, purple, orange, blue, green, red.
var DefaultPalette = Palette{
	{R: 0x00, G: 0x00, B: 0x00, A: 0xFF},
	{R: 0x00, G: 0xFF, B: 0xFF, A: 0xFF},
	{R: 0xFF, G: 0xFF, B: 0x00, A: 0xFF},
	{R: 0x80, G: 0x00, B: 0x80, A: 0xFF},
	{R: 0xFF, G: 0xA5, B: 0x00, A: 0xFF},
	{R: 0x00, G: 0x00, B: 0xFF, A: 0xFF},
	{R: 0x00, G: 0xFF, B: 0x00, A: 0xFF},
	{R: 0xFF, G: 0x00, B: 0x00, A: 0xFF},
}

// Color returns the palette entry for kind, or FallbackColor when kind is out of range.
func (p Palette) Color(kind int) color.RGBA {
	if kind < 0 || kind >= len(p) {
		return FallbackColor
	}
	return p[kind]
}

// Background is the empty-cell color.
func (p Palette) Background() color.RGBA {
	return p[0]
}
