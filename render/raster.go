package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
)

// Raster is an in-memory RGBA surface.
type Raster struct {
	img   *image.RGBA
	clear color.RGBA
}

// NewRaster allocates a surface of the given bounds, cleared to the background color.
func NewRaster(bounds image.Rectangle, background color.RGBA) *Raster {
	r := &Raster{
		img:   image.NewRGBA(bounds),
		clear: background,
	}
	r.Clear()
	return r
}

func (r *Raster) Bounds() image.Rectangle {
	return r.img.Bounds()
}

// Clear paints the whole surface with the background color.
func (r *Raster) Clear() {
	draw.Draw(r.img, r.img.Bounds(), image.NewUniform(r.clear), image.Point{}, draw.Src)
}

// FillRect paints the part of rect that lies within the surface; the rest is dropped.
func (r *Raster) FillRect(rect image.Rectangle, c color.RGBA) {
	clipped := rect.Intersect(r.img.Bounds())
	if clipped.Empty() {
		return
	}
	draw.Draw(r.img, clipped, image.NewUniform(c), image.Point{}, draw.Src)
}

// At returns the pixel at (x, y).
func (r *Raster) At(x, y int) color.RGBA {
	return r.img.RGBAAt(x, y)
}

// Snapshot returns a copy of the current pixels, safe to hand to other goroutines.
func (r *Raster) Snapshot() *image.RGBA {
	cp := image.NewRGBA(r.img.Bounds())
	copy(cp.Pix, r.img.Pix)
	return cp
}

// EncodePNG writes the current pixels as a PNG.
func (r *Raster) EncodePNG(w io.Writer) error {
	if err := png.Encode(w, r.img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
