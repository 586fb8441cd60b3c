// Package overlay rasterizes the decoration layer drawn on top of each
// preview surface: the focus border, the character name label, and the
// MINIMIZED placeholder text.
package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Style carries the resolved profile values the rasterizer needs. Colors are
// 0xAARRGGBB as parsed from the profile.
type Style struct {
	BorderEnabled  bool
	BorderSize     uint16
	BorderColor    uint32
	TextX          int16
	TextY          int16
	TextColor      uint32
	TextBackground uint32
}

// State is the per-surface input to a decoration render.
type State struct {
	Label     string
	Focused   bool
	Minimized bool
}

const minimizedText = "MINIMIZED"

// Render produces the decoration image for a surface of the given size.
// Everything not covered by border, label, or placeholder stays fully
// transparent so the mirrored client content shows through.
func Render(width, height uint16, style Style, state State) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))

	if state.Minimized {
		drawCenteredText(img, minimizedText, argbToRGBA(style.TextColor))
	}

	if state.Label != "" {
		drawLabel(img, state.Label, int(style.TextX), int(style.TextY),
			argbToRGBA(style.TextColor), argbToRGBA(style.TextBackground))
	}

	if state.Focused && style.BorderEnabled && style.BorderSize > 0 {
		drawBorder(img, int(style.BorderSize), argbToRGBA(style.BorderColor))
	}

	return img
}

// BGRA converts the image into premultiplied BGRA bytes in the layout the X
// server expects for a depth-32 ZPixmap on a little-endian client.
func BGRA(img *image.RGBA) []byte {
	bounds := img.Bounds()
	out := make([]byte, 4*bounds.Dx()*bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			// RGBA() returns premultiplied 16-bit channels.
			out[i+0] = byte(b >> 8)
			out[i+1] = byte(g >> 8)
			out[i+2] = byte(r >> 8)
			out[i+3] = byte(a >> 8)
			i += 4
		}
	}
	return out
}

func drawBorder(img *image.RGBA, size int, c color.RGBA) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if size*2 > w || size*2 > h {
		draw.Draw(img, bounds, &image.Uniform{c}, image.Point{}, draw.Src)
		return
	}
	fill := &image.Uniform{c}
	draw.Draw(img, image.Rect(0, 0, w, size), fill, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, h-size, w, h), fill, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, size, size, h-size), fill, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(w-size, size, w, h-size), fill, image.Point{}, draw.Src)
}

func drawLabel(img *image.RGBA, text string, x, y int, fg, bg color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
	}
	widthPx := int(d.MeasureString(text) >> 6)

	metrics := face.Metrics()
	ascent := metrics.Ascent.Ceil()
	descent := metrics.Descent.Ceil()

	if bg.A > 0 {
		bgRect := image.Rect(x-2, y-ascent-1, x+widthPx+2, y+descent+1)
		draw.Draw(img, bgRect.Intersect(img.Bounds()), &image.Uniform{bg}, image.Point{}, draw.Src)
	}

	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func drawCenteredText(img *image.RGBA, text string, fg color.RGBA) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(fg),
		Face: face,
	}
	widthPx := int(d.MeasureString(text) >> 6)
	bounds := img.Bounds()
	x := (bounds.Dx() - widthPx) / 2
	y := bounds.Dy() / 2
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
}

func argbToRGBA(argb uint32) color.RGBA {
	return color.RGBA{
		R: uint8(argb >> 16),
		G: uint8(argb >> 8),
		B: uint8(argb),
		A: uint8(argb >> 24),
	}
}
