package overlay

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBorderDrawnOnlyWhenFocused(t *testing.T) {
	style := Style{
		BorderEnabled: true,
		BorderSize:    3,
		BorderColor:   0xFFFF0000,
	}

	img := Render(100, 60, style, State{Focused: true})
	require.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(0, 0))
	require.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(99, 59))
	require.Equal(t, color.RGBA{R: 255, A: 255}, img.RGBAAt(50, 2))
	// Interior stays transparent.
	require.Equal(t, color.RGBA{}, img.RGBAAt(50, 30))

	unfocused := Render(100, 60, style, State{Focused: false})
	require.Equal(t, color.RGBA{}, unfocused.RGBAAt(0, 0))
}

func TestBorderDisabledByProfile(t *testing.T) {
	style := Style{
		BorderEnabled: false,
		BorderSize:    3,
		BorderColor:   0xFFFF0000,
	}
	img := Render(100, 60, style, State{Focused: true})
	require.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
}

func TestLabelPaintsTextAndBackground(t *testing.T) {
	style := Style{
		TextX:          5,
		TextY:          15,
		TextColor:      0xFFFFFFFF,
		TextBackground: 0xFF000000,
	}
	img := Render(200, 100, style, State{Label: "Main"})

	sawText := false
	sawBackground := false
	for y := 0; y < 30; y++ {
		for x := 0; x < 60; x++ {
			px := img.RGBAAt(x, y)
			if px == (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
				sawText = true
			}
			if px == (color.RGBA{A: 255}) {
				sawBackground = true
			}
		}
	}
	require.True(t, sawText)
	require.True(t, sawBackground)
}

func TestMinimizedPlaceholderCentered(t *testing.T) {
	style := Style{TextColor: 0xFFFFFFFF}
	img := Render(200, 100, style, State{Minimized: true})

	sawText := false
	for y := 40; y < 60; y++ {
		for x := 60; x < 140; x++ {
			if img.RGBAAt(x, y).A != 0 {
				sawText = true
			}
		}
	}
	require.True(t, sawText)
	// Nothing outside the centered band.
	require.Equal(t, color.RGBA{}, img.RGBAAt(0, 0))
	require.Equal(t, color.RGBA{}, img.RGBAAt(199, 99))
}

func TestBGRAByteOrder(t *testing.T) {
	style := Style{
		BorderEnabled: true,
		BorderSize:    1,
		BorderColor:   0xFF112233,
	}
	img := Render(4, 4, style, State{Focused: true})
	data := BGRA(img)
	require.Len(t, data, 4*4*4)
	// First pixel is border: B, G, R, A.
	require.Equal(t, byte(0x33), data[0])
	require.Equal(t, byte(0x22), data[1])
	require.Equal(t, byte(0x11), data[2])
	require.Equal(t, byte(0xFF), data[3])
}
