package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

const iconSize = 32

// Tray icons, one per agent state.
var (
	iconIdle   = renderIcon(color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xFF})
	iconActive = renderIcon(color.RGBA{R: 0x2E, G: 0xA0, B: 0x43, A: 0xFF})
	iconError  = renderIcon(color.RGBA{R: 0xD0, G: 0x3A, B: 0x2F, A: 0xFF})
)

// renderIcon draws a filled disc on a transparent square and encodes it as
// PNG.
func renderIcon(c color.Color) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, iconSize, iconSize))
	center := float64(iconSize-1) / 2
	radius := float64(iconSize)/2 - 2
	for y := 0; y < iconSize; y++ {
		for x := 0; x < iconSize; x++ {
			dx, dy := float64(x)-center, float64(y)-center
			if dx*dx+dy*dy <= radius*radius {
				img.Set(x, y, c)
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
