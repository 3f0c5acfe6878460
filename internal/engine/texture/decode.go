// Package texture decodes node texture images into bottom-up RGBA.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrEmpty reports a zero-length image payload.
var ErrEmpty = errors.New("texture: empty image")

// Decode decodes a jpeg, png, webp, bmp or tga image into tightly packed RGBA,
// flipped so the first row is the bottom of the image as OpenGL expects.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if errors.Is(err, image.ErrFormat) {
		return decodeTGA(data)
	}
	if err != nil {
		return nil, fmt.Errorf("texture: %w", err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("texture: %s image has no pixels", format)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	flipRows(rgba)
	return rgba, nil
}

// DecodeAll decodes every map of a texture group.
func DecodeAll(maps [][]byte) ([]*image.RGBA, error) {
	out := make([]*image.RGBA, len(maps))
	for i, m := range maps {
		img, err := Decode(m)
		if err != nil {
			return nil, fmt.Errorf("map %d: %w", i, err)
		}
		out[i] = img
	}
	return out, nil
}

func flipRows(img *image.RGBA) {
	h := img.Rect.Dy()
	row := make([]byte, img.Stride)
	for y := 0; y < h/2; y++ {
		top := img.Pix[y*img.Stride : (y+1)*img.Stride]
		bottom := img.Pix[(h-1-y)*img.Stride : (h-y)*img.Stride]
		copy(row, top)
		copy(top, bottom)
		copy(bottom, row)
	}
}

// ByteSize is the memory held by decoded images.
func ByteSize(imgs []*image.RGBA) int {
	n := 0
	for _, img := range imgs {
		n += len(img.Pix)
	}
	return n
}
