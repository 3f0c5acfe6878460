package texture

import (
	"errors"
	"fmt"
	"image"
)

const (
	tgaTrueColor    = 2
	tgaTrueColorRLE = 10
)

var errTGATruncated = errors.New("texture: truncated tga")

// decodeTGA reads uncompressed or RLE true-color TGA, which has no magic
// bytes and so cannot be registered with package image. Rows are stored
// bottom first, as Decode returns them.
func decodeTGA(data []byte) (*image.RGBA, error) {
	if len(data) < 18 {
		return nil, errTGATruncated
	}
	idLength := int(data[0])
	colorMapped := data[1] != 0
	kind := data[2]
	width := int(data[12]) | int(data[13])<<8
	height := int(data[14]) | int(data[15])<<8
	bpp := int(data[16])
	topDown := data[17]&0x20 != 0

	switch {
	case colorMapped:
		return nil, errors.New("texture: color-mapped tga")
	case kind != tgaTrueColor && kind != tgaTrueColorRLE:
		return nil, fmt.Errorf("texture: tga type %d", kind)
	case bpp != 24 && bpp != 32:
		return nil, fmt.Errorf("texture: tga depth %d", bpp)
	case width == 0 || height == 0:
		return nil, errors.New("texture: tga image has no pixels")
	}
	pos := 18 + idLength
	if pos > len(data) {
		return nil, errTGATruncated
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	stride := bpp / 8
	var pixel [4]byte
	readPixel := func() bool {
		if pos+stride > len(data) {
			return false
		}
		// BGR(A) on disk.
		pixel = [4]byte{data[pos+2], data[pos+1], data[pos], 0xff}
		if stride == 4 {
			pixel[3] = data[pos+3]
		}
		pos += stride
		return true
	}
	put := func(i int) {
		x, y := i%width, i/width
		if topDown {
			y = height - 1 - y
		}
		copy(img.Pix[img.PixOffset(x, y):], pixel[:])
	}

	total := width * height
	for i := 0; i < total; {
		run, repeat := 1, false
		if kind == tgaTrueColorRLE {
			if pos >= len(data) {
				return nil, errTGATruncated
			}
			header := data[pos]
			pos++
			run = int(header&0x7f) + 1
			repeat = header&0x80 != 0
		}
		if repeat && !readPixel() {
			return nil, errTGATruncated
		}
		for k := 0; k < run && i < total; k++ {
			if !repeat && !readPixel() {
				return nil, errTGATruncated
			}
			put(i)
			i++
		}
	}
	return img, nil
}
