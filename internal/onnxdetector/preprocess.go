package onnxdetector

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// fillInput resizes img to size x size and writes it into dst as planar
// RGB floats normalised to [0,1] (NCHW with N=1).
func fillInput(img *image.RGBA, dst []float32, size int) error {
	channelSize := size * size
	if len(dst) < channelSize*3 {
		return fmt.Errorf("destination tensor holds %d floats, needs %d", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	rgba, ok := resized.(*image.RGBA)
	if !ok {
		return fmt.Errorf("unexpected resized image type %T", resized)
	}

	i := 0
	for y := 0; y < size; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+size*4]
		for x := 0; x < size; x++ {
			red[i] = float32(row[x*4]) / 255.0
			green[i] = float32(row[x*4+1]) / 255.0
			blue[i] = float32(row[x*4+2]) / 255.0
			i++
		}
	}
	return nil
}
