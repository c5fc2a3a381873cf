package alpr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

// decodeJPEG decodes a frame's JPEG payload.
func decodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("alpr: decode jpeg: %w", err)
	}
	return img, nil
}

// letterboxed is an image resized into a square canvas with aspect ratio
// preserved, plus the mapping back to source coordinates.
type letterboxed struct {
	img   *image.RGBA
	scale float64 // source * scale = canvas
	padX  int     // left padding in canvas pixels
	padY  int     // top padding in canvas pixels
}

// letterbox scales src to fit a size×size canvas, centered, padding the
// borders with neutral gray. Detector models are trained on this layout.
func letterbox(src image.Image, size int) letterboxed {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	scale := float64(size) / float64(w)
	if s := float64(size) / float64(h); s < scale {
		scale = s
	}
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	padX := (size - dw) / 2
	padY := (size - dh) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	gray := image.NewUniform(color.RGBA{114, 114, 114, 255})
	xdraw.Draw(canvas, canvas.Bounds(), gray, image.Point{}, xdraw.Src)
	dst := image.Rect(padX, padY, padX+dw, padY+dh)
	xdraw.ApproxBiLinear.Scale(canvas, dst, src, b, xdraw.Over, nil)

	return letterboxed{img: canvas, scale: scale, padX: padX, padY: padY}
}

// unmap converts a canvas-space coordinate pair back to source-space,
// clamped to the source bounds.
func (l letterboxed) unmap(x, y float64, srcBounds image.Rectangle) (int, int) {
	sx := int((x - float64(l.padX)) / l.scale)
	sy := int((y - float64(l.padY)) / l.scale)
	return clamp(sx, srcBounds.Min.X, srcBounds.Max.X), clamp(sy, srcBounds.Min.Y, srcBounds.Max.Y)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// rgbToNCHW converts an RGBA image to a flat [1,3,H,W] float32 tensor with
// values scaled to 0..1, channel-planar as the detector expects.
func rgbToNCHW(img *image.RGBA) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	plane := w * h
	out := make([]float32, 3*plane)

	// Planes in R, G, B order.
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			out[i] = float32(row[x*4]) / 255
			out[plane+i] = float32(row[x*4+1]) / 255
			out[2*plane+i] = float32(row[x*4+2]) / 255
		}
	}
	return out
}

// grayResize scales src to w×h and returns row-major grayscale bytes, the
// OCR model's raw input layout.
func grayResize(src image.Image, w, h int) []uint8 {
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	out := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := scaled.Pix[y*scaled.Stride:]
		for x := 0; x < w; x++ {
			r := uint32(row[x*4])
			g := uint32(row[x*4+1])
			b := uint32(row[x*4+2])
			// ITU-R BT.601 luma.
			out[y*w+x] = uint8((299*r + 587*g + 114*b) / 1000)
		}
	}
	return out
}

// cropRect copies the given source-space rectangle into a fresh image.
// Copying keeps the crop valid regardless of the source's concrete type.
func cropRect(src image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(src.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(out, out.Bounds(), src, r.Min, xdraw.Src)
	return out
}
