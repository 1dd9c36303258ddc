package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
)

// Preprocessing constants, tuned for 150 DPI renders of printed invoices.
const (
	claheTiles     = 8   // tile grid is claheTiles x claheTiles
	claheClipLimit = 2.0 // histogram clip as a multiple of the uniform bin height
	stretchGain    = 1.8
	stretchBias    = 10
	threshBlock    = 15 // adaptive threshold neighborhood (odd)
	threshC        = 3  // subtracted constant
)

// Preprocess normalizes a rendered page for recognition. The pipeline is
// fixed: luminance, local contrast equalization, linear stretch, adaptive
// binarization, denoise, and a 2x2 morphological close to reconnect character
// strokes broken by thresholding. Pure function of the input image.
func Preprocess(src image.Image) *image.Gray {
	g := toGray(src)
	g = clahe(g, claheTiles, claheClipLimit)
	g = stretch(g, stretchGain, stretchBias)
	g = adaptiveThreshold(g, threshBlock, threshC)
	g = medianDenoise(g)
	g = morphClose2x2(g)
	return g
}

// PreprocessPNG decodes an encoded page image, preprocesses it, and returns
// the result re-encoded as PNG for the recognizer.
func PreprocessPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	out := Preprocess(img)
	var buf bytes.Buffer
	if err := png.Encode(&buf, out); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}
	return buf.Bytes(), nil
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	if g, ok := src.(*image.Gray); ok {
		for y := 0; y < b.Dy(); y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+b.Dx()],
				g.Pix[(y+b.Min.Y-g.Rect.Min.Y)*g.Stride+(b.Min.X-g.Rect.Min.X):])
		}
		return dst
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetGray(x, y, color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return dst
}

// clahe applies contrast-limited adaptive histogram equalization over a
// tiles x tiles grid, interpolating bilinearly between per-tile lookup tables.
func clahe(src *image.Gray, tiles int, clipLimit float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 {
		return src
	}
	tw := (w + tiles - 1) / tiles
	th := (h + tiles - 1) / tiles
	ntx := (w + tw - 1) / tw
	nty := (h + th - 1) / th

	luts := make([][][256]uint8, nty)
	for ty := 0; ty < nty; ty++ {
		luts[ty] = make([][256]uint8, ntx)
		for tx := 0; tx < ntx; tx++ {
			x0, y0 := tx*tw, ty*th
			x1, y1 := minInt(x0+tw, w), minInt(y0+th, h)

			var hist [256]int
			for y := y0; y < y1; y++ {
				row := src.Pix[y*src.Stride:]
				for x := x0; x < x1; x++ {
					hist[row[x]]++
				}
			}
			n := (x1 - x0) * (y1 - y0)

			// clip the histogram and redistribute the excess uniformly
			limit := int(clipLimit * float64(n) / 256.0)
			if limit < 1 {
				limit = 1
			}
			excess := 0
			for i := range hist {
				if hist[i] > limit {
					excess += hist[i] - limit
					hist[i] = limit
				}
			}
			share := excess / 256
			rem := excess % 256
			for i := range hist {
				hist[i] += share
				if i < rem {
					hist[i]++
				}
			}

			cum := 0
			for i := range hist {
				cum += hist[i]
				luts[ty][tx][i] = uint8(math.Round(255.0 * float64(cum) / float64(n)))
			}
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		gy := (float64(y)+0.5)/float64(th) - 0.5
		ty0 := clampInt(int(math.Floor(gy)), 0, nty-1)
		ty1 := clampInt(ty0+1, 0, nty-1)
		fy := clampFloat(gy-float64(ty0), 0, 1)
		for x := 0; x < w; x++ {
			gx := (float64(x)+0.5)/float64(tw) - 0.5
			tx0 := clampInt(int(math.Floor(gx)), 0, ntx-1)
			tx1 := clampInt(tx0+1, 0, ntx-1)
			fx := clampFloat(gx-float64(tx0), 0, 1)

			v := src.Pix[y*src.Stride+x]
			top := (1-fx)*float64(luts[ty0][tx0][v]) + fx*float64(luts[ty0][tx1][v])
			bot := (1-fx)*float64(luts[ty1][tx0][v]) + fx*float64(luts[ty1][tx1][v])
			dst.Pix[y*dst.Stride+x] = uint8(math.Round((1-fy)*top + fy*bot))
		}
	}
	return dst
}

// stretch applies a saturating linear gain/bias to every pixel.
func stretch(src *image.Gray, gain float64, bias int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	var lut [256]uint8
	for i := range lut {
		lut[i] = uint8(clampInt(int(math.Round(gain*float64(i)))+bias, 0, 255))
	}
	for y := 0; y < h; y++ {
		srow := src.Pix[y*src.Stride : y*src.Stride+w]
		drow := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x, v := range srow {
			drow[x] = lut[v]
		}
	}
	return dst
}

// adaptiveThreshold binarizes against a Gaussian-weighted local mean: a pixel
// becomes white when it exceeds mean-C, black otherwise.
func adaptiveThreshold(src *image.Gray, block, c int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	kernel := gaussianKernel(block)
	r := block / 2

	// horizontal pass, border replicated
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride:]
		for x := 0; x < w; x++ {
			var sum float64
			for k := -r; k <= r; k++ {
				sum += kernel[k+r] * float64(row[clampInt(x+k, 0, w-1)])
			}
			tmp[y*w+x] = sum
		}
	}

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var mean float64
			for k := -r; k <= r; k++ {
				mean += kernel[k+r] * tmp[clampInt(y+k, 0, h-1)*w+x]
			}
			if float64(src.Pix[y*src.Stride+x]) > mean-float64(c) {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

func gaussianKernel(size int) []float64 {
	// sigma chosen the way OpenCV derives it from the aperture size
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	k := make([]float64, size)
	r := size / 2
	var sum float64
	for i := range k {
		d := float64(i - r)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// medianDenoise applies a 3x3 median filter; on a binarized page this removes
// isolated speckle while keeping stroke edges intact.
func medianDenoise(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			white := 0
			for dy := -1; dy <= 1; dy++ {
				row := src.Pix[clampInt(y+dy, 0, h-1)*src.Stride:]
				for dx := -1; dx <= 1; dx++ {
					if row[clampInt(x+dx, 0, w-1)] > 127 {
						white++
					}
				}
			}
			if white >= 5 {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// morphClose2x2 dilates then erodes with a 2x2 structuring element,
// reconnecting character strokes broken by thresholding.
func morphClose2x2(src *image.Gray) *image.Gray {
	return erode2x2(dilate2x2(src))
}

func dilate2x2(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var v uint8
			for dy := 0; dy <= 1; dy++ {
				row := src.Pix[clampInt(y+dy, 0, h-1)*src.Stride:]
				for dx := 0; dx <= 1; dx++ {
					if p := row[clampInt(x+dx, 0, w-1)]; p > v {
						v = p
					}
				}
			}
			dst.Pix[y*dst.Stride+x] = v
		}
	}
	return dst
}

func erode2x2(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(255)
			for dy := 0; dy <= 1; dy++ {
				row := src.Pix[clampInt(y+dy, 0, h-1)*src.Stride:]
				for dx := 0; dx <= 1; dx++ {
					if p := row[clampInt(x+dx, 0, w-1)]; p < v {
						v = p
					}
				}
			}
			dst.Pix[y*dst.Stride+x] = v
		}
	}
	return dst
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
