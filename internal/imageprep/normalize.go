// Package imageprep turns receipt photos into images that OCR engines read
// well.
package imageprep

import (
	"image"
	"image/color"
	"log/slog"
	"math"

	"github.com/disintegration/imaging"
)

// Config holds the normalization tunables.
type Config struct {
	// MinEdge and MaxEdge bound the longest side of the output. MaxEdge
	// includes Padding on both sides.
	MinEdge int
	MaxEdge int

	// ContrastCutoff is the percentage of darkest and lightest pixels
	// ignored by the first autocontrast pass.
	ContrastCutoff float64
	// ContrastGain multiplies the distance of each level from mid-grey
	// after autocontrast.
	ContrastGain float64

	SharpenRadius    float64
	SharpenAmount    float64
	SharpenThreshold int

	// Pixels in [BandLow, BandHigh) count as mid-grey. When at least
	// BinarizeMass of all pixels are mid-grey the image is binarized with
	// Otsu's threshold; at least SoftenMass gets a second autocontrast with
	// SoftenCutoff instead.
	BandLow      int
	BandHigh     int
	BinarizeMass float64
	SoftenMass   float64
	SoftenCutoff float64

	Padding int
	Quality int
}

// DefaultConfig returns the tuning used for thermal receipts.
func DefaultConfig() Config {
	return Config{
		MinEdge:          1400,
		MaxEdge:          3000,
		ContrastCutoff:   0.5,
		ContrastGain:     1.6,
		SharpenRadius:    1.2,
		SharpenAmount:    1.6,
		SharpenThreshold: 2,
		BandLow:          80,
		BandHigh:         180,
		BinarizeMass:     0.70,
		SoftenMass:       0.45,
		SoftenCutoff:     1,
		Padding:          20,
		Quality:          88,
	}
}

// Normalizer prepares images for OCR.
type Normalizer struct {
	cfg Config
}

// New returns a Normalizer with the given config.
func New(cfg Config) *Normalizer {
	return &Normalizer{cfg: cfg}
}

// Normalize returns an OCR-ready JPEG. If data cannot be decoded it is
// returned unchanged.
func (n *Normalizer) Normalize(data []byte) []byte {
	img, err := Decode(data)
	if err != nil {
		slog.Warn("could not decode image, passing original bytes through", "error", err)
		return data
	}

	src := img.Bounds()
	out := n.resize(img)
	out = imaging.Grayscale(out)
	out = autocontrast(out, n.cfg.ContrastCutoff)
	out = imaging.AdjustContrast(out, contrastPercent(n.cfg.ContrastGain))
	out = unsharp(out, n.cfg.SharpenRadius, n.cfg.SharpenAmount, n.cfg.SharpenThreshold)
	out = median3(out)
	out = n.threshold(out)
	out = pad(out, n.cfg.Padding)

	encoded, err := encodeJPEG(out, n.cfg.Quality)
	if err != nil {
		slog.Warn("could not encode normalized image, passing original bytes through", "error", err)
		return data
	}

	slog.Debug("image normalized",
		"from", src.Size(),
		"to", out.Bounds().Size(),
		"in_kb", len(data)/1024,
		"out_kb", len(encoded)/1024,
	)
	return encoded
}

func (n *Normalizer) resize(img image.Image) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := max(w, h)
	maxLong := n.cfg.MaxEdge - 2*max(n.cfg.Padding, 0)
	minLong := min(n.cfg.MinEdge, maxLong)

	var scale float64
	switch {
	case long == 0:
		return imaging.Clone(img)
	case long < minLong:
		scale = float64(minLong) / float64(long)
	case long > maxLong:
		scale = float64(maxLong) / float64(long)
	default:
		return imaging.Clone(img)
	}
	return imaging.Resize(img, int(math.Round(float64(w)*scale)), int(math.Round(float64(h)*scale)), imaging.Lanczos)
}

func (n *Normalizer) threshold(img *image.NRGBA) *image.NRGBA {
	hist := histogram(img)
	var total, band int
	for v, count := range hist {
		total += count
		if v >= n.cfg.BandLow && v < n.cfg.BandHigh {
			band += count
		}
	}
	if total == 0 {
		return img
	}

	mass := float64(band) / float64(total)
	switch {
	case mass >= n.cfg.BinarizeMass:
		t := otsu(hist, total)
		slog.Debug("low contrast image, binarizing", "grey_mass", mass, "threshold", t)
		return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
			v := uint8(0)
			if int(c.R) > t {
				v = 255
			}
			return color.NRGBA{R: v, G: v, B: v, A: c.A}
		})
	case mass >= n.cfg.SoftenMass:
		return autocontrast(img, n.cfg.SoftenCutoff)
	}
	return img
}

// histogram counts grey levels using the red channel of a greyscale image.
func histogram(img *image.NRGBA) [256]int {
	var hist [256]int
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			hist[row[i]]++
		}
	}
	return hist
}

// autocontrast stretches grey levels so that, after discarding cutoff
// percent of pixels at each end, the darkest remaining level maps to 0 and
// the lightest to 255.
func autocontrast(img *image.NRGBA, cutoff float64) *image.NRGBA {
	hist := histogram(img)
	total := 0
	for _, c := range hist {
		total += c
	}
	if total == 0 {
		return img
	}

	cut := int(float64(total) * cutoff / 100)
	lo, hi := 0, 255
	for seen := 0; lo < 255; lo++ {
		seen += hist[lo]
		if seen > cut {
			break
		}
	}
	for seen := 0; hi > 0; hi-- {
		seen += hist[hi]
		if seen > cut {
			break
		}
	}
	if hi <= lo {
		return img
	}

	var lut [256]uint8
	scale := 255 / float64(hi-lo)
	for v := range lut {
		lut[v] = clamp(math.Round(float64(v-lo) * scale))
	}
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		return color.NRGBA{R: lut[c.R], G: lut[c.G], B: lut[c.B], A: c.A}
	})
}

// unsharp adds amount times the difference between the image and its blur
// wherever that difference reaches threshold.
func unsharp(img *image.NRGBA, radius, amount float64, threshold int) *image.NRGBA {
	blurred := imaging.Blur(img, radius)
	out := imaging.Clone(img)
	for i := 0; i < len(out.Pix); i++ {
		if i%4 == 3 {
			continue
		}
		diff := int(img.Pix[i]) - int(blurred.Pix[i])
		if diff < threshold && -diff < threshold {
			continue
		}
		out.Pix[i] = clamp(float64(img.Pix[i]) + float64(diff)*amount)
	}
	return out
}

// median3 replaces each pixel with the median of its 3x3 neighbourhood,
// clamping at the edges.
func median3(img *image.NRGBA) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := imaging.Clone(img)
	var win [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			k := 0
			for dy := -1; dy <= 1; dy++ {
				yy := min(max(y+dy, 0), h-1)
				for dx := -1; dx <= 1; dx++ {
					xx := min(max(x+dx, 0), w-1)
					win[k] = img.Pix[yy*img.Stride+xx*4]
					k++
				}
			}
			v := median9(win)
			i := y*out.Stride + x*4
			out.Pix[i], out.Pix[i+1], out.Pix[i+2] = v, v, v
		}
	}
	return out
}

func median9(w [9]uint8) uint8 {
	for i := 1; i < len(w); i++ {
		for j := i; j > 0 && w[j-1] > w[j]; j-- {
			w[j-1], w[j] = w[j], w[j-1]
		}
	}
	return w[4]
}

// otsu returns the grey level maximizing between-class variance.
func otsu(hist [256]int, total int) int {
	var sumAll float64
	for t, c := range hist {
		sumAll += float64(t * c)
	}

	var sumBg, maxVar float64
	wBg, threshold := 0, 128
	for t := 0; t < 256; t++ {
		wBg += hist[t]
		if wBg == 0 {
			continue
		}
		wFg := total - wBg
		if wFg == 0 {
			break
		}
		sumBg += float64(t * hist[t])
		meanBg := sumBg / float64(wBg)
		meanFg := (sumAll - sumBg) / float64(wFg)
		v := float64(wBg) * float64(wFg) * (meanBg - meanFg) * (meanBg - meanFg)
		if v > maxVar {
			maxVar = v
			threshold = t
		}
	}
	return threshold
}

func pad(img *image.NRGBA, px int) *image.NRGBA {
	if px <= 0 {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx()+2*px, b.Dy()+2*px, color.White)
	return imaging.Paste(bg, img, image.Pt(px, px))
}

// contrastPercent converts a gain factor into the percentage taken by
// imaging.AdjustContrast.
func contrastPercent(gain float64) float64 {
	if gain <= 1 {
		return (gain - 1) * 100
	}
	return 100 - 100/gain
}

func clamp(v float64) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
