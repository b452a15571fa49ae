package imageprep

import (
	"image"
	"log/slog"

	"github.com/disintegration/imaging"
)

const cropQuality = 90

// CropTop returns the top fraction of the image, at least minPx tall, as a
// JPEG. It returns nil if the image cannot be read.
func CropTop(data []byte, fraction float64, minPx int) []byte {
	img, err := Decode(data)
	if err != nil {
		slog.Warn("top region crop failed", "error", err)
		return nil
	}
	b := img.Bounds()
	h := min(max(int(float64(b.Dy())*fraction), minPx), b.Dy())
	return crop(img, image.Rect(0, 0, b.Dx(), h))
}

// CropBottom returns the bottom fraction of the image as a JPEG. It returns
// nil if the image cannot be read.
func CropBottom(data []byte, fraction float64) []byte {
	img, err := Decode(data)
	if err != nil {
		slog.Warn("bottom region crop failed", "error", err)
		return nil
	}
	b := img.Bounds()
	start := max(int(float64(b.Dy())*(1-fraction)), 0)
	return crop(img, image.Rect(0, start, b.Dx(), b.Dy()))
}

func crop(img image.Image, r image.Rectangle) []byte {
	if r.Empty() {
		return nil
	}
	out, err := encodeJPEG(imaging.Crop(img, r.Add(img.Bounds().Min)), cropQuality)
	if err != nil {
		slog.Warn("region crop failed", "error", err)
		return nil
	}
	return out
}
