package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
)

const (
	// MaxImageSizeBytes is the maximum encoded image size sent to an engine (20MB)
	MaxImageSizeBytes = 20 * 1024 * 1024

	// DefaultThresholdLevel splits gray levels into black (< level) and white.
	DefaultThresholdLevel = 128
)

// PreprocessOptions selects the image transforms applied before OCR.
type PreprocessOptions struct {
	Grayscale      bool
	Threshold      bool
	ThresholdLevel uint8   // 0 means DefaultThresholdLevel
	Contrast       float64 // percentage in [-100, 100], 0 leaves contrast unchanged
	MaxHeight      int     // downscale taller images, 0 disables
}

// DefaultPreprocessOptions converts to grayscale and leaves thresholding off.
func DefaultPreprocessOptions() PreprocessOptions {
	return PreprocessOptions{
		Grayscale:      true,
		ThresholdLevel: DefaultThresholdLevel,
	}
}

// Preprocess applies opts to img and returns the transformed image. The input is
// not modified.
func Preprocess(img image.Image, opts PreprocessOptions) image.Image {
	out := img
	if opts.MaxHeight > 0 && out.Bounds().Dy() > opts.MaxHeight {
		out = imaging.Resize(out, 0, opts.MaxHeight, imaging.Lanczos)
	}
	if opts.Grayscale {
		out = imaging.Grayscale(out)
	}
	if opts.Contrast != 0 {
		out = imaging.AdjustContrast(out, opts.Contrast)
	}
	if opts.Threshold {
		level := opts.ThresholdLevel
		if level == 0 {
			level = DefaultThresholdLevel
		}
		out = binarize(out, level)
	}
	return out
}

// binarize maps every pixel whose gray level is below threshold to black and
// every other pixel to white.
func binarize(img image.Image, threshold uint8) *image.NRGBA {
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bb, _ := img.At(x, y).RGBA()
			gray := uint8(((r + g + bb) / 3) >> 8)
			var v uint8 = 255
			if gray < threshold {
				v = 0
			}
			out.SetNRGBA(x-b.Min.X, y-b.Min.Y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return out
}

// DecodeImage decodes a PNG, JPEG, GIF, TIFF or BMP image, honouring EXIF orientation.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// OpenImage decodes the image stored at path.
func OpenImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return img, nil
}

// EncodePNG encodes img as PNG and enforces MaxImageSizeBytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if buf.Len() > MaxImageSizeBytes {
		return nil, fmt.Errorf("%w: encoded size %d bytes", ErrImageTooLarge, buf.Len())
	}
	return buf.Bytes(), nil
}
