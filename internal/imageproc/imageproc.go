// Package imageproc decodes, resizes, and encodes images for thumbnail and
// cache generation.
//
// Two decode paths exist: a libvips fast path with decode-time shrinking
// (when the library is present at startup) and a pure-Go fallback using
// imaging plus the x/image decoders. Video files yield a single extracted
// frame via ffmpeg.
package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"strings"

	"collection-viewer/internal/errs"
	"collection-viewer/internal/logging"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
)

const (
	// MaxImageDimension is the largest width or height decoded at full
	// resolution; anything bigger is downscaled during load.
	MaxImageDimension = 4096

	// MaxImagePixels bounds total decoded pixels. 20MP decodes to roughly
	// 80MB of RGBA, which is the most one worker is allowed to hold.
	MaxImagePixels = 20_000_000
)

// Dimensions holds a width and height pair.
type Dimensions struct {
	Width  int
	Height int
}

// Pixels returns the total pixel count.
func (d Dimensions) Pixels() int {
	return d.Width * d.Height
}

// Probe returns image dimensions without decoding pixel data.
func Probe(path string) (Dimensions, error) {
	file, err := os.Open(path)
	if err != nil {
		return Dimensions{}, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			logging.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	config, _, err := image.DecodeConfig(file)
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: config.Width, Height: config.Height}, nil
}

// ProbeBytes returns image dimensions from an in-memory encoding.
func ProbeBytes(data []byte) (Dimensions, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Dimensions{}, err
	}
	return Dimensions{Width: config.Width, Height: config.Height}, nil
}

// LoadConstrained loads an image, downscaling during load when it exceeds
// the dimension or pixel limits so a pathological input cannot exhaust the
// worker's memory.
func LoadConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	dims, err := Probe(path)
	if err != nil {
		logging.Debug("Could not probe %s: %v, loading directly", path, err)
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	target, constrained := constrain(dims, maxDimension, maxPixels)
	if !constrained {
		return imaging.Open(path, imaging.AutoOrientation(true))
	}

	logging.Info("Constraining large image %s from %dx%d to %dx%d",
		path, dims.Width, dims.Height, target.Width, target.Height)

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	return imaging.Resize(img, target.Width, target.Height, imaging.Lanczos), nil
}

// constrain computes downscaled dimensions honoring first the per-side
// limit, then the pixel budget. The second return reports whether any
// constraint applied.
func constrain(dims Dimensions, maxDimension, maxPixels int) (Dimensions, bool) {
	if dims.Width <= maxDimension && dims.Height <= maxDimension && dims.Pixels() <= maxPixels {
		return dims, false
	}

	target := dims
	if dims.Width > maxDimension || dims.Height > maxDimension {
		if dims.Width > dims.Height {
			target.Width = maxDimension
			target.Height = dims.Height * maxDimension / dims.Width
		} else {
			target.Height = maxDimension
			target.Width = dims.Width * maxDimension / dims.Height
		}
	}
	if target.Pixels() > maxPixels {
		scale := float64(maxPixels) / float64(target.Pixels())
		target.Width = int(float64(target.Width) * scale)
		target.Height = int(float64(target.Height) * scale)
	}
	return target, true
}

// Fit scales an image to fit within the bounding box, preserving aspect
// ratio. Lanczos is the resampling kernel everywhere in this package.
func Fit(img image.Image, width, height int) image.Image {
	return imaging.Fit(img, width, height, imaging.Lanczos)
}

// DecodeBytes decodes an in-memory encoded image with auto-orientation.
func DecodeBytes(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

// Encode writes img in the named format. Quality applies to jpeg and webp.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "jpg", "jpeg", "":
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	case "gif":
		return imaging.Encode(w, img, imaging.GIF)
	case "bmp":
		return imaging.Encode(w, img, imaging.BMP)
	case "tiff", "tif":
		return imaging.Encode(w, img, imaging.TIFF)
	case "webp":
		opts, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return fmt.Errorf("webp encoder options: %w", err)
		}
		return webp.Encode(w, img, opts)
	default:
		return errs.Validationf("unsupported image format %q", format)
	}
}

// EncodeBytes is Encode into a fresh buffer.
func EncodeBytes(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, format, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SniffFormat reads the magic bytes of a file and names the actual encoding,
// for the cases where the extension lies. Returns "unknown" for anything
// unrecognized.
func SniffFormat(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	header := make([]byte, 16)
	n, err := file.Read(header)
	if err != nil {
		return "", err
	}
	return sniffHeader(header[:n]), nil
}

// SniffBytes names the encoding of an in-memory payload by its magic bytes.
func SniffBytes(data []byte) string {
	return sniffHeader(data)
}

func sniffHeader(h []byte) string {
	switch {
	case len(h) >= 3 && h[0] == 0xFF && h[1] == 0xD8 && h[2] == 0xFF:
		return "jpeg"
	case len(h) >= 8 && h[0] == 0x89 && h[1] == 0x50 && h[2] == 0x4E && h[3] == 0x47:
		return "png"
	case len(h) >= 4 && h[0] == 0x47 && h[1] == 0x49 && h[2] == 0x46 && h[3] == 0x38:
		return "gif"
	case len(h) >= 12 && h[0] == 0x52 && h[1] == 0x49 && h[2] == 0x46 && h[3] == 0x46 &&
		h[8] == 0x57 && h[9] == 0x45 && h[10] == 0x42 && h[11] == 0x50:
		return "webp"
	case len(h) >= 2 && h[0] == 0x42 && h[1] == 0x4D:
		return "bmp"
	case len(h) >= 4 && ((h[0] == 0x49 && h[1] == 0x49 && h[2] == 0x2A && h[3] == 0x00) ||
		(h[0] == 0x4D && h[1] == 0x4D && h[2] == 0x00 && h[3] == 0x2A)):
		return "tiff"
	}
	return "unknown"
}

// DecodeFile runs the decode ladder: imaging first, then the stdlib decoder
// registry, then ffmpeg for formats Go cannot handle. Each failure is logged
// at debug and the next rung tried.
func DecodeFile(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err == nil {
		return img, nil
	}
	logging.Debug("imaging.Open failed for %s: %v, trying stdlib decode", path, err)

	if format, sniffErr := SniffFormat(path); sniffErr == nil {
		logging.Debug("Detected format %s for %s", format, path)
	}

	img, err = decodeWithRegistry(path)
	if err == nil {
		return img, nil
	}
	logging.Debug("Standard decode failed for %s: %v, trying ffmpeg fallback", path, err)

	img, err = decodeWithFFmpeg(path)
	if err != nil {
		return nil, fmt.Errorf("all image decode methods failed for %s: %w", path, err)
	}
	return img, nil
}

func decodeWithRegistry(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, format, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	logging.Debug("Decoded image format: %s for %s", format, path)
	return img, nil
}
