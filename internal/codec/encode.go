// Package codec encodes decoded frames for output and unwraps compressed
// pixel payloads.
package codec

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

var ErrUnknownFormat = errors.New("codec: unknown output format")

// Format is an output encoding for decoded frames.
type Format string

const (
	FormatPNG  Format = "png"
	FormatTIFF Format = "tiff"
	FormatRGBA Format = "rgba" // raw R, G, B, A bytes, top-down
	FormatBGRA Format = "bgra" // raw B, G, R, A bytes, top-down
)

// ParseFormat parses a format name. "tif" is accepted for TIFF.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return FormatPNG, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	case "rgba", "raw":
		return FormatRGBA, nil
	case "bgra":
		return FormatBGRA, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// FormatForPath picks a format from the extension of path.
func FormatForPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("%w: %s has no extension", ErrUnknownFormat, path)
	}
	return ParseFormat(ext)
}

// Extension returns the conventional file extension, including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Encode writes img to w in format f.
func Encode(w io.Writer, img *image.NRGBA, f Format) error {
	switch f {
	case FormatPNG:
		return png.Encode(w, img)
	case FormatTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case FormatRGBA:
		return writeRows(w, img, false)
	case FormatBGRA:
		return writeRows(w, img, true)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, string(f))
}

func writeRows(w io.Writer, img *image.NRGBA, swap bool) error {
	b := img.Bounds()
	rowBytes := b.Dx() * 4
	row := make([]byte, rowBytes)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		start := img.PixOffset(b.Min.X, y)
		src := img.Pix[start : start+rowBytes]
		if swap {
			RGBAToBGRA(src, row)
		} else {
			copy(row, src)
		}
		if _, err := w.Write(row); err != nil {
			return err
		}
	}

	return nil
}
