// Package dib decodes uncompressed Device-Independent Bitmap pixel data
// (16/24/32 bpp, BI_RGB or BI_BITFIELDS) into 8-bit-per-channel pixels.
package dib

import (
	"fmt"
	"strings"
)

// Compression is the biCompression value of a DIB header.
type Compression uint32

const (
	CompressionRGB            Compression = 0
	CompressionRLE8           Compression = 1
	CompressionRLE4           Compression = 2
	CompressionBitFields      Compression = 3
	CompressionJPEG           Compression = 4
	CompressionPNG            Compression = 5
	CompressionAlphaBitFields Compression = 6
)

var compressionNames = map[Compression]string{
	CompressionRGB:            "rgb",
	CompressionRLE8:           "rle8",
	CompressionRLE4:           "rle4",
	CompressionBitFields:      "bitfields",
	CompressionJPEG:           "jpeg",
	CompressionPNG:            "png",
	CompressionAlphaBitFields: "alphabitfields",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", uint32(c))
}

// ParseCompression parses a compression name as produced by String.
// An empty string selects CompressionRGB.
func ParseCompression(s string) (Compression, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CompressionRGB, nil
	}
	for c, name := range compressionNames {
		if name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCompression, s)
}

// Source describes the pixel array of a bitmap. Implementations must not
// change any value while a Reader built on them is in use.
type Source interface {
	Width() int
	// Height is negative for top-down bitmaps.
	Height() int
	Depth() int
	Compression() Compression
	RedMask() uint32
	GreenMask() uint32
	BlueMask() uint32
	AlphaMask() uint32
	Data() []byte
	// Stride is the number of bytes per row, padding included.
	Stride() int
}

// Info holds the DIB header fields needed to interpret a pixel array.
type Info struct {
	Width       int32
	Height      int32
	BitCount    uint16
	Compression Compression
	RedMask     uint32
	GreenMask   uint32
	BlueMask    uint32
	AlphaMask   uint32
	// RowStride of 0 means the 4-byte aligned stride implied by Width and BitCount.
	RowStride int
}

// Bitmap is an in-memory Source.
type Bitmap struct {
	Info Info
	Pix  []byte
}

var _ Source = (*Bitmap)(nil)

func (b *Bitmap) Width() int               { return int(b.Info.Width) }
func (b *Bitmap) Height() int              { return int(b.Info.Height) }
func (b *Bitmap) Depth() int               { return int(b.Info.BitCount) }
func (b *Bitmap) Compression() Compression { return b.Info.Compression }
func (b *Bitmap) RedMask() uint32          { return b.Info.RedMask }
func (b *Bitmap) GreenMask() uint32        { return b.Info.GreenMask }
func (b *Bitmap) BlueMask() uint32         { return b.Info.BlueMask }
func (b *Bitmap) AlphaMask() uint32        { return b.Info.AlphaMask }
func (b *Bitmap) Data() []byte             { return b.Pix }

func (b *Bitmap) Stride() int {
	if b.Info.RowStride > 0 {
		return b.Info.RowStride
	}
	return MinStride(b.Width(), b.Depth())
}

// MinStride returns the row size of a DIB with the given width and depth,
// rounded up to a multiple of four bytes.
func MinStride(width, depth int) int {
	return ((width*depth + 31) / 32) * 4
}

// BytesPerPixel returns the size of one packed pixel for depth.
func BytesPerPixel(depth int) int {
	return depth / 8
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
