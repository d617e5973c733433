package dib

import (
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrImageTooLarge is returned when the decoded buffer would exceed the
// caller's byte limit.
var ErrImageTooLarge = errors.New("dib: decoded image too large")

// DefaultMaxDecodedBytes bounds Decode and DecodeImage.
const DefaultMaxDecodedBytes = 1 << 31

// Order selects the byte order of decoded pixels.
type Order int

const (
	// OrderABGR writes R, G, B, A bytes (image.NRGBA layout, canvas ImageData).
	OrderABGR Order = iota
	// OrderARGB writes B, G, R, A bytes (little-endian 0xAARRGGBB words).
	OrderARGB
)

func (o Order) String() string {
	if o == OrderARGB {
		return "argb"
	}
	return "abgr"
}

// ParseOrder parses "argb" or "abgr" (case-insensitive).
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abgr", "rgba":
		return OrderABGR, nil
	case "argb", "bgra":
		return OrderARGB, nil
	}
	return 0, fmt.Errorf("dib: unknown pixel order %q", s)
}

// Decode converts every row of src, top row first, into a single buffer of
// Width()*|Height()|*4 bytes. Images larger than DefaultMaxDecodedBytes are
// rejected with ErrImageTooLarge.
func Decode(src Source, order Order) ([]byte, error) {
	return DecodeLimit(src, order, DefaultMaxDecodedBytes)
}

// DecodeLimit is like Decode but rejects output larger than maxBytes.
// A non-positive maxBytes selects DefaultMaxDecodedBytes.
func DecodeLimit(src Source, order Order, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDecodedBytes
	}

	r := NewReader(src)
	if err := r.Start(); err != nil {
		return nil, err
	}

	// width and rows are at most MaxDimension, so the product fits in int64
	size := int64(r.Width()) * int64(r.Rows()) * 4
	if size > maxBytes {
		return nil, fmt.Errorf("%w: %dx%d needs %d bytes, limit %d",
			ErrImageTooLarge, r.Width(), r.Rows(), size, maxBytes)
	}

	rowBytes := r.Width() * 4
	out := make([]byte, size)

	for y := 0; y < r.Rows(); y++ {
		line := out[y*rowBytes : (y+1)*rowBytes]
		if order == OrderARGB {
			r.ReadLineARGB(line, y)
		} else {
			r.ReadLineABGR(line, y)
		}
	}

	return out, nil
}

// DecodeImage converts src into an NRGBA image.
func DecodeImage(src Source) (*image.NRGBA, error) {
	return DecodeImageLimit(src, DefaultMaxDecodedBytes)
}

// DecodeImageLimit is like DecodeImage but rejects pixel buffers larger
// than maxBytes.
func DecodeImageLimit(src Source, maxBytes int64) (*image.NRGBA, error) {
	pix, err := DecodeLimit(src, OrderABGR, maxBytes)
	if err != nil {
		return nil, err
	}

	w, h := src.Width(), absInt(src.Height())
	return &image.NRGBA{
		Pix:    pix,
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}, nil
}
