package dib

import (
	"errors"
	"fmt"
)

var (
	ErrNegativeWidth          = errors.New("dib: width must be non-negative")
	ErrDimensions             = errors.New("dib: dimensions out of bounds")
	ErrUnsupportedDepth       = errors.New("dib: unsupported bit depth")
	ErrUnsupportedCompression = errors.New("dib: unsupported compression")
	ErrChannelTooWide         = errors.New("dib: channel bit width too large")
	ErrChannelMask            = errors.New("dib: channel bit mask not contiguous")
)

// MaxDimension bounds both |width| and |height|.
const MaxDimension = 1 << 30

var channelNames = [4]string{"red", "green", "blue", "alpha"}

// CheckFormat reports whether src can be decoded. It returns nil or an error
// wrapping one of the Err* values above; the checks run in a fixed order and
// the first failure wins.
func CheckFormat(src Source) error {
	width, height := src.Width(), src.Height()

	if width < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeWidth, width)
	}

	if width > MaxDimension || height < -MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: %dx%d", ErrDimensions, width, height)
	}

	switch src.Depth() {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: %d", ErrUnsupportedDepth, src.Depth())
	}

	switch src.Compression() {
	case CompressionRGB, CompressionBitFields:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCompression, src.Compression())
	}

	masks := channelMasks(src)
	for i, m := range masks {
		f := DecodeBitfield(m)
		if f.Mask > 1<<MaxChannelBits-1 {
			return fmt.Errorf("%w: %s mask %#08x", ErrChannelTooWide, channelNames[i], m)
		}
	}

	for i, m := range masks {
		if !DecodeBitfield(m).Contiguous() {
			return fmt.Errorf("%w: %s mask %#08x", ErrChannelMask, channelNames[i], m)
		}
	}

	return nil
}
