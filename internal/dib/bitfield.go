package dib

import "math/bits"

// Bitfield locates one colour channel inside a packed pixel.
type Bitfield struct {
	Shift uint   // position of the channel's least significant bit
	Mask  uint32 // channel mask after shifting, (1<<width)-1 for a well-formed field
}

// DecodeBitfield converts a channel mask such as 0x7C00 into its shift and
// shifted mask ({10, 0x1F}). A zero mask yields the zero Bitfield.
// Masks with gaps are not corrected here; CheckFormat rejects them.
func DecodeBitfield(mask uint32) Bitfield {
	if mask == 0 {
		return Bitfield{}
	}

	shift := uint(bits.TrailingZeros32(mask))
	return Bitfield{Shift: shift, Mask: mask >> shift}
}

// Bits returns the width of the field's low contiguous run of set bits.
func (f Bitfield) Bits() int {
	return bits.TrailingZeros32(^f.Mask)
}

// Contiguous reports whether the field is absent or a single run of ones.
func (f Bitfield) Contiguous() bool {
	return f.Mask&(f.Mask+1) == 0
}

// Extract returns the raw channel value of pixel.
func (f Bitfield) Extract(pixel uint32) uint32 {
	return (pixel >> f.Shift) & f.Mask
}

// Default channel layouts for BI_RGB bitmaps.
const (
	rgb555RedMask   = 0x00007C00
	rgb555GreenMask = 0x000003E0
	rgb555BlueMask  = 0x0000001F

	rgb888RedMask   = 0x00FF0000
	rgb888GreenMask = 0x0000FF00
	rgb888BlueMask  = 0x000000FF
)

// channelMasks returns the red, green, blue and alpha masks that apply to
// src: the explicit masks for BI_BITFIELDS, the depth defaults otherwise.
func channelMasks(src Source) [4]uint32 {
	if src.Compression() == CompressionBitFields {
		return [4]uint32{src.RedMask(), src.GreenMask(), src.BlueMask(), src.AlphaMask()}
	}

	switch src.Depth() {
	case 16:
		return [4]uint32{rgb555RedMask, rgb555GreenMask, rgb555BlueMask, 0}
	case 24, 32:
		return [4]uint32{rgb888RedMask, rgb888GreenMask, rgb888BlueMask, 0}
	}
	return [4]uint32{}
}
