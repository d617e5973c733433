package codec

// FlipVertical flips bitmap data vertically (in-place).
// Decoded frames are top-down; this turns them into bottom-up rows when a
// consumer expects DIB row order.
func FlipVertical(data []byte, width, height, bytesPerPixel int) {
	if height <= 1 {
		return
	}

	rowDelta := width * bytesPerPixel
	if rowDelta <= 0 || len(data) < height*rowDelta {
		return
	}

	tmp := make([]byte, rowDelta)
	half := height / 2

	for i := 0; i < half; i++ {
		topLine := i * rowDelta
		bottomLine := (height - 1 - i) * rowDelta

		copy(tmp, data[topLine:topLine+rowDelta])
		copy(data[topLine:topLine+rowDelta], data[bottomLine:bottomLine+rowDelta])
		copy(data[bottomLine:bottomLine+rowDelta], tmp)
	}
}

// RGBAToBGRA swaps the red and blue bytes of 32-bit pixels.
// src and dst may be the same slice.
func RGBAToBGRA(src []byte, dst []byte) {
	for i := 0; i+3 < len(src) && i+3 < len(dst); i += 4 {
		r, g, b, a := src[i], src[i+1], src[i+2], src[i+3]
		dst[i] = b
		dst[i+1] = g
		dst[i+2] = r
		dst[i+3] = a
	}
}
