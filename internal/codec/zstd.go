package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

var ErrDecompressionFail = errors.New("codec: zstd decompression failed")

// DefaultMaxDecodedSize bounds the output of Decompress.
const DefaultMaxDecodedSize = 1 << 30

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// IsZstd reports whether data starts with a zstd frame header.
func IsZstd(data []byte) bool {
	return bytes.HasPrefix(data, zstdMagic)
}

// Decompress returns the decoded contents of a zstd payload, or data itself
// when it is not zstd-framed. Output larger than maxSize is an error; a
// maxSize of 0 selects DefaultMaxDecodedSize.
func Decompress(data []byte, maxSize uint64) ([]byte, error) {
	if !IsZstd(data) {
		return data, nil
	}

	if maxSize == 0 {
		maxSize = DefaultMaxDecodedSize
	}

	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxSize),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompressionFail, err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecompressionFail, err)
	}

	return out, nil
}

// Compress wraps data in a single zstd frame.
func Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	defer enc.Close()

	return enc.EncodeAll(data, nil), nil
}
