// Command dibconv converts raw DIB pixel data into PNG, TIFF or raw 32-bit
// pixels.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/rcarmo/go-dib/internal/codec"
	"github.com/rcarmo/go-dib/internal/dib"
	"github.com/rcarmo/go-dib/internal/logging"
)

var errUsage = errors.New("usage error")

const defaultMaxOutputBytes = 1 << 30

type options struct {
	in             string
	out            string
	width          int
	height         int
	depth          int
	compression    string
	masks          [4]string
	stride         int
	offset         int
	format         string
	bottomUpOutput bool
	maxBytes       int64
	logLevel       string
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			logging.Error("dibconv: %v", err)
		}
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	opts := &options{}

	fs := flag.NewFlagSet("dibconv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.in, "in", "-", "input file with raw pixel data (- for stdin)")
	fs.StringVar(&opts.out, "out", "-", "output file (- for stdout)")
	fs.IntVar(&opts.width, "width", 0, "image width in pixels")
	fs.IntVar(&opts.height, "height", 0, "image height; negative for top-down rows")
	fs.IntVar(&opts.depth, "depth", 24, "bits per pixel (16, 24, 32)")
	fs.StringVar(&opts.compression, "compression", "rgb", "compression (rgb, bitfields)")
	fs.StringVar(&opts.masks[0], "red-mask", "0", "red channel mask")
	fs.StringVar(&opts.masks[1], "green-mask", "0", "green channel mask")
	fs.StringVar(&opts.masks[2], "blue-mask", "0", "blue channel mask")
	fs.StringVar(&opts.masks[3], "alpha-mask", "0", "alpha channel mask (ignored)")
	fs.IntVar(&opts.stride, "stride", 0, "row stride in bytes (0 for 4-byte aligned rows)")
	fs.IntVar(&opts.offset, "offset", 0, "bytes to skip before pixel data")
	fs.StringVar(&opts.format, "format", "", "output format (png, tiff, rgba, bgra); default from -out extension")
	fs.BoolVar(&opts.bottomUpOutput, "bottom-up-output", false, "write raw output rows bottom-up")
	fs.Int64Var(&opts.maxBytes, "max-output-bytes", defaultMaxOutputBytes, "largest decoded pixel buffer to accept")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	if opts.maxBytes <= 0 {
		return nil, fmt.Errorf("%w: -max-output-bytes must be positive", errUsage)
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}

	return opts, nil
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	logging.SetLevelFromString(opts.logLevel)

	format, err := outputFormat(opts)
	if err != nil {
		return err
	}
	if opts.bottomUpOutput && format != codec.FormatRGBA && format != codec.FormatBGRA {
		return fmt.Errorf("-bottom-up-output needs a raw format, got %s", format)
	}

	bmp, err := loadBitmap(opts, stdin)
	if err != nil {
		return err
	}

	logging.Debug("decoding %dx%d depth=%d compression=%s stride=%d",
		bmp.Width(), bmp.Height(), bmp.Depth(), bmp.Compression(), bmp.Stride())

	img, err := dib.DecodeImageLimit(bmp, opts.maxBytes)
	if err != nil {
		return err
	}

	if opts.bottomUpOutput {
		b := img.Bounds()
		codec.FlipVertical(img.Pix, b.Dx(), b.Dy(), 4)
	}

	return writeOutput(opts.out, stdout, func(w io.Writer) error {
		return codec.Encode(w, img, format)
	})
}

func outputFormat(opts *options) (codec.Format, error) {
	if opts.format != "" {
		return codec.ParseFormat(opts.format)
	}
	if opts.out == "-" || opts.out == "" {
		return codec.FormatPNG, nil
	}
	return codec.FormatForPath(opts.out)
}

func loadBitmap(opts *options, stdin io.Reader) (*dib.Bitmap, error) {
	compression, err := dib.ParseCompression(opts.compression)
	if err != nil {
		return nil, err
	}

	var masks [4]uint32
	for i, s := range opts.masks {
		if masks[i], err = parseMask(s); err != nil {
			return nil, err
		}
	}

	if opts.width < 0 || opts.width > dib.MaxDimension {
		return nil, fmt.Errorf("width %d out of range", opts.width)
	}
	if opts.height < -dib.MaxDimension || opts.height > dib.MaxDimension {
		return nil, fmt.Errorf("height %d out of range", opts.height)
	}
	if opts.depth < 0 || opts.depth > 0xFFFF {
		return nil, fmt.Errorf("depth %d out of range", opts.depth)
	}

	raw, err := readInput(opts.in, stdin)
	if err != nil {
		return nil, err
	}
	if opts.offset < 0 || opts.offset > len(raw) {
		return nil, fmt.Errorf("offset %d outside %d input bytes", opts.offset, len(raw))
	}

	data, err := codec.Decompress(raw[opts.offset:], codec.DefaultMaxDecodedSize)
	if err != nil {
		return nil, err
	}

	return &dib.Bitmap{
		Info: dib.Info{
			Width:       int32(opts.width),
			Height:      int32(opts.height),
			BitCount:    uint16(opts.depth),
			Compression: compression,
			RedMask:     masks[0],
			GreenMask:   masks[1],
			BlueMask:    masks[2],
			AlphaMask:   masks[3],
			RowStride:   opts.stride,
		},
		Pix: data,
	}, nil
}

// parseMask accepts decimal, 0x-prefixed hex, or octal.
func parseMask(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mask %q: %w", s, err)
	}
	return uint32(v), nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" || path == "" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, stdout io.Writer, encode func(io.Writer) error) (err error) {
	if path == "-" || path == "" {
		bw := bufio.NewWriter(stdout)
		if err = encode(bw); err != nil {
			return err
		}
		return bw.Flush()
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriter(f)
	if err = encode(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return err
	}

	logging.Info("wrote %s", path)
	return nil
}
