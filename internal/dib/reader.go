package dib

import "fmt"

// channel binds a bitfield to the scale table matching its width.
type channel struct {
	field Bitfield
	table []byte
}

func (c channel) value(pixel uint32) byte {
	raw := c.field.Extract(pixel)
	if int(raw) >= len(c.table) {
		return 0
	}
	return c.table[raw]
}

// Reader converts rows of a Source into 32-bit pixels. Call Start once
// before reading lines.
type Reader struct {
	src    Source
	tables *TableCache

	width   int
	height  int
	stride  int
	bpp     int
	started bool

	red, green, blue, alpha channel
}

// NewReader returns a Reader over src that uses the shared scale tables.
func NewReader(src Source) *Reader {
	return NewReaderWithTables(src, DefaultTables())
}

// NewReaderWithTables returns a Reader over src that binds its channels to
// tables from the given cache.
func NewReaderWithTables(src Source, tables *TableCache) *Reader {
	return &Reader{src: src, tables: tables}
}

// CheckFormat validates the underlying source. See CheckFormat.
func (r *Reader) CheckFormat() error {
	return CheckFormat(r.src)
}

// Start validates the source, decodes its channel layout and binds each
// channel to a scale table.
func (r *Reader) Start() error {
	if err := r.CheckFormat(); err != nil {
		return err
	}

	masks := channelMasks(r.src)
	channels := [4]*channel{&r.red, &r.green, &r.blue, &r.alpha}
	for i, c := range channels {
		c.field = DecodeBitfield(masks[i])
		c.table = r.tables.ForMask(c.field.Mask)

		// alpha never reaches the output, an unbound table is harmless there
		if c.table == nil && c.field.Mask != 0 && c != &r.alpha {
			return fmt.Errorf("%w: %s mask %#08x", ErrChannelMask, channelNames[i], masks[i])
		}
	}

	r.width = r.src.Width()
	r.height = r.src.Height()
	r.stride = r.src.Stride()
	r.bpp = BytesPerPixel(r.src.Depth())
	r.started = true

	return nil
}

// Width returns the number of pixels per line.
func (r *Reader) Width() int {
	return r.width
}

// Rows returns the number of lines that can be read.
func (r *Reader) Rows() int {
	return absInt(r.height)
}

// ReadLineARGB writes logical row `row` (0 is the top of the image) into dst
// as B, G, R, A bytes per pixel, the in-memory layout of a little-endian
// 0xAARRGGBB word. ReadLineARGB writes at most Width() pixels and never more
// than fit in dst; it writes nothing before a successful Start.
func (r *Reader) ReadLineARGB(dst []byte, row int) {
	r.readLine(dst, row, false)
}

// ReadLineABGR is like ReadLineARGB but writes R, G, B, A bytes per pixel.
func (r *Reader) ReadLineABGR(dst []byte, row int) {
	r.readLine(dst, row, true)
}

func (r *Reader) readLine(dst []byte, row int, rgbOrder bool) {
	if !r.started {
		return
	}

	n := r.width
	if fit := len(dst) / 4; n > fit {
		n = fit
	}

	line := row
	if r.height > 0 {
		line = r.height - 1 - row
	}

	data := r.src.Data()
	offset, ok := r.rowOffset(line, len(data))
	if !ok {
		clear(dst[:n*4])
		return
	}

	for i := 0; i < n; i++ {
		pixel := r.readPixel(data, offset)

		red := r.red.value(pixel)
		green := r.green.value(pixel)
		blue := r.blue.value(pixel)

		var alpha byte
		if red|green|blue != 0 {
			alpha = 0xFF
		}

		out := dst[i*4 : i*4+4]
		if rgbOrder {
			out[0], out[1], out[2] = red, green, blue
		} else {
			out[0], out[1], out[2] = blue, green, red
		}
		out[3] = alpha

		offset += r.bpp
	}
}

// rowOffset returns line*stride. It reports false when no pixel of the row
// can overlap size bytes of data, before the product can overflow.
func (r *Reader) rowOffset(line, size int) (int, bool) {
	stride := absInt(r.stride)
	if stride == 0 || line == 0 {
		return 0, true
	}

	reach := size + r.width*r.bpp
	if absInt(line) > reach/stride {
		return 0, false
	}
	return line * r.stride, true
}

// readPixel assembles the little-endian pixel at offset, or returns 0 when
// the pixel is not fully inside data.
func (r *Reader) readPixel(data []byte, offset int) uint32 {
	if offset < 0 || offset+r.bpp > len(data) {
		return 0
	}

	p := data[offset : offset+r.bpp]
	switch r.bpp {
	case 2:
		return uint32(p[0]) | uint32(p[1])<<8
	case 3:
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16
	case 4:
		return uint32(p[0]) | uint32(p[1])<<8 | uint32(p[2])<<16 | uint32(p[3])<<24
	}
	return 0
}
