package dib

import "sync"

// MaxChannelBits is the widest channel a TableCache can rescale.
const MaxChannelBits = 8

// TableCache holds one scale table per channel width (1..MaxChannelBits).
// Entry i of the table for width w is i*255/(2^w-1), so a raw w-bit value
// indexes straight to its 8-bit equivalent. Tables are built once, on first
// use, and are read-only afterwards; the zero value is ready to use.
type TableCache struct {
	once   sync.Once
	tables [MaxChannelBits][]byte
}

var sharedTables TableCache

// DefaultTables returns the process-wide cache shared by every Reader.
func DefaultTables() *TableCache {
	return &sharedTables
}

func (c *TableCache) build() {
	c.once.Do(func() {
		for i := range c.tables {
			c.tables[i] = scaleTable(1 << (i + 1))
		}
	})
}

func scaleTable(entries int) []byte {
	table := make([]byte, entries)
	for i := range table {
		table[i] = byte(i * 255 / (entries - 1))
	}
	return table
}

// Table returns the scale table for channels of the given bit width, or nil
// when bits is outside 1..MaxChannelBits.
func (c *TableCache) Table(bits int) []byte {
	if bits < 1 || bits > MaxChannelBits {
		return nil
	}
	c.build()
	return c.tables[bits-1]
}

// ForMask returns the table whose all-ones mask equals mask (0x1 for one
// bit up to 0xFF for eight), or nil when mask has any other shape.
func (c *TableCache) ForMask(mask uint32) []byte {
	c.build()
	for i := range c.tables {
		if mask == 1<<(i+1)-1 {
			return c.tables[i]
		}
	}
	return nil
}
