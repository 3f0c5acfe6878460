package corto

// bitReader reads MSB-first bit fields packed into 32-bit words.
type bitReader struct {
	words   []uint32
	next    int
	current uint32
	pending uint
	overrun bool
}

func newBitReader(words []uint32) *bitReader {
	b := &bitReader{words: words, pending: 32}
	if len(words) > 0 {
		b.current = words[0]
		b.next = 1
	} else {
		b.pending = 0
	}
	return b
}

func (b *bitReader) load() uint32 {
	if b.next >= len(b.words) {
		b.overrun = true
		return 0
	}
	w := b.words[b.next]
	b.next++
	return w
}

// read returns the next bits (at most 32) as an unsigned value.
func (b *bitReader) read(bits uint) uint32 {
	if bits == 0 {
		return 0
	}
	if bits > 32 {
		b.overrun = true
		return 0
	}
	if bits > b.pending {
		need := bits - b.pending
		result := uint64(b.current) << need
		b.current = b.load()
		b.pending = 32 - need
		result |= uint64(b.current >> b.pending)
		b.current &= lowMask(b.pending)
		return uint32(result)
	}
	b.pending -= bits
	result := b.current >> b.pending
	b.current &= lowMask(b.pending)
	return result
}

func lowMask(bits uint) uint32 {
	return uint32(uint64(1)<<bits - 1)
}
