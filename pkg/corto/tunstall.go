package corto

const (
	dictionarySize = 256
	// maxDeclaredSize bounds every declared decoded or compressed length.
	maxDeclaredSize = 100000000
)

// tunstall is a variable-to-fixed dictionary: each input byte selects a
// word, stored as an (offset, length) run in table.
type tunstall struct {
	probs   []byte
	index   []uint32
	lengths []uint32
	table   []byte
	words   int
}

// newTunstall builds the decoding tables for a (symbol, probability) list.
func newTunstall(probs []byte) *tunstall {
	t := &tunstall{probs: probs}
	t.build()
	return t
}

func (t *tunstall) symbols() int {
	return len(t.probs) / 2
}

func (t *tunstall) build() {
	n := t.symbols()
	if n <= 1 {
		return
	}

	// Worst case is two symbols: 2 + 2*254 queue slots.
	size := 2*dictionarySize + n
	queue := make([]uint32, size)
	t.index = make([]uint32, size)
	t.lengths = make([]uint32, size)
	starts := make([]uint32, n)
	table := make([]byte, 0, 8192)

	end := 0
	words := 0

	for i := 0; i < n; i++ {
		queue[i] = uint32(t.probs[2*i+1]) << 8
	}

	maxRepeat := (dictionarySize - 1) / (n - 1)
	repeat := 2
	p0 := queue[0]
	p1 := queue[1]
	prob := (p0 * p0) >> 16
	for prob > p1 && repeat < maxRepeat {
		prob = (prob * p0) >> 16
		repeat++
	}

	if repeat >= 16 {
		// Very skewed alphabet: seed runs of the dominant symbol.
		table = append(table, t.probs[0])
		for k := 1; k < n; k++ {
			for i := 0; i < repeat-1; i++ {
				table = append(table, t.probs[0])
			}
			table = append(table, t.probs[2*k])
		}
		starts[0] = uint32((repeat - 1) * n)
		for k := 1; k < n; k++ {
			starts[k] = uint32(k)
		}
		for col := 0; col < repeat; col++ {
			for row := 1; row < n; row++ {
				off := row + col*n
				if col > 0 {
					queue[off] = (prob * queue[row]) >> 16
				}
				t.index[off] = uint32(row*repeat - col)
				t.lengths[off] = uint32(col + 1)
			}
			if col == 0 {
				prob = p0
			} else {
				prob = (prob * p0) >> 16
			}
		}
		first := (repeat - 1) * n
		queue[first] = prob
		t.index[first] = 0
		t.lengths[first] = uint32(repeat)

		words = 1 + repeat*(n-1)
		end = repeat * n
	} else {
		for i := 0; i < n; i++ {
			queue[i] = uint32(t.probs[2*i+1]) << 8
			t.index[i] = uint32(i)
			t.lengths[i] = 1
			starts[i] = uint32(i)
			table = append(table, t.probs[2*i])
		}
		end = n
		words = n
	}

	// Grow the most probable word by every symbol until the dictionary is full.
	for words < dictionarySize {
		best := 0
		var maxProb uint32
		for i := 0; i < n; i++ {
			if p := queue[starts[i]]; p > maxProb {
				best = i
				maxProb = p
			}
		}
		start := starts[best]
		offset := t.index[start]
		length := t.lengths[start]

		i := 0
		for ; i < n; i++ {
			queue[end] = (queue[i] * queue[start]) >> 16
			t.index[end] = uint32(len(table))
			t.lengths[end] = length + 1
			end++

			table = append(table, table[offset:offset+length]...)
			table = append(table, t.probs[i*2])
			if i+words == dictionarySize-1 {
				break
			}
		}
		if i == n {
			starts[best] += uint32(n)
		}
		words += n - 1
	}

	// Drop the words that were expanded.
	word := 0
	for i, row := 0, 0; i < end; i, row = i+1, row+1 {
		if row >= n {
			row = 0
		}
		if starts[row] > uint32(i) {
			continue
		}
		t.index[word] = t.index[i]
		t.lengths[word] = t.lengths[i]
		word++
	}
	// The last growth step can stop after one child without retiring its
	// parent, leaving one word more than a byte can address. The encoder
	// never emits it.
	word = min(word, dictionarySize)
	t.words = word
	t.index = t.index[:word]
	t.lengths = t.lengths[:word]
	t.table = table
}

// decompress expands input into exactly size symbols.
func (t *tunstall) decompress(input []byte, size int) ([]byte, error) {
	out := make([]byte, size)
	if size == 0 {
		return out, nil
	}
	switch t.symbols() {
	case 0:
		return nil, ErrTruncated
	case 1:
		sym := t.probs[0]
		for i := range out {
			out[i] = sym
		}
		return out, nil
	}
	if len(input) == 0 {
		return nil, ErrTruncated
	}

	pos := 0
	for _, sym := range input[:len(input)-1] {
		if int(sym) >= t.words {
			return nil, ErrBadSymbol
		}
		start := t.index[sym]
		word := t.table[start : start+t.lengths[sym]]
		if pos+len(word) > size {
			return nil, ErrOutputTooSmall
		}
		pos += copy(out[pos:], word)
	}

	// The last word is truncated to fill the declared size.
	sym := input[len(input)-1]
	if int(sym) >= t.words {
		return nil, ErrBadSymbol
	}
	remaining := uint32(size - pos)
	if remaining > t.lengths[sym] {
		return nil, ErrTruncated
	}
	start := t.index[sym]
	copy(out[pos:], t.table[start:start+remaining])
	return out, nil
}

// readTunstall reads one entropy-coded block from s. limit bounds the
// decoded size; a block declaring more is rejected.
func readTunstall(s *stream, limit int) ([]byte, error) {
	nsymbols := int(s.u8())
	probs := s.take(nsymbols * 2)
	size := s.i32()
	compressed := s.i32()
	if s.err != nil {
		return nil, s.err
	}
	if size < 0 || size > maxDeclaredSize || compressed < 0 || compressed > maxDeclaredSize {
		return nil, ErrTooLarge
	}
	if int(size) > limit {
		return nil, ErrOutputTooSmall
	}
	data := s.take(int(compressed))
	if s.err != nil {
		return nil, s.err
	}
	return newTunstall(probs).decompress(data, int(size))
}
