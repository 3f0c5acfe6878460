package corto

import (
	"bytes"
	"errors"
	"testing"
)

func decodeBlock(t *testing.T, block []byte, limit int) ([]byte, error) {
	t.Helper()
	s := newStream(block)
	return readTunstall(s, limit)
}

func TestTunstall_SingleSymbol(t *testing.T) {
	var p payload
	p.u8(1)
	p.u8(7)
	p.u8(255)
	p.i32(1000)
	p.i32(0)

	out, err := decodeBlock(t, p.bytes(), 1000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1000 {
		t.Fatalf("expected 1000 symbols, got %d", len(out))
	}
	for i, b := range out {
		if b != 7 {
			t.Fatalf("symbol %d: expected 7, got %d", i, b)
		}
	}
}

func TestTunstall_RoundTrip(t *testing.T) {
	skewed := make([]byte, 3000)
	for i := range skewed {
		if i%97 == 0 {
			skewed[i] = 1
		}
	}
	mixed := make([]byte, 5000)
	for i := range mixed {
		mixed[i] = byte((i*i + 3*i) % 11)
	}
	wide := make([]byte, 4016)
	for i := range wide {
		wide[i] = byte((i * 37) % 251)
	}

	tests := []struct {
		name    string
		symbols []byte
	}{
		{"two symbols", []byte{0, 1, 0, 0, 1, 1, 0, 1, 0, 0, 0}},
		{"skewed", skewed},
		{"mixed", mixed},
		{"wide alphabet", wide},
		{"short tail", []byte{3, 3, 3, 4, 5, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p payload
			p.tunstall(tt.symbols)

			out, err := decodeBlock(t, p.bytes(), len(tt.symbols))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(out, tt.symbols) {
				t.Error("decoded symbols differ from input")
			}
		})
	}
}

func TestTunstall_Idempotent(t *testing.T) {
	symbols := make([]byte, 800)
	for i := range symbols {
		symbols[i] = byte(i % 5)
	}
	var p payload
	p.tunstall(symbols)
	block := p.bytes()

	first, err := decodeBlock(t, block, len(symbols))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := decodeBlock(t, block, len(symbols))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("decoding the same block twice gave different results")
	}
}

func TestTunstall_Errors(t *testing.T) {
	tooLarge := func() []byte {
		var p payload
		p.u8(2)
		p.buf.Write([]byte{0, 200, 1, 55})
		p.i32(maxDeclaredSize + 1)
		p.i32(1)
		p.u8(0)
		return p.bytes()
	}
	overLimit := func() []byte {
		var p payload
		p.tunstall([]byte{1, 2, 1, 2, 1, 1})
		return p.bytes()
	}
	overflow := func() []byte {
		var p payload
		p.u8(2)
		p.buf.Write([]byte{0, 200, 1, 55})
		p.i32(1)
		p.i32(3)
		p.buf.Write([]byte{0, 0, 0})
		return p.bytes()
	}
	noAlphabet := func() []byte {
		var p payload
		p.u8(0)
		p.i32(5)
		p.i32(0)
		return p.bytes()
	}

	tests := []struct {
		name    string
		block   []byte
		limit   int
		wantErr error
	}{
		{"declared size above ceiling", tooLarge(), maxDeclaredSize * 2, ErrTooLarge},
		{"declared size above limit", overLimit(), 3, ErrOutputTooSmall},
		{"more words than declared size", overflow(), 100, ErrOutputTooSmall},
		{"empty alphabet", noAlphabet(), 100, ErrTruncated},
		{"truncated header", []byte{2, 0}, 100, ErrTruncated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeBlock(t, tt.block, tt.limit)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestTunstall_DictionarySize(t *testing.T) {
	tests := []struct {
		name  string
		probs []byte
	}{
		{"two", []byte{0, 128, 1, 127}},
		{"skewed", []byte{0, 250, 1, 5}},
		{"five", []byte{0, 100, 1, 60, 2, 50, 3, 30, 4, 15}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tab := newTunstall(tt.probs)
			if tab.words > dictionarySize {
				t.Errorf("dictionary has %d words", tab.words)
			}
			if len(tab.index) != tab.words || len(tab.lengths) != tab.words {
				t.Errorf("tables hold %d/%d entries for %d words", len(tab.index), len(tab.lengths), tab.words)
			}
			for w := 0; w < tab.words; w++ {
				if tab.lengths[w] == 0 {
					t.Errorf("word %d is empty", w)
				}
				if int(tab.index[w]+tab.lengths[w]) > len(tab.table) {
					t.Errorf("word %d runs past the table", w)
				}
			}
		})
	}
}

func TestTunstall_LastWordAddressable(t *testing.T) {
	// Two symbols overshoot the dictionary by one word while growing.
	tab := newTunstall([]byte{0, 128, 1, 127})
	if tab.words != dictionarySize {
		t.Fatalf("words = %d, want %d", tab.words, dictionarySize)
	}
	last := byte(dictionarySize - 1)
	size := int(tab.lengths[last])
	out, err := tab.decompress([]byte{last}, size)
	if err != nil {
		t.Fatalf("decompress: %v", err)
	}
	start := tab.index[last]
	if string(out) != string(tab.table[start:start+tab.lengths[last]]) {
		t.Errorf("word %d decoded as %v", last, out)
	}
}
