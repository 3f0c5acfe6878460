package corto

// Residue blocks: a bitstream of packed values followed by tunstall-coded
// bit widths. Widths above 32 are corrupt.

const maxWidth = 32

// decodeArray decodes n items of N components sharing one width per item.
// It returns the number of items present in the block.
func (s *stream) decodeArray(N int, values []int32) (int, error) {
	bits := s.bitStream()
	if s.err != nil {
		return 0, s.err
	}
	logs, err := readTunstall(s, len(values)/N)
	if err != nil {
		return 0, err
	}
	for i, w := range logs {
		if w == 0 {
			for c := 0; c < N; c++ {
				values[i*N+c] = 0
			}
			continue
		}
		if w > maxWidth {
			return 0, ErrTruncated
		}
		half := int32(uint32(1)<<w>>1)
		for c := 0; c < N; c++ {
			values[i*N+c] = int32(bits.read(uint(w))) - half
		}
	}
	if bits.overrun {
		return 0, ErrTruncated
	}
	return len(logs), nil
}

// decodeValues decodes n items of N components with one width stream per
// component. Values below half the range encode negatives.
func (s *stream) decodeValues(N int, values []int32) (int, error) {
	bits := s.bitStream()
	if s.err != nil {
		return 0, s.err
	}
	count := 0
	for c := 0; c < N; c++ {
		logs, err := readTunstall(s, len(values)/N)
		if err != nil {
			return 0, err
		}
		for i, w := range logs {
			if w == 0 {
				values[i*N+c] = 0
				continue
			}
			if w > maxWidth {
				return 0, ErrTruncated
			}
			val := int64(bits.read(uint(w)))
			middle := int64(1) << (w - 1)
			if val < middle {
				val = -val - middle
			}
			values[i*N+c] = int32(val)
		}
		count = len(logs)
	}
	if bits.overrun {
		return 0, ErrTruncated
	}
	return count, nil
}

// decodeDiffs decodes a single-component signed list.
func (s *stream) decodeDiffs(values []int32) (int, error) {
	return s.decodeArray(1, values)
}

// decodeIndices decodes a non-negative list where width w encodes
// values in [2^w - 1, 2^(w+1) - 1).
func (s *stream) decodeIndices(values []uint32) (int, error) {
	bits := s.bitStream()
	if s.err != nil {
		return 0, s.err
	}
	logs, err := readTunstall(s, len(values))
	if err != nil {
		return 0, err
	}
	for i, w := range logs {
		if w == 0 {
			values[i] = 0
			continue
		}
		if w >= maxWidth {
			return 0, ErrTruncated
		}
		values[i] = uint32(1)<<w + bits.read(uint(w)) - 1
	}
	if bits.overrun {
		return 0, ErrTruncated
	}
	return len(logs), nil
}
