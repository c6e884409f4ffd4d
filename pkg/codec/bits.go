package codec

// bitReader reads MSB-first bit fields, as laid out in 3GPP RLC headers.
type bitReader struct {
	b   []byte
	off int // in bits
}

func (r *bitReader) read(n int) (uint32, error) {
	if r.off+n > len(r.b)*8 {
		return 0, ErrShortBuffer
	}
	var v uint32
	for i := 0; i < n; i++ {
		bit := (r.b[r.off>>3] >> (7 - uint(r.off&7))) & 1
		v = v<<1 | uint32(bit)
		r.off++
	}
	return v, nil
}

func (r *bitReader) flag() (bool, error) {
	v, err := r.read(1)
	return v == 1, err
}

// padBits is the number of bits left before the next byte boundary.
func (r *bitReader) padBits() int {
	return (8 - r.off%8) % 8
}

// consumed returns the number of whole bytes touched so far.
func (r *bitReader) consumed() int {
	return (r.off + 7) / 8
}

type bitWriter struct {
	b   []byte
	off int
}

func (w *bitWriter) write(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.off%8 == 0 {
			w.b = append(w.b, 0)
		}
		if (v>>uint(i))&1 == 1 {
			w.b[len(w.b)-1] |= 1 << (7 - uint(w.off%8))
		}
		w.off++
	}
}

func (w *bitWriter) flag(f bool) {
	if f {
		w.write(1, 1)
		return
	}
	w.write(0, 1)
}

func (w *bitWriter) padBits() int {
	return (8 - w.off%8) % 8
}

func (w *bitWriter) bytes() []byte {
	return w.b
}
