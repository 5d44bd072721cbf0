package txn

import (
	"bytes"
	"errors"
	"io"
)

var errShortVecOverflow = errors.New("txn: compact-u16 overflow")

// writeCompactU16 writes the ledger's variable-length u16: seven bits per
// byte, high bit set on every byte except the last.
func writeCompactU16(buf *bytes.Buffer, n int) {
	v := uint16(n)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

func readCompactU16(r io.ByteReader) (int, error) {
	var v int
	for i := 0; i < 3; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		v |= int(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			if v > 0xffff {
				return 0, errShortVecOverflow
			}
			return v, nil
		}
	}
	return 0, errShortVecOverflow
}
