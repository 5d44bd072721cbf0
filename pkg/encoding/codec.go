// Package encoding reads and writes the voting program's binary layout:
// little-endian fixed-width integers, u32-length-prefixed UTF-8 strings,
// single-byte booleans and 32-byte keys, each account and instruction
// prefixed by an 8-byte discriminator.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/yourusername/votesphere/pkg/address"
	"github.com/yourusername/votesphere/pkg/crypto"
)

// MaxStringLength bounds decoded strings so a corrupt length prefix cannot
// force a huge allocation.
const MaxStringLength = 10 * 1024

var (
	// ErrDiscriminator is returned when data does not start with the expected discriminator
	ErrDiscriminator = errors.New("encoding: discriminator mismatch")
	// ErrStringTooLong is returned when a string exceeds MaxStringLength
	ErrStringTooLong = errors.New("encoding: string too long")
	// ErrInvalidUTF8 is returned when a string field is not valid UTF-8
	ErrInvalidUTF8 = errors.New("encoding: invalid utf-8")
	// ErrInvalidBool is returned for a bool byte other than 0 or 1
	ErrInvalidBool = errors.New("encoding: invalid bool")
)

// Encoder writes the program layout
type Encoder struct {
	buf *bytes.Buffer
}

// NewEncoder creates a new encoder
func NewEncoder() *Encoder {
	return &Encoder{buf: new(bytes.Buffer)}
}

// Bytes returns the encoded bytes
func (e *Encoder) Bytes() []byte {
	return e.buf.Bytes()
}

// Reset clears the buffer
func (e *Encoder) Reset() {
	e.buf.Reset()
}

// WriteDiscriminator writes an 8-byte discriminator
func (e *Encoder) WriteDiscriminator(d crypto.Discriminator) {
	e.buf.Write(d[:])
}

// WriteBytes writes raw bytes
func (e *Encoder) WriteBytes(b []byte) {
	e.buf.Write(b)
}

// WriteU8 writes a single byte
func (e *Encoder) WriteU8(b uint8) {
	e.buf.WriteByte(b)
}

// WriteBool writes 1 for true and 0 for false
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf.WriteByte(1)
		return
	}
	e.buf.WriteByte(0)
}

// WriteU32 writes a 32-bit little-endian integer
func (e *Encoder) WriteU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

// WriteU64 writes a 64-bit little-endian integer
func (e *Encoder) WriteU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// WriteString writes a u32 length prefix followed by the UTF-8 bytes
func (e *Encoder) WriteString(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	if len(s) > MaxStringLength {
		return fmt.Errorf("%w: %d > %d", ErrStringTooLong, len(s), MaxStringLength)
	}
	e.WriteU32(uint32(len(s)))
	e.buf.WriteString(s)
	return nil
}

// WriteKey writes a 32-byte address
func (e *Encoder) WriteKey(a address.Address) {
	e.buf.Write(a[:])
}

// Decoder reads the program layout. The first failure is kept and every
// later read becomes a no-op returning a zero value.
type Decoder struct {
	r   *bytes.Reader
	err error
}

// NewDecoder creates a new decoder
func NewDecoder(data []byte) *Decoder {
	return &Decoder{r: bytes.NewReader(data)}
}

// Error returns any accumulated error
func (d *Decoder) Error() error {
	return d.err
}

// Remaining returns the number of unread bytes
func (d *Decoder) Remaining() int {
	return d.r.Len()
}

// ExpectDiscriminator consumes 8 bytes and fails unless they equal want
func (d *Decoder) ExpectDiscriminator(want crypto.Discriminator) {
	got := d.ReadBytes(crypto.DiscriminatorSize)
	if d.err != nil {
		return
	}
	if !bytes.Equal(got, want[:]) {
		d.err = fmt.Errorf("%w: got %x, want %x", ErrDiscriminator, got, want[:])
	}
}

// ReadBytes reads n bytes
func (d *Decoder) ReadBytes(n int) []byte {
	if d.err != nil {
		return nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = err
		return nil
	}
	return b
}

// ReadU8 reads a single byte
func (d *Decoder) ReadU8() uint8 {
	if d.err != nil {
		return 0
	}
	b, err := d.r.ReadByte()
	if err != nil {
		d.err = io.ErrUnexpectedEOF
		return 0
	}
	return b
}

// ReadBool reads a single-byte boolean
func (d *Decoder) ReadBool() bool {
	b := d.ReadU8()
	if d.err != nil {
		return false
	}
	switch b {
	case 0:
		return false
	case 1:
		return true
	default:
		d.err = fmt.Errorf("%w: %d", ErrInvalidBool, b)
		return false
	}
}

// ReadU32 reads a 32-bit little-endian integer
func (d *Decoder) ReadU32() uint32 {
	b := d.ReadBytes(4)
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// ReadU64 reads a 64-bit little-endian integer
func (d *Decoder) ReadU64() uint64 {
	b := d.ReadBytes(8)
	if d.err != nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// ReadString reads a u32-length-prefixed UTF-8 string
func (d *Decoder) ReadString() string {
	n := d.ReadU32()
	if d.err != nil {
		return ""
	}
	if n > MaxStringLength {
		d.err = fmt.Errorf("%w: %d > %d", ErrStringTooLong, n, MaxStringLength)
		return ""
	}
	b := d.ReadBytes(int(n))
	if d.err != nil {
		return ""
	}
	if !utf8.Valid(b) {
		d.err = ErrInvalidUTF8
		return ""
	}
	return string(b)
}

// ReadKey reads a 32-byte address
func (d *Decoder) ReadKey() address.Address {
	var a address.Address
	b := d.ReadBytes(address.Size)
	if d.err != nil {
		return a
	}
	copy(a[:], b)
	return a
}
