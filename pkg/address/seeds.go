package address

import "encoding/binary"

// U64Seed encodes v as an 8-byte little-endian seed
func U64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// StringSeed returns the UTF-8 bytes of a literal tag seed
func StringSeed(s string) []byte {
	return []byte(s)
}

// Seeds collects seed parts into the slice form the deriver takes
func Seeds(parts ...[]byte) [][]byte {
	return parts
}
