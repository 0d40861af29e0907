// Package wire provides small, panic-free helpers for pulling fixed-width
// little- and big-endian integers, NUL-terminated strings, single bytes and
// byte ranges out of a byte slice. Variable-width integers are not decoded
// here.
// Every reader returns ok=false on short input instead of panicking, so
// callers never need a recover to handle truncated payloads.
package wire

// U16LE reads a little-endian uint16 starting at offset off.
func U16LE(b []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return uint16(b[off]) | uint16(b[off+1])<<8, true
}

// U24LE reads a little-endian 24-bit unsigned integer starting at off.
func U24LE(b []byte, off int) (uint32, bool) {
	if off < 0 || off+3 > len(b) {
		return 0, false
	}
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16, true
}

// U32LE reads a little-endian uint32 starting at off.
func U32LE(b []byte, off int) (uint32, bool) {
	if off < 0 || off+4 > len(b) {
		return 0, false
	}
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24, true
}

// U64LE reads a little-endian uint64 starting at off.
func U64LE(b []byte, off int) (uint64, bool) {
	if off < 0 || off+8 > len(b) {
		return 0, false
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[off+i]) << (8 * i)
	}
	return v, true
}

// U16BE reads a big-endian uint16 starting at off (Dubbo/Kafka/Postgres
// framing is big-endian, unlike MySQL's little-endian header).
func U16BE(b []byte, off int) (uint16, bool) {
	if off < 0 || off+2 > len(b) {
		return 0, false
	}
	return uint16(b[off])<<8 | uint16(b[off+1]), true
}

// U32BE reads a big-endian uint32 starting at off.
func U32BE(b []byte, off int) (uint32, bool) {
	if off < 0 || off+4 > len(b) {
		return 0, false
	}
	return uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3]), true
}

// U64BE reads a big-endian uint64 starting at off.
func U64BE(b []byte, off int) (uint64, bool) {
	if off < 0 || off+8 > len(b) {
		return 0, false
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[off+i])
	}
	return v, true
}

// NulString reads an ASCII/UTF-8 string starting at off, terminated by a NUL
// byte. Returns the string (excluding the NUL), the offset of the NUL byte,
// and ok=false if no NUL is found before the end of b.
func NulString(b []byte, off int) (s string, nulPos int, ok bool) {
	if off < 0 || off > len(b) {
		return "", 0, false
	}
	for i := off; i < len(b); i++ {
		if b[i] == 0 {
			return string(b[off:i]), i, true
		}
	}
	return "", 0, false
}

// Byte reads a single byte at off.
func Byte(b []byte, off int) (byte, bool) {
	if off < 0 || off >= len(b) {
		return 0, false
	}
	return b[off], true
}

// Slice returns b[off:off+n], or ok=false if that range is out of bounds.
func Slice(b []byte, off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off+n > len(b) {
		return nil, false
	}
	return b[off : off+n], true
}
