package byteorder

import (
	"encoding/binary"
)

// https://linux.die.net/man/3/ntohs
// https://github.com/vishvananda/netlink/blob/e5fd1f8193dee65ec93fafde8faf67e32a34692a/order.go

// h = host, n = network, s = short (16 bit). wider and odd widths go
// through PutUint/Uint.

func Htons(val uint16) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, val)
	return buf
}

func Ntohs(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf)
}

// PutUint writes the low len(buf) bytes of val into buf in network order.
// len(buf) can be anything from 1 to 8, which covers odd widths like 24 bit
// that encoding/binary has no helpers for.
func PutUint(buf []byte, val uint64) {
	for i := len(buf) - 1; i >= 0; i-- {
		buf[i] = byte(val)
		val >>= 8
	}
}

// Uint is the inverse of PutUint.
func Uint(buf []byte) uint64 {
	var val uint64
	for _, b := range buf {
		val = val<<8 | uint64(b)
	}
	return val
}

// Reverse flips buf in place, turning network order into little endian and
// back.
func Reverse(buf []byte) {
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
}

// SwapHalves turns b0 b1 b2 b3 into b2 b3 b0 b1 ("middle endian"). buf must
// be 4 bytes long.
func SwapHalves(buf []byte) {
	_ = buf[3]
	buf[0], buf[1], buf[2], buf[3] = buf[2], buf[3], buf[0], buf[1]
}

// SwapWithinHalves turns b0 b1 b2 b3 into b1 b0 b3 b2 ("inverse middle
// endian"). buf must be 4 bytes long.
func SwapWithinHalves(buf []byte) {
	_ = buf[3]
	buf[0], buf[1], buf[2], buf[3] = buf[1], buf[0], buf[3], buf[2]
}
