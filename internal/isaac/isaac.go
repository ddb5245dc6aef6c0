// Package isaac implements Bob Jenkins' ISAAC generator, used as the
// keystream that offsets opcodes on the wire.
//
// https://burtleburtle.net/bob/rand/isaacafa.html
package isaac

const (
	sizeLog = 8
	size    = 1 << sizeLog
	golden  = 0x9e3779b9
)

// Cipher is not safe for concurrent use. Each direction of a connection owns
// its own instance and advances it strictly in frame order.
type Cipher struct {
	rsl   [size]uint32
	mem   [size]uint32
	a     uint32
	b     uint32
	c     uint32
	count int
}

// New seeds a generator. Only the first 256 words of seed are used; missing
// words are zero.
func New(seed []uint32) *Cipher {
	c := &Cipher{}
	copy(c.rsl[:], seed)
	c.init()
	return c
}

// Offset returns a copy of seed with n added to every word. Peers derive the
// server-to-client seed from the client-to-server one this way.
func Offset(seed []uint32, n uint32) []uint32 {
	out := make([]uint32, len(seed))
	for i, v := range seed {
		out[i] = v + n
	}
	return out
}

// Next returns the next value of the sequence.
func (c *Cipher) Next() uint32 {
	if c.count == 0 {
		c.generate()
		c.count = size
	}
	c.count--
	return c.rsl[c.count]
}

func (c *Cipher) generate() {
	c.c++
	c.b += c.c
	for i := 0; i < size; i++ {
		x := c.mem[i]
		switch i & 3 {
		case 0:
			c.a ^= c.a << 13
		case 1:
			c.a ^= c.a >> 6
		case 2:
			c.a ^= c.a << 2
		case 3:
			c.a ^= c.a >> 16
		}
		c.a += c.mem[(i+size/2)&(size-1)]
		y := c.mem[(x>>2)&(size-1)] + c.a + c.b
		c.mem[i] = y
		c.b = c.mem[(y>>(sizeLog+2))&(size-1)] + x
		c.rsl[i] = c.b
	}
}

func mix(s *[8]uint32) {
	s[0] ^= s[1] << 11
	s[3] += s[0]
	s[1] += s[2]
	s[1] ^= s[2] >> 2
	s[4] += s[1]
	s[2] += s[3]
	s[2] ^= s[3] << 8
	s[5] += s[2]
	s[3] += s[4]
	s[3] ^= s[4] >> 16
	s[6] += s[3]
	s[4] += s[5]
	s[4] ^= s[5] << 10
	s[7] += s[4]
	s[5] += s[6]
	s[5] ^= s[6] >> 4
	s[0] += s[5]
	s[6] += s[7]
	s[6] ^= s[7] << 8
	s[1] += s[6]
	s[7] += s[0]
	s[7] ^= s[0] >> 9
	s[2] += s[7]
	s[0] += s[1]
}

func (c *Cipher) init() {
	s := [8]uint32{golden, golden, golden, golden, golden, golden, golden, golden}
	for i := 0; i < 4; i++ {
		mix(&s)
	}

	// two passes so that every seed word affects every memory word
	for pass := 0; pass < 2; pass++ {
		src := &c.rsl
		if pass == 1 {
			src = &c.mem
		}
		for i := 0; i < size; i += 8 {
			for j := range s {
				s[j] += src[i+j]
			}
			mix(&s)
			copy(c.mem[i:i+8], s[:])
		}
	}

	c.generate()
	c.count = size
}
