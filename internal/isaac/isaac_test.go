package isaac_test

import (
	"testing"

	"github.com/blukai/nova/internal/isaac"
	"github.com/matryer/is"
)

func TestLockstep(t *testing.T) {
	is := is.New(t)

	seed := []uint32{0xdeadbeef, 42, 7, 0x12345678}
	a := isaac.New(seed)
	b := isaac.New(seed)

	distinct := make(map[uint32]struct{})
	for i := 0; i < 1000; i++ {
		va, vb := a.Next(), b.Next()
		is.Equal(va, vb)
		distinct[va] = struct{}{}
	}
	// crosses several refills and is not stuck on a value
	is.True(len(distinct) > 900)
}

func TestSeedMatters(t *testing.T) {
	is := is.New(t)

	seed := []uint32{1, 2, 3, 4}
	a := isaac.New(seed)
	b := isaac.New(isaac.Offset(seed, 50))

	same := 0
	for i := 0; i < 256; i++ {
		if a.Next() == b.Next() {
			same++
		}
	}
	is.True(same < 4)
}

func TestOffset(t *testing.T) {
	is := is.New(t)

	seed := []uint32{1, 0xffffffff}
	is.Equal(isaac.Offset(seed, 50), []uint32{51, 49})
	is.Equal(seed, []uint32{1, 0xffffffff}) // not modified
}

// Reference output for an all zero seed, from the second block the
// generator produces. Next hands out each block from its end.
func TestKnownAnswer(t *testing.T) {
	is := is.New(t)

	c := isaac.New(nil)
	for i := 0; i < 256; i++ {
		c.Next()
	}
	block := make([]uint32, 256)
	for i := range block {
		block[255-i] = c.Next()
	}

	is.Equal(block[0], uint32(0xf650e4c8))
	is.Equal(block[1], uint32(0xe448e96d))
	is.Equal(block[2], uint32(0x98db2fb4))
}
