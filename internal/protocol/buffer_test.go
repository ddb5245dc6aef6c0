package protocol_test

import (
	"errors"
	"testing"

	"github.com/blukai/nova/internal/protocol"
	"github.com/matryer/is"
)

func TestBuffer(t *testing.T) {
	is := is.New(t)

	buf := protocol.NewBuffer(8)
	is.Equal(buf.Cap(), 8)

	_, err := buf.Write([]byte{1, 2, 3, 4, 5})
	is.NoErr(err)
	is.Equal(buf.Len(), 5)
	is.Equal(buf.Free(), 3)

	t.Run("rewind", func(t *testing.T) {
		is := is.New(t)

		buf.Mark()
		p, err := buf.Next(3)
		is.NoErr(err)
		is.Equal(p, []byte{1, 2, 3})
		_, err = buf.Next(3)
		is.True(errors.Is(err, protocol.ErrShortBuffer))

		buf.Rewind()
		is.Equal(buf.Len(), 5)
		is.Equal(buf.Offset(), uint64(0))
	})

	t.Run("compact on write", func(t *testing.T) {
		is := is.New(t)

		buf.Skip(4)
		is.Equal(buf.Offset(), uint64(4))

		// 1 unread + 6 new only fits once consumed bytes are dropped
		_, err := buf.Write([]byte{6, 7, 8, 9, 10, 11})
		is.NoErr(err)
		is.Equal(buf.Bytes(), []byte{5, 6, 7, 8, 9, 10, 11})
		is.Equal(buf.Offset(), uint64(4))

		_, err = buf.Write([]byte{12, 13})
		is.True(errors.Is(err, protocol.ErrBufferFull))
		is.Equal(buf.Len(), 7) // nothing partially written
	})

	t.Run("read byte", func(t *testing.T) {
		is := is.New(t)

		c, err := buf.ReadByte()
		is.NoErr(err)
		is.Equal(c, byte(5))
		is.Equal(buf.Offset(), uint64(5))
	})
}

func TestWrap(t *testing.T) {
	is := is.New(t)

	buf := protocol.Wrap([]byte{1, 2})
	is.Equal(buf.Len(), 2)
	_, err := buf.Write([]byte{3})
	is.True(errors.Is(err, protocol.ErrBufferFull))
}
