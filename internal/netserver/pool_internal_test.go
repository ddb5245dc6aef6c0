package netserver

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/blukai/nova/internal/codec"
	"github.com/matryer/is"
)

func TestClientPool(t *testing.T) {
	is := is.New(t)

	p := NewClientPool()
	for i := 1; i <= 100; i++ {
		is.NoErr(p.Register(&Client{id: ConnID(i)}))
	}
	is.Equal(p.Len(), 100)
	is.True(p.Register(&Client{id: 42}) != nil)

	c, ok := p.Get(42)
	is.True(ok)
	is.Equal(c.id, ConnID(42))

	_, ok = p.Remove(42)
	is.True(ok)
	_, ok = p.Remove(42)
	is.True(!ok)
	_, ok = p.Get(42)
	is.True(!ok)

	is.Equal(p.Len(), 99)
	is.Equal(len(p.Snapshot()), 99)
}

func TestReasonLabel(t *testing.T) {
	is := is.New(t)

	is.Equal(reasonLabel(nil), "kicked")
	is.Equal(reasonLabel(ErrClosedByPeer), "closed")
	is.Equal(reasonLabel(io.EOF), "closed")
	is.Equal(reasonLabel(ErrServerShutdown), "shutdown")
	is.Equal(reasonLabel(ErrOutputOverflow), "overflow")
	is.Equal(reasonLabel(fmt.Errorf("%w: 9", codec.ErrUnknownOpcode)), "protocol")
	is.Equal(reasonLabel(errors.New("whatever")), "kicked")

	is.Equal(protocolErrorLabel(codec.ErrFrameMismatch), "frame_mismatch")
	is.Equal(protocolErrorLabel(errors.New("whatever")), "other")
}
