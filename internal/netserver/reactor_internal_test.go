package netserver

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/event"
	"github.com/matryer/is"
)

func TestShutdownClosesUnpolledConns(t *testing.T) {
	is := is.New(t)

	r, err := NewReactor("tcp", "127.0.0.1:0", Options{Table: codec.NewTable()})
	is.NoErr(err)

	// accepted, but the reactor never got to poll it
	server, peer := net.Pipe()
	is.True(r.poller.post(nil, readiness{kind: event.KindAccept, conn: server}))

	is.NoErr(r.shutdown())

	_, err = peer.Read(make([]byte, 1))
	is.True(errors.Is(err, io.EOF))
}

func TestRequirementsFromConstruction(t *testing.T) {
	is := is.New(t)

	r, err := NewReactor("tcp", "127.0.0.1:0", Options{Table: codec.NewTable()})
	is.NoErr(err)
	defer r.listener.Close()

	for _, kind := range requiredKinds {
		is.True(r.events.RequiresEvent(kind))
	}
	is.True(!r.events.HasMetRequirements())

	r.RegisterDefaults()
	is.True(r.events.HasMetRequirements())
}
