package netserver

import (
	"errors"
	"io"
	"net"

	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/protocol"
)

var (
	ErrClosedByPeer   = errors.New("netserver: closed by peer")
	ErrInputOverflow  = errors.New("netserver: input buffer overflow")
	ErrOutputOverflow = errors.New("netserver: output buffer overflow")
	ErrServerShutdown = errors.New("netserver: server shutdown")
	ErrClientClosed   = errors.New("netserver: client closed")
)

// reasonLabel buckets disconnect reasons for metrics.
func reasonLabel(reason error) string {
	switch {
	case reason == nil:
		return "kicked"
	case errors.Is(reason, ErrClosedByPeer), errors.Is(reason, io.EOF):
		return "closed"
	case errors.Is(reason, ErrServerShutdown):
		return "shutdown"
	case errors.Is(reason, ErrInputOverflow), errors.Is(reason, ErrOutputOverflow):
		return "overflow"
	case isProtocolError(reason):
		return "protocol"
	}
	var netErr net.Error
	if errors.As(reason, &netErr) {
		return "io"
	}
	return "kicked"
}

func isProtocolError(err error) bool {
	return errors.Is(err, codec.ErrUnknownOpcode) ||
		errors.Is(err, codec.ErrFrameMismatch) ||
		errors.Is(err, protocol.ErrUnterminatedString)
}

// protocolErrorLabel names the kind of a fatal decode error for metrics.
func protocolErrorLabel(err error) string {
	switch {
	case errors.Is(err, codec.ErrUnknownOpcode):
		return "unknown_opcode"
	case errors.Is(err, codec.ErrFrameMismatch):
		return "frame_mismatch"
	case errors.Is(err, protocol.ErrUnterminatedString):
		return "unterminated_string"
	}
	return "other"
}
