//go:build !linux

package netserver

import "net"

func listenConfig() net.ListenConfig {
	return net.ListenConfig{}
}
