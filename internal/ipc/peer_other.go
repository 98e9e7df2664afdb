//go:build !linux

package ipc

import (
	"errors"
	"net"
)

// GetPeerCredentials is only implemented on Linux.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("peer credentials unsupported on this platform")
}
