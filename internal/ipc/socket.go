package ipc

import (
	"fmt"
	"net"
	"os"
)

// PeerCredentials holds the credentials of a peer process
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// VerifyPeer accepts only processes running as the daemon's own user.
func VerifyPeer(conn net.Conn) (*PeerCredentials, error) {
	cred, err := GetPeerCredentials(conn)
	if err != nil {
		return nil, err
	}
	if cred.UID != os.Getuid() {
		return nil, fmt.Errorf("peer pid %d runs as uid %d, want %d", cred.PID, cred.UID, os.Getuid())
	}
	return cred, nil
}

// CleanupSocket removes a stale socket file
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}

	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening checks if a socket is already listening
func IsSocketListening(path string) bool {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
