//go:build !linux

package session

import (
	"errors"
	"net"
)

type Credentials struct {
	Pid int32
	Uid uint32
	Gid uint32
}

func peerCredentials(conn *net.UnixConn) (Credentials, error) {
	return Credentials{}, errors.New("peer credentials not supported on this platform")
}
