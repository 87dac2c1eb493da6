package session

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Credentials of the process on the other end of a unix socket.
type Credentials struct {
	Pid int32
	Uid uint32
	Gid uint32
}

func peerCredentials(conn *net.UnixConn) (Credentials, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return Credentials{}, err
	}

	var ucred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		ucred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return Credentials{}, err
	}
	if credErr != nil {
		return Credentials{}, fmt.Errorf("SO_PEERCRED: %w", credErr)
	}
	return Credentials{Pid: ucred.Pid, Uid: ucred.Uid, Gid: ucred.Gid}, nil
}
