//go:build !windows

package callback

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// disableAddressReuse clears SO_REUSEADDR before bind. Go's net package
// enables it by default on Unix listeners; for the login callback socket
// that would let another local process rebind the port the moment we
// release it, while stale redirects may still be in flight (RFC 8252 §B.5).
func disableAddressReuse(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 0)
	}); err != nil {
		return err
	}
	return sockErr
}
