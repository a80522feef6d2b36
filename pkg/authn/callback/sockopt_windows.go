//go:build windows

package callback

import "syscall"

// disableAddressReuse is a no-op on Windows: the runtime does not set
// SO_REUSEADDR there, and Windows sockets reject concurrent binds by
// default, which is the behavior we want.
func disableAddressReuse(_, _ string, _ syscall.RawConn) error {
	return nil
}
