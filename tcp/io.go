package tcp

import (
	"errors"

	"golang.org/x/sys/unix"
)

// writeFd issues a single write(2), retrying only on EINTR (which commits no
// bytes and so cannot desync the caller's accounting). Unlike a loop that
// re-issues write(2) until the buffer is exhausted, this makes n and err
// always consistent with each other: a non-nil err (e.g. EAGAIN hit on a
// socket send buffer that is already full) always comes with n == 0, so a
// caller never has to reconcile "some bytes went out, then the call failed"
// from a single writeFd result. This matches the source's single ::write()
// call per readiness notification.
func writeFd(fd int, data []byte) (int, error) {
	for {
		n, err := unix.Write(fd, data)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return 0, err
		}
		return n, nil
	}
}

func isEAGAIN(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}

func closeRawFd(fd int) error { return unix.Close(fd) }
