//go:build linux

package reactor

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// createWakeupFd creates the eventfd used as the loop's wakeup doorbell,
// grounded on eventloop/wakeup_linux.go's createWakeFd.
func createWakeupFd() (int, error) {
	return unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
}

// writeWakeup writes the 8-byte counter increment an eventfd expects.
func writeWakeup(fd int) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}

// drainWakeup reads and discards the eventfd counter.
func drainWakeup(fd int) error {
	var buf [8]byte
	_, err := unix.Read(fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return err
	}
	return nil
}
