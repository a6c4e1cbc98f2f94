//go:build !giouring
// +build !giouring

package ring

import "golang.org/x/sys/unix"

// waitForByte blocks until one byte is available on fd, using a plain
// blocking read. Overridden by an io_uring-polled variant under
// -tags giouring (see wait_uring.go).
func waitForByte(fd int) error {
	buf := make([]byte, 1)
	_, err := unix.Read(fd, buf)
	return err
}
