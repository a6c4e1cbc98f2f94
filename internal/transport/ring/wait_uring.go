//go:build giouring
// +build giouring

package ring

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	waiterOnce sync.Once
	waiter     *uringWaiter
	waiterErr  error
)

// waitForByte blocks until one byte is available on fd, submitted as
// an io_uring read SQE rather than a blocking syscall (see
// ring_uring.go). Falls back to a plain read if the io_uring instance
// could not be created.
func waitForByte(fd int) error {
	waiterOnce.Do(func() {
		waiter, waiterErr = newURingWaiter()
	})
	if waiterErr != nil {
		buf := make([]byte, 1)
		_, err := unix.Read(fd, buf)
		return err
	}
	return waiter.waitFd(fd)
}
