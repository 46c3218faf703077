//go:build unix

package ledger

import (
	"errors"
	"os"
	"syscall"
)

// errWouldBlock marks a lock held by another process; the caller backs off
// and retries.
var errWouldBlock = errors.New("ledger lock held elsewhere")

// tryLock attempts a non-blocking exclusive flock on the open ledger file.
func tryLock(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if errors.Is(err, syscall.EWOULDBLOCK) {
		return errWouldBlock
	}
	return err
}

// releaseLock drops the flock. The lock also dies with the file descriptor,
// so a crashed holder cannot leave the ledger wedged.
func releaseLock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
