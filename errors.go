package vfat

import (
	"errors"
	"syscall"
)

// These errors classify everything the volume can fail with.
// They are attached with checkpoint.Wrap, so errors.Is works for them and for
// the underlying cause.
var (
	// ErrInvalidVolume means the boot sector does not describe a FAT32 volume.
	ErrInvalidVolume = errors.New("not a valid FAT32 volume")
	// ErrCorruptChain means a cluster chain references a free, reserved, bad
	// or out of range cluster, or does not terminate.
	ErrCorruptChain = errors.New("corrupt cluster chain")
	// ErrChecksumMismatch is only logged. The short name is used instead.
	ErrChecksumMismatch = errors.New("long filename checksum mismatch")
	ErrNotFound         = errors.New("no such file or directory")
	ErrNotADirectory    = errors.New("not a directory")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrIO               = errors.New("device i/o error")
	ErrNoAttribute      = errors.New("no such attribute")
	ErrReadOnly         = errors.New("read-only file system")
)

// Errno translates an error of this package into the errno a filesystem host
// reports to the kernel. It returns 0 for nil.
func Errno(err error) syscall.Errno {
	var errno syscall.Errno

	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrInvalidArgument):
		return syscall.EINVAL
	case errors.Is(err, ErrNoAttribute):
		return syscall.ENODATA
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.As(err, &errno):
		return errno
	default:
		// ErrCorruptChain, ErrIO, ErrInvalidVolume and everything unknown.
		return syscall.EIO
	}
}
