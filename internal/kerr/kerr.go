// Package kerr defines the small error taxonomy shared by every kernel
// subsystem. It follows the biscuit/xv6 idiom of a negative-errno style
// enum (biscuit's defs.Err_t) but implements the standard error
// interface so callers can use errors.Is against the sentinel values
// instead of comparing raw ints.
package kerr

import "fmt"

// Errno is one of the taxonomy values below. The zero value means "no
// error" and must never be returned wrapped.
type Errno int

const (
	// OutOfMemory is returned by the allocator/VMM on exhaustion.
	OutOfMemory Errno = -(iota + 1)
	// InvalidArgument marks unaligned addresses, bad fds, negative
	// lengths, or oversized names.
	InvalidArgument
	// NotFound marks an unknown filename, missing mapping, or a wait
	// with no child to reap.
	NotFound
	// AlreadyExists marks creation of a name already in use.
	AlreadyExists
	// IoError marks a non-zero status reported by the block device.
	IoError
	// Unsupported marks an unknown syscall number.
	Unsupported
	// Panic marks a violated kernel invariant; callers that receive
	// this are expected to halt rather than continue.
	Panic
)

var names = map[Errno]string{
	OutOfMemory:      "out of memory",
	InvalidArgument:  "invalid argument",
	NotFound:         "not found",
	AlreadyExists:    "already exists",
	IoError:          "i/o error",
	Unsupported:      "unsupported",
	Panic:            "kernel invariant violated",
}

// Error implements the error interface.
func (e Errno) Error() string {
	if s, ok := names[e]; ok {
		return s
	}
	return fmt.Sprintf("kerr: unknown errno %d", int(e))
}

// ABI collapses any error into the stable -1 userspace ABI return spec'd
// for the syscall surface. A nil error maps to 0. This is the single
// point where the kerr taxonomy is discarded in favor of the flat
// "-1 on any failure" contract; internal code must never perform this
// collapse itself.
func ABI(err error) int64 {
	if err == nil {
		return 0
	}
	return -1
}
