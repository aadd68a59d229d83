//go:build !linux

package socketcan

import "errors"

// ErrTxOverflow is provided for non-linux builds so bridge code can compile.
var ErrTxOverflow = errors.New("socketcan tx overflow (stub)")

// ErrFDOnClassic mirrors the linux sentinel for cross-platform callers.
var ErrFDOnClassic = errors.New("socketcan: fd frame on classic device (stub)")
