package evloop

import (
	"bytes"
	"runtime"
	"strconv"
)

// gid extracts the current goroutine id from the stack header. only used to
// back the InLoop assertion, never for control flow.
func gid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// header is of the form "goroutine 123 [running]:".
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}

	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}

	return id
}
