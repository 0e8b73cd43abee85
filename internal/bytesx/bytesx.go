// Package bytesx provides byte unit constants.
package bytesx

const (
	KiB = 1 << 10
	MiB = 1 << 20
)
