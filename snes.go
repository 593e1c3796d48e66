package romlib

import "io"

const (
	// SNES is the platform identifier of the Super Nintendo
	SNES = "SNES"

	snesHeaderSize = 512
)

// Copier devices prepend a 512 byte header, real ROM data is always a
// multiple of 1 KiB
func snesHeader(_ io.Reader, size uint64) (uint64, error) {
	if size > snesHeaderSize && size%1024 == snesHeaderSize {
		return snesHeaderSize, nil
	}
	return 0, nil
}
